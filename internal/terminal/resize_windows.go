//go:build windows

package terminal

// watchResize is a no-op on Windows, which has no SIGWINCH.
func watchResize(done <-chan struct{}, fn func()) (stop func()) {
	return func() {}
}
