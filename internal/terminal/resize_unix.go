//go:build !windows

package terminal

import (
	"os"
	"os/signal"
	"sync"
	"syscall"
)

// watchResize calls fn on every SIGWINCH until done is closed.
func watchResize(done <-chan struct{}, fn func()) (stop func()) {
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGWINCH)
	quit := make(chan struct{})
	go func() {
		for {
			select {
			case <-sig:
				fn()
			case <-done:
				return
			case <-quit:
				return
			}
		}
	}()
	var once sync.Once
	return func() {
		once.Do(func() {
			signal.Stop(sig)
			close(quit)
		})
	}
}
