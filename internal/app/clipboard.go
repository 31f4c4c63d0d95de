package app

import "github.com/atotto/clipboard"

// Clipboard is the optional system clipboard capability.
type Clipboard interface {
	ReadAll() (string, error)
	WriteAll(text string) error
}

type systemClipboard struct{}

func (systemClipboard) ReadAll() (string, error) { return clipboard.ReadAll() }

func (systemClipboard) WriteAll(text string) error { return clipboard.WriteAll(text) }

// ProbeClipboard returns the system clipboard, or nil when no clipboard
// utility is available on this host.
func ProbeClipboard() Clipboard {
	if clipboard.Unsupported {
		return nil
	}
	return systemClipboard{}
}
