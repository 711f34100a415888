package main

import (
	"context"
	"os"

	"golang.org/x/term"
)

const (
	keyCtrlC  = 0x03
	keyEscape = 0x1b
)

// readKeys puts f into raw mode and forwards single key presses until ctx is
// done. The returned function restores the terminal.
func readKeys(ctx context.Context, f *os.File) (<-chan byte, func(), error) {
	fd := int(f.Fd())
	state, err := term.MakeRaw(fd)
	if err != nil {
		return nil, nil, err
	}

	keys := make(chan byte)
	go func() {
		defer close(keys)
		buf := make([]byte, 1)
		for {
			n, err := f.Read(buf)
			if err != nil {
				return
			}
			if n == 0 {
				continue
			}
			select {
			case keys <- buf[0]:
			case <-ctx.Done():
				return
			}
		}
	}()
	return keys, func() { _ = term.Restore(fd, state) }, nil
}
