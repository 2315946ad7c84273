// terminal_host.go - Host terminal bridge for the guest serial console
//
// Maps a 16550-style UART data/status pair onto the host terminal: guest
// writes to the data port appear on stdout, host keystrokes are buffered
// for guest reads. The terminal is switched to raw mode while attached so
// the guest sees individual keystrokes.
//
// (c) 2024-2026 Zayn Otley - GPLv3 or later

package main

import (
	"os"
	"sync"

	"golang.org/x/term"
)

const (
	com1Data   = 0x3F8
	com1Status = 0x3FD

	// Line status bits the guest polls.
	lsrDataReady    = 0x01
	lsrTxHoldEmpty  = 0x20
	lsrTxShiftEmpty = 0x40
)

// TerminalHost feeds host keyboard input to the guest UART and guest output
// to stdout.
type TerminalHost struct {
	mu       sync.Mutex
	input    []byte
	oldState *term.State
	stop     chan struct{}
	done     chan struct{}
	attached bool
}

func NewTerminalHost() *TerminalHost {
	return &TerminalHost{}
}

// Attach switches the terminal to raw mode, starts the keyboard reader and
// maps the UART ports on the bus.
func (t *TerminalHost) Attach(bus *FlatBus) error {
	fd := int(os.Stdin.Fd())
	if term.IsTerminal(fd) {
		old, err := term.MakeRaw(fd)
		if err != nil {
			return err
		}
		t.oldState = old
	}
	t.stop = make(chan struct{})
	t.done = make(chan struct{})
	t.attached = true
	go t.readLoop()

	bus.MapPort(com1Data, PortHandler{
		In:  func(size int) uint32 { return uint32(t.readByte()) },
		Out: func(size int, v uint32) { t.writeByte(uint8(v)) },
	})
	bus.MapPort(com1Status, PortHandler{
		In: func(size int) uint32 {
			status := uint32(lsrTxHoldEmpty | lsrTxShiftEmpty)
			t.mu.Lock()
			if len(t.input) > 0 {
				status |= lsrDataReady
			}
			t.mu.Unlock()
			return status
		},
	})
	return nil
}

// Detach restores the terminal and stops the reader.
func (t *TerminalHost) Detach() {
	if !t.attached {
		return
	}
	t.attached = false
	close(t.stop)
	if t.oldState != nil {
		_ = term.Restore(int(os.Stdin.Fd()), t.oldState)
		t.oldState = nil
	}
}

func (t *TerminalHost) readLoop() {
	defer close(t.done)
	var buf [1]byte
	for {
		select {
		case <-t.stop:
			return
		default:
		}
		n, err := os.Stdin.Read(buf[:])
		if err != nil || n == 0 {
			return
		}
		b := buf[0]
		switch b {
		case '\r':
			b = '\n' // CR from raw terminal becomes LF for the guest
		case 0x7F:
			b = 0x08 // DEL becomes backspace
		}
		t.mu.Lock()
		t.input = append(t.input, b)
		t.mu.Unlock()
	}
}

// readByte pops one buffered keystroke, or 0 when none is pending (guests
// poll the status port first).
func (t *TerminalHost) readByte() uint8 {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.input) == 0 {
		return 0
	}
	b := t.input[0]
	t.input = t.input[1:]
	return b
}

func (t *TerminalHost) writeByte(b uint8) {
	if b == '\n' {
		os.Stdout.Write([]byte{'\r', '\n'})
		return
	}
	os.Stdout.Write([]byte{b})
}
