package orchestrator

import (
	"os"
	"sync"

	"golang.org/x/term"
)

// ttyState is the raw pointer to static storage the DESIGN NOTES require
// stay process-global: term_init writes it once, and both the normal
// cleanup path and a signal-driven abort path may call Restore.
var (
	ttyMu    sync.Mutex
	ttyFD    int
	ttyState *term.State
)

// TerminalControl puts stdin into raw/no-echo mode when it is a TTY and
// interaction is enabled, and restores it on Restore. Restore is idempotent
// and safe to call from both normal and signal-driven exit paths.
type TerminalControl struct {
	fd       int
	enabled  bool
	restored bool
	keys     chan byte
}

// NewTerminalControl switches fd to raw mode if it is a terminal and
// interactive is true; otherwise it is a no-op shell satisfying the same
// interface so callers never need to branch.
func NewTerminalControl(fd int, interactive bool) (*TerminalControl, error) {
	tc := &TerminalControl{fd: fd}
	if !interactive || !term.IsTerminal(fd) {
		return tc, nil
	}

	state, err := term.MakeRaw(fd)
	if err != nil {
		return nil, err
	}

	ttyMu.Lock()
	ttyFD = fd
	ttyState = state
	ttyMu.Unlock()

	tc.enabled = true
	tc.keys = make(chan byte, 16)
	go tc.readKeys()
	return tc, nil
}

// readKeys copies stdin bytes into a buffered channel so PollQuit can check
// for a pending hot key without blocking the main loop. It runs until the
// raw-mode fd returns an error (typically when the process exits and stdin
// closes underneath it).
func (tc *TerminalControl) readKeys() {
	f := os.NewFile(uintptr(tc.fd), "tty")
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
		case tc.keys <- buf[0]:
		default: // drop the key rather than block the reader
		}
	}
}

// PollQuit reports whether 'q' has been pressed since the last call,
// draining (and discarding) any other buffered hot keys along the way.
// Only graceful stop is wired here; the rest of the original key table
// (cycle debug level, dump stream stats, etc.) has no component behind it
// yet.
func (tc *TerminalControl) PollQuit() bool {
	if !tc.enabled {
		return false
	}
	quit := false
	for {
		select {
		case k := <-tc.keys:
			if k == 'q' || k == 'Q' {
				quit = true
			}
		default:
			return quit
		}
	}
}

// Enabled reports whether raw mode is active (i.e. stdin is an interactive
// TTY).
func (tc *TerminalControl) Enabled() bool { return tc.enabled }

// Restore puts the terminal back into its original mode. Safe to call
// multiple times, and safe to call from the signal-safe cleanup path.
func (tc *TerminalControl) Restore() error {
	ttyMu.Lock()
	defer ttyMu.Unlock()

	if tc.restored || ttyState == nil {
		return nil
	}
	err := term.Restore(ttyFD, ttyState)
	ttyState = nil
	tc.restored = true
	return err
}
