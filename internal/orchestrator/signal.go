package orchestrator

import (
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"

	"golang.org/x/term"
)

// SignalMonitor tracks termination signals and exposes the interrupt
// predicate blocking collaborators consult. Two fields must remain
// process-global because they are touched from signal-handling context:
// receivedSignals and transcodeInitDone. They are package-level atomics
// rather than struct fields reached through a pointer so a signal handler
// never has to dereference anything beyond what the runtime already
// guarantees is safe.
type SignalMonitor struct {
	ch       chan os.Signal
	stopOnce sync.Once

	onFourth func() // normally hardExit; overridable in tests
}

var (
	receivedSignals    atomic.Int32
	lastSignalNumber   atomic.Int32
	transcodeInitDone  atomic.Int32
)

// NewSignalMonitor installs handlers for SIGINT, SIGTERM and (on TTYs)
// SIGQUIT. The monitoring goroutine only counts each signal with an atomic
// increment and performs the hard exit on the fourth; nothing is logged on
// the signal-delivery path.
func NewSignalMonitor() *SignalMonitor {
	receivedSignals.Store(0)
	lastSignalNumber.Store(0)
	transcodeInitDone.Store(0)

	m := &SignalMonitor{
		ch:       make(chan os.Signal, 8),
		onFourth: hardExit,
	}
	sigs := []os.Signal{os.Interrupt, syscall.SIGTERM}
	if term.IsTerminal(int(os.Stdin.Fd())) {
		sigs = append(sigs, syscall.SIGQUIT)
	}
	signal.Notify(m.ch, sigs...)
	go m.watch()
	return m
}

func (m *SignalMonitor) watch() {
	for sig := range m.ch {
		n := receivedSignals.Add(1)
		if s, ok := sig.(syscall.Signal); ok {
			lastSignalNumber.Store(int32(s))
		}
		if n >= 4 {
			m.onFourth()
			return
		}
	}
}

// hardExit runs on the fourth signal: write a fixed string to stderr and
// hard-exit with code 123.
func hardExit() {
	os.Stderr.WriteString("Received 4 signals, hard exiting.\n")
	os.Exit(ExitHardSignalKill)
}

// Stop releases the signal channel and closes it, which ends the monitoring
// goroutine. Idempotent.
func (m *SignalMonitor) Stop() {
	m.stopOnce.Do(func() {
		signal.Stop(m.ch)
		close(m.ch)
	})
}

// ReceivedSigterm reports whether at least one termination signal has
// arrived. The main loop polls this at each iteration boundary.
func (m *SignalMonitor) ReceivedSigterm() bool {
	return receivedSignals.Load() > 0
}

// NumSignals returns the count of signals observed so far.
func (m *SignalMonitor) NumSignals() int {
	return int(receivedSignals.Load())
}

// MarkTranscodeInitDone flips the atomic the interrupt predicate consults.
// After this, it takes more than one signal to interrupt blocking
// collaborator I/O.
func MarkTranscodeInitDone() {
	transcodeInitDone.Store(1)
}

// InterruptCallback is the plain function+context pair handed to
// collaborators at construction, deliberately capturing no environment. It
// reads atomics only.
func InterruptCallback() bool {
	return receivedSignals.Load() > transcodeInitDone.Load()
}

// resetSignalStateForTest restores package-level signal atomics; it exists
// only so package tests can run in isolation from each other.
func resetSignalStateForTest() {
	receivedSignals.Store(0)
	lastSignalNumber.Store(0)
	transcodeInitDone.Store(0)
}
