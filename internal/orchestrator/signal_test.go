package orchestrator

import (
	"os"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestSignalMonitor_SingleSignalDoesNotHardExit(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())
	resetSignalStateForTest()

	m := NewSignalMonitor()
	defer m.Stop()

	fired := make(chan struct{}, 1)
	m.onFourth = func() { fired <- struct{}{} }

	require.NoError(t, syscall.Kill(os.Getpid(), syscall.SIGTERM))

	require.Eventually(t, func() bool { return m.NumSignals() >= 1 }, time.Second, time.Millisecond)
	require.True(t, m.ReceivedSigterm())

	select {
	case <-fired:
		t.Fatal("hard exit fired after only one signal")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestSignalMonitor_FourthSignalHardExits(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())
	resetSignalStateForTest()

	m := NewSignalMonitor()
	defer m.Stop()

	fired := make(chan struct{}, 1)
	m.onFourth = func() { fired <- struct{}{} }

	for i := 0; i < 4; i++ {
		require.NoError(t, syscall.Kill(os.Getpid(), syscall.SIGTERM))
		time.Sleep(5 * time.Millisecond)
	}

	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatal("expected hard exit after fourth signal")
	}
}

func TestInterruptCallback_RequiresMoreThanOneSignalAfterInitDone(t *testing.T) {
	resetSignalStateForTest()
	defer resetSignalStateForTest()

	require.False(t, InterruptCallback())

	receivedSignals.Store(1)
	MarkTranscodeInitDone()
	require.False(t, InterruptCallback()) // one signal after init-done: not yet interrupting

	receivedSignals.Store(2)
	require.True(t, InterruptCallback())
}
