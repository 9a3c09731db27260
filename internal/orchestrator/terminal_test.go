package orchestrator

import (
	"os"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTerminalControl_NonTTYIsNoOp(t *testing.T) {
	f, err := os.CreateTemp(t.TempDir(), "not-a-tty")
	require.NoError(t, err)
	defer f.Close()

	tc, err := NewTerminalControl(int(f.Fd()), true)
	require.NoError(t, err)
	require.False(t, tc.Enabled())
	require.NoError(t, tc.Restore())
	require.NoError(t, tc.Restore())
}

func TestTerminalControl_DisabledWhenNotInteractive(t *testing.T) {
	tc, err := NewTerminalControl(int(os.Stdin.Fd()), false)
	require.NoError(t, err)
	require.False(t, tc.Enabled())
	require.False(t, tc.PollQuit())
}

func TestTerminalControl_PollQuit_DetectsQueuedQ(t *testing.T) {
	tc := &TerminalControl{enabled: true, keys: make(chan byte, 4)}
	tc.keys <- 'x'
	tc.keys <- 'q'
	require.True(t, tc.PollQuit())

	tc.keys <- 'x'
	require.False(t, tc.PollQuit())
}
