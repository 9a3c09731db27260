package ffprocess

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func TestRunner_StartAndStop(t *testing.T) {
	r := New(zerolog.New(io.Discard), "sleep", []string{"5"})
	require.NoError(t, r.Start(context.Background()))

	require.NoError(t, r.Stop(2*time.Second))
	require.NoError(t, r.Err())
}

func TestRunner_PauseResumeBeforeStop(t *testing.T) {
	r := New(zerolog.New(io.Discard), "sleep", []string{"2"})
	require.NoError(t, r.Start(context.Background()))

	require.NoError(t, r.Pause())
	require.NoError(t, r.Resume())
	require.NoError(t, r.Stop(2*time.Second))
}

func TestRunner_GetPacketNonBlockingWithoutOutput(t *testing.T) {
	r := New(zerolog.New(io.Discard), "sleep", []string{"2"})
	require.NoError(t, r.Start(context.Background()))
	defer r.Stop(time.Second)

	done := make(chan struct{})
	go func() {
		r.GetPacket(context.Background())
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("GetPacket blocked despite no available output")
	}
}
