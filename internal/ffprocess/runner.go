// Package ffprocess is the real-world Demuxer backend (it has no Muxer
// implementation): it spawns an ffmpeg-compatible subprocess, frames its
// stdout into packets, logs its stderr lines, and manages the process lifecycle with
// SIGCONT/SIGSTOP for backpressure and SIGTERM/SIGKILL for shutdown. It is
// adapted from go-vod's per-quality stream runner; the ABR/HTTP-serving half
// it also carried has no role on this side of the collaborator boundary and
// was not brought over.
package ffprocess

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/praetorian-labs/ffcore/internal/orchestrator"
)

// Runner drives one ffmpeg subprocess as a Demuxer. Packets are framed by a
// newline-terminated length-prefixed protocol on stdout (`size\n` followed
// by size raw bytes); stderr lines are logged at debug level, the way
// go-vod's monitorStderr read them, and nothing is parsed out of them.
type Runner struct {
	log zerolog.Logger

	path string
	args []string

	mu      sync.Mutex
	cmd     *exec.Cmd
	stdout  io.ReadCloser
	stderr  io.ReadCloser
	started bool
	stopped bool

	packets chan framedPacket
	errc    chan error
	done    chan struct{}
}

type framedPacket struct {
	pkt orchestrator.Packet
	err error
}

// New builds a Runner for the given ffmpeg-compatible executable and
// arguments. It does not start the process; call Start.
func New(log zerolog.Logger, path string, args []string) *Runner {
	return &Runner{
		log:     log,
		path:    path,
		args:    args,
		packets: make(chan framedPacket, 16),
		errc:    make(chan error, 1),
		done:    make(chan struct{}),
	}
}

// Start launches the subprocess and its stdout/stderr monitor goroutines,
// mirroring go-vod's transcode()/monitorTranscodeOutput/monitorStderr trio.
func (r *Runner) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.started {
		return fmt.Errorf("ffprocess: already started")
	}

	cmd := exec.CommandContext(ctx, r.path, r.args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("ffprocess: stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("ffprocess: stderr pipe: %w", err)
	}

	r.log.Info().Str("path", r.path).Strs("args", r.args).Msg("starting ffmpeg process")

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("ffprocess: start: %w", err)
	}

	r.cmd = cmd
	r.stdout = stdout
	r.stderr = stderr
	r.started = true

	go r.readPackets(stdout)
	go r.readStderr(stderr)
	go r.waitExit()

	return nil
}

// GetPacket implements orchestrator.Demuxer by draining the frame channel.
// It never blocks past ctx's cancellation and returns PullAgain if no
// packet is ready yet without blocking the caller's scheduling round.
func (r *Runner) GetPacket(ctx context.Context) (*orchestrator.Packet, orchestrator.PullSignal, error) {
	select {
	case fp, ok := <-r.packets:
		if !ok {
			return nil, orchestrator.PullEOF, nil
		}
		if fp.err != nil {
			return nil, orchestrator.PullEOF, fp.err
		}
		pkt := fp.pkt
		return &pkt, orchestrator.PullOK, nil
	case <-ctx.Done():
		return nil, orchestrator.PullAgain, nil
	default:
		return nil, orchestrator.PullAgain, nil
	}
}

func (r *Runner) readPackets(stdout io.ReadCloser) {
	defer close(r.packets)
	reader := bufio.NewReader(stdout)
	for {
		line, err := reader.ReadBytes('\n')
		if len(line) > 0 {
			var size int
			if _, serr := fmt.Sscanf(string(line), "%d", &size); serr == nil && size > 0 {
				buf := make([]byte, size)
				if _, rerr := io.ReadFull(reader, buf); rerr == nil {
					r.packets <- framedPacket{pkt: orchestrator.Packet{Data: buf}}
					continue
				}
			}
		}
		if err != nil {
			if err != io.EOF {
				r.packets <- framedPacket{err: err}
			}
			return
		}
	}
}

func (r *Runner) readStderr(stderr io.ReadCloser) {
	reader := bufio.NewReader(stderr)
	for {
		line, err := reader.ReadBytes('\n')
		if len(line) > 0 {
			r.log.Debug().Str("component", "ffmpeg").Msg(string(line))
		}
		if err != nil {
			return
		}
	}
}

func (r *Runner) waitExit() {
	err := r.cmd.Wait()
	r.mu.Lock()
	stopped := r.stopped
	r.mu.Unlock()
	if err != nil && !stopped {
		select {
		case r.errc <- err:
		default:
		}
	}
	close(r.done)
}

// Pause sends SIGSTOP, the backpressure primitive go-vod uses to halt an
// over-eager encoder once its output has built up far enough ahead of
// consumption (checkGoal's "goal satisfied" branch).
func (r *Runner) Pause() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cmd == nil || r.cmd.Process == nil {
		return nil
	}
	return r.cmd.Process.Signal(syscall.SIGSTOP)
}

// Resume sends SIGCONT, undoing Pause.
func (r *Runner) Resume() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cmd == nil || r.cmd.Process == nil {
		return nil
	}
	return r.cmd.Process.Signal(syscall.SIGCONT)
}

// Stop requests graceful termination, escalating to SIGKILL if the process
// has not exited within grace.
func (r *Runner) Stop(grace time.Duration) error {
	r.mu.Lock()
	cmd := r.cmd
	stopped := r.stopped
	r.stopped = true
	r.mu.Unlock()

	if cmd == nil || cmd.Process == nil || stopped {
		return nil
	}

	if err := cmd.Process.Signal(syscall.SIGTERM); err != nil {
		return err
	}

	select {
	case <-r.done:
		return nil
	case <-time.After(grace):
		return cmd.Process.Signal(syscall.SIGKILL)
	}
}

// Err returns the first process error observed, if any, once the process
// has exited. An exit caused by Stop is not recorded as an error.
func (r *Runner) Err() error {
	select {
	case err := <-r.errc:
		return err
	default:
		return nil
	}
}
