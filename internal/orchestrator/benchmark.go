package orchestrator

import (
	"fmt"
	"os"
	"time"

	"github.com/shirou/gopsutil/v4/process"
)

// BenchmarkRecorder captures wall/user/sys time and peak RSS across the run
// (the -benchmark / -benchmark_all options), the way a caller would want to
// log resource usage without hand-rolling getrusage/clock_gettime calls.
type BenchmarkRecorder struct {
	enabled bool
	all     bool

	proc      *process.Process
	wallStart time.Time

	userStart, sysStart float64
	peakRSS             uint64
}

// NewBenchmarkRecorder constructs a recorder for the current process.
// enabled corresponds to -benchmark; all to -benchmark_all. The recorder
// stores all but does not read it: Report prints run totals only, and the
// main loop itself calls Sample once per iteration when -benchmark_all is set.
func NewBenchmarkRecorder(enabled, all bool) (*BenchmarkRecorder, error) {
	b := &BenchmarkRecorder{enabled: enabled, all: all}
	if !enabled {
		return b, nil
	}
	p, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return nil, fmt.Errorf("benchmark: %w", err)
	}
	b.proc = p
	return b, nil
}

// Start records the starting wall clock and CPU times.
func (b *BenchmarkRecorder) Start() {
	if !b.enabled {
		return
	}
	b.wallStart = time.Now()
	if times, err := b.proc.Times(); err == nil {
		b.userStart = times.User
		b.sysStart = times.System
	}
	b.sampleRSS()
}

// Sample updates the peak RSS observed so far. Call periodically (e.g. once
// per main-loop iteration when -benchmark_all is set) and once at exit.
func (b *BenchmarkRecorder) Sample() {
	if !b.enabled {
		return
	}
	b.sampleRSS()
}

func (b *BenchmarkRecorder) sampleRSS() {
	mem, err := b.proc.MemoryInfo()
	if err != nil || mem == nil {
		return
	}
	if mem.RSS > b.peakRSS {
		b.peakRSS = mem.RSS
	}
}

// Report is a human-readable summary line, matching the shape of ffmpeg's
// own "bench: utime=...s stime=...s rtime=...s maxrss=...kB" trailer.
func (b *BenchmarkRecorder) Report() string {
	if !b.enabled {
		return ""
	}
	b.sampleRSS()

	elapsed := time.Since(b.wallStart).Seconds()
	var userElapsed, sysElapsed float64
	if times, err := b.proc.Times(); err == nil {
		userElapsed = times.User - b.userStart
		sysElapsed = times.System - b.sysStart
	}
	return fmt.Sprintf("bench: utime=%.3fs stime=%.3fs rtime=%.3fs maxrss=%dkB",
		userElapsed, sysElapsed, elapsed, b.peakRSS/1024)
}
