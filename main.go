package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/praetorian-labs/ffcore/internal/config"
	"github.com/praetorian-labs/ffcore/internal/fakebus"
	"github.com/praetorian-labs/ffcore/internal/orchestrator"
)

// version is stamped by the release pipeline; unset in development builds.
var version = "dev"

// logLevelFlag is a pflag.Value that only accepts names zerolog actually
// recognizes, so a typo surfaces at flag-parse time instead of silently
// falling back to info level deep inside runTranscode.
type logLevelFlag struct {
	value string
	set   bool
}

func (f *logLevelFlag) String() string { return f.value }

func (f *logLevelFlag) Set(s string) error {
	if _, err := zerolog.ParseLevel(s); err != nil {
		return fmt.Errorf("unrecognized log level %q", s)
	}
	f.value = s
	f.set = true
	return nil
}

func (f *logLevelFlag) Type() string { return "level" }

var _ pflag.Value = (*logLevelFlag)(nil)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(argv []string) int {
	var (
		configPath  string
		progressOut string
		vstatsOut   string
		logLevel    logLevelFlag
	)

	root := &cobra.Command{
		Use:     "ffcore",
		Short:   "Single-threaded transcoding orchestrator",
		Version: version,
		RunE: func(cmd *cobra.Command, args []string) error {
			override := ""
			if logLevel.set {
				override = logLevel.value
			}
			return runTranscode(cmd.Context(), configPath, progressOut, vstatsOut, override)
		},
	}

	root.Flags().StringVar(&configPath, "config", "", "path to a YAML configuration file")
	root.Flags().StringVar(&progressOut, "progress", "", "path to write machine-parseable progress records")
	root.Flags().StringVar(&vstatsOut, "vstats-file", "", "path to write per-frame video statistics")
	root.Flags().VarP(&logLevel, "loglevel", "l", "log level (trace, debug, info, warn, error)")

	root.SetArgs(argv)

	if err := root.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return orchestrator.ExitGeneric
	}
	return exitCodeHolder
}

// exitCodeHolder carries the exit code computed inside RunE back out to
// main, since cobra's Execute only reports error/no-error. Set exactly once
// per invocation.
var exitCodeHolder int

func runTranscode(ctx context.Context, configPath, progressOut, vstatsOut, logLevelOverride string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		exitCodeHolder = orchestrator.ExitGeneric
		return err
	}

	levelName := cfg.LogLevel
	if logLevelOverride != "" {
		levelName = logLevelOverride
	}
	level, err := zerolog.ParseLevel(levelName)
	if err != nil {
		level = zerolog.InfoLevel
	}
	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		Level(level).
		With().Timestamp().Logger()

	inputs, outputs, collab, err := buildFromConfig(cfg)
	if err != nil {
		exitCodeHolder = orchestrator.ExitGeneric
		return err
	}

	opts := orchestrator.Options{
		CopyTS:       cfg.CopyTS,
		StartAtZero:  cfg.StartAtZero,
		StatsPeriod:  cfg.StatsPeriod,
		Benchmark:    cfg.Benchmark,
		BenchmarkAll: cfg.BenchmarkAll,
		MaxErrorRate: cfg.MaxErrorRate,
		XError:       cfg.XError,
		ExitOnError:  cfg.ExitOnError,
		Interactive:  cfg.Interactive,
		Human:        os.Stderr,
		TerminalFD:   int(os.Stdin.Fd()),
	}

	if progressOut != "" {
		f, err := os.Create(progressOut)
		if err != nil {
			exitCodeHolder = orchestrator.ExitGeneric
			return err
		}
		defer f.Close()
		opts.ProgressSink = f
	} else if cfg.ProgressURL != "" {
		f, err := os.Create(cfg.ProgressURL)
		if err != nil {
			exitCodeHolder = orchestrator.ExitGeneric
			return err
		}
		defer f.Close()
		opts.ProgressSink = f
	}

	if vstatsOut == "" {
		vstatsOut = cfg.VStatsFile
	}
	if vstatsOut != "" {
		f, err := os.Create(vstatsOut)
		if err != nil {
			exitCodeHolder = orchestrator.ExitGeneric
			return err
		}
		defer f.Close()
		opts.VStatsSink = f
	}

	orc, err := orchestrator.New(log, collab, inputs, outputs, nil, opts)
	if err != nil {
		exitCodeHolder = orchestrator.ExitGeneric
		return err
	}

	runErr := orc.Run(ctx)
	exitCodeHolder = orc.ExitCode(runErr)
	if runErr != nil {
		return runErr
	}
	return nil
}

// buildFromConfig constructs the in-memory input/output file tables and
// wires the deterministic in-process collaborator bus. A real deployment
// would instead construct internal/ffprocess runners per input/output
// backed by an actual ffmpeg-compatible binary; that wiring is a thin
// substitution behind the same Collaborators struct and does not touch the
// scheduler core.
func buildFromConfig(cfg *config.Config) ([]*orchestrator.InputFile, []*orchestrator.OutputFile, *orchestrator.Collaborators, error) {
	if len(cfg.Inputs) == 0 {
		return nil, nil, nil, orchestrator.ErrNoInputs
	}
	if len(cfg.Outputs) == 0 {
		return nil, nil, nil, orchestrator.ErrNoOutputs
	}

	bus := fakebus.NewBus(nil, 0)

	var inputs []*orchestrator.InputFile
	for i, in := range cfg.Inputs {
		is := &orchestrator.InputStream{FileIndex: i, Index: 0}
		f := &orchestrator.InputFile{
			Index:         i,
			Path:          in.Path,
			Streams:       []*orchestrator.InputStream{is},
			RecordingTime: in.RecordingTime.Microseconds(),
			StartTime:     in.StartTime.Microseconds(),
		}
		inputs = append(inputs, f)
	}

	var outputs []*orchestrator.OutputFile
	for i, out := range cfg.Outputs {
		outStream := &orchestrator.OutputStream{FileIndex: i, Index: 0, Input: inputs[0].Streams[0], Kind: orchestrator.KindStreamCopy}
		f := &orchestrator.OutputFile{Index: i, Path: out.Path, Streams: []*orchestrator.OutputStream{outStream}}
		inputs[0].Streams[0].RawOutputs = append(inputs[0].Streams[0].RawOutputs, outStream)
		outputs = append(outputs, f)
	}

	decoders := make(map[int]orchestrator.Demuxer, len(inputs))
	for _, f := range inputs {
		decoders[f.Index] = bus
	}

	collab := &orchestrator.Collaborators{
		Demuxers: decoders,
		Mux:      bus,
		Enc:      bus,
	}

	return inputs, outputs, collab, nil
}
