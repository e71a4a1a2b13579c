package command

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"vrflow/internal/config"
	"vrflow/internal/driver"
	"vrflow/internal/flow"
	"vrflow/internal/telemetry"
	"vrflow/internal/tracker"
)

const (
	dialTimeout  = 10 * time.Second
	drainTimeout = 15 * time.Second
)

type runOptions struct {
	dryRun       bool
	participants int
}

func NewRunCmd() *cobra.Command {
	var opts runOptions
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the participant schedule and record telemetry",
		Long: `Rotate through the configured participants, one session per turn.

Operator keys (gm_controls) are read one per line from stdin:
next, end, pause and restart. Ctrl+C stops the run and flushes
buffered telemetry.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			return runExperiment(cmd.Context(), cfg, opts, cmd.InOrStdin(), cmd.OutOrStdout(), newLogger(cmd))
		},
	}
	cmd.Flags().BoolVar(&opts.dryRun, "dry-run", false, "skip MongoDB; CSV and console writers still run")
	cmd.Flags().IntVar(&opts.participants, "participants", 0, "resize the participant order before starting")
	return cmd
}

func runExperiment(ctx context.Context, cfg config.Config, opts runOptions, in io.Reader, out io.Writer, logger *slog.Logger) error {
	writers, closers, err := openWriters(ctx, cfg, opts, out)
	if err != nil {
		return err
	}
	defer func() {
		for i := len(closers) - 1; i >= 0; i-- {
			if err := closers[i](context.WithoutCancel(ctx)); err != nil {
				logger.Warn("closing telemetry writer", "err", err)
			}
		}
	}()

	queue := telemetry.NewQueue(telemetry.Tee(writers...), telemetry.QueueOptions{
		Size:          cfg.Sink.QueueSize,
		BatchSize:     cfg.Sink.BatchSize,
		FlushInterval: time.Duration(cfg.Sink.FlushIntervalMS) * time.Millisecond,
		MaxTries:      cfg.Sink.RetryMaxTries,
		Logger:        logger.With("component", "telemetry"),
	})
	queue.Start(context.WithoutCancel(ctx))
	defer func() {
		drainCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), drainTimeout)
		defer cancel()
		if err := queue.Close(drainCtx); err != nil {
			logger.Warn("telemetry drain incomplete", "err", err)
		}
		st := queue.Stats()
		logger.Info("telemetry flushed",
			"enqueued", st.Enqueued,
			"written", st.Written,
			"dropped", st.Dropped,
			"failed", st.Failed,
			"validated_only", st.ValidatedOnly,
			"serialization", st.Serialization,
		)
	}()

	var sink telemetry.Sink = queue
	if len(writers) == 0 {
		logger.Info("no telemetry writers configured, records are validated only")
		sink = telemetry.DryRun(queue)
	}
	guard := telemetry.NewGuard(sink, telemetry.WithLogger(logger))

	sched := flow.New(flow.WithSink(sink), flow.WithLogger(logger.With("component", "flow")))
	schedule, err := cfg.Schedule()
	if err != nil {
		return err
	}
	if err := sched.Configure(schedule); err != nil {
		return err
	}
	if opts.participants > 0 {
		if err := sched.ResizeParticipants(opts.participants); err != nil {
			return err
		}
	}

	snapshot, err := telemetry.ConfigSnapshot(cfg, time.Now())
	if err != nil {
		return err
	}
	_ = guard.Emit(snapshot)

	trackers, err := buildTrackers(cfg, telemetry.NewSessionEmitter(guard, sched), logger)
	if err != nil {
		return err
	}

	d := driver.New(sched,
		driver.WithTrackers(trackers...),
		driver.WithInterval(cfg.TickInterval()),
		driver.WithLogger(logger.With("component", "driver")),
	)

	if err := sched.Start(); err != nil {
		return err
	}
	if gm := cfg.ParticipantFlow.GMControls; gm.Enabled {
		readCtx, stopReading := context.WithCancel(ctx)
		defer stopReading()
		// Closing the input unblocks the reader. Stdin is left open for the
		// process to exit with.
		if c, ok := in.(io.Closer); ok && in != io.Reader(os.Stdin) {
			defer c.Close()
		}
		go readCommands(readCtx, in, keyCommands(gm), d, logger)
	}

	err = d.Run(ctx)
	if errors.Is(err, context.Canceled) {
		logger.Info("run interrupted", "phase", sched.Phase())
		return nil
	}
	return err
}

type closeFunc func(context.Context) error

func openWriters(ctx context.Context, cfg config.Config, opts runOptions, out io.Writer) ([]telemetry.Writer, []closeFunc, error) {
	var (
		writers []telemetry.Writer
		closers []closeFunc
	)
	fail := func(err error) ([]telemetry.Writer, []closeFunc, error) {
		for i := len(closers) - 1; i >= 0; i-- {
			_ = closers[i](ctx)
		}
		return nil, nil, err
	}

	if !opts.dryRun {
		dialCtx, cancel := context.WithTimeout(ctx, dialTimeout)
		mw, err := telemetry.DialMongo(dialCtx, cfg.Mongo.URI, cfg.Mongo.Database, cfg.Mongo.Collection)
		cancel()
		if err != nil {
			return fail(err)
		}
		writers = append(writers, mw)
		closers = append(closers, mw.Close)
	}
	if cfg.Sink.CSVPath != "" {
		cw, err := telemetry.OpenCSV(cfg.Sink.CSVPath)
		if err != nil {
			return fail(err)
		}
		writers = append(writers, cw)
		closers = append(closers, cw.Close)
	}
	if cfg.Sink.Console {
		writers = append(writers, telemetry.NewConsoleWriter(out))
	}
	return writers, closers, nil
}

// buildTrackers instantiates the enabled modules this process can run. The
// rest are scene-side capabilities and are only logged.
func buildTrackers(cfg config.Config, em tracker.Emitter, logger *slog.Logger) ([]tracker.Tracker, error) {
	reg := tracker.NewRegistry()
	if err := reg.Register(tracker.HeartbeatName, tracker.HeartbeatFactory(cfg.Runtime.HeartbeatSeconds)); err != nil {
		return nil, err
	}

	var names []string
	for _, name := range cfg.EnabledModules() {
		if !reg.Has(name) {
			logger.Info("module provided by the scene runtime", "module", name)
			continue
		}
		names = append(names, name)
	}
	trackers, err := reg.Build(names, em)
	if err != nil {
		return nil, fmt.Errorf("build trackers: %w", err)
	}
	return trackers, nil
}
