// Command judged is the judging daemon: the dispatcher worker pool, the
// lease reaper and the block miner in one process. External layers enqueue
// submission rows (directly or through the SQS bridge) and read verdicts,
// scores and the block ledger back from the store.
package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lmittmann/tint"
	"github.com/urfave/cli/v3"
	"golang.org/x/sync/errgroup"

	"github.com/codeproof/judge/internal/dispatch"
	"github.com/codeproof/judge/internal/environment"
	"github.com/codeproof/judge/internal/filestore"
	"github.com/codeproof/judge/internal/intake/sqsintake"
	"github.com/codeproof/judge/internal/isolate"
	"github.com/codeproof/judge/internal/judge"
	"github.com/codeproof/judge/internal/miner"
	"github.com/codeproof/judge/internal/notify/natsnotify"
	"github.com/codeproof/judge/internal/problems"
	"github.com/codeproof/judge/internal/s3downl"
	"github.com/codeproof/judge/internal/scoring"
	"github.com/codeproof/judge/internal/store"
)

const (
	exitConfig           = 1
	exitStoreUnreachable = 2
	exitSandbox          = 3
)

func main() {
	logger := slog.New(tint.NewHandler(os.Stderr, &tint.Options{
		Level:      slog.LevelInfo,
		TimeFormat: time.TimeOnly,
	}))
	slog.SetDefault(logger)

	cmd := &cli.Command{
		Name:  "judged",
		Usage: "run the submission dispatcher and the block miner",
		Action: func(ctx context.Context, _ *cli.Command) error {
			return run(ctx, logger)
		},
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := cmd.Run(ctx, os.Args); err != nil {
		if exitErr, ok := err.(cli.ExitCoder); ok {
			logger.Error(err.Error())
			os.Exit(exitErr.ExitCode())
		}
		logger.Error("daemon failed", "err", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, logger *slog.Logger) error {
	cfg, err := environment.ReadEnvConfig()
	if err != nil {
		return cli.Exit("configuration error: "+err.Error(), exitConfig)
	}

	st, err := store.NewPgStore(ctx, cfg.DatabaseURL)
	if err != nil {
		return cli.Exit("store unreachable: "+err.Error(), exitStoreUnreachable)
	}
	defer st.Close()

	iso, err := isolate.New(cfg.SandboxBoxes, logger)
	if err != nil {
		return cli.Exit("sandbox unavailable: "+err.Error(), exitSandbox)
	}
	logger.Info("sandbox ready", "boxes", iso.BoxCount())

	downloadFunc, err := s3downl.GetS3DownloadFunc(cfg.AwsRegion)
	if err != nil {
		return cli.Exit("configuration error: "+err.Error(), exitConfig)
	}
	fs, err := filestore.New("var/judge/files", "var/judge/tmp", downloadFunc)
	if err != nil {
		return cli.Exit("configuration error: "+err.Error(), exitConfig)
	}
	fs.Start()

	probs := problems.NewRepo(cfg.ProblemsDir, fs)
	points := scoring.NewEngine(cfg.PointsAlpha, cfg.PointsMin)
	engine := judge.NewEngine(judge.NewIsolateSandbox(iso), probs, logger)

	disp := dispatch.New(st, engine, probs, points, logger, dispatch.Opts{
		Workers: cfg.Workers,
	})
	blockMiner := miner.New(st, cfg.Epoch(), nil, logger)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return disp.Run(ctx) })
	g.Go(func() error { return blockMiner.Run(ctx) })

	if cfg.NatsURL != "" {
		notifier, err := natsnotify.New(cfg.NatsURL, logger)
		if err != nil {
			return cli.Exit("configuration error: "+err.Error(), exitConfig)
		}
		defer notifier.Close()
		if err := notifier.Subscribe(disp.Wake); err != nil {
			return cli.Exit("configuration error: "+err.Error(), exitConfig)
		}
		logger.Info("subscribed to NATS wake-ups", "url", cfg.NatsURL)
	}

	if cfg.SubmSqsURL != "" {
		bridge, err := sqsintake.New(ctx, cfg.AwsRegion, cfg.SubmSqsURL, st, disp.Wake, logger)
		if err != nil {
			return cli.Exit("configuration error: "+err.Error(), exitConfig)
		}
		g.Go(func() error { return bridge.Run(ctx) })
		logger.Info("intake bridge running", "queue", cfg.SubmSqsURL)
	}

	logger.Info("judged running",
		"workers", cfg.Workers, "epoch", cfg.Epoch(), "problems", cfg.ProblemsDir)

	err = g.Wait()
	if errors.Is(err, context.Canceled) {
		err = nil
	}
	if err != nil {
		return err
	}
	logger.Info("clean shutdown")
	return nil
}
