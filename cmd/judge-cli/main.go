// Command judge-cli judges submissions locally against on-disk problem
// packages, without Postgres or any queue: an in-memory store stands in for
// the durable one. Useful for problem authors and for behaviour scenarios.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/lmittmann/tint"
	"github.com/urfave/cli/v3"

	"github.com/codeproof/judge/api"
	"github.com/codeproof/judge/internal/behave"
	"github.com/codeproof/judge/internal/dispatch"
	"github.com/codeproof/judge/internal/isolate"
	"github.com/codeproof/judge/internal/judge"
	"github.com/codeproof/judge/internal/miner"
	"github.com/codeproof/judge/internal/problems"
	"github.com/codeproof/judge/internal/scoring"
	"github.com/codeproof/judge/internal/store"
	"github.com/google/uuid"
)

func main() {
	logger := slog.New(tint.NewHandler(os.Stderr, &tint.Options{
		Level:      slog.LevelWarn,
		TimeFormat: time.TimeOnly,
	}))

	cmd := &cli.Command{
		Name:  "judge-cli",
		Usage: "judge submissions locally against problem packages",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "problems",
				Usage: "problem packages root directory",
				Value: "problems",
			},
			&cli.IntFlag{
				Name:  "boxes",
				Usage: "sandbox box count",
				Value: 2,
			},
		},
		Commands: []*cli.Command{
			{
				Name:      "judge",
				Usage:     "judge one source file",
				ArgsUsage: "<source-file>",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "problem", Required: true},
					&cli.StringFlag{Name: "lang", Required: true},
				},
				Action: func(ctx context.Context, c *cli.Command) error {
					return judgeOne(ctx, c, logger)
				},
			},
			{
				Name:      "behave",
				Usage:     "run a TOML behaviour scenario file",
				ArgsUsage: "<scenarios.toml>",
				Action: func(ctx context.Context, c *cli.Command) error {
					return runScenarios(ctx, c, logger)
				},
			},
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newLocalJudge(c *cli.Command, logger *slog.Logger) (*judge.Engine, *problems.Repo, error) {
	iso, err := isolate.New(int(c.Int("boxes")), logger)
	if err != nil {
		return nil, nil, fmt.Errorf("sandbox unavailable: %w", err)
	}
	probs := problems.NewRepo(c.String("problems"), nil)
	return judge.NewEngine(judge.NewIsolateSandbox(iso), probs, logger), probs, nil
}

func judgeOne(ctx context.Context, c *cli.Command, logger *slog.Logger) error {
	if c.Args().Len() != 1 {
		return fmt.Errorf("expected exactly one source file argument")
	}
	src, err := os.ReadFile(c.Args().First())
	if err != nil {
		return err
	}

	engine, _, err := newLocalJudge(c, logger)
	if err != nil {
		return err
	}

	sub := &store.Submission{
		Uuid:      uuid.NewString(),
		UserID:    1,
		ProblemID: c.String("problem"),
		LangID:    c.String("lang"),
		SrcCode:   string(src),
	}
	outcome, err := engine.Judge(ctx, sub)
	if err != nil {
		return fmt.Errorf("judging failed: %w", err)
	}

	printOutcome(outcome)
	return nil
}

// runScenarios drives the full core against the in-memory store: enqueue,
// dispatch, judge and finally one mining tick over the accepted scenarios.
func runScenarios(ctx context.Context, c *cli.Command, logger *slog.Logger) error {
	if c.Args().Len() != 1 {
		return fmt.Errorf("expected exactly one scenario file argument")
	}
	cases, err := behave.Parse(c.Args().First())
	if err != nil {
		return err
	}

	engine, probs, err := newLocalJudge(c, logger)
	if err != nil {
		return err
	}

	st := store.NewMemStore()
	points := scoring.NewEngine(10, 1)
	disp := dispatch.New(st, engine, probs, points, logger, dispatch.Opts{Workers: 1})

	for _, cs := range cases {
		if err := st.Enqueue(ctx, &store.Submission{
			Uuid:      cs.Intake.SubmUuid,
			UserID:    cs.Intake.UserID,
			ProblemID: cs.Intake.ProblemID,
			LangID:    cs.Intake.LangID,
			SrcCode:   cs.Intake.SrcCode,
		}); err != nil {
			return err
		}
	}

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() { done <- disp.Run(runCtx) }()

	// Wait for every scenario to reach a terminal verdict.
	deadline := time.Now().Add(10 * time.Minute)
	for {
		allDone := true
		for _, cs := range cases {
			sub, err := st.GetSubmission(ctx, cs.Intake.SubmUuid)
			if err != nil {
				cancel()
				return err
			}
			if !sub.Verdict.Terminal() {
				allDone = false
				break
			}
		}
		if allDone || time.Now().After(deadline) {
			break
		}
		time.Sleep(100 * time.Millisecond)
	}
	cancel()
	<-done

	failed := 0
	for _, cs := range cases {
		sub, err := st.GetSubmission(ctx, cs.Intake.SubmUuid)
		if err != nil {
			return err
		}
		res := sub.Result()
		ok := string(res.Verdict) == cs.Expect.Verdict &&
			(cs.Expect.MinPoints == 0 || res.PointsEarned >= cs.Expect.MinPoints)
		status := color.GreenString("PASS")
		if !ok {
			status = color.RedString("FAIL")
			failed++
		}
		fmt.Printf("%s  %-40s verdict=%s want=%s points=%.2f\n",
			status, cs.Name, verdictColored(res.Verdict), cs.Expect.Verdict, res.PointsEarned)
	}

	blockMiner := miner.New(st, time.Minute, nil, logger)
	if block, err := blockMiner.Tick(ctx); err == nil {
		rec := block.Record()
		fmt.Printf("mined block height=%d txs=%d hash=%s\n",
			rec.Height, rec.TxCount, rec.BlockHash[:16])
	}

	if failed > 0 {
		return fmt.Errorf("%d scenario(s) failed", failed)
	}
	return nil
}

func printOutcome(outcome *judge.Outcome) {
	fmt.Printf("verdict: %s\n", verdictColored(outcome.Verdict))
	fmt.Printf("cpu: %dms  mem: %dKiB\n", outcome.CpuMillis, outcome.MemKiB)
	if outcome.CompileOut != "" {
		fmt.Printf("compiler output:\n%s\n", outcome.CompileOut)
	}
	for _, tr := range outcome.TestResults {
		fmt.Printf("  test %d: %s (cpu=%dms mem=%dKiB)\n",
			tr.TestID, verdictColored(tr.Verdict), tr.CpuMillis, tr.MemKiB)
	}
}

func verdictColored(v api.Verdict) string {
	switch v {
	case api.VerdictAC:
		return color.GreenString(string(v))
	case api.VerdictPending:
		return color.YellowString(string(v))
	default:
		return color.RedString(string(v))
	}
}
