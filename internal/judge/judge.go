// Package judge drives a single submission through compile, per-test
// execution and output comparison, aggregating per-test verdicts into the
// final one.
package judge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/codeproof/judge/api"
	"github.com/codeproof/judge/internal/compare"
	"github.com/codeproof/judge/internal/isolate"
	"github.com/codeproof/judge/internal/langs"
	"github.com/codeproof/judge/internal/problems"
	"github.com/codeproof/judge/internal/store"
)

// resultTailBytes bounds the stdout/stderr tails stored per test.
const resultTailBytes = 4 << 10

// watchdogFactor scales the summed per-test wall caps into the outer bound
// on total judging time for one submission.
const watchdogFactor = 3

// Outcome is everything the engine produced for one submission. An IE
// outcome with a nil error is final (content problem, not retried); a
// non-nil error from Judge means a transient infrastructure failure the
// dispatcher should leave for the lease reaper.
type Outcome struct {
	Verdict   api.Verdict
	CpuMillis int64
	MemKiB    int64

	TestResults []api.TestResult
	CompileOut  string
}

// ProblemSource resolves problem ids to loaded packages.
type ProblemSource interface {
	Get(problemID string) (*problems.Problem, error)
}

type Engine struct {
	sandbox Sandbox
	probs   ProblemSource
	logger  *slog.Logger
}

func NewEngine(sandbox Sandbox, probs ProblemSource, logger *slog.Logger) *Engine {
	return &Engine{sandbox: sandbox, probs: probs, logger: logger}
}

func internalOutcome() *Outcome {
	return &Outcome{Verdict: api.VerdictIE}
}

// Judge runs the full pipeline for one leased submission. Test execution
// short-circuits on the first non-AC result.
func (e *Engine) Judge(ctx context.Context, sub *store.Submission) (*Outcome, error) {
	log := e.logger.With("subm", sub.Uuid, "problem", sub.ProblemID, "lang", sub.LangID)

	prob, err := e.probs.Get(sub.ProblemID)
	if err != nil {
		log.Error("problem package unavailable", "err", err)
		return internalOutcome(), nil
	}
	if prob.Manifest.Status != "approved" {
		log.Warn("problem is not approved", "status", prob.Manifest.Status)
		return internalOutcome(), nil
	}
	if !prob.LangAllowed(sub.LangID) {
		log.Warn("language not allowed for problem")
		return internalOutcome(), nil
	}
	lang, err := langs.ByID(sub.LangID)
	if err != nil {
		log.Error("unknown language tag", "err", err)
		return internalOutcome(), nil
	}

	m := prob.Manifest
	runConstrs := lang.RunConstraints(m.TimeLimitMs, m.MemoryLimitKiB, m.StdoutCapBytes)
	compileConstrs := lang.CompileConstraints(m.TimeLimitMs)

	// Outer watchdog on total judging wall time.
	budget := time.Duration(float64(len(prob.Tests))*runConstrs.WallTimeLimInSec*watchdogFactor+
		compileConstrs.WallTimeLimInSec) * time.Second
	ctx, cancel := context.WithTimeout(ctx, budget)
	defer cancel()

	out := &Outcome{Verdict: api.VerdictAC}

	// Compile once per submission.
	executable := []byte(sub.SrcCode)
	execFname := lang.SourceFname
	if lang.Compiled() {
		compiled, compileRes, err := e.compile(ctx, lang, []byte(sub.SrcCode), &compileConstrs)
		if err != nil {
			return nil, fmt.Errorf("failed to compile submission: %w", err)
		}
		out.CompileOut = string(truncTail(compileRes.Stderr, resultTailBytes))
		if compileRes.ExitCode != 0 || compileRes.KillReason != api.KillNone || compiled == nil {
			log.Info("compilation failed", "exit", compileRes.ExitCode, "kill", compileRes.KillReason)
			out.Verdict = api.VerdictCE
			return out, nil
		}
		executable = compiled
		execFname = *lang.CompiledFname
	}

	var checker *checkerProg
	if prob.CheckerSrc != nil {
		checker, err = e.compileChecker(ctx, prob.CheckerSrc)
		if err != nil {
			return nil, fmt.Errorf("failed to prepare checker: %w", err)
		}
	}

	for _, test := range prob.Tests {
		input, err := test.Input()
		if err != nil {
			log.Error("test input unavailable", "test", test.ID, "err", err)
			return internalOutcome(), nil
		}
		answer, err := test.Answer()
		if err != nil {
			log.Error("test answer unavailable", "test", test.ID, "err", err)
			return internalOutcome(), nil
		}

		res, err := e.runTest(ctx, execFname, executable, lang.Compiled(), lang.RunCmd, input, &runConstrs)
		if err != nil {
			return nil, fmt.Errorf("failed to run test %d: %w", test.ID, err)
		}

		tr := api.TestResult{
			TestID:     test.ID,
			CpuMillis:  res.CpuMillis,
			WallMillis: res.WallMillis,
			MemKiB:     res.MemKiB,
			ExitCode:   res.ExitCode,
			ExitSignal: res.ExitSignal,
			Stdout:     string(truncTail(res.Stdout, resultTailBytes)),
			Stderr:     string(truncTail(res.Stderr, resultTailBytes)),
			KillReason: res.KillReason,
		}
		tr.Verdict, err = e.verdictOf(ctx, res, input, answer, checker)
		if err != nil {
			return nil, fmt.Errorf("failed to check test %d: %w", test.ID, err)
		}
		out.TestResults = append(out.TestResults, tr)

		out.CpuMillis = max(out.CpuMillis, res.CpuMillis)
		out.MemKiB = max(out.MemKiB, res.MemKiB)

		if tr.Verdict != api.VerdictAC {
			log.Info("test failed, short-circuiting", "test", test.ID, "verdict", tr.Verdict)
			out.Verdict = tr.Verdict
			return out, nil
		}
	}

	log.Info("all tests passed", "tests", len(prob.Tests))
	return out, nil
}

// verdictOf maps one run's raw outcome to a per-test verdict.
func (e *Engine) verdictOf(ctx context.Context, res *isolate.RunResult, input, answer []byte, checker *checkerProg) (api.Verdict, error) {
	switch res.KillReason {
	case api.KillCpuTime, api.KillWallTime:
		return api.VerdictTLE, nil
	case api.KillMemory:
		return api.VerdictMLE, nil
	case api.KillSignal:
		return api.VerdictRE, nil
	case api.KillInternal:
		return "", errors.New("sandbox reported internal failure")
	}
	if res.ExitCode != 0 {
		return api.VerdictRE, nil
	}
	if checker != nil {
		return e.runChecker(ctx, checker, input, answer, res.Stdout)
	}
	if compare.Outputs(answer, res.Stdout) {
		return api.VerdictAC, nil
	}
	return api.VerdictWA, nil
}

// runTest executes the program against one input in a fresh box.
func (e *Engine) runTest(ctx context.Context, fname string, executable []byte, binary bool, runCmd string, input []byte, constrs *isolate.Constraints) (*isolate.RunResult, error) {
	box, err := e.sandbox.AcquireBox(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire box: %w", err)
	}
	defer box.Close()

	add := box.AddFile
	if binary {
		add = box.AddExecutable
	}
	if err := add(fname, executable); err != nil {
		return nil, err
	}
	return box.Run(ctx, runCmd, input, constrs)
}

// compile runs the language's compile command in a fresh box and retrieves
// the produced binary.
func (e *Engine) compile(ctx context.Context, lang *langs.Language, source []byte, constrs *isolate.Constraints) ([]byte, *isolate.RunResult, error) {
	box, err := e.sandbox.AcquireBox(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to acquire box: %w", err)
	}
	defer box.Close()

	if err := box.AddFile(lang.SourceFname, source); err != nil {
		return nil, nil, err
	}
	res, err := box.Run(ctx, *lang.CompileCmd, nil, constrs)
	if err != nil {
		return nil, nil, err
	}

	var compiled []byte
	if box.HasFile(*lang.CompiledFname) {
		if compiled, err = box.GetFile(*lang.CompiledFname); err != nil {
			return nil, nil, err
		}
	}
	return compiled, res, nil
}

func truncTail(b []byte, cap int) []byte {
	if len(b) <= cap {
		return b
	}
	return append(b[:cap:cap], []byte("\n[...output truncated]")...)
}
