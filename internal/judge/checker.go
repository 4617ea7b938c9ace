package judge

import (
	"context"
	"fmt"

	"github.com/codeproof/judge/api"
	"github.com/codeproof/judge/internal/isolate"
)

// Custom checkers are C++ programs compiled once per judged submission and
// invoked per test as: checker <input> <actual> <expected>. Exit 0 accepts.
const (
	checkerSrcFname  = "checker.cpp"
	checkerBinFname  = "checker"
	checkerCompile   = "g++ -O2 -std=c++17 -o checker checker.cpp"
	checkerRunCmd    = "./checker input.txt output.txt answer.txt"
	checkerCpuSec    = 20.0
	checkerMemKiB    = 1024 * 1024
	checkerMaxOutput = 64 << 10
)

type checkerProg struct {
	bin []byte
}

func checkerConstraints() isolate.Constraints {
	c := isolate.DefaultConstraints()
	c.CpuTimeLimInSec = checkerCpuSec
	c.WallTimeLimInSec = checkerCpuSec * 2
	c.MemoryLimitInKiB = checkerMemKiB
	c.MaxProcesses = 64
	c.StdoutCapBytes = checkerMaxOutput
	c.StderrCapBytes = checkerMaxOutput
	return c
}

func (e *Engine) compileChecker(ctx context.Context, src []byte) (*checkerProg, error) {
	box, err := e.sandbox.AcquireBox(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire box: %w", err)
	}
	defer box.Close()

	if err := box.AddFile(checkerSrcFname, src); err != nil {
		return nil, err
	}
	constrs := checkerConstraints()
	res, err := box.Run(ctx, checkerCompile, nil, &constrs)
	if err != nil {
		return nil, err
	}
	if res.ExitCode != 0 || !box.HasFile(checkerBinFname) {
		return nil, fmt.Errorf("checker compilation failed: %s", res.Stderr)
	}
	bin, err := box.GetFile(checkerBinFname)
	if err != nil {
		return nil, err
	}
	return &checkerProg{bin: bin}, nil
}

// runChecker spawns the checker in its own box with the test input, the
// program's actual output and the expected answer.
func (e *Engine) runChecker(ctx context.Context, checker *checkerProg, input, answer, actual []byte) (api.Verdict, error) {
	box, err := e.sandbox.AcquireBox(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to acquire box: %w", err)
	}
	defer box.Close()

	if err := box.AddExecutable(checkerBinFname, checker.bin); err != nil {
		return "", err
	}
	files := map[string][]byte{
		"input.txt":  input,
		"output.txt": actual,
		"answer.txt": answer,
	}
	for name, content := range files {
		if err := box.AddFile(name, content); err != nil {
			return "", err
		}
	}

	constrs := checkerConstraints()
	res, err := box.Run(ctx, checkerRunCmd, nil, &constrs)
	if err != nil {
		return "", err
	}
	if res.KillReason != api.KillNone {
		return "", fmt.Errorf("checker killed: %s", res.KillReason)
	}
	if res.ExitCode == 0 {
		return api.VerdictAC, nil
	}
	return api.VerdictWA, nil
}
