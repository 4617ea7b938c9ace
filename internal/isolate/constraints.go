package isolate

import "fmt"

// Constraints are the per-run resource caps passed to isolate.
type Constraints struct {
	CpuTimeLimInSec      float64
	ExtraCpuTimeLimInSec float64
	WallTimeLimInSec     float64
	MemoryLimitInKiB     int64
	MaxProcesses         int
	MaxOpenFiles         int
	MaxFileSizeInKiB     int64

	// Read-back caps applied after the run, not enforced by isolate.
	StdoutCapBytes int
	StderrCapBytes int
}

func DefaultConstraints() Constraints {
	return Constraints{
		CpuTimeLimInSec:      50.0,
		ExtraCpuTimeLimInSec: 0.5,
		WallTimeLimInSec:     100.0,
		MemoryLimitInKiB:     2048000,
		MaxProcesses:         128,
		MaxOpenFiles:         128,
		MaxFileSizeInKiB:     64 * 1024,
		StdoutCapBytes:       1 << 20,
		StderrCapBytes:       64 << 10,
	}
}

func (c *Constraints) ToArgs() []string {
	return []string{
		fmt.Sprintf("--mem=%d", c.MemoryLimitInKiB),
		fmt.Sprintf("--cg-mem=%d", c.MemoryLimitInKiB),
		fmt.Sprintf("--time=%f", c.CpuTimeLimInSec),
		fmt.Sprintf("--extra-time=%f", c.ExtraCpuTimeLimInSec),
		fmt.Sprintf("--wall-time=%f", c.WallTimeLimInSec),
		fmt.Sprintf("--processes=%d", c.MaxProcesses),
		fmt.Sprintf("--open-files=%d", c.MaxOpenFiles),
		fmt.Sprintf("--fsize=%d", c.MaxFileSizeInKiB),
	}
}
