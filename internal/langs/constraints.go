package langs

import "github.com/codeproof/judge/internal/isolate"

// compileCpuFactor scales the problem's run-time cpu cap for the one-off
// compile step.
const compileCpuFactor = 6

// compileMemKiB is the generous memory ceiling for compilers.
const compileMemKiB = 2 * 1024 * 1024

// RunConstraints maps problem caps plus the language's overhead allowance
// into sandbox constraints for one test run.
func (l *Language) RunConstraints(cpuMillis, memKiB int64, stdoutCap int) isolate.Constraints {
	c := isolate.DefaultConstraints()
	c.CpuTimeLimInSec = float64(cpuMillis+l.ExtraCpuMillis) / 1000
	c.ExtraCpuTimeLimInSec = 0.5
	c.WallTimeLimInSec = c.CpuTimeLimInSec*2 + 1
	c.MemoryLimitInKiB = memKiB + l.ExtraMemKiB
	c.MaxProcesses = l.MaxProcesses
	c.StdoutCapBytes = stdoutCap
	return c
}

// CompileConstraints returns the compile-phase constraints derived from the
// problem's run cap.
func (l *Language) CompileConstraints(runCpuMillis int64) isolate.Constraints {
	c := isolate.DefaultConstraints()
	c.CpuTimeLimInSec = float64(runCpuMillis*compileCpuFactor) / 1000
	if c.CpuTimeLimInSec < 10 {
		c.CpuTimeLimInSec = 10
	}
	c.WallTimeLimInSec = c.CpuTimeLimInSec * 2
	c.MemoryLimitInKiB = compileMemKiB
	c.MaxProcesses = 64
	return c
}
