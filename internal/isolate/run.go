package isolate

import (
	"strings"

	"github.com/codeproof/judge/api"
)

const truncMarker = "\n[...output truncated]"

// RunResult is the normalized outcome of one sandboxed run. When KillReason
// is set it is authoritative over ExitCode.
type RunResult struct {
	ExitCode   int64
	ExitSignal *int64

	CpuMillis  int64
	WallMillis int64
	MemKiB     int64

	Stdout []byte
	Stderr []byte

	KillReason api.KillReason

	Status  string
	Message string
}

// resultFromMetrics folds the raw meta-file measurements and the enforced
// constraints into a RunResult. The cpu cap is re-checked here: a child that
// exits cleanly inside the kill race window still counts as TO once its
// summed cpu time is over the cap.
func resultFromMetrics(m *Metrics, c *Constraints) *RunResult {
	res := &RunResult{
		ExitCode:   m.ExitCode,
		ExitSignal: m.ExitSignal,
		CpuMillis:  int64(m.TimeSec * 1000),
		WallMillis: int64(m.TimeWallSec * 1000),
		MemKiB:     m.CgMemKiB,
		Status:     m.Status,
		Message:    m.Message,
	}
	if res.MemKiB == 0 {
		res.MemKiB = m.MaxRssKiB
	}

	switch m.Status {
	case "TO":
		res.KillReason = api.KillCpuTime
		if strings.Contains(strings.ToLower(m.Message), "wall") {
			res.KillReason = api.KillWallTime
		}
	case "SG":
		res.KillReason = api.KillSignal
		if m.CgOomKilled {
			res.KillReason = api.KillMemory
		}
	case "XX":
		res.KillReason = api.KillInternal
	}

	if res.KillReason == api.KillNone || res.KillReason == api.KillSignal {
		if m.CgOomKilled || (c.MemoryLimitInKiB > 0 && res.MemKiB > c.MemoryLimitInKiB) {
			res.KillReason = api.KillMemory
		}
	}
	if res.KillReason == api.KillNone &&
		c.CpuTimeLimInSec > 0 && res.CpuMillis > int64(c.CpuTimeLimInSec*1000) {
		res.KillReason = api.KillCpuTime
	}

	return res
}

// truncate bounds output to cap bytes, appending a tail marker when cut.
func truncate(b []byte, cap int) []byte {
	if cap <= 0 || len(b) <= cap {
		return b
	}
	out := make([]byte, 0, cap+len(truncMarker))
	out = append(out, b[:cap]...)
	out = append(out, truncMarker...)
	return out
}
