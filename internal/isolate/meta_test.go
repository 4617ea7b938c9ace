package isolate

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/codeproof/judge/api"
)

const sampleMeta = `time:0.034
time-wall:0.047
max-rss:4816
cg-mem:5120
csw-voluntary:3
csw-forced:1
exitcode:0
`

func TestParseMetaFile(t *testing.T) {
	m, err := parseMetaFile([]byte(sampleMeta))
	require.NoError(t, err)
	require.Equal(t, 0.034, m.TimeSec)
	require.Equal(t, 0.047, m.TimeWallSec)
	require.EqualValues(t, 4816, m.MaxRssKiB)
	require.EqualValues(t, 5120, m.CgMemKiB)
	require.EqualValues(t, 0, m.ExitCode)
	require.Nil(t, m.ExitSignal)
}

func TestParseMetaFileMalformed(t *testing.T) {
	_, err := parseMetaFile([]byte("time=0.5\n"))
	require.Error(t, err)

	_, err = parseMetaFile([]byte("time:abc\n"))
	require.Error(t, err)
}

func TestKillReasonCpuTimeout(t *testing.T) {
	c := DefaultConstraints()
	c.CpuTimeLimInSec = 0.5

	m := &Metrics{TimeSec: 0.62, TimeWallSec: 0.7, Status: "TO", Message: "Time limit exceeded", Killed: true}
	res := resultFromMetrics(m, &c)
	require.Equal(t, api.KillCpuTime, res.KillReason)
	require.GreaterOrEqual(t, res.CpuMillis, int64(500))
}

func TestKillReasonWallTimeout(t *testing.T) {
	c := DefaultConstraints()
	m := &Metrics{TimeWallSec: 12, Status: "TO", Message: "Time limit exceeded (wall clock)", Killed: true}
	res := resultFromMetrics(m, &c)
	require.Equal(t, api.KillWallTime, res.KillReason)
}

func TestKillReasonMemory(t *testing.T) {
	c := DefaultConstraints()
	c.MemoryLimitInKiB = 32768

	// The cgroup OOM kill shows up as a signal death.
	m := &Metrics{Status: "SG", CgOomKilled: true, CgMemKiB: 32768, ExitSignal: ptr(int64(9))}
	res := resultFromMetrics(m, &c)
	require.Equal(t, api.KillMemory, res.KillReason)
	require.GreaterOrEqual(t, res.MemKiB, int64(32768))
}

func TestKillReasonSignal(t *testing.T) {
	c := DefaultConstraints()
	m := &Metrics{Status: "SG", ExitSignal: ptr(int64(11))}
	res := resultFromMetrics(m, &c)
	require.Equal(t, api.KillSignal, res.KillReason)
}

func TestKillReasonInternal(t *testing.T) {
	c := DefaultConstraints()
	m := &Metrics{Status: "XX", Message: "cannot mount box"}
	res := resultFromMetrics(m, &c)
	require.Equal(t, api.KillInternal, res.KillReason)
}

// A child that exits cleanly inside the kill race window still counts as TO
// once its summed cpu time is over the cap.
func TestCpuOverCapAfterCleanExit(t *testing.T) {
	c := DefaultConstraints()
	c.CpuTimeLimInSec = 0.5

	m := &Metrics{TimeSec: 0.55, ExitCode: 0}
	res := resultFromMetrics(m, &c)
	require.Equal(t, api.KillCpuTime, res.KillReason)
}

func TestCleanRunHasNoKillReason(t *testing.T) {
	c := DefaultConstraints()
	c.CpuTimeLimInSec = 1
	c.MemoryLimitInKiB = 65536

	m := &Metrics{TimeSec: 0.2, CgMemKiB: 2048, ExitCode: 0}
	res := resultFromMetrics(m, &c)
	require.Equal(t, api.KillNone, res.KillReason)
}

func TestTruncateAddsMarker(t *testing.T) {
	out := truncate([]byte("abcdefgh"), 4)
	require.Equal(t, "abcd\n[...output truncated]", string(out))

	// Under the cap nothing changes.
	out = truncate([]byte("abc"), 4)
	require.Equal(t, "abc", string(out))
}

func ptr[T any](v T) *T { return &v }
