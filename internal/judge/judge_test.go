package judge_test

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/codeproof/judge/api"
	"github.com/codeproof/judge/internal/isolate"
	"github.com/codeproof/judge/internal/judge"
	"github.com/codeproof/judge/internal/problems"
	"github.com/codeproof/judge/internal/store"
	"github.com/codeproof/judge/internal/testutil"
)

// fakeSandbox scripts run results per command, standing in for isolate.
type fakeSandbox struct {
	script func(cmd string, stdin []byte) (*isolate.RunResult, error)
	runs   int
}

func (f *fakeSandbox) AcquireBox(ctx context.Context) (judge.Box, error) {
	return &fakeBox{sandbox: f, files: map[string][]byte{}}, nil
}

type fakeBox struct {
	sandbox *fakeSandbox
	files   map[string][]byte
}

func (b *fakeBox) AddFile(name string, content []byte) error {
	b.files[name] = content
	return nil
}

func (b *fakeBox) AddExecutable(name string, content []byte) error {
	return b.AddFile(name, content)
}

func (b *fakeBox) HasFile(name string) bool {
	_, ok := b.files[name]
	return ok
}

func (b *fakeBox) GetFile(name string) ([]byte, error) {
	content, ok := b.files[name]
	if !ok {
		return nil, fmt.Errorf("no such file %s", name)
	}
	return content, nil
}

func (b *fakeBox) Run(ctx context.Context, cmd string, stdin []byte, _ *isolate.Constraints) (*isolate.RunResult, error) {
	b.sandbox.runs++
	res, err := b.sandbox.script(cmd, stdin)
	if err != nil {
		return nil, err
	}
	if strings.HasPrefix(cmd, "g++") && res.ExitCode == 0 {
		b.files["main"] = []byte("binary")
	}
	return res, nil
}

func (b *fakeBox) Close() error { return nil }

// writeProblem lays out a minimal on-disk package and returns its repo.
func writeProblem(t *testing.T, tests [][2]string, extraYaml string) judge.ProblemSource {
	t.Helper()
	root := t.TempDir()
	dir := filepath.Join(root, "sum")
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "tests"), 0755))

	var sb strings.Builder
	sb.WriteString("id: sum\n")
	sb.WriteString("title_en: Sum\n")
	sb.WriteString("title_es: Suma\n")
	sb.WriteString("difficulty: easy\n")
	sb.WriteString("base_points: 1000\n")
	sb.WriteString("time_limit_ms: 1000\n")
	sb.WriteString("memory_limit_kib: 65536\n")
	sb.WriteString(extraYaml)
	sb.WriteString("tests:\n")
	for i, tc := range tests {
		in := fmt.Sprintf("tests/%d.in", i+1)
		out := fmt.Sprintf("tests/%d.out", i+1)
		require.NoError(t, os.WriteFile(filepath.Join(dir, in), []byte(tc[0]), 0644))
		require.NoError(t, os.WriteFile(filepath.Join(dir, out), []byte(tc[1]), 0644))
		sb.WriteString(fmt.Sprintf("  - {in: %s, out: %s}\n", in, out))
	}
	require.NoError(t, os.WriteFile(filepath.Join(dir, "problem.yml"), []byte(sb.String()), 0644))

	return problems.NewRepo(root, nil)
}

func pythonSub() *store.Submission {
	return &store.Submission{
		Uuid: "s1", UserID: 1, ProblemID: "sum",
		LangID: "python", SrcCode: "print(sum(map(int, input().split())))",
	}
}

func okRun(stdout string) *isolate.RunResult {
	return &isolate.RunResult{ExitCode: 0, CpuMillis: 10, WallMillis: 20, MemKiB: 1024, Stdout: []byte(stdout)}
}

func TestJudgeAccepted(t *testing.T) {
	probs := writeProblem(t, [][2]string{{"3 4\n", "7\n"}}, "")
	sandbox := &fakeSandbox{script: func(cmd string, stdin []byte) (*isolate.RunResult, error) {
		require.Equal(t, "python3 main.py", cmd)
		require.Equal(t, "3 4\n", string(stdin))
		return okRun("7\n"), nil
	}}
	engine := judge.NewEngine(sandbox, probs, testutil.Logger())

	outcome, err := engine.Judge(context.Background(), pythonSub())
	require.NoError(t, err)
	require.Equal(t, api.VerdictAC, outcome.Verdict)
	require.Len(t, outcome.TestResults, 1)
	require.Equal(t, api.VerdictAC, outcome.TestResults[0].Verdict)
	require.LessOrEqual(t, outcome.TestResults[0].CpuMillis, int64(50))
}

func TestJudgeWrongAnswerShortCircuits(t *testing.T) {
	probs := writeProblem(t, [][2]string{{"3 4\n", "7\n"}, {"1 1\n", "2\n"}}, "")
	sandbox := &fakeSandbox{script: func(cmd string, stdin []byte) (*isolate.RunResult, error) {
		return okRun("8\n"), nil
	}}
	engine := judge.NewEngine(sandbox, probs, testutil.Logger())

	outcome, err := engine.Judge(context.Background(), pythonSub())
	require.NoError(t, err)
	require.Equal(t, api.VerdictWA, outcome.Verdict)
	require.Len(t, outcome.TestResults, 1, "remaining tests are not executed")
	require.Equal(t, 1, sandbox.runs)
}

func TestJudgeTimeLimit(t *testing.T) {
	probs := writeProblem(t, [][2]string{{"3 4\n", "7\n"}}, "")
	sandbox := &fakeSandbox{script: func(cmd string, stdin []byte) (*isolate.RunResult, error) {
		return &isolate.RunResult{CpuMillis: 1200, KillReason: api.KillCpuTime}, nil
	}}
	engine := judge.NewEngine(sandbox, probs, testutil.Logger())

	outcome, err := engine.Judge(context.Background(), pythonSub())
	require.NoError(t, err)
	require.Equal(t, api.VerdictTLE, outcome.Verdict)
	require.GreaterOrEqual(t, outcome.CpuMillis, int64(1000))
}

func TestJudgeMemoryLimit(t *testing.T) {
	probs := writeProblem(t, [][2]string{{"3 4\n", "7\n"}}, "")
	sandbox := &fakeSandbox{script: func(cmd string, stdin []byte) (*isolate.RunResult, error) {
		return &isolate.RunResult{MemKiB: 102400, KillReason: api.KillMemory}, nil
	}}
	engine := judge.NewEngine(sandbox, probs, testutil.Logger())

	outcome, err := engine.Judge(context.Background(), pythonSub())
	require.NoError(t, err)
	require.Equal(t, api.VerdictMLE, outcome.Verdict)
	require.GreaterOrEqual(t, outcome.MemKiB, int64(65536))
}

func TestJudgeRuntimeError(t *testing.T) {
	probs := writeProblem(t, [][2]string{{"3 4\n", "7\n"}}, "")
	sandbox := &fakeSandbox{script: func(cmd string, stdin []byte) (*isolate.RunResult, error) {
		return &isolate.RunResult{ExitCode: 1, Stderr: []byte("panic")}, nil
	}}
	engine := judge.NewEngine(sandbox, probs, testutil.Logger())

	outcome, err := engine.Judge(context.Background(), pythonSub())
	require.NoError(t, err)
	require.Equal(t, api.VerdictRE, outcome.Verdict)
}

func TestJudgeCompileError(t *testing.T) {
	probs := writeProblem(t, [][2]string{{"3 4\n", "7\n"}}, "")
	sandbox := &fakeSandbox{script: func(cmd string, stdin []byte) (*isolate.RunResult, error) {
		require.True(t, strings.HasPrefix(cmd, "g++"), "only the compile step may run")
		return &isolate.RunResult{ExitCode: 1, Stderr: []byte("main.cpp:1: error: expected ';'")}, nil
	}}
	engine := judge.NewEngine(sandbox, probs, testutil.Logger())

	sub := pythonSub()
	sub.LangID = "cpp"
	sub.SrcCode = "int main() { return 0 }"
	outcome, err := engine.Judge(context.Background(), sub)
	require.NoError(t, err)
	require.Equal(t, api.VerdictCE, outcome.Verdict)
	require.Empty(t, outcome.TestResults)
	require.Contains(t, outcome.CompileOut, "expected ';'")
}

func TestJudgeMetricsAggregateMax(t *testing.T) {
	probs := writeProblem(t, [][2]string{{"1\n", "1\n"}, {"2\n", "2\n"}}, "")
	calls := 0
	sandbox := &fakeSandbox{script: func(cmd string, stdin []byte) (*isolate.RunResult, error) {
		calls++
		res := okRun(strings.TrimSpace(string(stdin)) + "\n")
		res.CpuMillis = int64(calls * 100)
		res.MemKiB = int64(calls * 2048)
		return res, nil
	}}
	engine := judge.NewEngine(sandbox, probs, testutil.Logger())

	outcome, err := engine.Judge(context.Background(), pythonSub())
	require.NoError(t, err)
	require.Equal(t, api.VerdictAC, outcome.Verdict)
	require.Equal(t, int64(200), outcome.CpuMillis)
	require.Equal(t, int64(4096), outcome.MemKiB)
}

func TestJudgeUnapprovedProblem(t *testing.T) {
	probs := writeProblem(t, [][2]string{{"3 4\n", "7\n"}}, "status: pending\n")
	sandbox := &fakeSandbox{script: func(cmd string, stdin []byte) (*isolate.RunResult, error) {
		t.Fatal("nothing may run for an unapproved problem")
		return nil, nil
	}}
	engine := judge.NewEngine(sandbox, probs, testutil.Logger())

	outcome, err := engine.Judge(context.Background(), pythonSub())
	require.NoError(t, err)
	require.Equal(t, api.VerdictIE, outcome.Verdict)
}

func TestJudgeUnknownProblemIsInternal(t *testing.T) {
	probs := problems.NewRepo(t.TempDir(), nil)
	sandbox := &fakeSandbox{script: func(cmd string, stdin []byte) (*isolate.RunResult, error) {
		return okRun(""), nil
	}}
	engine := judge.NewEngine(sandbox, probs, testutil.Logger())

	outcome, err := engine.Judge(context.Background(), pythonSub())
	require.NoError(t, err)
	require.Equal(t, api.VerdictIE, outcome.Verdict)
}

func TestJudgeSandboxFailureIsTransient(t *testing.T) {
	probs := writeProblem(t, [][2]string{{"3 4\n", "7\n"}}, "")
	sandbox := &fakeSandbox{script: func(cmd string, stdin []byte) (*isolate.RunResult, error) {
		return nil, fmt.Errorf("temp dir exhausted")
	}}
	engine := judge.NewEngine(sandbox, probs, testutil.Logger())

	_, err := engine.Judge(context.Background(), pythonSub())
	require.Error(t, err, "infrastructure failures propagate for the reaper to retry")
}

func TestJudgeLanguageNotAllowed(t *testing.T) {
	probs := writeProblem(t, [][2]string{{"3 4\n", "7\n"}}, "languages_allowed: [cpp]\n")
	sandbox := &fakeSandbox{script: func(cmd string, stdin []byte) (*isolate.RunResult, error) {
		return okRun(""), nil
	}}
	engine := judge.NewEngine(sandbox, probs, testutil.Logger())

	outcome, err := engine.Judge(context.Background(), pythonSub())
	require.NoError(t, err)
	require.Equal(t, api.VerdictIE, outcome.Verdict)
}
