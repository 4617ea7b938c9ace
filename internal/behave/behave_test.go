package behave_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/codeproof/judge/internal/behave"
)

const scenarioToml = `
[[scenarios]]
description = "prints the sum"

[[scenarios.request]]
problem_id = "sum"
lang_id = "python"
user_id = 42
code = "print(sum(map(int, input().split())))"

[scenarios.expect]
verdict = "AC"
min_points = 1.0

[[scenarios]]
description = "prints the wrong sum"

[[scenarios.request]]
problem_id = "sum"
lang_id = "python"
code = "print(8)"

[scenarios.expect]
verdict = "WA"
`

func TestParseScenarios(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scenarios.toml")
	require.NoError(t, os.WriteFile(path, []byte(scenarioToml), 0644))

	cases, err := behave.Parse(path)
	require.NoError(t, err)
	require.Len(t, cases, 2)

	require.Equal(t, "prints the sum", cases[0].Name)
	require.Equal(t, "sum", cases[0].Intake.ProblemID)
	require.Equal(t, "python", cases[0].Intake.LangID)
	require.EqualValues(t, 42, cases[0].Intake.UserID)
	require.NotEmpty(t, cases[0].Intake.SubmUuid)
	require.Equal(t, "AC", cases[0].Expect.Verdict)
	require.Equal(t, 1.0, cases[0].Expect.MinPoints)

	require.EqualValues(t, 1, cases[1].Intake.UserID, "user defaults to 1")
	require.NotEqual(t, cases[0].Intake.SubmUuid, cases[1].Intake.SubmUuid)
}

func TestParseRejectsIncomplete(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scenarios.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[[scenarios]]
description = "no request block"
[scenarios.expect]
verdict = "AC"
`), 0644))

	_, err := behave.Parse(path)
	require.Error(t, err)
}
