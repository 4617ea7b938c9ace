package api

import "time"

// SubmIntake is the message an external layer sends to enqueue a submission.
// It maps one-to-one onto a PENDING submission row.
type SubmIntake struct {
	SubmUuid  string    `json:"subm_uuid"`
	UserID    int64     `json:"user_id"`
	ProblemID string    `json:"problem_id"`
	LangID    string    `json:"lang_id"`
	SrcCode   string    `json:"src_code"`
	Submitted time.Time `json:"submitted_at"`
}

// TestResult is the per-test record embedded in a submission's result vector.
// Stdout and stderr are truncated to the configured caps with a tail marker.
type TestResult struct {
	TestID  int     `json:"test_id"`
	Verdict Verdict `json:"verdict"`

	CpuMillis  int64 `json:"cpu_ms"`
	WallMillis int64 `json:"wall_ms"`
	MemKiB     int64 `json:"mem_kib"`

	ExitCode   int64  `json:"exit_code"`
	ExitSignal *int64 `json:"exit_signal,omitempty"`

	Stdout     string     `json:"stdout,omitempty"`
	Stderr     string     `json:"stderr,omitempty"`
	KillReason KillReason `json:"kill_reason,omitempty"`
}

// SubmResult is the verdict readback record for one submission.
type SubmResult struct {
	SubmUuid string  `json:"subm_uuid"`
	Verdict  Verdict `json:"verdict"`

	CpuMillis int64 `json:"cpu_ms"`
	MemKiB    int64 `json:"mem_kib"`

	PointsEarned float64      `json:"points_earned"`
	TestResults  []TestResult `json:"test_results"`
	CompileOut   string       `json:"compile_out,omitempty"`

	JudgedAt *time.Time `json:"judged_at,omitempty"`
	BlockID  *int64     `json:"block_id,omitempty"`
}
