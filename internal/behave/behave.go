// Package behave parses TOML behaviour files: end-to-end judging scenarios
// the local CLI runs against on-disk problem packages.
package behave

import (
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/pelletier/go-toml/v2"

	"github.com/codeproof/judge/api"
)

// SpecRequest is the request block inside a scenario entry.
type SpecRequest struct {
	ProblemID string `toml:"problem_id"`
	LangID    string `toml:"lang_id"`
	UserID    int64  `toml:"user_id"`
	Code      string `toml:"code"`
	CodeFile  string `toml:"code_file"`
}

// SpecTestVerdict is an expected per-test verdict.
type SpecTestVerdict struct {
	Verdict string `toml:"verdict"`
}

// SpecExpect is the expected outcome of a scenario.
type SpecExpect struct {
	Verdict     string            `toml:"verdict"`
	MinPoints   float64           `toml:"min_points"`
	TestResults []SpecTestVerdict `toml:"test_results"`
}

// The request is written as an array-of-table in the scenario files, so it
// is modeled as a slice and the first element is used.
type specSuite struct {
	Description string        `toml:"description"`
	RequestAOT  []SpecRequest `toml:"request"`
	Expect      SpecExpect    `toml:"expect"`
}

type specRoot struct {
	Suites []specSuite `toml:"scenarios"`
}

// Case is a runnable scenario converted from TOML.
type Case struct {
	Name   string
	Intake api.SubmIntake
	Expect SpecExpect
}

// Parse reads a behaviour TOML file into runnable cases.
func Parse(path string) ([]Case, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read behaviour file: %w", err)
	}
	var root specRoot
	if err := toml.Unmarshal(data, &root); err != nil {
		return nil, fmt.Errorf("failed to parse TOML: %w", err)
	}

	cases := make([]Case, 0, len(root.Suites))
	for _, suite := range root.Suites {
		if len(suite.RequestAOT) == 0 {
			return nil, fmt.Errorf("scenario %q is missing a request block", suite.Description)
		}
		req := suite.RequestAOT[0]

		code := req.Code
		if code == "" && req.CodeFile != "" {
			b, err := os.ReadFile(req.CodeFile)
			if err != nil {
				return nil, fmt.Errorf("failed to read code file: %w", err)
			}
			code = string(b)
		}
		if req.ProblemID == "" || req.LangID == "" || code == "" {
			return nil, fmt.Errorf("scenario %q needs problem_id, lang_id and code", suite.Description)
		}

		userID := req.UserID
		if userID == 0 {
			userID = 1
		}

		cases = append(cases, Case{
			Name: suite.Description,
			Intake: api.SubmIntake{
				SubmUuid:  uuid.NewString(),
				UserID:    userID,
				ProblemID: req.ProblemID,
				LangID:    req.LangID,
				SrcCode:   code,
			},
			Expect: suite.Expect,
		})
	}
	return cases, nil
}
