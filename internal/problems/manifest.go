package problems

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Manifest is the problem.yml file at the root of a problem package.
type Manifest struct {
	ID         string `yaml:"id"`
	TitleEn    string `yaml:"title_en"`
	TitleEs    string `yaml:"title_es"`
	Difficulty string `yaml:"difficulty"` // easy | medium | hard

	// Status gates judging: only approved problems receive counted
	// submissions. Reviewers flip this in the package; absent means
	// approved.
	Status string `yaml:"status"` // pending | approved | rejected

	BasePoints     float64 `yaml:"base_points"`
	TimeLimitMs    int64   `yaml:"time_limit_ms"`
	MemoryLimitKiB int64   `yaml:"memory_limit_kib"`
	StdoutCapBytes int     `yaml:"stdout_cap_bytes"`

	Samples []ManifestTest `yaml:"samples"`
	Tests   []ManifestTest `yaml:"tests"`

	LanguagesAllowed []string `yaml:"languages_allowed"`

	// Checker is a path (relative to the package) to a custom checker
	// source that replaces the default comparator.
	Checker *string `yaml:"checker"`
}

// ManifestTest names one test's input and answer. Either local paths
// relative to the package, or sha256+url pairs resolved through the
// filestore cache.
type ManifestTest struct {
	In  string `yaml:"in"`
	Out string `yaml:"out"`

	InSha256  string `yaml:"in_sha256"`
	InURL     string `yaml:"in_url"`
	OutSha256 string `yaml:"out_sha256"`
	OutURL    string `yaml:"out_url"`
}

const defaultStdoutCap = 1 << 20

// ReadManifest parses and validates a problem.yml.
func ReadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to parse manifest: %w", err)
	}
	if err := m.Validate(); err != nil {
		return nil, fmt.Errorf("invalid manifest %s: %w", path, err)
	}
	return &m, nil
}

// Validate checks manifest sanity before any submission is judged against
// the package. Content problems caught here surface as IE, never as a
// user-code verdict.
func (m *Manifest) Validate() error {
	if m.ID == "" {
		return fmt.Errorf("missing id")
	}
	switch m.Difficulty {
	case "easy", "medium", "hard":
	default:
		return fmt.Errorf("unknown difficulty %q", m.Difficulty)
	}
	switch m.Status {
	case "":
		m.Status = "approved"
	case "pending", "approved", "rejected":
	default:
		return fmt.Errorf("unknown status %q", m.Status)
	}
	if m.BasePoints <= 0 {
		return fmt.Errorf("base_points must be positive")
	}
	if m.TimeLimitMs <= 0 || m.MemoryLimitKiB <= 0 {
		return fmt.Errorf("limits must be positive")
	}
	if len(m.Tests) == 0 {
		return fmt.Errorf("no tests declared")
	}
	for i, t := range m.Tests {
		local := t.In != "" && t.Out != ""
		remote := t.InSha256 != "" && t.InURL != "" && t.OutSha256 != "" && t.OutURL != ""
		if !local && !remote {
			return fmt.Errorf("test %d has neither local paths nor sha256+url pairs", i+1)
		}
	}
	if m.StdoutCapBytes == 0 {
		m.StdoutCapBytes = defaultStdoutCap
	}
	return nil
}
