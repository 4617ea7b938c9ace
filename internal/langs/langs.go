// Package langs is the closed registry of supported languages. Each entry is
// a data-only recipe: adding a language means adding a record here.
package langs

import "fmt"

// Language describes how one language's submissions are compiled and run
// inside the sandbox.
type Language struct {
	ID   string
	Name string

	// SourceFname is the file name the submission source is written under.
	SourceFname string

	// CompileCmd is nil for interpreted languages. It runs once per
	// submission with generous limits (see CompileConstraints).
	CompileCmd    *string
	CompiledFname *string

	// RunCmd executes the program; the compiled binary or the source file
	// is already present in the box under the name above.
	RunCmd string

	// MaxProcesses is the in-sandbox process cap. Managed runtimes need
	// room for their service threads.
	MaxProcesses int

	// ExtraCpuMillis and ExtraMemKiB are additive interpreter-overhead
	// allowances on top of the problem caps.
	ExtraCpuMillis int64
	ExtraMemKiB    int64
}

// Compiled reports whether the language has a compile step.
func (l *Language) Compiled() bool { return l.CompileCmd != nil }

func ptr(s string) *string { return &s }

var registry = []Language{
	{
		ID:          "python",
		Name:        "Python 3.10",
		SourceFname: "main.py",
		RunCmd:      "python3 main.py",

		MaxProcesses:   1,
		ExtraCpuMillis: 2000,
		ExtraMemKiB:    32 * 1024,
	},
	{
		ID:            "cpp",
		Name:          "C++17 (g++)",
		SourceFname:   "main.cpp",
		CompileCmd:    ptr("g++ -O2 -std=c++17 -o main main.cpp"),
		CompiledFname: ptr("main"),
		RunCmd:        "./main",

		MaxProcesses: 1,
	},
	{
		ID:            "rust",
		Name:          "Rust 2021",
		SourceFname:   "main.rs",
		CompileCmd:    ptr("rustc -O --edition 2021 -o main main.rs"),
		CompiledFname: ptr("main"),
		RunCmd:        "./main",

		MaxProcesses: 1,
	},
	{
		ID:          "javascript",
		Name:        "JavaScript (Node.js)",
		SourceFname: "main.js",
		RunCmd:      "node main.js",

		MaxProcesses:   8,
		ExtraCpuMillis: 2000,
		ExtraMemKiB:    128 * 1024,
	},
	{
		ID:            "go",
		Name:          "Go",
		SourceFname:   "main.go",
		CompileCmd:    ptr("go build -o main main.go"),
		CompiledFname: ptr("main"),
		RunCmd:        "./main",

		MaxProcesses: 16,
		ExtraMemKiB:  64 * 1024,
	},
}

// ByID resolves a language tag.
func ByID(id string) (*Language, error) {
	for i := range registry {
		if registry[i].ID == id {
			return &registry[i], nil
		}
	}
	return nil, fmt.Errorf("unknown language %q", id)
}

// All returns the registered languages in declaration order.
func All() []Language {
	out := make([]Language, len(registry))
	copy(out, registry)
	return out
}
