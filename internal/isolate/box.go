package isolate

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
)

// Box is one isolated workspace. It is valid until Close, which tears down
// the workspace and returns the box id to the free-list.
type Box struct {
	id      int
	path    string
	isolate *Isolate
	closed  bool
}

func (box *Box) Id() int {
	return box.id
}

func (box *Box) Path() string {
	return box.path
}

// Close tears the box down unconditionally and releases its id. Safe to call
// more than once.
func (box *Box) Close() error {
	if box.closed {
		return nil
	}
	box.closed = true
	return box.isolate.releaseBox(box.id)
}

// AddFile writes content into the box's workspace under the given name.
func (box *Box) AddFile(name string, content []byte) error {
	return box.addFile(name, content, 0644)
}

// AddExecutable is AddFile with the executable bit set.
func (box *Box) AddExecutable(name string, content []byte) error {
	return box.addFile(name, content, 0755)
}

func (box *Box) addFile(name string, content []byte, perm os.FileMode) error {
	path := filepath.Join(box.path, "box", name)
	if err := os.WriteFile(path, content, perm); err != nil {
		return fmt.Errorf("failed to write %s into box %d: %w", name, box.id, err)
	}
	return nil
}

func (box *Box) HasFile(name string) bool {
	_, err := os.Stat(filepath.Join(box.path, "box", name))
	return err == nil
}

func (box *Box) GetFile(name string) ([]byte, error) {
	data, err := os.ReadFile(filepath.Join(box.path, "box", name))
	if err != nil {
		return nil, fmt.Errorf("failed to read %s from box %d: %w", name, box.id, err)
	}
	return data, nil
}

const (
	stdoutFname = ".stdout"
	stderrFname = ".stderr"
)

// Run executes command inside the box under the given constraints and blocks
// until the child tree is reaped. Stdout and stderr are captured into the
// workspace and read back truncated to the constraint caps. Cancelling ctx
// kills the child; the box itself stays usable until Close.
func (box *Box) Run(ctx context.Context, command string, stdin []byte, constraints *Constraints) (*RunResult, error) {
	if constraints == nil {
		c := DefaultConstraints()
		constraints = &c
	}

	metaFile, err := os.CreateTemp("", "isolate-meta.*.txt")
	if err != nil {
		return nil, fmt.Errorf("failed to create meta file: %w", err)
	}
	metaPath := metaFile.Name()
	_ = metaFile.Close()
	defer os.Remove(metaPath)

	args := []string{"--cg", "--box-id", fmt.Sprint(box.id),
		"--env=HOME=/box", "--env=PATH=/usr/local/bin:/usr/bin:/bin",
		"--meta=" + metaPath,
		"--stdout=" + stdoutFname,
		"--stderr=" + stderrFname,
	}
	args = append(args, constraints.ToArgs()...)
	args = append(args, "--run", "--", "/usr/bin/env")
	args = append(args, splitCommand(command)...)

	cmd := exec.CommandContext(ctx, "isolate", args...)
	if stdin != nil {
		cmd.Stdin = bytes.NewReader(stdin)
	}

	runErr := cmd.Run()
	if runErr != nil {
		// A non-zero exit is how isolate reports limit breaches; only
		// failures to spawn isolate itself are real errors.
		var exitErr *exec.ExitError
		if !errors.As(runErr, &exitErr) {
			return nil, fmt.Errorf("failed to run isolate: %w", runErr)
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
	}

	metaBytes, err := os.ReadFile(metaPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read meta file: %w", err)
	}
	metrics, err := parseMetaFile(metaBytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse meta file: %w", err)
	}

	res := resultFromMetrics(metrics, constraints)

	if stdout, err := box.GetFile(stdoutFname); err == nil {
		res.Stdout = truncate(stdout, constraints.StdoutCapBytes)
	}
	if stderr, err := box.GetFile(stderrFname); err == nil {
		res.Stderr = truncate(stderr, constraints.StderrCapBytes)
	}

	return res, nil
}

// splitCommand splits the run command on whitespace; quotes and escapes are
// not interpreted. Recipes in the language registry use plain words only.
func splitCommand(command string) []string {
	var words []string
	for _, w := range bytes.Fields([]byte(command)) {
		words = append(words, string(w))
	}
	return words
}
