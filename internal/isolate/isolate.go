// Package isolate wraps the isolate(1) sandbox binary. Each run happens in
// its own numbered box with a dedicated filesystem view, a process-namespace
// cap and cgroup-enforced cpu/memory limits.
package isolate

import (
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
)

// Isolate hands out sandbox boxes from a bounded free-list. Box ids are never
// shared between in-flight runs; acquisition blocks once all boxes are busy.
type Isolate struct {
	freeIDs chan int
	logger  *slog.Logger
}

// New probes the isolate binary and prepares a free-list of boxCount box ids.
func New(boxCount int, logger *slog.Logger) (*Isolate, error) {
	if boxCount < 1 {
		return nil, fmt.Errorf("box count must be positive, got %d", boxCount)
	}

	probe := exec.Command("isolate", "--version")
	if out, err := probe.CombinedOutput(); err != nil {
		return nil, fmt.Errorf("isolate binary unavailable: %w (%s)", err, strings.TrimSpace(string(out)))
	}

	ids := make(chan int, boxCount)
	for id := 0; id < boxCount; id++ {
		ids <- id
	}

	return &Isolate{freeIDs: ids, logger: logger}, nil
}

// BoxCount returns the size of the box free-list.
func (i *Isolate) BoxCount() int {
	return cap(i.freeIDs)
}

// AcquireBox blocks until a box id is free, then initializes a fresh box.
// The caller must Close the box on every exit path.
func (i *Isolate) AcquireBox(ctx context.Context) (*Box, error) {
	var id int
	select {
	case id = <-i.freeIDs:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	// A previous crash may have left the box dirty.
	if err := i.cleanupBox(id); err != nil {
		i.freeIDs <- id
		return nil, fmt.Errorf("failed to cleanup box %d: %w", id, err)
	}

	path, err := i.initBox(id)
	if err != nil {
		i.freeIDs <- id
		return nil, fmt.Errorf("failed to init box %d: %w", id, err)
	}

	i.logger.Debug("acquired box", "id", id, "path", path)
	return &Box{id: id, path: path, isolate: i}, nil
}

func (i *Isolate) releaseBox(id int) error {
	err := i.cleanupBox(id)
	i.freeIDs <- id
	return err
}

func (i *Isolate) cleanupBox(id int) error {
	cmd := exec.Command("isolate", "--cg", "--cleanup", "--box-id", fmt.Sprint(id))
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("isolate cleanup: %w (%s)", err, strings.TrimSpace(string(out)))
	}
	return nil
}

// initBox initializes a box and returns its directory path.
func (i *Isolate) initBox(id int) (string, error) {
	cmd := exec.Command("isolate", "--cg", "--init", "--box-id", fmt.Sprint(id))
	out, err := cmd.Output()
	if err != nil {
		return "", fmt.Errorf("isolate init: %w", err)
	}
	return strings.TrimSuffix(string(out), "\n"), nil
}
