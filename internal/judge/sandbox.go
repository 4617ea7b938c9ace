package judge

import (
	"context"

	"github.com/codeproof/judge/internal/isolate"
)

// Sandbox hands out isolated boxes. Production uses the isolate pool; tests
// substitute a fake.
type Sandbox interface {
	AcquireBox(ctx context.Context) (Box, error)
}

// Box is one isolated workspace for a single compile or run.
type Box interface {
	AddFile(name string, content []byte) error
	AddExecutable(name string, content []byte) error
	HasFile(name string) bool
	GetFile(name string) ([]byte, error)
	Run(ctx context.Context, command string, stdin []byte, constraints *isolate.Constraints) (*isolate.RunResult, error)
	Close() error
}

type isolateSandbox struct {
	iso *isolate.Isolate
}

// NewIsolateSandbox adapts the isolate pool to the Sandbox interface.
func NewIsolateSandbox(iso *isolate.Isolate) Sandbox {
	return &isolateSandbox{iso: iso}
}

func (s *isolateSandbox) AcquireBox(ctx context.Context) (Box, error) {
	return s.iso.AcquireBox(ctx)
}
