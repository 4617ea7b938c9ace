// Package problems loads on-disk problem packages: a directory per problem
// holding problem.yml, tests/<n>.in and tests/<n>.out, and optionally a
// checker/ with a custom checker source. Remote test blobs are pulled
// through the filestore cache.
package problems

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/codeproof/judge/internal/filestore"
)

// Problem is a loaded package ready for judging.
type Problem struct {
	Manifest Manifest
	Dir      string

	Tests []TestCase

	// CheckerSrc is the custom checker source, nil for the default
	// comparator.
	CheckerSrc []byte
}

// LangAllowed reports whether the language tag may be submitted.
// An empty languages_allowed list admits every registered language.
func (p *Problem) LangAllowed(langID string) bool {
	if len(p.Manifest.LanguagesAllowed) == 0 {
		return true
	}
	for _, id := range p.Manifest.LanguagesAllowed {
		if id == langID {
			return true
		}
	}
	return false
}

// TestCase resolves one test's input and answer, local or filestore-backed.
type TestCase struct {
	ID     int
	Sample bool

	inPath, ansPath string
	inSha, ansSha   string
	fs              *filestore.FileStore
}

func (t *TestCase) Input() ([]byte, error) {
	if t.inPath != "" {
		return os.ReadFile(t.inPath)
	}
	return t.fs.Await(t.inSha)
}

func (t *TestCase) Answer() ([]byte, error) {
	if t.ansPath != "" {
		return os.ReadFile(t.ansPath)
	}
	return t.fs.Await(t.ansSha)
}

// Repo loads and caches problem packages under a root directory.
type Repo struct {
	root string
	fs   *filestore.FileStore

	mu     sync.Mutex
	loaded map[string]*Problem
}

// NewRepo creates a package repository rooted at root. fs may be nil when
// every package uses local test files only.
func NewRepo(root string, fs *filestore.FileStore) *Repo {
	return &Repo{
		root:   root,
		fs:     fs,
		loaded: make(map[string]*Problem),
	}
}

// Get returns the package for problemID, loading and validating it on first
// use.
func (r *Repo) Get(problemID string) (*Problem, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if p, ok := r.loaded[problemID]; ok {
		return p, nil
	}
	p, err := r.load(problemID)
	if err != nil {
		return nil, err
	}
	r.loaded[problemID] = p
	return p, nil
}

// Invalidate drops a cached package, forcing a reload on next Get.
func (r *Repo) Invalidate(problemID string) {
	r.mu.Lock()
	delete(r.loaded, problemID)
	r.mu.Unlock()
}

func (r *Repo) load(problemID string) (*Problem, error) {
	dir := filepath.Join(r.root, problemID)
	m, err := ReadManifest(filepath.Join(dir, "problem.yml"))
	if err != nil {
		return nil, err
	}
	if m.ID != problemID {
		return nil, fmt.Errorf("manifest id %q does not match package directory %q", m.ID, problemID)
	}

	p := &Problem{Manifest: *m, Dir: dir}

	addTests := func(entries []ManifestTest, sample bool) error {
		for _, e := range entries {
			tc := TestCase{ID: len(p.Tests) + 1, Sample: sample}
			if e.In != "" {
				tc.inPath = filepath.Join(dir, e.In)
				tc.ansPath = filepath.Join(dir, e.Out)
				for _, path := range []string{tc.inPath, tc.ansPath} {
					if _, err := os.Stat(path); err != nil {
						return fmt.Errorf("test file missing: %w", err)
					}
				}
			} else {
				if r.fs == nil {
					return fmt.Errorf("test %d needs the filestore but none is configured", tc.ID)
				}
				tc.inSha, tc.ansSha = e.InSha256, e.OutSha256
				tc.fs = r.fs
				if err := r.fs.Schedule(e.InSha256, e.InURL); err != nil {
					return err
				}
				if err := r.fs.Schedule(e.OutSha256, e.OutURL); err != nil {
					return err
				}
			}
			p.Tests = append(p.Tests, tc)
		}
		return nil
	}

	// Samples are judged too; they run first in declared order.
	if err := addTests(m.Samples, true); err != nil {
		return nil, err
	}
	if err := addTests(m.Tests, false); err != nil {
		return nil, err
	}

	if m.Checker != nil {
		src, err := os.ReadFile(filepath.Join(dir, *m.Checker))
		if err != nil {
			return nil, fmt.Errorf("failed to read checker source: %w", err)
		}
		p.CheckerSrc = src
	}

	return p, nil
}
