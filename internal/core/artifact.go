package core

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/google/uuid"
)

// ArtifactRole identifies which compile produced a temporary binary.
type ArtifactRole string

const (
	RoleBaseline   ArtifactRole = "original"
	RoleUnrolled   ArtifactRole = "unrolled"
	RoleDiagnostic ArtifactRole = "throw-away"
)

// CompiledArtifact is a temporary executable owned by exactly one check.
//
// The file is created empty by TempRegistry.Create, filled in by the
// compiler, and removed by Release. It is also tracked by its registry so a
// check that never releases it is still swept by TempRegistry.Cleanup.
type CompiledArtifact struct {
	Path   string
	Role   ArtifactRole
	Factor int

	registry *TempRegistry
}

// Release deletes the artifact. Releasing twice is a no-op.
func (a *CompiledArtifact) Release() error {
	if a == nil || a.registry == nil {
		return nil
	}
	return a.registry.Remove(a.Path)
}

// TempRegistry creates uniquely named temporary artifacts and remembers every
// path it handed out until the path is removed.
//
// Names embed the role, the unroll factor and a random UUID, so concurrent
// checks never collide. A TempRegistry is safe for concurrent use.
type TempRegistry struct {
	dir string

	mu    sync.Mutex
	paths map[string]struct{}
}

// NewTempRegistry creates a registry that places files in dir, or in
// os.TempDir() when dir is empty.
func NewTempRegistry(dir string) *TempRegistry {
	if dir == "" {
		dir = os.TempDir()
	}
	return &TempRegistry{dir: dir, paths: make(map[string]struct{})}
}

// Dir returns the directory artifacts are created in.
func (r *TempRegistry) Dir() string { return r.dir }

// Create makes a new empty, executable artifact file.
func (r *TempRegistry) Create(role ArtifactRole, factor int) (*CompiledArtifact, error) {
	name := fmt.Sprintf("duff-%s-%s.out", role, uuid.NewString())
	if factor > 0 {
		name = fmt.Sprintf("duff-test-factor-%d-%s-%s.out", factor, uuid.NewString(), role)
	}
	path := filepath.Join(r.dir, name)

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, ExecutableMode)
	if err != nil {
		return nil, &InfraError{Code: "temp-file", Message: fmt.Sprintf("creating %s", path), Cause: err}
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(path)
		return nil, &InfraError{Code: "temp-file", Message: fmt.Sprintf("closing %s", path), Cause: err}
	}
	// The umask may have stripped bits from the requested mode.
	if err := os.Chmod(path, ExecutableMode); err != nil {
		_ = os.Remove(path)
		return nil, &InfraError{Code: "temp-file", Message: fmt.Sprintf("chmod %s", path), Cause: err}
	}

	r.mu.Lock()
	r.paths[path] = struct{}{}
	r.mu.Unlock()

	return &CompiledArtifact{Path: path, Role: role, Factor: factor, registry: r}, nil
}

// Remove deletes path and forgets it. A path that no longer exists is not
// an error.
func (r *TempRegistry) Remove(path string) error {
	err := os.Remove(path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("removing %s: %w", path, err)
	}
	r.mu.Lock()
	delete(r.paths, path)
	r.mu.Unlock()
	return nil
}

// Pending returns the tracked paths that have not been removed yet, sorted.
func (r *TempRegistry) Pending() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.paths))
	for p := range r.paths {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// Cleanup removes every tracked path. It is meant to run when the harness
// exits, normally or on a signal, and may be called repeatedly.
func (r *TempRegistry) Cleanup() error {
	var errs []error
	for _, p := range r.Pending() {
		if err := r.Remove(p); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
