package core

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTempRegistry_CreateNamesAndPermissions(t *testing.T) {
	reg := NewTempRegistry(t.TempDir())

	a, err := reg.Create(RoleUnrolled, 5)
	require.NoError(t, err)

	base := filepath.Base(a.Path)
	assert.True(t, strings.HasPrefix(base, "duff-test-factor-5-"), base)
	assert.True(t, strings.HasSuffix(base, "-unrolled.out"), base)
	assert.Equal(t, RoleUnrolled, a.Role)
	assert.Equal(t, 5, a.Factor)

	info, err := os.Stat(a.Path)
	require.NoError(t, err)
	assert.Equal(t, ExecutableMode, info.Mode().Perm())

	d, err := reg.Create(RoleDiagnostic, 0)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(filepath.Base(d.Path), "duff-throw-away-"))

	assert.Equal(t, 2, len(reg.Pending()))
}

func TestTempRegistry_ReleaseIsIdempotent(t *testing.T) {
	reg := NewTempRegistry(t.TempDir())
	a, err := reg.Create(RoleBaseline, 4)
	require.NoError(t, err)

	require.NoError(t, a.Release())
	require.NoError(t, a.Release())

	_, err = os.Stat(a.Path)
	assert.True(t, os.IsNotExist(err))
	assert.Empty(t, reg.Pending())

	var nilArtifact *CompiledArtifact
	assert.NoError(t, nilArtifact.Release())
}

// TestTempRegistry_ConcurrentCreateNeverCollides creates artifacts for the
// same role and factor from many goroutines.
func TestTempRegistry_ConcurrentCreateNeverCollides(t *testing.T) {
	dir := t.TempDir()
	reg := NewTempRegistry(dir)

	const n = 64
	var wg sync.WaitGroup
	paths := make([]string, n)
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			a, err := reg.Create(RoleBaseline, 4)
			errs[i] = err
			if err == nil {
				paths[i] = a.Path
			}
		}(i)
	}
	wg.Wait()

	seen := make(map[string]bool, n)
	for i := 0; i < n; i++ {
		require.NoError(t, errs[i])
		assert.False(t, seen[paths[i]], "duplicate path %s", paths[i])
		seen[paths[i]] = true
	}

	require.NoError(t, reg.Cleanup())
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
	assert.Empty(t, reg.Pending())
}

func TestTempRegistry_CreateFailsInMissingDir(t *testing.T) {
	reg := NewTempRegistry(filepath.Join(t.TempDir(), "missing"))
	_, err := reg.Create(RoleBaseline, 4)
	require.Error(t, err)
	assert.Equal(t, CategoryInfra, Category(err))
}

func TestNewTempRegistry_DefaultsToTempDir(t *testing.T) {
	assert.Equal(t, os.TempDir(), NewTempRegistry("").Dir())
}
