package sandbox_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mariozechner/guiding-agent/pkg/sandbox"
)

func TestCreateFile(t *testing.T) {
	dir := t.TempDir()

	f, err := sandbox.CreateFile(dir, "script.py", "print(1)")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "script.py"), f.Path())

	data, err := os.ReadFile(f.Path())
	require.NoError(t, err)
	assert.Equal(t, "print(1)", string(data))

	info, err := os.Stat(f.Path())
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	require.NoError(t, f.Remove())
	assert.NoFileExists(t, f.Path())

	// Second removal is a no-op.
	require.NoError(t, f.Remove())
}

func TestCreateFile_RefusesExisting(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "taken.py")
	require.NoError(t, os.WriteFile(path, []byte("original"), 0o600))

	_, err := sandbox.CreateFile(dir, "taken.py", "print(1)")
	require.Error(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "original", string(data))
}

func TestCreateFile_MissingDir(t *testing.T) {
	_, err := sandbox.CreateFile(filepath.Join(t.TempDir(), "missing"), "a.py", "x")
	require.Error(t, err)
}

func TestUniqueName(t *testing.T) {
	next := sandbox.UniqueName("script-", ".py")
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		name := next()
		assert.Regexp(t, `^script-[0-9a-f-]{36}\.py$`, name)
		assert.False(t, seen[name], "duplicate name %s", name)
		seen[name] = true
	}
}
