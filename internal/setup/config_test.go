package setup

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultDirsHonorsOverride(t *testing.T) {
	root := t.TempDir()
	t.Setenv("DENV_STATE_DIR", root)

	dirs, err := DefaultDirs()
	require.NoError(t, err)
	assert.Equal(t, root, dirs.StateDir)
	assert.Equal(t, filepath.Join(root, "runtime"), dirs.RuntimeDir)
}

func TestEnsureThenVerify(t *testing.T) {
	t.Setenv("DENV_STATE_DIR", filepath.Join(t.TempDir(), "state"))
	dirs, err := DefaultDirs()
	require.NoError(t, err)

	require.Error(t, Verify(dirs))
	require.NoError(t, dirs.Ensure())
	require.NoError(t, Verify(dirs))

	// Ensure is idempotent.
	require.NoError(t, dirs.Ensure())
}

func TestVerifyRejectsFileInPlaceOfDirectory(t *testing.T) {
	root := t.TempDir()
	t.Setenv("DENV_STATE_DIR", root)
	dirs, err := DefaultDirs()
	require.NoError(t, err)
	require.NoError(t, dirs.Ensure())

	require.NoError(t, os.RemoveAll(dirs.EnvironmentsDir()))
	require.NoError(t, os.WriteFile(dirs.EnvironmentsDir(), []byte("not a dir"), 0o644))
	assert.ErrorContains(t, Verify(dirs), "not a directory")
}
