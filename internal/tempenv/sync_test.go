package tempenv

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cochaviz/denv/internal/mount"
)

func TestSyncDirectoryResolvesHostPath(t *testing.T) {
	manager := newTestManager(t, &fakeDriver{})
	hostDir := t.TempDir()

	require.NoError(t, manager.Store.Save(&State{
		ContainerName: "temp-dev",
		Mounts: []mount.Spec{
			{Source: hostDir, Target: "/workspace/src", Permission: mount.ReadWrite},
		},
	}))
	require.NoError(t, os.WriteFile(manager.Dirs.TempSyncFile(), []byte("/workspace/src/cmd/api\n"), 0o644))

	resolved, err := manager.SyncDirectory()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(hostDir, "cmd", "api"), resolved)
}

func TestSyncDirectoryExactMountTarget(t *testing.T) {
	manager := newTestManager(t, &fakeDriver{})
	hostDir := t.TempDir()

	require.NoError(t, manager.Store.Save(&State{
		Mounts: []mount.Spec{{Source: hostDir, Target: "/workspace/src"}},
	}))
	require.NoError(t, os.WriteFile(manager.Dirs.TempSyncFile(), []byte("/workspace/src\n"), 0o644))

	resolved, err := manager.SyncDirectory()
	require.NoError(t, err)
	assert.Equal(t, hostDir, resolved)
}

func TestSyncDirectoryOutsideMounts(t *testing.T) {
	manager := newTestManager(t, &fakeDriver{})

	require.NoError(t, manager.Store.Save(&State{
		Mounts: []mount.Spec{{Source: t.TempDir(), Target: "/workspace/src"}},
	}))
	require.NoError(t, os.WriteFile(manager.Dirs.TempSyncFile(), []byte("/etc\n"), 0o644))

	_, err := manager.SyncDirectory()
	assert.ErrorContains(t, err, "not under any mount target")
}

func TestSyncDirectoryWithoutRecord(t *testing.T) {
	manager := newTestManager(t, &fakeDriver{})
	_, err := manager.SyncDirectory()
	assert.ErrorIs(t, err, ErrNoSyncDir)
}
