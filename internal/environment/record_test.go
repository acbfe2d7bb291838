package environment

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cochaviz/denv/internal/engine"
	"github.com/cochaviz/denv/internal/mount"
)

func TestStoreRoundTrip(t *testing.T) {
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)

	record := &Record{
		Name:   "web",
		Engine: engine.KindPodman,
		State:  StateRunning,
		Image:  "ubuntu:24.04",
		Mounts: []mount.Spec{
			{Source: "/home/dev/web", Target: "/workspace/web", Permission: mount.ReadOnly},
		},
		CreatedAt: time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC),
	}
	require.NoError(t, store.Save(record))

	loaded, err := store.Load("web")
	require.NoError(t, err)
	assert.Equal(t, record, loaded)
}

func TestStoreLoadMissing(t *testing.T) {
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)

	_, err = store.Load("ghost")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStoreDeleteMissingIsFine(t *testing.T) {
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)
	assert.NoError(t, store.Delete("ghost"))
}

func TestStoreListSortsByName(t *testing.T) {
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)
	for _, name := range []string{"zulu", "alpha", "mike"} {
		require.NoError(t, store.Save(&Record{Name: name, State: StateStopped}))
	}

	records, err := store.List()
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, "alpha", records[0].Name)
	assert.Equal(t, "mike", records[1].Name)
	assert.Equal(t, "zulu", records[2].Name)
}

func TestContainerNameSuffix(t *testing.T) {
	record := &Record{Name: "web"}
	assert.Equal(t, "web-dev", record.ContainerName())
}
