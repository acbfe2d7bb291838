package tempenv

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cochaviz/denv/internal/cleanup"
	"github.com/cochaviz/denv/internal/engine"
	"github.com/cochaviz/denv/internal/environment"
	"github.com/cochaviz/denv/internal/mount"
	"github.com/cochaviz/denv/internal/pathsec"
	"github.com/cochaviz/denv/internal/setup"
)

// fakeDriver succeeds at everything and lets a test script exec output
// by command name.
type fakeDriver struct {
	calls       []string
	execOutputs map[string]string
}

func (d *fakeDriver) record(call string) { d.calls = append(d.calls, call) }

func (d *fakeDriver) Ping(context.Context) error { return nil }

func (d *fakeDriver) Build(_ context.Context, spec engine.BuildSpec) error {
	d.record("build " + spec.Image)
	return nil
}

func (d *fakeDriver) Create(_ context.Context, spec engine.CreateSpec) error {
	d.record(fmt.Sprintf("create %s mounts=%d", spec.Name, len(spec.Mounts)))
	return nil
}

func (d *fakeDriver) Start(_ context.Context, name string) error {
	d.record("start " + name)
	return nil
}

func (d *fakeDriver) Stop(_ context.Context, name string) error {
	d.record("stop " + name)
	return nil
}

func (d *fakeDriver) Remove(_ context.Context, name string, _ bool) error {
	d.record("remove " + name)
	return nil
}

func (d *fakeDriver) Exec(_ context.Context, _ string, command []string) (engine.Result, error) {
	d.record("exec " + strings.Join(command, " "))
	if output, ok := d.execOutputs[command[0]]; ok {
		return engine.Result{Stdout: output}, nil
	}
	return engine.Result{}, nil
}

func (d *fakeDriver) ExecInteractive(_ context.Context, _ string, command []string) error {
	d.record("exec-interactive " + strings.Join(command, " "))
	return nil
}

func (d *fakeDriver) CopyTo(_ context.Context, _, hostPath, guestPath string) error {
	d.record(fmt.Sprintf("copy %s -> %s", hostPath, guestPath))
	return nil
}

func (d *fakeDriver) Probe(context.Context, string) (engine.ProbeStatus, error) {
	return engine.ProbeStatus{Present: true, Running: true, Raw: "running"}, nil
}

func newTestManager(t *testing.T, driver engine.Driver) *Manager {
	t.Helper()
	root, err := filepath.EvalSymlinks(t.TempDir())
	require.NoError(t, err)
	dirs := setup.Dirs{StateDir: root, RuntimeDir: filepath.Join(root, "runtime")}
	require.NoError(t, dirs.Ensure())

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	coordinator, err := cleanup.NewCoordinator(dirs.RuntimeDir, logger)
	require.NoError(t, err)
	store, err := environment.NewStore(dirs.EnvironmentsDir())
	require.NoError(t, err)
	validator := pathsec.NewValidator(logger)

	return &Manager{
		Orchestrator: &environment.Orchestrator{
			Driver:    driver,
			Store:     store,
			Validator: validator,
			Resolver:  pathsec.NewResolver(validator),
			Logger:    logger,
			Poll:      environment.PollConfig{Attempts: 2, Delay: time.Millisecond},
		},
		Store:   NewStore(dirs.TempStateFile(), coordinator),
		Cleanup: coordinator,
		Dirs:    dirs,
		Logger:  logger,
	}
}

func testMount(t *testing.T) mount.Spec {
	t.Helper()
	source, err := filepath.EvalSymlinks(t.TempDir())
	require.NoError(t, err)
	return mount.NewSpec(source, mount.ReadWrite)
}

func TestUpCreatesTempEnvironment(t *testing.T) {
	driver := &fakeDriver{}
	manager := newTestManager(t, driver)
	spec := testMount(t)

	state, attached, err := manager.Up(context.Background(), UpOptions{Mounts: []mount.Spec{spec}})
	require.NoError(t, err)
	assert.False(t, attached)
	assert.Equal(t, "temp-dev", state.ContainerName)
	assert.Equal(t, DefaultImage, state.Image)

	// The project directory holds a symlink per mount.
	link := filepath.Join(state.ProjectDir, filepath.Base(spec.Source))
	target, err := os.Readlink(link)
	require.NoError(t, err)
	assert.Equal(t, spec.Source, target)

	marker, err := os.ReadFile(manager.Dirs.TempProjectMarker())
	require.NoError(t, err)
	assert.Equal(t, state.ProjectDir, strings.TrimSpace(string(marker)))

	persisted, err := manager.Store.Load()
	require.NoError(t, err)
	assert.Equal(t, state.ContainerName, persisted.ContainerName)
}

func TestUpProjectDirSurvivesCleanupPass(t *testing.T) {
	driver := &fakeDriver{}
	manager := newTestManager(t, driver)

	state, _, err := manager.Up(context.Background(), UpOptions{Mounts: []mount.Spec{testMount(t)}})
	require.NoError(t, err)

	// The exit cleanup pass must not take the project directory with
	// it; only temp destroy may.
	require.NoError(t, manager.Cleanup.Run())
	assert.DirExists(t, state.ProjectDir)
}

func TestUpAttachesToRunningEnvironment(t *testing.T) {
	driver := &fakeDriver{}
	manager := newTestManager(t, driver)
	spec := testMount(t)

	first, attached, err := manager.Up(context.Background(), UpOptions{Mounts: []mount.Spec{spec}})
	require.NoError(t, err)
	require.False(t, attached)

	second, attached, err := manager.Up(context.Background(), UpOptions{Mounts: []mount.Spec{spec}})
	require.NoError(t, err)
	assert.True(t, attached)
	assert.Equal(t, first.ContainerName, second.ContainerName)
}

func TestUpRequiresMounts(t *testing.T) {
	manager := newTestManager(t, &fakeDriver{})
	_, _, err := manager.Up(context.Background(), UpOptions{})
	assert.ErrorContains(t, err, "at least one mount")
}

func TestDestroyRemovesEverything(t *testing.T) {
	driver := &fakeDriver{}
	manager := newTestManager(t, driver)

	state, _, err := manager.Up(context.Background(), UpOptions{Mounts: []mount.Spec{testMount(t)}})
	require.NoError(t, err)

	require.NoError(t, manager.Destroy(context.Background(), false))
	assert.NoDirExists(t, state.ProjectDir)
	assert.NoFileExists(t, manager.Dirs.TempProjectMarker())
	_, err = manager.Store.Load()
	assert.ErrorIs(t, err, ErrNoState)

	// Destroying again has nothing to do.
	assert.NoError(t, manager.Destroy(context.Background(), false))
}

func TestDestroyRefusesProjectDirWithRealFiles(t *testing.T) {
	driver := &fakeDriver{}
	manager := newTestManager(t, driver)

	state, _, err := manager.Up(context.Background(), UpOptions{Mounts: []mount.Spec{testMount(t)}})
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(state.ProjectDir, "notes.txt"), []byte("do not lose"), 0o644))

	err = manager.Destroy(context.Background(), false)
	require.Error(t, err)
	assert.ErrorContains(t, err, "refusing to remove")
	assert.FileExists(t, filepath.Join(state.ProjectDir, "notes.txt"))
}

func TestMountAddsAndRecreates(t *testing.T) {
	driver := &fakeDriver{}
	manager := newTestManager(t, driver)
	first := testMount(t)
	second := testMount(t)

	_, _, err := manager.Up(context.Background(), UpOptions{Mounts: []mount.Spec{first}})
	require.NoError(t, err)

	require.NoError(t, manager.Mount(context.Background(), []mount.Spec{second}))

	mounts, err := manager.Mounts()
	require.NoError(t, err)
	require.Len(t, mounts, 2)
	assert.Contains(t, driver.calls, "create temp-dev mounts=2")

	// Mounting the same source twice is rejected.
	err = manager.Mount(context.Background(), []mount.Spec{second})
	assert.ErrorContains(t, err, "already mounted")
}

func TestUnmountRemovesAndRecreates(t *testing.T) {
	driver := &fakeDriver{}
	manager := newTestManager(t, driver)
	first := testMount(t)
	second := testMount(t)

	_, _, err := manager.Up(context.Background(), UpOptions{Mounts: []mount.Spec{first, second}})
	require.NoError(t, err)

	require.NoError(t, manager.Unmount(context.Background(), first.Source))
	mounts, err := manager.Mounts()
	require.NoError(t, err)
	require.Len(t, mounts, 1)
	assert.Equal(t, second.Source, mounts[0].Source)

	err = manager.Unmount(context.Background(), first.Source)
	assert.ErrorContains(t, err, "not mounted")
}

func TestSSHCapturesSyncDirectory(t *testing.T) {
	driver := &fakeDriver{execOutputs: map[string]string{"cat": "/workspace/src/pkg\n"}}
	manager := newTestManager(t, driver)
	spec := testMount(t)

	_, _, err := manager.Up(context.Background(), UpOptions{Mounts: []mount.Spec{spec}})
	require.NoError(t, err)

	require.NoError(t, manager.SSH(context.Background()))

	data, err := os.ReadFile(manager.Dirs.TempSyncFile())
	require.NoError(t, err)
	assert.Equal(t, "/workspace/src/pkg", strings.TrimSpace(string(data)))

	interactive := false
	for _, call := range driver.calls {
		if strings.HasPrefix(call, "exec-interactive bash --rcfile") {
			interactive = true
		}
	}
	assert.True(t, interactive)
}

func TestSSHAutoDestroyTearsDownAfterSession(t *testing.T) {
	driver := &fakeDriver{}
	manager := newTestManager(t, driver)

	state, _, err := manager.Up(context.Background(), UpOptions{
		Mounts:      []mount.Spec{testMount(t)},
		AutoDestroy: true,
	})
	require.NoError(t, err)

	require.NoError(t, manager.SSH(context.Background()))
	assert.NoDirExists(t, state.ProjectDir)
	_, err = manager.Store.Load()
	assert.ErrorIs(t, err, ErrNoState)
}
