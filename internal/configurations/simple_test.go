package simple

import (
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cochaviz/denv/internal/engine"
)

func newTestRuntime(t *testing.T) *Runtime {
	t.Helper()
	t.Setenv("DENV_STATE_DIR", t.TempDir())
	runtime, err := NewRuntime(slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	return runtime
}

func TestNewRuntimeCreatesStateTree(t *testing.T) {
	runtime := newTestRuntime(t)
	assert.DirExists(t, runtime.Dirs.StateDir)
	assert.DirExists(t, runtime.Dirs.RuntimeDir)
	assert.DirExists(t, runtime.Dirs.EnvironmentsDir())
}

func TestOrchestratorWiring(t *testing.T) {
	runtime := newTestRuntime(t)

	orchestrator, err := runtime.Orchestrator(engine.KindDocker, nil, nil)
	require.NoError(t, err)
	assert.NotNil(t, orchestrator.Driver)
	assert.NotNil(t, orchestrator.Store)
	assert.NotNil(t, orchestrator.Validator)
	assert.NotNil(t, orchestrator.Resolver)
	assert.Equal(t, 30, orchestrator.Poll.Attempts)
}

func TestTempManagerWiring(t *testing.T) {
	runtime := newTestRuntime(t)

	manager, err := runtime.TempManager(engine.KindPodman, nil)
	require.NoError(t, err)
	assert.NotNil(t, manager.Orchestrator)
	assert.NotNil(t, manager.Store)
	assert.Same(t, runtime.Cleanup, manager.Cleanup)
}
