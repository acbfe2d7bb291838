// Package simple wires the default configuration of denv: exec-backed
// engine drivers, the per-user state tree, path validation, and the
// cleanup coordinator, assembled into the orchestrator and temp
// manager the CLI drives.
package simple

import (
	"log/slog"

	"github.com/cochaviz/denv/internal/cleanup"
	"github.com/cochaviz/denv/internal/engine"
	"github.com/cochaviz/denv/internal/engine/docker"
	"github.com/cochaviz/denv/internal/engine/podman"
	"github.com/cochaviz/denv/internal/environment"
	"github.com/cochaviz/denv/internal/logging"
	"github.com/cochaviz/denv/internal/pathsec"
	"github.com/cochaviz/denv/internal/setup"
	"github.com/cochaviz/denv/internal/tempenv"
)

// Runtime holds the pieces shared by every command invocation.
type Runtime struct {
	Dirs    setup.Dirs
	Cleanup *cleanup.Coordinator
	Logger  *slog.Logger
}

// NewRuntime resolves the state directories, creates them if needed,
// and starts a cleanup coordinator over the runtime scratch root.
func NewRuntime(logger *slog.Logger) (*Runtime, error) {
	logger = logging.Ensure(logger)

	dirs, err := setup.DefaultDirs()
	if err != nil {
		return nil, err
	}
	if err := dirs.Ensure(); err != nil {
		return nil, err
	}
	coordinator, err := cleanup.NewCoordinator(dirs.RuntimeDir, logger.With("component", "cleanup"))
	if err != nil {
		return nil, err
	}
	return &Runtime{Dirs: dirs, Cleanup: coordinator, Logger: logger}, nil
}

// Driver returns the exec-backed adapter for the requested engine.
func (r *Runtime) Driver(kind engine.Kind) engine.Driver {
	runner := engine.ExecRunner{}
	if kind == engine.KindPodman {
		return podman.New(runner)
	}
	return docker.New(runner)
}

// Orchestrator assembles a lifecycle orchestrator over the runtime's
// state tree. Provisioner and confirm may be nil.
func (r *Runtime) Orchestrator(kind engine.Kind, provisioner environment.Provisioner, confirm func(string) bool) (*environment.Orchestrator, error) {
	store, err := environment.NewStore(r.Dirs.EnvironmentsDir())
	if err != nil {
		return nil, err
	}
	validator := pathsec.NewValidator(r.Logger.With("component", "pathsec"))
	return &environment.Orchestrator{
		Driver:      r.Driver(kind),
		Store:       store,
		Validator:   validator,
		Resolver:    pathsec.NewResolver(validator),
		Provisioner: provisioner,
		Logger:      r.Logger.With("component", "environment"),
		Poll:        environment.DefaultPollConfig(),
		Confirm:     confirm,
	}, nil
}

// TempManager assembles the throwaway-environment manager. The temp
// environment has no project config, so it never provisions.
func (r *Runtime) TempManager(kind engine.Kind, confirm func(string) bool) (*tempenv.Manager, error) {
	orchestrator, err := r.Orchestrator(kind, nil, confirm)
	if err != nil {
		return nil, err
	}
	return &tempenv.Manager{
		Orchestrator: orchestrator,
		Store:        tempenv.NewStore(r.Dirs.TempStateFile(), r.Cleanup),
		Cleanup:      r.Cleanup,
		Dirs:         r.Dirs,
		Logger:       r.Logger.With("component", "tempenv"),
	}, nil
}
