package tempenv

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cochaviz/denv/internal/cleanup"
	"github.com/cochaviz/denv/internal/engine"
	"github.com/cochaviz/denv/internal/environment"
	"github.com/cochaviz/denv/internal/logging"
	"github.com/cochaviz/denv/internal/mount"
	"github.com/cochaviz/denv/internal/setup"
)

// DefaultImage is used when a temp invocation does not name one.
const DefaultImage = "ubuntu:24.04"

const (
	guestRcPath   = "/tmp/.denv-rc"
	guestSyncPath = "/tmp/.denv-sync"
)

// UpOptions configures creation of a temp environment. Mounts is
// required; the rest defaults.
type UpOptions struct {
	Mounts      []mount.Spec
	Image       string
	Engine      engine.Kind
	AutoDestroy bool
}

// Manager implements the throwaway-environment workflow on top of the
// lifecycle orchestrator and the cleanup coordinator.
type Manager struct {
	Orchestrator *environment.Orchestrator
	Store        *Store
	Cleanup      *cleanup.Coordinator
	Dirs         setup.Dirs
	Logger       *slog.Logger
}

func (m *Manager) logger() *slog.Logger {
	return logging.Ensure(m.Logger)
}

// Up attaches to the temp environment when it is already running, or
// creates it from the given mounts. The second return value reports
// whether an existing environment was attached to.
func (m *Manager) Up(ctx context.Context, opts UpOptions) (*State, bool, error) {
	if state, err := m.Store.Load(); err == nil {
		if record, loadErr := m.Orchestrator.Store.Load(EnvironmentName); loadErr == nil &&
			record.State == environment.StateRunning {
			m.logger().Info("attaching to running temp environment", "container", state.ContainerName)
			return state, true, nil
		}
		// Stale state from an earlier invocation; clear it before
		// creating fresh.
		m.logger().Debug("discarding stale temp environment state")
		if err := m.Destroy(ctx, true); err != nil {
			return nil, false, fmt.Errorf("clear stale temp environment: %w", err)
		}
	} else if !errors.Is(err, ErrNoState) {
		return nil, false, err
	}

	if len(opts.Mounts) == 0 {
		return nil, false, errors.New("a temp environment needs at least one mount")
	}
	if opts.Image == "" {
		opts.Image = DefaultImage
	}

	projectDir, err := m.Cleanup.CreateScratchDir("temp-project")
	if err != nil {
		return nil, false, err
	}
	if err := m.linkMounts(projectDir, opts.Mounts); err != nil {
		return nil, false, err
	}

	record, err := m.Orchestrator.Create(ctx, environment.CreateOptions{
		Name:   EnvironmentName,
		Engine: opts.Engine,
		Build:  engine.BuildSpec{Image: opts.Image},
		Mounts: opts.Mounts,
		Force:  true,
	})
	if err != nil {
		return nil, false, err
	}

	state := &State{
		ContainerName: record.ContainerName(),
		Engine:        opts.Engine,
		Image:         opts.Image,
		Mounts:        record.Mounts,
		CreatedAt:     time.Now().UTC(),
		ProjectDir:    projectDir,
		AutoDestroy:   opts.AutoDestroy,
	}
	if err := m.Store.Save(state); err != nil {
		return nil, false, err
	}
	if err := os.WriteFile(m.Dirs.TempProjectMarker(), []byte(projectDir+"\n"), 0o644); err != nil {
		return nil, false, fmt.Errorf("write project marker: %w", err)
	}
	// The project directory now outlives this invocation; it is
	// removed by temp destroy, not by the exit cleanup pass.
	if err := m.Cleanup.Deregister(projectDir); err != nil {
		m.logger().Warn("failed to deregister temp project directory", "path", projectDir, "error", err)
	}
	return state, false, nil
}

// linkMounts mirrors the mount sources as symlinks inside the scratch
// project directory, giving the temp environment a project-shaped root.
func (m *Manager) linkMounts(projectDir string, mounts []mount.Spec) error {
	for _, spec := range mounts {
		link := filepath.Join(projectDir, filepath.Base(spec.Source))
		if err := os.Symlink(spec.Source, link); err != nil && !errors.Is(err, os.ErrExist) {
			return fmt.Errorf("link mount into project directory: %w", err)
		}
	}
	return nil
}

// SSH opens an interactive shell in the temp environment. On session
// exit the shell's last working directory is captured inside the guest
// and persisted host-side for get-sync-directory. With auto-destroy
// set, the environment is torn down when the session ends.
func (m *Manager) SSH(ctx context.Context) error {
	state, err := m.Store.Load()
	if err != nil {
		return err
	}

	driver := m.Orchestrator.Driver
	rcFile, err := m.Cleanup.CreateScratchFile("temp-rc")
	if err != nil {
		return err
	}
	rc := fmt.Sprintf("[ -f ~/.bashrc ] && . ~/.bashrc\ntrap 'pwd > %s' EXIT\ncd %s 2>/dev/null || true\n",
		guestSyncPath, mount.DefaultTargetRoot)
	if err := os.WriteFile(rcFile, []byte(rc), 0o644); err != nil {
		return fmt.Errorf("write shell rc file: %w", err)
	}
	if err := driver.CopyTo(ctx, state.ContainerName, rcFile, guestRcPath); err != nil {
		return fmt.Errorf("copy shell rc file: %w", err)
	}

	sessionErr := driver.ExecInteractive(ctx, state.ContainerName, []string{"bash", "--rcfile", guestRcPath, "-i"})
	// The shell's exit status follows the user's last command; only
	// treat non-command failures (engine gone, context canceled) as
	// errors.
	var cmdErr *engine.CommandError
	if sessionErr != nil && !errors.As(sessionErr, &cmdErr) {
		return sessionErr
	}

	m.captureSyncDir(ctx, state.ContainerName)

	if state.AutoDestroy {
		m.logger().Info("auto-destroying temp environment")
		return m.Destroy(ctx, true)
	}
	return nil
}

// captureSyncDir copies the guest's recorded working directory to the
// host sync file. Best effort: a session that never wrote one is fine.
func (m *Manager) captureSyncDir(ctx context.Context, containerName string) {
	result, err := m.Orchestrator.Driver.Exec(ctx, containerName, []string{"cat", guestSyncPath})
	if err != nil {
		m.logger().Debug("no guest working directory recorded", "error", err)
		return
	}
	guestDir := strings.TrimSpace(result.Stdout)
	if guestDir == "" {
		return
	}
	if err := os.WriteFile(m.Dirs.TempSyncFile(), []byte(guestDir+"\n"), 0o644); err != nil {
		m.logger().Warn("failed to persist sync directory", "error", err)
	}
}

// Status reports the persisted temp state next to the engine's view.
func (m *Manager) Status(ctx context.Context) (*State, *environment.Status, error) {
	state, err := m.Store.Load()
	if err != nil {
		return nil, nil, err
	}
	status, err := m.Orchestrator.Status(ctx, EnvironmentName)
	if err != nil {
		return state, nil, err
	}
	return state, status, nil
}

// Mounts returns the current mount list.
func (m *Manager) Mounts() ([]mount.Spec, error) {
	state, err := m.Store.Load()
	if err != nil {
		return nil, err
	}
	return state.Mounts, nil
}

// Mount adds mounts to the temp environment. The engine cannot change
// a live container's mounts, so the environment is recreated with the
// extended list.
func (m *Manager) Mount(ctx context.Context, specs []mount.Spec) error {
	state, err := m.Store.Load()
	if err != nil {
		return err
	}
	for _, spec := range specs {
		canonical, err := m.Orchestrator.Validator.Validate(spec.Source)
		if err != nil {
			return err
		}
		spec.Source = canonical
		if state.hasMount(spec.Source) {
			return fmt.Errorf("%s is already mounted", spec.Source)
		}
		state.Mounts = append(state.Mounts, spec)
	}
	if err := m.linkMounts(state.ProjectDir, state.Mounts); err != nil {
		return err
	}
	return m.recreate(ctx, state)
}

// Unmount removes a mount by its source path. Removing the last mount
// is allowed; the environment is recreated with whatever remains.
func (m *Manager) Unmount(ctx context.Context, source string) error {
	state, err := m.Store.Load()
	if err != nil {
		return err
	}
	absolute, err := filepath.Abs(source)
	if err != nil {
		return fmt.Errorf("resolve %s: %w", source, err)
	}
	if resolved, err := filepath.EvalSymlinks(absolute); err == nil {
		absolute = resolved
	}

	kept := state.Mounts[:0]
	removed := false
	for _, spec := range state.Mounts {
		if spec.Source == absolute {
			removed = true
			link := filepath.Join(state.ProjectDir, filepath.Base(spec.Source))
			if err := os.Remove(link); err != nil && !errors.Is(err, os.ErrNotExist) {
				m.logger().Warn("failed to remove project link", "link", link, "error", err)
			}
			continue
		}
		kept = append(kept, spec)
	}
	if !removed {
		return fmt.Errorf("%s is not mounted", absolute)
	}
	state.Mounts = kept
	return m.recreate(ctx, state)
}

func (m *Manager) recreate(ctx context.Context, state *State) error {
	record, err := m.Orchestrator.Create(ctx, environment.CreateOptions{
		Name:   EnvironmentName,
		Engine: state.Engine,
		Build:  engine.BuildSpec{Image: state.Image},
		Mounts: state.Mounts,
		Force:  true,
	})
	if err != nil {
		return err
	}
	state.Mounts = record.Mounts
	return m.Store.Save(state)
}

// Destroy tears down the temp environment, its scratch project
// directory, and the bookkeeping files. Destroying when nothing exists
// is a success.
func (m *Manager) Destroy(ctx context.Context, force bool) error {
	var errs []error

	if err := m.Orchestrator.Destroy(ctx, EnvironmentName, force); err != nil {
		errs = append(errs, err)
	}

	state, stateErr := m.Store.Load()
	projectDir := ""
	if stateErr == nil {
		projectDir = state.ProjectDir
	} else if marker, err := os.ReadFile(m.Dirs.TempProjectMarker()); err == nil {
		projectDir = strings.TrimSpace(string(marker))
	}
	var projectErr error
	if projectDir != "" {
		projectErr = m.removeProjectDir(projectDir)
		if projectErr != nil {
			errs = append(errs, projectErr)
		}
	}

	paths := []string{m.Dirs.TempSyncFile()}
	if projectErr == nil {
		// Keep the marker while the directory is still on disk, so a
		// later destroy can find it again.
		paths = append(paths, m.Dirs.TempProjectMarker())
	}
	for _, path := range paths {
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, fmt.Errorf("remove %s: %w", path, err))
		}
	}
	if err := m.Store.Delete(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// removeProjectDir deletes the scratch project directory, with two
// guards: the path must match the scratch naming convention, and the
// directory must hold nothing but the symlinks the manager created.
// Real files mean user data; refuse rather than risk it.
func (m *Manager) removeProjectDir(projectDir string) error {
	if !m.Cleanup.IsScratchPath(projectDir) {
		m.logger().Warn("refusing to remove project directory outside the scratch root", "path", projectDir)
		return nil
	}
	entries, err := os.ReadDir(projectDir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("inspect project directory: %w", err)
	}
	for _, entry := range entries {
		if entry.Type()&os.ModeSymlink == 0 {
			m.logger().Warn("refusing to remove project directory with foreign entries",
				"path", projectDir, "entry", entry.Name())
			return fmt.Errorf("project directory %s contains %s, refusing to remove", projectDir, entry.Name())
		}
	}
	if err := os.RemoveAll(projectDir); err != nil {
		return fmt.Errorf("remove project directory: %w", err)
	}
	return nil
}

func (s *State) hasMount(source string) bool {
	for _, spec := range s.Mounts {
		if spec.Source == source {
			return true
		}
	}
	return false
}
