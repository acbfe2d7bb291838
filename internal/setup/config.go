package setup

import (
	"fmt"
	"os"
	"path/filepath"
)

// Dirs locates the per-user directories denv works in. All state shared
// across invocations (environment records, the temp-environment state,
// the scratch registry and its lock) lives under StateDir; scratch
// resources live under RuntimeDir so the cleanup coordinator owns a
// single root.
type Dirs struct {
	StateDir   string
	RuntimeDir string
}

// DefaultDirs resolves the standard location, ~/.denv, honoring
// DENV_STATE_DIR for tests and unusual setups.
func DefaultDirs() (Dirs, error) {
	if override := os.Getenv("DENV_STATE_DIR"); override != "" {
		return dirsUnder(override), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return Dirs{}, fmt.Errorf("locate home directory: %w", err)
	}
	return dirsUnder(filepath.Join(home, ".denv")), nil
}

func dirsUnder(root string) Dirs {
	return Dirs{
		StateDir:   root,
		RuntimeDir: filepath.Join(root, "runtime"),
	}
}

// EnvironmentsDir is where per-environment records are stored.
func (d Dirs) EnvironmentsDir() string {
	return filepath.Join(d.StateDir, "environments")
}

// TempStateFile is the persisted temp-environment record.
func (d Dirs) TempStateFile() string {
	return filepath.Join(d.StateDir, "temp-env.yaml")
}

// TempSyncFile records the last guest working directory of a temp
// session.
func (d Dirs) TempSyncFile() string {
	return filepath.Join(d.StateDir, "temp-sync")
}

// TempProjectMarker records the scratch project directory associated
// with the temp environment.
func (d Dirs) TempProjectMarker() string {
	return filepath.Join(d.StateDir, "temp-project.marker")
}

// Ensure creates the directory tree, idempotently.
func (d Dirs) Ensure() error {
	for _, dir := range []string{d.StateDir, d.RuntimeDir, d.EnvironmentsDir()} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create state directory %s: %w", dir, err)
		}
	}
	getLogger().Debug("ensured state directories", "state_dir", d.StateDir)
	return nil
}

// Verify reports whether the state tree exists and is usable.
func Verify(d Dirs) error {
	for _, dir := range []string{d.StateDir, d.RuntimeDir, d.EnvironmentsDir()} {
		info, err := os.Stat(dir)
		if err != nil {
			return fmt.Errorf("state directory %s does not exist", dir)
		}
		if !info.IsDir() {
			return fmt.Errorf("state path %s is not a directory", dir)
		}
	}
	return nil
}
