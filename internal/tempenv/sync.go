package tempenv

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ErrNoSyncDir is returned when no session has recorded a working
// directory yet.
var ErrNoSyncDir = errors.New("no sync directory recorded")

// SyncDirectory resolves the last guest working directory recorded by
// an SSH session back to an absolute host path, by matching it against
// the mount targets of the temp environment.
func (m *Manager) SyncDirectory() (string, error) {
	data, err := os.ReadFile(m.Dirs.TempSyncFile())
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", ErrNoSyncDir
		}
		return "", fmt.Errorf("read sync record: %w", err)
	}
	guestDir := strings.TrimSpace(string(data))
	if guestDir == "" {
		return "", ErrNoSyncDir
	}

	state, err := m.Store.Load()
	if err != nil {
		return "", err
	}
	for _, spec := range state.Mounts {
		if guestDir == spec.Target {
			return spec.Source, nil
		}
		rel, err := filepath.Rel(spec.Target, guestDir)
		if err != nil || strings.HasPrefix(rel, "..") {
			continue
		}
		return filepath.Join(spec.Source, rel), nil
	}
	return "", fmt.Errorf("guest directory %s is not under any mount target", guestDir)
}
