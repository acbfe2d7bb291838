// Package cleanup tracks ephemeral filesystem resources created during a
// run and guarantees their removal on exit or on an interrupt, even when
// several invocations of the program clean up concurrently. The registry
// and its lock are the only cross-invocation shared state; both live in
// a well-known runtime directory.
package cleanup

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	securejoin "github.com/cyphar/filepath-securejoin"
	"github.com/google/uuid"

	"github.com/cochaviz/denv/internal/logging"
)

// scratchPrefix is the naming convention for everything the coordinator
// is willing to create or delete. Paths outside the convention are never
// removed no matter what the registry claims.
const scratchPrefix = "denv-"

const (
	registryName = "scratch.registry"
	lockName     = "scratch.lock"
	scratchDir   = "scratch"
)

// Coordinator owns the scratch root, the on-disk resource registry, and
// the cleanup lock.
type Coordinator struct {
	scratchRoot  string
	registryPath string
	lockPath     string
	logger       *slog.Logger
}

// NewCoordinator prepares the runtime directory and returns a
// coordinator rooted in it.
func NewCoordinator(runtimeDir string, logger *slog.Logger) (*Coordinator, error) {
	root := filepath.Join(runtimeDir, scratchDir)
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create scratch root: %w", err)
	}
	return &Coordinator{
		scratchRoot:  root,
		registryPath: filepath.Join(runtimeDir, registryName),
		lockPath:     filepath.Join(runtimeDir, lockName),
		logger:       logging.Ensure(logger).With("component", "cleanup"),
	}, nil
}

// ScratchRoot returns the directory under which all scratch resources
// live.
func (c *Coordinator) ScratchRoot() string {
	return c.scratchRoot
}

// CreateScratchDir creates and registers a scratch directory. The label
// becomes part of the name for debuggability.
func (c *Coordinator) CreateScratchDir(label string) (string, error) {
	path := filepath.Join(c.scratchRoot, scratchName(label))
	if err := os.Mkdir(path, 0o755); err != nil {
		return "", fmt.Errorf("create scratch directory: %w", err)
	}
	if err := c.Register(path); err != nil {
		_ = os.Remove(path)
		return "", err
	}
	return path, nil
}

// CreateScratchFile creates and registers an empty scratch file.
func (c *Coordinator) CreateScratchFile(label string) (string, error) {
	path := filepath.Join(c.scratchRoot, scratchName(label))
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return "", fmt.Errorf("create scratch file: %w", err)
	}
	f.Close()
	if err := c.Register(path); err != nil {
		_ = os.Remove(path)
		return "", err
	}
	return path, nil
}

// Register records a path for removal during the next cleanup pass.
func (c *Coordinator) Register(path string) error {
	if !c.IsScratchPath(path) {
		return fmt.Errorf("refusing to register %s: outside the scratch root naming convention", path)
	}
	return appendRecord(c.registryPath, ScratchResource{
		Path:         path,
		OwningPID:    os.Getpid(),
		RegisteredAt: time.Now(),
	})
}

// Deregister drops a path from the registry without removing the
// resource. Used when a scratch resource is promoted to state that
// outlives the invocation, such as the temp project directory.
func (c *Coordinator) Deregister(path string) error {
	return c.WithLock(func() error {
		records, _, err := readRecords(c.registryPath)
		if err != nil {
			return err
		}
		kept := records[:0]
		for _, record := range records {
			if record.Path != path {
				kept = append(kept, record)
			}
		}
		return writeRecords(c.registryPath, kept)
	})
}

// IsScratchPath reports whether the coordinator would be willing to
// delete the given path: it must resolve beneath the scratch root and
// follow the naming convention.
func (c *Coordinator) IsScratchPath(path string) bool {
	rel, err := filepath.Rel(c.scratchRoot, path)
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		return false
	}
	// Re-join through securejoin so a symlink planted inside the
	// scratch root cannot redirect the deletion outside it.
	resolved, err := securejoin.SecureJoin(c.scratchRoot, rel)
	if err != nil {
		return false
	}
	if resolved != filepath.Join(c.scratchRoot, rel) {
		return false
	}
	first := strings.SplitN(rel, string(filepath.Separator), 2)[0]
	return strings.HasPrefix(first, scratchPrefix)
}

// Run executes one cleanup pass: acquire the lock (best effort), remove
// every registered resource that passes the scratch-path check, and
// rewrite the registry with whatever could not be removed. Finding
// nothing to do is a success. Failures are logged and reported but a
// caller should treat them as non-fatal.
func (c *Coordinator) Run() error {
	lock := acquireLock(c.lockPath, c.logger)
	defer lock.release(c.logger)

	records, skipped, err := readRecords(c.registryPath)
	if err != nil {
		return err
	}
	if skipped > 0 {
		c.logger.Warn("skipped unreadable scratch registry entries", "count", skipped)
	}
	if len(records) == 0 {
		return nil
	}

	var (
		failed []ScratchResource
		errs   []error
	)
	for _, record := range records {
		if !c.IsScratchPath(record.Path) {
			// Tampered or corrupted entry: drop it, never delete it.
			c.logger.Warn("refusing to delete path outside scratch root",
				"path", record.Path, "owner_pid", record.OwningPID)
			continue
		}
		if err := os.RemoveAll(record.Path); err != nil {
			c.logger.Warn("failed to remove scratch resource", "path", record.Path, "error", err)
			failed = append(failed, record)
			errs = append(errs, fmt.Errorf("remove %s: %w", record.Path, err))
			continue
		}
		c.logger.Debug("removed scratch resource", "path", record.Path)
	}

	if err := writeRecords(c.registryPath, failed); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// WithLock runs fn under the cleanup lock. Registries other than the
// scratch list (the temp-environment state) reuse this to serialize
// read/modify/write cycles across invocations.
func (c *Coordinator) WithLock(fn func() error) error {
	lock := acquireLock(c.lockPath, c.logger)
	defer lock.release(c.logger)
	return fn()
}

func scratchName(label string) string {
	label = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-':
			return r
		case r >= 'A' && r <= 'Z':
			return r + ('a' - 'A')
		default:
			return '-'
		}
	}, label)
	return scratchPrefix + label + "-" + uuid.NewString()[:8]
}
