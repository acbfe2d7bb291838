package cleanup

import (
	"errors"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sys/unix"
)

const (
	lockRetryAttempts = 5
	lockRetryDelay    = 200 * time.Millisecond
)

// lockHandle represents the named mutual-exclusion record guarding the
// registry. Held is false when acquisition degraded to lockless
// best-effort operation.
type lockHandle struct {
	path string
	held bool
}

// acquireLock creates the lock record exclusively, recording this
// process as holder. An existing lock whose holder PID is no longer
// alive is stale and reclaimed. A live holder triggers a bounded
// backoff; after the retry budget the caller proceeds without the lock
// rather than hanging, and the degradation is logged.
func acquireLock(path string, logger *slog.Logger) *lockHandle {
	for attempt := 0; attempt < lockRetryAttempts; attempt++ {
		if tryCreateLock(path) {
			return &lockHandle{path: path, held: true}
		}

		holder, ok := readLockHolder(path)
		if !ok || !processAlive(holder) {
			// Stale or unreadable lock: reclaim and retry the
			// exclusive create immediately.
			logger.Debug("reclaiming stale cleanup lock", "lock", path, "holder", holder)
			_ = os.Remove(path)
			continue
		}

		logger.Debug("cleanup lock held, backing off",
			"lock", path, "holder", holder, "attempt", attempt+1)
		time.Sleep(lockRetryDelay)
	}

	logger.Warn("could not acquire cleanup lock, proceeding without it", "lock", path)
	return &lockHandle{path: path, held: false}
}

func (l *lockHandle) release(logger *slog.Logger) {
	if !l.held {
		return
	}
	if err := os.Remove(l.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		logger.Warn("failed to remove cleanup lock", "lock", l.path, "error", err)
	}
	l.held = false
}

func tryCreateLock(path string) bool {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return false
	}
	defer f.Close()
	_, _ = f.WriteString(strconv.Itoa(os.Getpid()) + "\n")
	return true
}

func readLockHolder(path string) (int, bool) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, false
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		return 0, false
	}
	return pid, true
}

// processAlive probes the holder with a null signal. EPERM means the
// process exists but belongs to another user, which still counts as
// alive.
func processAlive(pid int) bool {
	err := unix.Kill(pid, 0)
	return err == nil || errors.Is(err, unix.EPERM)
}
