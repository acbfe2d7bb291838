package environment

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cochaviz/denv/internal/engine"
)

// PollConfig bounds the readiness loop: a fixed attempt ceiling with a
// fixed inter-attempt delay.
type PollConfig struct {
	Attempts int
	Delay    time.Duration
}

// DefaultPollConfig mirrors the startup window the engine usually
// needs: 30 attempts, 2 seconds apart.
func DefaultPollConfig() PollConfig {
	return PollConfig{Attempts: 30, Delay: 2 * time.Second}
}

// waitForReady polls until the container is present, running, and
// accepts a trivial command. If the container disappears mid-poll the
// wait fails immediately instead of exhausting the budget; exhaustion
// returns a *ReadinessTimeoutError.
func waitForReady(ctx context.Context, driver engine.Driver, name string, cfg PollConfig, logger *slog.Logger) error {
	for attempt := 1; attempt <= cfg.Attempts; attempt++ {
		status, err := driver.Probe(ctx, name)
		if err != nil {
			return fmt.Errorf("probe %s: %w", name, err)
		}
		if !status.Present {
			return fmt.Errorf("environment %s disappeared while waiting for readiness", name)
		}
		if status.Running {
			if _, err := driver.Exec(ctx, name, []string{"true"}); err == nil {
				logger.Debug("environment ready", "name", name, "attempts", attempt)
				return nil
			}
		}

		logger.Debug("environment not ready yet", "name", name, "attempt", attempt, "state", status.Raw)
		if attempt < cfg.Attempts {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(cfg.Delay):
			}
		}
	}
	return &ReadinessTimeoutError{Name: name, Attempts: cfg.Attempts}
}
