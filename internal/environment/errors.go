package environment

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrExists is returned by create when a record for the name is
	// already present and neither confirmation nor force was given.
	ErrExists = errors.New("environment already exists")
	// ErrNotFound is returned when no record exists for the name.
	ErrNotFound = errors.New("environment not found")
	// ErrNotRunning is returned by operations that require a running
	// environment.
	ErrNotRunning = errors.New("environment is not running")
)

// ReadinessTimeoutError reports an exhausted readiness poll budget,
// distinct from an engine failure.
type ReadinessTimeoutError struct {
	Name     string
	Attempts int
}

func (e *ReadinessTimeoutError) Error() string {
	return fmt.Sprintf("environment %s did not become ready after %d attempts", e.Name, e.Attempts)
}

// ProvisioningError reports a failed provisioning run. The environment
// itself is still running; callers should present this separately from
// a startup failure so the user can inspect or retry.
type ProvisioningError struct {
	Name string
	Err  error
}

func (e *ProvisioningError) Error() string {
	return fmt.Sprintf("provisioning of %s failed (the environment is still running; fix and re-run provision): %v",
		e.Name, e.Err)
}

func (e *ProvisioningError) Unwrap() error {
	return e.Err
}

// TeardownStep names one failed sub-step of a destroy.
type TeardownStep struct {
	Name string
	Err  error
}

// TeardownError aggregates every failed destroy sub-step. Partial
// teardown must never look like success, and the report never stops at
// the first failure.
type TeardownError struct {
	Name  string
	Steps []TeardownStep
}

func (e *TeardownError) Error() string {
	parts := make([]string, 0, len(e.Steps))
	for _, step := range e.Steps {
		parts = append(parts, fmt.Sprintf("%s: %v", step.Name, step.Err))
	}
	return fmt.Sprintf("teardown of %s partially failed: %s", e.Name, strings.Join(parts, "; "))
}

func (e *TeardownError) Unwrap() []error {
	errs := make([]error, len(e.Steps))
	for i, step := range e.Steps {
		errs[i] = step.Err
	}
	return errs
}
