package engine

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
)

// Result captures one external invocation uniformly, so retry and
// rollback logic never special-cases a particular tool's quirks.
type Result struct {
	ExitCode int
	Stdout   string
	Stderr   string
}

// CommandError is returned for any non-zero exit of an engine command.
// The original exit code is preserved for the caller; stderr is carried
// for diagnostics.
type CommandError struct {
	Command  string
	ExitCode int
	Stderr   string
}

func (e *CommandError) Error() string {
	stderr := strings.TrimSpace(e.Stderr)
	if stderr == "" {
		return fmt.Sprintf("%s exited with code %d", e.Command, e.ExitCode)
	}
	return fmt.Sprintf("%s exited with code %d: %s", e.Command, e.ExitCode, stderr)
}

// Runner executes external commands. The orchestrator and drivers only
// go through this interface, which keeps tests free of real
// subprocesses.
type Runner interface {
	// Run executes the command and captures its output. A non-zero
	// exit returns the captured Result together with a *CommandError.
	Run(ctx context.Context, name string, args ...string) (Result, error)
	// RunInteractive executes the command attached to this process's
	// stdio.
	RunInteractive(ctx context.Context, name string, args ...string) error
}

// ExecRunner runs commands via os/exec.
type ExecRunner struct{}

func (ExecRunner) Run(ctx context.Context, name string, args ...string) (Result, error) {
	cmd := exec.CommandContext(ctx, name, args...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	result := Result{
		Stdout: stdout.String(),
		Stderr: stderr.String(),
	}
	if err == nil {
		return result, nil
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		result.ExitCode = exitErr.ExitCode()
		return result, &CommandError{
			Command:  name + " " + strings.Join(args, " "),
			ExitCode: result.ExitCode,
			Stderr:   result.Stderr,
		}
	}
	return result, fmt.Errorf("run %s: %w", name, err)
}

func (ExecRunner) RunInteractive(ctx context.Context, name string, args ...string) error {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	err := cmd.Run()
	if err == nil {
		return nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return &CommandError{
			Command:  name + " " + strings.Join(args, " "),
			ExitCode: exitErr.ExitCode(),
		}
	}
	return fmt.Errorf("run %s: %w", name, err)
}
