// Package environment implements the lifecycle of named development
// environments: a state machine persisted per environment, driven
// through an engine adapter and guarded by path validation at both
// creation and use time.
package environment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cochaviz/denv/internal/engine"
	"github.com/cochaviz/denv/internal/logging"
	"github.com/cochaviz/denv/internal/mount"
	"github.com/cochaviz/denv/internal/pathsec"
)

// CreateOptions carries everything needed to bring a new environment
// to the running state.
type CreateOptions struct {
	Name    string
	Engine  engine.Kind
	Build   engine.BuildSpec
	Mounts  []mount.Spec
	Workdir string
	// Force destroys an existing environment of the same name without
	// asking.
	Force bool
}

// Status is the reconciled view of an environment: the persisted
// record next to what the engine actually reports.
type Status struct {
	Record *Record
	Probe  engine.ProbeStatus
}

// Orchestrator drives environments through their lifecycle. All fields
// except Provisioner and Confirm are required.
type Orchestrator struct {
	Driver      engine.Driver
	Store       *Store
	Validator   *pathsec.Validator
	Resolver    *pathsec.Resolver
	Provisioner Provisioner
	Logger      *slog.Logger
	Poll        PollConfig

	// Confirm, when set, is consulted before destructive replacement
	// of an existing environment. A nil Confirm refuses.
	Confirm func(prompt string) bool
}

func (o *Orchestrator) logger() *slog.Logger {
	return logging.Ensure(o.Logger)
}

// transition moves the record to the next state and persists it. The
// state machine rejects transitions the lifecycle does not define.
func (o *Orchestrator) transition(record *Record, next State) error {
	if err := record.State.CanTransitionTo(next); err != nil {
		return err
	}
	o.logger().Debug("environment transition", "name", record.Name, "from", record.State, "to", next)
	record.State = next
	return o.Store.Save(record)
}

// rollbackContainer removes a container that never became ready, so a
// retried create does not collide with the leftover name. Best effort;
// failures are logged, the original cause is what the caller reports.
func (o *Orchestrator) rollbackContainer(ctx context.Context, name string) {
	if err := o.Driver.Stop(ctx, name); err != nil {
		o.logger().Debug("rollback stop failed", "container", name, "error", err)
	}
	if err := o.Driver.Remove(ctx, name, true); err != nil {
		o.logger().Warn("rollback remove failed", "container", name, "error", err)
	}
}

// markFailed is the error path of transition: it forces the record to
// Failed and joins any save failure onto the original cause.
func (o *Orchestrator) markFailed(record *Record, cause error) error {
	record.State = StateFailed
	if saveErr := o.Store.Save(record); saveErr != nil {
		return errors.Join(cause, fmt.Errorf("record failure state: %w", saveErr))
	}
	return cause
}

// Create builds, starts, and provisions a new environment. Mount
// sources are validated up front and re-resolved immediately before
// the container is created, so a path swapped in between is caught. A
// provisioning failure is reported but leaves the environment running.
func (o *Orchestrator) Create(ctx context.Context, opts CreateOptions) (*Record, error) {
	if err := o.Driver.Ping(ctx); err != nil {
		return nil, fmt.Errorf("engine unavailable: %w", err)
	}

	if existing, err := o.Store.Load(opts.Name); err == nil {
		if !opts.Force {
			if o.Confirm == nil || !o.Confirm(fmt.Sprintf("Environment %q already exists. Destroy and recreate it?", opts.Name)) {
				return nil, fmt.Errorf("environment %q: %w", opts.Name, ErrExists)
			}
		}
		if err := o.Destroy(ctx, existing.Name, true); err != nil {
			return nil, fmt.Errorf("replace existing environment: %w", err)
		}
	} else if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	mounts := make([]mount.Spec, 0, len(opts.Mounts))
	for _, spec := range opts.Mounts {
		canonical, err := o.Validator.Validate(spec.Source)
		if err != nil {
			return nil, err
		}
		spec.Source = canonical
		mounts = append(mounts, spec)
	}

	record := &Record{
		Name:      opts.Name,
		Engine:    opts.Engine,
		State:     StateAbsent,
		Image:     opts.Build.Image,
		Mounts:    mounts,
		CreatedAt: time.Now().UTC(),
	}
	if err := o.transition(record, StateBuilding); err != nil {
		return nil, err
	}

	if err := o.Driver.Build(ctx, opts.Build); err != nil {
		return record, o.markFailed(record, fmt.Errorf("build image: %w", err))
	}

	if err := o.transition(record, StateStarting); err != nil {
		return record, err
	}

	for i := range record.Mounts {
		resolved, err := o.Resolver.ResolveForUse(record.Mounts[i].Source)
		if err != nil {
			return record, o.markFailed(record, err)
		}
		record.Mounts[i].Source = resolved
	}

	createSpec := engine.CreateSpec{
		Name:    record.ContainerName(),
		Image:   opts.Build.Image,
		Mounts:  record.Mounts,
		Workdir: opts.Workdir,
	}
	if err := o.Driver.Create(ctx, createSpec); err != nil {
		o.rollbackContainer(ctx, record.ContainerName())
		return record, o.markFailed(record, fmt.Errorf("create container: %w", err))
	}
	if err := o.Driver.Start(ctx, record.ContainerName()); err != nil {
		o.rollbackContainer(ctx, record.ContainerName())
		return record, o.markFailed(record, fmt.Errorf("start container: %w", err))
	}

	if err := waitForReady(ctx, o.Driver, record.ContainerName(), o.Poll, o.logger()); err != nil {
		o.rollbackContainer(ctx, record.ContainerName())
		return record, o.markFailed(record, err)
	}
	if err := o.transition(record, StateReady); err != nil {
		return record, err
	}

	if o.Provisioner != nil {
		if err := o.transition(record, StateProvisioning); err != nil {
			return record, err
		}
		if err := o.Provisioner.Provision(ctx, o.Driver, record.ContainerName()); err != nil {
			if terr := o.transition(record, StateRunning); terr != nil {
				return record, errors.Join(err, terr)
			}
			return record, &ProvisioningError{Name: record.Name, Err: err}
		}
		return record, o.transition(record, StateRunning)
	}

	// Ready and Running collapse when there is nothing to provision.
	return record, o.transition(record, StateRunning)
}

// Start brings a stopped environment back up and waits for readiness.
func (o *Orchestrator) Start(ctx context.Context, name string) (*Record, error) {
	if err := o.Driver.Ping(ctx); err != nil {
		return nil, fmt.Errorf("engine unavailable: %w", err)
	}
	record, err := o.Store.Load(name)
	if err != nil {
		return nil, err
	}
	if err := o.transition(record, StateStarting); err != nil {
		return record, err
	}
	if err := o.Driver.Start(ctx, record.ContainerName()); err != nil {
		return record, o.markFailed(record, fmt.Errorf("start container: %w", err))
	}
	if err := waitForReady(ctx, o.Driver, record.ContainerName(), o.Poll, o.logger()); err != nil {
		return record, o.markFailed(record, err)
	}
	return record, o.transition(record, StateRunning)
}

// Stop stops a running environment. The container and its record are
// kept for a later Start.
func (o *Orchestrator) Stop(ctx context.Context, name string) (*Record, error) {
	if err := o.Driver.Ping(ctx); err != nil {
		return nil, fmt.Errorf("engine unavailable: %w", err)
	}
	record, err := o.Store.Load(name)
	if err != nil {
		return nil, err
	}
	if record.State != StateRunning {
		return record, fmt.Errorf("environment %q is %s: %w", name, record.State, ErrNotRunning)
	}
	if err := o.Driver.Stop(ctx, record.ContainerName()); err != nil {
		return record, fmt.Errorf("stop container: %w", err)
	}
	return record, o.transition(record, StateStopped)
}

// Restart stops and then starts the environment. A failed stop aborts
// the restart rather than starting on top of an undefined state.
func (o *Orchestrator) Restart(ctx context.Context, name string) (*Record, error) {
	if _, err := o.Stop(ctx, name); err != nil {
		return nil, fmt.Errorf("restart: %w", err)
	}
	return o.Start(ctx, name)
}

// Provision re-runs provisioning on a running environment. Failures
// are wrapped in *ProvisioningError and the environment stays running.
func (o *Orchestrator) Provision(ctx context.Context, name string) error {
	record, err := o.Store.Load(name)
	if err != nil {
		return err
	}
	if record.State != StateRunning {
		return fmt.Errorf("environment %q is %s: %w", name, record.State, ErrNotRunning)
	}
	if o.Provisioner == nil {
		return nil
	}
	if err := o.transition(record, StateProvisioning); err != nil {
		return err
	}
	provisionErr := o.Provisioner.Provision(ctx, o.Driver, record.ContainerName())
	if terr := o.transition(record, StateRunning); terr != nil {
		return errors.Join(provisionErr, terr)
	}
	if provisionErr != nil {
		return &ProvisioningError{Name: record.Name, Err: provisionErr}
	}
	return nil
}

// Destroy tears the environment down from whatever state it is in.
// Every teardown step is attempted even when earlier ones fail; the
// failures come back aggregated in a *TeardownError. Destroying an
// environment that does not exist is not an error.
func (o *Orchestrator) Destroy(ctx context.Context, name string, force bool) error {
	record, err := o.Store.Load(name)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	var steps []TeardownStep
	status, probeErr := o.Driver.Probe(ctx, record.ContainerName())
	if probeErr != nil {
		steps = append(steps, TeardownStep{Name: "probe container", Err: probeErr})
		// Without a probe result, assume the container may exist.
		status = engine.ProbeStatus{Present: true, Running: true}
	}
	if status.Present {
		if status.Running {
			if err := o.Driver.Stop(ctx, record.ContainerName()); err != nil && !force {
				steps = append(steps, TeardownStep{Name: "stop container", Err: err})
			}
		}
		if err := o.Driver.Remove(ctx, record.ContainerName(), force); err != nil {
			steps = append(steps, TeardownStep{Name: "remove container", Err: err})
		}
	}
	if err := o.Store.Delete(record.Name); err != nil {
		steps = append(steps, TeardownStep{Name: "delete record", Err: err})
	}

	if len(steps) > 0 {
		return &TeardownError{Name: name, Steps: steps}
	}
	o.logger().Info("environment destroyed", "name", name)
	return nil
}

// Status reports the persisted record together with the engine's view
// of the container, so drift between the two is visible to the caller.
func (o *Orchestrator) Status(ctx context.Context, name string) (*Status, error) {
	record, err := o.Store.Load(name)
	if err != nil {
		return nil, err
	}
	probe, err := o.Driver.Probe(ctx, record.ContainerName())
	if err != nil {
		return nil, fmt.Errorf("probe %s: %w", record.ContainerName(), err)
	}
	return &Status{Record: record, Probe: probe}, nil
}

// List returns the records of all known environments.
func (o *Orchestrator) List() ([]*Record, error) {
	return o.Store.List()
}

// Exec runs a command inside a running environment, wired to the
// caller's terminal.
func (o *Orchestrator) Exec(ctx context.Context, name string, command []string) error {
	record, err := o.Store.Load(name)
	if err != nil {
		return err
	}
	if record.State != StateRunning {
		return fmt.Errorf("environment %q is %s: %w", name, record.State, ErrNotRunning)
	}
	return o.Driver.ExecInteractive(ctx, record.ContainerName(), command)
}
