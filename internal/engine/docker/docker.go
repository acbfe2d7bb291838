// Package docker adapts the engine capability interface to the docker
// CLI. The podman adapter reuses it with a different executable, since
// podman mirrors the docker command surface.
package docker

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/cochaviz/denv/internal/engine"
)

const managedLabel = "denv.managed=true"

// Driver shells out to a docker-compatible CLI.
type Driver struct {
	executable string
	runner     engine.Runner
}

// New builds a Driver for the docker executable.
func New(runner engine.Runner) *Driver {
	return NewWithExecutable("docker", runner)
}

// NewWithExecutable builds a Driver for any docker-compatible
// executable.
func NewWithExecutable(executable string, runner engine.Runner) *Driver {
	if runner == nil {
		runner = engine.ExecRunner{}
	}
	return &Driver{executable: executable, runner: runner}
}

func (d *Driver) Ping(ctx context.Context) error {
	if _, err := d.runner.Run(ctx, d.executable, "ps", "--quiet", "--last", "1"); err != nil {
		return fmt.Errorf("%s daemon is not reachable (is the service running?): %w", d.executable, err)
	}
	return nil
}

func (d *Driver) Build(ctx context.Context, spec engine.BuildSpec) error {
	if spec.Image == "" {
		return fmt.Errorf("build spec has no image name")
	}

	var args []string
	if spec.Dockerfile != "" {
		buildContext := spec.Context
		if buildContext == "" {
			buildContext = "."
		}
		args = []string{"build", "--file", spec.Dockerfile, "--tag", spec.Image, buildContext}
	} else {
		args = []string{"pull", spec.Image}
	}

	_, err := d.runner.Run(ctx, d.executable, args...)
	return err
}

func (d *Driver) Create(ctx context.Context, spec engine.CreateSpec) error {
	args := []string{"create", "--name", spec.Name, "--label", managedLabel}
	for key, value := range spec.Labels {
		args = append(args, "--label", key+"="+value)
	}
	if spec.Workdir != "" {
		args = append(args, "--workdir", spec.Workdir)
	}
	for _, m := range spec.Mounts {
		args = append(args, "--volume", m.EngineArg())
	}
	// Keep the container alive so commands can be executed in it.
	args = append(args, spec.Image, "sleep", "infinity")

	_, err := d.runner.Run(ctx, d.executable, args...)
	return err
}

func (d *Driver) Start(ctx context.Context, name string) error {
	_, err := d.runner.Run(ctx, d.executable, "start", name)
	return err
}

func (d *Driver) Stop(ctx context.Context, name string) error {
	_, err := d.runner.Run(ctx, d.executable, "stop", name)
	return err
}

func (d *Driver) Remove(ctx context.Context, name string, force bool) error {
	args := []string{"rm", "--volumes"}
	if force {
		args = append(args, "--force")
	}
	args = append(args, name)
	_, err := d.runner.Run(ctx, d.executable, args...)
	return err
}

func (d *Driver) Exec(ctx context.Context, name string, command []string) (engine.Result, error) {
	args := append([]string{"exec", name}, command...)
	return d.runner.Run(ctx, d.executable, args...)
}

func (d *Driver) ExecInteractive(ctx context.Context, name string, command []string) error {
	args := append([]string{"exec", "--interactive", "--tty", name}, command...)
	return d.runner.RunInteractive(ctx, d.executable, args...)
}

func (d *Driver) CopyTo(ctx context.Context, name, hostPath, guestPath string) error {
	_, err := d.runner.Run(ctx, d.executable, "cp", hostPath, name+":"+guestPath)
	return err
}

func (d *Driver) Probe(ctx context.Context, name string) (engine.ProbeStatus, error) {
	result, err := d.runner.Run(ctx, d.executable,
		"inspect", "--format", "{{.State.Status}}", name)
	if err != nil {
		var cmdErr *engine.CommandError
		if errors.As(err, &cmdErr) {
			// Inspect fails when the container does not exist; that is
			// an answer, not an error.
			return engine.ProbeStatus{Present: false}, nil
		}
		return engine.ProbeStatus{}, err
	}

	state := strings.TrimSpace(result.Stdout)
	return engine.ProbeStatus{
		Present: true,
		Running: state == "running",
		Raw:     state,
	}, nil
}
