// Package engine defines the capability boundary between the lifecycle
// orchestrator and the external container engine. The orchestrator is
// written entirely against the Driver interface and stays
// engine-agnostic; adapters live in subpackages.
package engine

import (
	"context"
	"fmt"

	"github.com/cochaviz/denv/internal/mount"
)

// Kind names a supported engine adapter.
type Kind string

const (
	KindDocker Kind = "docker"
	KindPodman Kind = "podman"
)

// ParseKind validates an engine name from config or flags.
func ParseKind(value string) (Kind, error) {
	switch Kind(value) {
	case KindDocker, KindPodman:
		return Kind(value), nil
	case "":
		return KindDocker, nil
	default:
		return "", fmt.Errorf("unknown engine %q (supported: docker, podman)", value)
	}
}

// BuildSpec describes the image step of environment creation. When
// Dockerfile is empty the image is pulled instead of built.
type BuildSpec struct {
	Image      string
	Dockerfile string
	Context    string
}

// CreateSpec describes the container to create. Mount sources must
// already be canonical; the orchestrator re-validates them immediately
// before this call.
type CreateSpec struct {
	Name    string
	Image   string
	Mounts  []mount.Spec
	Workdir string
	Labels  map[string]string
}

// ProbeStatus reports the engine's view of a container during readiness
// polling and status queries.
type ProbeStatus struct {
	// Present is false when the engine has no such container at all.
	Present bool
	// Running is true when the engine reports the container as
	// running.
	Running bool
	// Raw is the engine's own state word, for diagnostics.
	Raw string
}

// Driver is the capability contract engine adapters must satisfy. Every
// method maps to one invocation of the engine CLI; a non-zero exit
// surfaces as a *CommandError carrying the exit code and stderr.
type Driver interface {
	// Ping verifies the engine daemon is reachable.
	Ping(ctx context.Context) error
	// Build produces or pulls the image for spec.
	Build(ctx context.Context, spec BuildSpec) error
	// Create creates the container without starting it.
	Create(ctx context.Context, spec CreateSpec) error
	// Start starts a created or stopped container.
	Start(ctx context.Context, name string) error
	// Stop stops a running container.
	Stop(ctx context.Context, name string) error
	// Remove deletes the container and its anonymous volumes.
	Remove(ctx context.Context, name string, force bool) error
	// Exec runs a command inside the container and captures output.
	Exec(ctx context.Context, name string, command []string) (Result, error)
	// ExecInteractive runs a command wired to the caller's terminal.
	ExecInteractive(ctx context.Context, name string, command []string) error
	// CopyTo copies a host file into the container.
	CopyTo(ctx context.Context, name, hostPath, guestPath string) error
	// Probe reports container presence and run state.
	Probe(ctx context.Context, name string) (ProbeStatus, error)
}
