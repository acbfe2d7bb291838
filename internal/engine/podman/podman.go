// Package podman adapts the engine capability interface to the podman
// CLI by delegating to the docker adapter: podman deliberately mirrors
// the docker command surface.
package podman

import (
	"github.com/cochaviz/denv/internal/engine"
	"github.com/cochaviz/denv/internal/engine/docker"
)

// New builds the podman driver.
func New(runner engine.Runner) engine.Driver {
	return docker.NewWithExecutable("podman", runner)
}
