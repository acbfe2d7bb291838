package environment

import (
	"context"
	"fmt"
	"path"

	"github.com/cochaviz/denv/internal/engine"
)

// Provisioner applies configuration inside a running container.
type Provisioner interface {
	Provision(ctx context.Context, driver engine.Driver, containerName string) error
}

const guestPlaybookDir = "/tmp/denv-provision"

// PlaybookProvisioner copies an ansible playbook into the container
// and runs it there with a local connection. The container image is
// expected to ship ansible; a missing binary surfaces as an exec
// failure, which the orchestrator reports as non-fatal.
type PlaybookProvisioner struct {
	PlaybookPath string
	// ConfigPath, when set, is copied next to the playbook so the
	// provisioning run can read the resolved project configuration.
	ConfigPath string
}

func (p *PlaybookProvisioner) Provision(ctx context.Context, driver engine.Driver, containerName string) error {
	if p.PlaybookPath == "" {
		return nil
	}
	guestPath := path.Join(guestPlaybookDir, path.Base(p.PlaybookPath))
	if _, err := driver.Exec(ctx, containerName, []string{"mkdir", "-p", guestPlaybookDir}); err != nil {
		return fmt.Errorf("prepare playbook directory: %w", err)
	}
	if err := driver.CopyTo(ctx, containerName, p.PlaybookPath, guestPath); err != nil {
		return fmt.Errorf("copy playbook: %w", err)
	}
	if p.ConfigPath != "" {
		if err := driver.CopyTo(ctx, containerName, p.ConfigPath, path.Join(guestPlaybookDir, "denv.yaml")); err != nil {
			return fmt.Errorf("copy config: %w", err)
		}
	}
	if _, err := driver.Exec(ctx, containerName, []string{
		"ansible-playbook", "--connection", "local", "--inventory", "localhost,", guestPath,
	}); err != nil {
		return fmt.Errorf("run playbook: %w", err)
	}
	return nil
}
