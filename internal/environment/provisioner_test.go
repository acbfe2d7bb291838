package environment

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPlaybookProvisionerCopiesAndRuns(t *testing.T) {
	driver := &stubDriver{}
	provisioner := &PlaybookProvisioner{
		PlaybookPath: "/home/dev/web/provision.yaml",
		ConfigPath:   "/tmp/denv-config",
	}

	require.NoError(t, provisioner.Provision(context.Background(), driver, "web-dev"))

	assert.Contains(t, driver.calls, "exec web-dev [mkdir -p /tmp/denv-provision]")
	assert.Contains(t, driver.calls, "copy /home/dev/web/provision.yaml web-dev:/tmp/denv-provision/provision.yaml")
	assert.Contains(t, driver.calls, "copy /tmp/denv-config web-dev:/tmp/denv-provision/denv.yaml")
	assert.Contains(t, driver.calls,
		"exec web-dev [ansible-playbook --connection local --inventory localhost, /tmp/denv-provision/provision.yaml]")
}

func TestPlaybookProvisionerWithoutPlaybookIsNoop(t *testing.T) {
	driver := &stubDriver{}
	provisioner := &PlaybookProvisioner{}

	require.NoError(t, provisioner.Provision(context.Background(), driver, "web-dev"))
	assert.Empty(t, driver.calls)
}

func TestPlaybookProvisionerReportsExecFailure(t *testing.T) {
	execErr := errors.New("ansible not found")
	driver := &stubDriver{execErr: execErr}
	provisioner := &PlaybookProvisioner{PlaybookPath: "/home/dev/web/provision.yaml"}

	err := provisioner.Provision(context.Background(), driver, "web-dev")
	assert.ErrorIs(t, err, execErr)
}
