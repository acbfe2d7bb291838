package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cochaviz/denv/internal/engine"
	"github.com/cochaviz/denv/internal/mount"
)

func writeProject(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, FileName), []byte(content), 0o644))
	return dir
}

func TestLoadDirImageProject(t *testing.T) {
	dir := writeProject(t, `
name: web
engine: podman
image: ubuntu:24.04
mounts:
  - ./src:rw
  - ./config:ro
workspace: /workspace/web
provision:
  playbook: provision.yaml
`)

	project, err := LoadDir(dir)
	require.NoError(t, err)
	assert.Equal(t, "web", project.Name)
	assert.Equal(t, engine.KindPodman, project.EngineKind())
	assert.Equal(t, "ubuntu:24.04", project.BuildSpec().Image)
	assert.Equal(t, filepath.Join(dir, "provision.yaml"), project.PlaybookPath())

	specs, err := project.MountSpecs()
	require.NoError(t, err)
	require.Len(t, specs, 2)
	assert.Equal(t, filepath.Join(dir, "src"), specs[0].Source)
	assert.Equal(t, mount.ReadWrite, specs[0].Permission)
	assert.Equal(t, filepath.Join(dir, "config"), specs[1].Source)
	assert.Equal(t, mount.ReadOnly, specs[1].Permission)
}

func TestLoadDirDefaultsNameToDirectory(t *testing.T) {
	dir := writeProject(t, "image: ubuntu:24.04\n")

	project, err := LoadDir(dir)
	require.NoError(t, err)
	assert.Equal(t, filepath.Base(dir), project.Name)
	assert.Equal(t, engine.KindDocker, project.EngineKind())
}

func TestLoadDirBuildProject(t *testing.T) {
	dir := writeProject(t, `
name: api
build:
  dockerfile: Dockerfile.dev
`)

	project, err := LoadDir(dir)
	require.NoError(t, err)
	spec := project.BuildSpec()
	assert.Equal(t, "api:denv", spec.Image)
	assert.Equal(t, filepath.Join(dir, "Dockerfile.dev"), spec.Dockerfile)
	assert.Equal(t, dir, spec.Context)
}

func TestLoadDirRejectsUnknownKeys(t *testing.T) {
	dir := writeProject(t, "image: ubuntu:24.04\nimagee: typo\n")
	_, err := LoadDir(dir)
	assert.Error(t, err)
}

func TestLoadDirRejectsImageAndBuild(t *testing.T) {
	dir := writeProject(t, `
image: ubuntu:24.04
build:
  dockerfile: Dockerfile
`)
	_, err := LoadDir(dir)
	assert.ErrorContains(t, err, "mutually exclusive")
}

func TestLoadDirRequiresImageOrBuild(t *testing.T) {
	dir := writeProject(t, "name: bare\n")
	_, err := LoadDir(dir)
	assert.ErrorContains(t, err, "either image or build")
}

func TestLoadDirMissingFile(t *testing.T) {
	_, err := LoadDir(t.TempDir())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestLoadDirRejectsUnknownEngine(t *testing.T) {
	dir := writeProject(t, "image: ubuntu:24.04\nengine: lxd\n")
	_, err := LoadDir(dir)
	assert.ErrorContains(t, err, "unknown engine")
}
