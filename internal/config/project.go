// Package config loads the per-project denv.yaml file that declares an
// environment: its engine, image, mounts, and provisioning.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/cochaviz/denv/internal/engine"
	"github.com/cochaviz/denv/internal/mount"
)

// FileName is the project configuration file looked up in the project
// directory.
const FileName = "denv.yaml"

// ErrNotFound is returned when the project directory holds no
// configuration file.
var ErrNotFound = errors.New("no " + FileName + " found")

// Build declares an image built from a Dockerfile instead of pulled.
type Build struct {
	Dockerfile string `yaml:"dockerfile"`
	Context    string `yaml:"context"`
}

// Provision declares the playbook run inside the container after
// startup.
type Provision struct {
	Playbook string `yaml:"playbook"`
}

// Project is the parsed denv.yaml. Mounts use the descriptor syntax
// accepted on the command line ("./src:rw,./config:ro").
type Project struct {
	Name      string    `yaml:"name"`
	Engine    string    `yaml:"engine"`
	Image     string    `yaml:"image"`
	Build     *Build    `yaml:"build"`
	Mounts    []string  `yaml:"mounts"`
	Workspace string    `yaml:"workspace"`
	Provision Provision `yaml:"provision"`

	dir string
}

// LoadDir reads and validates dir/denv.yaml. Unknown keys are
// rejected so typos do not silently disable settings.
func LoadDir(dir string) (*Project, error) {
	path := filepath.Join(dir, FileName)
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%s: %w", dir, ErrNotFound)
		}
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	var project Project
	if err := decoder.Decode(&project); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	project.dir = dir
	if err := project.validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return &project, nil
}

func (p *Project) validate() error {
	if p.Name == "" {
		p.Name = filepath.Base(p.dir)
	}
	if _, err := engine.ParseKind(p.Engine); err != nil {
		return err
	}
	if p.Image == "" && p.Build == nil {
		return errors.New("either image or build must be set")
	}
	if p.Image != "" && p.Build != nil {
		return errors.New("image and build are mutually exclusive")
	}
	if p.Build != nil && p.Build.Dockerfile == "" {
		return errors.New("build.dockerfile is required")
	}
	return nil
}

// EngineKind returns the parsed engine selection, defaulting to docker.
func (p *Project) EngineKind() engine.Kind {
	kind, _ := engine.ParseKind(p.Engine)
	return kind
}

// BuildSpec renders the engine build step. Relative Dockerfile and
// context paths are anchored at the project directory.
func (p *Project) BuildSpec() engine.BuildSpec {
	spec := engine.BuildSpec{Image: p.Image}
	if p.Build != nil {
		spec.Image = p.Name + ":denv"
		spec.Dockerfile = p.anchor(p.Build.Dockerfile)
		spec.Context = p.anchor(p.Build.Context)
		if spec.Context == "" {
			spec.Context = p.dir
		}
	}
	return spec
}

// MountSpecs parses the configured mount descriptors. Relative sources
// are anchored at the project directory; validation of the resulting
// paths happens later, at create time.
func (p *Project) MountSpecs() ([]mount.Spec, error) {
	var specs []mount.Spec
	for _, descriptor := range p.Mounts {
		parsed, err := mount.ParseDescriptor(descriptor)
		if err != nil {
			return nil, fmt.Errorf("mount %q: %w", descriptor, err)
		}
		for _, spec := range parsed {
			spec.Source = p.anchor(spec.Source)
			specs = append(specs, spec)
		}
	}
	return specs, nil
}

func (p *Project) anchor(path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(p.dir, path)
}

// PlaybookPath returns the provisioning playbook anchored at the
// project directory, or empty when none is configured.
func (p *Project) PlaybookPath() string {
	return p.anchor(p.Provision.Playbook)
}

// Dir returns the project directory the configuration was loaded from.
func (p *Project) Dir() string {
	return p.dir
}
