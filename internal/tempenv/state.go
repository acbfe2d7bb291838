// Package tempenv implements the throwaway environment: a single
// environment under a fixed well-known name, created from an ad-hoc
// mount list, attached to when already live, and torn down together
// with the scratch project directory backing it.
package tempenv

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/cochaviz/denv/internal/cleanup"
	"github.com/cochaviz/denv/internal/engine"
	"github.com/cochaviz/denv/internal/mount"
)

// EnvironmentName is the well-known name every temp invocation
// addresses.
const EnvironmentName = "temp"

// ErrNoState is returned when no temp environment has been created.
var ErrNoState = errors.New("no temp environment exists")

// State is the record persisted across invocations so that temp ssh,
// status, mount, and destroy can find the environment created earlier.
type State struct {
	ContainerName string       `yaml:"container_name"`
	Engine        engine.Kind  `yaml:"engine"`
	Image         string       `yaml:"image"`
	Mounts        []mount.Spec `yaml:"mounts"`
	CreatedAt     time.Time    `yaml:"created_at"`
	ProjectDir    string       `yaml:"project_dir"`
	AutoDestroy   bool         `yaml:"auto_destroy"`
}

// Store reads and writes the temp state file. All access goes through
// the cleanup coordinator's lock so concurrent invocations see a
// consistent record rather than interleaved writes.
type Store struct {
	path    string
	cleanup *cleanup.Coordinator
}

func NewStore(path string, coordinator *cleanup.Coordinator) *Store {
	return &Store{path: path, cleanup: coordinator}
}

// Load reads the current state, or ErrNoState.
func (s *Store) Load() (*State, error) {
	var state *State
	err := s.cleanup.WithLock(func() error {
		loaded, err := s.read()
		state = loaded
		return err
	})
	return state, err
}

// Save replaces the state atomically.
func (s *Store) Save(state *State) error {
	return s.cleanup.WithLock(func() error {
		return s.write(state)
	})
}

// Update applies fn to the current state under a single lock hold, so
// a concurrent invocation cannot interleave between read and write.
func (s *Store) Update(fn func(*State) error) error {
	return s.cleanup.WithLock(func() error {
		state, err := s.read()
		if err != nil {
			return err
		}
		if err := fn(state); err != nil {
			return err
		}
		return s.write(state)
	})
}

// Delete removes the state file; deleting absent state is not an
// error.
func (s *Store) Delete() error {
	return s.cleanup.WithLock(func() error {
		if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("delete temp state: %w", err)
		}
		return nil
	})
}

func (s *Store) read() (*State, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrNoState
		}
		return nil, fmt.Errorf("read temp state: %w", err)
	}
	var state State
	if err := yaml.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("parse temp state: %w", err)
	}
	return &state, nil
}

func (s *Store) write(state *State) error {
	data, err := yaml.Marshal(state)
	if err != nil {
		return fmt.Errorf("encode temp state: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write temp state: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("replace temp state: %w", err)
	}
	return nil
}
