package environment

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/cochaviz/denv/internal/engine"
	"github.com/cochaviz/denv/internal/mount"
)

// Record is the persisted view of one environment. It is created by
// create, mutated only by the orchestrator, and deleted on a successful
// destroy.
type Record struct {
	Name      string       `yaml:"name"`
	Engine    engine.Kind  `yaml:"engine"`
	State     State        `yaml:"state"`
	Image     string       `yaml:"image"`
	Mounts    []mount.Spec `yaml:"mounts"`
	CreatedAt time.Time    `yaml:"created_at"`
}

// ContainerName derives the engine resource name for the record.
func (r *Record) ContainerName() string {
	return r.Name + "-dev"
}

// Store persists environment records as one YAML file per environment.
type Store struct {
	dir string
}

// NewStore returns a store rooted at dir, creating it if needed.
func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create environments directory: %w", err)
	}
	return &Store{dir: dir}, nil
}

func (s *Store) path(name string) string {
	return filepath.Join(s.dir, name+".yaml")
}

// Load reads the record for name, or ErrNotFound.
func (s *Store) Load(name string) (*Record, error) {
	data, err := os.ReadFile(s.path(name))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("load environment %s: %w", name, ErrNotFound)
		}
		return nil, fmt.Errorf("load environment %s: %w", name, err)
	}
	var record Record
	if err := yaml.Unmarshal(data, &record); err != nil {
		return nil, fmt.Errorf("parse environment record %s: %w", name, err)
	}
	return &record, nil
}

// Save writes the record atomically.
func (s *Store) Save(record *Record) error {
	data, err := yaml.Marshal(record)
	if err != nil {
		return fmt.Errorf("encode environment record %s: %w", record.Name, err)
	}
	tmp := s.path(record.Name) + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write environment record %s: %w", record.Name, err)
	}
	if err := os.Rename(tmp, s.path(record.Name)); err != nil {
		return fmt.Errorf("replace environment record %s: %w", record.Name, err)
	}
	return nil
}

// Delete removes the record; deleting a missing record is not an error.
func (s *Store) Delete(name string) error {
	if err := os.Remove(s.path(name)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("delete environment record %s: %w", name, err)
	}
	return nil
}

// List returns all stored records sorted by name.
func (s *Store) List() ([]*Record, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("read environments directory: %w", err)
	}

	var records []*Record
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".yaml") {
			continue
		}
		record, err := s.Load(strings.TrimSuffix(entry.Name(), ".yaml"))
		if err != nil {
			continue
		}
		records = append(records, record)
	}
	sort.Slice(records, func(i, j int) bool { return records[i].Name < records[j].Name })
	return records, nil
}
