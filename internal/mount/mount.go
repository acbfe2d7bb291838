// Package mount defines the mount descriptor model shared by the CLI,
// the path validator, and the engine drivers. Parsing here is purely
// lexical; filesystem checks belong to the validator.
package mount

import "path/filepath"

// DefaultTargetRoot is the directory inside the environment under which
// mounted host directories appear.
const DefaultTargetRoot = "/workspace"

// Permission controls whether the environment may write to a mount.
type Permission string

const (
	ReadWrite Permission = "rw"
	ReadOnly  Permission = "ro"
)

// ParsePermission maps a descriptor suffix to a Permission. The empty
// string maps to ReadWrite, matching the descriptor default.
func ParsePermission(value string) (Permission, bool) {
	switch value {
	case "", "rw", "readwrite":
		return ReadWrite, true
	case "ro", "readonly":
		return ReadOnly, true
	default:
		return "", false
	}
}

// Spec describes a single host directory exposed inside an environment.
type Spec struct {
	Source     string     `yaml:"source"`
	Target     string     `yaml:"target"`
	Permission Permission `yaml:"permission"`
}

// NewSpec builds a Spec for the given host source. The target is derived
// from the source basename under DefaultTargetRoot.
func NewSpec(source string, permission Permission) Spec {
	base := filepath.Base(source)
	if base == "." || base == string(filepath.Separator) {
		base = "mounted"
	}
	return Spec{
		Source:     source,
		Target:     filepath.Join(DefaultTargetRoot, base),
		Permission: permission,
	}
}

// EngineArg renders the spec as a source:target:permission volume
// argument for an engine command line.
func (s Spec) EngineArg() string {
	return s.Source + ":" + s.Target + ":" + string(s.Permission)
}
