package mount

import (
	"errors"
	"fmt"
	"strings"
)

// ErrEmbeddedDelimiter indicates that the descriptor probably contains a
// path with a literal comma, which the descriptor format cannot express.
var ErrEmbeddedDelimiter = errors.New(
	"descriptor looks mis-split: directory names containing the mount delimiter are not supported; use a symlink instead")

// shortFragmentLimit is the length at or below which a fragment without a
// path separator counts as implausible for the mis-split heuristic.
const shortFragmentLimit = 2

// ParseDescriptor splits a comma-separated mount descriptor into Specs.
// Each fragment is either a path or path:permission. Splitting is purely
// lexical; no filesystem access happens here.
//
// Because a comma is also a legal path character, the parser runs a
// best-effort heuristic over the fragment set: when more than half of the
// fragments are implausibly short, the descriptor was most likely a
// single path containing commas and parsing fails with
// ErrEmbeddedDelimiter instead of silently mis-splitting. This is a
// guard, not a guarantee.
func ParseDescriptor(descriptor string) ([]Spec, error) {
	trimmed := strings.TrimSpace(descriptor)
	if trimmed == "" {
		return nil, fmt.Errorf("mount descriptor is empty")
	}

	fragments := strings.Split(trimmed, ",")
	specs := make([]Spec, 0, len(fragments))
	for _, fragment := range fragments {
		fragment = strings.TrimSpace(fragment)
		if fragment == "" {
			return nil, fmt.Errorf("mount descriptor %q contains an empty fragment", descriptor)
		}
		spec, err := parseFragment(fragment)
		if err != nil {
			return nil, err
		}
		specs = append(specs, spec)
	}

	if len(fragments) > 1 && looksMisSplit(fragments) {
		return nil, fmt.Errorf("parse descriptor %q: %w", descriptor, ErrEmbeddedDelimiter)
	}
	return specs, nil
}

func parseFragment(fragment string) (Spec, error) {
	source := fragment
	permission := ReadWrite

	if idx := strings.LastIndex(fragment, ":"); idx >= 0 {
		suffix := fragment[idx+1:]
		parsed, ok := ParsePermission(suffix)
		if !ok {
			return Spec{}, fmt.Errorf(
				"invalid permission %q in mount fragment %q (use ro, readonly, rw, or readwrite)", suffix, fragment)
		}
		source = fragment[:idx]
		permission = parsed
	}

	if source == "" {
		return Spec{}, fmt.Errorf("mount fragment %q has no source path", fragment)
	}
	return NewSpec(source, permission), nil
}

// looksMisSplit reports whether more than half of the fragments are short
// and separator-free, the signature of a comma inside a single path. The
// 50% threshold is a tuned default, not a contract.
func looksMisSplit(fragments []string) bool {
	short := 0
	for _, fragment := range fragments {
		fragment = strings.TrimSpace(fragment)
		if len(fragment) <= shortFragmentLimit && !strings.Contains(fragment, "/") {
			short++
		}
	}
	return short*2 > len(fragments)
}
