package pathsec

import (
	"os"
)

// Resolver re-validates an already-canonical path immediately before it
// is embedded into an engine command line. Between the initial
// validation and the moment the mount argument is built, a symlink along
// the path can be swapped to point somewhere else; re-resolving inside
// the smallest possible window is the only defense short of an atomic
// bind primitive, so the re-check runs on every mount, every time.
//
// The encoding layer is deliberately skipped: the input is already
// canonical and carries no decoding ambiguity, which keeps the re-check
// cheap.
type Resolver struct {
	validator *Validator
}

// NewResolver builds a Resolver sharing the validator's root policy.
func NewResolver(validator *Validator) *Resolver {
	return &Resolver{validator: validator}
}

// ResolveForUse confirms the canonical path still exists, still resolves
// to the same identity, and still clears the denylist and allowlist.
// It fails closed on any change.
func (r *Resolver) ResolveForUse(canonical string) (string, error) {
	info, err := os.Stat(canonical)
	if err != nil {
		if os.IsNotExist(err) {
			return "", reject(canonical, RuleNotADirectory, "path vanished between validation and use")
		}
		return "", err
	}
	if !info.IsDir() {
		return "", reject(canonical, RuleNotADirectory, "path is no longer a directory")
	}

	resolved, err := canonicalize(canonical)
	if err != nil {
		return "", err
	}
	if resolved != canonical {
		return "", &RejectionError{
			Path:   canonical,
			Rule:   RuleIdentityChanged,
			Detail: "path changed identity between validation and use (now " + resolved + ")",
		}
	}

	if err := r.validator.checkRoots(canonical, resolved); err != nil {
		return "", err
	}
	return resolved, nil
}
