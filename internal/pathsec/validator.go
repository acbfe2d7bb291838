// Package pathsec validates user-supplied host paths before they are
// mounted into an environment. Validation is layered: character policy,
// lexical traversal, encoding normalization, existence, and a
// system-path denylist, applied in order with the first failing layer
// naming the rejection. The checks read the filesystem (stat, symlink
// resolution) but never write.
package pathsec

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/cochaviz/denv/internal/logging"
)

// shellMetacharacters are rejected outright: mount sources end up on an
// engine command line and none of these occur in legitimate directory
// names often enough to justify the risk.
const shellMetacharacters = ";`$\""

// Validator screens mount source paths. The zero value is not usable;
// construct with NewValidator.
type Validator struct {
	// DeniedRoots are canonical protected roots. A path equal to or
	// nested under any of them is rejected. "/" matches by equality
	// only.
	DeniedRoots []string

	// AllowedRoots optionally restricts accepted paths to recognized
	// workspace or scratch roots. Empty means no allowlist policy.
	AllowedRoots []string

	// LegacyEncodingScan replaces the Unicode-normalization layer with
	// the conservative escaped-codepoint pattern match. Coverage is
	// reduced; Validate logs a warning instead of failing open.
	LegacyEncodingScan bool

	logger *slog.Logger
}

// NewValidator builds a Validator with the default system-path denylist.
func NewValidator(logger *slog.Logger) *Validator {
	return &Validator{
		DeniedRoots: DefaultDeniedRoots(),
		logger:      logging.Ensure(logger),
	}
}

// DefaultDeniedRoots returns the fixed set of protected roots: the root
// filesystem, core system directories, the invoking user's home config
// directories, and system log directories.
func DefaultDeniedRoots() []string {
	roots := []string{
		"/",
		"/etc",
		"/bin",
		"/sbin",
		"/usr",
		"/var",
		"/boot",
		"/proc",
		"/sys",
		"/dev",
		"/var/log",
	}
	if home, err := os.UserHomeDir(); err == nil && home != "" && home != "/" {
		roots = append(roots,
			filepath.Join(home, ".config"),
			filepath.Join(home, ".local"),
			filepath.Join(home, ".ssh"),
			filepath.Join(home, ".gnupg"),
		)
	}
	return roots
}

// Validate runs every layer against the raw source path and returns the
// canonical path on acceptance. On rejection the error is a
// *RejectionError naming the failing rule.
func (v *Validator) Validate(source string) (string, error) {
	if strings.TrimSpace(source) == "" {
		return "", reject(source, RuleCharacterPolicy, "path is empty")
	}

	// Layer 1: character policy. Applies to the raw string regardless
	// of filesystem state.
	if err := checkCharacterPolicy(source); err != nil {
		return "", err
	}

	// Layer 2: lexical traversal, before any canonicalization.
	if containsParentSegment(source) {
		return "", reject(source, RuleLexicalTraversal, "path contains a '..' segment")
	}

	// Layer 3: encoding normalization.
	if v.LegacyEncodingScan {
		v.logger.Warn("unicode normalization disabled; falling back to escaped-codepoint scan with reduced coverage",
			"path", source)
		if err := scanEscapedDotPatterns(source); err != nil {
			return "", err
		}
	} else if err := checkEncodingAttack(source); err != nil {
		return "", err
	}

	// Layer 4: the source must exist and be a directory.
	info, err := os.Stat(source)
	if err != nil {
		if os.IsNotExist(err) {
			return "", reject(source, RuleNotADirectory, "path does not exist")
		}
		return "", fmt.Errorf("stat %s: %w", source, err)
	}
	if !info.IsDir() {
		return "", reject(source, RuleNotADirectory, "path is not a directory")
	}

	canonical, err := canonicalize(source)
	if err != nil {
		return "", err
	}

	// Layers 5 and 6 operate on the canonical path and are shared with
	// the use-time re-check.
	if err := v.checkRoots(source, canonical); err != nil {
		return "", err
	}
	return canonical, nil
}

// checkRoots applies the denylist and the optional allowlist to an
// already-canonical path.
func (v *Validator) checkRoots(original, canonical string) error {
	for _, root := range v.DeniedRoots {
		if pathWithinRoot(canonical, root) {
			return &RejectionError{
				Path:   original,
				Rule:   RuleDeniedSystemPath,
				Detail: fmt.Sprintf("resolves to %s, under protected root %s", canonical, root),
				Hint:   "mount a project directory instead of a system path",
			}
		}
	}
	if len(v.AllowedRoots) > 0 {
		allowed := false
		for _, root := range v.AllowedRoots {
			if pathWithinRoot(canonical, root) {
				allowed = true
				break
			}
		}
		if !allowed {
			return &RejectionError{
				Path:   original,
				Rule:   RuleOutsideAllowlist,
				Detail: fmt.Sprintf("resolves to %s, outside the recognized workspace roots", canonical),
			}
		}
	}
	return nil
}

func checkCharacterPolicy(source string) error {
	if idx := strings.IndexAny(source, shellMetacharacters); idx >= 0 {
		return reject(source, RuleCharacterPolicy,
			fmt.Sprintf("path contains shell metacharacter %q", source[idx]))
	}
	for _, r := range source {
		if r < 0x20 || r == 0x7f {
			return reject(source, RuleCharacterPolicy, "path contains a control character")
		}
	}
	return nil
}

// containsParentSegment reports whether the path holds ".." as a whole
// segment. Substrings like "a..b" are legal directory names.
func containsParentSegment(path string) bool {
	for _, segment := range strings.Split(path, "/") {
		if segment == ".." {
			return true
		}
	}
	return false
}

func canonicalize(source string) (string, error) {
	abs, err := filepath.Abs(source)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %s: %w", source, err)
	}
	canonical, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return "", fmt.Errorf("canonicalize %s: %w", abs, err)
	}
	return canonical, nil
}

// pathWithinRoot reports whether path equals root or is nested under it.
// The filesystem root only matches by equality, otherwise it would
// shadow every other path.
func pathWithinRoot(path, root string) bool {
	if root == "/" {
		return path == "/"
	}
	return path == root || strings.HasPrefix(path, root+"/")
}
