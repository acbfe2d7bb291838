package pathsec

import "fmt"

// Rule identifies the validation layer that rejected a path. Callers and
// tests branch on the rule, never on the message text.
type Rule string

const (
	RuleCharacterPolicy  Rule = "character-policy"
	RuleLexicalTraversal Rule = "lexical-traversal"
	RuleEncodingAttack   Rule = "encoding-attack"
	RuleNotADirectory    Rule = "not-a-directory"
	RuleDeniedSystemPath Rule = "denied-system-path"
	RuleOutsideAllowlist Rule = "outside-allowed-roots"
	RuleIdentityChanged  Rule = "identity-changed"
)

// RejectionError reports why a mount source failed validation. Every
// rejection names the specific rule so the failure is never collapsed
// into a generic error.
type RejectionError struct {
	Path   string
	Rule   Rule
	Detail string
	Hint   string
}

func (e *RejectionError) Error() string {
	msg := fmt.Sprintf("mount source %q rejected (%s): %s", e.Path, e.Rule, e.Detail)
	if e.Hint != "" {
		msg += " (" + e.Hint + ")"
	}
	return msg
}

func reject(path string, rule Rule, detail string) *RejectionError {
	return &RejectionError{Path: path, Rule: rule, Detail: detail}
}
