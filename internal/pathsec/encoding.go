package pathsec

import (
	"regexp"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// Dot homoglyphs: code points that render like, or normalize into, an
// ASCII full stop. U+2025 and U+2026 expand to multiple dots on their
// own.
const (
	fullwidthFullStop  = '．'
	oneDotLeader       = '․'
	twoDotLeader       = '‥'
	horizontalEllipsis = '…'
)

var normalizationForms = []norm.Form{norm.NFC, norm.NFD, norm.NFKC, norm.NFKD}

// escapedDotPattern matches literal "." escape sequences doubled or
// mixed with a dot or dot homoglyph. It is also the whole of the legacy
// scan used when normalization support is unavailable.
var escapedDotPattern = regexp.MustCompile(
	`(?i)(\\u002e([.\x{FF0E}\x{2024}\x{2025}\x{2026}]|\\u002e))|([.\x{FF0E}\x{2024}\x{2025}\x{2026}]\\u002e)`)

// checkEncodingAttack looks for traversal sequences hidden behind
// Unicode encoding tricks. The path is normalized independently under
// each of the four normalization forms; every variant, plus the
// original, is scanned for homoglyph dot pairs, and any variant that
// grows a ".." the original does not have is treated as an attack.
func checkEncodingAttack(source string) error {
	if err := scanEscapedDotPatterns(source); err != nil {
		return err
	}

	variants := make([]string, 0, len(normalizationForms)+1)
	variants = append(variants, source)
	for _, form := range normalizationForms {
		variants = append(variants, form.String(source))
	}

	originalHasDotDot := strings.Contains(source, "..")
	for _, variant := range variants {
		if pos := findHomoglyphPair(variant); pos >= 0 {
			return &RejectionError{
				Path:   source,
				Rule:   RuleEncodingAttack,
				Detail: "path contains a disguised traversal sequence (dot homoglyph)",
			}
		}
		if !originalHasDotDot && strings.Contains(variant, "..") {
			return &RejectionError{
				Path:   source,
				Rule:   RuleEncodingAttack,
				Detail: "path normalizes to a form containing '..'",
			}
		}
	}
	return nil
}

// scanEscapedDotPatterns is the conservative fallback check: it only
// recognizes the escaped-codepoint spellings of a doubled dot.
func scanEscapedDotPatterns(source string) error {
	if escapedDotPattern.MatchString(source) {
		return &RejectionError{
			Path:   source,
			Rule:   RuleEncodingAttack,
			Detail: `path contains an escaped . traversal sequence`,
		}
	}
	return nil
}

// findHomoglyphPair returns the rune index of the first adjacent pair of
// dot-like runes in which at least one is a homoglyph, or -1. A pair of
// plain ASCII dots is a lexical matter, not an encoding one, and is left
// to the traversal check.
func findHomoglyphPair(s string) int {
	runes := []rune(s)
	for i, r := range runes {
		if !isDotHomoglyph(r) {
			continue
		}
		// U+2025 and U+2026 encode two or more dots by themselves.
		if r == twoDotLeader || r == horizontalEllipsis {
			return i
		}
		if i > 0 && isDotLike(runes[i-1]) {
			return i - 1
		}
		if i+1 < len(runes) && isDotLike(runes[i+1]) {
			return i
		}
	}
	return -1
}

func isDotHomoglyph(r rune) bool {
	switch r {
	case fullwidthFullStop, oneDotLeader, twoDotLeader, horizontalEllipsis:
		return true
	}
	return false
}

func isDotLike(r rune) bool {
	return r == '.' || isDotHomoglyph(r)
}
