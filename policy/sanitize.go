package policy

import "strings"

// shouldStrip reports whether r is one of the invisible/control characters
// §4.10 requires deepSanitizeAddress to strip: zero-width chars (U+200B -
// U+200F), BOM (U+FEFF), bidi overrides (U+202A-U+202E), bidi isolates
// (U+2066-U+2069), non-breaking space (U+00A0), tabs, and newlines.
func shouldStrip(r rune) bool {
	switch {
	case r >= 0x200B && r <= 0x200F: // zero-width space/joiners, LRM/RLM
		return true
	case r == 0xFEFF: // BOM / zero-width no-break space
		return true
	case r >= 0x202A && r <= 0x202E: // bidi embedding/override controls
		return true
	case r >= 0x2066 && r <= 0x2069: // bidi isolates
		return true
	case r == 0x00A0: // non-breaking space
		return true
	case r == '\t' || r == '\n' || r == '\r' || r == ' ':
		return true
	default:
		return false
	}
}

// SanitizeResult is the outcome of deepSanitizeAddress.
type SanitizeResult struct {
	Cleaned     string
	WasModified bool
}

// DeepSanitizeAddress strips invisible/control characters from a
// user-supplied address string and lowercases bech32 prefixes (bc1…),
// leaving legacy (base58) addresses case-preserved since their case carries
// checksum information. Idempotent: sanitizing an already-clean address is
// a no-op (spec §8 invariant 7).
func DeepSanitizeAddress(s string) SanitizeResult {
	var b strings.Builder
	modified := false
	for _, r := range s {
		if shouldStrip(r) {
			modified = true
			continue
		}
		b.WriteRune(r)
	}
	cleaned := b.String()

	if isBech32Like(cleaned) {
		lower := strings.ToLower(cleaned)
		if lower != cleaned {
			modified = true
		}
		cleaned = lower
	}

	return SanitizeResult{Cleaned: cleaned, WasModified: modified}
}

func isBech32Like(s string) bool {
	lower := strings.ToLower(s)
	return strings.HasPrefix(lower, "bc1") || strings.HasPrefix(lower, "tb1")
}
