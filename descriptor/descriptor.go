// Package descriptor parses, validates, checksums, and synthesizes BIP380
// output descriptors: pkh(), wpkh(), sh(wpkh()), tr(), multi()/sortedmulti(),
// optionally wrapped in sh()/wsh()/sh(wsh()).
package descriptor

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/dan/vault-plugin-secrets-btc/keyderivation"
)

// Info describes a parsed descriptor.
type Info struct {
	Raw        string
	Type       string // "pkh", "wpkh", "sh-wpkh", "tr", "multi", "sortedmulti", "sh-multi", "wsh-multi", "sh-wsh-multi"
	ScriptType keyderivation.ScriptType
	IsRange    bool
	IsMultisig bool
	Threshold  int
	TotalKeys  int
	Keys       []KeyExpression
	Checksum   string
	IsValid    bool
}

// KeyExpression is one key within a descriptor: an optional origin
// ([fingerprint/path]) prefix, the key material itself (xpub/xprv/pubkey),
// and an optional "/chain/*" range suffix.
type KeyExpression struct {
	Raw            string
	Fingerprint    string // 8 hex chars, empty if no origin given
	OriginPath     string
	KeyMaterial    string
	IsRange        bool
	RangeSuffix    string // e.g. "/0/*"
}

var keyExprOriginRE = regexp.MustCompile(`^\[([0-9a-fA-F]{8})((?:/[0-9]+[h']?)*)\]`)

// Parse parses a full descriptor expression, including an optional
// trailing "#checksum".
func Parse(expr string) (*Info, error) {
	expr = strings.TrimSpace(expr)
	body, checksum := splitChecksum(expr)

	info := &Info{Raw: expr, Checksum: checksum}

	if checksum != "" {
		computed, err := Checksum(body)
		if err != nil {
			return nil, err
		}
		if computed != checksum {
			info.IsValid = false
			return info, fmt.Errorf("descriptor checksum mismatch: got %s, want %s", checksum, computed)
		}
	}

	if err := parseBody(body, info); err != nil {
		return nil, err
	}
	info.IsValid = true
	return info, nil
}

func splitChecksum(expr string) (body, checksum string) {
	idx := strings.LastIndex(expr, "#")
	if idx < 0 {
		return expr, ""
	}
	return expr[:idx], expr[idx+1:]
}

func parseBody(body string, info *Info) error {
	switch {
	case strings.HasPrefix(body, "pkh(") && strings.HasSuffix(body, ")"):
		info.Type = "pkh"
		info.ScriptType = keyderivation.ScriptP2PKH
		return parseSingleKey(inner(body, "pkh"), info)

	case strings.HasPrefix(body, "wpkh(") && strings.HasSuffix(body, ")"):
		info.Type = "wpkh"
		info.ScriptType = keyderivation.ScriptP2WPKH
		return parseSingleKey(inner(body, "wpkh"), info)

	case strings.HasPrefix(body, "sh(wpkh(") && strings.HasSuffix(body, "))"):
		info.Type = "sh-wpkh"
		info.ScriptType = keyderivation.ScriptP2SHP2WPKH
		return parseSingleKey(inner(inner(body, "sh"), "wpkh"), info)

	case strings.HasPrefix(body, "tr(") && strings.HasSuffix(body, ")"):
		info.Type = "tr"
		info.ScriptType = keyderivation.ScriptP2TR
		return parseSingleKey(inner(body, "tr"), info)

	case strings.HasPrefix(body, "sh(wsh(") && strings.HasSuffix(body, "))"):
		return parseMultisigWrapped(inner(inner(body, "sh"), "wsh"), keyderivation.ScriptP2SHP2WSH, "sh-wsh-multi", info)

	case strings.HasPrefix(body, "wsh(") && strings.HasSuffix(body, ")"):
		return parseMultisigWrapped(inner(body, "wsh"), keyderivation.ScriptP2WSH, "wsh-multi", info)

	case strings.HasPrefix(body, "sh(") && strings.HasSuffix(body, ")"):
		return parseMultisigWrapped(inner(body, "sh"), keyderivation.ScriptP2SHP2WSH, "sh-multi", info)

	case strings.HasPrefix(body, "multi(") || strings.HasPrefix(body, "sortedmulti("):
		// bare multi(), not explicitly wrapped: normalized to p2wsh per §4.3.
		return parseMultisigWrapped(body, keyderivation.ScriptP2WSH, "multi", info)

	default:
		return fmt.Errorf("unsupported or malformed descriptor: %s", body)
	}
}

func inner(s, fn string) string {
	s = strings.TrimPrefix(s, fn+"(")
	return strings.TrimSuffix(s, ")")
}

func parseSingleKey(keyExpr string, info *Info) error {
	k, err := parseKeyExpression(keyExpr)
	if err != nil {
		return err
	}
	info.Keys = []KeyExpression{k}
	info.IsRange = k.IsRange
	return nil
}

func parseMultisigWrapped(body string, st keyderivation.ScriptType, typeName string, info *Info) error {
	info.IsMultisig = true
	info.ScriptType = st
	sorted := strings.HasPrefix(body, "sortedmulti(")
	if sorted {
		info.Type = "sortedmulti"
		body = inner(body, "sortedmulti")
	} else {
		info.Type = typeName
		body = inner(body, "multi")
	}

	parts := SplitTopLevel(body, ',')
	if len(parts) < 2 {
		return fmt.Errorf("multisig descriptor requires a threshold and at least one key")
	}
	threshold, err := strconv.Atoi(strings.TrimSpace(parts[0]))
	if err != nil {
		return fmt.Errorf("invalid multisig threshold: %w", err)
	}
	info.Threshold = threshold
	info.TotalKeys = len(parts) - 1
	if threshold < 1 || threshold > info.TotalKeys || info.TotalKeys > 15 {
		return fmt.Errorf("invalid multisig parameters: %d-of-%d", threshold, info.TotalKeys)
	}

	for _, p := range parts[1:] {
		k, err := parseKeyExpression(strings.TrimSpace(p))
		if err != nil {
			return err
		}
		info.Keys = append(info.Keys, k)
		if k.IsRange {
			info.IsRange = true
		}
	}
	return nil
}

func parseKeyExpression(raw string) (KeyExpression, error) {
	k := KeyExpression{Raw: raw}
	rest := raw

	if m := keyExprOriginRE.FindStringSubmatch(rest); m != nil {
		k.Fingerprint = m[1]
		k.OriginPath = m[2]
		rest = rest[len(m[0]):]
	}

	if idx := strings.Index(rest, "/"); idx >= 0 {
		k.KeyMaterial = rest[:idx]
		k.RangeSuffix = rest[idx:]
		k.IsRange = strings.HasSuffix(k.RangeSuffix, "*")
	} else {
		k.KeyMaterial = rest
	}

	if k.KeyMaterial == "" {
		return k, fmt.Errorf("empty key expression in descriptor")
	}
	return k, nil
}

// SplitTopLevel splits s on sep, respecting nested (...) / [...] brackets so
// that a multisig key list's own bracketed origins never get split.
func SplitTopLevel(s string, sep byte) []string {
	var parts []string
	depth := 0
	start := 0
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '(', '[':
			depth++
		case ')', ']':
			depth--
		default:
			if s[i] == sep && depth == 0 {
				parts = append(parts, s[start:i])
				start = i + 1
			}
		}
	}
	parts = append(parts, s[start:])
	return parts
}
