package keyderivation

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/btcsuite/btcd/btcutil/hdkeychain"
)

// ParsePath parses a BIP32 derivation path such as "m/44'/0'/0'/0/5" into a
// sequence of raw child-derivation indices (hardened offset already added).
// Both "'" and "h"/"H" hardened markers are accepted, matching descriptor
// key-origin grammar as well as plain paths.
func ParsePath(path string) ([]uint32, error) {
	path = strings.TrimSpace(path)
	path = strings.TrimPrefix(path, "m")
	path = strings.TrimPrefix(path, "/")
	if path == "" {
		return nil, nil
	}

	parts := strings.Split(path, "/")
	steps := make([]uint32, 0, len(parts))
	for _, part := range parts {
		if part == "" {
			continue
		}
		hardened := false
		if strings.HasSuffix(part, "'") || strings.HasSuffix(part, "h") || strings.HasSuffix(part, "H") {
			hardened = true
			part = part[:len(part)-1]
		}
		n, err := strconv.ParseUint(part, 10, 32)
		if err != nil {
			return nil, fmt.Errorf("invalid path component %q: %w", part, err)
		}
		idx := uint32(n)
		if hardened {
			idx += hdkeychain.HardenedKeyStart
		}
		steps = append(steps, idx)
	}
	return steps, nil
}

// FormatPath renders raw derivation indices back into a "m/44'/0'/0'"-style
// string, the inverse of ParsePath.
func FormatPath(steps []uint32) string {
	var b strings.Builder
	b.WriteString("m")
	for _, step := range steps {
		b.WriteString("/")
		if step >= hdkeychain.HardenedKeyStart {
			fmt.Fprintf(&b, "%d'", step-hdkeychain.HardenedKeyStart)
		} else {
			fmt.Fprintf(&b, "%d", step)
		}
	}
	return b.String()
}
