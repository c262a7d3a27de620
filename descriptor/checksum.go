package descriptor

import "fmt"

// Checksum computes the BIP380 8-character descriptor checksum for the
// descriptor body (without a trailing "#checksum").
//
// Algorithm: the descriptor is encoded over a 5-bit "descriptor charset" via
// a lookup table giving each input character a set-index and a bit within
// that set, folded through a BCH-style generator polynomial identical to the
// one Bitcoin Core uses for descriptor checksums.
func Checksum(descriptor string) (string, error) {
	const inputCharset = "0123456789()[],'/*abcdefgh@:$%{}IJKLMNOPQRSTUVWXYZ&+-.;<=>?!^_|~ijklmnopqrstuvwxyzABCDEFGH`#\"\\ "
	const checksumCharset = "qpzry9x8gf2tvdw0s3jn54khce6mua7l"

	var c uint64 = 1
	var cls uint64
	clsCount := 0

	polyMod := func(c uint64, val uint64) uint64 {
		c0 := c >> 35
		c = ((c & 0x7ffffffff) << 5) ^ val
		if c0&1 != 0 {
			c ^= 0xf5dee51989
		}
		if c0&2 != 0 {
			c ^= 0xa9fdca3312
		}
		if c0&4 != 0 {
			c ^= 0x1bab10e32d
		}
		if c0&8 != 0 {
			c ^= 0x3706b1677a
		}
		if c0&16 != 0 {
			c ^= 0x644d626ffd
		}
		return c
	}

	for _, ch := range descriptor {
		pos := indexOf(inputCharset, byte(ch))
		if pos == -1 {
			return "", fmt.Errorf("invalid descriptor character: %q", ch)
		}
		c = polyMod(c, uint64(pos&31))
		cls = cls*3 + uint64(pos>>5)
		clsCount++
		if clsCount == 3 {
			c = polyMod(c, cls)
			cls = 0
			clsCount = 0
		}
	}
	if clsCount > 0 {
		c = polyMod(c, cls)
	}
	for j := 0; j < 8; j++ {
		c = polyMod(c, 0)
	}
	c ^= 1

	ret := make([]byte, 8)
	for j := 0; j < 8; j++ {
		ret[j] = checksumCharset[(c>>(5*(7-uint(j))))&31]
	}
	return string(ret), nil
}

func indexOf(s string, b byte) int {
	for i := 0; i < len(s); i++ {
		if s[i] == b {
			return i
		}
	}
	return -1
}

// AddChecksum appends "#checksum" to a descriptor body.
func AddChecksum(descriptor string) (string, error) {
	sum, err := Checksum(descriptor)
	if err != nil {
		return "", err
	}
	return descriptor + "#" + sum, nil
}

// StripChecksum removes a trailing "#checksum" if present.
func StripChecksum(descriptor string) string {
	body, _ := splitChecksum(descriptor)
	return body
}

// ValidateChecksum verifies a descriptor's trailing checksum, if present.
// A descriptor with no checksum is considered valid (checksums are
// optional in BIP380).
func ValidateChecksum(descriptor string) (bool, error) {
	body, checksum := splitChecksum(descriptor)
	if checksum == "" {
		return true, nil
	}
	computed, err := Checksum(body)
	if err != nil {
		return false, err
	}
	return computed == checksum, nil
}
