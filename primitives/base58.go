package primitives

import (
	"github.com/btcsuite/btcd/btcutil/base58"
)

// Base58CheckEncode encodes payload with a version byte prefix and an
// appended double-SHA256 checksum, using the real base58 library instead of
// a hand-rolled big-integer loop.
func Base58CheckEncode(payload []byte, version byte) string {
	return base58.CheckEncode(payload, version)
}

// Base58CheckDecode decodes a base58check string, returning the payload and
// version byte. Checksum mismatches return ErrInvalidChecksum.
func Base58CheckDecode(encoded string) ([]byte, byte, error) {
	payload, version, err := base58.CheckDecode(encoded)
	if err != nil {
		if err == base58.ErrChecksum {
			return nil, 0, ErrInvalidChecksum
		}
		return nil, 0, err
	}
	return payload, version, nil
}

// Base58CheckDecodeVersionBytes decodes a base58check string whose version
// field is wider than one byte (extended keys use a 4-byte version), needed
// for SLIP-0132 zpub/vpub/xpub/tpub conversion.
func Base58CheckDecodeVersionBytes(encoded string, versionLen int) (payload []byte, version []byte, err error) {
	raw := base58.Decode(encoded)
	if len(raw) < versionLen+4 {
		return nil, nil, ErrInvalidLength
	}
	body := raw[:len(raw)-4]
	checksum := raw[len(raw)-4:]
	want := SHA256d(body)[:4]
	if !bytesEqual(checksum, want) {
		return nil, nil, ErrInvalidChecksum
	}
	return body[versionLen:], body[:versionLen], nil
}

// Base58CheckEncodeVersionBytes is the inverse of
// Base58CheckDecodeVersionBytes, for version fields wider than one byte.
func Base58CheckEncodeVersionBytes(payload, version []byte) string {
	body := make([]byte, 0, len(version)+len(payload))
	body = append(body, version...)
	body = append(body, payload...)
	checksum := SHA256d(body)[:4]
	body = append(body, checksum...)
	return base58.Encode(body)
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
