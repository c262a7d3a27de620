// Package primitives wraps the low-level cryptographic and encoding
// operations shared by every higher component: hashing, HMAC, ECDSA/Schnorr
// signing, base58/bech32/bech32m, and BIP39 wordlist lookups.
package primitives

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/sha512"
	"fmt"

	"golang.org/x/crypto/ripemd160" //nolint:staticcheck // required for hash160, no stdlib equivalent
)

// SHA256 returns the SHA-256 digest of data.
func SHA256(data []byte) []byte {
	sum := sha256.Sum256(data)
	return sum[:]
}

// SHA256d returns the double SHA-256 digest of data, as used for txids and
// base58check checksums.
func SHA256d(data []byte) []byte {
	return SHA256(SHA256(data))
}

// RIPEMD160 returns the RIPEMD-160 digest of data.
func RIPEMD160(data []byte) []byte {
	h := ripemd160.New()
	h.Write(data) //nolint:errcheck // hash.Hash.Write never errors
	return h.Sum(nil)
}

// Hash160 returns RIPEMD160(SHA256(data)), the digest used for P2PKH and
// P2WPKH scripts.
func Hash160(data []byte) []byte {
	return RIPEMD160(SHA256(data))
}

// HMACSHA512 computes HMAC-SHA512(key, data), used to derive BIP32 master
// keys from a seed.
func HMACSHA512(key, data []byte) []byte {
	mac := hmac.New(sha512.New, key)
	mac.Write(data) //nolint:errcheck
	return mac.Sum(nil)
}

// ErrInvalidChecksum is returned when a checksummed encoding fails
// verification.
var ErrInvalidChecksum = fmt.Errorf("invalid checksum")

// ErrInvalidLength is returned when decoded data has an unexpected length.
var ErrInvalidLength = fmt.Errorf("invalid length")

// ErrMixedCase is returned when a bech32/bech32m string mixes upper and
// lower case, which BIP173/350 forbid.
var ErrMixedCase = fmt.Errorf("mixed case not allowed")

// ErrOutOfRange is returned when a numeric argument falls outside its
// documented domain.
var ErrOutOfRange = fmt.Errorf("value out of range")
