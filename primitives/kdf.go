package primitives

import (
	"crypto/sha256"
	"crypto/sha512"
	"io"

	"golang.org/x/crypto/hkdf"
	"golang.org/x/crypto/pbkdf2"
)

// PBKDF2SHA512 derives a key of the given length using PBKDF2 with
// HMAC-SHA512, the construction BIP39 uses to stretch a mnemonic + passphrase
// into a seed (2048 iterations, salt = "mnemonic"+passphrase).
func PBKDF2SHA512(password, salt []byte, iter, keyLen int) []byte {
	return pbkdf2.Key(password, salt, iter, keyLen, sha512.New)
}

// PBKDF2SHA256 derives a key of the given length using PBKDF2 with
// HMAC-SHA256, used by SecretVault to stretch a PIN before AEAD sealing.
func PBKDF2SHA256(password, salt []byte, iter, keyLen int) []byte {
	return pbkdf2.Key(password, salt, iter, keyLen, sha256.New)
}

// HKDFSHA256 derives keyLen bytes from ikm via HKDF-SHA256 with the given
// salt and context info.
func HKDFSHA256(ikm, salt, info []byte, keyLen int) ([]byte, error) {
	r := hkdf.New(sha256.New, ikm, salt, info)
	out := make([]byte, keyLen)
	if _, err := io.ReadFull(r, out); err != nil {
		return nil, err
	}
	return out, nil
}
