// Package secretvault implements at-rest encryption of seeds, xprvs, WIF
// keys, and cosigner material, gated by a PIN-derived AEAD key, plus the
// PinAuthCoordinator lockout schedule (see pin.go).
package secretvault

import (
	"crypto/rand"
	"crypto/subtle"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"

	"github.com/dan/vault-plugin-secrets-btc/primitives"
)

// SecretType enumerates what kind of material an entry holds.
type SecretType string

const (
	SecretMnemonic     SecretType = "mnemonic"
	SecretXprv         SecretType = "xprv"
	SecretSeed         SecretType = "seed"
	SecretWIF          SecretType = "wif"
	SecretCosignerSeed SecretType = "cosigner_seed"
)

const (
	pbkdf2Iterations = 100_000
	saltLen          = 16
	nonceLen         = chacha20poly1305.NonceSize
	keyLen           = chacha20poly1305.KeySize
)

// ErrInvalidPin is returned when the supplied PIN fails to authenticate an
// entry. Per §4.2 this is intentionally indistinguishable on the wire from
// ErrTampered — both collapse to the caller-visible AuthError.InvalidPin —
// so callers must not branch on which of the two underlying causes fired.
var ErrInvalidPin = fmt.Errorf("invalid pin")

// ErrTampered is the internal cause recorded when the AEAD tag fails to
// verify for a reason other than a simple wrong PIN (e.g. corrupted
// ciphertext). Never surfaced distinctly to the UI boundary.
var ErrTampered = fmt.Errorf("tampered or corrupted secret")

// Entry is the at-rest representation of one stored secret.
type Entry struct {
	WalletID string     `json:"wallet_id"`
	Type     SecretType `json:"type"`
	Salt     []byte     `json:"salt"`
	Nonce    []byte     `json:"nonce"`
	Cipher   []byte     `json:"cipher"`
}

// Store encrypts secret under a key derived from pin (PBKDF2-SHA256,
// 100,000 iterations, random per-entry salt) using ChaCha20-Poly1305 AEAD,
// an equivalent construction to AES-256-GCM per §4.2.
func Store(walletID string, secret []byte, typ SecretType, pin string) (*Entry, error) {
	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("failed to generate salt: %w", err)
	}
	nonce := make([]byte, nonceLen)
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	key := deriveKey(pin, salt)
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, fmt.Errorf("failed to construct AEAD: %w", err)
	}

	cipher := aead.Seal(nil, nonce, secret, associatedData(walletID, typ))

	return &Entry{
		WalletID: walletID,
		Type:     typ,
		Salt:     salt,
		Nonce:    nonce,
		Cipher:   cipher,
	}, nil
}

// Read decrypts entry using pin, returning ErrInvalidPin if the PIN does
// not authenticate (AEAD tag mismatch, wrong key, or corrupted ciphertext —
// all collapse to the same caller-visible outcome per §4.2).
func Read(entry *Entry, pin string) ([]byte, error) {
	key := deriveKey(pin, entry.Salt)
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, fmt.Errorf("failed to construct AEAD: %w", err)
	}

	plaintext, err := aead.Open(nil, entry.Nonce, entry.Cipher, associatedData(entry.WalletID, entry.Type))
	if err != nil {
		return nil, ErrInvalidPin
	}
	return plaintext, nil
}

// CosignerIndex validates a multisig cosigner sub-key index is in 0-14
// (§4.2 storeCosignerSeed).
func CosignerIndex(i int) error {
	if i < 0 || i > 14 {
		return fmt.Errorf("cosigner index %d out of range [0,14]", i)
	}
	return nil
}

func deriveKey(pin string, salt []byte) []byte {
	return primitives.PBKDF2SHA256([]byte(pin), salt, pbkdf2Iterations, keyLen)
}

func associatedData(walletID string, typ SecretType) []byte {
	return []byte(walletID + ":" + string(typ))
}

// ConstantTimeEqual performs a timing-safe byte comparison, used anywhere
// this package or its callers compare secrets directly rather than through
// AEAD verification.
func ConstantTimeEqual(a, b []byte) bool {
	return subtle.ConstantTimeCompare(a, b) == 1
}
