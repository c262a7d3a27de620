// Package backup composes a wallet's canonical sync snapshot and its
// secretvault entries into a single password-encrypted export blob,
// following the storage-entry-as-JSON convention used throughout this
// plugin (record_storage.go, sync/snapshot.go).
package backup

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/json"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/pbkdf2"

	"github.com/dan/vault-plugin-secrets-btc/normalizer"
	"github.com/dan/vault-plugin-secrets-btc/secretvault"
	"github.com/dan/vault-plugin-secrets-btc/sync"
)

const (
	pbkdf2Iterations = 200_000
	saltLen          = 16
	nonceLen         = chacha20poly1305.NonceSize
	keyLen           = chacha20poly1305.KeySize
	formatVersion    = 1
)

// Payload is the plaintext contents of a backup, serialized to JSON before
// encryption.
type Payload struct {
	FormatVersion int                 `json:"format_version"`
	Record        normalizer.Record   `json:"record"`
	Secret        *secretvault.Entry  `json:"secret,omitempty"`
	Snapshot      *sync.Snapshot      `json:"snapshot,omitempty"`
}

// Blob is the at-rest encrypted backup, suitable for storing as a single
// opaque value (e.g. returned to the operator as base64, or persisted via
// logical.StorageEntryJSON at the call site). WalletID is carried in the
// clear alongside the ciphertext (it is not secret) so Import can rebuild
// the same associated data Export committed to without needing to decrypt
// first.
type Blob struct {
	FormatVersion int    `json:"format_version"`
	WalletID      string `json:"wallet_id"`
	Salt          []byte `json:"salt"`
	Nonce         []byte `json:"nonce"`
	Cipher        []byte `json:"cipher"`
}

// Export serializes record (plus its encrypted secret entry and latest
// sync snapshot, when available) and encrypts the result under a key
// derived from password via PBKDF2-SHA256, matching secretvault's KDF
// construction but with its own salt/iteration count and associated data
// so a backup password can never be reused to decrypt a live vault entry.
func Export(record normalizer.Record, secret *secretvault.Entry, snapshot *sync.Snapshot, password string) (*Blob, error) {
	payload := Payload{
		FormatVersion: formatVersion,
		Record:        record,
		Secret:        secret,
		Snapshot:      snapshot,
	}
	plaintext, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal backup payload: %w", err)
	}

	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("failed to generate salt: %w", err)
	}
	nonce := make([]byte, nonceLen)
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	key := deriveKey(password, salt)
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, fmt.Errorf("failed to construct AEAD: %w", err)
	}

	cipher := aead.Seal(nil, nonce, plaintext, associatedData(record.ID))

	return &Blob{
		FormatVersion: formatVersion,
		WalletID:      record.ID,
		Salt:          salt,
		Nonce:         nonce,
		Cipher:        cipher,
	}, nil
}

// Import decrypts blob under password, returning ErrInvalidPassword if the
// AEAD tag fails to verify (wrong password or a corrupted/tampered blob —
// indistinguishable to the caller, matching secretvault's ErrInvalidPin
// convention).
func Import(blob *Blob, password string) (*Payload, error) {
	if blob.FormatVersion != formatVersion {
		return nil, fmt.Errorf("unsupported backup format version %d", blob.FormatVersion)
	}

	key := deriveKey(password, blob.Salt)
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, fmt.Errorf("failed to construct AEAD: %w", err)
	}

	plaintext, err := aead.Open(nil, blob.Nonce, blob.Cipher, associatedData(blob.WalletID))
	if err != nil {
		return nil, ErrInvalidPassword
	}

	var payload Payload
	if err := json.Unmarshal(plaintext, &payload); err != nil {
		return nil, fmt.Errorf("failed to decode backup payload: %w", err)
	}
	return &payload, nil
}

// ErrInvalidPassword is returned when the supplied password fails to
// authenticate a backup blob.
var ErrInvalidPassword = fmt.Errorf("invalid backup password")

func deriveKey(password string, salt []byte) []byte {
	return pbkdf2.Key([]byte(password), salt, pbkdf2Iterations, keyLen, sha256.New)
}

func associatedData(walletID string) []byte {
	return []byte("btc-backup:" + walletID)
}
