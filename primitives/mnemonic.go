package primitives

import (
	"github.com/tyler-smith/go-bip39"
)

// GenerateMnemonic returns a new BIP39 mnemonic with the given entropy bit
// size (128 → 12 words, 256 → 24 words).
func GenerateMnemonic(entropyBits int) (string, error) {
	entropy, err := bip39.NewEntropy(entropyBits)
	if err != nil {
		return "", err
	}
	return bip39.NewMnemonic(entropy)
}

// ValidateMnemonic checks the word list membership and checksum of a BIP39
// mnemonic.
func ValidateMnemonic(mnemonic string) bool {
	return bip39.IsMnemonicValid(mnemonic)
}

// MnemonicToSeed stretches a mnemonic and optional passphrase into a 64-byte
// seed via PBKDF2-SHA512 with 2048 iterations, salt "mnemonic"+passphrase,
// per BIP39.
func MnemonicToSeed(mnemonic, passphrase string) []byte {
	return bip39.NewSeed(mnemonic, passphrase)
}

// WordAt returns the English wordlist entry at index i (0-2047), or an
// error if out of range.
func WordAt(i int) (string, error) {
	words := bip39.GetWordList()
	if i < 0 || i >= len(words) {
		return "", ErrOutOfRange
	}
	return words[i], nil
}
