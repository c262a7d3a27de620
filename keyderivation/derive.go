// Package keyderivation implements BIP32 chain derivation across the
// BIP44/49/84/86/48 purpose presets and materializes addresses for every
// script type a CanonicalWalletRecord can carry.
package keyderivation

import (
	"encoding/binary"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg"
)

// ScriptType identifies how a derived key is turned into an address.
type ScriptType string

const (
	ScriptP2PKH      ScriptType = "p2pkh"
	ScriptP2SHP2WPKH ScriptType = "p2sh-p2wpkh"
	ScriptP2WPKH     ScriptType = "p2wpkh"
	ScriptP2TR       ScriptType = "p2tr"
	ScriptP2WSH      ScriptType = "p2wsh"
	ScriptP2SHP2WSH  ScriptType = "p2sh-p2wsh"
)

// Preset identifies a BIP purpose-specific derivation path template.
type Preset string

const (
	PresetBIP44   Preset = "bip44"
	PresetBIP49   Preset = "bip49"
	PresetBIP84   Preset = "bip84"
	PresetBIP86   Preset = "bip86"
	PresetBIP48   Preset = "bip48"
	PresetCustom  Preset = "custom"
	PresetGeneric Preset = "hd"
)

// Purpose returns the BIP purpose number for a preset, and ok=false for
// presets (custom, generic hd) that carry no fixed purpose.
func Purpose(p Preset) (uint32, bool) {
	switch p {
	case PresetBIP44:
		return 44, true
	case PresetBIP49:
		return 49, true
	case PresetBIP84:
		return 84, true
	case PresetBIP86:
		return 86, true
	case PresetBIP48:
		return 48, true
	default:
		return 0, false
	}
}

// PresetForScriptType returns the canonical preset for a script type, used
// when the caller hasn't pinned one explicitly.
func PresetForScriptType(st ScriptType) Preset {
	switch st {
	case ScriptP2PKH:
		return PresetBIP44
	case ScriptP2SHP2WPKH:
		return PresetBIP49
	case ScriptP2WPKH:
		return PresetBIP84
	case ScriptP2TR:
		return PresetBIP86
	case ScriptP2WSH, ScriptP2SHP2WSH:
		return PresetBIP48
	default:
		return PresetCustom
	}
}

// CoinType is always 0 (Bitcoin mainnet) — the spec fixes network to
// mainnet, so the testnet coin type (1) the teacher supported is dropped.
const CoinType = 0

// NetworkParams returns chaincfg.MainNetParams; the spec fixes network to
// mainnet only, so this never branches on a network argument.
func NetworkParams() *chaincfg.Params {
	return &chaincfg.MainNetParams
}

// MasterKey derives the BIP32 master extended key from a seed.
func MasterKey(seed []byte) (*hdkeychain.ExtendedKey, error) {
	master, err := hdkeychain.NewMaster(seed, NetworkParams())
	if err != nil {
		return nil, fmt.Errorf("failed to create master key: %w", err)
	}
	return master, nil
}

// AccountKey derives m/purpose'/0'/account' (or, for BIP48, the
// m/48'/0'/account'/scriptType' path with the extra script-type level
// required by that BIP) from a seed.
func AccountKey(seed []byte, preset Preset, account uint32, scriptType ScriptType) (*hdkeychain.ExtendedKey, error) {
	master, err := MasterKey(seed)
	if err != nil {
		return nil, err
	}

	purpose, ok := Purpose(preset)
	if !ok {
		return nil, fmt.Errorf("preset %q has no fixed purpose; use CustomKey", preset)
	}

	purposeKey, err := master.Derive(hdkeychain.HardenedKeyStart + purpose)
	if err != nil {
		return nil, fmt.Errorf("failed to derive purpose key: %w", err)
	}

	coinKey, err := purposeKey.Derive(hdkeychain.HardenedKeyStart + CoinType)
	if err != nil {
		return nil, fmt.Errorf("failed to derive coin type key: %w", err)
	}

	accountKey, err := coinKey.Derive(hdkeychain.HardenedKeyStart + account)
	if err != nil {
		return nil, fmt.Errorf("failed to derive account key: %w", err)
	}

	if preset == PresetBIP48 {
		scriptTypeIndex, err := bip48ScriptTypeIndex(scriptType)
		if err != nil {
			return nil, err
		}
		accountKey, err = accountKey.Derive(hdkeychain.HardenedKeyStart + scriptTypeIndex)
		if err != nil {
			return nil, fmt.Errorf("failed to derive BIP48 script-type key: %w", err)
		}
	}

	return accountKey, nil
}

// bip48ScriptTypeIndex returns BIP48's fourth hardened path component, which
// picks the multisig script type: 1' for P2SH-P2WSH, 2' for P2WSH.
func bip48ScriptTypeIndex(st ScriptType) (uint32, error) {
	switch st {
	case ScriptP2SHP2WSH:
		return 1, nil
	case ScriptP2WSH:
		return 2, nil
	default:
		return 0, fmt.Errorf("BIP48 requires a multisig script type, got %q", st)
	}
}

// CustomKey derives an arbitrary BIP32 path (e.g. "m/44'/0'/0'/0/5") from a
// seed, for the `custom` preset.
func CustomKey(seed []byte, path string) (*hdkeychain.ExtendedKey, error) {
	steps, err := ParsePath(path)
	if err != nil {
		return nil, err
	}
	key, err := MasterKey(seed)
	if err != nil {
		return nil, err
	}
	for _, step := range steps {
		key, err = key.Derive(step)
		if err != nil {
			return nil, fmt.Errorf("failed to derive path step: %w", err)
		}
	}
	return key, nil
}

// AddressKey derives accountKey/change/index, e.g. the final two levels of
// m/purpose'/coin'/account'/change/index.
func AddressKey(accountKey *hdkeychain.ExtendedKey, change, index uint32) (*hdkeychain.ExtendedKey, error) {
	changeKey, err := accountKey.Derive(change)
	if err != nil {
		return nil, fmt.Errorf("failed to derive change key: %w", err)
	}
	addressKey, err := changeKey.Derive(index)
	if err != nil {
		return nil, fmt.Errorf("failed to derive address key: %w", err)
	}
	return addressKey, nil
}

// DerivationPath renders the BIP32 path string for preset/account/change/index.
func DerivationPath(preset Preset, account, change, index uint32, scriptType ScriptType) string {
	if preset == PresetBIP48 {
		idx, _ := bip48ScriptTypeIndex(scriptType)
		return fmt.Sprintf("m/48'/0'/%d'/%d'/%d/%d", account, idx, change, index)
	}
	purpose, ok := Purpose(preset)
	if !ok {
		purpose, _ = Purpose(PresetForScriptType(scriptType))
	}
	return fmt.Sprintf("m/%d'/0'/%d'/%d/%d", purpose, account, change, index)
}

// GetPrivateKey extracts the EC private key from an extended key.
func GetPrivateKey(key *hdkeychain.ExtendedKey) (*btcec.PrivateKey, error) {
	if !key.IsPrivate() {
		return nil, fmt.Errorf("extended key is not private")
	}
	priv, err := key.ECPrivKey()
	if err != nil {
		return nil, fmt.Errorf("failed to get EC private key: %w", err)
	}
	return priv, nil
}

// GetPublicKey extracts the EC public key from an extended key.
func GetPublicKey(key *hdkeychain.ExtendedKey) (*btcec.PublicKey, error) {
	pub, err := key.ECPubKey()
	if err != nil {
		return nil, fmt.Errorf("failed to get EC public key: %w", err)
	}
	return pub, nil
}

// Fingerprint returns the 4-byte BIP32 fingerprint of key's parent (or, for
// a master key, the key's own identifier-derived fingerprint).
func Fingerprint(key *hdkeychain.ExtendedKey) uint32 {
	if key.Depth() == 0 {
		pub, err := key.ECPubKey()
		if err != nil {
			return 0
		}
		return binary.BigEndian.Uint32(btcutil.Hash160(pub.SerializeCompressed())[:4])
	}
	return key.ParentFingerprint()
}
