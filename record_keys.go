package btc

import (
	"context"
	"fmt"
	"strings"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/hashicorp/vault/sdk/logical"

	"github.com/dan/vault-plugin-secrets-btc/descriptor"
	"github.com/dan/vault-plugin-secrets-btc/keyderivation"
	"github.com/dan/vault-plugin-secrets-btc/normalizer"
	"github.com/dan/vault-plugin-secrets-btc/primitives"
	"github.com/dan/vault-plugin-secrets-btc/secretvault"
)

// recordKeyMaterial holds whatever signing/derivation material a
// CanonicalWalletRecord resolves to once its secretvault entry (if any) has
// been decrypted: either one HD key that AddressKey/AccountKey children are
// derived from, or a flat list of static keys for the imported-key variants.
type recordKeyMaterial struct {
	hdKey   *hdkeychain.ExtendedKey // account-level key, private or public-only
	statics []*btcec.PrivateKey     // imported_key / imported_keys, indexed by position
}

// resolveKeyMaterial decrypts a record's secretvault entry (if it has one)
// and derives the account-level key or static key list needed to both
// materialize addresses and sign with them, generalizing the teacher's
// single btcWallet.Seed field across every CanonicalWalletRecord variant.
func resolveKeyMaterial(record *normalizer.Record, entry *secretvault.Entry, pin, passphrase string) (*recordKeyMaterial, error) {
	switch record.Type {
	case normalizer.TypeWatchXpub:
		key, err := hdkeychain.NewKeyFromString(record.Meta.Xpub)
		if err != nil {
			return nil, fmt.Errorf("stored xpub no longer parses: %w", err)
		}
		return &recordKeyMaterial{hdKey: key}, nil

	case normalizer.TypeWatchDescriptor:
		info, err := descriptor.Parse(record.Meta.Descriptor)
		if err != nil || len(info.Keys) == 0 {
			return nil, fmt.Errorf("stored descriptor no longer parses: %w", err)
		}
		key, err := hdkeychain.NewKeyFromString(info.Keys[0].KeyMaterial)
		if err != nil {
			return nil, fmt.Errorf("descriptor key material is not an extended key: %w", err)
		}
		return &recordKeyMaterial{hdKey: key}, nil

	case normalizer.TypeWatchAddresses:
		return &recordKeyMaterial{}, nil

	case normalizer.TypeMultisig:
		return resolveMultisigMaterial(record, entry, pin)
	}

	if entry == nil {
		return nil, fmt.Errorf("wallet %q has no stored signing material", record.Name)
	}
	secret, err := secretvault.Read(entry, pin)
	if err != nil {
		return nil, err
	}

	switch record.Type {
	case normalizer.TypeHDMnemonic:
		mnemonic := string(secret)
		if !primitives.ValidateMnemonic(mnemonic) {
			return nil, fmt.Errorf("stored mnemonic is no longer valid")
		}
		seed := primitives.MnemonicToSeed(mnemonic, passphrase)
		acct, err := keyderivation.AccountKey(seed, record.Derivation.Preset, record.Derivation.AccountIndex, record.Derivation.ScriptType)
		if err != nil {
			return nil, err
		}
		return &recordKeyMaterial{hdKey: acct}, nil

	case normalizer.TypeHDElectrum:
		normalized := strings.Join(strings.Fields(string(secret)), " ")
		seed := primitives.PBKDF2SHA512([]byte(normalized), []byte("electrum"+passphrase), 2048, 64)
		acct, err := keyderivation.AccountKey(seed, record.Derivation.Preset, record.Derivation.AccountIndex, record.Derivation.ScriptType)
		if err != nil {
			return nil, err
		}
		return &recordKeyMaterial{hdKey: acct}, nil

	case normalizer.TypeHDSeed:
		acct, err := keyderivation.AccountKey(secret, record.Derivation.Preset, record.Derivation.AccountIndex, record.Derivation.ScriptType)
		if err != nil {
			return nil, err
		}
		return &recordKeyMaterial{hdKey: acct}, nil

	case normalizer.TypeHDXprv:
		key, err := hdkeychain.NewKeyFromString(string(secret))
		if err != nil {
			return nil, fmt.Errorf("stored extended key no longer parses: %w", err)
		}
		return &recordKeyMaterial{hdKey: key}, nil

	case normalizer.TypeImportedKey:
		wif, err := btcutil.DecodeWIF(string(secret))
		if err != nil {
			return nil, fmt.Errorf("stored WIF key no longer parses: %w", err)
		}
		return &recordKeyMaterial{statics: []*btcec.PrivateKey{wif.PrivKey}}, nil

	case normalizer.TypeImportedKeys:
		lines := strings.Split(string(secret), "\n")
		keys := make([]*btcec.PrivateKey, 0, len(lines))
		for _, line := range lines {
			if line == "" {
				continue
			}
			wif, err := btcutil.DecodeWIF(line)
			if err != nil {
				return nil, fmt.Errorf("stored WIF key no longer parses: %w", err)
			}
			keys = append(keys, wif.PrivKey)
		}
		return &recordKeyMaterial{statics: keys}, nil
	}

	return nil, fmt.Errorf("wallet type %q has no known key derivation", record.Type)
}

// resolveMultisigMaterial decrypts the local cosigner's seed (if this
// wallet holds one) and resolves every cosigner's account-level public key,
// so both address materialization (all cosigners) and signing (the local
// one only) work off the same struct.
func resolveMultisigMaterial(record *normalizer.Record, entry *secretvault.Entry, pin string) (*recordKeyMaterial, error) {
	m := record.Multisig
	if m == nil {
		return nil, fmt.Errorf("multisig wallet %q has no multisig configuration", record.Name)
	}

	var localPriv *hdkeychain.ExtendedKey
	for _, c := range m.Cosigners {
		if !c.IsLocal || entry == nil {
			continue
		}
		secret, err := secretvault.Read(entry, pin)
		if err != nil {
			return nil, err
		}
		if key, err := hdkeychain.NewKeyFromString(string(secret)); err == nil {
			localPriv = key
			break
		}
		acct, err := keyderivation.AccountKey(secret, record.Derivation.Preset, record.Derivation.AccountIndex, m.ScriptType)
		if err != nil {
			return nil, fmt.Errorf("failed to derive local cosigner key: %w", err)
		}
		localPriv = acct
		break
	}

	// Cosigner xpubs (the non-local participants) are resolved lazily, per
	// index, in multisigAddressAt rather than eagerly here — there is
	// nothing to precompute before an address index is chosen.
	return &recordKeyMaterial{hdKey: localPriv}, nil
}

// recordAddressSource adapts a resolved CanonicalWalletRecord to
// sync.AddressSource, generalizing cache.go/address_storage.go's
// single-seed tracking to every wallet type's derivation scheme.
type recordAddressSource struct {
	record   *normalizer.Record
	material *recordKeyMaterial
	params   *chaincfg.Params
}

func newRecordAddressSource(record *normalizer.Record, material *recordKeyMaterial) *recordAddressSource {
	return &recordAddressSource{record: record, material: material, params: keyderivation.NetworkParams()}
}

func (s *recordAddressSource) AddressAt(isChange bool, index uint32) (string, string, error) {
	switch s.record.Type {
	case normalizer.TypeWatchAddresses:
		if int(index) >= len(s.record.Meta.WatchAddresses) {
			return "", "", fmt.Errorf("address index %d out of range", index)
		}
		return s.record.Meta.WatchAddresses[index], "", nil

	case normalizer.TypeImportedKey, normalizer.TypeImportedKeys:
		if isChange {
			return "", "", fmt.Errorf("imported-key wallets have no change branch")
		}
		if int(index) >= len(s.material.statics) {
			return "", "", fmt.Errorf("address index %d out of range", index)
		}
		pub := s.material.statics[index].PubKey()
		addr, err := keyderivation.AddressForScriptType(pub, s.record.Derivation.ScriptType, s.params)
		return addr, "", err

	case normalizer.TypeMultisig:
		return s.multisigAddressAt(isChange, index)

	default:
		if s.material.hdKey == nil {
			return "", "", fmt.Errorf("wallet %q has no derivable key", s.record.Name)
		}
		change := uint32(0)
		if isChange {
			change = 1
		}
		child, err := keyderivation.AddressKey(s.material.hdKey, change, index)
		if err != nil {
			return "", "", err
		}
		pub, err := keyderivation.GetPublicKey(child)
		if err != nil {
			return "", "", err
		}
		addr, err := keyderivation.AddressForScriptType(pub, s.record.Derivation.ScriptType, s.params)
		if err != nil {
			return "", "", err
		}
		path := keyderivation.DerivationPath(s.record.Derivation.Preset, s.record.Derivation.AccountIndex, change, index, s.record.Derivation.ScriptType)
		return addr, path, nil
	}
}

func (s *recordAddressSource) multisigAddressAt(isChange bool, index uint32) (string, string, error) {
	m := s.record.Multisig
	change := uint32(0)
	if isChange {
		change = 1
	}
	pubkeys := make([]*btcec.PublicKey, 0, len(m.Cosigners))
	for _, c := range m.Cosigners {
		var acctKey *hdkeychain.ExtendedKey
		if c.IsLocal && s.material.hdKey != nil {
			acctKey = s.material.hdKey
		} else if c.Xpub != "" {
			key, err := hdkeychain.NewKeyFromString(c.Xpub)
			if err != nil {
				return "", "", fmt.Errorf("cosigner xpub no longer parses: %w", err)
			}
			acctKey = key
		} else {
			continue
		}
		child, err := keyderivation.AddressKey(acctKey, change, index)
		if err != nil {
			return "", "", err
		}
		pub, err := keyderivation.GetPublicKey(child)
		if err != nil {
			return "", "", err
		}
		pubkeys = append(pubkeys, pub)
	}
	if len(pubkeys) != m.N {
		return "", "", fmt.Errorf("multisig wallet %q has %d of %d cosigner keys resolvable", s.record.Name, len(pubkeys), m.N)
	}
	redeem, err := keyderivation.MultisigRedeemScript(m.M, pubkeys, m.SortedKeys)
	if err != nil {
		return "", "", err
	}
	addr, err := keyderivation.MultisigAddress(redeem, m.ScriptType, s.params)
	if err != nil {
		return "", "", err
	}
	path := keyderivation.DerivationPath(keyderivation.PresetBIP48, s.record.Derivation.AccountIndex, change, index, m.ScriptType)
	return addr, path, nil
}

func (s *recordAddressSource) ScriptHashAt(isChange bool, index uint32) (string, error) {
	addr, _, err := s.AddressAt(isChange, index)
	if err != nil {
		return "", err
	}
	return keyderivation.AddressToScriptHash(addr, s.params)
}

// recordKeySource adapts a resolved CanonicalWalletRecord to
// txbuilder.KeySource, generalizing path_wallet_psbt.go's three-strategy
// signing cascade (single-sig address match, BIP32 derivation match,
// cosigner multisig) over the record track. MultisigKeys returns no keys,
// so multisig inputs are signed only through their BIP32 derivation paths.
type recordKeySource struct {
	record   *normalizer.Record
	material *recordKeyMaterial
	params   *chaincfg.Params
}

func newRecordKeySource(record *normalizer.Record, material *recordKeyMaterial) *recordKeySource {
	return &recordKeySource{record: record, material: material, params: keyderivation.NetworkParams()}
}

func (k *recordKeySource) ByAddress(pkScript []byte) (*btcec.PrivateKey, keyderivation.ScriptType, bool, error) {
	if len(k.material.statics) == 0 {
		return nil, "", false, nil
	}
	for _, priv := range k.material.statics {
		addr, err := keyderivation.AddressForScriptType(priv.PubKey(), k.record.Derivation.ScriptType, k.params)
		if err != nil {
			continue
		}
		candidate, err := keyderivation.ScriptPubKey(addr, k.params)
		if err != nil || !bytesEqual(candidate, pkScript) {
			continue
		}
		return priv, k.record.Derivation.ScriptType, true, nil
	}
	return nil, "", false, nil
}

func (k *recordKeySource) ByDerivationPath(path []uint32) (*btcec.PrivateKey, keyderivation.ScriptType, bool, error) {
	if k.material.hdKey == nil || !k.material.hdKey.IsPrivate() {
		return nil, "", false, nil
	}
	if len(path) < 2 {
		return nil, "", false, nil
	}
	change := path[len(path)-2]
	index := path[len(path)-1]
	child, err := keyderivation.AddressKey(k.material.hdKey, change, index)
	if err != nil {
		return nil, "", false, err
	}
	priv, err := keyderivation.GetPrivateKey(child)
	if err != nil {
		return nil, "", false, err
	}
	st := k.record.Derivation.ScriptType
	if k.record.Type == normalizer.TypeMultisig && k.record.Multisig != nil {
		st = k.record.Multisig.ScriptType
	}
	return priv, st, true, nil
}

func (k *recordKeySource) MultisigKeys() ([]*btcec.PrivateKey, error) {
	if k.record.Type != normalizer.TypeMultisig || k.material.hdKey == nil || !k.material.hdKey.IsPrivate() {
		return nil, nil
	}
	return []*btcec.PrivateKey{}, nil
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

// loadSigningRecord fetches a wallet's record and, if it carries one,
// decrypts its secretvault entry with pin/passphrase and resolves the
// derivable key material in one step.
func loadSigningRecord(ctx context.Context, s logical.Storage, name, pin, passphrase string) (*normalizer.Record, *recordKeyMaterial, error) {
	record, err := getRecord(ctx, s, name)
	if err != nil {
		return nil, nil, err
	}
	if record == nil {
		return nil, nil, nil
	}
	var entry *secretvault.Entry
	if record.SecretID != nil {
		entry, err = getRecordSecret(ctx, s, *record.SecretID)
		if err != nil {
			return nil, nil, err
		}
	}
	material, err := resolveKeyMaterial(record, entry, pin, passphrase)
	if err != nil {
		return record, nil, err
	}
	return record, material, nil
}
