package normalizer

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/hdkeychain"

	"github.com/dan/vault-plugin-secrets-btc/descriptor"
	"github.com/dan/vault-plugin-secrets-btc/keyderivation"
	"github.com/dan/vault-plugin-secrets-btc/primitives"
	"github.com/dan/vault-plugin-secrets-btc/secretvault"
)

// Format identifies the shape of an import payload, spanning every variant
// listed in §6.3.
type Format string

const (
	FormatMnemonic      Format = "mnemonic"
	FormatXprv          Format = "xprv"
	FormatSeedHex       Format = "seed_hex"
	FormatDescriptor    Format = "descriptor"
	FormatElectrumSeed  Format = "electrum_seed"
	FormatWIF           Format = "wif"
	FormatWIFList       Format = "wif_list"
	FormatXpub          Format = "xpub"
	FormatAddressList   Format = "address_list"
	FormatMultisig      Format = "multisig"
)

// Payload is the union of everything an import request might carry; only
// the fields relevant to Format need to be populated.
type Payload struct {
	Format Format

	Name       string
	ScriptType keyderivation.ScriptType // defaults to p2wpkh when empty

	Mnemonic   string
	Passphrase string

	ExtendedKey string // xprv/yprv/zprv/tprv/uprv/vprv

	SeedHex string

	Descriptor string

	ElectrumSeed       string
	ElectrumPassphrase string

	WIF     string
	WIFList []string

	Xpub string

	Addresses []string

	Multisig *MultisigImport
}

// MultisigImport carries the raw fields for a multisig config import.
type MultisigImport struct {
	M              int
	ScriptType     keyderivation.ScriptType
	SortedKeys     bool
	DerivationPath string
	Cosigners      []CosignerInfo
}

// Result is the output of importing a payload: the canonical record plus,
// for formats that hold signing material, the raw secret to be handed to
// secretvault.Store by the caller (this package never sees a PIN).
type Result struct {
	Record     *Record
	Secret     []byte
	SecretType secretvault.SecretType
}

// Import normalizes payload into a CanonicalWalletRecord, dispatching on
// Format over every §6.3 import variant.
func Import(payload Payload) (*Result, error) {
	switch payload.Format {
	case FormatMnemonic:
		return importMnemonic(payload)
	case FormatXprv:
		return importXprv(payload)
	case FormatSeedHex:
		return importSeedHex(payload)
	case FormatDescriptor:
		return importDescriptor(payload)
	case FormatElectrumSeed:
		return importElectrumSeed(payload)
	case FormatWIF:
		return importWIF(payload)
	case FormatWIFList:
		return importWIFList(payload)
	case FormatXpub:
		return importXpub(payload)
	case FormatAddressList:
		return importAddressList(payload)
	case FormatMultisig:
		return importMultisig(payload)
	default:
		return nil, fmt.Errorf("unrecognized import format: %q", payload.Format)
	}
}

func scriptTypeOrDefault(st keyderivation.ScriptType) keyderivation.ScriptType {
	if st == "" {
		return keyderivation.ScriptP2WPKH
	}
	return st
}

func newRecordBase(payload Payload, typ WalletType, st keyderivation.ScriptType) *Record {
	ts := now()
	return &Record{
		ID:        NewID(),
		Name:      payload.Name,
		CreatedAt: ts,
		UpdatedAt: ts,
		Network:   "mainnet",
		Type:      typ,
		Derivation: Derivation{
			Preset:       keyderivation.PresetForScriptType(st),
			AccountIndex: 0,
			ScriptType:   st,
		},
		Capabilities: CapabilitiesFor(typ, true),
		Sync:         Sync{Status: SyncIdle},
		Backup:       Backup{RecommendedMethod: BackupNone},
	}
}

func importMnemonic(p Payload) (*Result, error) {
	if !primitives.ValidateMnemonic(p.Mnemonic) {
		return nil, fmt.Errorf("invalid BIP39 mnemonic")
	}
	st := scriptTypeOrDefault(p.ScriptType)
	seed := primitives.MnemonicToSeed(p.Mnemonic, p.Passphrase)

	master, err := keyderivation.MasterKey(seed)
	if err != nil {
		return nil, err
	}

	rec := newRecordBase(p, TypeHDMnemonic, st)
	rec.Meta.Fingerprint = fmt.Sprintf("%08x", keyderivation.Fingerprint(master))
	rec.Meta.HasPassphrase = p.Passphrase != ""
	rec.Backup.RecommendedMethod = BackupPhrase
	rec.Backup.CanExportPhrase = true

	return &Result{Record: rec, Secret: []byte(p.Mnemonic), SecretType: secretvault.SecretMnemonic}, nil
}

func importXprv(p Payload) (*Result, error) {
	// hdkeychain.NewKeyFromString accepts any base58check-encoded extended
	// key; no SLIP-0132 version-byte mapping is applied here, nor in
	// importXpub, which parses watch-only keys the same way.
	key, err := hdkeychain.NewKeyFromString(p.ExtendedKey)
	if err != nil {
		return nil, fmt.Errorf("invalid extended private key: %w", err)
	}
	if !key.IsPrivate() {
		return nil, fmt.Errorf("extended key is public, not private; use FormatXpub instead")
	}

	st := scriptTypeOrDefault(p.ScriptType)
	rec := newRecordBase(p, TypeHDXprv, st)
	rec.Meta.Fingerprint = fmt.Sprintf("%08x", key.ParentFingerprint())
	rec.Backup.RecommendedMethod = BackupEncryptedFile

	return &Result{Record: rec, Secret: []byte(p.ExtendedKey), SecretType: secretvault.SecretXprv}, nil
}

func importSeedHex(p Payload) (*Result, error) {
	raw, err := hex.DecodeString(strings.TrimSpace(p.SeedHex))
	if err != nil {
		return nil, fmt.Errorf("invalid seed hex: %w", err)
	}
	if len(raw) < 16 || len(raw) > 64 {
		return nil, fmt.Errorf("seed must be 16-64 bytes, got %d", len(raw))
	}

	master, err := keyderivation.MasterKey(raw)
	if err != nil {
		return nil, err
	}

	st := scriptTypeOrDefault(p.ScriptType)
	rec := newRecordBase(p, TypeHDSeed, st)
	rec.Meta.Fingerprint = fmt.Sprintf("%08x", keyderivation.Fingerprint(master))
	rec.Backup.RecommendedMethod = BackupEncryptedFile

	return &Result{Record: rec, Secret: raw, SecretType: secretvault.SecretSeed}, nil
}

func importDescriptor(p Payload) (*Result, error) {
	info, err := descriptor.Parse(p.Descriptor)
	if err != nil {
		return nil, fmt.Errorf("invalid descriptor: %w", err)
	}

	typ := TypeWatchDescriptor
	st := info.ScriptType

	rec := newRecordBase(p, typ, st)
	rec.Meta.Descriptor = info.Raw
	if len(info.Keys) > 0 {
		rec.Meta.Fingerprint = info.Keys[0].Fingerprint
	}
	rec.Backup.RecommendedMethod = BackupDescriptor

	if info.IsMultisig {
		rec.Type = TypeMultisig
		rec.Multisig = &MultisigConfig{
			M:          info.Threshold,
			N:          info.TotalKeys,
			ScriptType: st,
			SortedKeys: info.Type == "sortedmulti",
		}
		for _, k := range info.Keys {
			rec.Multisig.Cosigners = append(rec.Multisig.Cosigners, CosignerInfo{
				Fingerprint: k.Fingerprint,
				Xpub:        k.KeyMaterial,
			})
		}
		rec.Capabilities = CapabilitiesFor(TypeMultisig, false)
	}

	return &Result{Record: rec}, nil
}

// electrumSeedVersionHMACKey is the fixed HMAC key Electrum uses to derive
// its seed-version tag from a normalized seed phrase.
const electrumSeedVersionHMACKey = "Seed version"

func importElectrumSeed(p Payload) (*Result, error) {
	normalized := strings.Join(strings.Fields(p.ElectrumSeed), " ")
	digest := primitives.HMACSHA512([]byte(electrumSeedVersionHMACKey), []byte(normalized))
	prefix := hex.EncodeToString(digest[:2])
	if !strings.HasPrefix(prefix, "01") {
		return nil, fmt.Errorf("not a recognized Electrum seed phrase")
	}

	seed := primitives.PBKDF2SHA512([]byte(normalized), []byte("electrum"+p.ElectrumPassphrase), 2048, 64)
	master, err := keyderivation.MasterKey(seed)
	if err != nil {
		return nil, err
	}

	st := scriptTypeOrDefault(p.ScriptType)
	rec := newRecordBase(p, TypeHDElectrum, st)
	rec.Meta.Fingerprint = fmt.Sprintf("%08x", keyderivation.Fingerprint(master))
	rec.Meta.SourceFormat = "electrum"
	rec.Backup.RecommendedMethod = BackupPhrase
	rec.Backup.CanExportPhrase = true

	return &Result{Record: rec, Secret: []byte(p.ElectrumSeed), SecretType: secretvault.SecretMnemonic}, nil
}

func importWIF(p Payload) (*Result, error) {
	wif, err := btcutil.DecodeWIF(p.WIF)
	if err != nil {
		return nil, fmt.Errorf("invalid WIF private key: %w", err)
	}
	if !wif.IsForNet(keyderivation.NetworkParams()) {
		return nil, fmt.Errorf("WIF key is not for mainnet")
	}

	st := scriptTypeOrDefault(p.ScriptType)
	rec := newRecordBase(p, TypeImportedKey, st)
	rec.Derivation.Preset = keyderivation.PresetCustom
	rec.Backup.RecommendedMethod = BackupEncryptedFile

	return &Result{Record: rec, Secret: []byte(p.WIF), SecretType: secretvault.SecretWIF}, nil
}

func importWIFList(p Payload) (*Result, error) {
	if len(p.WIFList) == 0 {
		return nil, fmt.Errorf("wif_list import requires at least one key")
	}
	for i, w := range p.WIFList {
		if _, err := btcutil.DecodeWIF(w); err != nil {
			return nil, fmt.Errorf("invalid WIF at index %d: %w", i, err)
		}
	}

	st := scriptTypeOrDefault(p.ScriptType)
	rec := newRecordBase(p, TypeImportedKeys, st)
	rec.Derivation.Preset = keyderivation.PresetCustom
	rec.Backup.RecommendedMethod = BackupEncryptedFile

	joined := strings.Join(p.WIFList, "\n")
	return &Result{Record: rec, Secret: []byte(joined), SecretType: secretvault.SecretWIF}, nil
}

func importXpub(p Payload) (*Result, error) {
	key, err := hdkeychain.NewKeyFromString(p.Xpub)
	if err != nil {
		return nil, fmt.Errorf("invalid extended public key: %w", err)
	}
	if key.IsPrivate() {
		return nil, fmt.Errorf("extended key is private; watch-only import requires a public key")
	}

	st := scriptTypeOrDefault(p.ScriptType)
	rec := newRecordBase(p, TypeWatchXpub, st)
	rec.Meta.Xpub = p.Xpub
	rec.Meta.Fingerprint = fmt.Sprintf("%08x", key.ParentFingerprint())
	rec.Backup.RecommendedMethod = BackupNone

	return &Result{Record: rec}, nil
}

func importAddressList(p Payload) (*Result, error) {
	if len(p.Addresses) == 0 {
		return nil, fmt.Errorf("address_list import requires at least one address")
	}
	params := keyderivation.NetworkParams()
	for i, a := range p.Addresses {
		if err := keyderivation.ValidateAddress(a, params); err != nil {
			return nil, fmt.Errorf("invalid address at index %d: %w", i, err)
		}
	}

	rec := newRecordBase(p, TypeWatchAddresses, "")
	rec.Derivation.Preset = keyderivation.PresetGeneric
	rec.Meta.WatchAddresses = append([]string(nil), p.Addresses...)
	rec.Backup.RecommendedMethod = BackupNone

	for _, a := range p.Addresses {
		rec.AddressCache.Receiving = append(rec.AddressCache.Receiving, AddressInfo{Address: a})
	}

	return &Result{Record: rec}, nil
}

func importMultisig(p Payload) (*Result, error) {
	if p.Multisig == nil {
		return nil, fmt.Errorf("multisig import requires configuration")
	}
	m := p.Multisig
	n := len(m.Cosigners)
	if m.M < 1 || m.M > n || n > 15 {
		return nil, fmt.Errorf("invalid multisig parameters: %d-of-%d", m.M, n)
	}

	hasLocal := false
	for _, c := range m.Cosigners {
		if c.IsLocal {
			hasLocal = true
		}
	}

	rec := newRecordBase(p, TypeMultisig, scriptTypeOrDefault(m.ScriptType))
	rec.Capabilities = CapabilitiesFor(TypeMultisig, hasLocal)
	rec.Multisig = &MultisigConfig{
		M:              m.M,
		N:              n,
		ScriptType:     scriptTypeOrDefault(m.ScriptType),
		Cosigners:      m.Cosigners,
		DerivationPath: m.DerivationPath,
		SortedKeys:     m.SortedKeys,
	}
	if hasLocal {
		rec.Backup.RecommendedMethod = BackupEncryptedFile
	} else {
		rec.Backup.RecommendedMethod = BackupDescriptor
	}

	return &Result{Record: rec}, nil
}
