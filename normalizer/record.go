// Package normalizer builds a CanonicalWalletRecord from any recognized
// import payload and computes its capability flags from a fixed table keyed
// by wallet type, per §4.5.
package normalizer

import (
	"time"

	"github.com/google/uuid"

	"github.com/dan/vault-plugin-secrets-btc/keyderivation"
)

// WalletType is the tagged-union discriminant for CanonicalWalletRecord.
type WalletType string

const (
	TypeHDMnemonic      WalletType = "hd_mnemonic"
	TypeHDXprv          WalletType = "hd_xprv"
	TypeHDSeed          WalletType = "hd_seed"
	TypeHDDescriptor    WalletType = "hd_descriptor"
	TypeHDElectrum      WalletType = "hd_electrum"
	TypeImportedKey     WalletType = "imported_key"
	TypeImportedKeys    WalletType = "imported_keys"
	TypeWatchXpub       WalletType = "watch_xpub"
	TypeWatchDescriptor WalletType = "watch_descriptor"
	TypeWatchAddresses  WalletType = "watch_addresses"
	TypeMultisig        WalletType = "multisig"
)

// Preset is an alias for keyderivation.Preset, which already includes the
// bare "hd" generic preset.
type Preset = keyderivation.Preset

// Derivation describes how addresses are derived for a wallet.
type Derivation struct {
	Preset        Preset                   `json:"preset"`
	AccountIndex  uint32                   `json:"account_index"`
	CustomPath    string                   `json:"custom_path,omitempty"`
	ScriptType    keyderivation.ScriptType `json:"script_type"`
}

// Capabilities is the fixed set of boolean flags gating what operations a
// wallet supports, computed purely from Type (§4.5).
type Capabilities struct {
	CanSign                  bool `json:"can_sign"`
	CanDerive                bool `json:"can_derive"`
	CanExportSeed            bool `json:"can_export_seed"`
	CanExportXprv            bool `json:"can_export_xprv"`
	CanExportXpub            bool `json:"can_export_xpub"`
	RequiresPin              bool `json:"requires_pin"`
	SupportsPassphrase       bool `json:"supports_passphrase"`
	SupportsAddressDiscovery bool `json:"supports_address_discovery"`
	SupportsCoinControl      bool `json:"supports_coin_control"`
}

// AddressInfo is one materialized address.
type AddressInfo struct {
	Address string                   `json:"address"`
	Path    string                   `json:"path"`
	Index   uint32                   `json:"index"`
	IsChange bool                    `json:"is_change"`
	Type    keyderivation.ScriptType `json:"type"`
	Label   string                   `json:"label,omitempty"`
	Balance *int64                   `json:"balance,omitempty"`
}

// AddressCache holds every address materialized so far for a wallet.
type AddressCache struct {
	Receiving            []AddressInfo `json:"receiving"`
	Change               []AddressInfo `json:"change"`
	LastDerivedReceiving int32         `json:"last_derived_receiving"`
	LastDerivedChange    int32         `json:"last_derived_change"`
}

// SyncStatus is the wallet's current SyncEngine state.
type SyncStatus string

const (
	SyncIdle    SyncStatus = "idle"
	SyncSyncing SyncStatus = "syncing"
	SyncSynced  SyncStatus = "synced"
	SyncError   SyncStatus = "error"
)

// Sync tracks the wallet's sync lifecycle.
type Sync struct {
	Status       SyncStatus `json:"status"`
	LastSyncedAt *int64     `json:"last_synced_at,omitempty"`
	Error        string     `json:"error,omitempty"`
}

// Balance in satoshis.
type Balance struct {
	Confirmed   uint64 `json:"confirmed"`
	Unconfirmed uint64 `json:"unconfirmed"`
	Total       uint64 `json:"total"`
}

// CosignerInfo describes one participant in a multisig wallet.
type CosignerInfo struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	Fingerprint    string `json:"fingerprint"`
	Xpub           string `json:"xpub"`
	DerivationPath string `json:"derivation_path"`
	IsLocal        bool   `json:"is_local"`
}

// MultisigConfig holds the multisig-specific fields.
type MultisigConfig struct {
	M              int                      `json:"m"`
	N              int                      `json:"n"`
	ScriptType     keyderivation.ScriptType `json:"script_type"`
	Cosigners      []CosignerInfo           `json:"cosigners"`
	DerivationPath string                   `json:"derivation_path"`
	SortedKeys     bool                     `json:"sorted_keys"`
}

// Meta holds loosely-typed provenance metadata.
type Meta struct {
	Fingerprint    string `json:"fingerprint,omitempty"`
	Xpub           string `json:"xpub,omitempty"`
	Descriptor     string `json:"descriptor,omitempty"`
	WatchAddresses []string `json:"watch_addresses,omitempty"`
	SourceFormat   string `json:"source_format,omitempty"`
	HasPassphrase  bool   `json:"has_passphrase,omitempty"`
}

// RecommendedBackupMethod is the suggested way to back up a wallet.
type RecommendedBackupMethod string

const (
	BackupPhrase         RecommendedBackupMethod = "phrase"
	BackupEncryptedFile  RecommendedBackupMethod = "encrypted_file"
	BackupDescriptor     RecommendedBackupMethod = "descriptor"
	BackupNone           RecommendedBackupMethod = "none"
)

// Backup tracks backup recommendations and history.
type Backup struct {
	LastBackupAt       *int64                  `json:"last_backup_at,omitempty"`
	RecommendedMethod  RecommendedBackupMethod `json:"recommended_method"`
	CanExportPhrase    bool                    `json:"can_export_phrase"`
}

// Record is the CanonicalWalletRecord: the single entity every import
// format collapses into (§3.1).
type Record struct {
	ID        string     `json:"id"`
	Name      string     `json:"name"`
	CreatedAt int64      `json:"created_at"`
	UpdatedAt int64      `json:"updated_at"`
	Network   string     `json:"network"`
	Type      WalletType `json:"type"`

	SecretID *string `json:"secret_id,omitempty"`

	Derivation Derivation `json:"derivation"`

	Capabilities Capabilities `json:"capabilities"`

	AddressCache AddressCache `json:"address_cache"`

	Sync Sync `json:"sync"`

	Balance Balance `json:"balance"`

	Multisig *MultisigConfig `json:"multisig,omitempty"`

	Meta Meta `json:"meta"`

	Backup Backup `json:"backup"`
}

// NewID mints a fresh opaque wallet id, a v4 UUID carrying >=122 bits of
// entropy per §4.5 step 3.
func NewID() string {
	return uuid.NewString()
}

// now returns the current epoch-ms timestamp. Callers in request-handling
// code should prefer passing in a captured time rather than calling
// time.Now() deep in business logic, but this helper exists for the
// construction path where no caller-supplied clock is threaded through.
func now() int64 {
	return time.Now().UnixMilli()
}

// capabilityTable is the fixed type→capabilities mapping from §4.5. Values
// that depend on runtime state (local cosigner presence) are computed in
// CapabilitiesFor rather than hardcoded here.
var capabilityTable = map[WalletType]Capabilities{
	TypeHDMnemonic: {
		CanSign: true, CanDerive: true, CanExportSeed: true, CanExportXprv: true,
		CanExportXpub: true, RequiresPin: true, SupportsPassphrase: true,
		SupportsAddressDiscovery: true, SupportsCoinControl: true,
	},
	TypeHDXprv: {
		CanSign: true, CanDerive: true, CanExportSeed: false, CanExportXprv: true,
		CanExportXpub: true, RequiresPin: true, SupportsAddressDiscovery: true,
		SupportsCoinControl: true,
	},
	TypeHDSeed: {
		CanSign: true, CanDerive: true, CanExportSeed: false, CanExportXprv: true,
		CanExportXpub: true, RequiresPin: true, SupportsAddressDiscovery: true,
		SupportsCoinControl: true,
	},
	TypeHDDescriptor: {
		CanSign: true, CanDerive: true, CanExportSeed: false, CanExportXprv: false,
		CanExportXpub: true, RequiresPin: true, SupportsAddressDiscovery: true,
		SupportsCoinControl: true,
	},
	TypeHDElectrum: {
		CanSign: true, CanDerive: true, CanExportSeed: true, CanExportXprv: false,
		CanExportXpub: true, RequiresPin: true, SupportsAddressDiscovery: true,
		SupportsCoinControl: true,
	},
	TypeImportedKey: {
		CanSign: true, CanDerive: false, CanExportSeed: false, CanExportXprv: false,
		CanExportXpub: false, RequiresPin: true, SupportsCoinControl: true,
	},
	TypeImportedKeys: {
		CanSign: true, CanDerive: false, CanExportSeed: false, CanExportXprv: false,
		CanExportXpub: false, RequiresPin: true, SupportsCoinControl: true,
	},
	TypeWatchXpub: {
		CanSign: false, CanDerive: true, CanExportSeed: false, CanExportXprv: false,
		CanExportXpub: true, RequiresPin: false, SupportsAddressDiscovery: true,
		SupportsCoinControl: true,
	},
	TypeWatchDescriptor: {
		CanSign: false, CanDerive: true, CanExportSeed: false, CanExportXprv: false,
		CanExportXpub: true, RequiresPin: false, SupportsAddressDiscovery: true,
		SupportsCoinControl: true,
	},
	TypeWatchAddresses: {
		CanSign: false, CanDerive: false, CanExportSeed: false, CanExportXprv: false,
		CanExportXpub: false, RequiresPin: false, SupportsCoinControl: true,
	},
	TypeMultisig: {
		// CanSign/CanExportSeed depend on whether a local cosigner is
		// present; base entries here cover the "has a local cosigner" case,
		// CapabilitiesFor overrides them when the wallet is watch-only.
		CanSign: true, CanDerive: true, CanExportSeed: true, CanExportXprv: false,
		CanExportXpub: true, RequiresPin: true, SupportsAddressDiscovery: true,
		SupportsCoinControl: true,
	},
}

// CapabilitiesFor computes the capability flags for a wallet type, with
// hasLocalCosigner only consulted for TypeMultisig (§3.3 invariant 5: zero
// local cosigners for watch-only multisig).
func CapabilitiesFor(t WalletType, hasLocalCosigner bool) Capabilities {
	c := capabilityTable[t]
	if t == TypeMultisig && !hasLocalCosigner {
		c.CanSign = false
		c.CanExportSeed = false
		c.RequiresPin = false
	}
	return c
}
