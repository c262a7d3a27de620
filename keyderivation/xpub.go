package keyderivation

import (
	"fmt"

	"github.com/btcsuite/btcd/btcutil/hdkeychain"

	"github.com/dan/vault-plugin-secrets-btc/primitives"
)

// SLIP-0132 mainnet version bytes for extended public/private keys, keyed
// by script type. Only script types with a registered SLIP-0132 prefix are
// present; p2pkh and p2tr have no alternate prefix and use the standard
// xpub/xprv encoding hdkeychain already produces.
var slip132PubVersion = map[ScriptType][4]byte{
	ScriptP2SHP2WPKH: {0x04, 0x9d, 0x7c, 0xb2}, // ypub
	ScriptP2WPKH:     {0x04, 0xb2, 0x47, 0x46}, // zpub
	ScriptP2SHP2WSH:  {0x02, 0x95, 0xb4, 0x3f}, // Ypub
	ScriptP2WSH:      {0x02, 0xaa, 0x7e, 0xd3}, // Zpub
}

// AccountXpub returns the account-level extended public key for watch-only
// import, converted to the SLIP-0132 prefix (zpub/ypub/Zpub/Ypub) that
// matches scriptType when one is registered, or the standard xpub encoding
// otherwise (p2pkh, p2tr — Taproot has no SLIP-0132 standard).
func AccountXpub(seed []byte, preset Preset, account uint32, scriptType ScriptType) (xpub string, path string, err error) {
	acctKey, err := AccountKey(seed, preset, account, scriptType)
	if err != nil {
		return "", "", err
	}
	pubKey, err := acctKey.Neuter()
	if err != nil {
		return "", "", fmt.Errorf("failed to neuter account key: %w", err)
	}

	path = DerivationPath(preset, account, 0, 0, scriptType)
	path = path[:len(path)-len("/0/0")]

	version, ok := slip132PubVersion[scriptType]
	if !ok {
		return pubKey.String(), path, nil
	}

	converted, err := convertVersion(pubKey.String(), version[:])
	if err != nil {
		return "", "", err
	}
	return converted, path, nil
}

// convertVersion decodes a base58check extended key, replacing its 4-byte
// version prefix, and re-encodes it — the SLIP-0132 transform.
func convertVersion(encoded string, newVersion []byte) (string, error) {
	payload, _, err := primitives.Base58CheckDecodeVersionBytes(encoded, 4)
	if err != nil {
		return "", err
	}
	return primitives.Base58CheckEncodeVersionBytes(payload, newVersion), nil
}

// NeuterToXpubString returns the plain (non-SLIP-132) base58 xpub/tpub
// string for an extended key, used for script types with no registered
// alternate prefix.
func NeuterToXpubString(key *hdkeychain.ExtendedKey) (string, error) {
	neutered, err := key.Neuter()
	if err != nil {
		return "", fmt.Errorf("failed to neuter key: %w", err)
	}
	return neutered.String(), nil
}
