package keyderivation

import (
	"encoding/hex"
	"fmt"
	"sort"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/txscript"

	"github.com/dan/vault-plugin-secrets-btc/primitives"
)

// AddressForScriptType materializes the address string for a single EC
// public key under the given script type. Multisig script types are not
// handled here — use MultisigAddress.
func AddressForScriptType(pub *btcec.PublicKey, st ScriptType, params *chaincfg.Params) (string, error) {
	switch st {
	case ScriptP2PKH:
		hash := primitives.Hash160(pub.SerializeCompressed())
		addr, err := btcutil.NewAddressPubKeyHash(hash, params)
		if err != nil {
			return "", fmt.Errorf("failed to create P2PKH address: %w", err)
		}
		return addr.EncodeAddress(), nil

	case ScriptP2SHP2WPKH:
		witnessProgram := primitives.Hash160(pub.SerializeCompressed())
		witnessAddr, err := btcutil.NewAddressWitnessPubKeyHash(witnessProgram, params)
		if err != nil {
			return "", fmt.Errorf("failed to create witness program: %w", err)
		}
		redeemScript, err := txscript.PayToAddrScript(witnessAddr)
		if err != nil {
			return "", fmt.Errorf("failed to build redeem script: %w", err)
		}
		scriptHash := primitives.Hash160(redeemScript)
		addr, err := btcutil.NewAddressScriptHashFromHash(scriptHash, params)
		if err != nil {
			return "", fmt.Errorf("failed to create P2SH-P2WPKH address: %w", err)
		}
		return addr.EncodeAddress(), nil

	case ScriptP2WPKH:
		pubKeyHash := primitives.Hash160(pub.SerializeCompressed())
		addr, err := btcutil.NewAddressWitnessPubKeyHash(pubKeyHash, params)
		if err != nil {
			return "", fmt.Errorf("failed to create P2WPKH address: %w", err)
		}
		return addr.EncodeAddress(), nil

	case ScriptP2TR:
		taprootKey := txscript.ComputeTaprootKeyNoScript(pub)
		addr, err := btcutil.NewAddressTaproot(schnorr.SerializePubKey(taprootKey), params)
		if err != nil {
			return "", fmt.Errorf("failed to create P2TR address: %w", err)
		}
		return addr.EncodeAddress(), nil

	default:
		return "", fmt.Errorf("unsupported single-key script type: %s", st)
	}
}

// MultisigRedeemScript builds the bare OP_m ... OP_n OP_CHECKMULTISIG
// redeem/witness script for m-of-n over the given compressed public keys.
// If sorted is true (BIP67 sortedmulti), keys are sorted lexicographically
// by their compressed serialization first.
func MultisigRedeemScript(m int, pubkeys []*btcec.PublicKey, sorted bool) ([]byte, error) {
	if m < 1 || m > len(pubkeys) || len(pubkeys) > 15 {
		return nil, fmt.Errorf("invalid multisig parameters: m=%d n=%d", m, len(pubkeys))
	}

	keys := make([][]byte, len(pubkeys))
	for i, pk := range pubkeys {
		keys[i] = pk.SerializeCompressed()
	}
	if sorted {
		sort.Slice(keys, func(i, j int) bool {
			return compareBytes(keys[i], keys[j]) < 0
		})
	}

	builder := txscript.NewScriptBuilder()
	builder.AddOp(txscript.OP_1 - 1 + byte(m))
	for _, k := range keys {
		builder.AddData(k)
	}
	builder.AddOp(txscript.OP_1 - 1 + byte(len(keys)))
	builder.AddOp(txscript.OP_CHECKMULTISIG)
	return builder.Script()
}

// MultisigAddress builds a P2WSH (or, for script-type ScriptP2SHP2WSH, a
// P2SH-wrapped P2WSH) multisig address from a redeem script.
func MultisigAddress(redeemScript []byte, st ScriptType, params *chaincfg.Params) (string, error) {
	witnessScriptHash := primitives.SHA256(redeemScript)
	witnessAddr, err := btcutil.NewAddressWitnessScriptHash(witnessScriptHash, params)
	if err != nil {
		return "", fmt.Errorf("failed to create P2WSH address: %w", err)
	}

	switch st {
	case ScriptP2WSH:
		return witnessAddr.EncodeAddress(), nil
	case ScriptP2SHP2WSH:
		wrapScript, err := txscript.PayToAddrScript(witnessAddr)
		if err != nil {
			return "", fmt.Errorf("failed to build wrapped script: %w", err)
		}
		scriptHash := primitives.Hash160(wrapScript)
		addr, err := btcutil.NewAddressScriptHashFromHash(scriptHash, params)
		if err != nil {
			return "", fmt.Errorf("failed to create P2SH-P2WSH address: %w", err)
		}
		return addr.EncodeAddress(), nil
	default:
		return "", fmt.Errorf("unsupported multisig script type: %s", st)
	}
}

func compareBytes(a, b []byte) int {
	for i := 0; i < len(a) && i < len(b); i++ {
		if a[i] != b[i] {
			return int(a[i]) - int(b[i])
		}
	}
	return len(a) - len(b)
}

// ScriptPubKey returns the scriptPubKey for an address on the given network.
func ScriptPubKey(address string, params *chaincfg.Params) ([]byte, error) {
	addr, err := btcutil.DecodeAddress(address, params)
	if err != nil {
		return nil, fmt.Errorf("failed to decode address: %w", err)
	}
	script, err := txscript.PayToAddrScript(addr)
	if err != nil {
		return nil, fmt.Errorf("failed to create scriptPubKey: %w", err)
	}
	return script, nil
}

// ScriptHash converts a scriptPubKey to its Electrum scripthash: sha256,
// displayed byte-reversed (little-endian), per §6.1.
func ScriptHash(scriptPubKey []byte) string {
	hash := primitives.SHA256(scriptPubKey)
	for i, j := 0, len(hash)-1; i < j; i, j = i+1, j-1 {
		hash[i], hash[j] = hash[j], hash[i]
	}
	return hex.EncodeToString(hash)
}

// AddressToScriptHash is a convenience combining ScriptPubKey and ScriptHash.
func AddressToScriptHash(address string, params *chaincfg.Params) (string, error) {
	spk, err := ScriptPubKey(address, params)
	if err != nil {
		return "", err
	}
	return ScriptHash(spk), nil
}

// ValidateAddress checks that address decodes and belongs to params' network.
func ValidateAddress(address string, params *chaincfg.Params) error {
	addr, err := btcutil.DecodeAddress(address, params)
	if err != nil {
		return fmt.Errorf("invalid address: %w", err)
	}
	if !addr.IsForNet(params) {
		return fmt.Errorf("address is not for this network")
	}
	return nil
}

// AddressType returns the script type label of a decoded address.
func AddressType(address string, params *chaincfg.Params) (ScriptType, error) {
	addr, err := btcutil.DecodeAddress(address, params)
	if err != nil {
		return "", fmt.Errorf("invalid address: %w", err)
	}
	switch addr.(type) {
	case *btcutil.AddressPubKeyHash:
		return ScriptP2PKH, nil
	case *btcutil.AddressScriptHash:
		return ScriptP2SHP2WPKH, nil // ambiguous: P2SH wraps either P2WPKH or P2WSH
	case *btcutil.AddressWitnessPubKeyHash:
		return ScriptP2WPKH, nil
	case *btcutil.AddressWitnessScriptHash:
		return ScriptP2WSH, nil
	case *btcutil.AddressTaproot:
		return ScriptP2TR, nil
	default:
		return "", fmt.Errorf("unknown address type")
	}
}
