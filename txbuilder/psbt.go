// Package txbuilder assembles, signs, and finalizes PSBTs across every
// script type a CanonicalWalletRecord can hold, generalizing
// path_wallet_psbt.go's single-address-type flow (§4.9).
package txbuilder

import (
	"bytes"
	"encoding/hex"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"

	"github.com/dan/vault-plugin-secrets-btc/electrum"
	"github.com/dan/vault-plugin-secrets-btc/keyderivation"
)

// PsbtDerivation is one BIP32 derivation hint attached to a PSBT input,
// used both to help external signers and, for multisig, to let Sign's
// second strategy find our key by path instead of by address.
type PsbtDerivation struct {
	PubKey            []byte
	MasterFingerprint []byte
	Path              []uint32
}

// InputSpec describes one UTXO to spend, with enough script-type-specific
// material to populate the PSBT input fields §4.9 requires.
type InputSpec struct {
	TxID       string
	Vout       uint32
	Value      int64
	ScriptType keyderivation.ScriptType
	PkScript   []byte

	// RawPrevTx is the full serialized previous transaction. Required for
	// p2pkh (NonWitnessUtxo); unused otherwise.
	RawPrevTx []byte

	// TapInternalKey is set for p2tr key-path inputs.
	TapInternalKey []byte
	// TapMerkleRoot is set when the taproot output carries a script-path
	// tweak in addition to the internal key (left nil for key-path-only
	// outputs).
	TapMerkleRoot []byte

	// WitnessScript is the multisig redeem/witness script, set for
	// p2wsh/p2sh-p2wsh inputs.
	WitnessScript []byte
	// RedeemScript is the P2SH wrapper script, set for p2sh-p2wpkh and
	// p2sh-p2wsh inputs.
	RedeemScript []byte

	Bip32Derivations []PsbtDerivation
}

// OutputSpec is one payment or change output.
type OutputSpec struct {
	PkScript []byte
	Amount   int64
}

// CreatePsbt assembles an unsigned PSBT from the given inputs and outputs,
// populating each input's witness/non-witness UTXO, taproot, and multisig
// fields per the script type §4.9 names.
func CreatePsbt(inputs []InputSpec, outputs []OutputSpec) (*psbt.Packet, error) {
	if len(inputs) == 0 {
		return nil, fmt.Errorf("at least one input is required")
	}
	if len(outputs) == 0 {
		return nil, fmt.Errorf("at least one output is required")
	}

	tx := wire.NewMsgTx(wire.TxVersion)
	for _, in := range inputs {
		hash, err := chainhash.NewHashFromStr(in.TxID)
		if err != nil {
			return nil, fmt.Errorf("invalid txid %q: %w", in.TxID, err)
		}
		tx.AddTxIn(wire.NewTxIn(wire.NewOutPoint(hash, in.Vout), nil, nil))
	}
	for _, out := range outputs {
		tx.AddTxOut(wire.NewTxOut(out.Amount, out.PkScript))
	}

	p, err := psbt.NewFromUnsignedTx(tx)
	if err != nil {
		return nil, fmt.Errorf("failed to create PSBT: %w", err)
	}

	for i, in := range inputs {
		switch in.ScriptType {
		case keyderivation.ScriptP2PKH:
			if len(in.RawPrevTx) == 0 {
				return nil, fmt.Errorf("input %d: p2pkh requires the full previous transaction", i)
			}
			prevTx := wire.NewMsgTx(wire.TxVersion)
			if err := prevTx.Deserialize(bytes.NewReader(in.RawPrevTx)); err != nil {
				return nil, fmt.Errorf("input %d: failed to decode previous transaction: %w", i, err)
			}
			p.Inputs[i].NonWitnessUtxo = prevTx

		case keyderivation.ScriptP2WPKH, keyderivation.ScriptP2SHP2WPKH:
			p.Inputs[i].WitnessUtxo = &wire.TxOut{Value: in.Value, PkScript: in.PkScript}
			if in.RedeemScript != nil {
				p.Inputs[i].RedeemScript = in.RedeemScript
			}

		case keyderivation.ScriptP2TR:
			p.Inputs[i].WitnessUtxo = &wire.TxOut{Value: in.Value, PkScript: in.PkScript}
			p.Inputs[i].TaprootInternalKey = in.TapInternalKey
			if in.TapMerkleRoot != nil {
				p.Inputs[i].TaprootMerkleRoot = in.TapMerkleRoot
			}

		case keyderivation.ScriptP2WSH, keyderivation.ScriptP2SHP2WSH:
			p.Inputs[i].WitnessUtxo = &wire.TxOut{Value: in.Value, PkScript: in.PkScript}
			p.Inputs[i].WitnessScript = in.WitnessScript
			if in.RedeemScript != nil {
				p.Inputs[i].RedeemScript = in.RedeemScript
			}

		default:
			return nil, fmt.Errorf("input %d: unsupported script type %q", i, in.ScriptType)
		}

		for _, d := range in.Bip32Derivations {
			p.Inputs[i].Bip32Derivation = append(p.Inputs[i].Bip32Derivation, &psbt.Bip32Derivation{
				PubKey:               d.PubKey,
				MasterKeyFingerprint: fingerprintUint32(d.MasterFingerprint),
				Bip32Path:            d.Path,
			})
		}
	}

	return p, nil
}

func fingerprintUint32(fp []byte) uint32 {
	if len(fp) != 4 {
		return 0
	}
	return uint32(fp[0])<<24 | uint32(fp[1])<<16 | uint32(fp[2])<<8 | uint32(fp[3])
}

// KeySource resolves signing keys for a PSBT input, generalizing
// path_wallet_psbt.go's three-strategy cascade (direct address match,
// BIP32 derivation match, witness-script key scan) behind one interface
// so txbuilder never needs to know how a wallet stores its keys.
type KeySource interface {
	// ByAddress returns a signing key for pkScript's address, if this
	// source controls it.
	ByAddress(pkScript []byte) (*btcec.PrivateKey, keyderivation.ScriptType, bool, error)
	// ByDerivationPath returns a signing key for a BIP32 path found in the
	// PSBT's Bip32Derivation field, if this source controls it.
	ByDerivationPath(path []uint32) (*btcec.PrivateKey, keyderivation.ScriptType, bool, error)
	// MultisigKeys returns every private key this source could plausibly
	// contribute to an m-of-n witness script, for the brute-force scan
	// strategy used when neither of the above strategies matches.
	MultisigKeys() ([]*btcec.PrivateKey, error)
}

// Sign signs every input it can using keys from src, trying the direct
// address match first, then BIP32 derivation matching, then a witness
// script key scan — in that order, matching the teacher's cascade.
// Signatures are additive: calling Sign again with a different KeySource
// (another local cosigner) only adds missing partial signatures.
func Sign(p *psbt.Packet, params *chaincfg.Params, src KeySource) (int, error) {
	prevOuts := make(map[wire.OutPoint]*wire.TxOut, len(p.Inputs))
	for i, in := range p.Inputs {
		if in.WitnessUtxo != nil {
			prevOuts[p.UnsignedTx.TxIn[i].PreviousOutPoint] = in.WitnessUtxo
		} else if in.NonWitnessUtxo != nil {
			vout := p.UnsignedTx.TxIn[i].PreviousOutPoint.Index
			prevOuts[p.UnsignedTx.TxIn[i].PreviousOutPoint] = in.NonWitnessUtxo.TxOut[vout]
		}
	}
	fetcher := txscript.NewMultiPrevOutFetcher(prevOuts)
	sigHashes := txscript.NewTxSigHashes(p.UnsignedTx, fetcher)

	signed := 0
	for i := range p.Inputs {
		in := &p.Inputs[i]
		out, ok := prevOuts[p.UnsignedTx.TxIn[i].PreviousOutPoint]
		if !ok {
			continue
		}

		if key, st, found, err := src.ByAddress(out.PkScript); err == nil && found {
			if signInput(p, i, out, key, st, sigHashes) {
				signed++
				continue
			}
		}

		matched := false
		for _, d := range in.Bip32Derivation {
			key, st, found, err := src.ByDerivationPath(d.Bip32Path)
			if err != nil || !found {
				continue
			}
			if in.WitnessScript != nil {
				if signMultisigInput(p, i, out, in.WitnessScript, key, sigHashes) {
					signed++
					matched = true
				}
			} else if signInput(p, i, out, key, st, sigHashes) {
				signed++
				matched = true
			}
			if matched {
				break
			}
		}
		if matched {
			continue
		}

		if in.WitnessScript != nil {
			keys, err := src.MultisigKeys()
			if err != nil {
				continue
			}
			pubkeys := extractPubKeysFromScript(in.WitnessScript)
			for _, key := range keys {
				pub := key.PubKey().SerializeCompressed()
				for _, candidate := range pubkeys {
					if bytes.Equal(pub, candidate) {
						if signMultisigInput(p, i, out, in.WitnessScript, key, sigHashes) {
							signed++
						}
						break
					}
				}
			}
		}
	}

	return signed, nil
}

func signInput(p *psbt.Packet, i int, out *wire.TxOut, key *btcec.PrivateKey, st keyderivation.ScriptType, sigHashes *txscript.TxSigHashes) bool {
	switch st {
	case keyderivation.ScriptP2TR:
		sig, err := txscript.RawTxInTaprootSignature(
			p.UnsignedTx, sigHashes, i, out.Value, out.PkScript, nil, txscript.SigHashDefault, key,
		)
		if err != nil {
			return false
		}
		p.Inputs[i].TaprootKeySpendSig = sig
		return true
	default:
		witness, err := txscript.WitnessSignature(
			p.UnsignedTx, sigHashes, i, out.Value, out.PkScript, txscript.SigHashAll, key, true,
		)
		if err != nil {
			return false
		}
		p.Inputs[i].PartialSigs = append(p.Inputs[i].PartialSigs, &psbt.PartialSig{
			PubKey:    key.PubKey().SerializeCompressed(),
			Signature: witness[0],
		})
		return true
	}
}

func signMultisigInput(p *psbt.Packet, i int, out *wire.TxOut, witnessScript []byte, key *btcec.PrivateKey, sigHashes *txscript.TxSigHashes) bool {
	sig, err := txscript.RawTxInWitnessSignature(
		p.UnsignedTx, sigHashes, i, out.Value, witnessScript, txscript.SigHashAll, key,
	)
	if err != nil {
		return false
	}
	pub := key.PubKey().SerializeCompressed()
	for _, existing := range p.Inputs[i].PartialSigs {
		if bytes.Equal(existing.PubKey, pub) {
			return false // already signed by this key
		}
	}
	p.Inputs[i].PartialSigs = append(p.Inputs[i].PartialSigs, &psbt.PartialSig{
		PubKey:    pub,
		Signature: sig,
	})
	return true
}

func extractPubKeysFromScript(script []byte) [][]byte {
	var pubKeys [][]byte
	for i := 0; i < len(script); {
		opcode := script[i]
		i++
		if opcode == 0x21 && i+33 <= len(script) {
			pubKey := script[i : i+33]
			if pubKey[0] == 0x02 || pubKey[0] == 0x03 {
				pubKeys = append(pubKeys, pubKey)
			}
			i += 33
		} else if opcode >= 0x01 && opcode <= 0x4b {
			i += int(opcode)
		}
	}
	return pubKeys
}

// MissingSignatures returns, for a multisig input, how many more partial
// signatures are needed to reach threshold — monotonically decreasing as
// Sign is called by successive cosigners.
func MissingSignatures(p *psbt.Packet, inputIndex, threshold int) int {
	if inputIndex < 0 || inputIndex >= len(p.Inputs) {
		return threshold
	}
	have := len(p.Inputs[inputIndex].PartialSigs)
	if have >= threshold {
		return 0
	}
	return threshold - have
}

// IsComplete reports whether every input in p has reached its signature
// threshold and is ready to Finalize.
func IsComplete(p *psbt.Packet, thresholds map[int]int) bool {
	for i := range p.Inputs {
		threshold, ok := thresholds[i]
		if !ok {
			threshold = 1
		}
		if MissingSignatures(p, i, threshold) > 0 {
			return false
		}
	}
	return true
}

// Finalize finalizes every input and extracts the final transaction,
// returning its hex encoding and txid.
func Finalize(p *psbt.Packet) (txHex string, txid string, err error) {
	for i := range p.Inputs {
		if err := psbt.Finalize(p, i); err != nil {
			return "", "", fmt.Errorf("failed to finalize input %d: %w", i, err)
		}
	}
	finalTx, err := psbt.Extract(p)
	if err != nil {
		return "", "", fmt.Errorf("failed to extract transaction: %w", err)
	}
	var buf bytes.Buffer
	if err := finalTx.Serialize(&buf); err != nil {
		return "", "", fmt.Errorf("failed to serialize transaction: %w", err)
	}
	return hex.EncodeToString(buf.Bytes()), finalTx.TxHash().String(), nil
}

// Broadcast submits a finalized transaction's hex encoding to the network
// via client.
func Broadcast(client *electrum.Client, txHex string) (string, error) {
	txid, err := client.BroadcastTransaction(txHex)
	if err != nil {
		return "", fmt.Errorf("broadcast failed: %w", err)
	}
	return txid, nil
}
