package txbuilder

import (
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/chaincfg"

	"github.com/dan/vault-plugin-secrets-btc/keyderivation"
)

type singleKeySource struct {
	key      *btcec.PrivateKey
	pkScript []byte
	st       keyderivation.ScriptType
}

func (s *singleKeySource) ByAddress(pkScript []byte) (*btcec.PrivateKey, keyderivation.ScriptType, bool, error) {
	if string(pkScript) == string(s.pkScript) {
		return s.key, s.st, true, nil
	}
	return nil, "", false, nil
}

func (s *singleKeySource) ByDerivationPath([]uint32) (*btcec.PrivateKey, keyderivation.ScriptType, bool, error) {
	return nil, "", false, nil
}

func (s *singleKeySource) MultisigKeys() ([]*btcec.PrivateKey, error) {
	return nil, nil
}

func TestCreatePsbtAndSignP2WPKH(t *testing.T) {
	priv, err := btcec.NewPrivateKey()
	if err != nil {
		t.Fatalf("NewPrivateKey() error = %v", err)
	}
	params := &chaincfg.MainNetParams

	addr, err := keyderivation.AddressForScriptType(priv.PubKey(), keyderivation.ScriptP2WPKH, params)
	if err != nil {
		t.Fatalf("AddressForScriptType() error = %v", err)
	}
	pkScript, err := keyderivation.ScriptPubKey(addr, params)
	if err != nil {
		t.Fatalf("ScriptPubKey() error = %v", err)
	}

	destScript, err := keyderivation.ScriptPubKey(addr, params)
	if err != nil {
		t.Fatalf("ScriptPubKey() error = %v", err)
	}

	p, err := CreatePsbt(
		[]InputSpec{{
			TxID:       "0000000000000000000000000000000000000000000000000000000000000001",
			Vout:       0,
			Value:      100000,
			ScriptType: keyderivation.ScriptP2WPKH,
			PkScript:   pkScript,
		}},
		[]OutputSpec{{PkScript: destScript, Amount: 90000}},
	)
	if err != nil {
		t.Fatalf("CreatePsbt() error = %v", err)
	}

	src := &singleKeySource{key: priv, pkScript: pkScript, st: keyderivation.ScriptP2WPKH}
	signed, err := Sign(p, params, src)
	if err != nil {
		t.Fatalf("Sign() error = %v", err)
	}
	if signed != 1 {
		t.Fatalf("signed = %d, want 1", signed)
	}
	if len(p.Inputs[0].PartialSigs) != 1 {
		t.Fatalf("len(PartialSigs) = %d, want 1", len(p.Inputs[0].PartialSigs))
	}

	txHex, txid, err := Finalize(p)
	if err != nil {
		t.Fatalf("Finalize() error = %v", err)
	}
	if txHex == "" || txid == "" {
		t.Fatal("expected non-empty hex and txid")
	}
}

func TestCreatePsbtRequiresInputsAndOutputs(t *testing.T) {
	if _, err := CreatePsbt(nil, []OutputSpec{{Amount: 1000}}); err == nil {
		t.Fatal("expected error with no inputs")
	}
}

func TestMissingSignaturesDecreases(t *testing.T) {
	priv, _ := btcec.NewPrivateKey()
	params := &chaincfg.MainNetParams
	pub1 := priv.PubKey()
	priv2, _ := btcec.NewPrivateKey()
	pub2 := priv2.PubKey()

	redeem, err := keyderivation.MultisigRedeemScript(2, []*btcec.PublicKey{pub1, pub2}, true)
	if err != nil {
		t.Fatalf("MultisigRedeemScript() error = %v", err)
	}
	addr, err := keyderivation.MultisigAddress(redeem, keyderivation.ScriptP2WSH, params)
	if err != nil {
		t.Fatalf("MultisigAddress() error = %v", err)
	}
	pkScript, err := keyderivation.ScriptPubKey(addr, params)
	if err != nil {
		t.Fatalf("ScriptPubKey() error = %v", err)
	}

	p, err := CreatePsbt(
		[]InputSpec{{
			TxID:          "0000000000000000000000000000000000000000000000000000000000000001",
			Vout:          0,
			Value:         100000,
			ScriptType:    keyderivation.ScriptP2WSH,
			PkScript:      pkScript,
			WitnessScript: redeem,
		}},
		[]OutputSpec{{PkScript: pkScript, Amount: 90000}},
	)
	if err != nil {
		t.Fatalf("CreatePsbt() error = %v", err)
	}

	if MissingSignatures(p, 0, 2) != 2 {
		t.Fatalf("MissingSignatures = %d, want 2 before any signature", MissingSignatures(p, 0, 2))
	}

	src1 := &multisigKeySource{keys: []*btcec.PrivateKey{priv}}
	if _, err := Sign(p, params, src1); err != nil {
		t.Fatalf("Sign() error = %v", err)
	}
	if MissingSignatures(p, 0, 2) != 1 {
		t.Fatalf("MissingSignatures = %d, want 1 after first signer", MissingSignatures(p, 0, 2))
	}

	src2 := &multisigKeySource{keys: []*btcec.PrivateKey{priv2}}
	if _, err := Sign(p, params, src2); err != nil {
		t.Fatalf("Sign() error = %v", err)
	}
	if MissingSignatures(p, 0, 2) != 0 {
		t.Fatalf("MissingSignatures = %d, want 0 after both signers", MissingSignatures(p, 0, 2))
	}
}

type multisigKeySource struct {
	keys []*btcec.PrivateKey
}

func (m *multisigKeySource) ByAddress([]byte) (*btcec.PrivateKey, keyderivation.ScriptType, bool, error) {
	return nil, "", false, nil
}

func (m *multisigKeySource) ByDerivationPath([]uint32) (*btcec.PrivateKey, keyderivation.ScriptType, bool, error) {
	return nil, "", false, nil
}

func (m *multisigKeySource) MultisigKeys() ([]*btcec.PrivateKey, error) {
	return m.keys, nil
}
