package keyderivation

import (
	"encoding/hex"
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"

	"github.com/dan/vault-plugin-secrets-btc/primitives"
)

func addressAtZero(t *testing.T, seed []byte, preset Preset, st ScriptType) string {
	t.Helper()
	acct, err := AccountKey(seed, preset, 0, st)
	if err != nil {
		t.Fatalf("AccountKey() error = %v", err)
	}
	addrKey, err := AddressKey(acct, 0, 0)
	if err != nil {
		t.Fatalf("AddressKey() error = %v", err)
	}
	pub, err := GetPublicKey(addrKey)
	if err != nil {
		t.Fatalf("GetPublicKey() error = %v", err)
	}
	addr, err := AddressForScriptType(pub, st, NetworkParams())
	if err != nil {
		t.Fatalf("AddressForScriptType() error = %v", err)
	}
	return addr
}

// TestBIP84Compliance checks the literal BIP84 test vector: mnemonic
// "abandon ... about" with empty passphrase, account 0, external chain,
// index 0.
func TestBIP84Compliance(t *testing.T) {
	seedHex := "5eb00bbddcf069084889a8ab9155568165f5c453ccb85e70811aaed6f6da5fc19a5ac40b389cd370d086206dec8aa6c43daea6690f20ad3d8d48b2d2ce9e38e4"
	seed, err := hex.DecodeString(seedHex)
	if err != nil {
		t.Fatalf("hex.DecodeString() error = %v", err)
	}

	want := "bc1qcr8te4kr609gcawutmrza0j4xv80jy8z306fyu"
	got := addressAtZero(t, seed, PresetBIP84, ScriptP2WPKH)
	if got != want {
		t.Errorf("BIP84 compliance:\ngot:  %s\nwant: %s", got, want)
	}

	derivedSeed := primitives.MnemonicToSeed(
		"abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon about", "")
	if hex.EncodeToString(derivedSeed) != seedHex {
		t.Errorf("MnemonicToSeed mismatch:\ngot:  %x\nwant: %s", derivedSeed, seedHex)
	}
}

// TestBIP86Compliance checks the literal BIP86 taproot test vector: same
// mnemonic, path m/86'/0'/0'/0/0.
func TestBIP86Compliance(t *testing.T) {
	seedHex := "5eb00bbddcf069084889a8ab9155568165f5c453ccb85e70811aaed6f6da5fc19a5ac40b389cd370d086206dec8aa6c43daea6690f20ad3d8d48b2d2ce9e38e4"
	seed, err := hex.DecodeString(seedHex)
	if err != nil {
		t.Fatalf("hex.DecodeString() error = %v", err)
	}

	want := "bc1p5cyxnuxmeuwuvkwfem96lqzszd02n6xdcjrs20cac6yqjjwudpxqkedrcr"
	got := addressAtZero(t, seed, PresetBIP86, ScriptP2TR)
	if got != want {
		t.Errorf("BIP86 compliance:\ngot:  %s\nwant: %s", got, want)
	}
}

func TestAccountKeyHardenedOnly(t *testing.T) {
	seed, _ := hex.DecodeString("000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f")
	master, err := MasterKey(seed)
	if err != nil {
		t.Fatalf("MasterKey() error = %v", err)
	}
	neutered, err := master.Neuter()
	if err != nil {
		t.Fatalf("Neuter() error = %v", err)
	}
	if _, err := neutered.Derive(0x80000000 + 84); err == nil {
		t.Error("expected hardened derivation from a neutered key to fail")
	}
}

func TestDerivationPath(t *testing.T) {
	tests := []struct {
		name     string
		preset   Preset
		st       ScriptType
		account  uint32
		change   uint32
		index    uint32
		expected string
	}{
		{"bip44", PresetBIP44, ScriptP2PKH, 0, 0, 0, "m/44'/0'/0'/0/0"},
		{"bip49", PresetBIP49, ScriptP2SHP2WPKH, 0, 0, 5, "m/49'/0'/0'/0/5"},
		{"bip84", PresetBIP84, ScriptP2WPKH, 0, 1, 2, "m/84'/0'/0'/1/2"},
		{"bip86", PresetBIP86, ScriptP2TR, 0, 0, 0, "m/86'/0'/0'/0/0"},
		{"bip48-p2wsh", PresetBIP48, ScriptP2WSH, 0, 0, 0, "m/48'/0'/0'/2'/0/0"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := DerivationPath(tt.preset, tt.account, tt.change, tt.index, tt.st)
			if got != tt.expected {
				t.Errorf("DerivationPath() = %q, want %q", got, tt.expected)
			}
		})
	}
}

func TestParsePathRoundTrip(t *testing.T) {
	steps, err := ParsePath("m/84'/0'/0'/0/5")
	if err != nil {
		t.Fatalf("ParsePath() error = %v", err)
	}
	if len(steps) != 5 {
		t.Fatalf("ParsePath() returned %d steps, want 5", len(steps))
	}
	if got := FormatPath(steps); got != "m/84'/0'/0'/0/5" {
		t.Errorf("FormatPath() = %q, want m/84'/0'/0'/0/5", got)
	}
}

func TestMultisigRedeemScriptSorted(t *testing.T) {
	seed, _ := hex.DecodeString("000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f")
	acct, err := AccountKey(seed, PresetBIP48, 0, ScriptP2WSH)
	if err != nil {
		t.Fatalf("AccountKey() error = %v", err)
	}

	var pubkeys []*btcec.PublicKey
	for i := uint32(0); i < 3; i++ {
		k, err := AddressKey(acct, 0, i)
		if err != nil {
			t.Fatalf("AddressKey() error = %v", err)
		}
		pub, err := GetPublicKey(k)
		if err != nil {
			t.Fatalf("GetPublicKey() error = %v", err)
		}
		pubkeys = append(pubkeys, pub)
	}

	script, err := MultisigRedeemScript(2, pubkeys, true)
	if err != nil {
		t.Fatalf("MultisigRedeemScript() error = %v", err)
	}
	if len(script) == 0 {
		t.Error("MultisigRedeemScript() returned empty script")
	}

	addr, err := MultisigAddress(script, ScriptP2WSH, NetworkParams())
	if err != nil {
		t.Fatalf("MultisigAddress() error = %v", err)
	}
	if addr == "" {
		t.Error("MultisigAddress() returned empty address")
	}
}
