package normalizer

import (
	"testing"

	"github.com/dan/vault-plugin-secrets-btc/keyderivation"
)

const testMnemonic = "abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon about"

func TestImportMnemonic(t *testing.T) {
	res, err := Import(Payload{Format: FormatMnemonic, Name: "wallet", Mnemonic: testMnemonic})
	if err != nil {
		t.Fatalf("Import() error = %v", err)
	}
	if res.Record.Type != TypeHDMnemonic {
		t.Errorf("Type = %v, want hd_mnemonic", res.Record.Type)
	}
	if !res.Record.Capabilities.CanExportSeed {
		t.Error("expected CanExportSeed = true for mnemonic wallet")
	}
	if string(res.Secret) != testMnemonic {
		t.Errorf("Secret = %q, want mnemonic", res.Secret)
	}
	if res.Record.Meta.Fingerprint == "" {
		t.Error("expected a derived fingerprint")
	}
}

func TestImportMnemonicInvalid(t *testing.T) {
	_, err := Import(Payload{Format: FormatMnemonic, Mnemonic: "not a real mnemonic at all"})
	if err == nil {
		t.Fatal("expected error for invalid mnemonic")
	}
}

func TestImportSeedHex(t *testing.T) {
	res, err := Import(Payload{
		Format:  FormatSeedHex,
		Name:    "seed wallet",
		SeedHex: "5eb00bbddcf069084889a8ab9155568165f5c453ccb85e70811aaed6f6da5fc19a5ac40b389cd370d086206dec8aa6c43daea6690f20ad3d8d48b2d2ce9e38e4",
	})
	if err != nil {
		t.Fatalf("Import() error = %v", err)
	}
	if res.Record.Type != TypeHDSeed {
		t.Errorf("Type = %v, want hd_seed", res.Record.Type)
	}
	if res.Record.Capabilities.CanExportSeed {
		t.Error("hd_seed wallets cannot re-export a seed phrase (no mnemonic exists)")
	}
}

func TestImportAddressList(t *testing.T) {
	res, err := Import(Payload{
		Format:    FormatAddressList,
		Name:      "watch",
		Addresses: []string{"bc1qw508d6qejxtdg4y5r3zarvary0c5xw7kv8f3t4"},
	})
	if err != nil {
		t.Fatalf("Import() error = %v", err)
	}
	if res.Record.Type != TypeWatchAddresses {
		t.Errorf("Type = %v, want watch_addresses", res.Record.Type)
	}
	if res.Record.Capabilities.CanSign {
		t.Error("watch_addresses wallets must not be able to sign")
	}
	if len(res.Record.AddressCache.Receiving) != 1 {
		t.Errorf("expected 1 cached address, got %d", len(res.Record.AddressCache.Receiving))
	}
}

func TestImportAddressListRejectsInvalid(t *testing.T) {
	_, err := Import(Payload{Format: FormatAddressList, Addresses: []string{"not-an-address"}})
	if err == nil {
		t.Fatal("expected error for invalid address")
	}
}

func TestImportDescriptorMultisig(t *testing.T) {
	desc := "wsh(sortedmulti(2,[aabbccdd/48h/0h/0h/2h]xpub661MyMwAqRbcFtXgS5sYJABqqG9YLmC4Q1Rdap9gSE8NqtwybGhePY2gZ29ESFjqJoCu1Rupje8YtGqsefD265TMg7usUDFdp6W1EGMcet8,[11223344/48h/0h/0h/2h]xpub661MyMwAqRbcGhNuiP8sHYUKntMjtkEPpnfmPrLdziZJq3tV39CJdaaBnqfa9EdrbnDqMNh57r1FhXZHD7rhoZKQFqaiUbNp4jX2JTZXsSX))"
	res, err := Import(Payload{Format: FormatDescriptor, Name: "2-of-2", Descriptor: desc})
	if err != nil {
		t.Fatalf("Import() error = %v", err)
	}
	if res.Record.Type != TypeMultisig {
		t.Fatalf("Type = %v, want multisig", res.Record.Type)
	}
	if res.Record.Multisig == nil || res.Record.Multisig.M != 2 || res.Record.Multisig.N != 2 {
		t.Errorf("Multisig = %+v, want 2-of-2", res.Record.Multisig)
	}
	if !res.Record.Multisig.SortedKeys {
		t.Error("expected SortedKeys = true for sortedmulti")
	}
	if res.Record.Derivation.ScriptType != keyderivation.ScriptP2WSH {
		t.Errorf("ScriptType = %v, want p2wsh", res.Record.Derivation.ScriptType)
	}
}

func TestImportMultisigWatchOnlyHasNoSigningCapability(t *testing.T) {
	res, err := Import(Payload{
		Format: FormatMultisig,
		Name:   "cold 2-of-3",
		Multisig: &MultisigImport{
			M:          2,
			ScriptType: keyderivation.ScriptP2WSH,
			Cosigners: []CosignerInfo{
				{Name: "a", IsLocal: false},
				{Name: "b", IsLocal: false},
				{Name: "c", IsLocal: false},
			},
		},
	})
	if err != nil {
		t.Fatalf("Import() error = %v", err)
	}
	if res.Record.Capabilities.CanSign {
		t.Error("expected CanSign = false with zero local cosigners")
	}
	if res.Record.Capabilities.RequiresPin {
		t.Error("expected RequiresPin = false for watch-only multisig")
	}
}

func TestImportMultisigInvalidThreshold(t *testing.T) {
	_, err := Import(Payload{
		Format: FormatMultisig,
		Multisig: &MultisigImport{
			M:         5,
			Cosigners: []CosignerInfo{{Name: "a"}, {Name: "b"}},
		},
	})
	if err == nil {
		t.Fatal("expected error for m > n")
	}
}
