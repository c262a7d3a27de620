package selector

import (
	"testing"

	"github.com/dan/vault-plugin-secrets-btc/keyderivation"
)

func utxo(value int64) UTXO {
	return UTXO{Value: value, ScriptType: keyderivation.ScriptP2WPKH, Confirmations: 6}
}

func TestSelectSingleInputSufficient(t *testing.T) {
	utxos := []UTXO{utxo(100000)}
	res, err := Select(utxos, 50000, 10, Policy{})
	if err != nil {
		t.Fatalf("Select() error = %v", err)
	}
	if len(res.Selected) != 1 {
		t.Errorf("len(Selected) = %d, want 1", len(res.Selected))
	}
	if res.Fee <= 0 {
		t.Error("expected a positive fee")
	}
}

func TestSelectInsufficientFunds(t *testing.T) {
	utxos := []UTXO{utxo(100)}
	_, err := Select(utxos, 50000, 10, Policy{})
	if err == nil {
		t.Fatal("expected insufficient funds error")
	}
}

func TestSelectPreferSingleInputPicksSmallestCovering(t *testing.T) {
	utxos := []UTXO{utxo(1_000_000), utxo(60000), utxo(30000)}
	res, err := Select(utxos, 50000, 10, Policy{PreferSingleInput: true})
	if err != nil {
		t.Fatalf("Select() error = %v", err)
	}
	if len(res.Selected) != 1 || res.Selected[0].Value != 60000 {
		t.Errorf("Selected = %+v, want single 60000 UTXO", res.Selected)
	}
}

func TestSelectExcludesFrozen(t *testing.T) {
	utxos := []UTXO{
		{Value: 100000, ScriptType: keyderivation.ScriptP2WPKH, Frozen: true},
		utxo(40000),
	}
	_, err := Select(utxos, 50000, 10, Policy{ExcludeFrozen: true})
	if err == nil {
		t.Fatal("expected insufficient funds once the frozen UTXO is excluded")
	}
}

func TestSelectAvoidUnconfirmedAlwaysExcludes(t *testing.T) {
	utxos := []UTXO{
		{Value: 100000, ScriptType: keyderivation.ScriptP2WPKH, Confirmations: 0},
	}
	_, err := Select(utxos, 50000, 10, Policy{AvoidUnconfirmed: AvoidUnconfirmedAlways})
	if err == nil {
		t.Fatal("expected no eligible UTXOs with an unconfirmed-only set")
	}
}

func TestSelectDustChangeRolledIntoFee(t *testing.T) {
	// Construct an input whose leftover after target+fee is below dust.
	utxos := []UTXO{utxo(50300)}
	res, err := Select(utxos, 50000, 1, Policy{})
	if err != nil {
		t.Fatalf("Select() error = %v", err)
	}
	if res.Change != 0 {
		t.Errorf("Change = %d, want 0 (dust rolled into fee)", res.Change)
	}
}

func TestSelectRespectsTagSeparation(t *testing.T) {
	utxos := []UTXO{
		{Value: 60000, ScriptType: keyderivation.ScriptP2WPKH, Tag: "privacy-set-a"},
		{Value: 60000, ScriptType: keyderivation.ScriptP2WPKH, Tag: "privacy-set-b"},
	}
	res, err := Select(utxos, 50000, 10, Policy{RespectTags: true})
	if err != nil {
		t.Fatalf("Select() error = %v", err)
	}
	for _, u := range res.Selected {
		if u.Tag != res.Selected[0].Tag {
			t.Error("selection mixed two distinct privacy tags")
		}
	}
}

func TestSelectNoEligibleUTXOs(t *testing.T) {
	_, err := Select(nil, 1000, 10, Policy{})
	if err == nil {
		t.Fatal("expected error with no UTXOs")
	}
}
