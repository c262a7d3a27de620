package txbuilder

import (
	"testing"

	"github.com/dan/vault-plugin-secrets-btc/keyderivation"
	"github.com/dan/vault-plugin-secrets-btc/selector"
)

func TestBumpFeeReusesOriginalInputsWhenSufficient(t *testing.T) {
	req := BumpFeeRequest{
		Inputs: []selector.UTXO{
			{Value: 100000, ScriptType: keyderivation.ScriptP2WPKH, Confirmations: 3},
		},
		PaymentOutputs:   []OutputSpec{{Amount: 50000}},
		ChangeScriptType: keyderivation.ScriptP2WPKH,
		NewFeeRatePerVb:  20,
	}

	selected, change, err := BumpFee(req)
	if err != nil {
		t.Fatalf("BumpFee() error = %v", err)
	}
	if len(selected) != 1 {
		t.Errorf("len(selected) = %d, want 1 (original input reused)", len(selected))
	}
	if change <= 0 {
		t.Errorf("change = %d, want positive", change)
	}
}

func TestBumpFeePullsAdditionalUTXOWhenShort(t *testing.T) {
	req := BumpFeeRequest{
		Inputs: []selector.UTXO{
			{Value: 50100, ScriptType: keyderivation.ScriptP2WPKH, Confirmations: 3},
		},
		PaymentOutputs: []OutputSpec{{Amount: 50000}},
		AdditionalUTXOs: []selector.UTXO{
			{Value: 100000, ScriptType: keyderivation.ScriptP2WPKH, Confirmations: 6},
		},
		ChangeScriptType: keyderivation.ScriptP2WPKH,
		NewFeeRatePerVb:  50,
	}

	selected, _, err := BumpFee(req)
	if err != nil {
		t.Fatalf("BumpFee() error = %v", err)
	}
	if len(selected) < 2 {
		t.Errorf("len(selected) = %d, want at least 2 once the additional UTXO is pulled in", len(selected))
	}
}

func TestBumpChildCoversParentPlusFee(t *testing.T) {
	req := BumpChildRequest{
		Parent:           selector.UTXO{Value: 1000, ScriptType: keyderivation.ScriptP2WPKH},
		ExtraUTXOs:       []selector.UTXO{{Value: 50000, ScriptType: keyderivation.ScriptP2WPKH}},
		ChangeScriptType: keyderivation.ScriptP2WPKH,
		TargetFeeRatePerVb: 50,
	}

	selected, remainder, err := BumpChild(req)
	if err != nil {
		t.Fatalf("BumpChild() error = %v", err)
	}
	if len(selected) != 2 {
		t.Errorf("len(selected) = %d, want 2 (parent + extra)", len(selected))
	}
	if remainder <= 0 {
		t.Errorf("remainder = %d, want positive", remainder)
	}
}

func TestBumpChildInsufficientValue(t *testing.T) {
	req := BumpChildRequest{
		Parent:             selector.UTXO{Value: 100, ScriptType: keyderivation.ScriptP2WPKH},
		ChangeScriptType:   keyderivation.ScriptP2WPKH,
		TargetFeeRatePerVb: 1000,
	}
	_, _, err := BumpChild(req)
	if err == nil {
		t.Fatal("expected an error when the parent alone can't cover the fee")
	}
}
