package txbuilder

import (
	"fmt"

	"github.com/dan/vault-plugin-secrets-btc/keyderivation"
	"github.com/dan/vault-plugin-secrets-btc/selector"
)

// SequenceRBF marks an input as replaceable per BIP125.
const SequenceRBF = 0xFFFFFFFD

// SequenceFinal marks an input as non-replaceable.
const SequenceFinal = 0xFFFFFFFF

// BumpFeeRequest describes an unconfirmed transaction to fee-bump via RBF.
type BumpFeeRequest struct {
	// Inputs are the original transaction's inputs, which must all still
	// be unspent for RBF to apply.
	Inputs []selector.UTXO
	// PaymentOutputs are the original non-change outputs, preserved as-is.
	PaymentOutputs []OutputSpec
	ChangeScriptType keyderivation.ScriptType
	ChangePkScript   []byte
	// AdditionalUTXOs are spendable outputs the selector may pull in if
	// the original inputs can't cover the bumped fee on their own.
	AdditionalUTXOs []selector.UTXO
	NewFeeRatePerVb int64
	Policy          selector.Policy
}

// BumpFee rebuilds a replacement transaction paying NewFeeRatePerVb, per
// BIP125: the replacement's inputs are a superset of the original (RBF
// requires not removing any input the original signed over), its sequence
// numbers mark it explicitly replaceable, and its fee must exceed the
// original's per BIP125 rule 3/4 — the caller is expected to have already
// confirmed NewFeeRatePerVb exceeds the original rate.
func BumpFee(req BumpFeeRequest) ([]selector.UTXO, int64, error) {
	if len(req.Inputs) == 0 {
		return nil, 0, fmt.Errorf("bumpFee requires at least one original input")
	}

	var paymentTotal int64
	for _, o := range req.PaymentOutputs {
		paymentTotal += o.Amount
	}

	selected := append([]selector.UTXO(nil), req.Inputs...)
	fee := selector.EstimateFee(selected, len(req.PaymentOutputs)+1, req.NewFeeRatePerVb, req.ChangeScriptType)

	var total int64
	for _, u := range selected {
		total += u.Value
	}

	if total < paymentTotal+fee {
		shortfall := paymentTotal + fee - total
		result, err := selector.Select(req.AdditionalUTXOs, shortfall, req.NewFeeRatePerVb, req.Policy)
		if err != nil {
			return nil, 0, fmt.Errorf("bumpFee: original inputs insufficient and selector could not cover shortfall: %w", err)
		}
		selected = append(selected, result.Selected...)
		fee = selector.EstimateFee(selected, len(req.PaymentOutputs)+1, req.NewFeeRatePerVb, req.ChangeScriptType)
		total = 0
		for _, u := range selected {
			total += u.Value
		}
	}

	change := total - paymentTotal - fee
	if change < 0 {
		return nil, 0, fmt.Errorf("bumpFee: insufficient value to cover bumped fee")
	}

	return selected, change, nil
}

// BumpChildRequest describes a CPFP bump: spend an unconfirmed parent
// output (plus optional extra inputs) at a high enough fee rate that the
// combined package clears the parent's low fee.
type BumpChildRequest struct {
	Parent           selector.UTXO
	ExtraUTXOs       []selector.UTXO
	ChangeScriptType keyderivation.ScriptType
	TargetFeeRatePerVb int64
	Policy           selector.Policy
}

// BumpChild selects the parent output plus as many extra UTXOs as needed
// to pay a child transaction's fee at TargetFeeRatePerVb, sending all
// remaining value back to a single change output (child-pays-for-parent).
func BumpChild(req BumpChildRequest) ([]selector.UTXO, int64, error) {
	selected := []selector.UTXO{req.Parent}
	total := req.Parent.Value
	fee := selector.EstimateFee(selected, 1, req.TargetFeeRatePerVb, req.ChangeScriptType)

	for _, u := range req.ExtraUTXOs {
		if total >= fee {
			break
		}
		selected = append(selected, u)
		total += u.Value
		fee = selector.EstimateFee(selected, 1, req.TargetFeeRatePerVb, req.ChangeScriptType)
	}

	if total < fee {
		return nil, 0, fmt.Errorf("bumpChild: insufficient value to cover fee at %d sat/vb", req.TargetFeeRatePerVb)
	}

	return selected, total - fee, nil
}
