package btc

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hashicorp/vault/sdk/framework"
	"github.com/hashicorp/vault/sdk/logical"

	"github.com/dan/vault-plugin-secrets-btc/keyderivation"
	"github.com/dan/vault-plugin-secrets-btc/normalizer"
	"github.com/dan/vault-plugin-secrets-btc/selector"
	"github.com/dan/vault-plugin-secrets-btc/txbuilder"
)

// pathWalletBump exposes txbuilder.BumpFee (RBF) and txbuilder.BumpChild
// (CPFP) over the record track, generalizing path_wallet_consolidate.go's
// single-purpose transaction builder to the two fee-escalation strategies.
func pathWalletBump(b *btcBackend) []*framework.Path {
	bumpInputFields := map[string]*framework.FieldSchema{
		"name": {Type: framework.TypeLowerCaseString, Description: "Name of the wallet", Required: true},
		"pin":  {Type: framework.TypeString, Description: "PIN protecting the wallet's signing material"},
		"inputs": {
			Type:        framework.TypeString,
			Description: `JSON array of the original transaction's inputs: [{"txid","vout","value","address"}]`,
			Required:    true,
		},
		"outputs": {
			Type:        framework.TypeString,
			Description: `JSON array of the original transaction's non-change outputs: [{"address","value"}]`,
			Required:    true,
		},
		"additional_utxos": {
			Type:        framework.TypeString,
			Description: `JSON array of extra spendable UTXOs the selector may pull in if the original inputs can't cover the bumped fee: [{"txid","vout","value","address"}]`,
		},
		"new_fee_rate": {Type: framework.TypeInt, Description: "Replacement fee rate in satoshis per vbyte", Required: true},
		"dry_run":      {Type: framework.TypeBool, Description: "Preview the replacement without broadcasting", Default: false},
	}

	bumpChildFields := map[string]*framework.FieldSchema{
		"name": {Type: framework.TypeLowerCaseString, Description: "Name of the wallet", Required: true},
		"pin":  {Type: framework.TypeString, Description: "PIN protecting the wallet's signing material"},
		"parent": {
			Type:        framework.TypeString,
			Description: `JSON object describing the low-fee parent output: {"txid","vout","value","address"}`,
			Required:    true,
		},
		"extra_utxos": {
			Type:        framework.TypeString,
			Description: `JSON array of additional UTXOs to spend alongside the parent output: [{"txid","vout","value","address"}]`,
		},
		"target_fee_rate": {Type: framework.TypeInt, Description: "Combined parent+child fee rate in satoshis per vbyte", Required: true},
		"dry_run":         {Type: framework.TypeBool, Description: "Preview the child without broadcasting", Default: false},
	}

	return []*framework.Path{
		{
			Pattern: "wallets/" + framework.GenericNameRegex("name") + "/bump-fee",
			DisplayAttrs: &framework.DisplayAttributes{
				OperationPrefix: "btc",
			},
			Fields: bumpInputFields,
			Operations: map[logical.Operation]framework.OperationHandler{
				logical.UpdateOperation: &framework.PathOperation{Callback: b.pathWalletBumpFee},
				logical.CreateOperation: &framework.PathOperation{Callback: b.pathWalletBumpFee},
			},
			ExistenceCheck:  b.pathWalletBumpExistenceCheck,
			HelpSynopsis:    pathWalletBumpFeeHelpSynopsis,
			HelpDescription: pathWalletBumpFeeHelpDescription,
		},
		{
			Pattern: "wallets/" + framework.GenericNameRegex("name") + "/bump-child",
			DisplayAttrs: &framework.DisplayAttributes{
				OperationPrefix: "btc",
			},
			Fields: bumpChildFields,
			Operations: map[logical.Operation]framework.OperationHandler{
				logical.UpdateOperation: &framework.PathOperation{Callback: b.pathWalletBumpChild},
				logical.CreateOperation: &framework.PathOperation{Callback: b.pathWalletBumpChild},
			},
			ExistenceCheck:  b.pathWalletBumpExistenceCheck,
			HelpSynopsis:    pathWalletBumpChildHelpSynopsis,
			HelpDescription: pathWalletBumpChildHelpDescription,
		},
	}
}

func (b *btcBackend) pathWalletBumpExistenceCheck(ctx context.Context, req *logical.Request, data *framework.FieldData) (bool, error) {
	return false, nil
}

// bumpUTXORef is the wire shape for a UTXO reference supplied by the caller:
// the plugin does not keep a pending-transaction ledger, so the caller
// (which watched the original broadcast) supplies the inputs to replace.
type bumpUTXORef struct {
	TxID    string `json:"txid"`
	Vout    uint32 `json:"vout"`
	Value   int64  `json:"value"`
	Address string `json:"address"`
}

type bumpOutputRef struct {
	Address string `json:"address"`
	Value   int64  `json:"value"`
}

func (b *btcBackend) pathWalletBumpFee(ctx context.Context, req *logical.Request, data *framework.FieldData) (*logical.Response, error) {
	name := data.Get("name").(string)
	pin := data.Get("pin").(string)
	newFeeRate := int64(data.Get("new_fee_rate").(int))
	dryRun := data.Get("dry_run").(bool)

	if newFeeRate <= 0 {
		return logical.ErrorResponse("new_fee_rate must be positive"), nil
	}

	record, material, err := loadSigningRecord(ctx, req.Storage, name, pin, "")
	if err != nil {
		return logical.ErrorResponse(err.Error()), nil
	}
	if record == nil {
		return logical.ErrorResponse("wallet %q not found", name), nil
	}
	if !record.Capabilities.CanSign {
		return logical.ErrorResponse("wallet %q is watch-only and cannot bump a fee", name), nil
	}
	if record.Capabilities.RequiresPin && pin == "" {
		return logical.ErrorResponse("pin is required to bump a fee on this wallet"), nil
	}
	params := keyderivation.NetworkParams()
	changeScriptType := record.Derivation.ScriptType

	var inputRefs []bumpUTXORef
	if err := json.Unmarshal([]byte(data.Get("inputs").(string)), &inputRefs); err != nil {
		return logical.ErrorResponse("invalid inputs JSON: %s", err.Error()), nil
	}
	var outputRefs []bumpOutputRef
	if err := json.Unmarshal([]byte(data.Get("outputs").(string)), &outputRefs); err != nil {
		return logical.ErrorResponse("invalid outputs JSON: %s", err.Error()), nil
	}
	var extraRefs []bumpUTXORef
	if raw := data.Get("additional_utxos").(string); raw != "" {
		if err := json.Unmarshal([]byte(raw), &extraRefs); err != nil {
			return logical.ErrorResponse("invalid additional_utxos JSON: %s", err.Error()), nil
		}
	}

	selUTXOs := refsToSelectorUTXOs(inputRefs, changeScriptType)
	extraUTXOs := refsToSelectorUTXOs(extraRefs, changeScriptType)

	paymentOutputs := make([]txbuilder.OutputSpec, 0, len(outputRefs))
	for _, o := range outputRefs {
		pkScript, err := keyderivation.ScriptPubKey(o.Address, params)
		if err != nil {
			return logical.ErrorResponse("invalid output address %q: %s", o.Address, err.Error()), nil
		}
		paymentOutputs = append(paymentOutputs, txbuilder.OutputSpec{PkScript: pkScript, Amount: o.Value})
	}

	source := newRecordAddressSource(record, material)
	changeIndex := uint32(record.AddressCache.LastDerivedChange + 1)
	changeAddr, _, err := source.AddressAt(true, changeIndex)
	if err != nil {
		return nil, fmt.Errorf("failed to generate change address: %w", err)
	}
	changePkScript, err := keyderivation.ScriptPubKey(changeAddr, params)
	if err != nil {
		return nil, fmt.Errorf("failed to script-encode change address: %w", err)
	}

	selected, change, err := txbuilder.BumpFee(txbuilder.BumpFeeRequest{
		Inputs:           selUTXOs,
		PaymentOutputs:   paymentOutputs,
		ChangeScriptType: changeScriptType,
		ChangePkScript:   changePkScript,
		AdditionalUTXOs:  extraUTXOs,
		NewFeeRatePerVb:  newFeeRate,
		Policy:           selector.Policy{ChangeScriptType: changeScriptType},
	})
	if err != nil {
		return logical.ErrorResponse("bump-fee failed: %s", err.Error()), nil
	}

	if dryRun {
		return &logical.Response{
			Data: map[string]interface{}{
				"dry_run":        true,
				"inputs_reused":  len(selected),
				"change_value":   change,
				"change_address": changeAddr,
				"new_fee_rate":   newFeeRate,
			},
		}, nil
	}

	txHex, txid, err := b.buildSignBroadcastBump(ctx, req, record, material, selected, paymentOutputs, changePkScript, change, changeIndex)
	if err != nil {
		return nil, err
	}

	return &logical.Response{
		Data: map[string]interface{}{
			"txid":           txid,
			"hex":            txHex,
			"inputs_reused":  len(selected),
			"change_value":   change,
			"change_address": changeAddr,
			"replaceable":    true,
		},
	}, nil
}

func (b *btcBackend) pathWalletBumpChild(ctx context.Context, req *logical.Request, data *framework.FieldData) (*logical.Response, error) {
	name := data.Get("name").(string)
	pin := data.Get("pin").(string)
	targetFeeRate := int64(data.Get("target_fee_rate").(int))
	dryRun := data.Get("dry_run").(bool)

	if targetFeeRate <= 0 {
		return logical.ErrorResponse("target_fee_rate must be positive"), nil
	}

	record, material, err := loadSigningRecord(ctx, req.Storage, name, pin, "")
	if err != nil {
		return logical.ErrorResponse(err.Error()), nil
	}
	if record == nil {
		return logical.ErrorResponse("wallet %q not found", name), nil
	}
	if !record.Capabilities.CanSign {
		return logical.ErrorResponse("wallet %q is watch-only and cannot spend a parent output", name), nil
	}
	if record.Capabilities.RequiresPin && pin == "" {
		return logical.ErrorResponse("pin is required to spend from this wallet"), nil
	}
	params := keyderivation.NetworkParams()
	changeScriptType := record.Derivation.ScriptType

	var parentRef bumpUTXORef
	if err := json.Unmarshal([]byte(data.Get("parent").(string)), &parentRef); err != nil {
		return logical.ErrorResponse("invalid parent JSON: %s", err.Error()), nil
	}
	var extraRefs []bumpUTXORef
	if raw := data.Get("extra_utxos").(string); raw != "" {
		if err := json.Unmarshal([]byte(raw), &extraRefs); err != nil {
			return logical.ErrorResponse("invalid extra_utxos JSON: %s", err.Error()), nil
		}
	}

	parentUTXOs := refsToSelectorUTXOs([]bumpUTXORef{parentRef}, changeScriptType)
	extraUTXOs := refsToSelectorUTXOs(extraRefs, changeScriptType)

	selected, change, err := txbuilder.BumpChild(txbuilder.BumpChildRequest{
		Parent:             parentUTXOs[0],
		ExtraUTXOs:         extraUTXOs,
		ChangeScriptType:   changeScriptType,
		TargetFeeRatePerVb: targetFeeRate,
		Policy:             selector.Policy{ChangeScriptType: changeScriptType},
	})
	if err != nil {
		return logical.ErrorResponse("bump-child failed: %s", err.Error()), nil
	}

	source := newRecordAddressSource(record, material)
	changeIndex := uint32(record.AddressCache.LastDerivedChange + 1)
	changeAddr, _, err := source.AddressAt(true, changeIndex)
	if err != nil {
		return nil, fmt.Errorf("failed to generate change address: %w", err)
	}
	changePkScript, err := keyderivation.ScriptPubKey(changeAddr, params)
	if err != nil {
		return nil, fmt.Errorf("failed to script-encode change address: %w", err)
	}

	if dryRun {
		return &logical.Response{
			Data: map[string]interface{}{
				"dry_run":         true,
				"inputs_spent":    len(selected),
				"child_value":     change,
				"change_address":  changeAddr,
				"target_fee_rate": targetFeeRate,
			},
		}, nil
	}

	txHex, txid, err := b.buildSignBroadcastBump(ctx, req, record, material, selected, nil, changePkScript, change, changeIndex)
	if err != nil {
		return nil, err
	}

	return &logical.Response{
		Data: map[string]interface{}{
			"txid":            txid,
			"hex":             txHex,
			"inputs_spent":    len(selected),
			"child_value":     change,
			"change_address":  changeAddr,
			"target_fee_rate": targetFeeRate,
		},
	}, nil
}

// refsToSelectorUTXOs converts caller-supplied UTXO references to
// selector.UTXO, tagging each with its address so buildSignBroadcastBump
// can resolve it back to a pkScript without consulting a pending-
// transaction ledger the plugin doesn't keep.
func refsToSelectorUTXOs(refs []bumpUTXORef, scriptType keyderivation.ScriptType) []selector.UTXO {
	out := make([]selector.UTXO, 0, len(refs))
	for _, r := range refs {
		out = append(out, selector.UTXO{
			TxID:          r.TxID,
			Vout:          r.Vout,
			Value:         r.Value,
			ScriptType:    scriptType,
			Confirmations: 1,
			Tag:           r.Address,
		})
	}
	return out
}

// buildSignBroadcastBump assembles a PSBT from the selected UTXOs plus the
// supplied payment outputs and a change output, signs it against the
// wallet's resolved key material, finalizes, and broadcasts it.
func (b *btcBackend) buildSignBroadcastBump(ctx context.Context, req *logical.Request, record *normalizer.Record, material *recordKeyMaterial, selected []selector.UTXO, paymentOutputs []txbuilder.OutputSpec, changePkScript []byte, change int64, changeIndex uint32) (string, string, error) {
	params := keyderivation.NetworkParams()

	inputs := make([]txbuilder.InputSpec, 0, len(selected))
	for _, u := range selected {
		pkScript, err := keyderivation.ScriptPubKey(u.Tag, params)
		if err != nil {
			return "", "", fmt.Errorf("failed to script-encode input address %q: %w", u.Tag, err)
		}
		inputs = append(inputs, txbuilder.InputSpec{
			TxID:       u.TxID,
			Vout:       u.Vout,
			Value:      u.Value,
			ScriptType: u.ScriptType,
			PkScript:   pkScript,
		})
	}

	outputs := append([]txbuilder.OutputSpec(nil), paymentOutputs...)
	if change > 0 {
		outputs = append(outputs, txbuilder.OutputSpec{PkScript: changePkScript, Amount: change})
	}

	packet, err := txbuilder.CreatePsbt(inputs, outputs)
	if err != nil {
		return "", "", fmt.Errorf("failed to assemble replacement psbt: %w", err)
	}
	for i := range packet.UnsignedTx.TxIn {
		packet.UnsignedTx.TxIn[i].Sequence = txbuilder.SequenceRBF
	}

	src := newRecordKeySource(record, material)
	if _, err := txbuilder.Sign(packet, params, src); err != nil {
		return "", "", fmt.Errorf("failed to sign replacement psbt: %w", err)
	}

	txHex, txid, err := txbuilder.Finalize(packet)
	if err != nil {
		return "", "", fmt.Errorf("failed to finalize replacement transaction: %w", err)
	}

	client, err := b.getClient(ctx, req.Storage)
	if err != nil {
		return "", "", fmt.Errorf("failed to connect to electrum: %w", err)
	}
	if _, err := txbuilder.Broadcast(client, txHex); err != nil {
		return "", "", fmt.Errorf("failed to broadcast replacement transaction: %w", err)
	}

	record.AddressCache.LastDerivedChange = int32(changeIndex)
	if err := saveRecord(ctx, req.Storage, record); err != nil {
		b.Logger().Warn("failed to advance change index after bump", "wallet", record.Name, "error", err)
	}

	return txHex, txid, nil
}

const pathWalletBumpFeeHelpSynopsis = `
Replace an unconfirmed transaction with a higher-fee version (RBF, BIP125).
`

const pathWalletBumpFeeHelpDescription = `
This endpoint rebuilds and rebroadcasts an unconfirmed transaction at a
higher fee rate, marking it explicitly replaceable per BIP125. The
original transaction's inputs and non-change outputs are reused; this
wallet's own change output is recomputed against the new fee. If the
original inputs can't cover the new fee on their own, pass
additional_utxos for the selector to pull from.

Example:
  $ vault write btc/wallets/my-wallet/bump-fee \
      inputs='[{"txid":"...","vout":0,"value":50000,"address":"bc1q..."}]' \
      outputs='[{"address":"bc1q...","value":40000}]' \
      new_fee_rate=20 pin=1234
`

const pathWalletBumpChildHelpSynopsis = `
Spend a low-fee parent output at a high enough rate to clear it (CPFP).
`

const pathWalletBumpChildHelpDescription = `
This endpoint builds a child transaction that spends an unconfirmed
parent output (plus any extra_utxos needed) at target_fee_rate, so the
combined parent+child package clears the parent's low fee.

Example:
  $ vault write btc/wallets/my-wallet/bump-child \
      parent='{"txid":"...","vout":0,"value":50000,"address":"bc1q..."}' \
      target_fee_rate=25 pin=1234
`
