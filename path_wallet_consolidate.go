package btc

import (
	"context"
	"fmt"

	"github.com/hashicorp/vault/sdk/framework"
	"github.com/hashicorp/vault/sdk/logical"

	"github.com/dan/vault-plugin-secrets-btc/keyderivation"
	"github.com/dan/vault-plugin-secrets-btc/selector"
	"github.com/dan/vault-plugin-secrets-btc/sync"
	"github.com/dan/vault-plugin-secrets-btc/txbuilder"
)

// pathWalletConsolidate sweeps a wallet's UTXOs into a single fresh output,
// generalizing path_wallet_consolidate.go's wallet.BuildConsolidationTransaction
// to selector.EstimateFee/txbuilder over the record track.
func pathWalletConsolidate(b *btcBackend) []*framework.Path {
	return []*framework.Path{
		{
			Pattern: "wallets/" + framework.GenericNameRegex("name") + "/consolidate",
			DisplayAttrs: &framework.DisplayAttributes{
				OperationPrefix: "btc",
			},
			Fields: map[string]*framework.FieldSchema{
				"name":              {Type: framework.TypeLowerCaseString, Description: "Name of the wallet", Required: true},
				"pin":               {Type: framework.TypeString, Description: "PIN protecting the wallet's signing material"},
				"passphrase":        {Type: framework.TypeString, Description: "BIP39 passphrase, for wallets imported with one"},
				"fee_rate":          {Type: framework.TypeInt, Description: "Fee rate in satoshis per vbyte", Default: 10},
				"min_confirmations": {Type: framework.TypeInt, Description: "Minimum confirmations for UTXOs (default: from config)", Default: -1},
				"below_value":       {Type: framework.TypeInt, Description: "Only consolidate UTXOs with value below this threshold in satoshis (default: consolidate all)", Default: 0},
				"dry_run":           {Type: framework.TypeBool, Description: "Preview consolidation without broadcasting", Default: false},
			},
			Operations: map[logical.Operation]framework.OperationHandler{
				logical.UpdateOperation: &framework.PathOperation{Callback: b.pathWalletConsolidate},
				logical.CreateOperation: &framework.PathOperation{Callback: b.pathWalletConsolidate},
			},
			ExistenceCheck:  b.pathWalletConsolidateExistenceCheck,
			HelpSynopsis:    pathWalletConsolidateHelpSynopsis,
			HelpDescription: pathWalletConsolidateHelpDescription,
		},
	}
}

func (b *btcBackend) pathWalletConsolidateExistenceCheck(ctx context.Context, req *logical.Request, data *framework.FieldData) (bool, error) {
	return false, nil
}

func (b *btcBackend) pathWalletConsolidate(ctx context.Context, req *logical.Request, data *framework.FieldData) (*logical.Response, error) {
	name := data.Get("name").(string)
	pin := data.Get("pin").(string)
	passphrase := data.Get("passphrase").(string)
	feeRate := int64(data.Get("fee_rate").(int))
	minConfArg := data.Get("min_confirmations").(int)
	belowValue := int64(data.Get("below_value").(int))
	dryRun := data.Get("dry_run").(bool)

	if feeRate <= 0 {
		return logical.ErrorResponse("fee_rate must be positive"), nil
	}

	record, material, err := loadSigningRecord(ctx, req.Storage, name, pin, passphrase)
	if err != nil {
		return logical.ErrorResponse(err.Error()), nil
	}
	if record == nil {
		return logical.ErrorResponse("wallet %q not found", name), nil
	}
	if !record.Capabilities.CanSign {
		return logical.ErrorResponse("wallet %q is watch-only and cannot consolidate", name), nil
	}
	if record.Capabilities.RequiresPin && pin == "" {
		return logical.ErrorResponse("pin is required to consolidate this wallet"), nil
	}

	minConf := int64(minConfArg)
	if minConfArg < 0 {
		configured, err := getMinConfirmations(ctx, req.Storage)
		if err != nil {
			return nil, err
		}
		minConf = int64(configured)
	}

	snapshot, err := sync.LoadSnapshot(ctx, req.Storage, record.ID)
	if err != nil {
		return nil, err
	}
	if snapshot == nil || len(snapshot.UTXOs) == 0 {
		return logical.ErrorResponse("wallet %q has no spendable UTXOs - run wallets/%s/utxos?resync=true first", name, name), nil
	}

	changeType := record.Derivation.ScriptType
	params := keyderivation.NetworkParams()

	selected := make([]selector.UTXO, 0, len(snapshot.UTXOs))
	var totalInput int64
	for _, u := range snapshot.UTXOs {
		confs := int64(0)
		if snapshot.BlockHeight > 0 && u.Height > 0 {
			confs = snapshot.BlockHeight - u.Height + 1
		}
		if confs < minConf {
			continue
		}
		if belowValue > 0 && u.Value >= belowValue {
			continue
		}
		selected = append(selected, selector.UTXO{
			TxID:          u.TxID,
			Vout:          u.Vout,
			Value:         u.Value,
			ScriptType:    changeType,
			Confirmations: confs,
			Tag:           u.Address,
		})
		totalInput += u.Value
	}

	if len(selected) < 2 {
		if belowValue > 0 {
			return logical.ErrorResponse("only %d UTXO(s) below %d satoshis - need at least 2 to consolidate", len(selected), belowValue), nil
		}
		return logical.ErrorResponse("only %d UTXO(s) available - need at least 2 to consolidate", len(selected)), nil
	}

	b.Logger().Warn("consolidation links all input addresses together via common-input-ownership heuristic",
		"wallet", name, "utxos_to_consolidate", len(selected))

	fee := selector.EstimateFee(selected, 1, feeRate, changeType)
	outputValue := totalInput - fee
	if outputValue <= 0 {
		return logical.ErrorResponse("insufficient funds: total input %d satoshis, estimated fee %d satoshis", totalInput, fee), nil
	}

	source := newRecordAddressSource(record, material)
	destIndex := uint32(record.AddressCache.LastDerivedReceiving + 1)
	destAddr, _, err := source.AddressAt(false, destIndex)
	if err != nil {
		return nil, fmt.Errorf("failed to generate destination address: %w", err)
	}

	if dryRun {
		return &logical.Response{
			Data: map[string]interface{}{
				"dry_run":               true,
				"inputs_to_consolidate": len(selected),
				"total_input":           totalInput,
				"estimated_fee":         fee,
				"output_value":          outputValue,
				"output_address":        destAddr,
				"fee_rate":              feeRate,
				"privacy_warning":       "consolidation links all input addresses together, revealing common ownership",
			},
		}, nil
	}

	destScript, err := keyderivation.ScriptPubKey(destAddr, params)
	if err != nil {
		return nil, err
	}

	inputs := make([]txbuilder.InputSpec, 0, len(selected))
	for _, u := range selected {
		pkScript, err := keyderivation.ScriptPubKey(u.Tag, params)
		if err != nil {
			return nil, err
		}
		inputs = append(inputs, txbuilder.InputSpec{
			TxID:       u.TxID,
			Vout:       u.Vout,
			Value:      u.Value,
			ScriptType: u.ScriptType,
			PkScript:   pkScript,
		})
	}
	outputs := []txbuilder.OutputSpec{{PkScript: destScript, Amount: outputValue}}

	packet, err := txbuilder.CreatePsbt(inputs, outputs)
	if err != nil {
		return nil, fmt.Errorf("failed to assemble consolidation transaction: %w", err)
	}

	src := newRecordKeySource(record, material)
	if _, err := txbuilder.Sign(packet, params, src); err != nil {
		return nil, fmt.Errorf("failed to sign consolidation transaction: %w", err)
	}

	txHex, txid, err := txbuilder.Finalize(packet)
	if err != nil {
		return nil, fmt.Errorf("failed to finalize consolidation transaction: %w", err)
	}

	client, err := b.getClient(ctx, req.Storage)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to electrum: %w", err)
	}

	respData := map[string]interface{}{
		"txid":                txid,
		"hex":                 txHex,
		"inputs_consolidated": len(selected),
		"total_input":         totalInput,
		"fee":                 fee,
		"output_value":        outputValue,
		"output_address":      destAddr,
		"privacy_warning":     "consolidation links all input addresses together, revealing common ownership",
	}

	if _, err := txbuilder.Broadcast(client, txHex); err != nil {
		b.Logger().Warn("consolidation broadcast failed", "wallet", name, "error", err)
		respData["broadcast"] = false
		respData["error"] = err.Error()
		return &logical.Response{Data: respData}, nil
	}
	respData["broadcast"] = true

	record.AddressCache.LastDerivedReceiving = int32(destIndex)
	if err := saveRecord(ctx, req.Storage, record); err != nil {
		b.Logger().Warn("failed to persist consolidation destination address", "wallet", name, "error", err)
	}

	b.Logger().Info("consolidation broadcast successful",
		"wallet", name, "txid", txid, "inputs_consolidated", len(selected), "total_input", totalInput, "fee", fee, "output_value", outputValue)

	return &logical.Response{Data: respData}, nil
}

const pathWalletConsolidateHelpSynopsis = `
Consolidate multiple UTXOs into a single UTXO.
`

const pathWalletConsolidateHelpDescription = `
This endpoint consolidates a wallet's UTXOs into a single fresh output,
reducing future transaction fees and cleaning up dust.

PRIVACY WARNING: consolidation links all input addresses together via the
common-input-ownership heuristic, revealing they are controlled by the
same entity. Only consolidate when privacy implications are acceptable.

Example - consolidate all UTXOs:
  $ vault write btc/wallets/treasury/consolidate fee_rate=5 pin=1234

Example - consolidate only small UTXOs (dust cleanup):
  $ vault write btc/wallets/treasury/consolidate below_value=10000 fee_rate=5 pin=1234

Example - preview without broadcasting:
  $ vault write btc/wallets/treasury/consolidate dry_run=true pin=1234
`
