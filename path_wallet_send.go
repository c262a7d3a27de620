package btc

import (
	"context"
	"fmt"

	"github.com/hashicorp/vault/sdk/framework"
	"github.com/hashicorp/vault/sdk/logical"

	"github.com/dan/vault-plugin-secrets-btc/keyderivation"
	"github.com/dan/vault-plugin-secrets-btc/policy"
	"github.com/dan/vault-plugin-secrets-btc/selector"
	"github.com/dan/vault-plugin-secrets-btc/sync"
	"github.com/dan/vault-plugin-secrets-btc/txbuilder"
)

// pathWalletSend builds, signs, and broadcasts a payment from a wallet's
// projected UTXOs, generalizing path_wallet_send.go's single-seed signing
// path to selector.Select/txbuilder.Sign over any recordKeySource, with a
// policy.Check pass the teacher's send handler never had.
func pathWalletSend(b *btcBackend) []*framework.Path {
	return []*framework.Path{
		{
			Pattern: "wallets/" + framework.GenericNameRegex("name") + "/send",
			DisplayAttrs: &framework.DisplayAttributes{
				OperationPrefix: "btc",
			},
			Fields: map[string]*framework.FieldSchema{
				"name":         {Type: framework.TypeLowerCaseString, Description: "Name of the wallet", Required: true},
				"pin":          {Type: framework.TypeString, Description: "PIN protecting the wallet's signing material"},
				"passphrase":   {Type: framework.TypeString, Description: "BIP39 passphrase, for wallets imported with one"},
				"address":      {Type: framework.TypeString, Description: "Recipient address", Required: true},
				"amount":       {Type: framework.TypeInt, Description: "Amount to send, in satoshis", Required: true},
				"fee_rate":     {Type: framework.TypeInt, Description: "Fee rate in satoshis per vbyte", Required: true},
				"send_max":     {Type: framework.TypeBool, Description: "Sweep the wallet's entire spendable balance to address, ignoring amount", Default: false},
				"rbf":          {Type: framework.TypeBool, Description: "Mark the transaction replaceable per BIP125", Default: true},
				"dry_run":      {Type: framework.TypeBool, Description: "Build and return the transaction without broadcasting", Default: false},
			},
			Operations: map[logical.Operation]framework.OperationHandler{
				logical.UpdateOperation: &framework.PathOperation{Callback: b.pathWalletSendWrite},
				logical.CreateOperation: &framework.PathOperation{Callback: b.pathWalletSendWrite},
			},
			ExistenceCheck:  b.pathWalletSendExistenceCheck,
			HelpSynopsis:    pathWalletSendHelpSynopsis,
			HelpDescription: pathWalletSendHelpDescription,
		},
	}
}

func (b *btcBackend) pathWalletSendExistenceCheck(ctx context.Context, req *logical.Request, data *framework.FieldData) (bool, error) {
	return false, nil
}

func (b *btcBackend) pathWalletSendWrite(ctx context.Context, req *logical.Request, data *framework.FieldData) (*logical.Response, error) {
	name := data.Get("name").(string)
	pin := data.Get("pin").(string)
	passphrase := data.Get("passphrase").(string)
	recipient := data.Get("address").(string)
	amount := int64(data.Get("amount").(int))
	feeRate := int64(data.Get("fee_rate").(int))
	sendMax := data.Get("send_max").(bool)
	rbf := data.Get("rbf").(bool)
	dryRun := data.Get("dry_run").(bool)

	if feeRate <= 0 {
		return logical.ErrorResponse("fee_rate must be positive"), nil
	}
	params := keyderivation.NetworkParams()
	if err := keyderivation.ValidateAddress(recipient, params); err != nil {
		return logical.ErrorResponse(err.Error()), nil
	}

	record, material, err := loadSigningRecord(ctx, req.Storage, name, pin, passphrase)
	if err != nil {
		return logical.ErrorResponse(err.Error()), nil
	}
	if record == nil {
		return logical.ErrorResponse("wallet %q not found", name), nil
	}
	if !record.Capabilities.CanSign {
		return logical.ErrorResponse("wallet %q is watch-only and cannot send", name), nil
	}
	if record.Capabilities.RequiresPin && pin == "" {
		return logical.ErrorResponse("pin is required to send from this wallet"), nil
	}

	snapshot, err := sync.LoadSnapshot(ctx, req.Storage, record.ID)
	if err != nil {
		return nil, err
	}
	if snapshot == nil || len(snapshot.UTXOs) == 0 {
		return logical.ErrorResponse("wallet %q has no spendable UTXOs - run wallets/%s/utxos?resync=true first", name, name), nil
	}

	minConfirmations, err := getMinConfirmations(ctx, req.Storage)
	if err != nil {
		return nil, err
	}
	minConf := int64(minConfirmations)
	changeType := record.Derivation.ScriptType

	utxos := make([]selector.UTXO, 0, len(snapshot.UTXOs))
	byRef := make(map[string]sync.UTXO, len(snapshot.UTXOs))
	for _, u := range snapshot.UTXOs {
		confs := int64(0)
		if snapshot.BlockHeight > 0 && u.Height > 0 {
			confs = snapshot.BlockHeight - u.Height + 1
		}
		if confs < minConf {
			continue
		}
		ref := fmt.Sprintf("%s:%d", u.TxID, u.Vout)
		byRef[ref] = u
		utxos = append(utxos, selector.UTXO{
			TxID:          u.TxID,
			Vout:          u.Vout,
			Value:         u.Value,
			ScriptType:    record.Derivation.ScriptType,
			Confirmations: confs,
			Tag:           ref,
		})
	}

	recipientScript, err := keyderivation.ScriptPubKey(recipient, params)
	if err != nil {
		return logical.ErrorResponse(err.Error()), nil
	}

	var result *selector.Result
	if sendMax {
		total := int64(0)
		for _, u := range utxos {
			total += u.Value
		}
		fee := selector.EstimateFee(utxos, 1, feeRate, changeType)
		amount = total - fee
		if amount <= 0 {
			return logical.ErrorResponse("balance is too small to cover the fee"), nil
		}
		result = &selector.Result{Selected: utxos, Fee: fee, Change: 0}
	} else {
		result, err = selector.Select(utxos, amount, feeRate, selector.Policy{
			ChangeScriptType: changeType,
		})
		if err != nil {
			return logical.ErrorResponse("utxo selection failed: %s", err.Error()), nil
		}
	}

	outputs := []txbuilder.OutputSpec{{PkScript: recipientScript, Amount: amount}}
	var changeAddr string
	if result.Change > 0 {
		source := newRecordAddressSource(record, material)
		index := uint32(record.AddressCache.LastDerivedChange + 1)
		addr, _, err := source.AddressAt(true, index)
		if err != nil {
			return nil, fmt.Errorf("failed to derive change address: %w", err)
		}
		changeAddr = addr
		changeScript, err := keyderivation.ScriptPubKey(addr, params)
		if err != nil {
			return nil, err
		}
		outputs = append(outputs, txbuilder.OutputSpec{PkScript: changeScript, Amount: result.Change})
	}

	violations := policy.Check(policy.CheckInput{
		OutputValues: amountsOf(outputs),
		FeeRate:      feeRate,
		Fee:          result.Fee,
		TotalInput:   sumUTXOs(result.Selected),
		TotalOutput:  sumOutputs(outputs),
	})
	if policy.HasErrors(violations) {
		return logical.ErrorResponse("transaction rejected by policy: %v", violations), nil
	}

	if dryRun {
		return &logical.Response{
			Data: map[string]interface{}{
				"dry_run":        true,
				"inputs":         len(result.Selected),
				"fee":            result.Fee,
				"change":         result.Change,
				"change_address": changeAddr,
				"violations":     violations,
			},
		}, nil
	}

	inputs := make([]txbuilder.InputSpec, 0, len(result.Selected))
	for _, u := range result.Selected {
		hit := byRef[u.Tag]
		pkScript, err := keyderivation.ScriptPubKey(hit.Address, params)
		if err != nil {
			return nil, err
		}
		in := txbuilder.InputSpec{
			TxID:       u.TxID,
			Vout:       u.Vout,
			Value:      u.Value,
			ScriptType: u.ScriptType,
			PkScript:   pkScript,
		}
		if hit.Path != "" {
			steps, err := keyderivation.ParsePath(hit.Path)
			if err != nil {
				return nil, fmt.Errorf("stored derivation path %q no longer parses: %w", hit.Path, err)
			}
			in.Bip32Derivations = []txbuilder.PsbtDerivation{{Path: steps}}
		}
		inputs = append(inputs, in)
	}

	packet, err := txbuilder.CreatePsbt(inputs, outputs)
	if err != nil {
		return nil, fmt.Errorf("failed to assemble transaction: %w", err)
	}
	if rbf {
		for i := range packet.UnsignedTx.TxIn {
			packet.UnsignedTx.TxIn[i].Sequence = txbuilder.SequenceRBF
		}
	}

	signSrc := newRecordKeySource(record, material)
	if _, err := txbuilder.Sign(packet, params, signSrc); err != nil {
		return nil, fmt.Errorf("failed to sign transaction: %w", err)
	}

	txHex, txid, err := txbuilder.Finalize(packet)
	if err != nil {
		return nil, fmt.Errorf("failed to finalize transaction: %w", err)
	}

	client, err := b.getClient(ctx, req.Storage)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to electrum: %w", err)
	}
	if _, err := txbuilder.Broadcast(client, txHex); err != nil {
		return nil, fmt.Errorf("failed to broadcast transaction: %w", err)
	}

	if result.Change > 0 {
		record.AddressCache.LastDerivedChange++
		if err := saveRecord(ctx, req.Storage, record); err != nil {
			b.Logger().Warn("failed to advance change index after send", "wallet", name, "error", err)
		}
	}

	b.Logger().Info("transaction sent", "wallet", name, "txid", txid, "amount", amount, "fee", result.Fee)

	return &logical.Response{
		Data: map[string]interface{}{
			"txid":           txid,
			"hex":            txHex,
			"fee":            result.Fee,
			"change":         result.Change,
			"change_address": changeAddr,
			"replaceable":    rbf,
		},
	}, nil
}

func amountsOf(outputs []txbuilder.OutputSpec) []int64 {
	out := make([]int64, len(outputs))
	for i, o := range outputs {
		out[i] = o.Amount
	}
	return out
}

func sumUTXOs(utxos []selector.UTXO) int64 {
	var total int64
	for _, u := range utxos {
		total += u.Value
	}
	return total
}

func sumOutputs(outputs []txbuilder.OutputSpec) int64 {
	var total int64
	for _, o := range outputs {
		total += o.Amount
	}
	return total
}

const pathWalletSendHelpSynopsis = `
Send bitcoin from a wallet.
`

const pathWalletSendHelpDescription = `
This endpoint selects UTXOs from the wallet's last sync snapshot, builds a
PSBT, signs it with the wallet's own key material, runs it through a
dust/fee-rate policy check, and broadcasts it. Pass send_max=true to sweep
the entire spendable balance instead of specifying amount. dry_run=true
returns the selection and fee without signing or broadcasting.

Example:
  $ vault write btc/wallets/my-wallet/send \
      address=bc1q... amount=50000 fee_rate=12 pin=1234
`
