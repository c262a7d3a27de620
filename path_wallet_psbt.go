package btc

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/hashicorp/vault/sdk/framework"
	"github.com/hashicorp/vault/sdk/logical"

	"github.com/dan/vault-plugin-secrets-btc/keyderivation"
	"github.com/dan/vault-plugin-secrets-btc/selector"
	"github.com/dan/vault-plugin-secrets-btc/sync"
	"github.com/dan/vault-plugin-secrets-btc/txbuilder"
)

// pathWalletPSBT exposes create/sign/finalize over a base64-encoded PSBT,
// generalizing path_wallet_psbt.go's single-seed three-strategy sign cascade
// to any recordKeySource — including multisig cosigners, who each call sign
// in turn and pass the accumulating PSBT to the next.
func pathWalletPSBT(b *btcBackend) []*framework.Path {
	return []*framework.Path{
		{
			Pattern: "wallets/" + framework.GenericNameRegex("name") + "/psbt/create",
			DisplayAttrs: &framework.DisplayAttributes{
				OperationPrefix: "btc",
			},
			Fields: map[string]*framework.FieldSchema{
				"name":              {Type: framework.TypeLowerCaseString, Description: "Name of the wallet", Required: true},
				"pin":               {Type: framework.TypeString, Description: "PIN, required to derive a change address for a sign-capable wallet"},
				"passphrase":        {Type: framework.TypeString, Description: "BIP39 passphrase, for wallets imported with one"},
				"outputs":           {Type: framework.TypeString, Description: `JSON array of outputs: [{"address":"bc1...","amount":50000}]`, Required: true},
				"fee_rate":          {Type: framework.TypeInt, Description: "Fee rate in satoshis per vbyte", Default: 10},
				"min_confirmations": {Type: framework.TypeInt, Description: "Minimum confirmations for UTXOs (default: from config)", Default: -1},
			},
			Operations: map[logical.Operation]framework.OperationHandler{
				logical.UpdateOperation: &framework.PathOperation{Callback: b.pathWalletPSBTCreate},
				logical.CreateOperation: &framework.PathOperation{Callback: b.pathWalletPSBTCreate},
			},
			ExistenceCheck:  b.pathWalletPSBTExistenceCheck,
			HelpSynopsis:    pathPSBTCreateHelpSynopsis,
			HelpDescription: pathPSBTCreateHelpDescription,
		},
		{
			Pattern: "wallets/" + framework.GenericNameRegex("name") + "/psbt/sign",
			DisplayAttrs: &framework.DisplayAttributes{
				OperationPrefix: "btc",
			},
			Fields: map[string]*framework.FieldSchema{
				"name":       {Type: framework.TypeLowerCaseString, Description: "Name of the wallet", Required: true},
				"pin":        {Type: framework.TypeString, Description: "PIN protecting the wallet's signing material"},
				"passphrase": {Type: framework.TypeString, Description: "BIP39 passphrase, for wallets imported with one"},
				"psbt":       {Type: framework.TypeString, Description: "Base64-encoded PSBT to sign", Required: true},
			},
			Operations: map[logical.Operation]framework.OperationHandler{
				logical.UpdateOperation: &framework.PathOperation{Callback: b.pathWalletPSBTSign},
				logical.CreateOperation: &framework.PathOperation{Callback: b.pathWalletPSBTSign},
			},
			ExistenceCheck:  b.pathWalletPSBTExistenceCheck,
			HelpSynopsis:    pathPSBTSignHelpSynopsis,
			HelpDescription: pathPSBTSignHelpDescription,
		},
		{
			Pattern: "wallets/" + framework.GenericNameRegex("name") + "/psbt/finalize",
			DisplayAttrs: &framework.DisplayAttributes{
				OperationPrefix: "btc",
			},
			Fields: map[string]*framework.FieldSchema{
				"name":      {Type: framework.TypeLowerCaseString, Description: "Name of the wallet", Required: true},
				"psbt":      {Type: framework.TypeString, Description: "Base64-encoded, fully-signed PSBT", Required: true},
				"broadcast": {Type: framework.TypeBool, Description: "Broadcast the finalized transaction", Default: false},
			},
			Operations: map[logical.Operation]framework.OperationHandler{
				logical.UpdateOperation: &framework.PathOperation{Callback: b.pathWalletPSBTFinalize},
				logical.CreateOperation: &framework.PathOperation{Callback: b.pathWalletPSBTFinalize},
			},
			ExistenceCheck:  b.pathWalletPSBTExistenceCheck,
			HelpSynopsis:    pathPSBTFinalizeHelpSynopsis,
			HelpDescription: pathPSBTFinalizeHelpDescription,
		},
	}
}

func (b *btcBackend) pathWalletPSBTExistenceCheck(ctx context.Context, req *logical.Request, data *framework.FieldData) (bool, error) {
	return false, nil
}

type psbtOutputRef struct {
	Address string `json:"address"`
	Amount  int64  `json:"amount"`
}

func (b *btcBackend) pathWalletPSBTCreate(ctx context.Context, req *logical.Request, data *framework.FieldData) (*logical.Response, error) {
	name := data.Get("name").(string)
	pin := data.Get("pin").(string)
	passphrase := data.Get("passphrase").(string)
	feeRate := int64(data.Get("fee_rate").(int))
	minConfArg := data.Get("min_confirmations").(int)

	if feeRate <= 0 {
		return logical.ErrorResponse("fee_rate must be positive"), nil
	}

	var outputRefs []psbtOutputRef
	if err := json.Unmarshal([]byte(data.Get("outputs").(string)), &outputRefs); err != nil {
		return logical.ErrorResponse("invalid outputs JSON: %s", err.Error()), nil
	}
	if len(outputRefs) == 0 {
		return logical.ErrorResponse("outputs must contain at least one entry"), nil
	}

	record, material, err := loadSigningRecord(ctx, req.Storage, name, pin, passphrase)
	if err != nil {
		return logical.ErrorResponse(err.Error()), nil
	}
	if record == nil {
		return logical.ErrorResponse("wallet %q not found", name), nil
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

	params := keyderivation.NetworkParams()
	changeType := record.Derivation.ScriptType

	utxos := make([]selector.UTXO, 0, len(snapshot.UTXOs))
	byRef := make(map[string]sync.UTXO, len(snapshot.UTXOs))
	var totalOutput int64
	outputs := make([]txbuilder.OutputSpec, 0, len(outputRefs))
	for _, o := range outputRefs {
		pkScript, err := keyderivation.ScriptPubKey(o.Address, params)
		if err != nil {
			return logical.ErrorResponse("invalid output address %q: %s", o.Address, err.Error()), nil
		}
		outputs = append(outputs, txbuilder.OutputSpec{PkScript: pkScript, Amount: o.Amount})
		totalOutput += o.Amount
	}

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

	result, err := selector.Select(utxos, totalOutput, feeRate, selector.Policy{ChangeScriptType: changeType})
	if err != nil {
		return logical.ErrorResponse("utxo selection failed: %s", err.Error()), nil
	}

	var changeAddr string
	if result.Change > 0 {
		source := newRecordAddressSource(record, material)
		index := uint32(record.AddressCache.LastDerivedChange + 1)
		addr, _, err := source.AddressAt(true, index)
		if err != nil {
			return nil, fmt.Errorf("failed to derive change address: %w", err)
		}
		changeAddr = addr
		changeScript, err := keyderivation.ScriptPubKey(changeAddr, params)
		if err != nil {
			return nil, err
		}
		outputs = append(outputs, txbuilder.OutputSpec{PkScript: changeScript, Amount: result.Change})
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
			if steps, err := keyderivation.ParsePath(hit.Path); err == nil {
				in.Bip32Derivations = []txbuilder.PsbtDerivation{{Path: steps}}
			}
		}
		inputs = append(inputs, in)
	}

	packet, err := txbuilder.CreatePsbt(inputs, outputs)
	if err != nil {
		return nil, fmt.Errorf("failed to assemble PSBT: %w", err)
	}

	var buf bytes.Buffer
	if err := packet.Serialize(&buf); err != nil {
		return nil, fmt.Errorf("failed to serialize PSBT: %w", err)
	}

	respData := map[string]interface{}{
		"psbt":         base64.StdEncoding.EncodeToString(buf.Bytes()),
		"fee":          result.Fee,
		"inputs_count": len(result.Selected),
		"total_input":  sumUTXOs(result.Selected),
		"total_output": totalOutput,
	}
	if changeAddr != "" {
		respData["change_address"] = changeAddr
		respData["change_amount"] = result.Change
	}

	return &logical.Response{Data: respData}, nil
}

func (b *btcBackend) pathWalletPSBTSign(ctx context.Context, req *logical.Request, data *framework.FieldData) (*logical.Response, error) {
	name := data.Get("name").(string)
	pin := data.Get("pin").(string)
	passphrase := data.Get("passphrase").(string)

	packet, err := decodePSBT(data.Get("psbt").(string))
	if err != nil {
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
		return logical.ErrorResponse("wallet %q is watch-only and cannot sign", name), nil
	}
	if record.Capabilities.RequiresPin && pin == "" {
		return logical.ErrorResponse("pin is required to sign with this wallet"), nil
	}

	params := keyderivation.NetworkParams()
	src := newRecordKeySource(record, material)
	signedCount, err := txbuilder.Sign(packet, params, src)
	if err != nil {
		return nil, fmt.Errorf("failed to sign PSBT: %w", err)
	}

	var buf bytes.Buffer
	if err := packet.Serialize(&buf); err != nil {
		return nil, fmt.Errorf("failed to serialize PSBT: %w", err)
	}

	b.Logger().Info("psbt signed", "wallet", name, "inputs_signed", signedCount, "inputs_total", len(packet.Inputs))

	return &logical.Response{
		Data: map[string]interface{}{
			"psbt":          base64.StdEncoding.EncodeToString(buf.Bytes()),
			"inputs_total":  len(packet.Inputs),
			"inputs_signed": signedCount,
		},
	}, nil
}

func (b *btcBackend) pathWalletPSBTFinalize(ctx context.Context, req *logical.Request, data *framework.FieldData) (*logical.Response, error) {
	name := data.Get("name").(string)
	broadcast := data.Get("broadcast").(bool)

	record, err := getRecord(ctx, req.Storage, name)
	if err != nil {
		return nil, err
	}
	if record == nil {
		return logical.ErrorResponse("wallet %q not found", name), nil
	}

	packet, err := decodePSBT(data.Get("psbt").(string))
	if err != nil {
		return logical.ErrorResponse(err.Error()), nil
	}

	txHex, txid, err := txbuilder.Finalize(packet)
	if err != nil {
		return logical.ErrorResponse("failed to finalize PSBT: %s", err.Error()), nil
	}

	respData := map[string]interface{}{
		"txid": txid,
		"hex":  txHex,
	}

	if broadcast {
		client, err := b.getClient(ctx, req.Storage)
		if err != nil {
			respData["broadcast"] = false
			respData["error"] = fmt.Sprintf("failed to connect: %s", err.Error())
			return &logical.Response{Data: respData}, nil
		}
		broadcastTxid, err := txbuilder.Broadcast(client, txHex)
		if err != nil {
			b.Logger().Warn("psbt finalize: broadcast failed", "wallet", name, "txid", txid, "error", err)
			respData["broadcast"] = false
			respData["error"] = err.Error()
			return &logical.Response{Data: respData}, nil
		}
		b.Logger().Info("psbt finalize: transaction broadcast", "wallet", name, "txid", broadcastTxid)
		respData["broadcast"] = true
		respData["broadcast_txid"] = broadcastTxid
	} else {
		respData["broadcast"] = false
	}

	return &logical.Response{Data: respData}, nil
}

func decodePSBT(encoded string) (*psbt.Packet, error) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("invalid base64 PSBT: %w", err)
	}
	p, err := psbt.NewFromRawBytes(bytes.NewReader(raw), false)
	if err != nil {
		return nil, fmt.Errorf("invalid PSBT: %w", err)
	}
	return p, nil
}

const pathPSBTCreateHelpSynopsis = `
Create an unsigned PSBT for complex transactions.
`

const pathPSBTCreateHelpDescription = `
This endpoint creates an unsigned PSBT the same way wallets/<name>/send
does, but returns it for external signing/review instead of signing and
broadcasting it directly.

Example:
  $ vault write btc/wallets/my-wallet/psbt/create \
      outputs='[{"address":"bc1q...","amount":50000}]' fee_rate=10
`

const pathPSBTSignHelpSynopsis = `
Sign a PSBT with this wallet's keys.
`

const pathPSBTSignHelpDescription = `
This endpoint adds this wallet's signatures to a PSBT using the same
address-match/BIP32-path/witness-script cascade wallets/<name>/send uses
internally. For a multisig wallet, each cosigner calls this in turn and
passes the accumulating PSBT to the next; only once the threshold is
reached can psbt/finalize succeed.

Example:
  $ vault write btc/wallets/my-wallet/psbt/sign psbt="cHNidP8..." pin=1234
`

const pathPSBTFinalizeHelpSynopsis = `
Finalize a fully-signed PSBT and optionally broadcast it.
`

const pathPSBTFinalizeHelpDescription = `
This endpoint finalizes every input's witness/scriptSig and extracts the
final transaction. Pass broadcast=true to submit it to the configured
Electrum server in the same call.

Example:
  $ vault write btc/wallets/my-wallet/psbt/finalize psbt="cHNidP8..." broadcast=true
`
