package btc

import (
	"context"
	"fmt"

	"github.com/hashicorp/vault/sdk/framework"
	"github.com/hashicorp/vault/sdk/logical"

	"github.com/dan/vault-plugin-secrets-btc/keyderivation"
	"github.com/dan/vault-plugin-secrets-btc/selector"
	"github.com/dan/vault-plugin-secrets-btc/txbuilder"
)

// pathWalletScan generalizes path_wallet_scan.go's gap scan to the record
// track. There is no retired-address concept here - nothing ever removes a
// derived address from the record, so gap scanning ahead of the last
// derived index is the only drift the record track can develop.
func pathWalletScan(b *btcBackend) []*framework.Path {
	return []*framework.Path{
		{
			Pattern: "wallets/" + framework.GenericNameRegex("name") + "/scan",
			DisplayAttrs: &framework.DisplayAttributes{
				OperationPrefix: "btc",
			},
			Fields: map[string]*framework.FieldSchema{
				"name":       {Type: framework.TypeLowerCaseString, Description: "Name of the wallet", Required: true},
				"pin":        {Type: framework.TypeString, Description: "PIN, required to sweep found funds"},
				"passphrase": {Type: framework.TypeString, Description: "BIP39 passphrase, for wallets imported with one"},
				"gap":        {Type: framework.TypeInt, Description: "Number of addresses beyond the last derived index to scan, per chain", Default: 20},
				"sweep":      {Type: framework.TypeBool, Description: "Sweep found funds to a fresh receiving address", Default: false},
				"fee_rate":   {Type: framework.TypeInt, Description: "Fee rate in satoshis per vbyte for the sweep transaction", Default: 10},
			},
			Operations: map[logical.Operation]framework.OperationHandler{
				logical.ReadOperation:   &framework.PathOperation{Callback: b.pathWalletScan},
				logical.UpdateOperation: &framework.PathOperation{Callback: b.pathWalletScan},
				logical.CreateOperation: &framework.PathOperation{Callback: b.pathWalletScan},
			},
			ExistenceCheck:  b.pathWalletScanExistenceCheck,
			HelpSynopsis:    pathWalletScanHelpSynopsis,
			HelpDescription: pathWalletScanHelpDescription,
		},
	}
}

func (b *btcBackend) pathWalletScanExistenceCheck(ctx context.Context, req *logical.Request, data *framework.FieldData) (bool, error) {
	return false, nil
}

type scanHit struct {
	address     string
	index       uint32
	isChange    bool
	confirmed   int64
	unconfirmed int64
}

func (b *btcBackend) pathWalletScan(ctx context.Context, req *logical.Request, data *framework.FieldData) (*logical.Response, error) {
	name := data.Get("name").(string)
	pin := data.Get("pin").(string)
	passphrase := data.Get("passphrase").(string)
	gapDepth := data.Get("gap").(int)
	sweep := data.Get("sweep").(bool)
	feeRate := int64(data.Get("fee_rate").(int))

	if gapDepth <= 0 {
		return logical.ErrorResponse("gap must be positive"), nil
	}
	if sweep && feeRate <= 0 {
		return logical.ErrorResponse("fee_rate must be positive when sweep=true"), nil
	}

	record, material, err := loadSigningRecord(ctx, req.Storage, name, pin, passphrase)
	if err != nil {
		return logical.ErrorResponse(err.Error()), nil
	}
	if record == nil {
		return logical.ErrorResponse("wallet %q not found", name), nil
	}
	if sweep && !record.Capabilities.CanSign {
		return logical.ErrorResponse("wallet %q is watch-only and cannot sweep", name), nil
	}

	client, err := b.getClient(ctx, req.Storage)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to electrum: %w", err)
	}

	source := newRecordAddressSource(record, material)
	reconnectAttempted := false

	scanChain := func(isChange bool, start uint32) ([]scanHit, error) {
		var hits []scanHit
		for idx := start; idx < start+uint32(gapDepth); idx++ {
			addr, _, err := source.AddressAt(isChange, idx)
			if err != nil {
				b.Logger().Warn("failed to derive scan address", "wallet", name, "index", idx, "error", err)
				continue
			}
			scriptHash, err := source.ScriptHashAt(isChange, idx)
			if err != nil {
				b.Logger().Warn("failed to derive script hash", "wallet", name, "index", idx, "error", err)
				continue
			}

			bal, err := client.GetBalance(scriptHash)
			if err != nil {
				if !reconnectAttempted && b.handleClientError(err) {
					reconnectAttempted = true
					if newClient, reconErr := b.getClient(ctx, req.Storage); reconErr == nil {
						client = newClient
						bal, err = client.GetBalance(scriptHash)
					}
				}
				if err != nil {
					b.Logger().Warn("failed to get balance", "wallet", name, "address", addr, "error", err)
					continue
				}
			}

			total := bal.Confirmed + bal.Unconfirmed
			if total > 0 {
				hits = append(hits, scanHit{address: addr, index: idx, isChange: isChange, confirmed: bal.Confirmed, unconfirmed: bal.Unconfirmed})
			}
		}
		return hits, nil
	}

	receivingStart := uint32(record.AddressCache.LastDerivedReceiving + 1)
	changeStart := uint32(record.AddressCache.LastDerivedChange + 1)

	receivingHits, err := scanChain(false, receivingStart)
	if err != nil {
		return nil, err
	}
	changeHits, err := scanChain(true, changeStart)
	if err != nil {
		return nil, err
	}

	hits := append(append([]scanHit{}, receivingHits...), changeHits...)

	respData := map[string]interface{}{
		"receiving_scanned": gapDepth,
		"change_scanned":    gapDepth,
	}

	var totalFound int64
	found := make([]map[string]interface{}, 0, len(hits))
	var highestReceiving, highestChange uint32
	for _, h := range hits {
		totalFound += h.confirmed + h.unconfirmed
		found = append(found, map[string]interface{}{
			"address":     h.address,
			"index":       h.index,
			"change":      h.isChange,
			"confirmed":   h.confirmed,
			"unconfirmed": h.unconfirmed,
		})
		if h.isChange {
			if h.index > highestChange {
				highestChange = h.index
			}
		} else if h.index > highestReceiving {
			highestReceiving = h.index
		}
	}
	respData["found"] = found
	respData["total_found"] = totalFound

	advanced := false
	if len(receivingHits) > 0 && highestReceiving >= receivingStart {
		record.AddressCache.LastDerivedReceiving = int32(highestReceiving)
		advanced = true
	}
	if len(changeHits) > 0 && highestChange >= changeStart {
		record.AddressCache.LastDerivedChange = int32(highestChange)
		advanced = true
	}
	if advanced {
		if err := saveRecord(ctx, req.Storage, record); err != nil {
			return nil, fmt.Errorf("failed to advance wallet address cursors: %w", err)
		}
		respData["last_derived_receiving"] = record.AddressCache.LastDerivedReceiving
		respData["last_derived_change"] = record.AddressCache.LastDerivedChange
	}

	if totalFound == 0 {
		respData["message"] = "no funds found beyond the wallet's tracked addresses"
		return &logical.Response{Data: respData}, nil
	}

	if !sweep {
		respData["message"] = fmt.Sprintf("found %d satoshis across %d untracked address(es)", totalFound, len(hits))
		return &logical.Response{Data: respData}, nil
	}

	params := keyderivation.NetworkParams()
	changeType := record.Derivation.ScriptType

	var sweepUTXOs []selector.UTXO
	for _, h := range hits {
		scriptHash, err := source.ScriptHashAt(h.isChange, h.index)
		if err != nil {
			continue
		}
		unspent, err := client.ListUnspent(scriptHash)
		if err != nil {
			b.Logger().Warn("failed to list unspent on scanned address", "address", h.address, "error", err)
			continue
		}
		for _, u := range unspent {
			sweepUTXOs = append(sweepUTXOs, selector.UTXO{
				TxID:       u.TxHash,
				Vout:       uint32(u.TxPos),
				Value:      u.Value,
				ScriptType: changeType,
				Tag:        h.address,
			})
		}
	}
	if len(sweepUTXOs) == 0 {
		respData["message"] = "found funds but could not list unspent outputs to sweep"
		return &logical.Response{Data: respData}, nil
	}

	var sweepTotal int64
	for _, u := range sweepUTXOs {
		sweepTotal += u.Value
	}
	fee := selector.EstimateFee(sweepUTXOs, 1, feeRate, changeType)
	sweepOutput := sweepTotal - fee
	if sweepOutput <= 0 {
		return logical.ErrorResponse("sweep would result in negative output: total %d sats, estimated fee %d sats", sweepTotal, fee), nil
	}

	destIndex := uint32(record.AddressCache.LastDerivedReceiving + 1)
	destAddr, _, err := source.AddressAt(false, destIndex)
	if err != nil {
		return nil, fmt.Errorf("failed to generate sweep destination address: %w", err)
	}
	destScript, err := keyderivation.ScriptPubKey(destAddr, params)
	if err != nil {
		return nil, err
	}

	inputs := make([]txbuilder.InputSpec, 0, len(sweepUTXOs))
	for _, u := range sweepUTXOs {
		pkScript, err := keyderivation.ScriptPubKey(u.Tag, params)
		if err != nil {
			return nil, err
		}
		inputs = append(inputs, txbuilder.InputSpec{
			TxID:       u.TxID,
			Vout:       u.Vout,
			Value:      u.Value,
			ScriptType: changeType,
			PkScript:   pkScript,
		})
	}
	outputs := []txbuilder.OutputSpec{{PkScript: destScript, Amount: sweepOutput}}

	packet, err := txbuilder.CreatePsbt(inputs, outputs)
	if err != nil {
		return nil, fmt.Errorf("failed to assemble sweep transaction: %w", err)
	}
	src := newRecordKeySource(record, material)
	if _, err := txbuilder.Sign(packet, params, src); err != nil {
		return nil, fmt.Errorf("failed to sign sweep transaction: %w", err)
	}
	txHex, txid, err := txbuilder.Finalize(packet)
	if err != nil {
		return nil, fmt.Errorf("failed to finalize sweep transaction: %w", err)
	}

	record.AddressCache.LastDerivedReceiving = int32(destIndex)
	if err := saveRecord(ctx, req.Storage, record); err != nil {
		b.Logger().Warn("failed to persist sweep destination address", "wallet", name, "error", err)
	}

	if _, err := txbuilder.Broadcast(client, txHex); err != nil {
		b.Logger().Warn("sweep broadcast failed", "wallet", name, "error", err)
		respData["sweep_broadcast"] = false
		respData["sweep_error"] = err.Error()
		respData["sweep_hex"] = txHex
		return &logical.Response{Data: respData}, nil
	}

	b.Logger().Info("sweep broadcast successful", "wallet", name, "txid", txid, "swept_utxos", len(sweepUTXOs), "total_swept", sweepTotal, "fee", fee)

	respData["sweep_broadcast"] = true
	respData["sweep_txid"] = txid
	respData["sweep_fee"] = fee
	respData["sweep_output"] = sweepOutput
	respData["sweep_address"] = destAddr
	respData["message"] = fmt.Sprintf("swept %d satoshis from %d address(es) to %s", sweepTotal, len(hits), destAddr)

	return &logical.Response{Data: respData}, nil
}

const pathWalletScanHelpSynopsis = `
Scan beyond the wallet's derived addresses for untracked deposits.
`

const pathWalletScanHelpDescription = `
This endpoint scans gap addresses beyond the wallet's last derived
receiving and change indexes for deposits that arrived before the wallet
derived that far. Found addresses advance the wallet's address cursors
so subsequent wallets/<name>/addresses and wallets/<name>/utxos calls
pick them up.

Example - scan 20 addresses ahead on each chain:
  $ vault read btc/wallets/my-wallet/scan gap=20

Example - scan and sweep any untracked funds to a fresh address:
  $ vault write btc/wallets/my-wallet/scan gap=20 sweep=true fee_rate=5 pin=1234
`
