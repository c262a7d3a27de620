package btc

import (
	"context"
	"fmt"

	"github.com/hashicorp/vault/sdk/framework"
	"github.com/hashicorp/vault/sdk/logical"

	"github.com/dan/vault-plugin-secrets-btc/keyderivation"
	"github.com/dan/vault-plugin-secrets-btc/sync"
)

// pathWalletUTXOs drives a sync.Engine cycle for a wallet and reports its
// projected UTXOs, generalizing path_wallet_utxos.go's
// WalletCacheManager/getStoredAddresses pairing to any sync.AddressSource.
func pathWalletUTXOs(b *btcBackend) []*framework.Path {
	return []*framework.Path{
		{
			Pattern: "wallets/" + framework.GenericNameRegex("name") + "/utxos",
			DisplayAttrs: &framework.DisplayAttributes{
				OperationPrefix: "btc",
			},
			Fields: map[string]*framework.FieldSchema{
				"name": {Type: framework.TypeLowerCaseString, Description: "Name of the wallet", Required: true},
				"pin":  {Type: framework.TypeString, Description: "PIN, required to resync a sign-capable wallet's addresses"},
				"resync": {
					Type:        framework.TypeBool,
					Description: "Re-run address discovery and history materialization before listing (default: use the cached snapshot)",
					Default:     false,
				},
			},
			Operations: map[logical.Operation]framework.OperationHandler{
				logical.ReadOperation: &framework.PathOperation{Callback: b.pathWalletUTXOsRead},
			},
			HelpSynopsis:    pathWalletUTXOsHelpSynopsis,
			HelpDescription: pathWalletUTXOsHelpDescription,
		},
	}
}

func (b *btcBackend) pathWalletUTXOsRead(ctx context.Context, req *logical.Request, data *framework.FieldData) (*logical.Response, error) {
	name := data.Get("name").(string)
	pin := data.Get("pin").(string)
	resync := data.Get("resync").(bool)

	record, err := getRecord(ctx, req.Storage, name)
	if err != nil {
		return nil, err
	}
	if record == nil {
		return logical.ErrorResponse("wallet %q not found", name), nil
	}

	if resync {
		if err := b.resyncWallet(ctx, req.Storage, name, pin, ""); err != nil {
			return logical.ErrorResponse("resync failed: %s", err.Error()), nil
		}
	}

	snapshot, err := sync.LoadSnapshot(ctx, req.Storage, record.ID)
	if err != nil {
		return nil, err
	}
	if snapshot == nil {
		return &logical.Response{
			Data: map[string]interface{}{
				"utxos":   []interface{}{},
				"balance": map[string]interface{}{"confirmed": 0, "unconfirmed": 0},
			},
		}, nil
	}

	return &logical.Response{
		Data: map[string]interface{}{
			"utxos": snapshot.UTXOs,
			"balance": map[string]interface{}{
				"confirmed":   snapshot.Balance.Confirmed,
				"unconfirmed": snapshot.Balance.Unconfirmed,
			},
			"last_synced_at": snapshot.LastSyncedAt,
		},
	}, nil
}

// resyncWallet runs one full sync.Engine cycle for a wallet — discover both
// branches, fetch history, materialize transactions, project UTXOs and
// balance — and persists the result as the wallet's new snapshot. It is the
// engine behind utxos?resync=true; the send/consolidate/psbt handlers read
// the stored snapshot instead, and path_wallet_scan.go runs its own loop.
func (b *btcBackend) resyncWallet(ctx context.Context, s logical.Storage, name, pin, passphrase string) error {
	record, material, err := loadSigningRecord(ctx, s, name, pin, passphrase)
	if err != nil {
		return err
	}
	if record == nil {
		return fmt.Errorf("wallet %q not found", name)
	}

	client, err := b.getClient(ctx, s)
	if err != nil {
		return fmt.Errorf("failed to connect to electrum: %w", err)
	}

	source := newRecordAddressSource(record, material)
	engine := sync.NewEngine(client, keyderivation.NetworkParams())

	receiving, err := engine.DiscoverBranch(ctx, source, false)
	if err != nil {
		return fmt.Errorf("receiving branch discovery failed: %w", err)
	}
	change, err := engine.DiscoverBranch(ctx, source, true)
	if err != nil {
		return fmt.Errorf("change branch discovery failed: %w", err)
	}
	hits := append(append([]sync.AddressHit(nil), receiving...), change...)

	history, err := engine.FetchHistory(ctx, hits)
	if err != nil {
		return fmt.Errorf("history fetch failed: %w", err)
	}

	owned := make(map[string]string, len(hits))
	for _, h := range hits {
		owned[h.ScriptHash] = h.Address
	}

	height, err := client.GetBlockHeight()
	if err != nil {
		return fmt.Errorf("failed to read block height: %w", err)
	}

	txids := sync.UniqueTxIDs(history)
	txs, err := engine.Materialize(ctx, txids, height, owned)
	if err != nil {
		return fmt.Errorf("transaction materialization failed: %w", err)
	}

	utxos, err := engine.ListUTXOs(ctx, hits)
	if err != nil {
		return fmt.Errorf("utxo listing failed: %w", err)
	}
	syncBalance := sync.ProjectBalance(utxos)

	snapshot := &sync.Snapshot{
		WalletID:      record.ID,
		ReceivingHits: receiving,
		ChangeHits:    change,
		Transactions:  txs,
		UTXOs:         utxos,
		Balance:       syncBalance,
		BlockHeight:   height,
		LastSyncedAt:  now(),
	}
	if err := sync.SaveSnapshot(ctx, s, snapshot); err != nil {
		return err
	}

	record.Sync = normalizerSync(syncBalance, height)
	record.Balance.Confirmed = uint64(syncBalance.Confirmed)
	record.Balance.Unconfirmed = uint64(syncBalance.Unconfirmed)
	record.Balance.Total = record.Balance.Confirmed + record.Balance.Unconfirmed
	return saveRecord(ctx, s, record)
}

const pathWalletUTXOsHelpSynopsis = `
List a wallet's unspent outputs and balance.
`

const pathWalletUTXOsHelpDescription = `
This endpoint reports the UTXOs and balance from the wallet's last sync
snapshot. Pass resync=true to run a fresh gap-limit discovery and history
fetch against the configured Electrum server before answering; sign-
capable wallets need their pin for this since discovery must derive
addresses to probe.

Example:
  $ vault read btc/wallets/my-wallet/utxos
  $ vault read btc/wallets/my-wallet/utxos resync=true pin=1234
`
