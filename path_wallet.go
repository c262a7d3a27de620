package btc

import (
	"context"
	"fmt"

	"github.com/hashicorp/vault/sdk/framework"
	"github.com/hashicorp/vault/sdk/logical"

	"github.com/dan/vault-plugin-secrets-btc/sync"
)

// pathWallet exposes list/read/delete over the CanonicalWalletRecord track,
// generalizing path_wallets.go's single-seed btcWallet list/read/delete to
// every §3.1 wallet type. Creation lives in path_wallet_import.go, since
// every import format needs its own field set.
func pathWallet(b *btcBackend) []*framework.Path {
	return []*framework.Path{
		{
			Pattern: "wallets/?$",
			DisplayAttrs: &framework.DisplayAttributes{
				OperationPrefix: "btc",
			},
			Operations: map[logical.Operation]framework.OperationHandler{
				logical.ListOperation: &framework.PathOperation{Callback: b.pathWalletList},
			},
			HelpSynopsis:    pathWalletListHelpSynopsis,
			HelpDescription: pathWalletListHelpDescription,
		},
		{
			Pattern: "wallets/" + framework.GenericNameRegex("name"),
			DisplayAttrs: &framework.DisplayAttributes{
				OperationPrefix: "btc",
			},
			Fields: map[string]*framework.FieldSchema{
				"name": {Type: framework.TypeLowerCaseString, Description: "Name of the wallet", Required: true},
			},
			Operations: map[logical.Operation]framework.OperationHandler{
				logical.ReadOperation:   &framework.PathOperation{Callback: b.pathWalletRead},
				logical.DeleteOperation: &framework.PathOperation{Callback: b.pathWalletDelete},
			},
			HelpSynopsis:    pathWalletReadHelpSynopsis,
			HelpDescription: pathWalletReadHelpDescription,
		},
	}
}

func (b *btcBackend) pathWalletList(ctx context.Context, req *logical.Request, data *framework.FieldData) (*logical.Response, error) {
	names, err := listRecords(ctx, req.Storage)
	if err != nil {
		return nil, err
	}
	return logical.ListResponse(names), nil
}

func (b *btcBackend) pathWalletRead(ctx context.Context, req *logical.Request, data *framework.FieldData) (*logical.Response, error) {
	name := data.Get("name").(string)

	record, err := getRecord(ctx, req.Storage, name)
	if err != nil {
		return nil, err
	}
	if record == nil {
		return nil, nil
	}

	snapshot, err := sync.LoadSnapshot(ctx, req.Storage, record.ID)
	if err != nil {
		return nil, err
	}

	respData := map[string]interface{}{
		"name":         record.Name,
		"id":           record.ID,
		"type":         record.Type,
		"network":      record.Network,
		"capabilities": record.Capabilities,
		"derivation":   record.Derivation,
		"meta":         record.Meta,
		"sync":         record.Sync,
		"backup":       record.Backup,
	}
	if record.Multisig != nil {
		respData["multisig"] = record.Multisig
	}
	if snapshot != nil {
		respData["balance"] = map[string]interface{}{
			"confirmed":   snapshot.Balance.Confirmed,
			"unconfirmed": snapshot.Balance.Unconfirmed,
			"total":       snapshot.Balance.Confirmed + snapshot.Balance.Unconfirmed,
		}
		respData["last_synced_at"] = snapshot.LastSyncedAt
		respData["utxo_count"] = len(snapshot.UTXOs)
	} else {
		respData["balance"] = map[string]interface{}{"confirmed": 0, "unconfirmed": 0, "total": 0}
	}

	return &logical.Response{Data: respData}, nil
}

func (b *btcBackend) pathWalletDelete(ctx context.Context, req *logical.Request, data *framework.FieldData) (*logical.Response, error) {
	name := data.Get("name").(string)

	record, err := getRecord(ctx, req.Storage, name)
	if err != nil {
		return nil, err
	}
	if record == nil {
		return nil, nil
	}

	_, err = b.coordinator.Submit("delete-wallet:"+name, func(ctx context.Context) (interface{}, error) {
		if record.SecretID != nil {
			if err := deleteRecordSecret(ctx, req.Storage, *record.SecretID); err != nil {
				return nil, err
			}
		}
		if err := sync.DeleteSnapshot(ctx, req.Storage, record.ID); err != nil {
			return nil, err
		}
		return nil, deleteRecord(ctx, req.Storage, name)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to delete wallet %q: %w", name, err)
	}

	b.Logger().Info("wallet deleted", "wallet", name)
	return nil, nil
}

const pathWalletListHelpSynopsis = `
List wallet names.
`

const pathWalletListHelpDescription = `
This endpoint returns the names of every wallet on the
CanonicalWalletRecord track.
`

const pathWalletReadHelpSynopsis = `
Read a wallet's type, capabilities, and latest synced balance.
`

const pathWalletReadHelpDescription = `
This endpoint reads a wallet's record: its type, derivation scheme,
capability flags, multisig configuration (if any), and the balance/UTXO
count from its most recent sync snapshot. Deleting a wallet removes its
record, its secretvault entry (if any), and its sync snapshot; it does not
touch backups already taken via wallets/<name>/backup.

Example:
  $ vault read btc/wallets/my-wallet
  $ vault delete btc/wallets/my-wallet
`
