package btc

import (
	"context"

	"github.com/hashicorp/vault/sdk/framework"
	"github.com/hashicorp/vault/sdk/logical"

	"github.com/dan/vault-plugin-secrets-btc/sync"
)

// pathSystem exposes the mount-wide reset operation, serialized through
// btcBackend.coordinator so a reset can never interleave with an
// in-flight wallet-record mutation.
func pathSystem(b *btcBackend) []*framework.Path {
	return []*framework.Path{
		{
			Pattern: "system/reset",
			DisplayAttrs: &framework.DisplayAttributes{
				OperationPrefix: "btc",
			},
			Fields: map[string]*framework.FieldSchema{
				"confirm": {
					Type:        framework.TypeBool,
					Description: "Must be set to true to confirm the wipe",
					Required:    true,
				},
			},
			Operations: map[logical.Operation]framework.OperationHandler{
				logical.UpdateOperation: &framework.PathOperation{Callback: b.pathSystemReset},
			},
			HelpSynopsis:    pathSystemResetHelpSynopsis,
			HelpDescription: pathSystemResetHelpDescription,
		},
		{
			Pattern: "system/status",
			DisplayAttrs: &framework.DisplayAttributes{
				OperationPrefix: "btc",
			},
			Operations: map[logical.Operation]framework.OperationHandler{
				logical.ReadOperation: &framework.PathOperation{Callback: b.pathSystemStatus},
			},
			HelpSynopsis:    pathSystemStatusHelpSynopsis,
			HelpDescription: pathSystemStatusHelpDescription,
		},
	}
}

func (b *btcBackend) pathSystemReset(ctx context.Context, req *logical.Request, data *framework.FieldData) (*logical.Response, error) {
	if !data.Get("confirm").(bool) {
		return logical.ErrorResponse("set confirm=true to wipe every wallet record, secret, and sync snapshot in this mount"), nil
	}

	var recordsWiped int
	err := b.coordinator.ResetToFreshInstall(func(ctx context.Context) error {
		names, err := listRecords(ctx, req.Storage)
		if err != nil {
			return err
		}
		for _, name := range names {
			record, err := getRecord(ctx, req.Storage, name)
			if err != nil {
				return err
			}
			if record != nil {
				if record.SecretID != nil {
					if err := deleteRecordSecret(ctx, req.Storage, *record.SecretID); err != nil {
						return err
					}
				}
				if err := sync.DeleteSnapshot(ctx, req.Storage, record.ID); err != nil {
					return err
				}
			}
			if err := deleteRecord(ctx, req.Storage, name); err != nil {
				return err
			}
			recordsWiped++
		}
		return nil
	})
	if err != nil {
		return logical.ErrorResponse("reset failed: %s", err.Error()), nil
	}

	b.Logger().Warn("fresh-install reset completed", "records_wiped", recordsWiped)

	return &logical.Response{
		Data: map[string]interface{}{
			"records_wiped": recordsWiped,
		},
	}, nil
}

func (b *btcBackend) pathSystemStatus(ctx context.Context, req *logical.Request, data *framework.FieldData) (*logical.Response, error) {
	recordNames, err := listRecords(ctx, req.Storage)
	if err != nil {
		return nil, err
	}

	return &logical.Response{
		Data: map[string]interface{}{
			"wallets": len(recordNames),
			"electrum_connected": func() bool {
				b.lock.RLock()
				defer b.lock.RUnlock()
				return b.client != nil
			}(),
		},
	}, nil
}

const pathSystemResetHelpSynopsis = `
Wipe every wallet, secret, and sync snapshot in this mount.
`

const pathSystemResetHelpDescription = `
This endpoint permanently deletes every wallet record, its secretvault
entry, and its sync snapshot, returning the mount to a fresh-install
state. Configuration (config) is left untouched. This cannot be
undone; back up any wallet you want to keep first via
wallets/<name>/backup.

A reset fails fast if another reset is already running rather than
queueing behind it.

Example:
  $ vault write btc/system/reset confirm=true
`

const pathSystemStatusHelpSynopsis = `
Report mount-wide counts and connectivity.
`

const pathSystemStatusHelpDescription = `
This endpoint reports how many wallets exist and whether an Electrum
connection is currently established.
`
