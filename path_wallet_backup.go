package btc

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/hashicorp/vault/sdk/framework"
	"github.com/hashicorp/vault/sdk/logical"

	"github.com/dan/vault-plugin-secrets-btc/backup"
	"github.com/dan/vault-plugin-secrets-btc/sync"
)

// pathWalletBackup exposes backup.Export/backup.Import over the
// CanonicalWalletRecord storage track, composing a wallet's record, its
// secretvault entry and its latest sync snapshot into one password-wrapped
// blob, the way record_storage.go already composes them individually.
func pathWalletBackup(b *btcBackend) []*framework.Path {
	return []*framework.Path{
		{
			Pattern: "wallets/" + framework.GenericNameRegex("name") + "/backup",
			DisplayAttrs: &framework.DisplayAttributes{
				OperationPrefix: "btc",
			},
			Fields: map[string]*framework.FieldSchema{
				"name":     {Type: framework.TypeLowerCaseString, Description: "Name of the wallet", Required: true},
				"password": {Type: framework.TypeString, Description: "Password protecting the exported backup", Required: true},
			},
			Operations: map[logical.Operation]framework.OperationHandler{
				logical.ReadOperation: &framework.PathOperation{Callback: b.pathWalletBackupExport},
			},
			HelpSynopsis:    pathWalletBackupExportHelpSynopsis,
			HelpDescription: pathWalletBackupExportHelpDescription,
		},
		{
			Pattern: "wallets/restore",
			DisplayAttrs: &framework.DisplayAttributes{
				OperationPrefix: "btc",
			},
			Fields: map[string]*framework.FieldSchema{
				"blob":     {Type: framework.TypeString, Description: "Base64-encoded backup blob, as returned by wallets/<name>/backup", Required: true},
				"password": {Type: framework.TypeString, Description: "Password the backup was exported with", Required: true},
				"new_name": {Type: framework.TypeLowerCaseString, Description: "Name to restore the wallet under (default: the name it was exported with)"},
			},
			Operations: map[logical.Operation]framework.OperationHandler{
				logical.UpdateOperation: &framework.PathOperation{Callback: b.pathWalletBackupRestore},
				logical.CreateOperation: &framework.PathOperation{Callback: b.pathWalletBackupRestore},
			},
			ExistenceCheck:  b.pathWalletBackupRestoreExistenceCheck,
			HelpSynopsis:    pathWalletBackupRestoreHelpSynopsis,
			HelpDescription: pathWalletBackupRestoreHelpDescription,
		},
	}
}

func (b *btcBackend) pathWalletBackupExport(ctx context.Context, req *logical.Request, data *framework.FieldData) (*logical.Response, error) {
	name := data.Get("name").(string)
	password := data.Get("password").(string)
	if password == "" {
		return logical.ErrorResponse("password is required"), nil
	}

	record, err := getRecord(ctx, req.Storage, name)
	if err != nil {
		return nil, err
	}
	if record == nil {
		return logical.ErrorResponse("wallet %q not found", name), nil
	}

	entry, err := getRecordSecret(ctx, req.Storage, record.ID)
	if err != nil {
		return nil, err
	}

	snapshot, err := sync.LoadSnapshot(ctx, req.Storage, record.ID)
	if err != nil {
		return nil, err
	}

	blob, err := backup.Export(*record, entry, snapshot, password)
	if err != nil {
		return nil, fmt.Errorf("failed to export backup: %w", err)
	}

	encoded, err := encodeBackupBlob(blob)
	if err != nil {
		return nil, err
	}

	b.Logger().Info("wallet backup exported", "wallet", name)

	return &logical.Response{
		Data: map[string]interface{}{
			"blob":           encoded,
			"format_version": blob.FormatVersion,
		},
	}, nil
}

func (b *btcBackend) pathWalletBackupRestoreExistenceCheck(ctx context.Context, req *logical.Request, data *framework.FieldData) (bool, error) {
	return false, nil
}

func (b *btcBackend) pathWalletBackupRestore(ctx context.Context, req *logical.Request, data *framework.FieldData) (*logical.Response, error) {
	password := data.Get("password").(string)
	raw := data.Get("blob").(string)
	newName := data.Get("new_name").(string)

	blob, err := decodeBackupBlob(raw)
	if err != nil {
		return logical.ErrorResponse("invalid blob: %s", err.Error()), nil
	}

	payload, err := backup.Import(blob, password)
	if err != nil {
		return logical.ErrorResponse("restore failed: %s", err.Error()), nil
	}

	record := payload.Record
	if newName != "" {
		record.Name = newName
	}

	existing, err := getRecord(ctx, req.Storage, record.Name)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return logical.ErrorResponse("wallet %q already exists", record.Name), nil
	}

	if payload.Secret != nil {
		if err := saveRecordSecret(ctx, req.Storage, record.ID, payload.Secret); err != nil {
			return nil, err
		}
	}
	if payload.Snapshot != nil {
		if err := sync.SaveSnapshot(ctx, req.Storage, payload.Snapshot); err != nil {
			return nil, err
		}
	}
	if err := saveRecord(ctx, req.Storage, &record); err != nil {
		return nil, fmt.Errorf("failed to save restored wallet record: %w", err)
	}

	b.Logger().Info("wallet restored from backup", "wallet", record.Name, "type", record.Type)

	return &logical.Response{
		Data: map[string]interface{}{
			"name": record.Name,
			"id":   record.ID,
			"type": record.Type,
		},
	}, nil
}

func encodeBackupBlob(blob *backup.Blob) (string, error) {
	raw, err := json.Marshal(blob)
	if err != nil {
		return "", fmt.Errorf("failed to encode backup blob: %w", err)
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}

func decodeBackupBlob(encoded string) (*backup.Blob, error) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("blob is not valid base64: %w", err)
	}
	blob := new(backup.Blob)
	if err := json.Unmarshal(raw, blob); err != nil {
		return nil, fmt.Errorf("blob is not a valid backup: %w", err)
	}
	return blob, nil
}

const pathWalletBackupExportHelpSynopsis = `
Export a password-encrypted backup of a wallet.
`

const pathWalletBackupExportHelpDescription = `
This endpoint combines a wallet's record, its encrypted signing secret (if
any), and its latest address-sync snapshot into a single ChaCha20-Poly1305
encrypted blob, returned as base64. The blob can be restored later via
wallets/restore with the same password.

Example:
  $ vault read btc/wallets/my-wallet/backup password=correct-horse
`

const pathWalletBackupRestoreHelpSynopsis = `
Restore a wallet from a backup blob produced by wallets/<name>/backup.
`

const pathWalletBackupRestoreHelpDescription = `
This endpoint decrypts a backup blob and recreates the wallet record (and
its secret and sync snapshot, if the backup carried them). Restoring fails
if a wallet by that name already exists; pass new_name to restore under a
different name.

Example:
  $ vault write btc/wallets/restore \
      blob=<base64> password=correct-horse
`
