package btc

import (
	"context"
	"fmt"
	"time"

	"github.com/hashicorp/vault/sdk/logical"

	"github.com/dan/vault-plugin-secrets-btc/normalizer"
	"github.com/dan/vault-plugin-secrets-btc/secretvault"
	"github.com/dan/vault-plugin-secrets-btc/sync"
)

// now returns the current epoch-ms timestamp, the same clock convention
// normalizer.Record's own timestamps use.
func now() int64 {
	return time.Now().UnixMilli()
}

// normalizerSync maps one sync.Engine cycle's outcome onto a record's
// persisted Sync status.
func normalizerSync(bal sync.Balance, height int64) normalizer.Sync {
	ts := now()
	return normalizer.Sync{Status: normalizer.SyncSynced, LastSyncedAt: &ts}
}

// recordsStoragePrefix holds CanonicalWalletRecord entries, generalizing
// walletsStoragePrefix's one-seed-one-script-type btcWallet storage to the
// full eleven-variant wallet model.
const recordsStoragePrefix = "records/"

// secretsStoragePrefix holds each record's secretvault.Entry, keyed by the
// record's id (not its name, so a rename never orphans the secret).
const secretsStoragePrefix = "secrets/"

func getRecord(ctx context.Context, s logical.Storage, name string) (*normalizer.Record, error) {
	entry, err := s.Get(ctx, recordsStoragePrefix+name)
	if err != nil {
		return nil, fmt.Errorf("error retrieving wallet record: %w", err)
	}
	if entry == nil {
		return nil, nil
	}
	r := new(normalizer.Record)
	if err := entry.DecodeJSON(r); err != nil {
		return nil, fmt.Errorf("error decoding wallet record: %w", err)
	}
	return r, nil
}

func saveRecord(ctx context.Context, s logical.Storage, r *normalizer.Record) error {
	entry, err := logical.StorageEntryJSON(recordsStoragePrefix+r.Name, r)
	if err != nil {
		return fmt.Errorf("error creating storage entry: %w", err)
	}
	return s.Put(ctx, entry)
}

func deleteRecord(ctx context.Context, s logical.Storage, name string) error {
	return s.Delete(ctx, recordsStoragePrefix+name)
}

func listRecords(ctx context.Context, s logical.Storage) ([]string, error) {
	return s.List(ctx, recordsStoragePrefix)
}

func getRecordSecret(ctx context.Context, s logical.Storage, recordID string) (*secretvault.Entry, error) {
	entry, err := s.Get(ctx, secretsStoragePrefix+recordID)
	if err != nil {
		return nil, fmt.Errorf("error retrieving wallet secret: %w", err)
	}
	if entry == nil {
		return nil, nil
	}
	secret := new(secretvault.Entry)
	if err := entry.DecodeJSON(secret); err != nil {
		return nil, fmt.Errorf("error decoding wallet secret: %w", err)
	}
	return secret, nil
}

func saveRecordSecret(ctx context.Context, s logical.Storage, recordID string, secret *secretvault.Entry) error {
	entry, err := logical.StorageEntryJSON(secretsStoragePrefix+recordID, secret)
	if err != nil {
		return fmt.Errorf("error creating storage entry: %w", err)
	}
	return s.Put(ctx, entry)
}

func deleteRecordSecret(ctx context.Context, s logical.Storage, recordID string) error {
	return s.Delete(ctx, secretsStoragePrefix+recordID)
}
