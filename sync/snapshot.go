package sync

import (
	"context"
	"fmt"

	"github.com/hashicorp/vault/sdk/logical"
)

// snapshotStoragePrefix mirrors address_storage.go's addressStoragePrefix
// convention: one JSON blob per wallet, keyed by its canonical id.
const snapshotStoragePrefix = "snapshot/"

// Snapshot is the canonical local-truth-at-rest record for one wallet:
// everything SyncEngine needs to answer reads without touching the network
// (§4.7 step 5).
type Snapshot struct {
	WalletID       string      `json:"wallet_id"`
	ReceivingHits  []AddressHit `json:"receiving_hits"`
	ChangeHits     []AddressHit `json:"change_hits"`
	Transactions   []TxRecord  `json:"transactions"`
	UTXOs          []UTXO      `json:"utxos"`
	Balance        Balance     `json:"balance"`
	BlockHeight    int64       `json:"block_height"`
	LastSyncedAt   int64       `json:"last_synced_at"`
	SyncError      string      `json:"sync_error,omitempty"`
}

// SaveSnapshot persists snap to storage, overwriting any previous snapshot
// for the same wallet id.
func SaveSnapshot(ctx context.Context, s logical.Storage, snap *Snapshot) error {
	entry, err := logical.StorageEntryJSON(snapshotStoragePrefix+snap.WalletID, snap)
	if err != nil {
		return fmt.Errorf("failed to build snapshot storage entry: %w", err)
	}
	if err := s.Put(ctx, entry); err != nil {
		return fmt.Errorf("failed to persist snapshot: %w", err)
	}
	return nil
}

// LoadSnapshot reads the persisted snapshot for walletID, returning nil (no
// error) if none exists yet — a cold-start wallet with no prior sync cycle.
func LoadSnapshot(ctx context.Context, s logical.Storage, walletID string) (*Snapshot, error) {
	entry, err := s.Get(ctx, snapshotStoragePrefix+walletID)
	if err != nil {
		return nil, fmt.Errorf("failed to read snapshot: %w", err)
	}
	if entry == nil {
		return nil, nil
	}

	var snap Snapshot
	if err := entry.DecodeJSON(&snap); err != nil {
		return nil, fmt.Errorf("failed to decode snapshot: %w", err)
	}
	return &snap, nil
}

// DeleteSnapshot removes the persisted snapshot for walletID, used when a
// wallet is deleted or resetToFreshInstall runs.
func DeleteSnapshot(ctx context.Context, s logical.Storage, walletID string) error {
	if err := s.Delete(ctx, snapshotStoragePrefix+walletID); err != nil {
		return fmt.Errorf("failed to delete snapshot: %w", err)
	}
	return nil
}
