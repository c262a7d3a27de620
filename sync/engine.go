// Package sync implements gap-limit address discovery, transaction history
// materialization, and balance/UTXO projection for a CanonicalWalletRecord,
// backed by an electrum.Client and a canonical on-disk snapshot (snapshot.go).
package sync

import (
	"bytes"
	"context"
	"encoding/hex"
	"fmt"
	"math/rand"
	"time"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"

	"github.com/dan/vault-plugin-secrets-btc/electrum"
)

// DefaultGapLimit is the number of consecutive unused addresses probed
// before discovery on a branch is declared complete (§4.7).
const DefaultGapLimit = 20

// AddressSource materializes addresses for a wallet without the sync engine
// needing to know how the wallet derives them (HD, watch-xpub, imported
// keys, multisig all implement this differently).
type AddressSource interface {
	AddressAt(isChange bool, index uint32) (address string, path string, err error)
	ScriptHashAt(isChange bool, index uint32) (string, error)
}

// AddressHit is one address found to carry transaction history during
// discovery.
type AddressHit struct {
	Address    string
	Path       string
	Index      uint32
	IsChange   bool
	ScriptHash string
	StatusHash string
}

// HistoryEntry is one entry of blockchain.scripthash.get_history.
type HistoryEntry struct {
	TxID   string
	Height int64
}

// TxDirection classifies a materialized transaction from the wallet's view.
type TxDirection string

const (
	DirectionIncoming     TxDirection = "incoming"
	DirectionOutgoing     TxDirection = "outgoing"
	DirectionSelfTransfer  TxDirection = "self_transfer"
)

// TxRecord is a materialized transaction with wallet-relative bookkeeping.
type TxRecord struct {
	TxID          string
	Height        int64
	Confirmations int64
	Fee           int64
	BalanceDiff   int64
	Direction     TxDirection
}

// UTXO is a projected unspent output, ready for selector consumption.
type UTXO struct {
	TxID       string
	Vout       uint32
	Value      int64
	Address    string
	Path       string
	Height     int64
	ScriptHash string
}

// Balance is the projected confirmed/unconfirmed split.
type Balance struct {
	Confirmed   int64
	Unconfirmed int64
}

// Engine drives one sync cycle for a wallet against a live electrum.Client.
type Engine struct {
	Client    *electrum.Client
	GapLimit  int
	Params    *chaincfg.Params
}

// NewEngine constructs an Engine with the default gap limit.
func NewEngine(client *electrum.Client, params *chaincfg.Params) *Engine {
	return &Engine{Client: client, GapLimit: DefaultGapLimit, Params: params}
}

// DiscoverBranch walks receiving or change addresses from index 0, extending
// the search window by GapLimit past the highest hit, stopping after
// GapLimit consecutive empty scripthashes (§4.7 step 1).
func (e *Engine) DiscoverBranch(ctx context.Context, source AddressSource, isChange bool) ([]AddressHit, error) {
	gapLimit := e.GapLimit
	if gapLimit <= 0 {
		gapLimit = DefaultGapLimit
	}

	var hits []AddressHit
	highestHit := -1
	idx := uint32(0)

	for {
		windowEnd := uint32(highestHit + 1 + gapLimit)
		if idx >= windowEnd {
			break
		}
		if err := ctx.Err(); err != nil {
			return hits, err
		}

		address, path, err := source.AddressAt(isChange, idx)
		if err != nil {
			return hits, fmt.Errorf("failed to derive address at index %d: %w", idx, err)
		}
		scriptHash, err := source.ScriptHashAt(isChange, idx)
		if err != nil {
			return hits, fmt.Errorf("failed to compute scripthash at index %d: %w", idx, err)
		}

		status, err := withRetry(ctx, func() (*string, error) {
			return e.Client.Subscribe(scriptHash)
		})
		if err != nil {
			return hits, fmt.Errorf("subscribe failed at index %d: %w", idx, err)
		}

		if status != nil {
			hit := AddressHit{
				Address:    address,
				Path:       path,
				Index:      idx,
				IsChange:   isChange,
				ScriptHash: scriptHash,
				StatusHash: *status,
			}
			hits = append(hits, hit)
			highestHit = int(idx)
		}
		idx++
	}

	return hits, nil
}

// FetchHistory retrieves and deduplicates the transaction history across
// every hit scripthash (§4.7 step 2).
func (e *Engine) FetchHistory(ctx context.Context, hits []AddressHit) (map[string][]HistoryEntry, error) {
	perAddress := make(map[string][]HistoryEntry, len(hits))
	for _, hit := range hits {
		if err := ctx.Err(); err != nil {
			return perAddress, err
		}
		txs, err := withRetry(ctx, func() ([]electrum.Transaction, error) {
			return e.Client.GetHistory(hit.ScriptHash)
		})
		if err != nil {
			return perAddress, fmt.Errorf("get_history failed for %s: %w", hit.Address, err)
		}
		entries := make([]HistoryEntry, 0, len(txs))
		for _, tx := range txs {
			entries = append(entries, HistoryEntry{TxID: tx.TxHash, Height: tx.Height})
		}
		perAddress[hit.Address] = entries
	}
	return perAddress, nil
}

// UniqueTxIDs flattens a per-address history map into a deduplicated txid
// set, retaining the best-known height for each.
func UniqueTxIDs(history map[string][]HistoryEntry) map[string]int64 {
	out := make(map[string]int64)
	for _, entries := range history {
		for _, e := range entries {
			if existing, ok := out[e.TxID]; !ok || (existing <= 0 && e.Height > 0) {
				out[e.TxID] = e.Height
			}
		}
	}
	return out
}

// ownedOutput is a decoded transaction output belonging to the wallet.
type ownedOutput struct {
	Address string
	Path    string
	Value   int64
}

// Materialize fetches raw transactions for every txid, decodes them, and
// computes each one's wallet-relative balance diff and direction (§4.7
// step 3). owned maps an address string to its derivation path for every
// address this wallet controls (both hits and already-known addresses).
func (e *Engine) Materialize(ctx context.Context, txids map[string]int64, currentHeight int64, owned map[string]string) ([]TxRecord, error) {
	records := make([]TxRecord, 0, len(txids))

	for txid, height := range txids {
		if err := ctx.Err(); err != nil {
			return records, err
		}
		rawHex, err := withRetry(ctx, func() (string, error) {
			return e.Client.GetTransaction(txid)
		})
		if err != nil {
			return records, fmt.Errorf("failed to fetch transaction %s: %w", txid, err)
		}

		msgTx, err := decodeRawTx(rawHex)
		if err != nil {
			return records, fmt.Errorf("failed to decode transaction %s: %w", txid, err)
		}

		var inputOwned, outputOwned int64
		var hasOwnedInput, hasOwnedOutput bool

		for _, out := range msgTx.TxOut {
			addr, ok := e.extractAddress(out.PkScript)
			if !ok {
				continue
			}
			if _, isOwned := owned[addr]; isOwned {
				outputOwned += out.Value
				hasOwnedOutput = true
			}
		}

		for _, in := range msgTx.TxIn {
			prevTxHex, err := withRetry(ctx, func() (string, error) {
				return e.Client.GetTransaction(in.PreviousOutPoint.Hash.String())
			})
			if err != nil {
				continue // parent unavailable; best-effort display per §4.7
			}
			prevTx, err := decodeRawTx(prevTxHex)
			if err != nil || int(in.PreviousOutPoint.Index) >= len(prevTx.TxOut) {
				continue
			}
			prevOut := prevTx.TxOut[in.PreviousOutPoint.Index]
			addr, ok := e.extractAddress(prevOut.PkScript)
			if !ok {
				continue
			}
			if _, isOwned := owned[addr]; isOwned {
				inputOwned += prevOut.Value
				hasOwnedInput = true
			}
		}

		balanceDiff := outputOwned - inputOwned
		direction := DirectionIncoming
		switch {
		case hasOwnedInput && hasOwnedOutput:
			direction = DirectionSelfTransfer
		case hasOwnedInput && !hasOwnedOutput:
			direction = DirectionOutgoing
		}

		confirmations := int64(0)
		if height > 0 && currentHeight >= height {
			confirmations = currentHeight - height + 1
		}

		records = append(records, TxRecord{
			TxID:          txid,
			Height:        height,
			Confirmations: confirmations,
			BalanceDiff:   balanceDiff,
			Direction:     direction,
		})
	}

	return records, nil
}

func (e *Engine) extractAddress(pkScript []byte) (string, bool) {
	_, addrs, _, err := txscript.ExtractPkScriptAddrs(pkScript, e.Params)
	if err != nil || len(addrs) != 1 {
		return "", false
	}
	return addrs[0].EncodeAddress(), true
}

func decodeRawTx(rawHex string) (*wire.MsgTx, error) {
	raw, err := hex.DecodeString(rawHex)
	if err != nil {
		return nil, err
	}
	msgTx := wire.NewMsgTx(wire.TxVersion)
	if err := msgTx.Deserialize(bytes.NewReader(raw)); err != nil {
		return nil, err
	}
	return msgTx, nil
}

// ProjectBalance sums confirmed (height >= 1) and unconfirmed (height <= 0)
// UTXO values for one address's unspent list, per §4.7 step 4.
func ProjectBalance(utxos []UTXO) Balance {
	var b Balance
	for _, u := range utxos {
		if u.Height >= 1 {
			b.Confirmed += u.Value
		} else {
			b.Unconfirmed += u.Value
		}
	}
	return b
}

// ListUTXOs fetches the unspent set for every hit address and converts it to
// the selector-facing UTXO shape.
func (e *Engine) ListUTXOs(ctx context.Context, hits []AddressHit) ([]UTXO, error) {
	var out []UTXO
	for _, hit := range hits {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		raw, err := withRetry(ctx, func() ([]electrum.UTXO, error) {
			return e.Client.ListUnspent(hit.ScriptHash)
		})
		if err != nil {
			return out, fmt.Errorf("listunspent failed for %s: %w", hit.Address, err)
		}
		for _, u := range raw {
			out = append(out, UTXO{
				TxID:       u.TxHash,
				Vout:       uint32(u.TxPos),
				Value:      u.Value,
				Address:    hit.Address,
				Path:       hit.Path,
				Height:     u.Height,
				ScriptHash: hit.ScriptHash,
			})
		}
	}
	return out, nil
}

// withRetry retries fn with exponential backoff (base 500ms, cap 30s,
// jitter) on transient transport errors, per §4.7's failure-handling
// paragraph. It does not distinguish transient from persistent errors; it
// gives up after 8 attempts, or earlier once ctx is done.
func withRetry[T any](ctx context.Context, fn func() (T, error)) (T, error) {
	const (
		base    = 500 * time.Millisecond
		maxWait = 30 * time.Second
	)
	var zero T
	backoff := base
	for attempt := 0; ; attempt++ {
		result, err := fn()
		if err == nil {
			return result, nil
		}
		if attempt >= 7 {
			return zero, err
		}

		jitter := time.Duration(rand.Int63n(int64(backoff) / 2))
		wait := backoff + jitter
		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case <-time.After(wait):
		}

		backoff *= 2
		if backoff > maxWait {
			backoff = maxWait
		}
	}
}
