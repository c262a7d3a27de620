package btc

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/hashicorp/vault/sdk/framework"
	"github.com/hashicorp/vault/sdk/logical"

	"github.com/dan/vault-plugin-secrets-btc/appstate"
	"github.com/dan/vault-plugin-secrets-btc/electrum"
)

// btcBackend defines the backend for the Bitcoin secrets engine
type btcBackend struct {
	*framework.Backend
	lock        sync.RWMutex
	client      *electrum.Client
	coordinator *appstate.Coordinator
}

// Factory creates a new backend instance
func Factory(ctx context.Context, conf *logical.BackendConfig) (logical.Backend, error) {
	b := backend()
	if err := b.Setup(ctx, conf); err != nil {
		return nil, err
	}
	return b, nil
}

func backend() *btcBackend {
	b := &btcBackend{
		coordinator: appstate.New(64),
	}

	b.Backend = &framework.Backend{
		Help: strings.TrimSpace(backendHelp),
		PathsSpecial: &logical.Paths{
			SealWrapStorage: []string{
				"config",
				"records/*",
				"secrets/*",
			},
		},
		Paths: framework.PathAppend(
			pathConfig(b),
			pathWallet(b),
			pathWalletImport(b),
			pathWalletAddresses(b),
			pathWalletUTXOs(b),
			pathWalletQR(b),
			pathWalletSend(b),
			pathWalletPSBT(b),
			pathWalletConsolidate(b),
			pathWalletScan(b),
			pathWalletBump(b),
			pathWalletMultisig(b),
			pathWalletBackup(b),
			pathWalletXpub(b),
			pathSystem(b),
		),
		Secrets:     []*framework.Secret{},
		BackendType: logical.TypeLogical,
		Invalidate:  b.invalidate,
		Clean:       b.clean,
	}

	return b
}

// invalidate resets the client when configuration changes
func (b *btcBackend) invalidate(ctx context.Context, key string) {
	if key == "config" {
		b.reset()
	}
}

// clean stops the wallet-record coordinator when the backend is torn down.
func (b *btcBackend) clean(ctx context.Context) {
	b.coordinator.Stop()
}

// reset clears the cached Electrum client
func (b *btcBackend) reset() {
	b.lock.Lock()
	defer b.lock.Unlock()
	if b.client != nil {
		b.Logger().Debug("closing Electrum connection")
		b.client.Close()
		b.client = nil
	}
}

// isConnectionError checks if an error indicates a broken connection
func isConnectionError(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	return strings.Contains(errStr, "broken pipe") ||
		strings.Contains(errStr, "connection reset") ||
		strings.Contains(errStr, "connection refused") ||
		strings.Contains(errStr, "EOF") ||
		strings.Contains(errStr, "use of closed network connection") ||
		strings.Contains(errStr, "i/o timeout")
}

// handleClientError checks if an error is a connection error and resets the client if so
// Returns true if the client was reset (caller should retry with a fresh client)
func (b *btcBackend) handleClientError(err error) bool {
	if isConnectionError(err) {
		b.Logger().Warn("detected stale connection, resetting client", "error", err)
		b.reset()
		return true
	}
	return false
}

// getClient returns the Electrum client, creating one if necessary
func (b *btcBackend) getClient(ctx context.Context, s logical.Storage) (*electrum.Client, error) {
	b.lock.RLock()
	if b.client != nil {
		b.lock.RUnlock()
		return b.client, nil
	}
	b.lock.RUnlock()

	b.lock.Lock()
	defer b.lock.Unlock()

	// Double-check after acquiring write lock
	if b.client != nil {
		return b.client, nil
	}

	config, err := getConfig(ctx, s)
	if err != nil {
		return nil, err
	}

	// Determine which server to use
	var serverURL string
	if config != nil && config.ElectrumURL != "" {
		// User explicitly configured a server
		serverURL = config.ElectrumURL
	} else {
		// Use a random server from the mainnet pool
		serverURL = getRandomServer()
		if serverURL == "" {
			return nil, fmt.Errorf("no default Electrum servers configured - please set electrum_url in config")
		}
	}

	b.Logger().Debug("connecting to Electrum server", "url", serverURL)
	client, err := electrum.NewClient(serverURL)
	if err != nil {
		b.Logger().Warn("failed to connect to Electrum server", "url", serverURL, "error", err)
		return nil, err
	}

	b.Logger().Info("connected to Electrum server", "url", serverURL)
	b.client = client
	return b.client, nil
}

const backendHelp = `
The Bitcoin secrets engine provides secure storage and management of Bitcoin
wallets for custodial operations.

A wallet may hold an HD seed or extended key, imported private keys,
watch-only keys or addresses, or a multisig configuration. The engine
supports:

  - Wallet creation and balance queries
  - Receiving with automatic address reuse prevention
  - Sending with fee estimation
  - PSBT (Partially Signed Bitcoin Transaction) for complex operations
  - UTXO management and consolidation

The engine operates on mainnet only; configure it with an Electrum server
URL, or leave it unset to use a random server from the built-in pool.

Endpoints:
  btc/wallets                     - List wallets
  btc/wallets/:name               - Wallet info and balance; delete a wallet
  btc/wallets/:name/import        - Import an existing seed, xprv, xpub, or multisig cosigner set
  btc/wallets/:name/addresses     - List/generate addresses
  btc/wallets/:name/utxos         - List UTXOs, optionally resyncing from Electrum
  btc/wallets/:name/qr            - QR code for receive address
  btc/wallets/:name/send          - Send bitcoin
  btc/wallets/:name/psbt/*        - PSBT create/sign/finalize operations
  btc/wallets/:name/consolidate   - Consolidate UTXOs into a single output
  btc/wallets/:name/scan          - Scan beyond derived addresses for untracked deposits
  btc/wallets/:name/bump-fee      - Bump a transaction's fee via RBF
  btc/wallets/:name/bump-child    - Bump a transaction's fee via CPFP
  btc/wallets/:name/multisig/cosigners - List or add multisig cosigners
  btc/wallets/:name/backup        - Export a password-encrypted wallet backup
  btc/wallets/restore             - Restore a wallet from an encrypted backup
  btc/wallets/:name/xpub          - Export the wallet's account-level extended public key
  btc/system/status               - Mount-wide wallet count and Electrum connectivity
  btc/system/reset                - Wipe every wallet, secret, and sync snapshot
`
