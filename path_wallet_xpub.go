package btc

import (
	"context"
	"fmt"

	"github.com/hashicorp/vault/sdk/framework"
	"github.com/hashicorp/vault/sdk/logical"

	"github.com/dan/vault-plugin-secrets-btc/keyderivation"
)

// pathWalletXpub exports a wallet's account-level extended public key,
// generalizing path_wallet_xpub.go's single-seed GetAccountXpub to every
// derivable wallet type's resolved key material.
func pathWalletXpub(b *btcBackend) []*framework.Path {
	return []*framework.Path{
		{
			Pattern: "wallets/" + framework.GenericNameRegex("name") + "/xpub",
			DisplayAttrs: &framework.DisplayAttributes{
				OperationPrefix: "btc",
			},
			Fields: map[string]*framework.FieldSchema{
				"name":       {Type: framework.TypeLowerCaseString, Description: "Name of the wallet", Required: true},
				"pin":        {Type: framework.TypeString, Description: "PIN, required to export an xpub from a pin-protected wallet"},
				"passphrase": {Type: framework.TypeString, Description: "BIP39 passphrase, for wallets imported with one"},
			},
			Operations: map[logical.Operation]framework.OperationHandler{
				logical.ReadOperation: &framework.PathOperation{Callback: b.pathWalletXpubRead},
			},
			HelpSynopsis:    pathWalletXpubHelpSynopsis,
			HelpDescription: pathWalletXpubHelpDescription,
		},
	}
}

func (b *btcBackend) pathWalletXpubRead(ctx context.Context, req *logical.Request, data *framework.FieldData) (*logical.Response, error) {
	name := data.Get("name").(string)
	pin := data.Get("pin").(string)
	passphrase := data.Get("passphrase").(string)

	record, material, err := loadSigningRecord(ctx, req.Storage, name, pin, passphrase)
	if err != nil {
		return logical.ErrorResponse(err.Error()), nil
	}
	if record == nil {
		return logical.ErrorResponse("wallet %q not found", name), nil
	}
	if !record.Capabilities.CanExportXpub {
		return logical.ErrorResponse("wallet %q does not support xpub export", name), nil
	}
	if material == nil || material.hdKey == nil {
		return logical.ErrorResponse("wallet %q has no derivable account key", name), nil
	}

	xpub, err := keyderivation.NeuterToXpubString(material.hdKey)
	if err != nil {
		return nil, fmt.Errorf("failed to derive xpub: %w", err)
	}

	scriptType := record.Derivation.ScriptType
	path := keyderivation.DerivationPath(record.Derivation.Preset, record.Derivation.AccountIndex, 0, 0, scriptType)
	path = path[:len(path)-4] // strip the trailing "/0/0" index component, leaving the account-level path

	var scriptKind string
	closing := ")"
	switch scriptType {
	case keyderivation.ScriptP2WPKH:
		scriptKind = "wpkh"
	case keyderivation.ScriptP2SHP2WPKH:
		scriptKind = "sh(wpkh"
		closing = "))"
	case keyderivation.ScriptP2TR:
		scriptKind = "tr"
	default:
		scriptKind = "pkh"
	}

	fingerprint := keyderivation.Fingerprint(material.hdKey)
	descriptor := fmt.Sprintf("%s([%08x%s]%s/<0;1>/*%s", scriptKind, fingerprint, path[1:], xpub, closing)

	b.Logger().Debug("xpub exported", "wallet", name)

	return &logical.Response{
		Data: map[string]interface{}{
			"xpub":            xpub,
			"script_type":     scriptType,
			"derivation_path": path,
			"descriptor":      descriptor,
		},
	}, nil
}

const pathWalletXpubHelpSynopsis = `
Export the wallet's account-level extended public key.
`

const pathWalletXpubHelpDescription = `
This endpoint exports the account-level extended public key in the
standard xpub encoding (no SLIP-0132 ypub/zpub version is applied,
whatever the wallet's script type) and an output descriptor
template suitable for importing the wallet as watch-only into external
software such as Sparrow.

Example:
  $ vault read btc/wallets/my-wallet/xpub pin=1234
`
