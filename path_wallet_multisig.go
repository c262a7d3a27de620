package btc

import (
	"context"
	"fmt"

	"github.com/hashicorp/vault/sdk/framework"
	"github.com/hashicorp/vault/sdk/logical"

	"github.com/dan/vault-plugin-secrets-btc/normalizer"
)

// pathWalletMultisig manages cosigners on a multisig wallet record,
// generalizing the teacher's single-xpub BIP32 export (path_wallet_xpub.go)
// to an n-party configuration.
func pathWalletMultisig(b *btcBackend) []*framework.Path {
	return []*framework.Path{
		{
			Pattern: "wallets/" + framework.GenericNameRegex("name") + "/multisig/cosigners",
			DisplayAttrs: &framework.DisplayAttributes{
				OperationPrefix: "btc",
			},
			Fields: map[string]*framework.FieldSchema{
				"name":            {Type: framework.TypeLowerCaseString, Description: "Name of the wallet", Required: true},
				"cosigner_name":   {Type: framework.TypeString, Description: "Human-readable cosigner label"},
				"fingerprint":     {Type: framework.TypeString, Description: "Cosigner's BIP32 master fingerprint", Required: true},
				"xpub":            {Type: framework.TypeString, Description: "Cosigner's extended public key", Required: true},
				"derivation_path": {Type: framework.TypeString, Description: "Cosigner's derivation path"},
			},
			Operations: map[logical.Operation]framework.OperationHandler{
				logical.ReadOperation:   &framework.PathOperation{Callback: b.pathWalletMultisigCosignersRead},
				logical.UpdateOperation: &framework.PathOperation{Callback: b.pathWalletMultisigCosignerAdd},
				logical.CreateOperation: &framework.PathOperation{Callback: b.pathWalletMultisigCosignerAdd},
			},
			HelpSynopsis:    pathWalletMultisigHelpSynopsis,
			HelpDescription: pathWalletMultisigHelpDescription,
		},
	}
}

func (b *btcBackend) pathWalletMultisigCosignersRead(ctx context.Context, req *logical.Request, data *framework.FieldData) (*logical.Response, error) {
	name := data.Get("name").(string)

	record, err := getRecord(ctx, req.Storage, name)
	if err != nil {
		return nil, err
	}
	if record == nil {
		return logical.ErrorResponse("wallet %q not found", name), nil
	}
	if record.Type != normalizer.TypeMultisig || record.Multisig == nil {
		return logical.ErrorResponse("wallet %q is not a multisig wallet", name), nil
	}

	return &logical.Response{
		Data: map[string]interface{}{
			"m":         record.Multisig.M,
			"n":         record.Multisig.N,
			"cosigners": record.Multisig.Cosigners,
		},
	}, nil
}

func (b *btcBackend) pathWalletMultisigCosignerAdd(ctx context.Context, req *logical.Request, data *framework.FieldData) (*logical.Response, error) {
	name := data.Get("name").(string)

	record, err := getRecord(ctx, req.Storage, name)
	if err != nil {
		return nil, err
	}
	if record == nil {
		return logical.ErrorResponse("wallet %q not found", name), nil
	}
	if record.Type != normalizer.TypeMultisig || record.Multisig == nil {
		return logical.ErrorResponse("wallet %q is not a multisig wallet", name), nil
	}

	fingerprint := data.Get("fingerprint").(string)
	xpub := data.Get("xpub").(string)
	if fingerprint == "" || xpub == "" {
		return logical.ErrorResponse("fingerprint and xpub are required"), nil
	}

	for _, c := range record.Multisig.Cosigners {
		if c.Fingerprint == fingerprint {
			return logical.ErrorResponse("a cosigner with fingerprint %q is already present", fingerprint), nil
		}
	}
	if len(record.Multisig.Cosigners) >= record.Multisig.N {
		return logical.ErrorResponse("wallet %q already has its full complement of %d cosigners", name, record.Multisig.N), nil
	}

	record.Multisig.Cosigners = append(record.Multisig.Cosigners, normalizer.CosignerInfo{
		ID:             normalizer.NewID(),
		Name:           data.Get("cosigner_name").(string),
		Fingerprint:    fingerprint,
		Xpub:           xpub,
		DerivationPath: data.Get("derivation_path").(string),
	})

	if err := saveRecord(ctx, req.Storage, record); err != nil {
		return nil, fmt.Errorf("failed to save wallet record: %w", err)
	}

	b.Logger().Info("multisig cosigner added", "wallet", name, "fingerprint", fingerprint)

	return &logical.Response{
		Data: map[string]interface{}{
			"cosigners_total":   len(record.Multisig.Cosigners),
			"cosigners_needed":  record.Multisig.N,
			"ready_to_activate": len(record.Multisig.Cosigners) == record.Multisig.N,
		},
	}, nil
}

const pathWalletMultisigHelpSynopsis = `
Manage cosigners on a multisig wallet.
`

const pathWalletMultisigHelpDescription = `
This endpoint reads or adds cosigners to a multisig wallet created via
wallets/<name>/import with format=multisig.

Example:
  $ vault write btc/wallets/my-multisig/multisig/cosigners \
      fingerprint=ab12cd34 xpub=xpub6... cosigner_name=alice
`
