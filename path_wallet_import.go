package btc

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hashicorp/vault/sdk/framework"
	"github.com/hashicorp/vault/sdk/logical"

	"github.com/dan/vault-plugin-secrets-btc/keyderivation"
	"github.com/dan/vault-plugin-secrets-btc/normalizer"
	"github.com/dan/vault-plugin-secrets-btc/secretvault"
)

// pathWalletImport exposes normalizer.Import over the HTTP surface,
// generalizing pathWalletsCreate (path_wallets.go) from a single seed/
// script-type shape to every §6.3 import format.
func pathWalletImport(b *btcBackend) []*framework.Path {
	return []*framework.Path{
		{
			Pattern: "wallets/" + framework.GenericNameRegex("name") + "/import",
			DisplayAttrs: &framework.DisplayAttributes{
				OperationPrefix: "btc",
			},
			Fields: map[string]*framework.FieldSchema{
				"name":   {Type: framework.TypeLowerCaseString, Description: "Name of the wallet", Required: true},
				"format": {Type: framework.TypeString, Description: "Import format (mnemonic, xprv, seed_hex, descriptor, electrum_seed, wif, wif_list, xpub, address_list, multisig)", Required: true},
				"pin":    {Type: framework.TypeString, Description: "PIN protecting any signing secret this import carries"},

				"script_type": {Type: framework.TypeString, Description: "Script type override (p2pkh, p2sh-p2wpkh, p2wpkh, p2tr, p2wsh, p2sh-p2wsh)"},
				"mnemonic":    {Type: framework.TypeString, Description: "BIP39 mnemonic phrase"},
				"passphrase":  {Type: framework.TypeString, Description: "BIP39 passphrase"},
				"xprv":        {Type: framework.TypeString, Description: "Extended private key"},
				"seed_hex":    {Type: framework.TypeString, Description: "Hex-encoded seed"},
				"descriptor":  {Type: framework.TypeString, Description: "Output descriptor"},

				"electrum_seed":       {Type: framework.TypeString, Description: "Electrum seed phrase"},
				"electrum_passphrase": {Type: framework.TypeString, Description: "Electrum seed passphrase"},

				"wif":      {Type: framework.TypeString, Description: "WIF-encoded private key"},
				"wif_list": {Type: framework.TypeCommaStringSlice, Description: "List of WIF-encoded private keys"},
				"xpub":     {Type: framework.TypeString, Description: "Extended public key (watch-only)"},

				"addresses": {Type: framework.TypeCommaStringSlice, Description: "List of watch-only addresses"},

				"multisig_m":          {Type: framework.TypeInt, Description: "Multisig signature threshold"},
				"multisig_sorted":     {Type: framework.TypeBool, Description: "Use BIP67 lexicographic key sorting", Default: true},
				"multisig_derivation": {Type: framework.TypeString, Description: "Shared multisig derivation path"},
				"multisig_cosigners":  {Type: framework.TypeString, Description: "JSON array of cosigner xpubs/fingerprints"},
			},
			Operations: map[logical.Operation]framework.OperationHandler{
				logical.CreateOperation: &framework.PathOperation{Callback: b.pathWalletImportWrite},
				logical.UpdateOperation: &framework.PathOperation{Callback: b.pathWalletImportWrite},
			},
			ExistenceCheck:  b.pathWalletImportExistenceCheck,
			HelpSynopsis:    pathWalletImportHelpSynopsis,
			HelpDescription: pathWalletImportHelpDescription,
		},
	}
}

func (b *btcBackend) pathWalletImportExistenceCheck(ctx context.Context, req *logical.Request, data *framework.FieldData) (bool, error) {
	return false, nil
}

func (b *btcBackend) pathWalletImportWrite(ctx context.Context, req *logical.Request, data *framework.FieldData) (*logical.Response, error) {
	name := data.Get("name").(string)
	pin := data.Get("pin").(string)

	existing, err := getRecord(ctx, req.Storage, name)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return logical.ErrorResponse("wallet %q already exists", name), nil
	}

	payload := normalizer.Payload{
		Format:             normalizer.Format(data.Get("format").(string)),
		Name:               name,
		ScriptType:         scriptTypeFromField(data.Get("script_type").(string)),
		Mnemonic:           data.Get("mnemonic").(string),
		Passphrase:         data.Get("passphrase").(string),
		ExtendedKey:        data.Get("xprv").(string),
		SeedHex:            data.Get("seed_hex").(string),
		Descriptor:         data.Get("descriptor").(string),
		ElectrumSeed:       data.Get("electrum_seed").(string),
		ElectrumPassphrase: data.Get("electrum_passphrase").(string),
		WIF:                data.Get("wif").(string),
		WIFList:            data.Get("wif_list").([]string),
		Xpub:               data.Get("xpub").(string),
		Addresses:          data.Get("addresses").([]string),
	}

	if payload.Format == normalizer.FormatMultisig {
		var cosigners []normalizer.CosignerInfo
		if raw := data.Get("multisig_cosigners").(string); raw != "" {
			if err := json.Unmarshal([]byte(raw), &cosigners); err != nil {
				return logical.ErrorResponse("invalid multisig_cosigners JSON: %s", err.Error()), nil
			}
		}
		payload.Multisig = &normalizer.MultisigImport{
			M:              data.Get("multisig_m").(int),
			ScriptType:     payload.ScriptType,
			SortedKeys:     data.Get("multisig_sorted").(bool),
			DerivationPath: data.Get("multisig_derivation").(string),
			Cosigners:      cosigners,
		}
	}

	result, err := normalizer.Import(payload)
	if err != nil {
		return logical.ErrorResponse("import failed: %s", err.Error()), nil
	}

	if len(result.Secret) > 0 {
		if pin == "" {
			return logical.ErrorResponse("pin is required to protect this wallet's signing material"), nil
		}
		entry, err := secretvault.Store(result.Record.ID, result.Secret, result.SecretType, pin)
		if err != nil {
			return nil, fmt.Errorf("failed to encrypt wallet secret: %w", err)
		}
		if err := saveRecordSecret(ctx, req.Storage, result.Record.ID, entry); err != nil {
			return nil, err
		}
		secretID := result.Record.ID
		result.Record.SecretID = &secretID
	}

	if err := saveRecord(ctx, req.Storage, result.Record); err != nil {
		return nil, fmt.Errorf("failed to save wallet record: %w", err)
	}

	b.Logger().Info("wallet imported", "name", name, "type", result.Record.Type)

	return &logical.Response{
		Data: map[string]interface{}{
			"name":         result.Record.Name,
			"id":           result.Record.ID,
			"type":         result.Record.Type,
			"capabilities": result.Record.Capabilities,
		},
	}, nil
}

func scriptTypeFromField(s string) keyderivation.ScriptType {
	return keyderivation.ScriptType(s)
}

const pathWalletImportHelpSynopsis = `
Import a wallet from any supported key material format.
`

const pathWalletImportHelpDescription = `
This endpoint imports a wallet from one of the formats a self-custodial
client can hold: an HD mnemonic, an extended private key, a raw seed, an
output descriptor, an Electrum seed phrase, a WIF key or list of keys, a
watch-only xpub, a watch-only address list, or a multisig configuration.

Example:
  $ vault write btc/wallets/my-wallet/import \
      format=mnemonic \
      mnemonic="abandon abandon ... about" \
      pin=1234

Formats that carry signing material (mnemonic, xprv, seed_hex,
electrum_seed, wif, wif_list) require a pin to encrypt that material at
rest. Watch-only formats (xpub, address_list, a watch-only descriptor) and
watch-only multisig configurations do not.
`
