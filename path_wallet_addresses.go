package btc

import (
	"context"
	"fmt"

	"github.com/hashicorp/vault/sdk/framework"
	"github.com/hashicorp/vault/sdk/logical"

	"github.com/dan/vault-plugin-secrets-btc/normalizer"
)

// pathWalletAddresses exposes address listing and on-demand generation over
// the CanonicalWalletRecord track, generalizing address_storage.go's
// storedAddress ledger (keyed by index under a fixed btcWallet.AddressType)
// to every wallet type's recordAddressSource.
func pathWalletAddresses(b *btcBackend) []*framework.Path {
	return []*framework.Path{
		{
			Pattern: "wallets/" + framework.GenericNameRegex("name") + "/addresses",
			DisplayAttrs: &framework.DisplayAttributes{
				OperationPrefix: "btc",
			},
			Fields: map[string]*framework.FieldSchema{
				"name":       {Type: framework.TypeLowerCaseString, Description: "Name of the wallet", Required: true},
				"pin":        {Type: framework.TypeString, Description: "PIN, required to derive a new address for a sign-capable wallet"},
				"passphrase": {Type: framework.TypeString, Description: "BIP39 passphrase, for wallets imported with one"},
				"is_change":  {Type: framework.TypeBool, Description: "Generate a change address instead of a receiving address", Default: false},
				"label":      {Type: framework.TypeString, Description: "Optional label to attach to the generated address"},
			},
			Operations: map[logical.Operation]framework.OperationHandler{
				logical.ReadOperation:   &framework.PathOperation{Callback: b.pathWalletAddressesList},
				logical.UpdateOperation: &framework.PathOperation{Callback: b.pathWalletAddressesGenerate},
				logical.CreateOperation: &framework.PathOperation{Callback: b.pathWalletAddressesGenerate},
			},
			ExistenceCheck:  b.pathWalletAddressesExistenceCheck,
			HelpSynopsis:    pathWalletAddressesHelpSynopsis,
			HelpDescription: pathWalletAddressesHelpDescription,
		},
	}
}

func (b *btcBackend) pathWalletAddressesExistenceCheck(ctx context.Context, req *logical.Request, data *framework.FieldData) (bool, error) {
	return false, nil
}

func (b *btcBackend) pathWalletAddressesList(ctx context.Context, req *logical.Request, data *framework.FieldData) (*logical.Response, error) {
	name := data.Get("name").(string)
	record, err := getRecord(ctx, req.Storage, name)
	if err != nil {
		return nil, err
	}
	if record == nil {
		return logical.ErrorResponse("wallet %q not found", name), nil
	}

	return &logical.Response{
		Data: map[string]interface{}{
			"receiving": record.AddressCache.Receiving,
			"change":    record.AddressCache.Change,
		},
	}, nil
}

func (b *btcBackend) pathWalletAddressesGenerate(ctx context.Context, req *logical.Request, data *framework.FieldData) (*logical.Response, error) {
	name := data.Get("name").(string)
	pin := data.Get("pin").(string)
	passphrase := data.Get("passphrase").(string)
	isChange := data.Get("is_change").(bool)
	label := data.Get("label").(string)

	result, err := b.coordinator.Submit("generate-address:"+name, func(ctx context.Context) (interface{}, error) {
		record, material, err := loadSigningRecord(ctx, req.Storage, name, pin, passphrase)
		if err != nil {
			return nil, err
		}
		if record == nil {
			return nil, nil
		}
		if !record.Capabilities.CanDerive {
			return nil, fmt.Errorf("wallet %q cannot derive new addresses", name)
		}
		if record.Capabilities.RequiresPin && pin == "" {
			return nil, fmt.Errorf("pin is required to derive a new address for this wallet")
		}

		source := newRecordAddressSource(record, material)
		var index uint32
		if isChange {
			index = uint32(record.AddressCache.LastDerivedChange + 1)
		} else {
			index = uint32(record.AddressCache.LastDerivedReceiving + 1)
		}

		addr, path, err := source.AddressAt(isChange, index)
		if err != nil {
			return nil, err
		}

		info := normalizer.AddressInfo{
			Address:  addr,
			Path:     path,
			Index:    index,
			IsChange: isChange,
			Type:     record.Derivation.ScriptType,
			Label:    label,
		}
		if isChange {
			record.AddressCache.Change = append(record.AddressCache.Change, info)
			record.AddressCache.LastDerivedChange = int32(index)
		} else {
			record.AddressCache.Receiving = append(record.AddressCache.Receiving, info)
			record.AddressCache.LastDerivedReceiving = int32(index)
		}

		if err := saveRecord(ctx, req.Storage, record); err != nil {
			return nil, fmt.Errorf("failed to persist generated address: %w", err)
		}
		return info, nil
	})
	if err != nil {
		return logical.ErrorResponse(err.Error()), nil
	}
	if result == nil {
		return logical.ErrorResponse("wallet %q not found", name), nil
	}
	info := result.(normalizer.AddressInfo)

	b.Logger().Info("address generated", "wallet", name, "is_change", isChange, "index", info.Index)

	return &logical.Response{
		Data: map[string]interface{}{
			"address":   info.Address,
			"path":      info.Path,
			"index":     info.Index,
			"is_change": info.IsChange,
			"type":      info.Type,
		},
	}, nil
}

const pathWalletAddressesHelpSynopsis = `
List cached addresses, or derive a new one.
`

const pathWalletAddressesHelpDescription = `
A read returns every address already cached on the wallet's record. A
write derives the next receiving (or, with is_change=true, change) address
and appends it to that cache. Wallets that require a pin (every sign-
capable type) require one here too, since deriving a new address for
those types means decrypting the wallet's signing material.

Example:
  $ vault read btc/wallets/my-wallet/addresses
  $ vault write btc/wallets/my-wallet/addresses pin=1234
`
