package txbuilder

import (
	"fmt"
	"net/url"
	"strconv"
)

// PaymentURI is a parsed BIP21 "bitcoin:" URI.
type PaymentURI struct {
	Address string
	// AmountSats is 0 when the URI carried no amount parameter.
	AmountSats int64
	Label      string
	Message    string
}

// ParseBIP21 parses a "bitcoin:<address>?amount=...&label=...&message=..."
// URI, extending path_wallet_qr.go's one-directional fmt.Sprintf("bitcoin:%s",
// addr) construction into a full round trip.
func ParseBIP21(uri string) (*PaymentURI, error) {
	u, err := url.Parse(uri)
	if err != nil {
		return nil, fmt.Errorf("invalid payment URI: %w", err)
	}
	if u.Scheme != "bitcoin" {
		return nil, fmt.Errorf("not a bitcoin: URI")
	}

	address := u.Opaque
	if address == "" {
		address = u.Path
	}
	if address == "" {
		return nil, fmt.Errorf("payment URI has no address")
	}

	query := u.Query()
	// When the URI is of the form bitcoin:addr?amount=1, url.Parse puts
	// "addr?amount=1" into Opaque; split off the query manually.
	if idx := indexByte(address, '?'); idx >= 0 {
		if query, err = url.ParseQuery(address[idx+1:]); err != nil {
			return nil, fmt.Errorf("invalid payment URI query: %w", err)
		}
		address = address[:idx]
	}

	result := &PaymentURI{
		Address: address,
		Label:   query.Get("label"),
		Message: query.Get("message"),
	}

	if amount := query.Get("amount"); amount != "" {
		btc, err := strconv.ParseFloat(amount, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid amount %q: %w", amount, err)
		}
		result.AmountSats = int64(btc*1e8 + 0.5)
	}

	return result, nil
}

func indexByte(s string, b byte) int {
	for i := 0; i < len(s); i++ {
		if s[i] == b {
			return i
		}
	}
	return -1
}

// CreateBIP21Options are the optional parameters a BIP21 URI can carry.
type CreateBIP21Options struct {
	AmountSats int64
	Label      string
	Message    string
}

// CreateBIP21 builds a "bitcoin:" payment URI for address, with any of
// amount/label/message included when set. Callers should validate address
// with keyderivation.ValidateAddress before calling this.
func CreateBIP21(address string, opts CreateBIP21Options) string {
	values := url.Values{}
	if opts.AmountSats > 0 {
		values.Set("amount", formatBTC(opts.AmountSats))
	}
	if opts.Label != "" {
		values.Set("label", opts.Label)
	}
	if opts.Message != "" {
		values.Set("message", opts.Message)
	}

	uri := "bitcoin:" + address
	if encoded := values.Encode(); encoded != "" {
		uri += "?" + encoded
	}
	return uri
}

// formatBTC renders a satoshi amount as a BTC decimal string with no
// trailing zeros, matching how wallets commonly encode BIP21 amounts.
func formatBTC(sats int64) string {
	whole := sats / 1e8
	frac := sats % 1e8
	s := strconv.FormatInt(whole, 10) + "." + fmt.Sprintf("%08d", frac)
	for len(s) > 0 && s[len(s)-1] == '0' {
		s = s[:len(s)-1]
	}
	if len(s) > 0 && s[len(s)-1] == '.' {
		s = s[:len(s)-1]
	}
	return s
}
