package primitives

import (
	"strings"

	"github.com/btcsuite/btcd/btcutil/bech32"
)

// EncodeSegwitAddress encodes a witness program as a bech32 (witver 0) or
// bech32m (witver 1+) address per BIP173/350.
func EncodeSegwitAddress(hrp string, witver byte, program []byte) (string, error) {
	converted, err := bech32.ConvertBits(program, 8, 5, true)
	if err != nil {
		return "", err
	}
	data := make([]byte, 0, len(converted)+1)
	data = append(data, witver)
	data = append(data, converted...)

	if witver == 0 {
		return bech32.Encode(hrp, data)
	}
	return bech32.EncodeM(hrp, data)
}

// DecodeSegwitAddress decodes a bech32/bech32m segwit address, rejecting
// mixed case per BIP173 and verifying the witness-version-to-encoding
// pairing (witver 0 must use bech32, witver>=1 must use bech32m).
func DecodeSegwitAddress(address string) (hrp string, witver byte, program []byte, err error) {
	if hasMixedCase(address) {
		return "", 0, nil, ErrMixedCase
	}

	lower := strings.ToLower(address)
	hrp, data, bechVersion, decErr := bech32.DecodeGeneric(lower)
	if decErr != nil {
		return "", 0, nil, decErr
	}
	if len(data) < 1 {
		return "", 0, nil, ErrInvalidLength
	}

	witver = data[0]
	program, err = bech32.ConvertBits(data[1:], 5, 8, false)
	if err != nil {
		return "", 0, nil, err
	}

	wantVersion := bech32.VersionBech32
	if witver != 0 {
		wantVersion = bech32.VersionBech32m
	}
	if bechVersion != wantVersion {
		return "", 0, nil, ErrInvalidChecksum
	}

	return hrp, witver, program, nil
}

func hasMixedCase(s string) bool {
	hasUpper, hasLower := false, false
	for _, r := range s {
		if r >= 'A' && r <= 'Z' {
			hasUpper = true
		}
		if r >= 'a' && r <= 'z' {
			hasLower = true
		}
	}
	return hasUpper && hasLower
}
