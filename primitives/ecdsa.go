package primitives

import (
	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
)

// SignECDSA produces a deterministic (RFC6979) ECDSA signature over hash
// using priv, DER-encoded.
func SignECDSA(priv *btcec.PrivateKey, hash []byte) []byte {
	sig := ecdsa.Sign(priv, hash)
	return sig.Serialize()
}

// VerifyECDSA verifies a DER-encoded ECDSA signature over hash against pub.
func VerifyECDSA(pub *btcec.PublicKey, hash, sigDER []byte) bool {
	sig, err := ecdsa.ParseDERSignature(sigDER)
	if err != nil {
		return false
	}
	return sig.Verify(hash, pub)
}

// SignSchnorr produces a BIP340 Schnorr signature over hash using priv.
// The hash passed in must already be the tagged hash the caller wants
// signed (e.g. the taproot sighash) — this wrapper does not apply a BIP340
// application tag itself, callers needing one use TaggedHash below.
func SignSchnorr(priv *btcec.PrivateKey, hash []byte) ([]byte, error) {
	sig, err := schnorr.Sign(priv, hash)
	if err != nil {
		return nil, err
	}
	return sig.Serialize(), nil
}

// VerifySchnorr verifies a BIP340 Schnorr signature over hash against the
// x-only public key pub.
func VerifySchnorr(pub *btcec.PublicKey, hash, sig []byte) bool {
	parsed, err := schnorr.ParseSignature(sig)
	if err != nil {
		return false
	}
	return parsed.Verify(hash, pub)
}

// TaggedHash implements BIP340's tagged hash construction:
// SHA256(SHA256(tag) || SHA256(tag) || msg).
func TaggedHash(tag string, msg []byte) []byte {
	tagHash := SHA256([]byte(tag))
	buf := make([]byte, 0, len(tagHash)*2+len(msg))
	buf = append(buf, tagHash...)
	buf = append(buf, tagHash...)
	buf = append(buf, msg...)
	return SHA256(buf)
}
