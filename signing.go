package mdoc

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/sha256"
	"encoding/asn1"
	"fmt"
	"math/big"
)

// p256RawSignatureSize is the IEEE-P1363 fixed-width encoding the mdoc wire
// format requires: two 32-byte big-endian integers (spec §4.H).
const p256RawSignatureSize = 64
const p256CoordinateSize = 32

// Signer is the external collaborator of spec §6: it never hands key
// material to the core, only a signature over the exact bytes it is given.
type Signer interface {
	// Sign computes ECDSA/SHA-256 over payload using a P-256 key and
	// returns the signature DER-encoded (ASN.1 SEQUENCE{r, s}).
	Sign(payload []byte) (der []byte, err error)
	Algorithm() string
	VerificationMethod() string
	JWK() string
}

type ecdsaSignatureASN1 struct {
	R, S *big.Int
}

// derToRaw converts an ASN.1 DER ECDSA signature to IEEE-P1363 fixed-width
// raw encoding (two 32-byte big-endian integers), as the mdoc COSE_Sign1
// wire format requires (spec §4.H).
func derToRaw(der []byte) ([]byte, error) {
	var sig ecdsaSignatureASN1
	rest, err := asn1.Unmarshal(der, &sig)
	if err != nil || len(rest) != 0 || sig.R == nil || sig.S == nil {
		return nil, &ProtoError{ErrSignatureEncoding}
	}
	raw := make([]byte, p256RawSignatureSize)
	sig.R.FillBytes(raw[:p256CoordinateSize])
	sig.S.FillBytes(raw[p256CoordinateSize:])
	return raw, nil
}

// rawToDER converts an IEEE-P1363 fixed-width raw ECDSA signature back to
// ASN.1 DER, in case a signer hands back raw bytes instead of DER.
func rawToDER(raw []byte) ([]byte, error) {
	if len(raw) != p256RawSignatureSize {
		return nil, &ProtoError{ErrSignatureEncoding}
	}
	r := new(big.Int).SetBytes(raw[:p256CoordinateSize])
	s := new(big.Int).SetBytes(raw[p256CoordinateSize:])
	return asn1.Marshal(ecdsaSignatureASN1{R: r, S: s})
}

// normalizeToRaw accepts either DER or already-raw encoding and returns the
// raw fixed-width form the response payload needs, failing with
// ErrSignatureEncoding for anything else (spec §4.H).
func normalizeToRaw(sig []byte) ([]byte, error) {
	if len(sig) == p256RawSignatureSize {
		return sig, nil
	}
	if raw, err := derToRaw(sig); err == nil {
		return raw, nil
	}
	return nil, &ProtoError{ErrSignatureEncoding}
}

// verifyRaw checks a raw fixed-width ECDSA/P-256 signature over payload
// against pub, used only by tests to confirm generateResponse/submitResponse
// round-trips against a real key (spec §8 round-trip property).
func verifyRaw(pub *ecdsa.PublicKey, payload, raw []byte) error {
	if pub.Curve != elliptic.P256() {
		return fmt.Errorf("unexpected curve %s", pub.Curve.Params().Name)
	}
	if len(raw) != p256RawSignatureSize {
		return &ProtoError{ErrSignatureEncoding}
	}
	r := new(big.Int).SetBytes(raw[:p256CoordinateSize])
	s := new(big.Int).SetBytes(raw[p256CoordinateSize:])
	digest := sha256.Sum256(payload)
	if !ecdsa.Verify(pub, digest[:], r, s) {
		return fmt.Errorf("signature does not verify")
	}
	return nil
}
