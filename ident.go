package mdoc

import (
	"crypto/sha256"
	"crypto/subtle"
)

// identSize is the fixed length of the BLE Ident characteristic (spec §6).
const identSize = 16

// Ident is the 16-byte identifier the central uses to pick its peripheral
// out of several matching advertisements (spec §4.A/§4.E).
type Ident [identSize]byte

// deriveIdent derives the BLE ident deterministically from the session
// transcript, the same way the teacher derives a stable BLE/SQS queue UUID
// from the pairing secret's public key in pair.go's DeriveUUID: hash the
// transcript and truncate to the wire size, rather than mint a random
// value that would need to be transmitted out of band.
func deriveIdent(sessionTranscript []byte) Ident {
	digest := sha256.Sum256(sessionTranscript)
	var id Ident
	copy(id[:], digest[:identSize])
	return id
}

// Equal compares two idents in constant time (spec §4.A).
func (id Ident) Equal(other Ident) bool {
	return subtle.ConstantTimeCompare(id[:], other[:]) == 1
}

func (id Ident) Bytes() []byte {
	b := make([]byte, identSize)
	copy(b, id[:])
	return b
}

func identFromBytes(b []byte) (id Ident, ok bool) {
	if len(b) != identSize {
		return Ident{}, false
	}
	copy(id[:], b)
	return id, true
}
