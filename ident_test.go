package mdoc

import "testing"

func TestDeriveIdentDeterministic(t *testing.T) {
	transcript := []byte("session-transcript-fixture")
	a := deriveIdent(transcript)
	b := deriveIdent(transcript)
	if !a.Equal(b) {
		t.Fatal("deriveIdent must be deterministic for identical inputs")
	}
}

func TestDeriveIdentDiffers(t *testing.T) {
	a := deriveIdent([]byte("one"))
	b := deriveIdent([]byte("two"))
	if a.Equal(b) {
		t.Fatal("different transcripts must not collide")
	}
}

func TestIdentRoundTripBytes(t *testing.T) {
	id := deriveIdent([]byte("round-trip"))
	got, ok := identFromBytes(id.Bytes())
	if !ok {
		t.Fatal("identFromBytes rejected a valid 16-byte ident")
	}
	if !got.Equal(id) {
		t.Fatal("round trip through Bytes()/identFromBytes changed the ident")
	}
}

func TestIdentFromBytesRejectsWrongLength(t *testing.T) {
	if _, ok := identFromBytes([]byte{1, 2, 3}); ok {
		t.Fatal("identFromBytes must reject a short slice")
	}
}
