package mdoc

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"strings"
	"testing"

	"github.com/fxamacker/cbor/v2"
)

func fixtureRequestBytes(t *testing.T) []byte {
	t.Helper()
	wire := mdocRequestWire{}
	wire.DocRequests = append(wire.DocRequests, struct {
		ItemsRequest itemsRequestWire `cbor:"itemsRequest"`
	}{
		ItemsRequest: itemsRequestWire{
			DocType: "org.iso.18013.5.1.mDL",
			NameSpaces: map[string]map[string]bool{
				"org.iso.18013.5.1": {"family_name": false, "portrait": false},
			},
		},
	})
	b, err := cbor.Marshal(wire)
	if err != nil {
		t.Fatal(err)
	}
	return b
}

func TestHappyPathHolderSession(t *testing.T) {
	session, err := NewPresentationSession([]byte("fixture-mdoc-bytes"), []byte("device-key"), DualMode)
	if err != nil {
		t.Fatal(err)
	}

	if !strings.HasPrefix(session.QREngagementURI(), "mdoc:") {
		t.Fatalf("qrEngagementUri must start with mdoc:, got %q", session.QREngagementURI())
	}

	requests, err := session.HandleRequest(fixtureRequestBytes(t))
	if err != nil {
		t.Fatal(err)
	}
	if len(requests) != 1 || requests[0].DocType != "org.iso.18013.5.1.mDL" {
		t.Fatalf("unexpected requests: %+v", requests)
	}
	if len(requests[0].Namespaces["org.iso.18013.5.1"]) != 2 {
		t.Fatal("expected exactly two requested elements")
	}

	permitted := PermittedResponse{
		"org.iso.18013.5.1.mDL": {
			"org.iso.18013.5.1": {"family_name", "portrait"},
		},
	}
	payload, err := session.GenerateResponse(permitted)
	if err != nil {
		t.Fatal(err)
	}
	if len(payload) == 0 {
		t.Fatal("generateResponse must produce a non-empty payload")
	}

	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	der, err := signPayloadDER(priv, payload)
	if err != nil {
		t.Fatal(err)
	}

	response, err := session.SubmitResponse(der)
	if err != nil {
		t.Fatal(err)
	}
	if len(response) == 0 {
		t.Fatal("submitResponse must produce a non-empty final response")
	}
	if !session.Submitted() {
		t.Fatal("session must report Submitted() == true after submitResponse")
	}
}

func TestSecondHandleRequestIsDropped(t *testing.T) {
	session, err := NewPresentationSession([]byte("fixture-mdoc-bytes"), []byte("device-key"), DualMode)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := session.HandleRequest(fixtureRequestBytes(t)); err != nil {
		t.Fatal(err)
	}

	_, err = session.HandleRequest(fixtureRequestBytes(t))
	if err == nil {
		t.Fatal("expected the second handleRequest to be rejected")
	}
	if Classify(err) != Terminal {
		t.Fatal("AlreadyProcessed must classify as terminal (ProtocolViolation family)")
	}
}

func TestGenerateResponseRejectsElementsOutsideRequest(t *testing.T) {
	session, err := NewPresentationSession([]byte("fixture-mdoc-bytes"), []byte("device-key"), DualMode)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := session.HandleRequest(fixtureRequestBytes(t)); err != nil {
		t.Fatal(err)
	}

	permitted := PermittedResponse{
		"org.iso.18013.5.1.mDL": {
			"org.iso.18013.5.1": {"family_name", "document_number"},
		},
	}
	if _, err := session.GenerateResponse(permitted); err == nil {
		t.Fatal("expected rejection of an element never present in any ItemsRequest")
	}
}

func TestNFCDualModeRejected(t *testing.T) {
	if err := ValidateMode(EngagementNFC, DualMode); err == nil {
		t.Fatal("expected InvalidMode for NFC + DualMode")
	}
}

func TestNFCDefaultModeIsCentralOnly(t *testing.T) {
	if DefaultModeFor(EngagementNFC) != CentralOnly {
		t.Fatal("NFC default mode must be CentralOnly")
	}
	if DefaultModeFor(EngagementQR) != DualMode {
		t.Fatal("QR default mode must be DualMode")
	}
}
