package mdoc

import (
	"strings"
	"testing"
)

func TestQREngagementURIStartsWithScheme(t *testing.T) {
	ident := deriveIdent([]byte("fixture-transcript"))
	de := buildDeviceEngagement(ident, []byte("device-key"), DualMode, nil)
	uri, err := qrEngagementURI(de)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(uri, "mdoc:") {
		t.Fatalf("expected mdoc: prefix, got %q", uri)
	}
}

func TestQREngagementURIDeterministic(t *testing.T) {
	ident := deriveIdent([]byte("fixture-transcript"))
	de1 := buildDeviceEngagement(ident, []byte("device-key"), DualMode, nil)
	de2 := buildDeviceEngagement(ident, []byte("device-key"), DualMode, nil)

	uri1, err := qrEngagementURI(de1)
	if err != nil {
		t.Fatal(err)
	}
	uri2, err := qrEngagementURI(de2)
	if err != nil {
		t.Fatal(err)
	}
	if uri1 != uri2 {
		t.Fatal("identical engagement values must yield an identical URI")
	}
}

func TestDeviceEngagementRoundTrip(t *testing.T) {
	ident := deriveIdent([]byte("fixture-transcript"))
	de := buildDeviceEngagement(ident, []byte("device-key"), DualMode, nil)
	uri, err := qrEngagementURI(de)
	if err != nil {
		t.Fatal(err)
	}

	got, err := parseDeviceEngagement(uri)
	if err != nil {
		t.Fatal(err)
	}
	if got.Version != deviceEngagementVersion {
		t.Fatalf("version = %q, want %q", got.Version, deviceEngagementVersion)
	}
	if len(got.RetrievalMethods) != 1 {
		t.Fatalf("expected exactly one retrieval method, got %d", len(got.RetrievalMethods))
	}
}

func TestParseEngagementURIExposesIdentAndRoles(t *testing.T) {
	ident := deriveIdent([]byte("fixture-transcript"))
	de := buildDeviceEngagement(ident, []byte("device-key"), CentralOnly, nil)
	uri, err := qrEngagementURI(de)
	if err != nil {
		t.Fatal(err)
	}

	parsed, err := ParseEngagementURI(uri)
	if err != nil {
		t.Fatal(err)
	}
	if !parsed.Ident.Equal(ident) {
		t.Fatal("parsed ident must match the derived ident")
	}
	if parsed.SupportsPeripheral {
		t.Fatal("CentralOnly engagement must not advertise a peripheral server")
	}
	if !parsed.SupportsCentral {
		t.Fatal("CentralOnly engagement must advertise a central client")
	}
}

func TestParseDeviceEngagementRejectsMissingScheme(t *testing.T) {
	if _, err := parseDeviceEngagement("not-an-mdoc-uri"); err == nil {
		t.Fatal("expected MalformedEngagement for a URI without the mdoc: scheme")
	}
}

func TestParseDeviceEngagementRejectsGarbageCBOR(t *testing.T) {
	if _, err := parseDeviceEngagement("mdoc:not-valid-base64url-cbor!!"); err == nil {
		t.Fatal("expected MalformedEngagement for undecodable payload")
	}
}
