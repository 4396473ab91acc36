package mdoc

import (
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/blang/semver"
	"github.com/fxamacker/cbor/v2"
	"github.com/skip2/go-qrcode"
)

// deviceEngagementVersion is the only version this core produces (ISO
// 18013-5 §8.2.2.1).
const deviceEngagementVersion = "1.0"

// EngagementVersion is the semantic version this core's engagement format
// corresponds to (spec_full.md §4 supplement #2). Mirrors the teacher's
// enclaveVersion capability checks (krd/enclave_client.go), ported from
// the protocol's own version field to this one.
var EngagementVersion = semver.MustParse("1.0.0")

// parseEngagementVersion tolerates the ISO field's two-component
// "major.minor" form, which blang/semver's strict Parse otherwise rejects.
func parseEngagementVersion(s string) (semver.Version, error) {
	if strings.Count(s, ".") == 1 {
		s += ".0"
	}
	return semver.Parse(s)
}

// supportedEngagementVersion reports whether v is within this core's
// accepted capability range: same major version as EngagementVersion, and
// no newer than it — a future minor/patch bump this core predates is
// rejected rather than silently misparsed.
func supportedEngagementVersion(v semver.Version) bool {
	return v.Major == EngagementVersion.Major && !v.GT(EngagementVersion)
}

// retrieval method type/version constants for the BLE carrier (§8.2.2.1
// table 7/8).
const (
	retrievalMethodTypeBLE    = 2
	retrievalMethodVersionBLE = 1
)

// bleOptionKeys are the integer map keys of the BLE retrieval-method
// options CBOR map (§8.2.2.1 table 8).
const (
	bleOptionSupportsPeripheralServer = 0
	bleOptionSupportsCentralClient    = 1
	bleOptionPeripheralServerUUID     = 10
	bleOptionCentralClientUUID        = 11
	bleOptionPeripheralServerMAC      = 20
)

// deviceRetrievalMethod is one element of the DeviceRetrievalMethods array:
// [type, version, options].
type deviceRetrievalMethod struct {
	_       struct{} `cbor:",toarray"`
	Type    int
	Version int
	Options bleOptions
}

// bleOptions is the retrieval-method options map, keyed by the integer
// constants above rather than a struct so both server and client UUID
// entries are emitted only when that role is actually active.
type bleOptions map[int]interface{}

// securityInfo is DeviceEngagement's Security element: [cipherSuiteIdent,
// eDeviceKeyBytes]. This core treats eDeviceKey as an opaque blob handed in
// by the collaborator that owns key material; it is never generated here.
type securityInfo struct {
	_               struct{} `cbor:",toarray"`
	CipherSuite     int
	EDeviceKeyBytes []byte
}

// deviceEngagement is the top-level CBOR map of ISO 18013-5 §8.2.2.1,
// restricted to the fields this core populates (version, security, BLE
// retrieval methods). Map keys are the spec's integer keys 0/1/2.
type deviceEngagement struct {
	Version          string                  `cbor:"0,keyasint"`
	Security         securityInfo            `cbor:"1,keyasint"`
	RetrievalMethods []deviceRetrievalMethod `cbor:"2,keyasint"`
}

// buildDeviceEngagement assembles the CBOR structure for the session's
// carrier descriptors and opaque eDeviceKey material (spec §4.H
// qrEngagementUri / §3 CarrierDescriptor).
func buildDeviceEngagement(ident Ident, eDeviceKeyBytes []byte, mode PresentationMode, psm *uint16) deviceEngagement {
	opts := bleOptions{
		bleOptionSupportsPeripheralServer: mode != CentralOnly,
		bleOptionSupportsCentralClient:    mode != PeripheralOnly,
	}
	if mode != CentralOnly {
		opts[bleOptionPeripheralServerUUID] = ident.Bytes()
	}
	if mode != PeripheralOnly {
		opts[bleOptionCentralClientUUID] = ident.Bytes()
	}
	_ = psm // PSM is advertised via the GATT characteristic, not engagement (§4.D)

	return deviceEngagement{
		Version: deviceEngagementVersion,
		Security: securityInfo{
			CipherSuite:     1,
			EDeviceKeyBytes: eDeviceKeyBytes,
		},
		RetrievalMethods: []deviceRetrievalMethod{
			{
				Type:    retrievalMethodTypeBLE,
				Version: retrievalMethodVersionBLE,
				Options: opts,
			},
		},
	}
}

// qrEngagementURI encodes engagement as CBOR, base64url (no padding), and
// prefixes the `mdoc:` scheme (spec §4.H, §6). Deterministic: identical
// engagement values always yield an identical URI, since the encoding uses
// the core deterministic CBOR options, which sort map keys — bleOptions is a
// Go map, whose iteration order would otherwise vary from call to call. This
// is the spec §8 invariant it underpins.
func qrEngagementURI(de deviceEngagement) (string, error) {
	em, err := cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		return "", fmt.Errorf("encoding device engagement: %w", &ProtoError{ErrMalformedEngagement})
	}
	encoded, err := em.Marshal(de)
	if err != nil {
		return "", fmt.Errorf("encoding device engagement: %w", &ProtoError{ErrMalformedEngagement})
	}
	return "mdoc:" + base64.RawURLEncoding.EncodeToString(encoded), nil
}

// parseDeviceEngagement decodes a qrEngagementURI back into its structure,
// used by the reader-side facade and by tests validating the round trip.
func parseDeviceEngagement(uri string) (deviceEngagement, error) {
	const scheme = "mdoc:"
	if len(uri) <= len(scheme) || uri[:len(scheme)] != scheme {
		return deviceEngagement{}, &ProtoError{ErrMalformedEngagement}
	}
	raw, err := base64.RawURLEncoding.DecodeString(uri[len(scheme):])
	if err != nil {
		return deviceEngagement{}, &ProtoError{ErrMalformedEngagement}
	}
	var de deviceEngagement
	if err := cbor.Unmarshal(raw, &de); err != nil {
		return deviceEngagement{}, &ProtoError{ErrMalformedEngagement}
	}
	return de, nil
}

// ParsedEngagement is the reader-facing view of a scanned engagement URI:
// just enough to stand up the matching transport role (spec §4.I mirror
// flow), without exposing the internal CBOR shape.
type ParsedEngagement struct {
	Ident            Ident
	SupportsCentral  bool
	SupportsPeripheral bool
}

// ParseEngagementURI decodes a holder-produced qrEngagementUri for reader
// use (spec §6: "consumed by any reader"). A version this core predates is
// rejected outright; a retrieval method this core doesn't recognize is
// soft-skipped (logged, not fatal) rather than aborting the whole parse,
// since a future carrier type must not break a BLE-only reader
// (spec_full.md §4 supplement #2).
func ParseEngagementURI(uri string) (ParsedEngagement, error) {
	de, err := parseDeviceEngagement(uri)
	if err != nil {
		return ParsedEngagement{}, err
	}

	version, err := parseEngagementVersion(de.Version)
	if err != nil || !supportedEngagementVersion(version) {
		return ParsedEngagement{}, &ProtoError{ErrUnsupportedEngagementVersion}
	}
	if len(de.RetrievalMethods) == 0 {
		return ParsedEngagement{}, &ProtoError{ErrMalformedEngagement}
	}

	var ident Ident
	var identOK bool
	var supportsCentral, supportsPeripheral bool
	for _, rm := range de.RetrievalMethods {
		if rm.Type != retrievalMethodTypeBLE {
			log.Warning(fmt.Sprintf("ParseEngagementURI: skipping unsupported retrieval method type %d", rm.Type))
			continue
		}
		opts := rm.Options
		if raw, present := opts[bleOptionPeripheralServerUUID]; present {
			if id, ok := identFromOption(raw); ok {
				ident, identOK = id, true
			}
		} else if raw, present := opts[bleOptionCentralClientUUID]; present {
			if id, ok := identFromOption(raw); ok {
				ident, identOK = id, true
			}
		}
		if p, ok := opts[bleOptionSupportsPeripheralServer].(bool); ok && p {
			supportsPeripheral = true
		}
		if c, ok := opts[bleOptionSupportsCentralClient].(bool); ok && c {
			supportsCentral = true
		}
		if identOK {
			break
		}
	}
	if !identOK {
		return ParsedEngagement{}, &ProtoError{ErrMalformedEngagement}
	}
	return ParsedEngagement{
		Ident:              ident,
		SupportsCentral:    supportsCentral,
		SupportsPeripheral: supportsPeripheral,
	}, nil
}

// identFromOption recovers an Ident from a decoded CBOR map value, which
// arrives as []byte (or, from some decoders, an interface-wrapped byte
// slice) rather than the concrete Ident type.
func identFromOption(v interface{}) (Ident, bool) {
	b, ok := v.([]byte)
	if !ok {
		return Ident{}, false
	}
	return identFromBytes(b)
}

// QRCodePNG renders qrEngagementUri as a PNG-encoded QR code at the given
// pixel size, an expansion convenience for holder demo UIs (SPEC_FULL.md
// §3 domain stack) that the core itself never calls.
func QRCodePNG(uri string, size int) ([]byte, error) {
	return qrcode.Encode(uri, qrcode.Medium, size)
}
