package mdoc

import (
	"crypto/rand"
	"sync"

	"github.com/fxamacker/cbor/v2"
	uuid "github.com/satori/go.uuid"
)

// ItemsRequest is a reader's structured request for namespaced elements of
// one docType (spec §3).
type ItemsRequest struct {
	DocType    string
	Namespaces map[string]map[string]bool // elementIdentifier -> intentToRetain
}

// PermittedResponse is the set of elements a user authorized for release;
// must be a subset of the union of ItemsRequests (spec §3).
type PermittedResponse map[string]map[string][]string

// itemsRequestWire mirrors the on-the-wire mdoc request CBOR structure
// closely enough to decode the fixtures named in spec §8 scenario 1:
// docType plus a namespaces map of elementIdentifier -> intentToRetain.
type itemsRequestWire struct {
	DocType    string                     `cbor:"docType"`
	NameSpaces map[string]map[string]bool `cbor:"nameSpaces"`
}

type mdocRequestWire struct {
	DocRequests []struct {
		ItemsRequest itemsRequestWire `cbor:"itemsRequest"`
	} `cbor:"docRequests"`
	ReaderAuthCN string `cbor:"readerAuthCN,omitempty"`
}

// deviceNamespacesEntryWire carries one docType's permitted elements.
// PermittedResponse is explicitly plural over docType (spec §3), so a
// presentation spanning more than one docType produces more than one
// entry here.
type deviceNamespacesEntryWire struct {
	DocType    string                       `cbor:"docType"`
	NameSpaces map[string]map[string][]byte `cbor:"nameSpaces"`
}

// deviceNamespacesWire is the payload generateResponse builds and the
// external signer signs over verbatim (spec §4.H).
type deviceNamespacesWire struct {
	Documents []deviceNamespacesEntryWire `cbor:"documents"`
}

// mdocResponseWire is the final structure submitResponse returns, carrying
// the raw (non-DER) ECDSA signature the mdoc wire format requires.
type mdocResponseWire struct {
	Payload   []byte `cbor:"payload"`
	Signature []byte `cbor:"signature"`
}

// sessionPhase tracks the single-dispatch invariant of spec §3: at most one
// handleRequest, and submitResponse is terminal.
type sessionPhase int

const (
	phaseAwaitingRequest sessionPhase = iota
	phaseAwaitingResponse
	phaseSubmitted
)

// PresentationSession owns one parsed mdoc for the lifetime of one
// engagement (spec §4.H). Mirrors the single-dispatch, mutex-guarded
// request/response lifecycle of the teacher's EnclaveClient
// (krd/enclave_client.go): one accepted request, one produced response,
// never re-entered.
type PresentationSession struct {
	mu sync.Mutex

	mdocBytes []byte
	sessionID uuid.UUID
	ident     Ident

	eDeviceKeyBytes []byte
	engagement      deviceEngagement
	engagementURI   string

	mode PresentationMode

	phase          sessionPhase
	requests       []ItemsRequest
	readerAuthCN   string
	pendingPayload []byte
	response       []byte
}

// NewPresentationSession derives the session transcript, ident, and
// device-engagement URI from the given mdoc bytes, an opaque eDeviceKey
// blob the collaborator supplies (never generated here — Non-goals §1),
// and the chosen mode. mode must already satisfy ValidateMode against the
// engagement method.
func NewPresentationSession(mdocBytes []byte, eDeviceKeyBytes []byte, mode PresentationMode) (*PresentationSession, error) {
	sessionID := uuid.NewV4()

	transcript := make([]byte, 0, len(mdocBytes)+len(eDeviceKeyBytes)+len(sessionID))
	transcript = append(transcript, mdocBytes...)
	transcript = append(transcript, eDeviceKeyBytes...)
	transcript = append(transcript, sessionID.Bytes()...)

	ident := deriveIdent(transcript)
	de := buildDeviceEngagement(ident, eDeviceKeyBytes, mode, nil)
	uri, err := qrEngagementURI(de)
	if err != nil {
		return nil, err
	}

	return &PresentationSession{
		mdocBytes:       mdocBytes,
		sessionID:       sessionID,
		ident:           ident,
		eDeviceKeyBytes: eDeviceKeyBytes,
		engagement:      de,
		engagementURI:   uri,
		mode:            mode,
		phase:           phaseAwaitingRequest,
	}, nil
}

// randomEDeviceKeyPlaceholder returns 32 random bytes standing in for a
// device key. Its only caller is NewReverseEngagementReaderSession, which
// has no device-key collaborator; PresentationSession never calls it.
func randomEDeviceKeyPlaceholder() []byte {
	b := make([]byte, 32)
	_, _ = rand.Read(b)
	return b
}

func (s *PresentationSession) QREngagementURI() string { return s.engagementURI }
func (s *PresentationSession) BLEIdent() Ident          { return s.ident }

// CarrierDescriptors reports which roles this session's engagement
// advertises, mirroring spec §3's CarrierDescriptor.
func (s *PresentationSession) CarrierDescriptors() (centralClient, peripheralServer bool) {
	return s.mode != PeripheralOnly, s.mode != CentralOnly
}

// HandleRequest accepts the first application message only; every
// subsequent call returns ErrAlreadyProcessed without mutating session
// state (spec §3 invariant, §7 ProtocolViolation, §8 scenario 5).
func (s *PresentationSession) HandleRequest(requestBytes []byte) ([]ItemsRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.phase != phaseAwaitingRequest {
		return nil, &ProtoError{ErrAlreadyProcessed}
	}

	var wire mdocRequestWire
	if err := cbor.Unmarshal(requestBytes, &wire); err != nil {
		return nil, &ProtoError{ErrMalformedRequest}
	}
	if len(wire.DocRequests) == 0 {
		return nil, &ProtoError{ErrMalformedRequest}
	}

	requests := make([]ItemsRequest, 0, len(wire.DocRequests))
	for _, dr := range wire.DocRequests {
		if dr.ItemsRequest.DocType == "" || len(dr.ItemsRequest.NameSpaces) == 0 {
			return nil, &ProtoError{ErrMalformedRequest}
		}
		requests = append(requests, ItemsRequest{
			DocType:    dr.ItemsRequest.DocType,
			Namespaces: dr.ItemsRequest.NameSpaces,
		})
	}

	s.requests = requests
	s.readerAuthCN = wire.ReaderAuthCN
	s.phase = phaseAwaitingResponse
	return requests, nil
}

// ReaderName returns the reader-auth certificate's common name, if the
// request carried one (spec §4.H). Never cached across sessions — open
// question (b): see DESIGN.md.
func (s *PresentationSession) ReaderName() (name string, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.readerAuthCN == "" {
		return "", false
	}
	return s.readerAuthCN, true
}

// GenerateResponse builds the device-namespaces CBOR payload to be signed,
// after validating permitted is a subset of what was requested (spec §3
// PermittedResponse invariant, §4.H). The returned bytes are exactly what
// the external Signer must sign.
func (s *PresentationSession) GenerateResponse(permitted PermittedResponse) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.phase != phaseAwaitingResponse {
		return nil, &ProtoError{ErrProtocolViolation}
	}
	if err := s.validateSubset(permitted); err != nil {
		return nil, err
	}

	// Walk s.requests (not permitted) to fix the document order
	// deterministically and to skip any requested docType the user did not
	// permit, while still covering every docType permitted carries.
	var out deviceNamespacesWire
	for _, r := range s.requests {
		elementsByNS, ok := permitted[r.DocType]
		if !ok {
			continue
		}
		entry := deviceNamespacesEntryWire{DocType: r.DocType, NameSpaces: map[string]map[string][]byte{}}
		for ns, elements := range elementsByNS {
			encoded := map[string][]byte{}
			for _, elementID := range elements {
				// Element values themselves come from the mdoc collaborator's
				// storage, never fabricated here; only the identifier survives
				// into the signed structure as a placeholder value slot.
				raw, err := cbor.Marshal(elementID)
				if err != nil {
					return nil, &ProtoError{ErrMalformedResponse}
				}
				encoded[elementID] = raw
			}
			entry.NameSpaces[ns] = encoded
		}
		out.Documents = append(out.Documents, entry)
	}

	payload, err := cbor.Marshal(out)
	if err != nil {
		return nil, &ProtoError{ErrMalformedResponse}
	}

	s.pendingPayload = payload
	return payload, nil
}

func (s *PresentationSession) validateSubset(permitted PermittedResponse) error {
	requested := map[string]map[string]bool{}
	for _, r := range s.requests {
		ns, ok := requested[r.DocType]
		if !ok {
			ns = map[string]bool{}
			requested[r.DocType] = ns
		}
		for namespace, elements := range r.Namespaces {
			for elementID := range elements {
				ns[namespace+"/"+elementID] = true
			}
		}
	}
	for docType, namespaces := range permitted {
		allowed, ok := requested[docType]
		if !ok {
			return &ProtoError{ErrMalformedResponse}
		}
		for namespace, elements := range namespaces {
			for _, elementID := range elements {
				if !allowed[namespace+"/"+elementID] {
					return &ProtoError{ErrMalformedResponse}
				}
			}
		}
	}
	return nil
}

// SubmitResponse accepts the external signature (DER or already-raw),
// normalizes it to the IEEE-P1363 fixed-width form the wire format
// requires, and returns the final mdoc response ready for transport (spec
// §4.H). The session becomes immutable after this call.
func (s *PresentationSession) SubmitResponse(signature []byte) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.phase != phaseAwaitingResponse || s.pendingPayload == nil {
		return nil, &ProtoError{ErrProtocolViolation}
	}

	raw, err := normalizeToRaw(signature)
	if err != nil {
		return nil, err
	}

	resp := mdocResponseWire{Payload: s.pendingPayload, Signature: raw}
	encoded, err := cbor.Marshal(resp)
	if err != nil {
		return nil, &ProtoError{ErrMalformedResponse}
	}

	s.response = encoded
	s.phase = phaseSubmitted
	return encoded, nil
}

// Submitted reports whether submitResponse has already produced the final
// response, per spec §3's "never another handleRequest" invariant.
func (s *PresentationSession) Submitted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phase == phaseSubmitted
}
