package mdoc

import "context"

// ReaderSession is the reader-side counterpart of PresentationSession
// (spec_full.md §4 supplement #1, reader-initiated/reverse engagement). It
// never parses an ItemsRequest or produces a signed response — those are
// holder-only operations — it only owns the ident/engagement this side of
// the exchange uses, and collects the holder's response once delivered.
type ReaderSession struct {
	ident         Ident
	engagementURI string
	mode          PresentationMode

	responseCh chan []byte
}

// NewReaderSession builds a reader session for the ordinary flow: the
// reader has already scanned a holder's QR engagement (ParseEngagementURI)
// and connects to the holder's advertised ident. readerMode is the role(s)
// the reader itself runs; CarrierDescriptors below reports exactly that, so
// NewReaderFacade needs no special-casing to "swap" roles — the swap is
// already expressed by which mode the caller picked (CentralOnly to scan
// for and connect to the holder's peripheral).
func NewReaderSession(holderIdent Ident, readerMode PresentationMode) *ReaderSession {
	return &ReaderSession{
		ident:      holderIdent,
		mode:       readerMode,
		responseCh: make(chan []byte, 1),
	}
}

// NewReverseEngagementReaderSession builds a reader session for reverse
// engagement: the reader originates its own BLE advertisement instead of
// scanning a holder's QR. It mints its own ident and engagement URI the
// same way a holder's PresentationSession does, reusing
// buildDeviceEngagement/qrEngagementURI rather than a parallel encoding.
// readerMode is typically PeripheralOnly — the reader advertises and waits
// for the holder to connect as central.
func NewReverseEngagementReaderSession(readerMode PresentationMode) (*ReaderSession, error) {
	eDeviceKeyBytes := randomEDeviceKeyPlaceholder()
	ident := deriveIdent(append(eDeviceKeyBytes, randomEDeviceKeyPlaceholder()...))
	de := buildDeviceEngagement(ident, eDeviceKeyBytes, readerMode, nil)
	uri, err := qrEngagementURI(de)
	if err != nil {
		return nil, err
	}
	return &ReaderSession{
		ident:         ident,
		engagementURI: uri,
		mode:          readerMode,
		responseCh:    make(chan []byte, 1),
	}, nil
}

func (r *ReaderSession) BLEIdent() Ident { return r.ident }

// QREngagementURI is empty for the ordinary flow (the reader consumed a
// holder's engagement, it never minted its own) and populated only for
// reverse engagement.
func (r *ReaderSession) QREngagementURI() string { return r.engagementURI }

// CarrierDescriptors reports which role(s) the reader itself runs — the
// mirror image of PresentationSession.CarrierDescriptors, since the reader
// sits at the opposite end of whichever role(s) the holder runs.
func (r *ReaderSession) CarrierDescriptors() (centralClient, peripheralServer bool) {
	return r.mode != PeripheralOnly, r.mode != CentralOnly
}

// deliverResponse records the holder's mdoc response, handed to it by
// TransportFacade once the winning endpoint's first message arrives. Only
// the first delivery is kept; responseCh's capacity-1 buffer makes any
// further delivery a no-op.
func (r *ReaderSession) deliverResponse(msg []byte) {
	select {
	case r.responseCh <- msg:
	default:
	}
}

// Response blocks until the holder's mdoc response arrives or ctx ends.
func (r *ReaderSession) Response(ctx context.Context) ([]byte, error) {
	select {
	case msg := <-r.responseCh:
		return msg, nil
	case <-ctx.Done():
		return nil, &ProtoError{ErrTimeout}
	}
}
