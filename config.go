package mdoc

import "time"

// PresentationMode selects which BLE role(s) the holder runs, per spec §3.
type PresentationMode int

const (
	// CentralOnly: the holder scans for and connects to a reader-run
	// peripheral. Default for NFC engagement.
	CentralOnly PresentationMode = iota
	// PeripheralOnly: the holder advertises a GATT server and waits for
	// the reader to connect.
	PeripheralOnly
	// DualMode: both roles run concurrently; whichever receives the first
	// application message wins (spec §4.I). Default for QR engagement;
	// rejected for NFC.
	DualMode
)

func (m PresentationMode) String() string {
	switch m {
	case CentralOnly:
		return "central-only"
	case PeripheralOnly:
		return "peripheral-only"
	case DualMode:
		return "dual-mode"
	default:
		return "unknown"
	}
}

// EngagementMethod records how the session was engaged, used only to pick
// the default PresentationMode and to reject DualMode for NFC (spec §3).
type EngagementMethod int

const (
	EngagementQR EngagementMethod = iota
	EngagementNFC
)

// L2CAPPolicy controls whether the BLE transport attempts to upgrade to an
// L2CAP connection-oriented channel after GATT start (spec §4.D/§4.E).
type L2CAPPolicy int

const (
	L2CAPAuto L2CAPPolicy = iota
	L2CAPForce
	L2CAPDisable
)

// Config enumerates every tunable named in spec §6. Mirrors the teacher's
// Timeouts/DefaultTimeouts() shape (timeouts.go) but folds in the rest of
// the configuration surface so the whole core takes one value object.
type Config struct {
	ConnectionTimeout time.Duration
	IdleTimeout       time.Duration
	SendTimeout       time.Duration
	ScanTimeout       time.Duration

	MaxFragmentBytes int
	MaxMessageBytes  int

	Retries int

	UseL2CAP         L2CAPPolicy
	PresentationMode PresentationMode

	// ReconnectGrace bounds one extra scan, dial, or advertise attempt made
	// after the first attempt fails, without leaving the current state and
	// without tearing down the PresentationSession (expansion, spec_full.md
	// §4). A link that drops after the dial has succeeded is not retried.
	ReconnectGrace time.Duration
}

// DefaultConfig returns the defaults named throughout spec §4/§5/§6.
func DefaultConfig() Config {
	return Config{
		ConnectionTimeout: 30 * time.Second,
		IdleTimeout:       20 * time.Second,
		SendTimeout:       10 * time.Second,
		ScanTimeout:       60 * time.Second,
		MaxFragmentBytes:  MaxFragmentBytesDefault,
		MaxMessageBytes:   512 * 1024,
		Retries:           3,
		UseL2CAP:          L2CAPAuto,
		PresentationMode:  DualMode,
		ReconnectGrace:    3 * time.Second,
	}
}

// MaxFragmentBytesDefault is the default negotiated MTU (517, the BLE 5
// maximum) minus the one-byte continuation prefix (spec §4.B).
const MaxFragmentBytesDefault = 517 - 1

// DefaultModeFor returns the spec §3 default PresentationMode for the given
// engagement method: DualMode for QR, CentralOnly for NFC.
func DefaultModeFor(method EngagementMethod) PresentationMode {
	if method == EngagementNFC {
		return CentralOnly
	}
	return DualMode
}

// ValidateMode enforces spec §3's "Dual rejects NFC" rule.
func ValidateMode(method EngagementMethod, mode PresentationMode) error {
	if method == EngagementNFC && mode == DualMode {
		return ErrInvalidMode
	}
	return nil
}
