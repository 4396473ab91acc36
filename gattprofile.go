package mdoc

import (
	uuid "github.com/satori/go.uuid"
)

// GATT state-characteristic control bytes (spec §4.C): a central writes
// 0x01 to start, 0x02 to end.
const (
	StateStart byte = 0x01
	StateEnd   byte = 0x02
)

// GattProfile is the fixed characteristic layout of spec §4.C/§6.
type GattProfile struct {
	ServiceUUID       uuid.UUID
	StateUUID         uuid.UUID
	Client2ServerUUID uuid.UUID
	Server2ClientUUID uuid.UUID
	IdentUUID         uuid.UUID
	L2CAPPSMUUID      uuid.UUID
}

// Fixed UUIDs per ISO 18013-5 §8.3.3.1.1. The service UUID is the single
// well-known mdoc service, the same for every session: any holder and any
// reader scan for and advertise it, and the Ident characteristic (spec
// §4.E) is what disambiguates one engagement from another when several
// peripherals advertise it at once. Deriving the service UUID itself from
// the session ident would defeat that tie-break — two unrelated holders
// would almost never share a service UUID, so a central would never need
// Ident to pick between them.
var (
	serviceUUID           = uuid.Must(uuid.FromString("00000000-A123-48CE-896B-4C76973373E6"))
	stateCharUUID         = uuid.Must(uuid.FromString("00000001-A123-48CE-896B-4C76973373E6"))
	client2ServerCharUUID = uuid.Must(uuid.FromString("00000002-A123-48CE-896B-4C76973373E6"))
	server2ClientCharUUID = uuid.Must(uuid.FromString("00000003-A123-48CE-896B-4C76973373E6"))
	identCharUUID         = uuid.Must(uuid.FromString("00000004-A123-48CE-896B-4C76973373E6"))
	l2capPSMCharUUID      = uuid.Must(uuid.FromString("00000005-A123-48CE-896B-4C76973373E6"))
)

// NewGattProfile returns the fixed characteristic layout. ident plays no
// role in UUID selection; it is kept as a parameter so call sites read the
// same way as the rest of the per-session construction (CentralClient,
// PeripheralServer) and to leave room for callers that want to assert
// profile/ident correspondence without reaching into two separate values.
func NewGattProfile(ident Ident) GattProfile {
	return GattProfile{
		ServiceUUID:       serviceUUID,
		StateUUID:         stateCharUUID,
		Client2ServerUUID: client2ServerCharUUID,
		Server2ClientUUID: server2ClientCharUUID,
		IdentUUID:         identCharUUID,
		L2CAPPSMUUID:      l2capPSMCharUUID,
	}
}

// CharacteristicProperty mirrors the property flags a BLE library exposes
// (spec §4.C table).
type CharacteristicProperty int

const (
	PropNotify CharacteristicProperty = 1 << iota
	PropRead
	PropWrite
	PropWriteNoResponse
)

// CharacteristicSpec documents direction and properties for each
// characteristic in the profile (spec §4.C table). Neither PeripheralServer
// nor CentralClient reads this table: the server registers its handlers
// directly and the client does not check discovered properties against it.
type CharacteristicSpec struct {
	UUID       uuid.UUID
	Properties CharacteristicProperty
}

func (p GattProfile) Characteristics() []CharacteristicSpec {
	return []CharacteristicSpec{
		{p.StateUUID, PropNotify | PropWrite | PropWriteNoResponse},
		{p.Client2ServerUUID, PropWrite | PropWriteNoResponse},
		{p.Server2ClientUUID, PropNotify},
		{p.IdentUUID, PropRead},
		{p.L2CAPPSMUUID, PropRead},
	}
}
