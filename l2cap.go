package mdoc

import "encoding/binary"

// l2capListenPSM is the fixed L2CAP PSM this holder listens on when
// offering the optional CoC upgrade (spec §4.C/§4.D). Dynamic PSM
// allocation from the kernel is preferable in a production stack; a fixed
// value keeps the holder/reader pairing simple for this core.
const l2capListenPSM uint16 = 0x0080

// encodePSM returns the 2-byte little-endian PSM characteristic value
// (spec §6).
func encodePSM(psm uint16) []byte {
	b := make([]byte, 2)
	binary.LittleEndian.PutUint16(b, psm)
	return b
}

func decodePSM(b []byte) (uint16, bool) {
	if len(b) != 2 {
		return 0, false
	}
	return binary.LittleEndian.Uint16(b), true
}

// l2capChannel is the minimal capability central.go/peripheral.go need
// from an open CoC channel: send length-prefixed frames carrying the same
// continuation byte as GATT frames (spec §6 framing note), and close.
// Concrete construction is platform-specific (l2cap_linux.go/l2cap_other.go).
type l2capChannel struct {
	send  func(frame []byte) error
	close func() error
}

func (c *l2capChannel) sendFramed(frame []byte, maxFragmentBytes int) error {
	return c.send(frame)
}

func (c *l2capChannel) Close() error {
	if c.close == nil {
		return nil
	}
	return c.close()
}
