//go:build !linux

package mdoc

// dialL2CAP/listenL2CAP are only implemented against the Linux
// AF_BLUETOOTH/BTPROTO_L2CAP raw socket API (l2cap_linux.go). On other
// platforms the L2CAP upgrade is unavailable and callers fall back to GATT,
// exactly the "fallback to GATT if the channel errors" rule of spec §4.D —
// here the error occurs before the first successful L2CAP message, same as
// any other CoC open failure.
func dialL2CAP(addr string, psm uint16) (*l2capChannel, error) {
	return nil, &ProtoError{ErrBluetoothUnavailable}
}

func listenL2CAP(psm uint16) (acceptOne func() (*l2capChannel, error), closeListener func() error, err error) {
	return nil, nil, &ProtoError{ErrBluetoothUnavailable}
}
