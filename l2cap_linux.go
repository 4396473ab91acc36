//go:build linux

package mdoc

import (
	"encoding/binary"
	"fmt"

	"golang.org/x/sys/unix"
)

// parseBDAddr turns the colon-separated MAC string BLE advertisements and
// ble.Addr report into the 6-byte form unix.SockaddrL2 expects: bytes in
// the order they are written, since SockaddrL2 itself reverses them into the
// kernel's little-endian bdaddr_t.
func parseBDAddr(addr string) (out [6]byte, err error) {
	var b [6]int
	n, scanErr := fmt.Sscanf(addr, "%02x:%02x:%02x:%02x:%02x:%02x", &b[0], &b[1], &b[2], &b[3], &b[4], &b[5])
	if scanErr != nil || n != 6 {
		return out, fmt.Errorf("malformed bluetooth address %q", addr)
	}
	for i, v := range b {
		out[i] = byte(v)
	}
	return out, nil
}

// dialL2CAP opens an L2CAP connection-oriented channel to addr/psm, used by
// CentralClient after reading the peripheral's PSM characteristic
// (spec §4.E L2CAP upgrade).
func dialL2CAP(addr string, psm uint16) (*l2capChannel, error) {
	bdaddr, err := parseBDAddr(addr)
	if err != nil {
		return nil, &ProtoError{ErrBluetoothUnavailable}
	}

	fd, err := unix.Socket(unix.AF_BLUETOOTH, unix.SOCK_SEQPACKET, unix.BTPROTO_L2CAP)
	if err != nil {
		return nil, &ProtoError{ErrBluetoothUnavailable}
	}

	sa := &unix.SockaddrL2{PSM: psm, Addr: bdaddr}
	if err := unix.Connect(fd, sa); err != nil {
		_ = unix.Close(fd)
		return nil, &ProtoError{ErrBluetoothUnavailable}
	}

	return newFDChannel(fd), nil
}

// listenL2CAP binds and listens on psm, used by PeripheralServer to offer
// the CoC upgrade (spec §4.D). acceptOne blocks for a single incoming
// connection, matching the "accept a single central" contract.
func listenL2CAP(psm uint16) (acceptOne func() (*l2capChannel, error), closeListener func() error, err error) {
	fd, err := unix.Socket(unix.AF_BLUETOOTH, unix.SOCK_SEQPACKET, unix.BTPROTO_L2CAP)
	if err != nil {
		return nil, nil, &ProtoError{ErrBluetoothUnavailable}
	}
	sa := &unix.SockaddrL2{PSM: psm}
	if err := unix.Bind(fd, sa); err != nil {
		_ = unix.Close(fd)
		return nil, nil, &ProtoError{ErrBluetoothUnavailable}
	}
	if err := unix.Listen(fd, 1); err != nil {
		_ = unix.Close(fd)
		return nil, nil, &ProtoError{ErrBluetoothUnavailable}
	}

	acceptOne = func() (*l2capChannel, error) {
		connFD, _, err := unix.Accept(fd)
		if err != nil {
			return nil, &ProtoError{ErrBluetoothUnavailable}
		}
		return newFDChannel(connFD), nil
	}
	closeListener = func() error { return unix.Close(fd) }
	return acceptOne, closeListener, nil
}

// newFDChannel wraps a connected socket fd as an l2capChannel, length-
// prefixing every frame (4-byte big-endian length) ahead of the same
// continuation byte GATT frames use, per spec §6's L2CAP framing note.
func newFDChannel(fd int) *l2capChannel {
	return &l2capChannel{
		send: func(frame []byte) error {
			header := make([]byte, 4)
			binary.BigEndian.PutUint32(header, uint32(len(frame)))
			if _, err := unix.Write(fd, header); err != nil {
				return &SendError{err}
			}
			if _, err := unix.Write(fd, frame); err != nil {
				return &SendError{err}
			}
			return nil
		},
		close: func() error { return unix.Close(fd) },
	}
}
