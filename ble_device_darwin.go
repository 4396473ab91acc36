//go:build darwin

package mdoc

import (
	"github.com/go-ble/ble"
	"github.com/go-ble/ble/darwin"
)

// newDefaultDevice constructs the platform CoreBluetooth device, mirroring
// the teacher's linux/darwin build-tag split for Bluetooth setup
// (bluetooth_linux.go/bluetooth_darwin.go).
func newDefaultDevice() (ble.Device, error) {
	return darwin.NewDevice()
}
