// Package ble connects the probe to real peripherals. Two backends hide
// behind a small Transport interface: a native HCI stack that can
// discover, connect, and exercise characteristics, and a portable
// scanner for hosts without raw HCI access. Everything above this
// package works in terms of gatt snapshots and transport channels, so
// the session logic never touches a BLE library directly.
package ble

import (
	"context"
	"errors"
	"fmt"

	"github.com/derSebastian/ble-printer-probe/internal/gatt"
	"github.com/derSebastian/ble-printer-probe/internal/transport"
)

// Backend names accepted by New.
const (
	BackendHCI      = "hci"
	BackendPortable = "portable"
)

// ErrCharacteristicNotFound is returned by Peripheral.Characteristic when
// the connected device does not expose the requested UUID.
var ErrCharacteristicNotFound = errors.New("characteristic not found")

// ErrScanOnly marks backends that can discover devices but not connect
// to them.
var ErrScanOnly = errors.New("backend is scan-only, probing requires the hci backend")

// Advertisement is one sighting of a peripheral during a scan.
type Advertisement struct {
	Name     string
	Address  string
	RSSI     int
	Services []string // normalized advertised service UUIDs
}

// DisplayName returns the best human-readable handle for the device.
func (a Advertisement) DisplayName() string {
	if a.Name != "" {
		return a.Name
	}
	return a.Address
}

// Transport abstracts a BLE backend.
type Transport interface {
	// Scan reports advertisements to fn until ctx expires. Duplicate
	// sightings of the same device are passed through so callers can
	// track RSSI; a clean timeout is not an error.
	Scan(ctx context.Context, fn func(Advertisement)) error
	// Connect dials the advertised device and discovers its full GATT
	// profile.
	Connect(ctx context.Context, adv Advertisement) (Peripheral, error)
}

// Peripheral is an active connection with a discovered GATT profile.
type Peripheral interface {
	// Snapshot returns the device's GATT layout, captured at connect time.
	Snapshot() *gatt.Snapshot
	// Characteristic opens a channel to the characteristic with the given
	// UUID, in any of the forms Normalize accepts. Returns an error
	// wrapping ErrCharacteristicNotFound when the device lacks it.
	Characteristic(uuid string) (transport.Channel, error)
	// Disconnect tears the connection down.
	Disconnect() error
}

// New returns the transport selected by backend. knownServices seeds the
// portable scanner with service UUIDs to test advertisements against;
// the hci backend enumerates advertised services itself and ignores it.
func New(backend string, knownServices []string) (Transport, error) {
	switch backend {
	case "", BackendHCI:
		return NewHCI(), nil
	case BackendPortable:
		return NewPortable(knownServices), nil
	default:
		return nil, fmt.Errorf("ble: unknown backend %q", backend)
	}
}
