// Package gatt models the GATT surface of a remote peripheral: canonical
// UUID forms, the per-device service/characteristic snapshot captured at
// connect time, and the standard Device Information Service identifiers
// consulted during discovery.
package gatt

import (
	"encoding/json"
	"fmt"
)

// Device Information Service identifiers (short form).
const (
	DeviceInfoService = "180a"
	ModelNumberChar   = "2a24"
	SerialNumberChar  = "2a25"
	FirmwareRevChar   = "2a26"
	ManufacturerChar  = "2a29"
)

// Props is the characteristic property bitmask from the GATT declaration
// attribute.
type Props uint8

const (
	PropBroadcast Props = 1 << iota
	PropRead
	PropWriteWithoutResponse
	PropWrite
	PropNotify
	PropIndicate
	PropAuthSignedWrite
	PropExtended
)

// propNames maps declaration bits to their JSON names, in bit order.
var propNames = []struct {
	bit  Props
	name string
}{
	{PropBroadcast, "broadcast"},
	{PropRead, "read"},
	{PropWriteWithoutResponse, "writeWithoutResponse"},
	{PropWrite, "write"},
	{PropNotify, "notify"},
	{PropIndicate, "indicate"},
	{PropAuthSignedWrite, "authenticatedSignedWrites"},
	{PropExtended, "extendedProperties"},
}

// Writable reports whether the characteristic accepts either write kind.
func (p Props) Writable() bool {
	return p&(PropWrite|PropWriteWithoutResponse) != 0
}

// Names returns the set property names in declaration order.
func (p Props) Names() []string {
	var names []string
	for _, pn := range propNames {
		if p&pn.bit != 0 {
			names = append(names, pn.name)
		}
	}
	return names
}

// MarshalJSON renders the bitmask as its property-name list.
func (p Props) MarshalJSON() ([]byte, error) {
	names := p.Names()
	if names == nil {
		names = []string{}
	}
	return json.Marshal(names)
}

// UnmarshalJSON parses a property-name list back into a bitmask.
func (p *Props) UnmarshalJSON(data []byte) error {
	var names []string
	if err := json.Unmarshal(data, &names); err != nil {
		return err
	}
	var v Props
nextName:
	for _, name := range names {
		for _, pn := range propNames {
			if pn.name == name {
				v |= pn.bit
				continue nextName
			}
		}
		return fmt.Errorf("gatt: unknown characteristic property %q", name)
	}
	*p = v
	return nil
}

// Characteristic is one discovered GATT characteristic. The UUID is
// stored normalized.
type Characteristic struct {
	UUID  string `json:"uuid"`
	Props Props  `json:"properties"`
}

// Service groups the characteristics discovered under one service.
type Service struct {
	UUID            string           `json:"uuid"`
	Characteristics []Characteristic `json:"characteristics"`
}

// Snapshot is the full GATT enumeration of one peripheral, captured once
// at connect time and read-only for the rest of the session.
type Snapshot struct {
	Name       string    `json:"name,omitempty"`
	Address    string    `json:"address"`
	RSSI       int       `json:"rssi,omitempty"`
	Advertised []string  `json:"advertisedServices,omitempty"`
	Services   []Service `json:"services"`
}

// ServiceUUIDs returns the advertised and discovered service UUIDs,
// normalized and deduplicated, in discovery order.
func (s *Snapshot) ServiceUUIDs() []string {
	seen := make(map[string]bool)
	var uuids []string
	add := func(u string) {
		n := Normalize(u)
		if !seen[n] {
			seen[n] = true
			uuids = append(uuids, n)
		}
	}
	for _, u := range s.Advertised {
		add(u)
	}
	for _, svc := range s.Services {
		add(svc.UUID)
	}
	return uuids
}

// FindCharacteristic locates a characteristic by UUID in any service.
func (s *Snapshot) FindCharacteristic(uuid string) (Characteristic, bool) {
	n := Normalize(uuid)
	for _, svc := range s.Services {
		for _, c := range svc.Characteristics {
			if Normalize(c.UUID) == n {
				return c, true
			}
		}
	}
	return Characteristic{}, false
}

// HasCharacteristic reports whether uuid appears anywhere in the snapshot.
func (s *Snapshot) HasCharacteristic(uuid string) bool {
	_, ok := s.FindCharacteristic(uuid)
	return ok
}

// ServiceOf returns the UUID of the service a characteristic belongs to.
func (s *Snapshot) ServiceOf(uuid string) (string, bool) {
	n := Normalize(uuid)
	for _, svc := range s.Services {
		for _, c := range svc.Characteristics {
			if Normalize(c.UUID) == n {
				return Normalize(svc.UUID), true
			}
		}
	}
	return "", false
}

// Writable returns every characteristic carrying a write property, in
// service order.
func (s *Snapshot) Writable() []Characteristic {
	var out []Characteristic
	for _, svc := range s.Services {
		for _, c := range svc.Characteristics {
			if c.Props.Writable() {
				out = append(out, c)
			}
		}
	}
	return out
}
