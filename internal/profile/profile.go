// Package profile defines known-printer profiles and the database that
// holds them. The database lives as YAML on disk (or compiled in, see
// Builtin) and is matched against a device's service UUIDs; document
// order is significant, so profile authors list higher-confidence
// entries first.
package profile

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/derSebastian/ble-printer-probe/internal/gatt"
	"github.com/derSebastian/ble-printer-probe/internal/protocol"
)

// BLE carries the transport parameters a profile declares: where to
// write, where to listen, and the empirically safe chunking for the
// device.
type BLE struct {
	ServiceUUID    string `yaml:"service_uuid"`
	WriteCharUUID  string `yaml:"write_char_uuid,omitempty"`
	NotifyCharUUID string `yaml:"notify_char_uuid,omitempty"`
	ChunkSize      int    `yaml:"chunk_size,omitempty"`
	ChunkDelayMs   int    `yaml:"chunk_delay_ms,omitempty"`
	MTU            int    `yaml:"mtu,omitempty"`
}

// Paper describes the printable area of the device.
type Paper struct {
	WidthPx int `yaml:"width_px,omitempty"`
	WidthMm int `yaml:"width_mm,omitempty"`
}

// Profile is one known printer definition. Profiles are immutable once
// loaded into a session; only the database loader builds them.
type Profile struct {
	ID       string        `yaml:"id"`
	Name     string        `yaml:"name"`
	Protocol protocol.Name `yaml:"protocol"`
	BLE      BLE           `yaml:"ble"`
	Paper    Paper         `yaml:"paper,omitempty"`
	Variants []string      `yaml:"variants,omitempty"`
	Notes    string        `yaml:"notes,omitempty"`
}

// ChunkParams returns the profile's declared chunking as builder
// overrides. Zero fields keep the protocol defaults.
func (p *Profile) ChunkParams() protocol.ChunkParams {
	return protocol.ChunkParams{
		Size:  p.BLE.ChunkSize,
		Delay: time.Duration(p.BLE.ChunkDelayMs) * time.Millisecond,
	}
}

// Validate checks the fields a usable profile must carry.
func (p *Profile) Validate() error {
	if p.ID == "" {
		return fmt.Errorf("profile: id must not be empty")
	}
	if !p.Protocol.Valid() {
		return fmt.Errorf("profile %s: unknown protocol %q", p.ID, p.Protocol)
	}
	if p.BLE.ServiceUUID == "" {
		return fmt.Errorf("profile %s: ble.service_uuid must not be empty", p.ID)
	}
	if p.Protocol != protocol.Unknown && p.BLE.WriteCharUUID == "" {
		return fmt.Errorf("profile %s: ble.write_char_uuid required for protocol %q", p.ID, p.Protocol)
	}
	return nil
}

// Database is an ordered profile collection plus an id index. Profiles
// keep their document order; MatchAll preserves it.
type Database struct {
	Version  int
	Profiles []*Profile

	byID map[string]*Profile
}

// dbFile is the on-disk YAML document shape.
type dbFile struct {
	Version  int        `yaml:"version"`
	Profiles []*Profile `yaml:"profiles"`
}

// New assembles a database from profiles in the given order, validating
// each, rejecting duplicate ids, and normalizing every stored UUID.
func New(version int, profiles []*Profile) (*Database, error) {
	db := &Database{
		Version:  version,
		Profiles: profiles,
		byID:     make(map[string]*Profile, len(profiles)),
	}
	for _, p := range profiles {
		if err := p.Validate(); err != nil {
			return nil, err
		}
		if _, dup := db.byID[p.ID]; dup {
			return nil, fmt.Errorf("profile: duplicate id %q", p.ID)
		}
		p.BLE.ServiceUUID = gatt.Normalize(p.BLE.ServiceUUID)
		if p.BLE.WriteCharUUID != "" {
			p.BLE.WriteCharUUID = gatt.Normalize(p.BLE.WriteCharUUID)
		}
		if p.BLE.NotifyCharUUID != "" {
			p.BLE.NotifyCharUUID = gatt.Normalize(p.BLE.NotifyCharUUID)
		}
		db.byID[p.ID] = p
	}
	return db, nil
}

// Load reads and parses a YAML profile database.
func Load(path string) (*Database, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("profile: reading database: %w", err)
	}
	db, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("profile: %s: %w", path, err)
	}
	return db, nil
}

// Parse decodes a YAML database document.
func Parse(data []byte) (*Database, error) {
	var f dbFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parsing database: %w", err)
	}
	return New(f.Version, f.Profiles)
}

// LoadOrBuiltin loads the database at path, falling back to the
// compiled-in profiles when path is empty or the file does not exist.
func LoadOrBuiltin(path string) (*Database, error) {
	if path == "" {
		return Builtin(), nil
	}
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return Builtin(), nil
		}
		return nil, fmt.Errorf("profile: checking database path: %w", err)
	}
	return Load(path)
}

// Save writes the database as YAML.
func (db *Database) Save(path string) error {
	data, err := yaml.Marshal(dbFile{Version: db.Version, Profiles: db.Profiles})
	if err != nil {
		return fmt.Errorf("profile: encoding database: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("profile: writing database: %w", err)
	}
	return nil
}

// Get returns the profile with the given id.
func (db *Database) Get(id string) (*Profile, bool) {
	p, ok := db.byID[id]
	return p, ok
}

// Len returns the number of profiles in the database.
func (db *Database) Len() int {
	return len(db.Profiles)
}

// ServiceUUIDs returns every distinct service UUID the database knows,
// in database order. Scanners use this to recognize candidate devices.
func (db *Database) ServiceUUIDs() []string {
	seen := make(map[string]bool, len(db.Profiles))
	var uuids []string
	for _, p := range db.Profiles {
		if !seen[p.BLE.ServiceUUID] {
			seen[p.BLE.ServiceUUID] = true
			uuids = append(uuids, p.BLE.ServiceUUID)
		}
	}
	return uuids
}

// MatchAll returns every profile whose service UUID appears in the given
// set, in database order: all matches, not just the first. Callers that
// need a primary take the first element. No overlap yields an empty
// result, never an error.
func MatchAll(serviceUUIDs []string, db *Database) []*Profile {
	if db == nil || len(serviceUUIDs) == 0 {
		return nil
	}
	have := make(map[string]bool, len(serviceUUIDs))
	for _, u := range serviceUUIDs {
		have[gatt.Normalize(u)] = true
	}
	var matches []*Profile
	for _, p := range db.Profiles {
		if have[p.BLE.ServiceUUID] {
			matches = append(matches, p)
		}
	}
	return matches
}
