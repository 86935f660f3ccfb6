package ble

import (
	"context"
	"fmt"
	"sync"

	"tinygo.org/x/bluetooth"

	"github.com/derSebastian/ble-printer-probe/internal/gatt"
)

// Portable scans through the cross-platform bluetooth stack, for hosts
// where the hci backend cannot open a raw socket. Advertisement payloads
// on this stack only answer membership questions, so the scanner tests
// each sighting against the known service UUIDs it was seeded with.
// Probing needs characteristic properties this stack does not expose,
// which keeps the backend scan-only.
type Portable struct {
	adapter    *bluetooth.Adapter
	candidates []candidateService

	once    sync.Once
	initErr error
}

type candidateService struct {
	uuid bluetooth.UUID
	str  string
}

// NewPortable returns a scan-only transport. knownServices are the
// service UUIDs to probe advertisements for, typically every service in
// the profile database.
func NewPortable(knownServices []string) *Portable {
	p := &Portable{adapter: bluetooth.DefaultAdapter}
	for _, s := range knownServices {
		n := gatt.Normalize(s)
		u, err := bluetooth.ParseUUID(n)
		if err != nil {
			continue
		}
		p.candidates = append(p.candidates, candidateService{uuid: u, str: n})
	}
	return p
}

func (t *Portable) enable() error {
	t.once.Do(func() {
		if err := t.adapter.Enable(); err != nil {
			t.initErr = fmt.Errorf("ble: enabling adapter: %w", err)
		}
	})
	return t.initErr
}

func (t *Portable) Scan(ctx context.Context, fn func(Advertisement)) error {
	if err := t.enable(); err != nil {
		return err
	}

	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			t.adapter.StopScan()
		case <-done:
		}
	}()

	err := t.adapter.Scan(func(adapter *bluetooth.Adapter, result bluetooth.ScanResult) {
		fn(t.advFromScan(result))
	})
	close(done)

	if err != nil && ctx.Err() == nil {
		return fmt.Errorf("ble: scan: %w", err)
	}
	return nil
}

func (t *Portable) advFromScan(r bluetooth.ScanResult) Advertisement {
	adv := Advertisement{
		Name:    r.LocalName(),
		Address: r.Address.String(),
		RSSI:    int(r.RSSI),
	}
	for _, c := range t.candidates {
		if r.HasServiceUUID(c.uuid) {
			adv.Services = append(adv.Services, c.str)
		}
	}
	return adv
}

func (t *Portable) Connect(ctx context.Context, adv Advertisement) (Peripheral, error) {
	return nil, fmt.Errorf("ble: connect to %s: %w", adv.Address, ErrScanOnly)
}

var _ Transport = (*Portable)(nil)
