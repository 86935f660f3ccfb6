package ble

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	goble "github.com/go-ble/ble"
	"github.com/go-ble/ble/examples/lib/dev"

	"github.com/derSebastian/ble-printer-probe/internal/gatt"
	"github.com/derSebastian/ble-printer-probe/internal/transport"
)

const preferredMTU = 247

// HCI drives the host's native BLE controller. This is the only backend
// that exposes characteristic properties, so probing sessions require it.
type HCI struct {
	ctlrName string

	once    sync.Once
	initErr error
}

// NewHCI returns an HCI transport on the default controller. The
// controller is opened lazily on first use.
func NewHCI() *HCI {
	return &HCI{ctlrName: "default"}
}

func (t *HCI) ensureDevice() error {
	t.once.Do(func() {
		d, err := dev.NewDevice(t.ctlrName)
		if err != nil {
			t.initErr = fmt.Errorf("ble: opening %s controller: %w", t.ctlrName, err)
			return
		}
		goble.SetDefaultDevice(d)
	})
	return t.initErr
}

// Scan reports every advertisement until ctx expires. Expiry is a clean
// stop, not an error.
func (t *HCI) Scan(ctx context.Context, fn func(Advertisement)) error {
	if err := t.ensureDevice(); err != nil {
		return err
	}

	err := goble.Scan(ctx, true, func(a goble.Advertisement) {
		fn(advFrom(a))
	}, nil)
	if err != nil && !errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("ble: scan: %w", err)
	}
	return nil
}

// Connect dials the device, negotiates MTU, and walks its full GATT
// profile so the snapshot carries every characteristic's properties.
func (t *HCI) Connect(ctx context.Context, adv Advertisement) (Peripheral, error) {
	if err := t.ensureDevice(); err != nil {
		return nil, err
	}

	cln, err := goble.Dial(ctx, goble.NewAddr(adv.Address))
	if err != nil {
		return nil, fmt.Errorf("ble: connecting to %s: %w", adv.Address, err)
	}

	if _, err := cln.ExchangeMTU(preferredMTU); err != nil {
		slog.Warn("[BLE] MTU exchange failed", "address", adv.Address, "error", err)
	}

	prof, err := cln.DiscoverProfile(true)
	if err != nil {
		cln.CancelConnection()
		return nil, fmt.Errorf("ble: discovering profile of %s: %w", adv.Address, err)
	}

	go func() {
		<-cln.Disconnected()
		slog.Info("[BLE] peripheral disconnected", "address", adv.Address)
	}()

	slog.Info("[BLE] connected", "address", adv.Address, "services", len(prof.Services))
	return &hciPeripheral{
		cln:   cln,
		snap:  snapshotFrom(adv, prof),
		chars: indexChars(prof),
	}, nil
}

func advFrom(a goble.Advertisement) Advertisement {
	adv := Advertisement{
		Name:    a.LocalName(),
		Address: a.Addr().String(),
		RSSI:    a.RSSI(),
	}
	for _, u := range a.Services() {
		adv.Services = append(adv.Services, gatt.Normalize(u.String()))
	}
	return adv
}

// snapshotFrom merges what the advertisement said with what discovery
// found. Characteristic property bits carry over directly: the BLE
// declaration layout and gatt.Props agree bit for bit.
func snapshotFrom(adv Advertisement, prof *goble.Profile) *gatt.Snapshot {
	snap := &gatt.Snapshot{
		Name:       adv.Name,
		Address:    adv.Address,
		RSSI:       adv.RSSI,
		Advertised: adv.Services,
	}
	for _, s := range prof.Services {
		svc := gatt.Service{UUID: gatt.Normalize(s.UUID.String())}
		for _, c := range s.Characteristics {
			svc.Characteristics = append(svc.Characteristics, gatt.Characteristic{
				UUID:  gatt.Normalize(c.UUID.String()),
				Props: gatt.Props(c.Property),
			})
		}
		snap.Services = append(snap.Services, svc)
	}
	return snap
}

func indexChars(prof *goble.Profile) map[string]*goble.Characteristic {
	chars := make(map[string]*goble.Characteristic)
	for _, s := range prof.Services {
		for _, c := range s.Characteristics {
			chars[gatt.Normalize(c.UUID.String())] = c
		}
	}
	return chars
}

type hciPeripheral struct {
	cln   goble.Client
	snap  *gatt.Snapshot
	chars map[string]*goble.Characteristic
}

func (p *hciPeripheral) Snapshot() *gatt.Snapshot { return p.snap }

func (p *hciPeripheral) Characteristic(uuid string) (transport.Channel, error) {
	c, ok := p.chars[gatt.Normalize(uuid)]
	if !ok {
		return nil, fmt.Errorf("ble: %s: %w", uuid, ErrCharacteristicNotFound)
	}
	return &hciChannel{cln: p.cln, char: c, props: gatt.Props(c.Property)}, nil
}

func (p *hciPeripheral) Disconnect() error {
	return p.cln.CancelConnection()
}

type hciChannel struct {
	cln   goble.Client
	char  *goble.Characteristic
	props gatt.Props
}

func (c *hciChannel) Write(p []byte, withResponse bool) error {
	return c.cln.WriteCharacteristic(c.char, p, writeWithoutResponse(c.props, withResponse))
}

func (c *hciChannel) Subscribe(fn func(p []byte)) error {
	switch {
	case c.props&gatt.PropNotify != 0:
		return c.cln.Subscribe(c.char, false, fn)
	case c.props&gatt.PropIndicate != 0:
		return c.cln.Subscribe(c.char, true, fn)
	default:
		return fmt.Errorf("ble: characteristic %s does not notify", c.char.UUID)
	}
}

func (c *hciChannel) Read() ([]byte, error) {
	if c.props&gatt.PropRead == 0 {
		return nil, fmt.Errorf("ble: characteristic %s is not readable", c.char.UUID)
	}
	return c.cln.ReadCharacteristic(c.char)
}

// writeWithoutResponse picks the write mode the characteristic actually
// supports, honoring the caller's preference when both are available.
func writeWithoutResponse(props gatt.Props, withResponse bool) bool {
	noRsp := !withResponse
	if noRsp && props&gatt.PropWriteWithoutResponse == 0 {
		noRsp = false
	}
	if !noRsp && props&gatt.PropWrite == 0 && props&gatt.PropWriteWithoutResponse != 0 {
		noRsp = true
	}
	return noRsp
}

var (
	_ Transport         = (*HCI)(nil)
	_ Peripheral        = (*hciPeripheral)(nil)
	_ transport.Channel = (*hciChannel)(nil)
)
