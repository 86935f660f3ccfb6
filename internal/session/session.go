// Package session drives the discovery state machine: collect operator
// context, trial matched profiles, probe unknown characteristics in
// three protocol rounds, test ESC/POS capabilities, and assemble the
// report. The flow is strictly sequential with at most one stage in
// flight, suspending on the Oracle whenever the machine needs a human
// verdict. Transport failures are recorded per target and never abort
// the session; only context cancellation or a dead oracle does.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/derSebastian/ble-printer-probe/internal/gatt"
	"github.com/derSebastian/ble-printer-probe/internal/profile"
	"github.com/derSebastian/ble-printer-probe/internal/protocol"
	"github.com/derSebastian/ble-printer-probe/internal/report"
	"github.com/derSebastian/ble-printer-probe/internal/transport"
)

// Link is the connected device under probe. ble.Peripheral satisfies it;
// tests substitute scripted fakes.
type Link interface {
	Snapshot() *gatt.Snapshot
	Characteristic(uuid string) (transport.Channel, error)
}

// Characteristics the unknown-probing rounds key on. The cheap D1 and
// cat-printer families expose these exact short UUIDs.
var (
	d1WriteChar     = gatt.Normalize("ff02")
	d1NotifyChar    = gatt.Normalize("ff01")
	gt01ControlChar = gatt.Normalize("ae01")
)

const (
	defaultPaperWidthMm = 58
	defaultFlushPause   = 1500 * time.Millisecond
)

// Options tunes a session.
type Options struct {
	// DB is the profile database to match the device against.
	DB *profile.Database
	// Chunk overrides chunk size and delay for probes that have no
	// profile to take parameters from. Zero fields keep protocol defaults.
	Chunk protocol.ChunkParams
	// FlushPause is the wait between a completed transmission and the
	// operator question, giving the mechanism time to put ink on paper.
	FlushPause time.Duration
	// Labels numbers the printed test lines. Leave nil for a fresh
	// counter; share one instance to keep numbering unique across
	// sessions.
	Labels *LabelCounter
	// Notify receives transmission progress, for UIs that render it.
	Notify transport.Notify
}

// Session is a single-shot discovery run against one connected device.
type Session struct {
	link   Link
	oracle Oracle
	opts   Options

	snap       *gatt.Snapshot
	matched    []*profile.Profile
	labels     *LabelCounter
	confirmed  []report.ConfirmedChar
	results    map[string]report.ProbingResult
	caps       map[string]report.CapabilityResult
	devCtx     report.Context
	devInfo    *report.DeviceInfo
	notifySeen map[string]*atomic.Bool
}

// New prepares a session over an established link.
func New(link Link, oracle Oracle, opts Options) *Session {
	if opts.FlushPause <= 0 {
		opts.FlushPause = defaultFlushPause
	}
	labels := opts.Labels
	if labels == nil {
		labels = &LabelCounter{}
	}
	return &Session{
		link:       link,
		oracle:     oracle,
		opts:       opts,
		labels:     labels,
		results:    make(map[string]report.ProbingResult),
		notifySeen: make(map[string]*atomic.Bool),
	}
}

// Run advances through the five discovery states in order and returns
// the assembled report. The report is always usable, possibly with an
// empty confirmed set; Run fails only when ctx is cancelled or the
// oracle stops answering.
func (s *Session) Run(ctx context.Context) (*report.Report, error) {
	s.snap = s.link.Snapshot()
	s.matched = profile.MatchAll(s.snap.ServiceUUIDs(), s.opts.DB)
	slog.Info("[Session] starting discovery",
		"device", s.snap.Address,
		"name", s.snap.Name,
		"matches", len(s.matched))

	if err := s.collectContext(ctx); err != nil {
		return nil, err
	}
	if err := s.trialKnownProfiles(ctx); err != nil {
		return nil, err
	}
	if err := s.probeUnknown(ctx); err != nil {
		return nil, err
	}
	if err := s.testCapabilities(ctx); err != nil {
		return nil, err
	}
	return s.assembleReport(), nil
}

// collectContext gathers operator-supplied metadata, suggesting defaults
// from the Device Information Service when the device exposes one. Empty
// answers are valid; paper width falls back to 58mm.
func (s *Session) collectContext(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.readDeviceInfo()

	modelDefault := s.snap.Name
	brandDefault := ""
	if s.devInfo != nil {
		if s.devInfo.ModelNumber != "" {
			modelDefault = s.devInfo.ModelNumber
		}
		brandDefault = s.devInfo.Manufacturer
	}

	model, err := s.oracle.Ask("Printer model", modelDefault)
	if err != nil {
		return fmt.Errorf("session: collecting context: %w", err)
	}
	brand, err := s.oracle.Ask("Brand or manufacturer", brandDefault)
	if err != nil {
		return fmt.Errorf("session: collecting context: %w", err)
	}
	width, err := s.oracle.Ask("Paper width in mm", strconv.Itoa(defaultPaperWidthMm))
	if err != nil {
		return fmt.Errorf("session: collecting context: %w", err)
	}
	app, err := s.oracle.Ask("Companion app, if any", "")
	if err != nil {
		return fmt.Errorf("session: collecting context: %w", err)
	}

	s.devCtx = report.Context{
		Model:        strings.TrimSpace(model),
		Brand:        strings.TrimSpace(brand),
		PaperWidthMm: parsePaperWidth(width),
		App:          strings.TrimSpace(app),
	}
	return nil
}

// readDeviceInfo pulls the Device Information Service strings. Missing
// characteristics and failed reads just leave fields empty.
func (s *Session) readDeviceInfo() {
	read := func(uuid string) string {
		if !s.snap.HasCharacteristic(uuid) {
			return ""
		}
		ch, err := s.link.Characteristic(uuid)
		if err != nil {
			return ""
		}
		data, err := ch.Read()
		if err != nil {
			slog.Debug("[Session] device info read failed", "char", uuid, "error", err)
			return ""
		}
		// Firmware tends to NUL-pad these strings.
		return strings.TrimSpace(strings.TrimRight(string(data), "\x00"))
	}

	info := report.DeviceInfo{
		ModelNumber:  read(gatt.ModelNumberChar),
		SerialNumber: read(gatt.SerialNumberChar),
		FirmwareRev:  read(gatt.FirmwareRevChar),
		Manufacturer: read(gatt.ManufacturerChar),
	}
	if info != (report.DeviceInfo{}) {
		s.devInfo = &info
	}
}

// trialKnownProfiles tries every matched profile's declared write
// characteristic with its declared protocol. A missing characteristic
// skips that profile; identification-only profiles have nothing to send.
func (s *Session) trialKnownProfiles(ctx context.Context) error {
	for _, p := range s.matched {
		if err := ctx.Err(); err != nil {
			return err
		}
		if p.Protocol == protocol.Unknown {
			slog.Info("[Session] profile is identification-only, nothing to trial", "profile", p.ID)
			continue
		}
		uuid := gatt.Normalize(p.BLE.WriteCharUUID)
		if !s.snap.HasCharacteristic(uuid) {
			slog.Warn("[Session] declared write characteristic missing from device",
				"profile", p.ID, "char", gatt.Short(uuid))
			continue
		}
		if s.isConfirmed(uuid) {
			slog.Info("[Session] characteristic already confirmed, skipping trial",
				"profile", p.ID, "char", gatt.Short(uuid))
			continue
		}

		slog.Info("[Session] trying matched profile", "profile", p.ID, "protocol", p.Protocol)
		label := s.labels.Next()
		stages := protocol.Test(p.Protocol, label, p.ChunkParams())
		question := protocol.TestQuestion(p.Protocol, label)
		if _, err := s.probe(ctx, uuid, p.Protocol, stages, question, p.BLE.NotifyCharUUID); err != nil {
			return err
		}
	}
	return nil
}

// probeUnknown runs the three elimination rounds over writable
// characteristics no matched profile claimed. Every round is gated on
// nothing being confirmed yet: the hunt stops at the first working
// transport.
func (s *Session) probeUnknown(ctx context.Context) error {
	tried := make(map[string]bool, len(s.matched))
	for _, p := range s.matched {
		if p.BLE.WriteCharUUID != "" {
			tried[gatt.Normalize(p.BLE.WriteCharUUID)] = true
		}
	}
	var candidates []string
	for _, c := range s.snap.Writable() {
		if uuid := gatt.Normalize(c.UUID); !tried[uuid] {
			candidates = append(candidates, uuid)
		}
	}
	if len(candidates) == 0 {
		slog.Info("[Session] no unclaimed writable characteristics to probe")
		return nil
	}

	// Round A: a numbered ESC/POS print on every candidate. A write
	// error eliminates that characteristic only, not the round.
	for _, uuid := range candidates {
		if s.anyConfirmed() {
			break
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		slog.Info("[Session] round A, escpos probe", "char", gatt.Short(uuid))
		label := s.labels.Next()
		ok, err := s.probe(ctx, uuid, protocol.ESCPOS,
			protocol.TestPrint(label, s.opts.Chunk),
			protocol.TestQuestion(protocol.ESCPOS, label), "")
		if err != nil {
			return err
		}
		if ok {
			break
		}
	}

	// Round B: the D1 staged bitmap through ff02, with ff01 as a
	// corroborating side channel. Notifications alone never confirm.
	if !s.anyConfirmed() && hasUUID(candidates, d1WriteChar) {
		if err := ctx.Err(); err != nil {
			return err
		}
		slog.Info("[Session] round B, d1 probe", "char", gatt.Short(d1WriteChar))
		if _, err := s.probe(ctx, d1WriteChar, protocol.D1,
			protocol.BorderCard(s.opts.Chunk),
			protocol.TestQuestion(protocol.D1, ""), d1NotifyChar); err != nil {
			return err
		}
	}

	// Round C: the fixed GT01 feed packet through ae01.
	if !s.anyConfirmed() && hasUUID(candidates, gt01ControlChar) {
		if err := ctx.Err(); err != nil {
			return err
		}
		slog.Info("[Session] round C, gt01 probe", "char", gatt.Short(gt01ControlChar))
		if _, err := s.probe(ctx, gt01ControlChar, protocol.GT01,
			protocol.FeedTest(),
			protocol.TestQuestion(protocol.GT01, ""), ""); err != nil {
			return err
		}
	}
	return nil
}

// testCapabilities runs the four ESC/POS attribute tests against the
// confirmed ESC/POS characteristic. Tests are independent: a write error
// records write_error for that capability and moves on.
func (s *Session) testCapabilities(ctx context.Context) error {
	uuid, ok := s.escposChar()
	if !ok {
		return nil
	}
	ch, err := s.link.Characteristic(uuid)
	if err != nil {
		slog.Warn("[Session] confirmed characteristic unavailable for capability tests",
			"char", gatt.Short(uuid), "error", err)
		return nil
	}

	caps := protocol.Capabilities()
	s.caps = make(map[string]report.CapabilityResult, len(caps))
	for _, name := range caps {
		if err := ctx.Err(); err != nil {
			return err
		}
		label := s.labels.Next()
		slog.Info("[Session] capability test", "capability", name, "label", label)
		if err := transport.RunStagesNotify(ctx, ch, protocol.CapabilityTest(name, label, s.opts.Chunk), s.opts.Notify); err != nil {
			if cerr := ctx.Err(); cerr != nil {
				return cerr
			}
			slog.Warn("[Session] capability test transmission failed", "capability", name, "error", err)
			s.caps[name] = report.CapabilityResult{WriteError: true}
			continue
		}
		s.flushPause(ctx)
		yes, err := s.oracle.Confirm(protocol.CapabilityQuestion(name, label))
		if err != nil {
			return fmt.Errorf("session: awaiting capability verdict: %w", err)
		}
		s.caps[name] = report.CapabilityResult{Supported: yes}
	}
	return nil
}

// assembleReport merges all accumulated state into the terminal report.
// Confirmed characteristics and capabilities stay nil when the session
// found nothing.
func (s *Session) assembleReport() *report.Report {
	var ids []string
	for _, p := range s.matched {
		ids = append(ids, p.ID)
	}
	var results map[string]report.ProbingResult
	if len(s.results) > 0 {
		results = s.results
	}

	r := &report.Report{
		GeneratedAt:     time.Now().UTC(),
		Device:          report.Device{Name: s.snap.Name, Address: s.snap.Address},
		DeviceInfo:      s.devInfo,
		Context:         s.devCtx,
		MatchedProfiles: ids,
		ConfirmedChars:  s.confirmed,
		Capabilities:    s.caps,
		Gatt:            s.snap,
		ProbingResults:  results,
	}
	slog.Info("[Session] discovery finished",
		"confirmed", len(s.confirmed),
		"probed", len(s.results))
	return r
}

// probe sends one protocol test to a characteristic, waits for the
// flush pause, and asks the operator for a verdict. The bool reports
// whether the characteristic was confirmed. Transport failures become
// per-target outcomes, never errors; only cancellation and oracle
// failure propagate.
func (s *Session) probe(ctx context.Context, uuid string, proto protocol.Name, stages []protocol.Stage, question, notifyUUID string) (bool, error) {
	ch, err := s.link.Characteristic(uuid)
	if err != nil {
		slog.Warn("[Session] characteristic unavailable", "char", gatt.Short(uuid), "error", err)
		s.record(uuid, proto, report.OutcomeWriteError)
		return false, nil
	}

	var notified *atomic.Bool
	if notifyUUID != "" {
		notified = s.notifyFlag(gatt.Normalize(notifyUUID))
	}
	if notified != nil {
		notified.Store(false)
	}

	if err := transport.RunStagesNotify(ctx, ch, stages, s.opts.Notify); err != nil {
		if cerr := ctx.Err(); cerr != nil {
			return false, cerr
		}
		slog.Warn("[Session] probe transmission failed",
			"char", gatt.Short(uuid), "protocol", proto, "error", err)
		s.record(uuid, proto, report.OutcomeWriteError)
		return false, nil
	}

	s.flushPause(ctx)

	yes, err := s.oracle.Confirm(question)
	if err != nil {
		return false, fmt.Errorf("session: awaiting probe verdict: %w", err)
	}
	switch {
	case yes:
		s.confirm(uuid, proto)
		return true, nil
	case notified != nil && notified.Load():
		s.record(uuid, proto, report.OutcomeNotifyOnly)
	default:
		s.record(uuid, proto, report.OutcomeNoResponse)
	}
	return false, nil
}

// notifyFlag returns the notification-seen flag for a characteristic,
// subscribing on first use. Probes clear it before transmitting and read
// it after the verdict.
func (s *Session) notifyFlag(uuid string) *atomic.Bool {
	if f, ok := s.notifySeen[uuid]; ok {
		return f
	}
	if !s.snap.HasCharacteristic(uuid) {
		return nil
	}
	ch, err := s.link.Characteristic(uuid)
	if err != nil {
		return nil
	}
	f := new(atomic.Bool)
	if err := ch.Subscribe(func([]byte) { f.Store(true) }); err != nil {
		slog.Debug("[Session] subscribe failed", "char", gatt.Short(uuid), "error", err)
		return nil
	}
	s.notifySeen[uuid] = f
	return f
}

// flushPause gives the printer time to commit buffered data to paper
// before the operator is asked what they saw.
func (s *Session) flushPause(ctx context.Context) {
	select {
	case <-time.After(s.opts.FlushPause):
	case <-ctx.Done():
	}
}

func (s *Session) confirm(uuid string, proto protocol.Name) {
	s.confirmed = append(s.confirmed, report.ConfirmedChar{UUID: uuid, Protocol: proto})
	s.results[uuid] = report.ProbingResult{Protocol: proto, Outcome: report.OutcomePrinted}
	slog.Info("[Session] protocol confirmed", "char", gatt.Short(uuid), "protocol", proto)
}

// record stores a probing outcome. A printed verdict is final: later
// attempts against the same characteristic never downgrade it.
func (s *Session) record(uuid string, proto protocol.Name, outcome report.Outcome) {
	if prev, ok := s.results[uuid]; ok && prev.Outcome == report.OutcomePrinted {
		return
	}
	s.results[uuid] = report.ProbingResult{Protocol: proto, Outcome: outcome}
}

func (s *Session) anyConfirmed() bool {
	return len(s.confirmed) > 0
}

func (s *Session) isConfirmed(uuid string) bool {
	for _, c := range s.confirmed {
		if c.UUID == uuid {
			return true
		}
	}
	return false
}

// escposChar returns the first confirmed ESC/POS characteristic.
func (s *Session) escposChar() (string, bool) {
	for _, c := range s.confirmed {
		if c.Protocol == protocol.ESCPOS {
			return c.UUID, true
		}
	}
	return "", false
}

func hasUUID(uuids []string, want string) bool {
	for _, u := range uuids {
		if u == want {
			return true
		}
	}
	return false
}

// parsePaperWidth accepts "58", "58mm", or garbage, defaulting to 58.
func parsePaperWidth(answer string) int {
	answer = strings.TrimSpace(answer)
	answer = strings.TrimSuffix(answer, "mm")
	answer = strings.TrimSpace(answer)
	n, err := strconv.Atoi(answer)
	if err != nil || n <= 0 {
		return defaultPaperWidthMm
	}
	return n
}
