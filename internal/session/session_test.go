package session

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/derSebastian/ble-printer-probe/internal/gatt"
	"github.com/derSebastian/ble-printer-probe/internal/profile"
	"github.com/derSebastian/ble-printer-probe/internal/protocol"
	"github.com/derSebastian/ble-printer-probe/internal/report"
	"github.com/derSebastian/ble-printer-probe/internal/transport"
)

// scriptOracle answers from a prepared script and records every question
// it was asked.
type scriptOracle struct {
	asks       []string // Ask questions, in order
	defaults   []string // the default offered with each Ask
	askAnswers []string // per-call answers; "" falls back to the default
	confirms   []string // Confirm questions, in order
	answers    []bool   // popped per Confirm call; exhausted means no
	confirmErr error
}

func (o *scriptOracle) Ask(question, defaultValue string) (string, error) {
	i := len(o.asks)
	o.asks = append(o.asks, question)
	o.defaults = append(o.defaults, defaultValue)
	if i < len(o.askAnswers) && o.askAnswers[i] != "" {
		return o.askAnswers[i], nil
	}
	return defaultValue, nil
}

func (o *scriptOracle) Confirm(question string) (bool, error) {
	o.confirms = append(o.confirms, question)
	if o.confirmErr != nil {
		return false, o.confirmErr
	}
	if len(o.answers) == 0 {
		return false, nil
	}
	a := o.answers[0]
	o.answers = o.answers[1:]
	return a, nil
}

// fakeChannel records writes and can fail from a given write index on.
type fakeChannel struct {
	mu      sync.Mutex
	writes  [][]byte
	failAt  int // fail writes with index >= failAt; -1 never fails
	notify  func([]byte)
	onWrite func() // fired after each successful write
	data    []byte
	readErr error
}

func newFakeChannel() *fakeChannel {
	return &fakeChannel{failAt: -1}
}

func (c *fakeChannel) Write(p []byte, withResponse bool) error {
	c.mu.Lock()
	if c.failAt >= 0 && len(c.writes) >= c.failAt {
		c.mu.Unlock()
		return errors.New("att write rejected")
	}
	buf := make([]byte, len(p))
	copy(buf, p)
	c.writes = append(c.writes, buf)
	hook := c.onWrite
	c.mu.Unlock()
	if hook != nil {
		hook()
	}
	return nil
}

func (c *fakeChannel) Subscribe(fn func(p []byte)) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.notify = fn
	return nil
}

func (c *fakeChannel) Read() ([]byte, error) {
	if c.readErr != nil {
		return nil, c.readErr
	}
	return c.data, nil
}

// fire delivers a notification to the subscriber, if any.
func (c *fakeChannel) fire(p []byte) {
	c.mu.Lock()
	fn := c.notify
	c.mu.Unlock()
	if fn != nil {
		fn(p)
	}
}

func (c *fakeChannel) writeCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.writes)
}

func (c *fakeChannel) concat() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	var all []byte
	for _, w := range c.writes {
		all = append(all, w...)
	}
	return all
}

var _ transport.Channel = (*fakeChannel)(nil)

type fakeLink struct {
	snap     *gatt.Snapshot
	channels map[string]*fakeChannel
}

func newFakeLink(snap *gatt.Snapshot, channels map[string]*fakeChannel) *fakeLink {
	m := make(map[string]*fakeChannel, len(channels))
	for uuid, ch := range channels {
		m[gatt.Normalize(uuid)] = ch
	}
	return &fakeLink{snap: snap, channels: m}
}

func (l *fakeLink) Snapshot() *gatt.Snapshot { return l.snap }

func (l *fakeLink) Characteristic(uuid string) (transport.Channel, error) {
	ch, ok := l.channels[gatt.Normalize(uuid)]
	if !ok {
		return nil, fmt.Errorf("characteristic %s not found", uuid)
	}
	return ch, nil
}

var _ Link = (*fakeLink)(nil)

func chr(uuid string, props gatt.Props) gatt.Characteristic {
	return gatt.Characteristic{UUID: gatt.Normalize(uuid), Props: props}
}

func svc(uuid string, chars ...gatt.Characteristic) gatt.Service {
	return gatt.Service{UUID: gatt.Normalize(uuid), Characteristics: chars}
}

// fastOptions keeps test sessions from sleeping through real hardware
// pacing.
func fastOptions(db *profile.Database) Options {
	return Options{
		DB:         db,
		FlushPause: time.Millisecond,
		Chunk:      protocol.ChunkParams{Size: 2048, Delay: time.Microsecond},
	}
}

func d1Database(t *testing.T) *profile.Database {
	t.Helper()
	db, err := profile.New(1, []*profile.Profile{{
		ID:       "d1",
		Name:     "D1 Label Printer",
		Protocol: protocol.D1,
		BLE: profile.BLE{
			ServiceUUID:    "ff00",
			WriteCharUUID:  "ff02",
			NotifyCharUUID: "ff01",
			ChunkSize:      512,
			ChunkDelayMs:   1,
		},
	}})
	if err != nil {
		t.Fatalf("building database: %v", err)
	}
	return db
}

// The matched-profile path end to end: a D1 device is identified through
// its profile, the staged test lands on the declared characteristic, and
// a yes verdict confirms without any elimination probing.
func TestKnownProfileTrialConfirmsD1(t *testing.T) {
	snap := &gatt.Snapshot{
		Name:    "D1-0F32",
		Address: "aa:bb:cc:dd:ee:ff",
		Services: []gatt.Service{
			svc("ff00",
				chr("ff01", gatt.PropNotify),
				chr("ff02", gatt.PropWrite|gatt.PropWriteWithoutResponse),
			),
		},
	}
	writeChan := newFakeChannel()
	notifyChan := newFakeChannel()
	link := newFakeLink(snap, map[string]*fakeChannel{"ff02": writeChan, "ff01": notifyChan})
	oracle := &scriptOracle{answers: []bool{true}}

	rep, err := New(link, oracle, fastOptions(d1Database(t))).Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if len(rep.MatchedProfiles) != 1 || rep.MatchedProfiles[0] != "d1" {
		t.Errorf("MatchedProfiles = %v, want [d1]", rep.MatchedProfiles)
	}
	want := report.ConfirmedChar{
		UUID:     "0000ff02-0000-1000-8000-00805f9b34fb",
		Protocol: protocol.D1,
	}
	if len(rep.ConfirmedChars) != 1 || rep.ConfirmedChars[0] != want {
		t.Errorf("ConfirmedChars = %+v, want [%+v]", rep.ConfirmedChars, want)
	}
	if got := rep.ProbingResults[want.UUID]; got.Outcome != report.OutcomePrinted {
		t.Errorf("probing result = %+v, want printed", got)
	}
	if rep.Capabilities != nil {
		t.Errorf("Capabilities = %v, want nil for a non-escpos confirmation", rep.Capabilities)
	}

	// Exactly one question: the D1 border card. No elimination rounds ran.
	if len(oracle.confirms) != 1 || !strings.Contains(oracle.confirms[0], "black bordered rectangle") {
		t.Errorf("confirms = %q, want the single D1 question", oracle.confirms)
	}

	// init + wake + image + feed/stop, complete and in order.
	sent := writeChan.concat()
	if len(sent) != 4+1024+1544+9 {
		t.Errorf("device received %d bytes, want 2581", len(sent))
	}
	if !bytes.HasPrefix(sent, []byte{0x10, 0xff, 0xfe, 0x01}) {
		t.Errorf("transmission starts with % x, want the D1 init command", sent[:4])
	}
}

// Round gating: the first Round A confirmation stops the hunt before
// ff02 and ae01 are ever touched, then capability testing runs against
// the confirmed characteristic.
func TestRoundAConfirmationSkipsLaterRounds(t *testing.T) {
	snap := &gatt.Snapshot{
		Name:    "NONAME",
		Address: "11:22:33:44:55:66",
		Services: []gatt.Service{
			svc("fff0", chr("1234", gatt.PropWriteWithoutResponse)),
			svc("ff00", chr("ff02", gatt.PropWrite)),
			svc("ae30", chr("ae01", gatt.PropWriteWithoutResponse)),
		},
	}
	probed := newFakeChannel()
	d1Chan := newFakeChannel()
	gtChan := newFakeChannel()
	link := newFakeLink(snap, map[string]*fakeChannel{
		"1234": probed, "ff02": d1Chan, "ae01": gtChan,
	})
	oracle := &scriptOracle{answers: []bool{true, true, false, true, false}}

	rep, err := New(link, oracle, fastOptions(nil)).Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if len(rep.ConfirmedChars) != 1 || rep.ConfirmedChars[0].Protocol != protocol.ESCPOS {
		t.Fatalf("ConfirmedChars = %+v, want one escpos entry", rep.ConfirmedChars)
	}
	if d1Chan.writeCount() != 0 || gtChan.writeCount() != 0 {
		t.Errorf("later-round characteristics were written to: ff02=%d ae01=%d writes",
			d1Chan.writeCount(), gtChan.writeCount())
	}
	if len(rep.ProbingResults) != 1 {
		t.Errorf("ProbingResults = %+v, want only the confirmed characteristic", rep.ProbingResults)
	}

	// One probe verdict plus four capability verdicts.
	if len(oracle.confirms) != 5 {
		t.Fatalf("confirms = %d questions, want 5:\n%s", len(oracle.confirms), strings.Join(oracle.confirms, "\n"))
	}
	if !strings.Contains(oracle.confirms[1], `"TEST 2"`) {
		t.Errorf("capability question should name its label: %q", oracle.confirms[1])
	}
	wantCaps := map[string]report.CapabilityResult{
		"bold":          {Supported: true},
		"double_width":  {Supported: false},
		"double_height": {Supported: true},
		"underline":     {Supported: false},
	}
	for name, want := range wantCaps {
		if got := rep.Capabilities[name]; got != want {
			t.Errorf("capability %s = %+v, want %+v", name, got, want)
		}
	}

	// Probe print plus four capability prints on the confirmed channel.
	if probed.writeCount() != 5 {
		t.Errorf("confirmed channel saw %d writes, want 5", probed.writeCount())
	}
}

// A device nothing matches and nothing confirms: the report still
// assembles, with null confirmed characteristics and capabilities.
func TestNoMatchNoConfirmationReport(t *testing.T) {
	snap := &gatt.Snapshot{
		Address: "11:22:33:44:55:66",
		Services: []gatt.Service{
			svc("fff0", chr("1234", gatt.PropWrite)),
		},
	}
	ch := newFakeChannel()
	link := newFakeLink(snap, map[string]*fakeChannel{"1234": ch})
	oracle := &scriptOracle{} // every verdict is no

	rep, err := New(link, oracle, fastOptions(nil)).Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	// No ff02, no ae01: rounds B and C cannot run, so exactly one
	// question was asked.
	if len(oracle.confirms) != 1 {
		t.Fatalf("confirms = %q, want a single round A question", oracle.confirms)
	}
	got := rep.ProbingResults["00001234-0000-1000-8000-00805f9b34fb"]
	if got.Protocol != protocol.ESCPOS || got.Outcome != report.OutcomeNoResponse {
		t.Errorf("probing result = %+v, want escpos / no_response", got)
	}

	data, err := json.Marshal(rep)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	for _, wantNull := range []string{`"confirmedChars":null`, `"capabilities":null`} {
		if !bytes.Contains(data, []byte(wantNull)) {
			t.Errorf("report JSON missing %s:\n%s", wantNull, data)
		}
	}
}

// A matched profile whose declared characteristic is missing is skipped
// without killing the session; elimination probing then reprobes ff02
// with D1 and classifies the no-verdict as notify_only because the
// device chattered on ff01 during the test.
func TestMissingDeclaredCharThenNotifyOnly(t *testing.T) {
	db, err := profile.New(1, []*profile.Profile{{
		ID:       "ghost",
		Name:     "Ghost Printer",
		Protocol: protocol.ESCPOS,
		BLE:      profile.BLE{ServiceUUID: "ff00", WriteCharUUID: "dead"},
	}})
	if err != nil {
		t.Fatalf("building database: %v", err)
	}

	snap := &gatt.Snapshot{
		Address: "aa:aa:aa:aa:aa:aa",
		Services: []gatt.Service{
			svc("ff00",
				chr("ff01", gatt.PropNotify),
				chr("ff02", gatt.PropWrite|gatt.PropWriteWithoutResponse),
			),
		},
	}
	writeChan := newFakeChannel()
	notifyChan := newFakeChannel()
	writeChan.onWrite = func() { notifyChan.fire([]byte{0x01}) }
	link := newFakeLink(snap, map[string]*fakeChannel{"ff02": writeChan, "ff01": notifyChan})
	oracle := &scriptOracle{} // no to everything

	rep, err := New(link, oracle, fastOptions(db)).Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if len(rep.MatchedProfiles) != 1 || rep.MatchedProfiles[0] != "ghost" {
		t.Errorf("MatchedProfiles = %v, want [ghost]", rep.MatchedProfiles)
	}
	if len(oracle.confirms) != 2 {
		t.Fatalf("confirms = %q, want round A then round B", oracle.confirms)
	}
	if !strings.Contains(oracle.confirms[0], `"TEST 1"`) {
		t.Errorf("round A question = %q, want the numbered label", oracle.confirms[0])
	}
	if !strings.Contains(oracle.confirms[1], "black bordered rectangle") {
		t.Errorf("round B question = %q, want the D1 question", oracle.confirms[1])
	}

	got := rep.ProbingResults["0000ff02-0000-1000-8000-00805f9b34fb"]
	if got.Protocol != protocol.D1 || got.Outcome != report.OutcomeNotifyOnly {
		t.Errorf("probing result = %+v, want d1 / notify_only", got)
	}
	if rep.ConfirmedChars != nil {
		t.Errorf("ConfirmedChars = %+v, want nil: notifications alone never confirm", rep.ConfirmedChars)
	}
}

// A write failure eliminates one characteristic and the round moves on
// to the next candidate.
func TestWriteErrorSkipsToNextCandidate(t *testing.T) {
	snap := &gatt.Snapshot{
		Address: "aa:aa:aa:aa:aa:aa",
		Services: []gatt.Service{
			svc("fff0",
				chr("aaa1", gatt.PropWrite),
				chr("aaa2", gatt.PropWrite),
			),
		},
	}
	broken := newFakeChannel()
	broken.failAt = 0
	working := newFakeChannel()
	link := newFakeLink(snap, map[string]*fakeChannel{"aaa1": broken, "aaa2": working})
	oracle := &scriptOracle{answers: []bool{true, true, true, true, true}}

	rep, err := New(link, oracle, fastOptions(nil)).Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if got := rep.ProbingResults["0000aaa1-0000-1000-8000-00805f9b34fb"]; got.Outcome != report.OutcomeWriteError {
		t.Errorf("aaa1 = %+v, want write_error", got)
	}
	if got := rep.ProbingResults["0000aaa2-0000-1000-8000-00805f9b34fb"]; got.Outcome != report.OutcomePrinted {
		t.Errorf("aaa2 = %+v, want printed", got)
	}
	if len(rep.ConfirmedChars) != 1 || !strings.HasPrefix(rep.ConfirmedChars[0].UUID, "0000aaa2") {
		t.Errorf("ConfirmedChars = %+v, want aaa2 only", rep.ConfirmedChars)
	}
	// The broken characteristic never got a question.
	if len(oracle.confirms) != 5 {
		t.Errorf("confirms = %d, want 5 (probe + four capabilities)", len(oracle.confirms))
	}
}

// Capability tests are independent: a transport failure mid-way records
// write_error for the remaining tests without asking about them.
func TestCapabilityWriteErrorContinues(t *testing.T) {
	snap := &gatt.Snapshot{
		Address: "aa:aa:aa:aa:aa:aa",
		Services: []gatt.Service{
			svc("fff0", chr("c001", gatt.PropWrite)),
		},
	}
	ch := newFakeChannel()
	ch.failAt = 3 // probe print, bold, double_width succeed, then the link dies
	link := newFakeLink(snap, map[string]*fakeChannel{"c001": ch})
	oracle := &scriptOracle{answers: []bool{true, true, false}}

	rep, err := New(link, oracle, fastOptions(nil)).Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	wantCaps := map[string]report.CapabilityResult{
		"bold":          {Supported: true},
		"double_width":  {Supported: false},
		"double_height": {WriteError: true},
		"underline":     {WriteError: true},
	}
	for name, want := range wantCaps {
		if got := rep.Capabilities[name]; got != want {
			t.Errorf("capability %s = %+v, want %+v", name, got, want)
		}
	}
	if len(oracle.confirms) != 3 {
		t.Errorf("confirms = %d, want 3: failed capability tests ask nothing", len(oracle.confirms))
	}
}

// Context collection suggests Device Information Service values as
// defaults and parses the paper width answer.
func TestContextCollectionWithDeviceInfo(t *testing.T) {
	snap := &gatt.Snapshot{
		Name:    "T02",
		Address: "aa:aa:aa:aa:aa:aa",
		Services: []gatt.Service{
			svc("180a",
				chr("2a24", gatt.PropRead),
				chr("2a29", gatt.PropRead),
			),
		},
	}
	model := newFakeChannel()
	model.data = []byte("T02-XYZ")
	manuf := newFakeChannel()
	manuf.data = []byte("Phomemo\x00\x00")
	link := newFakeLink(snap, map[string]*fakeChannel{"2a24": model, "2a29": manuf})
	oracle := &scriptOracle{askAnswers: []string{"T02", "", "53mm", "Fun Print"}}

	rep, err := New(link, oracle, fastOptions(nil)).Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if len(oracle.asks) != 4 {
		t.Fatalf("asks = %q, want the four context questions", oracle.asks)
	}
	if oracle.defaults[0] != "T02-XYZ" {
		t.Errorf("model default = %q, want the DIS model number", oracle.defaults[0])
	}
	if oracle.defaults[1] != "Phomemo" {
		t.Errorf("brand default = %q, want the DIS manufacturer", oracle.defaults[1])
	}
	if oracle.defaults[2] != "58" {
		t.Errorf("paper width default = %q, want 58", oracle.defaults[2])
	}

	want := report.Context{Model: "T02", Brand: "Phomemo", PaperWidthMm: 53, App: "Fun Print"}
	if rep.Context != want {
		t.Errorf("Context = %+v, want %+v", rep.Context, want)
	}
	if rep.DeviceInfo == nil || rep.DeviceInfo.ModelNumber != "T02-XYZ" || rep.DeviceInfo.Manufacturer != "Phomemo" {
		t.Errorf("DeviceInfo = %+v", rep.DeviceInfo)
	}
	if len(oracle.confirms) != 0 {
		t.Errorf("no writable characteristics, but %d probes ran", len(oracle.confirms))
	}
}

// Identification-only profiles match but have nothing to send.
func TestIdentificationOnlyProfileSkipsTrial(t *testing.T) {
	db, err := profile.New(1, []*profile.Profile{{
		ID:       "jx-58",
		Name:     "JX-58",
		Protocol: protocol.Unknown,
		BLE:      profile.BLE{ServiceUUID: "e7810a71-73ae-499d-8c15-faa9aef0c3f2"},
		Notes:    "identification only",
	}})
	if err != nil {
		t.Fatalf("building database: %v", err)
	}

	snap := &gatt.Snapshot{
		Address: "aa:aa:aa:aa:aa:aa",
		Services: []gatt.Service{
			svc("e7810a71-73ae-499d-8c15-faa9aef0c3f2", chr("bef8d6c9-9c21-4c9e-b632-bd58c1009f9f", gatt.PropWrite)),
		},
	}
	ch := newFakeChannel()
	link := newFakeLink(snap, map[string]*fakeChannel{"bef8d6c9-9c21-4c9e-b632-bd58c1009f9f": ch})
	oracle := &scriptOracle{}

	rep, err := New(link, oracle, fastOptions(db)).Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if len(rep.MatchedProfiles) != 1 || rep.MatchedProfiles[0] != "jx-58" {
		t.Errorf("MatchedProfiles = %v, want [jx-58]", rep.MatchedProfiles)
	}
	// The unclaimed writable characteristic still went through round A.
	if len(oracle.confirms) != 1 {
		t.Errorf("confirms = %q, want one round A probe", oracle.confirms)
	}
	if ch.writeCount() == 0 {
		t.Error("writable characteristic was never probed")
	}
}

func TestOracleFailureAbortsSession(t *testing.T) {
	snap := &gatt.Snapshot{
		Address: "aa:aa:aa:aa:aa:aa",
		Services: []gatt.Service{
			svc("fff0", chr("1234", gatt.PropWrite)),
		},
	}
	link := newFakeLink(snap, map[string]*fakeChannel{"1234": newFakeChannel()})
	dead := errors.New("stdin closed")
	oracle := &scriptOracle{confirmErr: dead}

	_, err := New(link, oracle, fastOptions(nil)).Run(context.Background())
	if !errors.Is(err, dead) {
		t.Errorf("Run error = %v, want the oracle failure", err)
	}
}

func TestCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	snap := &gatt.Snapshot{Address: "aa:aa:aa:aa:aa:aa"}
	link := newFakeLink(snap, nil)

	_, err := New(link, &scriptOracle{}, fastOptions(nil)).Run(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Run error = %v, want context.Canceled", err)
	}
}

func TestLabelCounter(t *testing.T) {
	c := &LabelCounter{}
	if got := c.Next(); got != "TEST 1" {
		t.Errorf("first label = %q, want TEST 1", got)
	}
	if got := c.Next(); got != "TEST 2" {
		t.Errorf("second label = %q, want TEST 2", got)
	}
}

func TestParsePaperWidth(t *testing.T) {
	cases := []struct {
		in   string
		want int
	}{
		{"58", 58},
		{" 53mm ", 53},
		{"80 mm", 80},
		{"", 58},
		{"wide", 58},
		{"0", 58},
		{"-3", 58},
	}
	for _, c := range cases {
		if got := parsePaperWidth(c.in); got != c.want {
			t.Errorf("parsePaperWidth(%q) = %d, want %d", c.in, got, c.want)
		}
	}
}
