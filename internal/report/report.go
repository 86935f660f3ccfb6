// Package report assembles the discovery report, the terminal artifact of a
// probing session. The report carries everything a profile contributor
// needs: device identity, operator context, the full GATT snapshot, every
// probing outcome, and the confirmed characteristic-to-protocol bindings.
package report

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/derSebastian/ble-printer-probe/internal/gatt"
	"github.com/derSebastian/ble-printer-probe/internal/protocol"
)

// Outcome classifies what a single probe attempt did to the device.
type Outcome string

const (
	// OutcomePrinted means the operator confirmed visible output.
	OutcomePrinted Outcome = "printed"
	// OutcomeNoResponse means all writes succeeded but nothing happened.
	OutcomeNoResponse Outcome = "no_response"
	// OutcomeNotifyOnly means no print, but the device sent notifications
	// while the probe ran.
	OutcomeNotifyOnly Outcome = "notify_only"
	// OutcomeWriteError means the transport failed before the probe
	// completed.
	OutcomeWriteError Outcome = "write_error"
)

// ProbingResult records one characteristic trial: which protocol payload
// was sent and what came of it.
type ProbingResult struct {
	Protocol protocol.Name `json:"protocol"`
	Outcome  Outcome       `json:"outcome"`
}

// ConfirmedChar binds a characteristic to a protocol the operator
// verified with their own eyes.
type ConfirmedChar struct {
	UUID     string        `json:"uuid"`
	Protocol protocol.Name `json:"protocol"`
}

// CapabilityResult is the outcome of one ESC/POS attribute test. It
// serializes as true, false, or the string "write_error" when the
// transport failed before the operator could judge.
type CapabilityResult struct {
	Supported  bool
	WriteError bool
}

func (r CapabilityResult) MarshalJSON() ([]byte, error) {
	if r.WriteError {
		return json.Marshal("write_error")
	}
	return json.Marshal(r.Supported)
}

func (r *CapabilityResult) UnmarshalJSON(data []byte) error {
	var b bool
	if err := json.Unmarshal(data, &b); err == nil {
		*r = CapabilityResult{Supported: b}
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("report: capability result must be bool or \"write_error\": %s", data)
	}
	if s != "write_error" {
		return fmt.Errorf("report: unknown capability result %q", s)
	}
	*r = CapabilityResult{WriteError: true}
	return nil
}

// Context is the operator-supplied metadata collected before probing.
type Context struct {
	Model        string `json:"model,omitempty"`
	Brand        string `json:"brand,omitempty"`
	PaperWidthMm int    `json:"paperWidthMm"`
	App          string `json:"app,omitempty"`
}

// DeviceInfo holds the optional Device Information Service strings read
// from the peripheral, when the service is present and readable.
type DeviceInfo struct {
	ModelNumber  string `json:"modelNumber,omitempty"`
	SerialNumber string `json:"serialNumber,omitempty"`
	FirmwareRev  string `json:"firmwareRevision,omitempty"`
	Manufacturer string `json:"manufacturer,omitempty"`
}

// Device identifies the peripheral the session ran against.
type Device struct {
	Name    string `json:"name,omitempty"`
	Address string `json:"address"`
}

// Report is built once at the end of a discovery session and never
// mutated afterwards. ConfirmedChars and Capabilities stay nil, and thus
// serialize as null, when the session confirmed nothing.
type Report struct {
	GeneratedAt     time.Time                   `json:"generatedAt"`
	Device          Device                      `json:"device"`
	DeviceInfo      *DeviceInfo                 `json:"deviceInfo,omitempty"`
	Context         Context                     `json:"context"`
	MatchedProfiles []string                    `json:"matchedProfiles"`
	ConfirmedChars  []ConfirmedChar             `json:"confirmedChars"`
	Capabilities    map[string]CapabilityResult `json:"capabilities"`
	Gatt            *gatt.Snapshot              `json:"gatt"`
	ProbingResults  map[string]ProbingResult    `json:"probingResults"`
}

// Identified reports whether the session pinned at least one
// characteristic to a protocol.
func (r *Report) Identified() bool {
	return len(r.ConfirmedChars) > 0
}

// PrimaryProtocol returns the protocol of the first confirmed
// characteristic, or Unknown when nothing was confirmed.
func (r *Report) PrimaryProtocol() protocol.Name {
	if len(r.ConfirmedChars) == 0 {
		return protocol.Unknown
	}
	return r.ConfirmedChars[0].Protocol
}
