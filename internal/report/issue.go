package report

import (
	"fmt"
	"net/url"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/derSebastian/ble-printer-probe/internal/profile"
	"github.com/derSebastian/ble-printer-probe/internal/protocol"
)

// SuggestedProfile distills an identifying report into a profile skeleton
// for the database: the first confirmed characteristic becomes the write
// target, operator context fills the descriptive fields. Returns nil when
// the session confirmed nothing.
func (r *Report) SuggestedProfile() *profile.Profile {
	if len(r.ConfirmedChars) == 0 {
		return nil
	}
	confirmed := r.ConfirmedChars[0]

	name := strings.TrimSpace(r.Context.Brand + " " + r.Context.Model)
	if name == "" {
		name = r.Device.Name
	}
	id := slug(name)
	if id == "" {
		id = "new-printer"
	}

	widthPx := 384
	if r.Context.PaperWidthMm > 58 {
		widthPx = 576
	}

	p := &profile.Profile{
		ID:       id,
		Name:     name,
		Protocol: confirmed.Protocol,
		BLE: profile.BLE{
			WriteCharUUID: confirmed.UUID,
			ChunkSize:     protocol.DefaultChunkSize,
			ChunkDelayMs:  int(protocol.DefaultChunkDelay.Milliseconds()),
		},
		Paper: profile.Paper{
			WidthPx: widthPx,
			WidthMm: r.Context.PaperWidthMm,
		},
	}
	if r.Gatt != nil {
		if svc, ok := r.Gatt.ServiceOf(confirmed.UUID); ok {
			p.BLE.ServiceUUID = svc
		}
	}
	return p
}

// SuggestedProfileYAML renders the suggested profile as a YAML list entry
// ready to paste under the profiles key of a database file.
func (r *Report) SuggestedProfileYAML() (string, error) {
	p := r.SuggestedProfile()
	if p == nil {
		return "", nil
	}
	data, err := yaml.Marshal([]*profile.Profile{p})
	if err != nil {
		return "", fmt.Errorf("report: marshaling profile snippet: %w", err)
	}
	return string(data), nil
}

// IssueURL builds a prefilled GitHub new-issue link so the operator can
// contribute the discovery upstream. repo is "owner/name"; an empty repo
// yields an empty URL.
func (r *Report) IssueURL(repo string) string {
	if repo == "" {
		return ""
	}

	subject := r.Device.Name
	if subject == "" {
		subject = r.Device.Address
	}
	title := fmt.Sprintf("Printer report: %s", subject)

	var body strings.Builder
	fmt.Fprintf(&body, "## Device\n\n")
	fmt.Fprintf(&body, "- Name: %s\n", r.Device.Name)
	fmt.Fprintf(&body, "- Address: %s\n", r.Device.Address)
	if r.Context.Brand != "" || r.Context.Model != "" {
		fmt.Fprintf(&body, "- Reported as: %s %s\n", r.Context.Brand, r.Context.Model)
	}
	fmt.Fprintf(&body, "- Paper width: %d mm\n", r.Context.PaperWidthMm)
	if len(r.MatchedProfiles) > 0 {
		fmt.Fprintf(&body, "- Matched profiles: %s\n", strings.Join(r.MatchedProfiles, ", "))
	}

	if r.Identified() {
		fmt.Fprintf(&body, "\n## Confirmed\n\n")
		for _, c := range r.ConfirmedChars {
			fmt.Fprintf(&body, "- `%s` speaks %s\n", c.UUID, c.Protocol)
		}
		if snippet, err := r.SuggestedProfileYAML(); err == nil && snippet != "" {
			fmt.Fprintf(&body, "\n## Suggested profile\n\n```yaml\n%s```\n", snippet)
		}
	} else {
		fmt.Fprintf(&body, "\n## Result\n\nNo protocol confirmed. Full report attached below.\n")
	}

	v := url.Values{}
	v.Set("title", title)
	v.Set("body", body.String())
	return "https://github.com/" + repo + "/issues/new?" + v.Encode()
}

// slug lowercases s and squeezes runs of non-alphanumerics into single
// dashes, producing a database-friendly identifier.
func slug(s string) string {
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(s) {
		switch {
		case r >= 'a' && r <= 'z' || r >= '0' && r <= '9':
			b.WriteRune(r)
			dash = false
		default:
			if !dash && b.Len() > 0 {
				b.WriteByte('-')
				dash = true
			}
		}
	}
	return strings.TrimSuffix(b.String(), "-")
}
