package protocol

import (
	"fmt"
	"time"
)

// ESC/POS opcode sequences shared by the test builders.
var (
	escReset        = []byte{0x1b, 0x40}       // ESC @  initialize
	escBoldOn       = []byte{0x1b, 0x45, 0x01} // ESC E 1
	escBoldOff      = []byte{0x1b, 0x45, 0x00} // ESC E 0
	gsDoubleWidth   = []byte{0x1d, 0x21, 0x10} // GS ! width bit
	gsDoubleHeight  = []byte{0x1d, 0x21, 0x01} // GS ! height bit
	gsSizeNormal    = []byte{0x1d, 0x21, 0x00} // GS ! reset
	escUnderlineOn  = []byte{0x1b, 0x2d, 0x01} // ESC - 1
	escUnderlineOff = []byte{0x1b, 0x2d, 0x00} // ESC - 0
	escFeed3        = []byte{0x1b, 0x64, 0x03} // ESC d 3  feed 3 lines
	gsPartialCut    = []byte{0x1d, 0x56, 0x01} // GS V 1   partial cut
)

// escposPostPause gives the mechanism time to finish the line before the
// next write lands.
const escposPostPause = 300 * time.Millisecond

// TestPrint builds the single-stage ESC/POS identification print: reset,
// normal weight, one label line, feed, partial cut. The label is the only
// variable content; the session numbers it so the operator can answer
// about one specific printed line.
func TestPrint(label string, cp ChunkParams) []Stage {
	cp = cp.orDefault()
	var buf []byte
	buf = append(buf, escReset...)
	buf = append(buf, escBoldOff...)
	buf = append(buf, label...)
	buf = append(buf, '\n')
	buf = append(buf, escFeed3...)
	buf = append(buf, gsPartialCut...)
	return []Stage{{
		Name:       "escpos-test-print",
		Payload:    buf,
		ChunkSize:  cp.Size,
		ChunkDelay: cp.Delay,
		PostPause:  escposPostPause,
	}}
}

// ESC/POS attribute capabilities, in the order capability testing runs
// them.
const (
	CapBold         = "bold"
	CapDoubleWidth  = "double_width"
	CapDoubleHeight = "double_height"
	CapUnderline    = "underline"
)

// Capabilities returns the testable capability names in test order.
func Capabilities() []string {
	return []string{CapBold, CapDoubleWidth, CapDoubleHeight, CapUnderline}
}

// CapabilityTest builds the single-stage test for one ESC/POS attribute:
// reset, enable attribute, labelled line, disable attribute, feed, cut.
// Every test has a binary visual signature independent of locale; there
// is deliberately no code-page test, since "looks correct" is not a
// universal yes/no judgment. Unknown capability names return nil.
func CapabilityTest(capability, label string, cp ChunkParams) []Stage {
	var on, off []byte
	switch capability {
	case CapBold:
		on, off = escBoldOn, escBoldOff
	case CapDoubleWidth:
		on, off = gsDoubleWidth, gsSizeNormal
	case CapDoubleHeight:
		on, off = gsDoubleHeight, gsSizeNormal
	case CapUnderline:
		on, off = escUnderlineOn, escUnderlineOff
	default:
		return nil
	}
	cp = cp.orDefault()
	var buf []byte
	buf = append(buf, escReset...)
	buf = append(buf, on...)
	buf = append(buf, label...)
	buf = append(buf, '\n')
	buf = append(buf, off...)
	buf = append(buf, escFeed3...)
	buf = append(buf, gsPartialCut...)
	return []Stage{{
		Name:       "escpos-" + capability,
		Payload:    buf,
		ChunkSize:  cp.Size,
		ChunkDelay: cp.Delay,
		PostPause:  escposPostPause,
	}}
}

// CapabilityQuestion returns the operator question for one capability
// test, naming the printed label so the answer is about one specific
// line.
func CapabilityQuestion(capability, label string) string {
	switch capability {
	case CapBold:
		return fmt.Sprintf("Did line %q print in a visibly heavier weight?", label)
	case CapDoubleWidth:
		return fmt.Sprintf("Did line %q print double width?", label)
	case CapDoubleHeight:
		return fmt.Sprintf("Did line %q print double height?", label)
	case CapUnderline:
		return fmt.Sprintf("Did line %q print underlined?", label)
	}
	return fmt.Sprintf("Did line %q show the expected change?", label)
}
