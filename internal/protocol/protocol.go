// Package protocol builds the wire payloads understood by the supported
// printer families: ESC/POS command buffers, the D1 staged bitmap
// dialect, and the GT01 packet format. Builders are pure and byte-exact;
// pacing the bytes onto the link is the transport driver's job.
package protocol

import (
	"fmt"
	"time"
)

// Name identifies a wire protocol family.
type Name string

const (
	ESCPOS  Name = "escpos"
	D1      Name = "d1"
	GT01    Name = "gt01"
	Unknown Name = "unknown"
)

// Valid reports whether n is a recognized family.
func (n Name) Valid() bool {
	switch n {
	case ESCPOS, D1, GT01, Unknown:
		return true
	}
	return false
}

// Stage is one transmission unit: a payload plus the chunking and pacing
// it must be written with. A protocol test is an ordered list of stages.
type Stage struct {
	Name       string
	Payload    []byte
	ChunkSize  int
	ChunkDelay time.Duration
	PostPause  time.Duration
}

// ChunkParams carries per-device chunk size and pacing overrides,
// typically a profile's empirically-determined values. Zero fields keep
// the builder defaults.
type ChunkParams struct {
	Size  int
	Delay time.Duration
}

// Defaults for probing devices with no profile. 20-byte chunks fit the
// minimum ATT payload, so unknown hardware is probed at the safest size.
const (
	DefaultChunkSize  = 20
	DefaultChunkDelay = 20 * time.Millisecond
)

func (p ChunkParams) orDefault() ChunkParams {
	if p.Size <= 0 {
		p.Size = DefaultChunkSize
	}
	if p.Delay <= 0 {
		p.Delay = DefaultChunkDelay
	}
	return p
}

// Test builds the identification test for a protocol family: the labelled
// ESC/POS print, the D1 bordered card, or the GT01 feed packet. Unknown
// families return nil; such profiles are identification-only and have no
// test to send.
func Test(n Name, label string, cp ChunkParams) []Stage {
	switch n {
	case ESCPOS:
		return TestPrint(label, cp)
	case D1:
		return BorderCard(cp)
	case GT01:
		return FeedTest()
	}
	return nil
}

// TestQuestion returns the operator confirmation question for a protocol
// test. Each family has a distinct physical success signature, so each
// gets its own unambiguous yes/no question.
func TestQuestion(n Name, label string) string {
	switch n {
	case ESCPOS:
		return fmt.Sprintf("Did the printer print a line reading %q?", label)
	case D1:
		return "Did the printer print a black bordered rectangle?"
	case GT01:
		return "Did the paper advance a few millimetres?"
	}
	return "Did the printer react in any visible way?"
}
