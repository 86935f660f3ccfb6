package protocol

import (
	"encoding/binary"
	"time"
)

// D1 vendor command set. Init switches the controller into raster mode,
// feed advances the paper, stop finalizes the job. The image header uses
// the GS v 0 raster opcode followed by little-endian geometry.
var (
	d1Init      = []byte{0x10, 0xff, 0xfe, 0x01}
	d1Feed      = []byte{0x10, 0xff, 0xfe, 0x45, 0x03}
	d1Stop      = []byte{0x10, 0xff, 0xfe, 0x10}
	d1ImageHead = []byte{0x1d, 0x76, 0x30, 0x00}
)

// Test card geometry: 384 px wide at 1 bit per pixel, 32 rows, framed by
// a 2 px black border. In D1 raster data a 1 bit is white and a 0 bit is
// black.
const (
	d1CardWidthPx  = 384
	d1CardRows     = 32
	d1CardRowBytes = d1CardWidthPx / 8
	d1BorderPx     = 2
)

// d1WakeLen is the size of the zero padding that brings the controller
// out of low-power mode before image data arrives.
const d1WakeLen = 1024

// BorderCard builds the four-stage D1 identification test: protocol
// init, wake padding, the bordered test card, then feed and stop. Each
// stage carries its own empirically-determined chunking and pacing; the
// wake stage needs the longest settle pause. Non-zero cp fields override
// chunk size and delay on every stage; post-stage pauses stay fixed.
func BorderCard(cp ChunkParams) []Stage {
	stages := []Stage{
		{
			Name:       "d1-init",
			Payload:    append([]byte(nil), d1Init...),
			ChunkSize:  32,
			ChunkDelay: 20 * time.Millisecond,
			PostPause:  200 * time.Millisecond,
		},
		{
			Name:       "d1-wake",
			Payload:    make([]byte, d1WakeLen),
			ChunkSize:  64,
			ChunkDelay: 10 * time.Millisecond,
			PostPause:  800 * time.Millisecond,
		},
		{
			Name:       "d1-image",
			Payload:    cardImage(),
			ChunkSize:  128,
			ChunkDelay: 25 * time.Millisecond,
			PostPause:  300 * time.Millisecond,
		},
		{
			Name:       "d1-feed",
			Payload:    append(append([]byte(nil), d1Feed...), d1Stop...),
			ChunkSize:  16,
			ChunkDelay: 20 * time.Millisecond,
			PostPause:  200 * time.Millisecond,
		},
	}
	for i := range stages {
		if cp.Size > 0 {
			stages[i].ChunkSize = cp.Size
		}
		if cp.Delay > 0 {
			stages[i].ChunkDelay = cp.Delay
		}
	}
	return stages
}

// cardImage renders the image stage payload: raster opcode, width in
// bytes and row count little-endian, then the bitmap rows MSB-first.
func cardImage() []byte {
	buf := make([]byte, 0, len(d1ImageHead)+4+d1CardRows*d1CardRowBytes)
	buf = append(buf, d1ImageHead...)
	buf = binary.LittleEndian.AppendUint16(buf, d1CardRowBytes)
	buf = binary.LittleEndian.AppendUint16(buf, d1CardRows)
	for row := 0; row < d1CardRows; row++ {
		buf = append(buf, cardRow(row)...)
	}
	return buf
}

// cardRow renders one bitmap row: all-black rows at the top and bottom
// of the border, interior rows white with 2 black px on each edge.
func cardRow(row int) []byte {
	out := make([]byte, d1CardRowBytes)
	if row < d1BorderPx || row >= d1CardRows-d1BorderPx {
		return out // all zero bits: fully black
	}
	for i := range out {
		out[i] = 0xff
	}
	out[0] = 0x3f                // two leading black px
	out[d1CardRowBytes-1] = 0xfc // two trailing black px
	return out
}
