// Package transport paces byte buffers onto a BLE write characteristic:
// fixed-size chunks in strict order with an inter-chunk delay, and
// multi-stage sequences with per-stage settle pauses. Thermal printers
// commonly lack buffering and flow control, so the pacing discipline is
// part of the wire contract.
package transport

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/derSebastian/ble-printer-probe/internal/protocol"
)

// Channel is the I/O surface of one GATT characteristic.
type Channel interface {
	// Write sends one chunk, with or without a link-layer response.
	Write(p []byte, withResponse bool) error
	// Subscribe registers a callback for notifications.
	Subscribe(fn func(p []byte)) error
	// Read reads the current characteristic value.
	Read() ([]byte, error)
}

// ChunkError reports which chunk of a transmission failed. Chunks before
// it may already have reached the device; there is no rollback.
type ChunkError struct {
	Index  int // zero-based chunk number
	Offset int // byte offset of the failed chunk
	Err    error
}

func (e *ChunkError) Error() string {
	return fmt.Sprintf("transport: chunk %d (offset %d): %v", e.Index, e.Offset, e.Err)
}

func (e *ChunkError) Unwrap() error { return e.Err }

// defaultPostPause applies after stages that do not declare their own.
const defaultPostPause = 100 * time.Millisecond

// SendChunked splits buf into consecutive chunks of at most size bytes
// and writes them strictly in order, sleeping delay after each
// successful write before issuing the next. The first failed write
// aborts the remaining chunks and surfaces as a ChunkError. Cancelling
// ctx stops transmission at the next chunk boundary.
func SendChunked(ctx context.Context, ch Channel, buf []byte, size int, delay time.Duration) error {
	return sendChunked(ctx, ch, buf, size, delay, nil)
}

func sendChunked(ctx context.Context, ch Channel, buf []byte, size int, delay time.Duration, sent func(int)) error {
	if size <= 0 {
		return fmt.Errorf("transport: chunk size must be positive, got %d", size)
	}
	for off, idx := 0, 0; off < len(buf); idx++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		end := off + size
		if end > len(buf) {
			end = len(buf)
		}
		if err := ch.Write(buf[off:end], false); err != nil {
			return &ChunkError{Index: idx, Offset: off, Err: err}
		}
		off = end
		if sent != nil {
			sent(off)
		}
		// Pacing gap between chunks; the final chunk needs none.
		if off < len(buf) && delay > 0 {
			time.Sleep(delay)
		}
	}
	return nil
}

// Notify hooks observable transmission points so a UI can render
// progress. Nil fields are skipped.
type Notify struct {
	StageStart func(name string, totalBytes int)
	ChunkSent  func(name string, sentBytes, totalBytes int)
}

// RunStages transmits an ordered stage list: each stage is sent fully
// before the next begins, and every stage is followed by its settle
// pause (or a minimal default when unset). The first stage failure
// aborts the remaining stages; nothing is retried.
func RunStages(ctx context.Context, ch Channel, stages []protocol.Stage) error {
	return RunStagesNotify(ctx, ch, stages, Notify{})
}

// RunStagesNotify is RunStages with progress hooks.
func RunStagesNotify(ctx context.Context, ch Channel, stages []protocol.Stage, n Notify) error {
	for _, st := range stages {
		slog.Debug("[transport] stage start",
			"stage", st.Name, "bytes", len(st.Payload),
			"chunk_size", st.ChunkSize, "chunk_delay", st.ChunkDelay)
		if n.StageStart != nil {
			n.StageStart(st.Name, len(st.Payload))
		}

		var sent func(int)
		if n.ChunkSent != nil {
			name, total := st.Name, len(st.Payload)
			sent = func(off int) { n.ChunkSent(name, off, total) }
		}
		if err := sendChunked(ctx, ch, st.Payload, st.ChunkSize, st.ChunkDelay, sent); err != nil {
			return fmt.Errorf("transport: stage %s: %w", st.Name, err)
		}

		pause := st.PostPause
		if pause <= 0 {
			pause = defaultPostPause
		}
		select {
		case <-time.After(pause):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}
