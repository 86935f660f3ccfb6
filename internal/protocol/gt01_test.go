package protocol

import (
	"bytes"
	"testing"
)

func TestFeedPacketFixture(t *testing.T) {
	got := FeedPacket(1)
	want := []byte{0x51, 0x78, 0xbd, 0x00, 0x01, 0x00, 0x01, 0xbd, 0xff}
	if !bytes.Equal(got, want) {
		t.Errorf("FeedPacket(1) = %x, want %x", got, want)
	}
}

func TestFeedPacketClampsLines(t *testing.T) {
	if got, want := FeedPacket(0), FeedPacket(1); !bytes.Equal(got, want) {
		t.Errorf("FeedPacket(0) = %x, want %x", got, want)
	}
	got := FeedPacket(999)
	if len(got) != 9 {
		t.Fatalf("FeedPacket(999) length = %d, want 9", len(got))
	}
	if got[6] != 0xff {
		t.Errorf("FeedPacket(999) payload = %#x, want 0xff", got[6])
	}
	if got[8] != 0xff {
		t.Errorf("FeedPacket(999) terminator = %#x, want 0xff", got[8])
	}
}

func TestFeedPacketChecksumTracksPayload(t *testing.T) {
	a := FeedPacket(1)
	b := FeedPacket(2)
	if a[7] == b[7] {
		t.Errorf("checksum should differ across payloads: %#x vs %#x", a[7], b[7])
	}
	// Frame body XOR: cmd ^ 0 ^ len ^ 0 ^ payload.
	wantB := byte(0xbd ^ 0x01 ^ 0x02)
	if b[7] != wantB {
		t.Errorf("FeedPacket(2) checksum = %#x, want %#x", b[7], wantB)
	}
}

func TestFeedTestSingleStage(t *testing.T) {
	stages := FeedTest()
	if len(stages) != 1 {
		t.Fatalf("FeedTest() returned %d stages, want 1", len(stages))
	}
	if stages[0].Name != "gt01-feed" {
		t.Errorf("stage name = %q, want gt01-feed", stages[0].Name)
	}
	if !bytes.Equal(stages[0].Payload, FeedPacket(1)) {
		t.Errorf("stage payload = %x, want the single-line feed packet", stages[0].Payload)
	}
}
