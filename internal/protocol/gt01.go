package protocol

import "time"

// GT01 frame layout: two sync bytes, command byte, a reserved zero,
// payload length, a second reserved zero, payload, checksum, 0xFF
// terminator.
const (
	gt01Sync0 = 0x51
	gt01Sync1 = 0x78
	gt01End   = 0xff

	gt01CmdFeed = 0xbd
)

// gt01Frame assembles a full packet for one command. The checksum is an
// 8-bit XOR over the frame body (command byte through last payload
// byte). It reproduces the known feed packet exactly, but has only been
// verified against single-byte payloads, which is why FeedPacket is the
// only packet builder exported.
func gt01Frame(cmd byte, payload []byte) []byte {
	buf := make([]byte, 0, len(payload)+8)
	buf = append(buf, gt01Sync0, gt01Sync1)
	buf = append(buf, cmd, 0x00, byte(len(payload)), 0x00)
	buf = append(buf, payload...)
	buf = append(buf, checksum8(buf[2:]))
	buf = append(buf, gt01End)
	return buf
}

// checksum8 XORs body into a single checksum byte.
func checksum8(body []byte) byte {
	var sum byte
	for _, b := range body {
		sum ^= b
	}
	return sum
}

// FeedPacket builds the fixed GT01 paper-feed packet for the given line
// count, clamped to 1..255. FeedPacket(1) is the payload confirmed on
// hardware.
func FeedPacket(lines int) []byte {
	if lines < 1 {
		lines = 1
	}
	if lines > 255 {
		lines = 255
	}
	return gt01Frame(gt01CmdFeed, []byte{byte(lines)})
}

// FeedTest wraps the single-line feed packet as a transmission stage.
func FeedTest() []Stage {
	return []Stage{{
		Name:       "gt01-feed",
		Payload:    FeedPacket(1),
		ChunkSize:  DefaultChunkSize,
		ChunkDelay: DefaultChunkDelay,
		PostPause:  200 * time.Millisecond,
	}}
}
