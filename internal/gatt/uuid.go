package gatt

import "strings"

// baseSuffix is the tail shared by every Bluetooth SIG base UUID. Short
// forms expand into 0000xxxx-0000-1000-8000-00805f9b34fb.
const baseSuffix = "-0000-1000-8000-00805f9b34fb"

// Normalize canonicalizes a Bluetooth UUID for comparison: dashes
// stripped, lowercased, 16-bit and 32-bit short forms expanded into the
// 128-bit base UUID, full-length values re-dashed as 8-4-4-4-12.
// Anything that is not a valid short or full hex UUID comes back
// lowercased but otherwise untouched, so exact non-standard identifiers
// still compare equal. Idempotent.
func Normalize(uuid string) string {
	hex := strings.ToLower(strings.ReplaceAll(uuid, "-", ""))
	if !isHex(hex) {
		return strings.ToLower(uuid)
	}
	switch len(hex) {
	case 4:
		return "0000" + hex + baseSuffix
	case 8:
		return hex + baseSuffix
	case 32:
		return hex[:8] + "-" + hex[8:12] + "-" + hex[12:16] + "-" + hex[16:20] + "-" + hex[20:]
	}
	return strings.ToLower(uuid)
}

// Short reduces a base-UUID form back to its 16-bit hex alias for compact
// display. UUIDs outside the base range are returned normalized.
func Short(uuid string) string {
	n := Normalize(uuid)
	if strings.HasSuffix(n, baseSuffix) && strings.HasPrefix(n, "0000") {
		return n[4:8]
	}
	return n
}

// Equal reports whether two UUIDs refer to the same identifier once
// normalized.
func Equal(a, b string) bool {
	return Normalize(a) == Normalize(b)
}

// isHex reports whether s is non-empty lowercase hex.
func isHex(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}
