package protocol

import (
	"crypto/rand"
	"strings"
)

// Room codes are short, case-sensitive identifiers typed by players.
// Broker-generated codes avoid visually ambiguous characters (O, I, 0, 1);
// client-supplied codes only have to satisfy the schema.
const (
	roomCodeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
	minRoomCodeLen   = 4
)

// GenerateRoomCode returns a fresh 4-character room code from the
// unambiguous alphabet. Uniqueness against live rooms is the caller's job.
func GenerateRoomCode() string {
	buf := make([]byte, minRoomCodeLen)
	// rand.Read never fails on supported platforms
	_, _ = rand.Read(buf)
	var b strings.Builder
	for _, c := range buf {
		b.WriteByte(roomCodeAlphabet[int(c)%len(roomCodeAlphabet)])
	}
	return b.String()
}

// NormalizeColor validates a color and canonicalizes it to "#" plus six
// lowercase hex digits. Returns "" when the input is not a 6-hex color.
func NormalizeColor(color string) string {
	if len(color) != 7 || color[0] != '#' {
		return ""
	}
	lower := strings.ToLower(color)
	for _, r := range lower[1:] {
		if (r < '0' || r > '9') && (r < 'a' || r > 'f') {
			return ""
		}
	}
	return lower
}
