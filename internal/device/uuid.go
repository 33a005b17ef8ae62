package device

import (
	"fmt"
	"strings"
)

const sigBaseSuffix = "00001000800000805f9b34fb"

// NormalizeUUID converts a UUID to lowercase without dashes or a 0x prefix.
// Bluetooth SIG base UUIDs are shortened to their 16-bit form.
func NormalizeUUID(uuid string) string {
	u := strings.ToLower(strings.TrimSpace(uuid))
	u = strings.TrimPrefix(u, "0x")
	u = strings.ReplaceAll(u, "-", "")
	if len(u) == 32 && strings.HasPrefix(u, "0000") && strings.HasSuffix(u, sigBaseSuffix) {
		return u[4:8]
	}
	return u
}

// NormalizeUUIDs normalizes every element of uuids.
func NormalizeUUIDs(uuids []string) []string {
	out := make([]string, len(uuids))
	for i, u := range uuids {
		out[i] = NormalizeUUID(u)
	}
	return out
}

// ValidateUUID normalizes uuids and rejects malformed ones.
func ValidateUUID(uuids ...string) ([]string, error) {
	if len(uuids) == 0 {
		return nil, fmt.Errorf("at least one UUID is required")
	}
	out := make([]string, 0, len(uuids))
	for i, raw := range uuids {
		u := NormalizeUUID(raw)
		if len(u) != 4 && len(u) != 32 {
			return nil, fmt.Errorf("invalid UUID format at index %d: %q", i, raw)
		}
		for _, r := range u {
			if !strings.ContainsRune("0123456789abcdef", r) {
				return nil, fmt.Errorf("invalid UUID format at index %d: %q", i, raw)
			}
		}
		out = append(out, u)
	}
	return out, nil
}

// FormatUUID renders a normalized 128-bit UUID in canonical dashed form.
// Short UUIDs are returned unchanged.
func FormatUUID(uuid string) string {
	u := NormalizeUUID(uuid)
	if len(u) != 32 {
		return u
	}
	return fmt.Sprintf("%s-%s-%s-%s-%s", u[0:8], u[8:12], u[12:16], u[16:20], u[20:32])
}
