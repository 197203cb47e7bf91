package domain

import (
	"encoding/hex"
	"strings"

	"lukechampine.com/blake3"
)

// FingerprintLength is the length of every device fingerprint token
const FingerprintLength = 32

// Fingerprint derives a correlation token from device and network attributes.
// It is only good for grouping likely-same devices; collisions are possible.
func Fingerprint(device DeviceInfo, ip string) string {
	raw := strings.Join([]string{
		device.UserAgent,
		device.ScreenResolution,
		device.Timezone,
		device.Language,
		ip,
	}, "|")
	sum := blake3.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])[:FingerprintLength]
}
