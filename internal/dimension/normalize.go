package dimension

import (
	"strings"

	"github.com/dynatrace-oss/dynatrace-metric-utils-go/normalize"
)

// Length limits enforced by the ingest API.
const (
	MaxKeyLength   = 100
	MaxValueLength = 250
)

// NormalizeKey lower-cases raw and restricts it to letters, digits and the
// characters '.', '_', '-' and ':' using the ingest library's rules. Keys
// left with no letter or digit are rejected: the library would turn "~~~"
// into "_".
func NormalizeKey(raw string) (string, bool) {
	key, err := normalize.DimensionKey(raw)
	if err != nil || !hasAlphanumeric(key) {
		return "", false
	}

	return key, true
}

// NormalizeValue escapes '=', ',', ' ', '"' and '\' with a backslash,
// replaces control characters with '_' and truncates to MaxValueLength bytes
// without leaving a dangling escape. A rune split by truncation is dropped.
func NormalizeValue(raw string) string {
	return strings.ToValidUTF8(normalize.DimensionValue(raw), "")
}

func hasAlphanumeric(s string) bool {
	return strings.IndexFunc(s, func(r rune) bool {
		return (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9')
	}) >= 0
}
