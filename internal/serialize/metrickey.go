package serialize

import (
	"strings"

	"github.com/dynatrace-oss/dynatrace-metric-utils-go/normalize"
)

// MaxMetricKeyLength is the longest metric key the ingest API accepts.
const MaxMetricKeyLength = 250

// NormalizeMetricKey restricts a metric key to letters, digits, '_' and '-'
// within dot-separated sections, preserving case, using the ingest library's
// rules. It returns false when the first section is empty or when nothing
// but separators is left.
func NormalizeMetricKey(raw string) (string, bool) {
	key, err := normalize.MetricKey(raw)
	if err != nil || !hasAlphanumeric(key) {
		return "", false
	}

	return key, true
}

func hasAlphanumeric(s string) bool {
	return strings.IndexFunc(s, func(r rune) bool {
		return (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9')
	}) >= 0
}
