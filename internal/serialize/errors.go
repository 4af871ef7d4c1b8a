package serialize

import "fmt"

// Reason classifies why a sample could not be encoded.
type Reason string

// Encode failure reasons.
const (
	ReasonInvalidName     Reason = "InvalidName"
	ReasonNameTooLong     Reason = "NameTooLong"
	ReasonInvalidValue    Reason = "InvalidValue"
	ReasonEmptySummary    Reason = "EmptySummary"
	ReasonLineTooLong     Reason = "LineTooLong"
	ReasonUnsupportedKind Reason = "UnsupportedKind"
)

// EncodeError reports a sample that was rejected. It is per-line and never
// fatal to an export cycle.
type EncodeError struct {
	Metric string
	Reason Reason
	Detail string
}

func (e *EncodeError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("encoding metric %q: %s", e.Metric, e.Reason)
	}

	return fmt.Sprintf("encoding metric %q: %s: %s", e.Metric, e.Reason, e.Detail)
}

func encodeErr(metric string, reason Reason, format string, args ...any) *EncodeError {
	return &EncodeError{
		Metric: metric,
		Reason: reason,
		Detail: fmt.Sprintf(format, args...),
	}
}
