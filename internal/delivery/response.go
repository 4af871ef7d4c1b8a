package delivery

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/ethpandaops/dtmetrics/internal/batch"
)

// maxResponseBytes bounds how much of a response body is parsed.
const maxResponseBytes = 1 << 20

// ingestResponse is the JSON body returned by the metrics ingest API.
type ingestResponse struct {
	LinesOK      *int `json:"linesOk"`
	LinesInvalid *int `json:"linesInvalid"`
	Error        *struct {
		Code         int    `json:"code"`
		Message      string `json:"message"`
		InvalidLines []struct {
			Line   int    `json:"line"`
			Error  string `json:"error"`
			Reason string `json:"reason"`
		} `json:"invalidLines"`
	} `json:"error"`
}

func decodeResponse(r io.Reader) (ingestResponse, bool) {
	var resp ingestResponse

	body, err := io.ReadAll(io.LimitReader(r, maxResponseBytes))
	if err != nil || len(body) == 0 {
		return resp, false
	}

	if err := json.Unmarshal(body, &resp); err != nil {
		return ingestResponse{}, false
	}

	return resp, true
}

// interpret maps a response onto an Outcome for b. Successful responses
// without a body count every line as accepted. A 400 that still reports
// ingested lines is a partial acceptance, not a rejection.
func interpret(statusCode int, resp ingestResponse, parsed bool, b batch.Batch) Outcome {
	total := len(b.Lines)
	success := statusCode >= 200 && statusCode < 300

	if !parsed {
		if success {
			return Outcome{Status: StatusAccepted, Accepted: total}
		}

		return Outcome{
			Status:   StatusRejected,
			Rejected: total,
			Err:      &ProtocolError{StatusCode: statusCode, Message: http.StatusText(statusCode)},
		}
	}

	invalid := lineErrors(resp, b)

	accepted := total
	if resp.LinesOK != nil {
		accepted = *resp.LinesOK
	} else if !success {
		accepted = 0
	}

	rejected := total - accepted
	if resp.LinesInvalid != nil && *resp.LinesInvalid > rejected {
		rejected = *resp.LinesInvalid
	}

	if len(invalid) > rejected {
		rejected = len(invalid)
	}

	if accepted+rejected > total {
		accepted = max(total-rejected, 0)
	}

	out := Outcome{Accepted: accepted, Rejected: rejected, Invalid: invalid}

	switch {
	case rejected == 0 && success:
		out.Status = StatusAccepted
	case accepted > 0 && (success || statusCode == http.StatusBadRequest):
		out.Status = StatusPartiallyAccepted
	default:
		out.Status = StatusRejected
		out.Accepted = 0
		out.Rejected = total
	}

	if out.Status == StatusRejected {
		out.Err = protocolError(statusCode, resp)
	}

	return out
}

func lineErrors(resp ingestResponse, b batch.Batch) []LineError {
	if resp.Error == nil || len(resp.Error.InvalidLines) == 0 {
		return nil
	}

	out := make([]LineError, 0, len(resp.Error.InvalidLines))

	for _, il := range resp.Error.InvalidLines {
		le := LineError{Line: il.Line, Reason: il.Error}
		if le.Reason == "" {
			le.Reason = il.Reason
		}

		if il.Line >= 1 && il.Line <= len(b.Lines) {
			le.Content = b.Lines[il.Line-1]
		}

		out = append(out, le)
	}

	return out
}

func protocolError(statusCode int, resp ingestResponse) *ProtocolError {
	pe := &ProtocolError{StatusCode: statusCode}

	if resp.Error != nil {
		pe.Code = resp.Error.Code
		pe.Message = resp.Error.Message
	}

	if pe.Message == "" {
		pe.Message = http.StatusText(statusCode)
	}

	return pe
}
