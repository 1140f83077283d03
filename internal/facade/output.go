package facade

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// Response is the dashboard-mode reply shape every command produces:
// {success, result|error, request_id, duration_ms}, matching the
// reference repo's CliResponse/WriteJSON contract.
type Response struct {
	Success    bool        `json:"success"`
	Result     interface{} `json:"result,omitempty"`
	Error      string      `json:"error,omitempty"`
	RequestID  string      `json:"request_id"`
	DurationMs int64       `json:"duration_ms"`
}

// NewResponse builds a Response from a command's outcome, timing its
// execution from started.
func NewResponse(requestID string, started time.Time, result interface{}, err error) Response {
	r := Response{
		RequestID:  requestID,
		DurationMs: time.Since(started).Milliseconds(),
	}
	if err != nil {
		r.Success = false
		r.Error = err.Error()
		return r
	}
	r.Success = true
	r.Result = result
	return r
}

// WriteJSON writes v as single-line JSON to stdout, the machine-readable
// half of dashboard mode's stdout/stderr split.
func WriteJSON(v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}
	if _, err := fmt.Fprintf(os.Stdout, "%s\n", data); err != nil {
		return fmt.Errorf("failed to write JSON to stdout: %w", err)
	}
	return nil
}

// WriteLog writes a human-readable line to stderr, reserving stdout for
// JSON responses in dashboard mode.
func WriteLog(message string) error {
	_, err := fmt.Fprintf(os.Stderr, "%s\n", message)
	if err != nil {
		return fmt.Errorf("failed to write log to stderr: %w", err)
	}
	return nil
}
