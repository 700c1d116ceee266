package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
)

// User-facing messages for model gateway failures. The raw error is logged
// server-side; only these strings reach the client.
const (
	MsgAuth        = "The AI service rejected our credentials. Please contact support."
	MsgRateLimited = "The AI service is busy right now. Please try again in a moment."
	MsgUnreachable = "The AI service could not be reached. Please try again shortly."
	MsgEndpoint    = "The AI service endpoint is misconfigured. Please contact support."
	MsgGeneric     = "Something went wrong while generating a response. Please try again."
)

// StatusError is a non-200 gateway response.
type StatusError struct {
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("gateway returned status %d: %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("gateway returned status %d", e.StatusCode)
}

func newStatusError(statusCode int, body []byte) error {
	var errResp ErrorResponse
	if err := json.Unmarshal(body, &errResp); err == nil && errResp.Error != nil {
		return &StatusError{StatusCode: statusCode, Message: errResp.Error.Message}
	}
	return &StatusError{StatusCode: statusCode}
}

// UserMessage classifies a gateway failure into one of the fixed user-safe
// messages. Never returns the underlying error text.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}

	var se *StatusError
	if errors.As(err, &se) {
		switch se.StatusCode {
		case http.StatusUnauthorized, http.StatusForbidden:
			return MsgAuth
		case http.StatusTooManyRequests:
			return MsgRateLimited
		case http.StatusNotFound, http.StatusMethodNotAllowed:
			return MsgEndpoint
		default:
			return MsgGeneric
		}
	}

	var ne net.Error
	if errors.As(err, &ne) {
		return MsgUnreachable
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return MsgUnreachable
	}

	// Connection refused and DNS failures surface as *url.Error wrapping an
	// *net.OpError; errors.As above catches the net.Error cases, this catches
	// the rest of the transport layer.
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return MsgUnreachable
	}

	return MsgGeneric
}
