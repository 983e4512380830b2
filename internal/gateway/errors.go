package gateway

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/and161185/nomadrise/internal/errs"
)

// APIError is a non-2xx backend reply.
type APIError struct {
	Status     int
	StatusText string
	Data       any // decoded JSON, or the body text
	cause      error
}

func (e *APIError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("api error: %d %s: %v", e.Status, e.StatusText, e.cause)
	}
	return fmt.Sprintf("api error: %d %s", e.Status, e.StatusText)
}

func (e *APIError) Unwrap() error { return e.cause }

// BadBody reports a 2xx reply whose body could not be decoded, as a 502.
func BadBody(r *Response, cause error) *APIError {
	e := &APIError{
		Status:     http.StatusBadGateway,
		StatusText: "Invalid response from backend",
		cause:      cause,
	}
	if r != nil {
		e.cause = fmt.Errorf("%w (status %d, %s)", cause, r.Status, r.Header.Get("Content-Type"))
	}
	return e
}

// Is maps statuses onto the shared sentinels.
func (e *APIError) Is(target error) bool {
	switch target {
	case errs.ErrNotFound:
		return e.Status == http.StatusNotFound
	case errs.ErrUnauthorized:
		return e.Status == http.StatusUnauthorized || e.Status == http.StatusForbidden
	case errs.ErrRateLimited:
		return e.Status == http.StatusTooManyRequests
	case errs.ErrAlreadyExists:
		return e.Status == http.StatusConflict
	case errs.ErrValidation:
		return e.Status == http.StatusBadRequest
	}
	return false
}

// Detail returns a human-readable message from common backend error shapes.
func (e *APIError) Detail() string {
	switch d := e.Data.(type) {
	case string:
		if s := strings.TrimSpace(d); s != "" {
			return s
		}
	case map[string]any:
		for _, k := range []string{"detail", "error", "message"} {
			if s, ok := d[k].(string); ok && s != "" {
				return s
			}
		}
	}
	return e.StatusText
}

func newAPIError(hr *http.Response, r *Response) *APIError {
	text := strings.TrimSpace(strings.TrimPrefix(hr.Status, fmt.Sprint(hr.StatusCode)))
	if text == "" {
		text = http.StatusText(hr.StatusCode)
	}
	e := &APIError{Status: hr.StatusCode, StatusText: text}
	if r.JSON {
		var v any
		if err := json.Unmarshal(r.Body, &v); err == nil {
			e.Data = v
			return e
		}
	}
	e.Data = string(r.Body)
	return e
}
