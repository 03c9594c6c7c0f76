package backend

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"
)

// Error is a non-2xx reply from the backend
type Error struct {
	StatusCode int
	Message    string
}

func (e *Error) Error() string {
	return e.Message
}

// newError builds an Error from a failed response, preferring the body's
// "error" field over fallback
func newError(resp *http.Response, fallback string) *Error {
	e := &Error{StatusCode: resp.StatusCode, Message: fallback}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	if err != nil || len(data) == 0 {
		return e
	}

	var payload struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(data, &payload) == nil && strings.TrimSpace(payload.Error) != "" {
		e.Message = payload.Error
	}

	return e
}
