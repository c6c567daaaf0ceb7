package httpx

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/bottega-market/api/internal/platform/requestctx"
)

const (
	maxCodeLen    = 64
	maxMessageLen = 512
)

// Error is the JSON error envelope every endpoint returns on failure.
type Error struct {
	Code    string
	Message string
	Status  int
}

type errorBody struct {
	Error     string `json:"error"`
	Message   string `json:"message"`
	Status    int    `json:"status"`
	RequestID string `json:"request_id,omitempty"`
	TraceID   string `json:"trace_id,omitempty"`
}

// NewError builds an envelope from a machine-checkable code, a human-readable
// message, and the HTTP status to respond with.
func NewError(code, message string, status int) Error {
	if status == 0 {
		status = http.StatusInternalServerError
	}
	return Error{
		Code:    clean(code, maxCodeLen),
		Message: clean(message, maxMessageLen),
		Status:  status,
	}
}

// WriteError renders the envelope as JSON, enriched with the request and
// trace identifiers carried by the context.
func WriteError(ctx context.Context, w http.ResponseWriter, err Error) {
	status := err.Status
	if status == 0 {
		status = http.StatusInternalServerError
	}

	body := errorBody{
		Error:     err.Code,
		Message:   err.Message,
		Status:    status,
		RequestID: clean(middleware.GetReqID(ctx), maxCodeLen),
		TraceID:   clean(requestctx.TraceID(ctx), maxCodeLen),
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// clean replaces newlines with spaces and bounds the field length.
func clean(value string, limit int) string {
	value = strings.Map(func(r rune) rune {
		if r == '\n' || r == '\r' {
			return ' '
		}
		return r
	}, value)
	value = strings.TrimSpace(value)
	if len(value) > limit {
		value = value[:limit]
	}
	return value
}
