package idempotency

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/http"
	"strings"
	"time"
)

// DefaultTTL is how long completed records are kept when no TTL is given.
const DefaultTTL = 24 * time.Hour

// Status is the lifecycle state of a stored record.
type Status string

const (
	// StatusPending marks a key reserved by a request still in flight.
	StatusPending Status = "pending"
	// StatusCompleted marks a key whose response is stored and replayable.
	StatusCompleted Status = "completed"
)

// ReservationState is the outcome of a Reserve call.
type ReservationState int

const (
	// ReservationStateNew: the key is fresh, the caller should run the handler.
	ReservationStateNew ReservationState = iota
	// ReservationStateCompleted: a stored response exists and should be replayed.
	ReservationStateCompleted
	// ReservationStatePending: another request holds the key right now.
	ReservationStatePending
)

// Reservation is what Reserve hands back, with the stored record when one exists.
type Reservation struct {
	State  ReservationState
	Record Record
}

// Record is the persisted state for one idempotency key.
type Record struct {
	Key             string
	Fingerprint     string
	Status          Status
	ResponseStatus  int
	ResponseHeaders map[string][]string
	ResponseBody    []byte
	CreatedAt       time.Time
	UpdatedAt       time.Time
	ExpiresAt       time.Time
}

func (r Record) expired(now time.Time) bool {
	return !r.ExpiresAt.IsZero() && !now.Before(r.ExpiresAt)
}

// Response is the HTTP response captured for replay.
type Response struct {
	Status  int
	Headers http.Header
	Body    []byte
}

// Store persists idempotency reservations and their responses.
type Store interface {
	Reserve(ctx context.Context, key, fingerprint string, now time.Time, ttl time.Duration) (Reservation, error)
	SaveResponse(ctx context.Context, key, fingerprint string, resp Response, now time.Time, ttl time.Duration) error
	Release(ctx context.Context, key, fingerprint string) error
	CleanupExpired(ctx context.Context, now time.Time, limit int) (int, error)
}

// ErrFingerprintMismatch reports a key reused with a different request payload.
var ErrFingerprintMismatch = errors.New("idempotency: key reserved for different request fingerprint")

func recordID(key string) string {
	return sha256Hex([]byte(strings.TrimSpace(key)))
}

func sha256Hex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Hop-by-hop and response-time headers that must not be replayed.
var volatileHeaders = map[string]struct{}{
	"Content-Length":      {},
	"Date":                {},
	"Connection":          {},
	"Keep-Alive":          {},
	"Proxy-Authenticate":  {},
	"Proxy-Authorization": {},
	"Te":                  {},
	"Trailers":            {},
	"Transfer-Encoding":   {},
	"Upgrade":             {},
}

func sanitizeHeaders(header http.Header) map[string][]string {
	if len(header) == 0 {
		return nil
	}
	filtered := make(map[string][]string, len(header))
	for name, values := range header {
		canonical := http.CanonicalHeaderKey(name)
		if _, skip := volatileHeaders[canonical]; skip {
			continue
		}
		filtered[canonical] = append([]string(nil), values...)
	}
	if len(filtered) == 0 {
		return nil
	}
	return filtered
}

func headersFromRecord(values map[string][]string) http.Header {
	header := make(http.Header, len(values))
	for name, vals := range values {
		header[name] = append([]string(nil), vals...)
	}
	return header
}
