package idempotency

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/bottega-market/api/internal/platform/auth"
)

const (
	defaultHeaderName = "Idempotency-Key"
	replayHeaderName  = "X-Idempotent-Replay"
)

// Logger receives persistence failures that happen after the guarded handler
// already ran.
type Logger interface {
	Printf(format string, args ...any)
}

type clockFunc func() time.Time

type middlewareConfig struct {
	headerName string
	ttl        time.Duration
	methods    map[string]struct{}
	clock      clockFunc
	logger     Logger
}

func defaultMiddlewareConfig() middlewareConfig {
	return middlewareConfig{
		headerName: defaultHeaderName,
		ttl:        DefaultTTL,
		methods: map[string]struct{}{
			http.MethodPost:   {},
			http.MethodPut:    {},
			http.MethodPatch:  {},
			http.MethodDelete: {},
		},
		clock: time.Now,
	}
}

// MiddlewareOption customises middleware behaviour.
type MiddlewareOption func(*middlewareConfig)

// WithHeader overrides the header carrying the idempotency key.
func WithHeader(name string) MiddlewareOption {
	return func(cfg *middlewareConfig) {
		if name = strings.TrimSpace(name); name != "" {
			cfg.headerName = name
		}
	}
}

// WithTTL sets the retention window for completed records.
func WithTTL(ttl time.Duration) MiddlewareOption {
	return func(cfg *middlewareConfig) {
		if ttl > 0 {
			cfg.ttl = ttl
		}
	}
}

// WithMethods restricts which HTTP methods the middleware guards.
func WithMethods(methods ...string) MiddlewareOption {
	return func(cfg *middlewareConfig) {
		if len(methods) == 0 {
			return
		}
		cfg.methods = make(map[string]struct{}, len(methods))
		for _, method := range methods {
			if method = strings.ToUpper(strings.TrimSpace(method)); method != "" {
				cfg.methods[method] = struct{}{}
			}
		}
	}
}

// WithLogger injects a logger for save/release failures.
func WithLogger(logger Logger) MiddlewareOption {
	return func(cfg *middlewareConfig) {
		cfg.logger = logger
	}
}

// WithClock overrides the time source in tests.
func WithClock(clock clockFunc) MiddlewareOption {
	return func(cfg *middlewareConfig) {
		if clock != nil {
			cfg.clock = clock
		}
	}
}

// Middleware makes mutating requests replay-safe: the first request with a
// given key runs the handler and stores the response, every later request
// with the same key and payload gets the stored response back, and a key
// reused with a different payload is rejected.
func Middleware(store Store, opts ...MiddlewareOption) func(http.Handler) http.Handler {
	if store == nil {
		return func(next http.Handler) http.Handler { return next }
	}

	cfg := defaultMiddlewareConfig()
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, guarded := cfg.methods[r.Method]; !guarded {
				next.ServeHTTP(w, r)
				return
			}

			key := strings.TrimSpace(r.Header.Get(cfg.headerName))
			if key == "" {
				writeEnvelope(w, http.StatusBadRequest, "idempotency_key_required", "missing idempotency key header")
				return
			}

			body, err := bufferBody(r)
			if err != nil {
				writeEnvelope(w, http.StatusInternalServerError, "idempotency_read_body_failed", "unable to read request body")
				return
			}

			requester := requesterID(r.Context())
			fingerprint := fingerprintRequest(r, body, requester)
			scoped := key + "|" + requester
			now := cfg.clock().UTC()

			reservation, err := store.Reserve(r.Context(), scoped, fingerprint, now, cfg.ttl)
			switch {
			case errors.Is(err, ErrFingerprintMismatch):
				writeEnvelope(w, http.StatusConflict, "idempotency_key_conflict", "idempotency key already used for a different request")
				return
			case err != nil:
				if cfg.logger != nil {
					cfg.logger.Printf("idempotency: reserve failed for key %s: %v", key, err)
				}
				writeEnvelope(w, http.StatusInternalServerError, "idempotency_store_error", "unable to process idempotency key")
				return
			}

			switch reservation.State {
			case ReservationStateCompleted:
				replayRecord(w, reservation.Record)
				return
			case ReservationStatePending:
				writeEnvelope(w, http.StatusConflict, "idempotency_in_progress", "another request is processing this idempotency key")
				return
			case ReservationStateNew:
			default:
				writeEnvelope(w, http.StatusInternalServerError, "idempotency_unknown_state", "unexpected idempotency state")
				return
			}

			buffered := &bufferedResponse{header: make(http.Header)}
			next.ServeHTTP(buffered, r)

			saved := Response{
				Status:  buffered.statusOrOK(),
				Headers: buffered.headerSnapshot(),
				Body:    buffered.bodyBytes(),
			}
			if err := store.SaveResponse(r.Context(), scoped, fingerprint, saved, cfg.clock().UTC(), cfg.ttl); err != nil {
				if cfg.logger != nil {
					cfg.logger.Printf("idempotency: failed to persist response for key %s: %v", key, err)
				}
				if releaseErr := store.Release(r.Context(), scoped, fingerprint); releaseErr != nil && cfg.logger != nil {
					cfg.logger.Printf("idempotency: failed to release key %s after save failure: %v", key, releaseErr)
				}
				writeEnvelope(w, http.StatusInternalServerError, "idempotency_store_error", "unable to persist idempotency state")
				return
			}

			if err := buffered.flushTo(w); err != nil && cfg.logger != nil {
				cfg.logger.Printf("idempotency: failed to flush response for key %s: %v", key, err)
			}
		})
	}
}

// bufferBody drains the request body and puts a rereadable copy back so the
// handler still sees it.
func bufferBody(r *http.Request) ([]byte, error) {
	if r.Body == nil {
		return nil, nil
	}
	data, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, err
	}
	if err := r.Body.Close(); err != nil {
		return nil, err
	}
	r.Body = io.NopCloser(bytes.NewReader(data))
	return data, nil
}

// fingerprintRequest hashes the parts of the request that must match for a
// key reuse to count as a retry rather than a conflict.
func fingerprintRequest(r *http.Request, body []byte, requester string) string {
	parts := []string{
		strings.ToUpper(r.Method),
		r.URL.Path,
		r.URL.RawQuery,
		r.Host,
		r.Header.Get("Content-Type"),
		requester,
	}
	if len(body) > 0 {
		parts = append(parts, sha256Hex(body))
	}
	return sha256Hex([]byte(strings.Join(parts, "|")))
}

func requesterID(ctx context.Context) string {
	if identity, ok := auth.IdentityFromContext(ctx); ok && identity != nil && identity.ID != "" {
		return identity.ID
	}
	return "anonymous"
}

// replayRecord writes a stored response back to the client with the replay
// marker set.
func replayRecord(w http.ResponseWriter, record Record) {
	for key := range w.Header() {
		w.Header().Del(key)
	}
	for key, values := range headersFromRecord(record.ResponseHeaders) {
		for _, value := range values {
			w.Header().Add(key, value)
		}
	}
	w.Header().Set(replayHeaderName, "true")

	status := record.ResponseStatus
	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)
	if len(record.ResponseBody) > 0 {
		_, _ = w.Write(record.ResponseBody)
	}
}

func writeEnvelope(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"error":   code,
		"message": message,
	})
}

// bufferedResponse holds the handler's response until the idempotency record
// is safely persisted. Nothing reaches the client before that.
type bufferedResponse struct {
	header http.Header
	status int
	body   bytes.Buffer
}

func (b *bufferedResponse) Header() http.Header { return b.header }

func (b *bufferedResponse) WriteHeader(status int) {
	if status <= 0 {
		status = http.StatusOK
	}
	b.status = status
}

func (b *bufferedResponse) Write(data []byte) (int, error) {
	if b.status == 0 {
		b.status = http.StatusOK
	}
	return b.body.Write(data)
}

func (b *bufferedResponse) statusOrOK() int {
	if b.status == 0 {
		return http.StatusOK
	}
	return b.status
}

func (b *bufferedResponse) bodyBytes() []byte {
	if b.body.Len() == 0 {
		return nil
	}
	return b.body.Bytes()
}

func (b *bufferedResponse) headerSnapshot() http.Header {
	snapshot := make(http.Header, len(b.header))
	for key, values := range b.header {
		copied := make([]string, len(values))
		copy(copied, values)
		snapshot[key] = copied
	}
	return snapshot
}

func (b *bufferedResponse) flushTo(w http.ResponseWriter) error {
	dst := w.Header()
	for key := range dst {
		dst.Del(key)
	}
	for key, values := range b.header {
		for _, value := range values {
			dst.Add(key, value)
		}
	}
	w.WriteHeader(b.statusOrOK())
	if b.body.Len() == 0 {
		return nil
	}
	_, err := w.Write(b.body.Bytes())
	return err
}
