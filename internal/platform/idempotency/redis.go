package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "idempotency:"

// RedisStore persists idempotency records in Redis so replays survive restarts
// and work across replicas. Expiry is delegated to Redis TTLs.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore wraps an existing Redis client.
func NewRedisStore(client *redis.Client) (*RedisStore, error) {
	if client == nil {
		return nil, errors.New("idempotency: redis client is required")
	}
	return &RedisStore{client: client}, nil
}

type redisRecord struct {
	Key             string              `json:"key"`
	Fingerprint     string              `json:"fingerprint"`
	Status          Status              `json:"status"`
	ResponseStatus  int                 `json:"response_status,omitempty"`
	ResponseHeaders map[string][]string `json:"response_headers,omitempty"`
	ResponseBody    []byte              `json:"response_body,omitempty"`
	CreatedAt       time.Time           `json:"created_at"`
	UpdatedAt       time.Time           `json:"updated_at"`
	ExpiresAt       time.Time           `json:"expires_at"`
}

// Reserve implements the Store interface using SET NX to claim the key.
func (s *RedisStore) Reserve(ctx context.Context, key, fingerprint string, now time.Time, ttl time.Duration) (Reservation, error) {
	now = now.UTC()
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	id := redisKeyPrefix + recordID(key)
	pending := redisRecord{
		Key:         key,
		Fingerprint: fingerprint,
		Status:      StatusPending,
		CreatedAt:   now,
		UpdatedAt:   now,
		ExpiresAt:   now.Add(ttl),
	}
	payload, err := json.Marshal(pending)
	if err != nil {
		return Reservation{}, fmt.Errorf("idempotency: encode record: %w", err)
	}

	claimed, err := s.client.SetNX(ctx, id, payload, ttl).Result()
	if err != nil {
		return Reservation{}, fmt.Errorf("idempotency: reserve key: %w", err)
	}
	if claimed {
		return Reservation{State: ReservationStateNew, Record: recordFromRedis(pending)}, nil
	}

	existing, err := s.load(ctx, id)
	if err != nil {
		if errors.Is(err, redis.Nil) {
			// The claim raced with an expiry. Treat as pending and let the caller retry.
			return Reservation{State: ReservationStatePending}, nil
		}
		return Reservation{}, err
	}

	if existing.Fingerprint != fingerprint {
		return Reservation{}, ErrFingerprintMismatch
	}
	if existing.Status == StatusCompleted {
		return Reservation{State: ReservationStateCompleted, Record: recordFromRedis(existing)}, nil
	}
	return Reservation{State: ReservationStatePending, Record: recordFromRedis(existing)}, nil
}

// SaveResponse implements the Store interface.
func (s *RedisStore) SaveResponse(ctx context.Context, key, fingerprint string, resp Response, now time.Time, ttl time.Duration) error {
	now = now.UTC()
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	id := redisKeyPrefix + recordID(key)

	existing, err := s.load(ctx, id)
	if err != nil && !errors.Is(err, redis.Nil) {
		return err
	}
	if err == nil && existing.Fingerprint != fingerprint {
		return ErrFingerprintMismatch
	}

	record := redisRecord{
		Key:             key,
		Fingerprint:     fingerprint,
		Status:          StatusCompleted,
		ResponseStatus:  resp.Status,
		ResponseHeaders: sanitizeHeaders(resp.Headers),
		CreatedAt:       now,
		UpdatedAt:       now,
		ExpiresAt:       now.Add(ttl),
	}
	if !existing.CreatedAt.IsZero() {
		record.CreatedAt = existing.CreatedAt
	}
	if len(resp.Body) > 0 {
		record.ResponseBody = append([]byte(nil), resp.Body...)
	}

	payload, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("idempotency: encode record: %w", err)
	}
	if err := s.client.Set(ctx, id, payload, ttl).Err(); err != nil {
		return fmt.Errorf("idempotency: save response: %w", err)
	}
	return nil
}

// Release deletes the reservation so that subsequent attempts may retry.
func (s *RedisStore) Release(ctx context.Context, key, _ string) error {
	if err := s.client.Del(ctx, redisKeyPrefix+recordID(key)).Err(); err != nil {
		return fmt.Errorf("idempotency: release key: %w", err)
	}
	return nil
}

// CleanupExpired is a no-op for Redis where key TTLs handle expiry.
func (s *RedisStore) CleanupExpired(_ context.Context, _ time.Time, _ int) (int, error) {
	return 0, nil
}

func (s *RedisStore) load(ctx context.Context, id string) (redisRecord, error) {
	raw, err := s.client.Get(ctx, id).Bytes()
	if err != nil {
		return redisRecord{}, err
	}
	var record redisRecord
	if err := json.Unmarshal(raw, &record); err != nil {
		return redisRecord{}, fmt.Errorf("idempotency: decode record: %w", err)
	}
	return record, nil
}

func recordFromRedis(r redisRecord) Record {
	return Record{
		Key:             r.Key,
		Fingerprint:     r.Fingerprint,
		Status:          r.Status,
		ResponseStatus:  r.ResponseStatus,
		ResponseHeaders: r.ResponseHeaders,
		ResponseBody:    r.ResponseBody,
		CreatedAt:       r.CreatedAt,
		UpdatedAt:       r.UpdatedAt,
		ExpiresAt:       r.ExpiresAt,
	}
}
