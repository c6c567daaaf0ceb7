package config

import (
	"errors"
	"testing"
	"time"
)

func TestLoad_DefaultsApplied(t *testing.T) {
	t.Setenv("API_DATABASE_URL", "postgres://localhost:5432/market")
	t.Setenv("API_AUTH_JWT_SECRET", "test-secret")

	cfg, err := Load("does-not-exist.env")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.Port != "8080" {
		t.Fatalf("expected default port 8080, got %s", cfg.Server.Port)
	}
	if cfg.Server.ReadTimeout != 15*time.Second {
		t.Fatalf("expected default read timeout, got %s", cfg.Server.ReadTimeout)
	}
	if cfg.Idempotency.Header != "Idempotency-Key" {
		t.Fatalf("expected default idempotency header, got %s", cfg.Idempotency.Header)
	}
	if cfg.Idempotency.TTL != 24*time.Hour {
		t.Fatalf("expected default idempotency TTL, got %s", cfg.Idempotency.TTL)
	}
	if cfg.Kafka.OrdersTopic != "orders.events" {
		t.Fatalf("expected default orders topic, got %s", cfg.Kafka.OrdersTopic)
	}
	if cfg.Reconciliation.Interval != 5*time.Minute {
		t.Fatalf("expected default reconcile interval, got %s", cfg.Reconciliation.Interval)
	}
}

func TestLoad_OverridesFromEnvironment(t *testing.T) {
	t.Setenv("API_DATABASE_URL", "postgres://db.internal:5432/market")
	t.Setenv("API_AUTH_JWT_SECRET", "test-secret")
	t.Setenv("API_SERVER_PORT", "9090")
	t.Setenv("API_PSP_SESSION_TTL", "45m")
	t.Setenv("API_KAFKA_BROKERS", "broker-1:9092,broker-2:9092")

	cfg, err := Load("does-not-exist.env")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.Port != "9090" {
		t.Fatalf("expected port 9090, got %s", cfg.Server.Port)
	}
	if cfg.PSP.SessionTTL != 45*time.Minute {
		t.Fatalf("expected session TTL 45m, got %s", cfg.PSP.SessionTTL)
	}
	if len(cfg.Kafka.Brokers) != 2 || cfg.Kafka.Brokers[0] != "broker-1:9092" {
		t.Fatalf("unexpected brokers: %v", cfg.Kafka.Brokers)
	}
}

func TestLoad_MissingRequiredFields(t *testing.T) {
	t.Setenv("API_DATABASE_URL", "postgres://localhost:5432/market")
	t.Setenv("API_AUTH_JWT_SECRET", "   ")

	_, err := Load("does-not-exist.env")
	if err == nil {
		t.Fatalf("expected validation error")
	}

	var vErr *ValidationError
	if !errors.As(err, &vErr) {
		t.Fatalf("expected ValidationError, got %T", err)
	}
	found := false
	for _, field := range vErr.Fields() {
		if field == "Auth.JWTSecret" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected Auth.JWTSecret in fields, got %v", vErr.Fields())
	}
}
