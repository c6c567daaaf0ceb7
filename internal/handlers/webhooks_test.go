package handlers

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/bottega-market/api/internal/services"
)

const testSigningSecret = "whsec_test_secret"

type stubOutcomeService struct {
	completed func(ctx context.Context, orderID, sessionID string) error
	expired   func(ctx context.Context, orderID, sessionID string) error
	reconcile func(ctx context.Context, limit int) (int, error)
}

func (s *stubOutcomeService) HandleSessionCompleted(ctx context.Context, orderID, sessionID string) error {
	return s.completed(ctx, orderID, sessionID)
}

func (s *stubOutcomeService) HandleSessionExpired(ctx context.Context, orderID, sessionID string) error {
	return s.expired(ctx, orderID, sessionID)
}

func (s *stubOutcomeService) ReconcileExpired(ctx context.Context, limit int) (int, error) {
	return s.reconcile(ctx, limit)
}

func signStripePayload(payload string) string {
	ts := time.Now().Unix()
	mac := hmac.New(sha256.New, []byte(testSigningSecret))
	fmt.Fprintf(mac, "%d.%s", ts, payload)
	return fmt.Sprintf("t=%d,v1=%s", ts, hex.EncodeToString(mac.Sum(nil)))
}

func stripeEventPayload(eventType, orderID, sessionID string) string {
	return fmt.Sprintf(`{
		"id": "evt_1",
		"api_version": "2024-04-10",
		"type": %q,
		"data": {
			"object": {
				"id": %q,
				"object": "checkout.session",
				"metadata": {"order_id": %q}
			}
		}
	}`, eventType, sessionID, orderID)
}

func newWebhookRouter(outcomes services.PaymentOutcomeService) chi.Router {
	handler := NewWebhookHandlers(testSigningSecret, outcomes, nil)
	router := chi.NewRouter()
	router.Route("/webhooks", handler.Routes)
	return router
}

func postWebhook(t *testing.T, router chi.Router, payload, signature string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/webhooks/stripe", strings.NewReader(payload))
	req.Header.Set("Stripe-Signature", signature)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	return rr
}

func TestWebhookHandlersSessionCompleted(t *testing.T) {
	var gotOrder, gotSession string
	outcomes := &stubOutcomeService{
		completed: func(ctx context.Context, orderID, sessionID string) error {
			gotOrder, gotSession = orderID, sessionID
			return nil
		},
	}

	payload := stripeEventPayload("checkout.session.completed", "ord-1", "cs_1")
	rr := postWebhook(t, newWebhookRouter(outcomes), payload, signStripePayload(payload))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if gotOrder != "ord-1" || gotSession != "cs_1" {
		t.Fatalf("unexpected outcome call: order=%q session=%q", gotOrder, gotSession)
	}
}

func TestWebhookHandlersSessionExpired(t *testing.T) {
	released := false
	outcomes := &stubOutcomeService{
		expired: func(ctx context.Context, orderID, sessionID string) error {
			released = true
			return nil
		},
	}

	payload := stripeEventPayload("checkout.session.expired", "ord-1", "cs_1")
	rr := postWebhook(t, newWebhookRouter(outcomes), payload, signStripePayload(payload))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if !released {
		t.Fatal("expected the expiry handler to run")
	}
}

func TestWebhookHandlersRejectsBadSignature(t *testing.T) {
	outcomes := &stubOutcomeService{
		completed: func(ctx context.Context, orderID, sessionID string) error {
			t.Fatal("an unverified event must not be processed")
			return nil
		},
	}

	payload := stripeEventPayload("checkout.session.completed", "ord-1", "cs_1")
	rr := postWebhook(t, newWebhookRouter(outcomes), payload, "t=1,v1=deadbeef")

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rr.Code)
	}
}

func TestWebhookHandlersAcknowledgesUnhandledEvents(t *testing.T) {
	outcomes := &stubOutcomeService{}

	payload := `{"id":"evt_1","api_version":"2024-04-10","type":"invoice.paid","data":{"object":{}}}`
	rr := postWebhook(t, newWebhookRouter(outcomes), payload, signStripePayload(payload))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
}

func TestWebhookHandlersRejectsMissingOrderReference(t *testing.T) {
	outcomes := &stubOutcomeService{}

	payload := `{"id":"evt_1","api_version":"2024-04-10","type":"checkout.session.completed","data":{"object":{"id":"cs_1","metadata":{}}}}`
	rr := postWebhook(t, newWebhookRouter(outcomes), payload, signStripePayload(payload))

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rr.Code)
	}
}

func TestWebhookHandlersRetryableOnInternalFailure(t *testing.T) {
	outcomes := &stubOutcomeService{
		completed: func(ctx context.Context, orderID, sessionID string) error {
			return services.ErrPaymentInternal
		},
	}

	payload := stripeEventPayload("checkout.session.completed", "ord-1", "cs_1")
	rr := postWebhook(t, newWebhookRouter(outcomes), payload, signStripePayload(payload))

	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("expected status 500, got %d", rr.Code)
	}
}
