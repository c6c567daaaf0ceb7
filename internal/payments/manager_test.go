package payments

import (
	"context"
	"errors"
	"testing"
)

type stubProvider struct {
	session   CheckoutSession
	details   PaymentDetails
	createErr error
	expireErr error

	created int
	expired int
	looked  int
}

func (s *stubProvider) CreateCheckoutSession(_ context.Context, _ CheckoutSessionRequest) (CheckoutSession, error) {
	s.created++
	if s.createErr != nil {
		return CheckoutSession{}, s.createErr
	}
	return s.session, nil
}

func (s *stubProvider) ExpireSession(_ context.Context, _ ExpireRequest) error {
	s.expired++
	return s.expireErr
}

func (s *stubProvider) LookupPayment(_ context.Context, _ LookupRequest) (PaymentDetails, error) {
	s.looked++
	return s.details, nil
}

func TestNewManager_RequiresProviders(t *testing.T) {
	if _, err := NewManager(nil); err == nil {
		t.Fatalf("expected error for empty provider map")
	}
}

func TestManager_DefaultsToStripe(t *testing.T) {
	stripeStub := &stubProvider{session: CheckoutSession{ID: "cs_1"}}
	other := &stubProvider{session: CheckoutSession{ID: "cs_other"}}

	manager, err := NewManager(map[string]Provider{"stripe": stripeStub, "other": other})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	session, err := manager.CreateCheckoutSession(context.Background(), CheckoutSessionRequest{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if session.ID != "cs_1" {
		t.Fatalf("expected stripe session, got %s", session.ID)
	}
	if session.Provider != "stripe" {
		t.Fatalf("expected provider stripe, got %s", session.Provider)
	}
	if other.created != 0 {
		t.Fatalf("other provider should not be used")
	}
}

func TestManager_SingleProviderFallback(t *testing.T) {
	stub := &stubProvider{details: PaymentDetails{Status: StatusSucceeded}}
	manager, err := NewManager(map[string]Provider{"fake": stub})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	details, err := manager.LookupPayment(context.Background(), LookupRequest{SessionID: "cs_1"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if details.Status != StatusSucceeded {
		t.Fatalf("unexpected status: %s", details.Status)
	}
	if stub.looked != 1 {
		t.Fatalf("expected single lookup, got %d", stub.looked)
	}
}

func TestManager_PropagatesProviderErrors(t *testing.T) {
	wantErr := errors.New("psp down")
	stub := &stubProvider{createErr: wantErr}
	manager, err := NewManager(map[string]Provider{"stripe": stub})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if _, err := manager.CreateCheckoutSession(context.Background(), CheckoutSessionRequest{}); !errors.Is(err, wantErr) {
		t.Fatalf("expected provider error, got %v", err)
	}
}

func TestMinorUnits(t *testing.T) {
	cases := []struct {
		amount float64
		want   int64
	}{
		{0, 0},
		{19.99, 1999},
		{40.00, 4000},
		{0.1 + 0.2, 30},
		{2.5, 250},
	}
	for _, tc := range cases {
		if got := MinorUnits(tc.amount); got != tc.want {
			t.Fatalf("MinorUnits(%v) = %d, want %d", tc.amount, got, tc.want)
		}
	}
}
