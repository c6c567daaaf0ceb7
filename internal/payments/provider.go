package payments

import (
	"context"
	"errors"
	"math"
	"strings"
	"time"
)

// Status enumerates the normalised payment states shared across providers.
type Status string

const (
	// StatusPending indicates the payment is awaiting customer action or PSP confirmation.
	StatusPending Status = "pending"
	// StatusSucceeded indicates the PSP reports the payment as successfully captured.
	StatusSucceeded Status = "succeeded"
	// StatusFailed indicates the PSP reports a failure and no further action is possible.
	StatusFailed Status = "failed"
	// StatusExpired indicates the checkout session lapsed before payment.
	StatusExpired Status = "expired"
)

// ErrUnsupportedProvider is returned when the manager cannot locate a provider.
var ErrUnsupportedProvider = errors.New("payments: unsupported provider")

// CheckoutLineItem describes a single line item to include in a checkout session.
type CheckoutLineItem struct {
	Name     string
	SKU      string
	Quantity int64
	Amount   int64
	Currency string
}

// CheckoutSessionRequest captures the payload required to create a checkout session.
type CheckoutSessionRequest struct {
	Amount         int64
	Currency       string
	CustomerEmail  string
	SuccessURL     string
	CancelURL      string
	Metadata       map[string]string
	IdempotencyKey string
	ExpiresAt      time.Time
	Items          []CheckoutLineItem
}

// CheckoutSession represents the PSP session returned to the client.
type CheckoutSession struct {
	ID          string
	Provider    string
	RedirectURL string
	IntentID    string
	ExpiresAt   time.Time
}

// ExpireRequest voids a checkout session that should no longer be payable.
type ExpireRequest struct {
	SessionID      string
	IdempotencyKey string
}

// LookupRequest returns provider specific payment details for reconciliation.
type LookupRequest struct {
	SessionID string
}

// PaymentDetails normalises PSP specific fields for storage.
type PaymentDetails struct {
	Provider  string
	SessionID string
	IntentID  string
	Status    Status
	Amount    int64
	Currency  string
}

// Provider defines the contract for PSP adapters to implement.
type Provider interface {
	CreateCheckoutSession(ctx context.Context, req CheckoutSessionRequest) (CheckoutSession, error)
	ExpireSession(ctx context.Context, req ExpireRequest) error
	LookupPayment(ctx context.Context, req LookupRequest) (PaymentDetails, error)
}

// MinorUnits converts a two-decimal currency amount into integer minor units.
func MinorUnits(amount float64) int64 {
	return int64(math.Round(amount * 100))
}

// Manager coordinates provider selection and exposes the aggregated interface.
type Manager struct {
	providers       map[string]Provider
	defaultProvider string
}

// ManagerOption configures optional behaviour when building a Manager.
type ManagerOption func(*Manager)

// WithDefaultProvider overrides the provider used when no preference is given.
func WithDefaultProvider(provider string) ManagerOption {
	return func(m *Manager) {
		m.defaultProvider = provider
	}
}

// NewManager constructs a Manager over the supplied providers.
func NewManager(providers map[string]Provider, opts ...ManagerOption) (*Manager, error) {
	if len(providers) == 0 {
		return nil, errors.New("payments: at least one provider is required")
	}
	copyMap := make(map[string]Provider, len(providers))
	for k, v := range providers {
		key := strings.TrimSpace(strings.ToLower(k))
		if key == "" || v == nil {
			return nil, errors.New("payments: invalid provider registration")
		}
		copyMap[key] = v
	}
	m := &Manager{providers: copyMap}
	if _, ok := copyMap["stripe"]; ok {
		m.defaultProvider = "stripe"
	}
	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}
	return m, nil
}

func (m *Manager) resolveProvider(preferred string) (string, Provider, error) {
	if m == nil || len(m.providers) == 0 {
		return "", nil, errors.New("payments: no providers registered")
	}
	if provider := strings.TrimSpace(strings.ToLower(preferred)); provider != "" {
		if p, ok := m.providers[provider]; ok {
			return provider, p, nil
		}
	}
	if def := strings.TrimSpace(strings.ToLower(m.defaultProvider)); def != "" {
		if p, ok := m.providers[def]; ok {
			return def, p, nil
		}
	}
	if len(m.providers) == 1 {
		for key, p := range m.providers {
			return key, p, nil
		}
	}
	return "", nil, ErrUnsupportedProvider
}

// CreateCheckoutSession delegates to the resolved provider.
func (m *Manager) CreateCheckoutSession(ctx context.Context, req CheckoutSessionRequest) (CheckoutSession, error) {
	key, provider, err := m.resolveProvider("")
	if err != nil {
		return CheckoutSession{}, err
	}
	session, err := provider.CreateCheckoutSession(ctx, req)
	if err != nil {
		return CheckoutSession{}, err
	}
	session.Provider = key
	return session, nil
}

// ExpireSession delegates to the resolved provider.
func (m *Manager) ExpireSession(ctx context.Context, req ExpireRequest) error {
	_, provider, err := m.resolveProvider("")
	if err != nil {
		return err
	}
	return provider.ExpireSession(ctx, req)
}

// LookupPayment delegates to the resolved provider.
func (m *Manager) LookupPayment(ctx context.Context, req LookupRequest) (PaymentDetails, error) {
	_, provider, err := m.resolveProvider("")
	if err != nil {
		return PaymentDetails{}, err
	}
	return provider.LookupPayment(ctx, req)
}
