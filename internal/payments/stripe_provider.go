package payments

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/client"
)

// StripeLogger defines the logging contract for Stripe provider operations.
type StripeLogger func(ctx context.Context, event string, fields map[string]any)

type stripeSessionAPI interface {
	New(params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error)
	Get(id string, params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error)
	Expire(id string, params *stripe.CheckoutSessionExpireParams) (*stripe.CheckoutSession, error)
}

type stripeClients struct {
	sessions stripeSessionAPI
}

// StripeProviderConfig configures the StripeProvider.
type StripeProviderConfig struct {
	APIKey   string
	Backends *stripe.Backends
	Logger   StripeLogger
	Clock    func() time.Time
	Clients  *stripeClients
}

// StripeProvider implements the Provider interface using Stripe Checkout.
type StripeProvider struct {
	api    stripeClients
	clock  func() time.Time
	logger StripeLogger
}

// NewStripeProvider constructs a Stripe Provider using the given configuration.
func NewStripeProvider(cfg StripeProviderConfig) (*StripeProvider, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" && cfg.Clients == nil {
		return nil, errors.New("stripe: api key is required")
	}

	var clients stripeClients
	if cfg.Clients != nil {
		clients = *cfg.Clients
	} else {
		sc := client.New(apiKey, cfg.Backends)
		clients = stripeClients{sessions: sc.CheckoutSessions}
	}

	if clients.sessions == nil {
		return nil, errors.New("stripe: incomplete client configuration")
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}

	logger := cfg.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &StripeProvider{
		api: clients,
		clock: func() time.Time {
			return clock().UTC()
		},
		logger: logger,
	}, nil
}

// CreateCheckoutSession creates a Stripe Checkout session.
func (p *StripeProvider) CreateCheckoutSession(ctx context.Context, req CheckoutSessionRequest) (CheckoutSession, error) {
	if p == nil {
		return CheckoutSession{}, errors.New("stripe: provider is nil")
	}

	params := &stripe.CheckoutSessionParams{
		Mode:       stripe.String(string(stripe.CheckoutSessionModePayment)),
		SuccessURL: stripe.String(req.SuccessURL),
		CancelURL:  stripe.String(req.CancelURL),
	}

	params.Context = ctx
	if key := strings.TrimSpace(req.IdempotencyKey); key != "" {
		params.SetIdempotencyKey(key)
	}
	if req.CustomerEmail != "" {
		params.CustomerEmail = stripe.String(req.CustomerEmail)
	}
	if !req.ExpiresAt.IsZero() {
		params.ExpiresAt = stripe.Int64(req.ExpiresAt.Unix())
	}
	if len(req.Metadata) > 0 {
		params.Metadata = make(map[string]string, len(req.Metadata))
		for k, v := range req.Metadata {
			params.Metadata[k] = v
		}
	}

	lineItems := make([]*stripe.CheckoutSessionLineItemParams, 0, len(req.Items))
	for _, item := range req.Items {
		line := &stripe.CheckoutSessionLineItemParams{
			Quantity: stripe.Int64(max64(item.Quantity, 1)),
			PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
				Currency:   stripe.String(strings.ToLower(defaultString(item.Currency, req.Currency))),
				UnitAmount: stripe.Int64(item.Amount),
				ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
					Name: stripe.String(item.Name),
				},
			},
		}
		if item.SKU != "" {
			line.PriceData.ProductData.Metadata = map[string]string{
				"sku": item.SKU,
			}
		}
		lineItems = append(lineItems, line)
	}

	if len(lineItems) == 0 {
		lineItems = append(lineItems, &stripe.CheckoutSessionLineItemParams{
			Quantity: stripe.Int64(1),
			PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
				Currency:   stripe.String(strings.ToLower(req.Currency)),
				UnitAmount: stripe.Int64(req.Amount),
				ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
					Name: stripe.String("Order"),
				},
			},
		})
	}

	params.LineItems = lineItems
	params.PaymentIntentData = &stripe.CheckoutSessionPaymentIntentDataParams{}
	if len(req.Metadata) > 0 {
		params.PaymentIntentData.Metadata = make(map[string]string, len(req.Metadata))
		for k, v := range req.Metadata {
			params.PaymentIntentData.Metadata[k] = v
		}
	}

	session, err := p.api.sessions.New(params)
	if err != nil {
		return CheckoutSession{}, fmt.Errorf("stripe: create checkout session: %w", err)
	}

	intentID := ""
	if session.PaymentIntent != nil {
		intentID = session.PaymentIntent.ID
	}

	p.logger(ctx, "payments.stripe.session.created", map[string]any{
		"sessionId":     session.ID,
		"paymentIntent": intentID,
		"currency":      session.Currency,
	})

	expiresAt := p.clock().Add(30 * time.Minute)
	if session.ExpiresAt != 0 {
		expiresAt = time.Unix(session.ExpiresAt, 0).UTC()
	}

	return CheckoutSession{
		ID:          session.ID,
		Provider:    "stripe",
		RedirectURL: session.URL,
		IntentID:    intentID,
		ExpiresAt:   expiresAt,
	}, nil
}

// ExpireSession voids an open Stripe Checkout session. Sessions already
// expired or completed are left alone.
func (p *StripeProvider) ExpireSession(ctx context.Context, req ExpireRequest) error {
	if p == nil {
		return errors.New("stripe: provider is nil")
	}
	params := &stripe.CheckoutSessionExpireParams{}
	params.Context = ctx
	if key := strings.TrimSpace(req.IdempotencyKey); key != "" {
		params.SetIdempotencyKey(key)
	}
	if _, err := p.api.sessions.Expire(req.SessionID, params); err != nil {
		var stripeErr *stripe.Error
		if errors.As(err, &stripeErr) && stripeErr.HTTPStatusCode == 400 {
			// The session is no longer open; nothing to void.
			return nil
		}
		return fmt.Errorf("stripe: expire checkout session: %w", err)
	}
	p.logger(ctx, "payments.stripe.session.expired", map[string]any{
		"sessionId": req.SessionID,
	})
	return nil
}

// LookupPayment retrieves a Stripe Checkout session for reconciliation.
func (p *StripeProvider) LookupPayment(ctx context.Context, req LookupRequest) (PaymentDetails, error) {
	if p == nil {
		return PaymentDetails{}, errors.New("stripe: provider is nil")
	}
	params := &stripe.CheckoutSessionParams{}
	params.Context = ctx
	session, err := p.api.sessions.Get(req.SessionID, params)
	if err != nil {
		return PaymentDetails{}, fmt.Errorf("stripe: lookup checkout session: %w", err)
	}
	return stripeSessionDetails(session), nil
}

func stripeSessionDetails(session *stripe.CheckoutSession) PaymentDetails {
	if session == nil {
		return PaymentDetails{}
	}

	status := StatusPending
	switch session.Status {
	case stripe.CheckoutSessionStatusComplete:
		status = StatusSucceeded
	case stripe.CheckoutSessionStatusExpired:
		status = StatusExpired
	case stripe.CheckoutSessionStatusOpen:
		status = StatusPending
	}
	if session.PaymentStatus == stripe.CheckoutSessionPaymentStatusUnpaid && status == StatusSucceeded {
		status = StatusPending
	}

	intentID := ""
	if session.PaymentIntent != nil {
		intentID = session.PaymentIntent.ID
	}

	return PaymentDetails{
		Provider:  "stripe",
		SessionID: session.ID,
		IntentID:  intentID,
		Status:    status,
		Amount:    session.AmountTotal,
		Currency:  strings.ToUpper(string(session.Currency)),
	}
}

func max64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}

func defaultString(value, fallback string) string {
	if strings.TrimSpace(value) != "" {
		return value
	}
	return fallback
}
