package notifications

import (
	"context"
	"errors"
	"fmt"

	"github.com/resend/resend-go/v2"

	"github.com/bottega-market/api/internal/domain"
)

// Notifier sends transactional messages about order lifecycle changes.
// Failures are logged and never block the order flow.
type Notifier interface {
	OrderCreated(ctx context.Context, order domain.Order, customer domain.CustomerInfo) error
	OrderPaid(ctx context.Context, order domain.Order, customer domain.CustomerInfo) error
	SubOrderShipped(ctx context.Context, sub domain.SubOrder) error
}

// ResendNotifier delivers emails through the Resend API.
type ResendNotifier struct {
	client *resend.Client
	from   string
}

// NewResendNotifier constructs a notifier over the Resend client.
func NewResendNotifier(apiKey, from string) (*ResendNotifier, error) {
	if apiKey == "" {
		return nil, errors.New("notifications: api key is required")
	}
	if from == "" {
		return nil, errors.New("notifications: from address is required")
	}
	return &ResendNotifier{client: resend.NewClient(apiKey), from: from}, nil
}

// OrderCreated emails the customer a link to complete payment.
func (n *ResendNotifier) OrderCreated(ctx context.Context, order domain.Order, customer domain.CustomerInfo) error {
	if customer.Email == "" {
		return nil
	}
	params := &resend.SendEmailRequest{
		From:    n.from,
		To:      []string{customer.Email},
		Subject: fmt.Sprintf("Your order %s is awaiting payment", order.ID),
		Html: fmt.Sprintf(
			"<p>Thanks for your order of &euro;%.2f.</p><p><a href=%q>Complete your payment</a> before the session expires.</p>",
			order.Total, order.Payment.URL),
	}
	if _, err := n.client.Emails.SendWithContext(ctx, params); err != nil {
		return fmt.Errorf("notifications: order created email: %w", err)
	}
	return nil
}

// OrderPaid confirms payment to the customer.
func (n *ResendNotifier) OrderPaid(ctx context.Context, order domain.Order, customer domain.CustomerInfo) error {
	if customer.Email == "" {
		return nil
	}
	params := &resend.SendEmailRequest{
		From:    n.from,
		To:      []string{customer.Email},
		Subject: fmt.Sprintf("Payment received for order %s", order.ID),
		Html: fmt.Sprintf(
			"<p>We received your payment of &euro;%.2f. Each artisan will ship their items separately.</p>",
			order.Total),
	}
	if _, err := n.client.Emails.SendWithContext(ctx, params); err != nil {
		return fmt.Errorf("notifications: order paid email: %w", err)
	}
	return nil
}

// SubOrderShipped tells the customer one artisan's parcel is on the way.
func (n *ResendNotifier) SubOrderShipped(ctx context.Context, sub domain.SubOrder) error {
	if sub.Customer.Email == "" {
		return nil
	}
	params := &resend.SendEmailRequest{
		From:    n.from,
		To:      []string{sub.Customer.Email},
		Subject: fmt.Sprintf("Part of your order %s has shipped", sub.OrderID),
		Html: fmt.Sprintf(
			"<p>%d item(s) from one of your artisans are on the way.</p>",
			len(sub.Lines)),
	}
	if _, err := n.client.Emails.SendWithContext(ctx, params); err != nil {
		return fmt.Errorf("notifications: sub-order shipped email: %w", err)
	}
	return nil
}

// NopNotifier discards notifications. Used when no mail key is configured.
type NopNotifier struct{}

// OrderCreated implements the Notifier interface.
func (NopNotifier) OrderCreated(context.Context, domain.Order, domain.CustomerInfo) error { return nil }

// OrderPaid implements the Notifier interface.
func (NopNotifier) OrderPaid(context.Context, domain.Order, domain.CustomerInfo) error { return nil }

// SubOrderShipped implements the Notifier interface.
func (NopNotifier) SubOrderShipped(context.Context, domain.SubOrder) error { return nil }
