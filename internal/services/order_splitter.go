package services

import (
	"fmt"
	"sort"
	"time"

	"github.com/bottega-market/api/internal/domain"
)

// SplitOrder groups cart lines by artisan into one sub-order each, freezing
// the current catalog prices into order lines. Sub-orders come back sorted by
// artisan id so order creation locks rows in a stable sequence.
func SplitOrder(orderID string, lines []domain.CartLine, newID func() string, now time.Time) ([]domain.SubOrder, error) {
	if orderID == "" {
		return nil, fmt.Errorf("order split: order id is required")
	}
	if len(lines) == 0 {
		return nil, fmt.Errorf("order split: no cart lines")
	}

	grouped := make(map[string][]domain.CartLine)
	for _, line := range lines {
		if line.ArtisanID == "" {
			return nil, fmt.Errorf("order split: product %s has no artisan", line.ProductID)
		}
		if line.Quantity <= 0 {
			return nil, fmt.Errorf("order split: product %s has non-positive quantity", line.ProductID)
		}
		grouped[line.ArtisanID] = append(grouped[line.ArtisanID], line)
	}

	artisanIDs := make([]string, 0, len(grouped))
	for artisanID := range grouped {
		artisanIDs = append(artisanIDs, artisanID)
	}
	sort.Strings(artisanIDs)

	subOrders := make([]domain.SubOrder, 0, len(artisanIDs))
	for _, artisanID := range artisanIDs {
		sub := domain.SubOrder{
			ID:        newID(),
			OrderID:   orderID,
			ArtisanID: artisanID,
			Status:    domain.SubOrderStatusInAttesa,
			CreatedAt: now,
			UpdatedAt: now,
		}

		subtotal := 0.0
		for _, line := range grouped[artisanID] {
			lineSubtotal := domain.Round2(line.UnitPrice * float64(line.Quantity))
			sub.Lines = append(sub.Lines, domain.OrderLine{
				SubOrderID:  sub.ID,
				ProductID:   line.ProductID,
				ProductName: line.ProductName,
				Quantity:    line.Quantity,
				UnitPrice:   line.UnitPrice,
				Subtotal:    lineSubtotal,
			})
			subtotal += lineSubtotal
		}
		sub.Subtotal = domain.Round2(subtotal)
		subOrders = append(subOrders, sub)
	}

	return subOrders, nil
}

// OrderTotal sums sub-order subtotals into the header total.
func OrderTotal(subOrders []domain.SubOrder) float64 {
	total := 0.0
	for _, sub := range subOrders {
		total += sub.Subtotal
	}
	return domain.Round2(total)
}
