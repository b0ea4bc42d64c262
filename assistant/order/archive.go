// Package order archives completed checkouts. The session state machine
// resets to a fresh cart after payment, so the archive is the only durable
// record of what was bought and at what footprint.
package order

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"

	statex "github.com/verdantlabs/greencart/assistant/state"
)

// Order is one completed checkout.
type Order struct {
	bun.BaseModel `bun:"table:orders,alias:o"`

	ID                  string            `bun:"id,pk" json:"id"`
	SessionID           string            `bun:"session_id,notnull" json:"session_id"`
	Items               []statex.CartItem `bun:"items,type:jsonb" json:"items"`
	ProductFootprintKg  float64           `bun:"product_footprint_kg,notnull" json:"product_footprint_kg"`
	ShippingFootprintKg float64           `bun:"shipping_footprint_kg,notnull" json:"shipping_footprint_kg"`
	TotalFootprintKg    float64           `bun:"total_footprint_kg,notnull" json:"total_footprint_kg"`
	ShippingMethod      string            `bun:"shipping_method" json:"shipping_method,omitempty"`
	CompletedAt         time.Time         `bun:"completed_at,notnull" json:"completed_at"`
}

// FromReceipt turns a payment receipt into an archivable order with a
// fresh id.
func FromReceipt(receipt statex.Receipt) Order {
	return Order{
		ID:                  uuid.NewString(),
		SessionID:           receipt.SessionID,
		Items:               receipt.Items,
		ProductFootprintKg:  receipt.ProductFootprintKg,
		ShippingFootprintKg: receipt.ShippingFootprintKg,
		TotalFootprintKg:    receipt.TotalFootprintKg,
		ShippingMethod:      receipt.ShippingMethod,
		CompletedAt:         receipt.CompletedAt,
	}
}

func (o Order) validate() error {
	if strings.TrimSpace(o.ID) == "" {
		return errors.New("order id is required")
	}
	if strings.TrimSpace(o.SessionID) == "" {
		return errors.New("order session id is required")
	}
	return nil
}

// Archive stores completed orders. Implementations must be safe for
// concurrent use.
type Archive interface {
	Record(ctx context.Context, order Order) error
	BySession(ctx context.Context, sessionID string, limit int) ([]Order, error)
}

/* ------------------------------ memory archive ---------------------------- */

// MemoryArchive keeps orders in process memory. It backs tests and
// deployments that run without Postgres.
type MemoryArchive struct {
	mu     sync.RWMutex
	orders []Order
}

var _ Archive = (*MemoryArchive)(nil)

func NewMemoryArchive() *MemoryArchive {
	return &MemoryArchive{}
}

func (a *MemoryArchive) Record(ctx context.Context, order Order) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := order.validate(); err != nil {
		return err
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	a.orders = append(a.orders, cloneOrder(order))
	return nil
}

// BySession returns the session's orders newest first. A limit of zero or
// less returns them all.
func (a *MemoryArchive) BySession(ctx context.Context, sessionID string, limit int) ([]Order, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if strings.TrimSpace(sessionID) == "" {
		return nil, statex.ErrInvalidSession
	}

	a.mu.RLock()
	matched := make([]Order, 0, 4)
	for _, o := range a.orders {
		if o.SessionID == sessionID {
			matched = append(matched, cloneOrder(o))
		}
	}
	a.mu.RUnlock()

	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].CompletedAt.After(matched[j].CompletedAt)
	})
	if limit > 0 && len(matched) > limit {
		matched = matched[:limit]
	}
	return matched, nil
}

func cloneOrder(o Order) Order {
	clone := o
	if o.Items != nil {
		clone.Items = append([]statex.CartItem(nil), o.Items...)
	}
	return clone
}
