package state

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"
)

// FootprintTolerance bounds the allowed drift between the stored total and
// the sum of its two components.
const FootprintTolerance = 1e-6

type Lifecycle string

const (
	LifecycleActive    Lifecycle = "active"
	LifecycleCheckout  Lifecycle = "checkout"
	LifecycleCompleted Lifecycle = "completed"
)

type CartItem struct {
	ItemID      string  `json:"item_id"`
	Name        string  `json:"name,omitempty"`
	Quantity    int     `json:"quantity"`
	Price       float64 `json:"price,omitempty"`
	FootprintKg float64 `json:"footprint_kg"`
}

// SessionState is the single source of truth for one shopping session.
// TotalFootprintKg is derived: no operation writes it directly, every
// mutation ends in recompute() which rebuilds it from the two components.
type SessionState struct {
	SessionID string     `json:"session_id"`
	CartItems []CartItem `json:"cart_items,omitempty"`

	ProductFootprintKg     float64 `json:"product_footprint_kg"`
	ShippingFootprintKg    float64 `json:"shipping_footprint_kg"`
	SelectedShippingMethod string  `json:"selected_shipping_method,omitempty"`
	TotalFootprintKg       float64 `json:"total_footprint_kg"`

	Lifecycle Lifecycle `json:"lifecycle"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

/* --------------------------------- errors -------------------------------- */

var (
	ErrInvalidSession      = errors.New("session id is empty")
	ErrStateNotFound       = errors.New("session state not found")
	ErrInvalidSessionState = errors.New("invalid session state")
	ErrItemNotFound        = errors.New("cart item not found")
	ErrInvalidItem         = errors.New("invalid cart item")
	ErrInvalidShipping     = errors.New("invalid shipping selection")
)

func NewSessionState(sessionID string, now time.Time) *SessionState {
	return &SessionState{
		SessionID: sessionID,
		Lifecycle: LifecycleActive,
		CreatedAt: now.UTC(),
		UpdatedAt: now.UTC(),
	}
}

func (s *SessionState) Touch(now time.Time) {
	s.UpdatedAt = now.UTC()
}

// CartEmpty reports whether the cart holds no items.
func (s *SessionState) CartEmpty() bool {
	return s == nil || len(s.CartItems) == 0
}

/* ----------------------------- cart operations ---------------------------- */

// AddToCart upserts the line item keyed by ItemID. A replayed add replaces
// the same line and the product footprint is rebuilt from the whole cart,
// so a retried add never double-counts.
func (s *SessionState) AddToCart(item CartItem, now time.Time) error {
	if s == nil {
		return errors.New("nil session state")
	}
	if s.Lifecycle != LifecycleActive {
		return fmt.Errorf("%w: add_to_cart requires an active session, lifecycle=%s", ErrInvalidSessionState, s.Lifecycle)
	}
	if strings.TrimSpace(item.ItemID) == "" {
		return fmt.Errorf("%w: item id is empty", ErrInvalidItem)
	}
	if item.FootprintKg < 0 {
		return fmt.Errorf("%w: item %s has negative footprint", ErrInvalidItem, item.ItemID)
	}
	if item.Quantity <= 0 {
		item.Quantity = 1
	}

	replaced := false
	for i := range s.CartItems {
		if s.CartItems[i].ItemID == item.ItemID {
			s.CartItems[i] = item
			replaced = true
			break
		}
	}
	if !replaced {
		s.CartItems = append(s.CartItems, item)
	}

	s.recompute()
	s.Touch(now)
	return nil
}

func (s *SessionState) RemoveFromCart(itemID string, now time.Time) error {
	if s == nil {
		return errors.New("nil session state")
	}
	if s.Lifecycle != LifecycleActive {
		return fmt.Errorf("%w: remove_from_cart requires an active session, lifecycle=%s", ErrInvalidSessionState, s.Lifecycle)
	}
	itemID = strings.TrimSpace(itemID)
	if itemID == "" {
		return fmt.Errorf("%w: item id is empty", ErrInvalidItem)
	}

	for i := range s.CartItems {
		if s.CartItems[i].ItemID != itemID {
			continue
		}
		s.CartItems = append(s.CartItems[:i], s.CartItems[i+1:]...)
		s.recompute()
		s.Touch(now)
		return nil
	}
	return fmt.Errorf("%w: %s", ErrItemNotFound, itemID)
}

// SelectShipping overwrites the shipping footprint. Repeated selections swap
// the method; emissions never stack across calls.
func (s *SessionState) SelectShipping(method string, footprintKg float64, now time.Time) error {
	if s == nil {
		return errors.New("nil session state")
	}
	if s.Lifecycle != LifecycleActive && s.Lifecycle != LifecycleCheckout {
		return fmt.Errorf("%w: select_shipping requires an active or checkout session, lifecycle=%s", ErrInvalidSessionState, s.Lifecycle)
	}
	if s.CartEmpty() {
		return fmt.Errorf("%w: cannot select shipping for an empty cart", ErrInvalidSessionState)
	}
	method = strings.TrimSpace(method)
	if method == "" {
		return fmt.Errorf("%w: method is empty", ErrInvalidShipping)
	}
	if footprintKg < 0 {
		return fmt.Errorf("%w: negative footprint for method %s", ErrInvalidShipping, method)
	}

	s.SelectedShippingMethod = method
	s.ShippingFootprintKg = footprintKg
	s.recompute()
	s.Touch(now)
	return nil
}

/* ------------------------------- lifecycle -------------------------------- */

func (s *SessionState) Checkout(now time.Time) error {
	if s == nil {
		return errors.New("nil session state")
	}
	if s.Lifecycle != LifecycleActive {
		return fmt.Errorf("%w: checkout requires an active session, lifecycle=%s", ErrInvalidSessionState, s.Lifecycle)
	}
	if s.CartEmpty() {
		return fmt.Errorf("%w: cannot check out an empty cart", ErrInvalidSessionState)
	}
	s.Lifecycle = LifecycleCheckout
	s.Touch(now)
	return nil
}

// Receipt is the pre-reset snapshot of a paid-for session.
type Receipt struct {
	SessionID           string     `json:"session_id"`
	Items               []CartItem `json:"items"`
	ProductFootprintKg  float64    `json:"product_footprint_kg"`
	ShippingFootprintKg float64    `json:"shipping_footprint_kg"`
	TotalFootprintKg    float64    `json:"total_footprint_kg"`
	ShippingMethod      string     `json:"shipping_method,omitempty"`
	CompletedAt         time.Time  `json:"completed_at"`
}

// PaymentSuccess walks the session through Completed and straight back to a
// fresh Active state. The returned receipt is the only record of the order;
// cart and both footprints are zeroed in place, the session record survives.
func (s *SessionState) PaymentSuccess(now time.Time) (Receipt, error) {
	if s == nil {
		return Receipt{}, errors.New("nil session state")
	}
	if s.Lifecycle != LifecycleCheckout {
		return Receipt{}, fmt.Errorf("%w: payment requires a checkout session, lifecycle=%s", ErrInvalidSessionState, s.Lifecycle)
	}

	s.Lifecycle = LifecycleCompleted
	receipt := Receipt{
		SessionID:           s.SessionID,
		Items:               cloneItems(s.CartItems),
		ProductFootprintKg:  s.ProductFootprintKg,
		ShippingFootprintKg: s.ShippingFootprintKg,
		TotalFootprintKg:    s.TotalFootprintKg,
		ShippingMethod:      s.SelectedShippingMethod,
		CompletedAt:         now.UTC(),
	}

	s.CartItems = nil
	s.ShippingFootprintKg = 0
	s.SelectedShippingMethod = ""
	s.recompute()
	s.Lifecycle = LifecycleActive
	s.Touch(now)
	return receipt, nil
}

// ClearCart resets the session to its zero value while keeping it alive.
func (s *SessionState) ClearCart(now time.Time) error {
	if s == nil {
		return errors.New("nil session state")
	}
	if s.Lifecycle != LifecycleActive {
		return fmt.Errorf("%w: clear_cart requires an active session, lifecycle=%s", ErrInvalidSessionState, s.Lifecycle)
	}
	s.CartItems = nil
	s.ShippingFootprintKg = 0
	s.SelectedShippingMethod = ""
	s.recompute()
	s.Touch(now)
	return nil
}

/* --------------------------------- reads ---------------------------------- */

// CartView is a detached read model; mutating it never touches the session.
type CartView struct {
	SessionID           string     `json:"session_id"`
	Items               []CartItem `json:"items"`
	ProductFootprintKg  float64    `json:"product_footprint_kg"`
	ShippingFootprintKg float64    `json:"shipping_footprint_kg"`
	TotalFootprintKg    float64    `json:"total_footprint_kg"`
	ShippingMethod      string     `json:"shipping_method,omitempty"`
	Lifecycle           Lifecycle  `json:"lifecycle"`
}

// ViewCart copies every field out and mutates nothing.
func (s *SessionState) ViewCart() CartView {
	if s == nil {
		return CartView{}
	}
	return CartView{
		SessionID:           s.SessionID,
		Items:               cloneItems(s.CartItems),
		ProductFootprintKg:  s.ProductFootprintKg,
		ShippingFootprintKg: s.ShippingFootprintKg,
		TotalFootprintKg:    s.TotalFootprintKg,
		ShippingMethod:      s.SelectedShippingMethod,
		Lifecycle:           s.Lifecycle,
	}
}

// Clone returns a deep copy safe to hand to another goroutine.
func (s *SessionState) Clone() *SessionState {
	if s == nil {
		return nil
	}
	out := *s
	out.CartItems = cloneItems(s.CartItems)
	return &out
}

func cloneItems(items []CartItem) []CartItem {
	if len(items) == 0 {
		return nil
	}
	out := make([]CartItem, len(items))
	copy(out, items)
	return out
}

func (s *SessionState) recompute() {
	var product float64
	for _, item := range s.CartItems {
		qty := item.Quantity
		if qty <= 0 {
			qty = 1
		}
		product += item.FootprintKg * float64(qty)
	}
	s.ProductFootprintKg = product
	s.TotalFootprintKg = s.ProductFootprintKg + s.ShippingFootprintKg
}

func (s *SessionState) Validate() error {
	if s == nil {
		return errors.New("nil session state")
	}
	if strings.TrimSpace(s.SessionID) == "" {
		return ErrInvalidSession
	}
	switch s.Lifecycle {
	case LifecycleActive, LifecycleCheckout, LifecycleCompleted:
	default:
		return fmt.Errorf("%w: unknown lifecycle %q", ErrInvalidSessionState, s.Lifecycle)
	}
	if s.ProductFootprintKg < 0 || s.ShippingFootprintKg < 0 {
		return fmt.Errorf("%w: negative footprint component", ErrInvalidSessionState)
	}
	if math.Abs(s.TotalFootprintKg-(s.ProductFootprintKg+s.ShippingFootprintKg)) > FootprintTolerance {
		return fmt.Errorf("%w: total %.6f drifted from components %.6f + %.6f",
			ErrInvalidSessionState, s.TotalFootprintKg, s.ProductFootprintKg, s.ShippingFootprintKg)
	}
	for _, item := range s.CartItems {
		if strings.TrimSpace(item.ItemID) == "" {
			return fmt.Errorf("%w: cart holds an item without id", ErrInvalidItem)
		}
		if item.FootprintKg < 0 {
			return fmt.Errorf("%w: item %s has negative footprint", ErrInvalidItem, item.ItemID)
		}
	}
	return nil
}
