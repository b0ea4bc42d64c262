package handlers

import (
	"context"
	"fmt"

	contractx "github.com/verdantlabs/greencart/assistant/contract"
	"github.com/verdantlabs/greencart/assistant/order"
	statex "github.com/verdantlabs/greencart/assistant/state"
)

// TopicOrderCompleted is the event topic published after a successful
// payment.
const TopicOrderCompleted = "order.completed"

// CheckoutHandler walks a session through checkout and payment. Payment
// archives the order and resets the session to a fresh cart.
type CheckoutHandler struct {
	base
	sessions  *statex.Manager
	archive   order.Archive
	publisher contractx.EventPublisher
}

var _ contractx.Handler = (*CheckoutHandler)(nil)

// NewCheckoutHandler wires the checkout flow. publisher may be nil when no
// event broker is configured.
func NewCheckoutHandler(sessions *statex.Manager, archive order.Archive, publisher contractx.EventPublisher) *CheckoutHandler {
	return &CheckoutHandler{
		base:      newBase("checkout", "checkout", "payment"),
		sessions:  sessions,
		archive:   archive,
		publisher: publisher,
	}
}

func (h *CheckoutHandler) Handle(ctx context.Context, req contractx.HandlerRequest) (contractx.HandlerResult, error) {
	action := stringParam(req.Task.Parameters, "action")
	if action == "" {
		action = "checkout"
	}

	switch action {
	case "checkout":
		return h.begin(ctx, req)
	case "pay", "confirm":
		return h.pay(ctx, req)
	default:
		return contractx.HandlerResult{}, fmt.Errorf("%w: unknown checkout action %q", contractx.ErrValidation, action)
	}
}

func (h *CheckoutHandler) begin(ctx context.Context, req contractx.HandlerRequest) (contractx.HandlerResult, error) {
	st, err := h.sessions.Mutate(ctx, req.SessionID, func(s *statex.SessionState) error {
		return s.Checkout(h.sessions.Now())
	})
	if err != nil {
		return contractx.HandlerResult{}, err
	}

	view := st.ViewCart()
	msg := fmt.Sprintf(
		"Checkout started for %d item(s) at %.1f kg CO2e total. Say \"pay\" to confirm your order.",
		len(view.Items), view.TotalFootprintKg,
	)
	return h.ok(msg, map[string]any{"cart": view}), nil
}

// pay completes the order. The session resets inside the same mutation, so
// a crash between payment and archive can lose the archive row but never
// leave a paid cart behind.
func (h *CheckoutHandler) pay(ctx context.Context, req contractx.HandlerRequest) (contractx.HandlerResult, error) {
	var receipt statex.Receipt
	st, err := h.sessions.Mutate(ctx, req.SessionID, func(s *statex.SessionState) error {
		r, err := s.PaymentSuccess(h.sessions.Now())
		if err != nil {
			return err
		}
		receipt = r
		return nil
	})
	if err != nil {
		return contractx.HandlerResult{}, err
	}

	ord := order.FromReceipt(receipt)
	shippingNote := "no shipping selected"
	if receipt.ShippingMethod != "" {
		shippingNote = receipt.ShippingMethod + " shipping"
	}

	res := h.ok(
		fmt.Sprintf(
			"Payment confirmed. Order %s completed: %d item(s), %s, %.1f kg CO2e total. Your cart is ready for the next trip.",
			ord.ID, len(receipt.Items), shippingNote, receipt.TotalFootprintKg,
		),
		map[string]any{"order_id": ord.ID, "receipt": receipt, "cart": st.ViewCart()},
	)

	if err := h.archive.Record(ctx, ord); err != nil {
		h.log.Error().Err(err).Str("order_id", ord.ID).Msg("order archive write failed")
		res.Degraded = true
		res.Data["archive_error"] = err.Error()
	}

	if h.publisher != nil {
		if err := h.publisher.PublishJSON(ctx, TopicOrderCompleted, ord); err != nil {
			h.log.Warn().Err(err).Str("order_id", ord.ID).Msg("order event publish failed")
		}
	}

	res.FollowUps = []contractx.FollowUp{{
		Intent:     contractx.IntentCart,
		Handler:    "cart",
		Parameters: map[string]any{"action": "view"},
	}}
	return res, nil
}
