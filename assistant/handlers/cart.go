package handlers

import (
	"context"
	"fmt"
	"strings"

	contractx "github.com/verdantlabs/greencart/assistant/contract"
	statex "github.com/verdantlabs/greencart/assistant/state"
	"github.com/verdantlabs/greencart/assistant/toolserver"
)

// CartHandler mutates and reads the shopping cart. Footprint numbers flow
// from the catalog tools into the session state machine; the handler never
// does its own arithmetic.
type CartHandler struct {
	base
	sessions *statex.Manager
	gateway  contractx.ToolGateway
	endpoint string
}

var _ contractx.Handler = (*CartHandler)(nil)

func NewCartHandler(sessions *statex.Manager, gw contractx.ToolGateway, endpoint string) *CartHandler {
	return &CartHandler{
		base:     newBase("cart", "cart", "footprint"),
		sessions: sessions,
		gateway:  gw,
		endpoint: endpoint,
	}
}

func (h *CartHandler) Handle(ctx context.Context, req contractx.HandlerRequest) (contractx.HandlerResult, error) {
	action := stringParam(req.Task.Parameters, "action")
	if action == "" {
		// Footprint fan-outs share one parameter map across handlers, so
		// the intent decides when no explicit action rode along.
		if req.Task.Intent == contractx.IntentFootprint {
			action = "footprint"
		} else {
			action = "view"
		}
	}

	switch action {
	case "add":
		return h.add(ctx, req)
	case "remove":
		return h.remove(ctx, req)
	case "clear":
		return h.clear(ctx, req)
	case "footprint":
		return h.footprint(ctx, req)
	case "view":
		return h.view(ctx, req)
	default:
		return contractx.HandlerResult{}, fmt.Errorf("%w: unknown cart action %q", contractx.ErrValidation, action)
	}
}

func (h *CartHandler) add(ctx context.Context, req contractx.HandlerRequest) (contractx.HandlerResult, error) {
	quantity := intParam(req.Task.Parameters, "quantity", 1)

	product, err := h.resolveProduct(ctx, req.Task.Parameters)
	if err != nil {
		return contractx.HandlerResult{}, err
	}

	st, err := h.sessions.Mutate(ctx, req.SessionID, func(s *statex.SessionState) error {
		return s.AddToCart(statex.CartItem{
			ItemID:      product.ID,
			Name:        product.Name,
			Quantity:    quantity,
			Price:       product.Price,
			FootprintKg: product.FootprintKg,
		}, h.sessions.Now())
	})
	if err != nil {
		return contractx.HandlerResult{}, err
	}

	view := st.ViewCart()
	msg := fmt.Sprintf("Added %d × %s to your cart. %s", quantity, product.Name, cartSummary(view))
	return h.ok(msg, map[string]any{"cart": view}), nil
}

// resolveProduct accepts either an explicit product_id or a free-text
// query; "add a bamboo toothbrush" carries no id, so the best catalog
// match stands in.
func (h *CartHandler) resolveProduct(ctx context.Context, params map[string]any) (toolserver.Product, error) {
	if productID := stringParam(params, "product_id"); productID != "" {
		return fetchProduct(ctx, h.gateway, h.endpoint, productID)
	}

	query := stringParam(params, "query")
	if query == "" {
		return toolserver.Product{}, fmt.Errorf("%w: add needs a product_id or query", contractx.ErrValidation)
	}

	var products []toolserver.Product
	args := map[string]any{"query": query, "limit": 1}
	if err := callTool(ctx, h.gateway, h.endpoint, toolserver.ToolCatalogSearch, args, &products); err != nil {
		return toolserver.Product{}, err
	}
	if len(products) == 0 {
		return toolserver.Product{}, fmt.Errorf("%w: no product matching %q", contractx.ErrNotFound, query)
	}
	return products[0], nil
}

func (h *CartHandler) remove(ctx context.Context, req contractx.HandlerRequest) (contractx.HandlerResult, error) {
	productID := stringParam(req.Task.Parameters, "product_id")
	if productID == "" {
		return contractx.HandlerResult{}, fmt.Errorf("%w: remove needs a product_id", contractx.ErrValidation)
	}

	st, err := h.sessions.Mutate(ctx, req.SessionID, func(s *statex.SessionState) error {
		return s.RemoveFromCart(productID, h.sessions.Now())
	})
	if err != nil {
		return contractx.HandlerResult{}, err
	}

	view := st.ViewCart()
	msg := fmt.Sprintf("Removed %s from your cart. %s", productID, cartSummary(view))
	return h.ok(msg, map[string]any{"cart": view}), nil
}

func (h *CartHandler) clear(ctx context.Context, req contractx.HandlerRequest) (contractx.HandlerResult, error) {
	st, err := h.sessions.Mutate(ctx, req.SessionID, func(s *statex.SessionState) error {
		return s.ClearCart(h.sessions.Now())
	})
	if err != nil {
		return contractx.HandlerResult{}, err
	}
	return h.ok("Cart cleared. Footprint is back to 0.0 kg CO2e.", map[string]any{"cart": st.ViewCart()}), nil
}

func (h *CartHandler) view(ctx context.Context, req contractx.HandlerRequest) (contractx.HandlerResult, error) {
	st, err := h.sessions.View(ctx, req.SessionID)
	if err != nil {
		return contractx.HandlerResult{}, err
	}

	view := st.ViewCart()
	if len(view.Items) == 0 {
		return h.ok("Your cart is empty.", map[string]any{"cart": view}), nil
	}

	var sb strings.Builder
	sb.WriteString("Your cart:")
	for _, item := range view.Items {
		fmt.Fprintf(&sb, "\n- %d × %s (%.1f kg CO2e each) [%s]", item.Quantity, item.Name, item.FootprintKg, item.ItemID)
	}
	fmt.Fprintf(&sb, "\n%s", cartSummary(view))
	return h.ok(sb.String(), map[string]any{"cart": view}), nil
}

// footprint reports the emission breakdown. Footprint questions fan out
// to the shipping handler in parallel, so the options listing arrives in
// the same turn without a follow-up.
func (h *CartHandler) footprint(ctx context.Context, req contractx.HandlerRequest) (contractx.HandlerResult, error) {
	st, err := h.sessions.View(ctx, req.SessionID)
	if err != nil {
		return contractx.HandlerResult{}, err
	}

	view := st.ViewCart()
	msg := fmt.Sprintf(
		"Footprint breakdown: products %.1f kg across %d item(s), shipping %.1f kg%s. Total %.1f kg CO2e.",
		view.ProductFootprintKg, len(view.Items), view.ShippingFootprintKg,
		methodNote(view.ShippingMethod), view.TotalFootprintKg,
	)
	return h.ok(msg, map[string]any{"cart": view}), nil
}

func cartSummary(view statex.CartView) string {
	return fmt.Sprintf(
		"Cart footprint: products %.1f kg + shipping %.1f kg%s = %.1f kg CO2e.",
		view.ProductFootprintKg, view.ShippingFootprintKg,
		methodNote(view.ShippingMethod), view.TotalFootprintKg,
	)
}

func methodNote(method string) string {
	if method == "" {
		return ""
	}
	return fmt.Sprintf(" (%s)", method)
}
