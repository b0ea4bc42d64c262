package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	contractx "github.com/verdantlabs/greencart/assistant/contract"
	statex "github.com/verdantlabs/greencart/assistant/state"
	"github.com/verdantlabs/greencart/assistant/toolserver"
)

// ShippingHandler selects a shipping method for the session. Selecting
// overwrites any previous choice; emissions never stack across calls.
type ShippingHandler struct {
	base
	sessions *statex.Manager
	gateway  contractx.ToolGateway
	endpoint string
}

var _ contractx.Handler = (*ShippingHandler)(nil)

func NewShippingHandler(sessions *statex.Manager, gw contractx.ToolGateway, endpoint string) *ShippingHandler {
	return &ShippingHandler{
		base:     newBase("shipping", "shipping"),
		sessions: sessions,
		gateway:  gw,
		endpoint: endpoint,
	}
}

func (h *ShippingHandler) Handle(ctx context.Context, req contractx.HandlerRequest) (contractx.HandlerResult, error) {
	// Footprint questions fan out here for the options listing; they must
	// never select a method as a side effect.
	if req.Task.Intent == contractx.IntentFootprint {
		return h.list(ctx)
	}

	method := stringParam(req.Task.Parameters, "method")
	if method == "" {
		method = methodFromText(req.Task.OriginText)
	}

	if stringParam(req.Task.Parameters, "action") == "list" || method == "" {
		return h.list(ctx)
	}
	return h.selectMethod(ctx, req, method)
}

// list reads the shipping-methods resource; it never touches the session.
func (h *ShippingHandler) list(ctx context.Context) (contractx.HandlerResult, error) {
	content, err := h.gateway.ReadResource(ctx, h.endpoint, toolserver.ResourceShippingMethodsURI)
	if err != nil {
		return contractx.HandlerResult{}, err
	}

	var methods []toolserver.ShippingMethod
	if err := json.Unmarshal([]byte(content.Text), &methods); err != nil {
		return contractx.HandlerResult{}, fmt.Errorf("%w: decode shipping methods: %v", contractx.ErrUpstreamInvocation, err)
	}

	var sb strings.Builder
	sb.WriteString("Available shipping methods (lowest footprint first):")
	for _, m := range methods {
		fmt.Fprintf(&sb, "\n- %s: %s (%.1f kg CO2e, about %d days)", m.Name, m.Description, m.FootprintKg, m.EtaDays)
	}
	return h.ok(sb.String(), map[string]any{"methods": methods}), nil
}

func (h *ShippingHandler) selectMethod(ctx context.Context, req contractx.HandlerRequest, method string) (contractx.HandlerResult, error) {
	var chosen toolserver.ShippingMethod
	err := callTool(ctx, h.gateway, h.endpoint, toolserver.ToolEmissionsShipping, map[string]any{"method": method}, &chosen)
	if err != nil {
		if errors.Is(err, contractx.ErrUpstreamInvocation) && strings.Contains(err.Error(), "unknown shipping method") {
			return contractx.HandlerResult{}, fmt.Errorf("%w: unknown shipping method %q", contractx.ErrValidation, method)
		}
		return contractx.HandlerResult{}, err
	}

	st, err := h.sessions.Mutate(ctx, req.SessionID, func(s *statex.SessionState) error {
		return s.SelectShipping(chosen.Name, chosen.FootprintKg, h.sessions.Now())
	})
	if err != nil {
		return contractx.HandlerResult{}, err
	}

	view := st.ViewCart()
	msg := fmt.Sprintf(
		"Selected %s shipping (%.1f kg CO2e). %s",
		chosen.Name, chosen.FootprintKg, cartSummary(view),
	)
	return h.ok(msg, map[string]any{"cart": view, "method": chosen}), nil
}

func methodFromText(text string) string {
	lower := strings.ToLower(text)
	for _, name := range []string{"overnight", "express", "ground", "eco"} {
		if strings.Contains(lower, name) {
			return name
		}
	}
	return ""
}
