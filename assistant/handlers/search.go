package handlers

import (
	"context"
	"fmt"
	"strings"

	contractx "github.com/verdantlabs/greencart/assistant/contract"
	"github.com/verdantlabs/greencart/assistant/toolserver"
)

// SearchHandler answers product discovery requests through the catalog
// tools.
type SearchHandler struct {
	base
	gateway  contractx.ToolGateway
	endpoint string
}

var _ contractx.Handler = (*SearchHandler)(nil)

func NewSearchHandler(gw contractx.ToolGateway, endpoint string) *SearchHandler {
	return &SearchHandler{
		base:     newBase("search", "product_search", "catalog"),
		gateway:  gw,
		endpoint: endpoint,
	}
}

func (h *SearchHandler) Handle(ctx context.Context, req contractx.HandlerRequest) (contractx.HandlerResult, error) {
	query := stringParam(req.Task.Parameters, "query")
	if query == "" {
		query = strings.TrimSpace(req.Task.OriginText)
	}
	if query == "" {
		return contractx.HandlerResult{}, fmt.Errorf("%w: search needs a query", contractx.ErrValidation)
	}

	args := map[string]any{"query": query}
	if limit := intParam(req.Task.Parameters, "limit", 0); limit > 0 {
		args["limit"] = limit
	}
	if category := stringParam(req.Task.Parameters, "category"); category != "" {
		args["category"] = category
	}
	if maxPrice := floatParam(req.Task.Parameters, "max_price", 0); maxPrice > 0 {
		args["max_price"] = maxPrice
	}

	var products []toolserver.Product
	if err := callTool(ctx, h.gateway, h.endpoint, toolserver.ToolCatalogSearch, args, &products); err != nil {
		return contractx.HandlerResult{}, err
	}

	if len(products) == 0 {
		return h.ok(
			fmt.Sprintf("No products matched %q. Try a broader search.", query),
			map[string]any{"query": query},
		), nil
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Found %d product(s) for %q:", len(products), query)
	for _, p := range products {
		fmt.Fprintf(&sb, "\n- %s ($%.2f, %.1f kg CO2e) [%s]", p.Name, p.Price, p.FootprintKg, p.ID)
	}
	return h.ok(sb.String(), map[string]any{"query": query, "products": products}), nil
}
