package handlers

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	openaisdk "github.com/openai/openai-go"

	contractx "github.com/verdantlabs/greencart/assistant/contract"
	"github.com/verdantlabs/greencart/assistant/toolserver"
)

// CompareHandler puts two or more products side by side on footprint and
// price. With an OpenAI client configured it adds a short model-written
// verdict on top of the deterministic report; without one the report
// stands alone, so tests stay hermetic.
type CompareHandler struct {
	base
	gateway  contractx.ToolGateway
	endpoint string
	client   *openaisdk.Client
	model    string
}

var _ contractx.Handler = (*CompareHandler)(nil)

// NewCompareHandler wires the comparison flow. client may be nil.
func NewCompareHandler(gw contractx.ToolGateway, endpoint string, client *openaisdk.Client, model string) *CompareHandler {
	return &CompareHandler{
		base:     newBase("compare", "compare", "comparison"),
		gateway:  gw,
		endpoint: endpoint,
		client:   client,
		model:    strings.TrimSpace(model),
	}
}

func (h *CompareHandler) Handle(ctx context.Context, req contractx.HandlerRequest) (contractx.HandlerResult, error) {
	ids := stringsParam(req.Task.Parameters, "product_ids")
	if len(ids) < 2 {
		return contractx.HandlerResult{}, fmt.Errorf("%w: comparison needs at least two product ids", contractx.ErrValidation)
	}

	products := make([]toolserver.Product, 0, len(ids))
	var unknown []string
	for _, id := range ids {
		product, err := fetchProduct(ctx, h.gateway, h.endpoint, id)
		if errors.Is(err, contractx.ErrNotFound) {
			unknown = append(unknown, id)
			continue
		}
		if err != nil {
			return contractx.HandlerResult{}, err
		}
		products = append(products, product)
	}
	if len(products) < 2 {
		return contractx.HandlerResult{}, fmt.Errorf(
			"%w: only %d of the requested products exist, need two to compare", contractx.ErrValidation, len(products),
		)
	}

	message := compareReport(products, unknown)
	if verdict := h.verdict(ctx, products); verdict != "" {
		message = verdict + "\n\n" + message
	}

	byFootprint := sortedByFootprint(products)
	data := map[string]any{
		"products":         products,
		"lowest_footprint": byFootprint[0].ID,
	}
	if len(unknown) > 0 {
		data["unknown_ids"] = unknown
	}
	return h.ok(message, data), nil
}

func compareReport(products []toolserver.Product, unknown []string) string {
	byFootprint := sortedByFootprint(products)

	var sb strings.Builder
	sb.WriteString("Comparison (lowest footprint first):")
	for _, p := range byFootprint {
		fmt.Fprintf(&sb, "\n- %s: %.1f kg CO2e, $%.2f [%s]", p.Name, p.FootprintKg, p.Price, p.ID)
	}

	best := byFootprint[0]
	cheapest := byFootprint[0]
	for _, p := range byFootprint[1:] {
		if p.Price < cheapest.Price {
			cheapest = p
		}
	}
	fmt.Fprintf(&sb, "\nLowest footprint: %s (%.1f kg CO2e).", best.Name, best.FootprintKg)
	if cheapest.ID != best.ID {
		fmt.Fprintf(&sb, " Cheapest: %s ($%.2f).", cheapest.Name, cheapest.Price)
	}
	if len(unknown) > 0 {
		fmt.Fprintf(&sb, "\nSkipped unknown ids: %s.", strings.Join(unknown, ", "))
	}
	return sb.String()
}

func sortedByFootprint(products []toolserver.Product) []toolserver.Product {
	sorted := append([]toolserver.Product(nil), products...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].FootprintKg < sorted[j].FootprintKg
	})
	return sorted
}

// verdict asks the model for a two-sentence recommendation. Any failure
// falls back to the deterministic report alone.
func (h *CompareHandler) verdict(ctx context.Context, products []toolserver.Product) string {
	if h.client == nil || h.model == "" {
		return ""
	}

	var sb strings.Builder
	sb.WriteString("Recommend one of these products for a carbon-conscious shopper in at most two sentences:\n")
	for _, p := range products {
		fmt.Fprintf(&sb, "- %s: %.1f kg CO2e, $%.2f, category %s\n", p.Name, p.FootprintKg, p.Price, p.Category)
	}

	resp, err := h.client.Chat.Completions.New(ctx, openaisdk.ChatCompletionNewParams{
		Model: openaisdk.ChatModel(h.model),
		Messages: []openaisdk.ChatCompletionMessageParamUnion{
			openaisdk.UserMessage(sb.String()),
		},
	})
	if err != nil {
		h.log.Warn().Err(err).Msg("comparison verdict call failed")
		return ""
	}
	if len(resp.Choices) == 0 {
		return ""
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content)
}
