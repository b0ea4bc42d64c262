package handlers

import (
	"context"
	"errors"
	"strings"
	"testing"

	contractx "github.com/verdantlabs/greencart/assistant/contract"
)

func newTestCompareHandler(t *testing.T) *CompareHandler {
	t.Helper()
	// Nil client keeps the comparison fully deterministic.
	return NewCompareHandler(newFakeGateway(), "http://tools.local/mcp", nil, "")
}

func TestCompareRanksByFootprint(t *testing.T) {
	t.Parallel()

	h := newTestCompareHandler(t)
	res, err := h.Handle(context.Background(), taskReq("sess-1", contractx.IntentCompare, "", map[string]any{
		"product_ids": []any{"sku-bottle", "sku-toothbrush"},
	}))
	if err != nil {
		t.Fatalf("Handle() error = %v", err)
	}

	if !strings.Contains(res.Message, "Lowest footprint: Bamboo Toothbrush (0.3 kg CO2e)") {
		t.Fatalf("unexpected message: %q", res.Message)
	}
	toothbrush := strings.Index(res.Message, "Bamboo Toothbrush")
	bottle := strings.Index(res.Message, "Steel Water Bottle")
	if toothbrush < 0 || bottle < 0 || toothbrush > bottle {
		t.Fatalf("report not ordered lowest footprint first: %q", res.Message)
	}
	if got, _ := res.Data["lowest_footprint"].(string); got != "sku-toothbrush" {
		t.Fatalf("lowest_footprint = %q, want sku-toothbrush", got)
	}
}

func TestCompareCallsOutCheaperAlternative(t *testing.T) {
	t.Parallel()

	// The yoga mat wins on footprint, the charger on price.
	h := newTestCompareHandler(t)
	res, err := h.Handle(context.Background(), taskReq("sess-1", contractx.IntentCompare, "", map[string]any{
		"product_ids": []any{"sku-charger", "sku-yogamat"},
	}))
	if err != nil {
		t.Fatalf("Handle() error = %v", err)
	}
	if !strings.Contains(res.Message, "Lowest footprint: Cork Yoga Mat") {
		t.Fatalf("unexpected message: %q", res.Message)
	}
	if !strings.Contains(res.Message, "Cheapest: Solar Phone Charger ($49.50)") {
		t.Fatalf("cheapest alternative missing: %q", res.Message)
	}
}

func TestCompareSkipsUnknownIDs(t *testing.T) {
	t.Parallel()

	h := newTestCompareHandler(t)
	res, err := h.Handle(context.Background(), taskReq("sess-1", contractx.IntentCompare, "", map[string]any{
		"product_ids": []any{"sku-bottle", "sku-ghost", "sku-toothbrush"},
	}))
	if err != nil {
		t.Fatalf("Handle() error = %v", err)
	}
	if !strings.Contains(res.Message, "Skipped unknown ids: sku-ghost") {
		t.Fatalf("unknown ids silently dropped: %q", res.Message)
	}
	unknown, _ := res.Data["unknown_ids"].([]string)
	if len(unknown) != 1 || unknown[0] != "sku-ghost" {
		t.Fatalf("unknown_ids = %v", unknown)
	}
}

func TestCompareNeedsTwoProducts(t *testing.T) {
	t.Parallel()

	h := newTestCompareHandler(t)

	one := taskReq("sess-1", contractx.IntentCompare, "", map[string]any{"product_ids": []any{"sku-bottle"}})
	if _, err := h.Handle(context.Background(), one); !errors.Is(err, contractx.ErrValidation) {
		t.Fatalf("Handle(one id) error = %v, want ErrValidation", err)
	}

	ghosts := taskReq("sess-1", contractx.IntentCompare, "", map[string]any{"product_ids": []any{"sku-bottle", "sku-ghost"}})
	if _, err := h.Handle(context.Background(), ghosts); !errors.Is(err, contractx.ErrValidation) {
		t.Fatalf("Handle(one known id) error = %v, want ErrValidation", err)
	}
}
