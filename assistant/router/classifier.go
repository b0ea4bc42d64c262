// Package router classifies incoming text into task descriptors and runs
// them through the dispatch pipeline.
package router

import (
	"strconv"
	"strings"

	"github.com/google/uuid"

	contractx "github.com/verdantlabs/greencart/assistant/contract"
	statex "github.com/verdantlabs/greencart/assistant/state"
)

// Rule is one entry in the intent table: a keyword gate plus the routing
// the matched intent gets. Rules are evaluated in declared order and the
// first match wins, so precedence lives in the table itself, not in code.
type Rule struct {
	Intent      contractx.Intent
	Workflow    contractx.WorkflowKind
	Primary     string
	Secondaries []string
	Keywords    []string

	// extract fills task parameters from the matched text. Optional.
	extract func(text string, params map[string]any)
}

// DefaultRules orders intents by precedence: checkout and payment first,
// then cart mutation before anything that smells like search, so
// "add X to cart" can never route to product search. Shipping outranks
// comparison and search because method names appear inside otherwise
// searchy sentences. Footprint questions sit below search ("find a
// low-carbon backpack" is a search) but above the plain cart view, so
// "what's the footprint of my cart" fans out instead of just listing
// items.
func DefaultRules() []Rule {
	return []Rule{
		{
			Intent:   contractx.IntentCheckout,
			Workflow: contractx.WorkflowHierarchical,
			Primary:  "checkout",
			Keywords: []string{"checkout", "check out", "pay", "payment", "place my order", "place order", "confirm order", "buy now"},
			extract:  extractCheckout,
		},
		{
			Intent:   contractx.IntentCart,
			Workflow: contractx.WorkflowSequential,
			Primary:  "cart",
			Keywords: []string{"add ", "put ", "remove ", "take out", "clear"},
			extract:  extractCart,
		},
		{
			Intent:   contractx.IntentShipping,
			Workflow: contractx.WorkflowSequential,
			Primary:  "shipping",
			Keywords: []string{"shipping", "ship it", "delivery", "deliver"},
			extract:  extractShipping,
		},
		{
			Intent:   contractx.IntentCompare,
			Workflow: contractx.WorkflowSequential,
			Primary:  "compare",
			Keywords: []string{"compare", "versus", " vs ", "difference between", "side by side", "which is greener"},
			extract:  extractCompare,
		},
		{
			Intent:   contractx.IntentSearch,
			Workflow: contractx.WorkflowSequential,
			Primary:  "search",
			Keywords: []string{"find", "search", "looking for", "recommend", "suggest", "browse", "do you have", "product"},
			extract:  extractSearch,
		},
		{
			Intent:      contractx.IntentFootprint,
			Workflow:    contractx.WorkflowParallel,
			Primary:     "cart",
			Secondaries: []string{"shipping"},
			Keywords:    []string{"footprint", "carbon", "co2", "emission", "impact", "how green"},
		},
		{
			Intent:   contractx.IntentCart,
			Workflow: contractx.WorkflowSequential,
			Primary:  "cart",
			Keywords: []string{"cart", "basket"},
			extract:  extractCart,
		},
	}
}

// Classifier matches text against the ordered rule table.
type Classifier struct {
	rules []Rule
}

var _ contractx.Classifier = (*Classifier)(nil)

func NewClassifier(rules ...Rule) *Classifier {
	if len(rules) == 0 {
		rules = DefaultRules()
	}
	return &Classifier{rules: rules}
}

// Classify picks the first matching rule and builds the descriptor.
// Session context only demotes: a checkout utterance against an empty
// cart routes to a cart view instead, so the reply can explain why there
// is nothing to check out. Unmatched text falls through to the general
// handler; there is no error path.
func (c *Classifier) Classify(text string, sess *statex.SessionState) contractx.TaskDescriptor {
	origin := strings.TrimSpace(text)
	lower := strings.ToLower(origin)

	for _, rule := range c.rules {
		if !containsAny(lower, rule.Keywords...) {
			continue
		}

		if rule.Intent == contractx.IntentCheckout && sess.CartEmpty() {
			return contractx.TaskDescriptor{
				ID:             uuid.NewString(),
				OriginText:     origin,
				Intent:         contractx.IntentCart,
				Parameters:     map[string]any{"action": "view"},
				Workflow:       contractx.WorkflowSequential,
				PrimaryHandler: "cart",
			}
		}

		params := map[string]any{}
		if rule.extract != nil {
			rule.extract(lower, params)
		}
		return contractx.TaskDescriptor{
			ID:                uuid.NewString(),
			OriginText:        origin,
			Intent:            rule.Intent,
			Parameters:        params,
			Workflow:          rule.Workflow,
			PrimaryHandler:    rule.Primary,
			SecondaryHandlers: append([]string(nil), rule.Secondaries...),
		}
	}

	return contractx.TaskDescriptor{
		ID:             uuid.NewString(),
		OriginText:     origin,
		Intent:         contractx.IntentGeneral,
		Workflow:       contractx.WorkflowSequential,
		PrimaryHandler: "general",
	}
}

func containsAny(s string, needles ...string) bool {
	for _, n := range needles {
		if n == "" {
			continue
		}
		if strings.Contains(s, n) {
			return true
		}
	}
	return false
}

/* ----------------------------- param extraction ---------------------------- */

func extractCheckout(text string, params map[string]any) {
	if containsAny(text, "pay", "confirm") {
		params["action"] = "pay"
	} else {
		params["action"] = "checkout"
	}
}

func extractCart(text string, params map[string]any) {
	switch {
	case containsAny(text, "remove", "take out", "delete", "drop "):
		params["action"] = "remove"
	case containsAny(text, "clear", "empty my", "empty the", "empty cart", "empty basket"):
		params["action"] = "clear"
	case containsAny(text, "add", "put "):
		params["action"] = "add"
	default:
		params["action"] = "view"
	}

	if ids := skuTokens(text); len(ids) > 0 {
		params["product_id"] = ids[0]
	} else if params["action"] == "add" {
		// No explicit product id: let the cart handler resolve the query
		// against the catalog.
		if q := cartQuery(text); q != "" {
			params["query"] = q
		}
	}
	if qty, ok := leadingQuantity(text); ok {
		params["quantity"] = qty
	}
}

func extractShipping(text string, params map[string]any) {
	if method := shippingMethodIn(text); method != "" {
		params["method"] = method
	} else {
		params["action"] = "list"
	}
}

func extractCompare(text string, params map[string]any) {
	if ids := skuTokens(text); len(ids) > 0 {
		params["product_ids"] = ids
	}
}

func extractSearch(text string, params map[string]any) {
	if price, ok := maxPriceIn(text); ok {
		params["max_price"] = price
	}
}

// skuTokens collects catalog ids mentioned in the text. Catalog ids all
// carry the sku- prefix, so a simple field scan suffices.
func skuTokens(text string) []string {
	var ids []string
	for _, field := range strings.Fields(text) {
		token := strings.Trim(field, ".,;:!?\"'()")
		if strings.HasPrefix(token, "sku-") && len(token) > len("sku-") {
			ids = append(ids, token)
		}
	}
	return ids
}

// cartQuery strips cart-operation filler from an add utterance so the
// remainder can serve as a catalog query: "add a bamboo toothbrush to my
// cart" becomes "bamboo toothbrush".
func cartQuery(text string) string {
	for _, stop := range []string{" to my cart", " to the cart", " to cart", " to my basket", " to basket"} {
		text = strings.ReplaceAll(text, stop, "")
	}
	for _, lead := range []string{"please ", "add ", "put ", "a ", "an ", "the ", "some "} {
		text = strings.TrimPrefix(text, lead)
	}
	return strings.TrimSpace(text)
}

func leadingQuantity(text string) (int, bool) {
	for _, field := range strings.Fields(text) {
		if n, err := strconv.Atoi(field); err == nil && n > 0 {
			return n, true
		}
	}
	return 0, false
}

func shippingMethodIn(text string) string {
	for _, name := range []string{"overnight", "express", "ground", "eco"} {
		if strings.Contains(text, name) {
			return name
		}
	}
	return ""
}

// maxPriceIn pulls a spending cap out of phrases like "under $50" or
// "below 30 dollars".
func maxPriceIn(text string) (float64, bool) {
	fields := strings.Fields(text)
	for i, field := range fields {
		if field != "under" && field != "below" {
			continue
		}
		if i+1 >= len(fields) {
			return 0, false
		}
		raw := strings.Trim(fields[i+1], "$.,!?")
		if price, err := strconv.ParseFloat(raw, 64); err == nil && price > 0 {
			return price, true
		}
	}
	return 0, false
}
