package toolserver

import (
	"sort"
	"strings"
)

// Product is one catalog entry with its cradle-to-gate footprint.
type Product struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Category    string   `json:"category"`
	Price       float64  `json:"price"`
	FootprintKg float64  `json:"footprint_kg"`
	Tags        []string `json:"tags,omitempty"`
}

// defaultProducts is the built-in catalog. IDs are stable; handlers and
// session carts reference them directly.
var defaultProducts = []Product{
	{ID: "sku-sunglasses", Name: "Recycled Sunglasses", Category: "accessories", Price: 59.90, FootprintKg: 49.0, Tags: []string{"recycled", "summer"}},
	{ID: "sku-toothbrush", Name: "Bamboo Toothbrush", Category: "personal-care", Price: 4.50, FootprintKg: 0.3, Tags: []string{"bamboo", "plastic-free"}},
	{ID: "sku-tote", Name: "Hemp Tote Bag", Category: "accessories", Price: 18.00, FootprintKg: 2.1, Tags: []string{"hemp", "reusable"}},
	{ID: "sku-bottle", Name: "Steel Water Bottle", Category: "kitchen", Price: 24.90, FootprintKg: 5.6, Tags: []string{"steel", "reusable"}},
	{ID: "sku-tee", Name: "Organic Cotton Tee", Category: "clothing", Price: 29.00, FootprintKg: 7.5, Tags: []string{"organic", "cotton"}},
	{ID: "sku-sneakers", Name: "Wool Runner Sneakers", Category: "clothing", Price: 98.00, FootprintKg: 12.4, Tags: []string{"wool", "footwear"}},
	{ID: "sku-yogamat", Name: "Cork Yoga Mat", Category: "fitness", Price: 64.00, FootprintKg: 9.8, Tags: []string{"cork", "fitness"}},
	{ID: "sku-charger", Name: "Solar Phone Charger", Category: "electronics", Price: 49.50, FootprintKg: 18.2, Tags: []string{"solar", "electronics"}},
	{ID: "sku-case", Name: "Biodegradable Phone Case", Category: "electronics", Price: 21.00, FootprintKg: 1.9, Tags: []string{"biodegradable"}},
	{ID: "sku-notebook", Name: "Recycled Paper Notebook", Category: "stationery", Price: 8.90, FootprintKg: 0.8, Tags: []string{"recycled", "paper"}},
}

// Catalog is a fixed in-memory product set. Lookups never touch the
// network, so handlers can treat them as infallible.
type Catalog struct {
	products []Product
	byID     map[string]Product
}

func NewCatalog() *Catalog {
	return newCatalogWith(defaultProducts)
}

func newCatalogWith(products []Product) *Catalog {
	c := &Catalog{
		products: append([]Product(nil), products...),
		byID:     make(map[string]Product, len(products)),
	}
	for _, p := range c.products {
		c.byID[p.ID] = p
	}
	return c
}

func (c *Catalog) Get(id string) (Product, bool) {
	p, ok := c.byID[strings.TrimSpace(id)]
	return p, ok
}

// All returns the catalog in insertion order.
func (c *Catalog) All() []Product {
	return append([]Product(nil), c.products...)
}

// Search scores products against whitespace-separated query terms: name
// matches weigh double over category and tag matches. An empty query
// returns the catalog head. Results are capped at limit, best first,
// ties broken by ID.
func (c *Catalog) Search(query string, limit int) []Product {
	if limit <= 0 {
		limit = 5
	}

	terms := strings.Fields(strings.ToLower(query))
	if len(terms) == 0 {
		out := c.All()
		if len(out) > limit {
			out = out[:limit]
		}
		return out
	}

	type scored struct {
		p     Product
		score int
	}
	var matches []scored
	for _, p := range c.products {
		s := scoreProduct(p, terms)
		if s > 0 {
			matches = append(matches, scored{p: p, score: s})
		}
	}
	sort.Slice(matches, func(i, j int) bool {
		if matches[i].score != matches[j].score {
			return matches[i].score > matches[j].score
		}
		return matches[i].p.ID < matches[j].p.ID
	})

	if len(matches) > limit {
		matches = matches[:limit]
	}
	out := make([]Product, len(matches))
	for i, m := range matches {
		out[i] = m.p
	}
	return out
}

// FilterProducts keeps products in the category at or under maxPrice.
// Zero values disable each filter.
func FilterProducts(products []Product, category string, maxPrice float64) []Product {
	category = strings.TrimSpace(strings.ToLower(category))
	if category == "" && maxPrice <= 0 {
		return products
	}

	out := make([]Product, 0, len(products))
	for _, p := range products {
		if category != "" && strings.ToLower(p.Category) != category {
			continue
		}
		if maxPrice > 0 && p.Price > maxPrice {
			continue
		}
		out = append(out, p)
	}
	return out
}

func scoreProduct(p Product, terms []string) int {
	name := strings.ToLower(p.Name)
	category := strings.ToLower(p.Category)
	score := 0
	for _, term := range terms {
		if strings.Contains(name, term) {
			score += 2
		}
		if strings.Contains(category, term) {
			score++
		}
		for _, tag := range p.Tags {
			if strings.Contains(strings.ToLower(tag), term) {
				score++
				break
			}
		}
	}
	return score
}
