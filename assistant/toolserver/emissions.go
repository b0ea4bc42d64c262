package toolserver

import "strings"

// ShippingMethod is one delivery option. FootprintKg is the flat CO2e
// cost of choosing it for an order; selecting a method overwrites any
// previously selected one, so the values never accumulate.
type ShippingMethod struct {
	Name        string  `json:"name"`
	Description string  `json:"description"`
	FootprintKg float64 `json:"footprint_kg"`
	EtaDays     int     `json:"eta_days"`
}

var shippingMethods = []ShippingMethod{
	{Name: "eco", Description: "Consolidated carbon-light delivery", FootprintKg: 150.0, EtaDays: 7},
	{Name: "ground", Description: "Standard ground courier", FootprintKg: 250.0, EtaDays: 4},
	{Name: "express", Description: "Air express, next business day", FootprintKg: 450.0, EtaDays: 1},
	{Name: "overnight", Description: "Dedicated overnight air freight", FootprintKg: 620.0, EtaDays: 1},
}

// ShippingMethods returns every delivery option in preference order,
// lowest footprint first.
func ShippingMethods() []ShippingMethod {
	return append([]ShippingMethod(nil), shippingMethods...)
}

// ShippingFootprint resolves a method by name, case-insensitively.
func ShippingFootprint(name string) (ShippingMethod, bool) {
	name = strings.TrimSpace(name)
	for _, m := range shippingMethods {
		if strings.EqualFold(m.Name, name) {
			return m, true
		}
	}
	return ShippingMethod{}, false
}

// ProductEmission is the emissions.product tool payload: one product's
// footprint scaled by quantity.
type ProductEmission struct {
	ProductID        string  `json:"product_id"`
	Name             string  `json:"name"`
	Quantity         int     `json:"quantity"`
	UnitFootprintKg  float64 `json:"unit_footprint_kg"`
	TotalFootprintKg float64 `json:"total_footprint_kg"`
}

func (c *Catalog) Emission(id string, quantity int) (ProductEmission, bool) {
	p, ok := c.Get(id)
	if !ok {
		return ProductEmission{}, false
	}
	if quantity <= 0 {
		quantity = 1
	}
	return ProductEmission{
		ProductID:        p.ID,
		Name:             p.Name,
		Quantity:         quantity,
		UnitFootprintKg:  p.FootprintKg,
		TotalFootprintKg: p.FootprintKg * float64(quantity),
	}, true
}
