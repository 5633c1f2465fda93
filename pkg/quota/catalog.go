package quota

import (
	"fmt"
	"sort"
	"time"

	"gopkg.in/yaml.v3"
)

// Product is a sellable allowance.
type Product struct {
	ID    string `yaml:"id" json:"id"`
	Title string `yaml:"title" json:"title"`
	// Amount is the price in the payment provider's minor unit.
	Amount       int    `yaml:"amount" json:"amount"`
	Currency     string `yaml:"currency" json:"currency"`
	Quota        int    `yaml:"quota" json:"quota"`
	DurationDays int    `yaml:"duration_days,omitempty" json:"duration_days,omitempty"`
	FairDailyCap int    `yaml:"fair_daily_cap" json:"fair_daily_cap"`
}

// Duration is zero for products that never expire.
func (p Product) Duration() time.Duration {
	return time.Duration(p.DurationDays) * 24 * time.Hour
}

// Catalog maps product ids to products.
type Catalog map[string]Product

// DefaultCatalog returns the built-in products.
func DefaultCatalog() Catalog {
	return Catalog{
		"pack_3":        {ID: "pack_3", Title: "3 Requests", Amount: 300, Currency: "XTR", Quota: 3, FairDailyCap: 3},
		"pack_10":       {ID: "pack_10", Title: "10 Requests", Amount: 900, Currency: "XTR", Quota: 10, FairDailyCap: 5},
		"unlimited_30d": {ID: "unlimited_30d", Title: "Unlimited 30d", Amount: 3000, Currency: "XTR", Quota: 0, DurationDays: 30, FairDailyCap: 20},
		"sub_30d":       {ID: "sub_30d", Title: "Subscription 30d", Amount: 1500, Currency: "XTR", Quota: 30, DurationDays: 30, FairDailyCap: 5},
	}
}

// LoadCatalog parses a YAML product list:
//
//	products:
//	  - {id: pack_3, title: "3 Requests", amount: 300, quota: 3, fair_daily_cap: 3}
func LoadCatalog(data []byte) (Catalog, error) {
	var doc struct {
		Products []Product `yaml:"products"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse product catalog: %w", err)
	}
	c := make(Catalog, len(doc.Products))
	for i, p := range doc.Products {
		switch {
		case p.ID == "":
			return nil, fmt.Errorf("product %d: missing id", i)
		case p.Quota < 0 || p.FairDailyCap < 0 || p.DurationDays < 0:
			return nil, fmt.Errorf("product %s: negative quota, cap or duration", p.ID)
		case p.Quota == 0 && p.DurationDays == 0:
			return nil, fmt.Errorf("product %s: unlimited products need a duration", p.ID)
		}
		if _, dup := c[p.ID]; dup {
			return nil, fmt.Errorf("product %s: duplicate id", p.ID)
		}
		if p.Currency == "" {
			p.Currency = "XTR"
		}
		c[p.ID] = p
	}
	return c, nil
}

// Lookup returns a product by id.
func (c Catalog) Lookup(id string) (Product, error) {
	p, ok := c[id]
	if !ok {
		return Product{}, fmt.Errorf("%w: %s", ErrUnknownProduct, id)
	}
	return p, nil
}

// List returns products sorted by id.
func (c Catalog) List() []Product {
	out := make([]Product, 0, len(c))
	for _, p := range c {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
