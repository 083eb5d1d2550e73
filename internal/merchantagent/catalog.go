package merchantagent

import (
	"sort"
	"strings"
	"sync"

	"agent-payments/internal/mandate"
)

// Product is one sellable item in the merchant's catalog.
type Product struct {
	SKU         string         `json:"sku"`
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Category    string         `json:"category"`
	Price       mandate.Amount `json:"price"`
	Keywords    []string       `json:"keywords"`
}

// searchLimit caps how many products one search returns.
const searchLimit = 20

// Catalog holds products and their stock levels.
type Catalog struct {
	mu       sync.RWMutex
	products []Product
	stock    map[string]int
}

// NewCatalog seeds the demo sports catalog.
func NewCatalog() *Catalog {
	jpy := func(v int64) mandate.Amount { return mandate.Amount{Currency: "JPY", Value: v} }
	products := []Product{
		{SKU: "SHOE-001", Name: "Trail Running Shoes", Description: "Lightweight trail running shoes",
			Category: "shoes", Price: jpy(8000), Keywords: []string{"shoes", "running", "trail", "sneakers"}},
		{SKU: "SHOE-002", Name: "Road Running Shoes", Description: "Cushioned road running shoes",
			Category: "shoes", Price: jpy(12000), Keywords: []string{"shoes", "running", "road", "sneakers"}},
		{SKU: "SOCK-001", Name: "Running Socks", Description: "Moisture-wicking running socks",
			Category: "apparel", Price: jpy(1200), Keywords: []string{"socks", "running", "apparel"}},
		{SKU: "SHIRT-001", Name: "Training Shirt", Description: "Breathable training shirt",
			Category: "apparel", Price: jpy(3500), Keywords: []string{"shirt", "training", "apparel"}},
		{SKU: "BOTTLE-001", Name: "Sports Bottle", Description: "Insulated sports water bottle",
			Category: "gear", Price: jpy(1500), Keywords: []string{"bottle", "water", "gear", "hydration"}},
		{SKU: "WATCH-001", Name: "GPS Running Watch", Description: "GPS watch with pace tracking",
			Category: "gear", Price: jpy(24000), Keywords: []string{"watch", "gps", "running", "gear"}},
	}
	stock := make(map[string]int, len(products))
	for _, p := range products {
		stock[p.SKU] = 25
	}
	return &Catalog{products: products, stock: stock}
}

// Search scores products against the keywords and returns the best
// matches, price ascending among equal scores. category and limit are
// optional narrowing parameters.
func (c *Catalog) Search(keywords []string, category string, limit int) []Product {
	if limit <= 0 || limit > searchLimit {
		limit = searchLimit
	}
	c.mu.RLock()
	defer c.mu.RUnlock()

	type scored struct {
		p     Product
		score int
	}
	var hits []scored
	for _, p := range c.products {
		if category != "" && p.Category != category {
			continue
		}
		score := matchScore(p, keywords)
		if score == 0 && len(keywords) > 0 {
			continue
		}
		hits = append(hits, scored{p: p, score: score})
	}
	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].score != hits[j].score {
			return hits[i].score > hits[j].score
		}
		return hits[i].p.Price.Value < hits[j].p.Price.Value
	})

	out := make([]Product, 0, limit)
	for _, h := range hits {
		if len(out) == limit {
			break
		}
		out = append(out, h.p)
	}
	return out
}

func matchScore(p Product, keywords []string) int {
	score := 0
	for _, kw := range keywords {
		kw = strings.ToLower(kw)
		for _, pk := range p.Keywords {
			if pk == kw {
				score += 2
			}
		}
		if strings.Contains(strings.ToLower(p.Name), kw) {
			score++
		}
	}
	return score
}

// InStock reports available quantity per SKU.
func (c *Catalog) InStock(skus []string) map[string]int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]int, len(skus))
	for _, sku := range skus {
		out[sku] = c.stock[sku]
	}
	return out
}

// SetStock updates a SKU's available quantity. Returns false for unknown
// SKUs.
func (c *Catalog) SetStock(sku string, qty int) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.stock[sku]; !ok {
		return false
	}
	c.stock[sku] = qty
	return true
}

// Products returns a snapshot of the full catalog.
func (c *Catalog) Products() []Product {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Product, len(c.products))
	copy(out, c.products)
	return out
}
