package pricing

import (
	"fmt"
	"time"

	"github.com/ariefcatur/go-storefront-core/internal/catalog"
	"github.com/shopspring/decimal"
)

// Item is one requested cart line before pricing.
type Item struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
	Size      string `json:"size,omitempty"`
}

// Line is a priced cart line. UnitPrice is the effective price after any
// product discount; promotions are applied on top of the line totals.
type Line struct {
	ProductID   string
	ProductName string
	BrandID     string
	Size        string
	Quantity    int
	BasePrice   decimal.Decimal
	UnitPrice   decimal.Decimal
	LineTotal   decimal.Decimal
}

// PriceLines prices every item against the given products and returns the lines
// in request order plus their subtotal. Sizes are resolved to their concrete
// labels so downstream stock operations address the right row.
func PriceLines(products map[string]catalog.Product, items []Item, now time.Time) ([]Line, decimal.Decimal, error) {
	lines := make([]Line, 0, len(items))
	subtotal := decimal.Zero
	for _, it := range items {
		if it.Quantity <= 0 {
			return nil, decimal.Zero, fmt.Errorf("%w: product %s", ErrInvalidQuantity, it.ProductID)
		}
		p, ok := products[it.ProductID]
		if !ok {
			return nil, decimal.Zero, fmt.Errorf("%w: %s", ErrProductNotFound, it.ProductID)
		}
		if !p.InStock {
			return nil, decimal.Zero, fmt.Errorf("%w: %s", ErrUnpurchasable, it.ProductID)
		}
		unit, base, err := Resolve(p, it.Size, now)
		if err != nil {
			return nil, decimal.Zero, err
		}
		size, _ := p.Select(it.Size)

		total := unit.Mul(decimal.NewFromInt(int64(it.Quantity)))
		lines = append(lines, Line{
			ProductID:   p.ID,
			ProductName: p.Name,
			BrandID:     p.BrandID,
			Size:        size.Label,
			Quantity:    it.Quantity,
			BasePrice:   base,
			UnitPrice:   unit,
			LineTotal:   total,
		})
		subtotal = subtotal.Add(total)
	}
	return lines, subtotal, nil
}

// Subtotal sums the line totals.
func Subtotal(lines []Line) decimal.Decimal {
	sum := decimal.Zero
	for _, l := range lines {
		sum = sum.Add(l.LineTotal)
	}
	return sum
}
