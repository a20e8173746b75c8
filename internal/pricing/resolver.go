package pricing

import (
	"errors"
	"fmt"
	"time"

	"github.com/ariefcatur/go-storefront-core/internal/catalog"
	"github.com/shopspring/decimal"
)

var (
	ErrProductNotFound = errors.New("pricing: product not found")
	ErrUnpurchasable   = errors.New("pricing: product is not purchasable")
	ErrSizeRequired    = errors.New("pricing: size is required")
	ErrUnknownSize     = errors.New("pricing: unknown size")
	ErrInvalidQuantity = errors.New("pricing: quantity must be positive")
)

var hundred = decimal.NewFromInt(100)

// Round normalises a money amount to two decimal places, half away from zero.
func Round(d decimal.Decimal) decimal.Decimal { return d.Round(2) }

// Resolve returns the effective unit price of one unit of product in the given
// size together with the base it was derived from. A positive size override
// replaces the product base price; an active product discount is then
// subtracted, floored at zero.
func Resolve(p catalog.Product, sizeLabel string, now time.Time) (unit, base decimal.Decimal, err error) {
	size, ok := p.Select(sizeLabel)
	if !ok {
		if sizeLabel == "" {
			return decimal.Zero, decimal.Zero, fmt.Errorf("%w: product %s", ErrSizeRequired, p.ID)
		}
		return decimal.Zero, decimal.Zero, fmt.Errorf("%w: product %s size %q", ErrUnknownSize, p.ID, sizeLabel)
	}

	base = p.BasePrice
	if size.Price != nil && size.Price.IsPositive() {
		base = *size.Price
	}
	return applyDiscount(base, p.Discount, now), base, nil
}

func applyDiscount(base decimal.Decimal, d *catalog.ProductDiscount, now time.Time) decimal.Decimal {
	if !d.ActiveAt(now) {
		return base
	}
	var off decimal.Decimal
	switch d.Type {
	case catalog.DiscountPercentage:
		off = Round(base.Mul(d.Value).Div(hundred))
	case catalog.DiscountFixedAmount:
		off = d.Value
	default:
		return base
	}
	out := base.Sub(off)
	if out.IsNegative() {
		return decimal.Zero
	}
	return out
}
