package pricing

import (
	"testing"
	"time"

	"github.com/ariefcatur/go-storefront-core/internal/catalog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var now = time.Date(2025, 5, 9, 10, 0, 0, 0, time.UTC)

func dec(v int64) decimal.Decimal { return decimal.NewFromInt(v) }

func ptr(d decimal.Decimal) *decimal.Decimal { return &d }

func jacket() catalog.Product {
	return catalog.Product{
		ID:        "jacket",
		Name:      "Denim Jacket",
		BrandID:   "levis",
		BasePrice: dec(10000),
		InStock:   true,
		Sizes: catalog.Sizes{
			{Label: "S", Stock: 5},
			{Label: "M", Stock: 3, Price: ptr(dec(12000))},
			{Label: "L", Stock: 1, Price: ptr(dec(0))},
		},
		Discount: &catalog.ProductDiscount{Type: catalog.DiscountPercentage, Value: dec(10), IsActive: true},
	}
}

func TestResolve(t *testing.T) {
	p := jacket()

	cases := []struct {
		name      string
		product   catalog.Product
		size      string
		wantUnit  int64
		wantBase  int64
		wantError error
	}{
		{name: "size override then percentage", product: p, size: "M", wantUnit: 10800, wantBase: 12000},
		{name: "no override uses base", product: p, size: "S", wantUnit: 9000, wantBase: 10000},
		{name: "zero override ignored", product: p, size: "L", wantUnit: 9000, wantBase: 10000},
		{name: "unknown size", product: p, size: "XXL", wantError: ErrUnknownSize},
		{name: "size required", product: p, size: "", wantError: ErrSizeRequired},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			unit, base, err := Resolve(tc.product, tc.size, now)
			if tc.wantError != nil {
				require.ErrorIs(t, err, tc.wantError)
				return
			}
			require.NoError(t, err)
			assert.True(t, dec(tc.wantUnit).Equal(unit), "unit %s", unit)
			assert.True(t, dec(tc.wantBase).Equal(base), "base %s", base)
		})
	}
}

func TestResolveDiscountVariants(t *testing.T) {
	p := jacket()

	p.Discount = &catalog.ProductDiscount{Type: catalog.DiscountFixedAmount, Value: dec(2500), IsActive: true}
	unit, _, err := Resolve(p, "S", now)
	require.NoError(t, err)
	assert.True(t, dec(7500).Equal(unit))

	p.Discount = &catalog.ProductDiscount{Type: catalog.DiscountFixedAmount, Value: dec(50000), IsActive: true}
	unit, _, err = Resolve(p, "S", now)
	require.NoError(t, err)
	assert.True(t, unit.IsZero(), "floored at zero")

	ended := now.Add(-time.Minute)
	p.Discount = &catalog.ProductDiscount{Type: catalog.DiscountPercentage, Value: dec(50), IsActive: true, EndsAt: &ended}
	unit, _, err = Resolve(p, "S", now)
	require.NoError(t, err)
	assert.True(t, dec(10000).Equal(unit), "expired discount ignored")

	p.Discount = &catalog.ProductDiscount{Type: catalog.DiscountPercentage, Value: dec(50), IsActive: false}
	unit, _, _ = Resolve(p, "S", now)
	assert.True(t, dec(10000).Equal(unit), "inactive discount ignored")
}

func TestPercentageRounding(t *testing.T) {
	p := catalog.Product{
		ID: "sock", BasePrice: decimal.RequireFromString("9.99"), InStock: true,
		Sizes:    catalog.Sizes{{Label: "ONE", Stock: 1}},
		Discount: &catalog.ProductDiscount{Type: catalog.DiscountPercentage, Value: dec(15), IsActive: true},
	}
	unit, _, err := Resolve(p, "", now)
	require.NoError(t, err)
	assert.Equal(t, "8.49", unit.StringFixed(2))
}

func TestPriceLines(t *testing.T) {
	products := map[string]catalog.Product{"jacket": jacket()}

	lines, subtotal, err := PriceLines(products, []Item{{ProductID: "jacket", Quantity: 2, Size: "M"}}, now)
	require.NoError(t, err)
	require.Len(t, lines, 1)
	assert.True(t, dec(10800).Equal(lines[0].UnitPrice))
	assert.True(t, dec(21600).Equal(lines[0].LineTotal))
	assert.True(t, dec(21600).Equal(subtotal))
	assert.Equal(t, "levis", lines[0].BrandID)
	assert.True(t, subtotal.Equal(Subtotal(lines)))
}

func TestPriceLinesErrors(t *testing.T) {
	off := jacket()
	off.ID = "off"
	off.InStock = false
	products := map[string]catalog.Product{"jacket": jacket(), "off": off}

	_, _, err := PriceLines(products, []Item{{ProductID: "nope", Quantity: 1, Size: "M"}}, now)
	assert.ErrorIs(t, err, ErrProductNotFound)

	_, _, err = PriceLines(products, []Item{{ProductID: "jacket", Quantity: 0, Size: "M"}}, now)
	assert.ErrorIs(t, err, ErrInvalidQuantity)

	_, _, err = PriceLines(products, []Item{{ProductID: "off", Quantity: 1, Size: "M"}}, now)
	assert.ErrorIs(t, err, ErrUnpurchasable)
}
