package catalog

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSizesValidates(t *testing.T) {
	ss, err := NewSizes(Size{Label: " S ", Stock: 1}, Size{Label: "M", Stock: 0})
	require.NoError(t, err)
	assert.Equal(t, "S", ss[0].Label)

	_, err = NewSizes(Size{Label: "M"}, Size{Label: "M"})
	assert.ErrorIs(t, err, ErrDuplicateSize)

	_, err = NewSizes(Size{Label: "L", Stock: -1})
	assert.ErrorIs(t, err, ErrNegativeStock)
}

func TestSelect(t *testing.T) {
	single := Product{ID: "tee", Sizes: Sizes{{Label: "ALL", Stock: 4}}}
	s, ok := single.Select("")
	require.True(t, ok)
	assert.Equal(t, "ALL", s.Label)

	multi := Product{ID: "shirt", Sizes: Sizes{{Label: "S"}, {Label: "M", Stock: 3}}}
	_, ok = multi.Select("")
	assert.False(t, ok)
	s, ok = multi.Select("M")
	require.True(t, ok)
	assert.Equal(t, 3, s.Stock)
	_, ok = multi.Select("XL")
	assert.False(t, ok)
	assert.Equal(t, 3, multi.TotalStock())
}

func TestDiscountActiveAt(t *testing.T) {
	now := time.Date(2025, 5, 9, 12, 0, 0, 0, time.UTC)
	before, after := now.Add(-time.Hour), now.Add(time.Hour)

	cases := []struct {
		name string
		d    *ProductDiscount
		want bool
	}{
		{"nil", nil, false},
		{"disabled", &ProductDiscount{IsActive: false}, false},
		{"open window", &ProductDiscount{IsActive: true}, true},
		{"inside window", &ProductDiscount{IsActive: true, StartsAt: &before, EndsAt: &after}, true},
		{"not started", &ProductDiscount{IsActive: true, StartsAt: &after}, false},
		{"ended", &ProductDiscount{IsActive: true, EndsAt: &before}, false},
		{"ends exactly now", &ProductDiscount{IsActive: true, EndsAt: &now}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, tc.d.ActiveAt(now))
		})
	}
}

func TestMemoryReturnsCopies(t *testing.T) {
	m := NewMemory(Product{ID: "p1", BasePrice: decimal.NewFromInt(100), Sizes: Sizes{{Label: "M", Stock: 2}}})

	got, err := m.Products(context.Background(), []string{"p1", "missing"})
	require.NoError(t, err)
	require.Len(t, got, 1)

	p := got["p1"]
	p.Sizes[0].Stock = 99

	again, _ := m.Products(context.Background(), []string{"p1"})
	assert.Equal(t, 2, again["p1"].Sizes[0].Stock)
}
