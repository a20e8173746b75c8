package catalog

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

var (
	ErrNotFound      = errors.New("catalog: product not found")
	ErrDuplicateSize = errors.New("catalog: duplicate size label")
	ErrNegativeStock = errors.New("catalog: negative stock")
)

type DiscountType string

const (
	DiscountPercentage  DiscountType = "percentage"
	DiscountFixedAmount DiscountType = "fixed_amount"
)

type Product struct {
	ID        string
	Name      string
	BrandID   string
	BasePrice decimal.Decimal
	InStock   bool
	Sizes     Sizes
	Discount  *ProductDiscount
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Size is one purchasable variant. Price overrides the product base price when
// it is set and positive.
type Size struct {
	Label string
	Stock int
	Price *decimal.Decimal
}

type ProductDiscount struct {
	Type     DiscountType
	Value    decimal.Decimal
	StartsAt *time.Time
	EndsAt   *time.Time
	IsActive bool
}

// ActiveAt reports whether the discount applies at t.
func (d *ProductDiscount) ActiveAt(t time.Time) bool {
	if d == nil || !d.IsActive {
		return false
	}
	if d.StartsAt != nil && t.Before(*d.StartsAt) {
		return false
	}
	if d.EndsAt != nil && !t.Before(*d.EndsAt) {
		return false
	}
	return true
}

// Sizes is the ordered size list of a product. Labels are unique and stock is
// never negative; build it with NewSizes to get those checks.
type Sizes []Size

func NewSizes(in ...Size) (Sizes, error) {
	seen := make(map[string]struct{}, len(in))
	out := make(Sizes, 0, len(in))
	for _, s := range in {
		label := strings.TrimSpace(s.Label)
		if _, dup := seen[label]; dup {
			return nil, fmt.Errorf("%w: %q", ErrDuplicateSize, label)
		}
		if s.Stock < 0 {
			return nil, fmt.Errorf("%w: size %q has %d", ErrNegativeStock, label, s.Stock)
		}
		seen[label] = struct{}{}
		s.Label = label
		out = append(out, s)
	}
	return out, nil
}

func (ss Sizes) Find(label string) (Size, bool) {
	for _, s := range ss {
		if s.Label == label {
			return s, true
		}
	}
	return Size{}, false
}

// Select resolves the size a cart line refers to. An empty label selects the
// only size of a single-size product.
func (p Product) Select(label string) (Size, bool) {
	label = strings.TrimSpace(label)
	if label == "" && len(p.Sizes) == 1 {
		return p.Sizes[0], true
	}
	return p.Sizes.Find(label)
}

func (p Product) TotalStock() int {
	n := 0
	for _, s := range p.Sizes {
		n += s.Stock
	}
	return n
}
