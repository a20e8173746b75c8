package promotion

import (
	"context"
	"errors"
	"time"

	"github.com/ariefcatur/go-storefront-core/internal/pricing"
	"github.com/shopspring/decimal"
)

// Result of a validation. DiscountAmount is zero unless Valid.
type Result struct {
	Valid          bool
	Promotion      Promotion
	DiscountAmount decimal.Decimal
	Reason         Reason
}

// Err converts an invalid result into an *InvalidError, nil when valid.
func (r Result) Err(code string) error {
	if r.Valid {
		return nil
	}
	return &InvalidError{Code: Normalize(code), Reason: r.Reason}
}

type Service struct {
	Store Store
	Now   func() time.Time
}

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

// Validate decides whether code applies to this user and cart. Rule failures
// come back as an invalid Result; only store failures are returned as errors.
// Lines must carry effective unit prices and subtotal must be their sum.
func (s *Service) Validate(ctx context.Context, code, userID string, lines []pricing.Line, subtotal decimal.Decimal) (Result, error) {
	if userID == "" {
		return invalid(ReasonLoginRequired), nil
	}

	p, err := s.Store.FindByCode(ctx, Normalize(code))
	if errors.Is(err, ErrNotFound) {
		return invalid(ReasonNotFound), nil
	}
	if err != nil {
		return Result{}, err
	}

	if r := closedReason(p.IsActive, p.StartsAt, p.ExpiresAt, s.now()); r != "" {
		return invalid(r), nil
	}

	if p.MinOrderAmount != nil && subtotal.LessThan(*p.MinOrderAmount) {
		return invalid(ReasonBelowMinimum), nil
	}

	base, ok := EligibleBase(p, lines, subtotal)
	if !ok {
		return invalid(ReasonNotApplicable), nil
	}

	if p.UsageLimit != nil && p.UsedCount >= *p.UsageLimit {
		return invalid(ReasonUsageLimitReached), nil
	}

	if p.MaxUsesPerUser != nil {
		n, err := s.Store.CountUserUsages(ctx, p.ID, userID)
		if err != nil {
			return Result{}, err
		}
		if n >= *p.MaxUsesPerUser {
			return invalid(ReasonUserLimitReached), nil
		}
	}

	return Result{Valid: true, Promotion: p, DiscountAmount: Discount(p, base)}, nil
}

// Redeem records a usage. A concurrent redemption that exhausted a limit
// first yields an *InvalidError; there is no retry.
func (s *Service) Redeem(ctx context.Context, r Redemption) (Usage, error) {
	if r.At.IsZero() {
		r.At = s.now()
	}
	return s.Store.Redeem(ctx, r)
}

// EligibleBase is the part of the cart the promotion discounts: the whole
// subtotal for ScopeAll, otherwise the total of matching lines. ok is false
// when a scoped promotion matches no line.
func EligibleBase(p Promotion, lines []pricing.Line, subtotal decimal.Decimal) (decimal.Decimal, bool) {
	if p.AppliesTo == ScopeAll || p.AppliesTo == "" {
		return subtotal, true
	}
	base, matched := decimal.Zero, false
	for _, l := range lines {
		var hit bool
		switch p.AppliesTo {
		case ScopeBrand:
			hit = l.BrandID != "" && l.BrandID == p.TargetID
		case ScopeProduct:
			hit = l.ProductID == p.TargetID
		}
		if hit {
			matched = true
			base = base.Add(l.LineTotal)
		}
	}
	return base, matched
}

// Discount computes the amount taken off base: percentage or fixed value,
// capped by the maximum, never negative and never above base.
func Discount(p Promotion, base decimal.Decimal) decimal.Decimal {
	var d decimal.Decimal
	switch p.Type {
	case TypePercentage:
		d = pricing.Round(base.Mul(p.Value).Div(decimal.NewFromInt(100)))
	case TypeFixedAmount:
		d = p.Value
	}
	if p.MaxDiscountAmount != nil && d.GreaterThan(*p.MaxDiscountAmount) {
		d = *p.MaxDiscountAmount
	}
	if d.IsNegative() {
		d = decimal.Zero
	}
	if d.GreaterThan(base) {
		d = base
	}
	return d
}

func invalid(r Reason) Result {
	return Result{Reason: r, DiscountAmount: decimal.Zero}
}
