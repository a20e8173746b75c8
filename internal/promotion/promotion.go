package promotion

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

var ErrNotFound = errors.New("promotion: not found")

type Type string

const (
	TypePercentage  Type = "percentage"
	TypeFixedAmount Type = "fixed_amount"
)

type Scope string

const (
	ScopeAll     Scope = "all"
	ScopeBrand   Scope = "brand"
	ScopeProduct Scope = "product"
)

type Promotion struct {
	ID                string           `json:"id"`
	Code              string           `json:"code"`
	Type              Type             `json:"discount_type"`
	Value             decimal.Decimal  `json:"value"`
	MinOrderAmount    *decimal.Decimal `json:"min_order_amount,omitempty"`
	MaxDiscountAmount *decimal.Decimal `json:"max_discount_amount,omitempty"`
	AppliesTo         Scope            `json:"applies_to"`
	TargetID          string           `json:"target_id,omitempty"`
	UsageLimit        *int             `json:"usage_limit,omitempty"`
	MaxUsesPerUser    *int             `json:"max_uses_per_user,omitempty"`
	StartsAt          *time.Time       `json:"starts_at,omitempty"`
	ExpiresAt         *time.Time       `json:"expires_at,omitempty"`
	IsActive          bool             `json:"is_active"`
	UsedCount         int              `json:"used_count"`
}

// Usage is one successful redemption.
type Usage struct {
	ID             string          `json:"id"`
	PromotionID    string          `json:"promotion_id"`
	UserID         string          `json:"user_id"`
	OrderID        string          `json:"order_id"`
	DiscountAmount decimal.Decimal `json:"discount_amount"`
	UsedAt         time.Time       `json:"used_at"`
}

type Redemption struct {
	PromotionID string
	UserID      string
	OrderID     string
	Discount    decimal.Decimal
	// At is checked against the promotion window; zero means now.
	At          time.Time
}

type Reason string

const (
	ReasonLoginRequired     Reason = "login_required"
	ReasonNotFound          Reason = "not_found"
	ReasonInactive          Reason = "inactive"
	ReasonNotStarted        Reason = "not_started"
	ReasonExpired           Reason = "expired"
	ReasonBelowMinimum      Reason = "below_minimum"
	ReasonNotApplicable     Reason = "not_applicable"
	ReasonUsageLimitReached Reason = "usage_limit_reached"
	ReasonUserLimitReached  Reason = "user_limit_reached"
)

// InvalidError is returned when a code cannot be applied or redeemed.
type InvalidError struct {
	Code   string
	Reason Reason
}

func (e *InvalidError) Error() string {
	return fmt.Sprintf("promotion %q invalid: %s", e.Code, e.Reason)
}

// Store persists promotions and their usages. Redeem must apply the usage
// limit checks and the used_count increment atomically.
type Store interface {
	FindByCode(ctx context.Context, code string) (Promotion, error)
	CountUserUsages(ctx context.Context, promotionID, userID string) (int, error)
	Redeem(ctx context.Context, r Redemption) (Usage, error)
}

// closedReason reports why a promotion cannot be used at t, or "" when it is
// open.
func closedReason(active bool, starts, expires *time.Time, t time.Time) Reason {
	switch {
	case !active:
		return ReasonInactive
	case starts != nil && t.Before(*starts):
		return ReasonNotStarted
	case expires != nil && !t.Before(*expires):
		return ReasonExpired
	}
	return ""
}

// Normalize canonicalises a code for lookup and display.
func Normalize(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}
