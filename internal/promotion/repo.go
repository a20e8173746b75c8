package promotion

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

type Repo struct{ DB *pgxpool.Pool }

const selectPromotion = `
	SELECT id::text, code, discount_type, value, min_order_amount, max_discount_amount,
	       applies_to, COALESCE(target_id, ''), usage_limit, max_uses_per_user,
	       starts_at, expires_at, is_active, used_count
	FROM promotions`

func (r *Repo) FindByCode(ctx context.Context, code string) (Promotion, error) {
	var (
		p             Promotion
		typ, scope    string
		minAmt, maxDs decimal.NullDecimal
	)
	err := r.DB.QueryRow(ctx, selectPromotion+` WHERE lower(code) = lower($1)`, code).Scan(
		&p.ID, &p.Code, &typ, &p.Value, &minAmt, &maxDs,
		&scope, &p.TargetID, &p.UsageLimit, &p.MaxUsesPerUser,
		&p.StartsAt, &p.ExpiresAt, &p.IsActive, &p.UsedCount)
	if errors.Is(err, pgx.ErrNoRows) {
		return Promotion{}, ErrNotFound
	}
	if err != nil {
		return Promotion{}, err
	}
	p.Type, p.AppliesTo = Type(typ), Scope(scope)
	if minAmt.Valid {
		p.MinOrderAmount = &minAmt.Decimal
	}
	if maxDs.Valid {
		p.MaxDiscountAmount = &maxDs.Decimal
	}
	return p, nil
}

func (r *Repo) CountUserUsages(ctx context.Context, promotionID, userID string) (int, error) {
	var n int
	err := r.DB.QueryRow(ctx, `SELECT COUNT(*) FROM promotion_usages WHERE promotion_id = $1 AND user_id = $2`,
		promotionID, userID).Scan(&n)
	return n, err
}

// Redeem increments used_count only while it is below usage_limit. The UPDATE
// holds the promotion row lock until commit, which serialises the per-user
// count check for concurrent redemptions of the same code.
func (r *Repo) Redeem(ctx context.Context, rd Redemption) (Usage, error) {
	tx, err := r.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return Usage{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var (
		code    string
		perUser *int
	)
	at := rd.At
	if at.IsZero() {
		at = time.Now()
	}
	err = tx.QueryRow(ctx, `
		UPDATE promotions SET used_count = used_count + 1
		WHERE id = $1 AND is_active
		  AND (starts_at IS NULL OR starts_at <= $2)
		  AND (expires_at IS NULL OR expires_at > $2)
		  AND (usage_limit IS NULL OR used_count < usage_limit)
		RETURNING code, max_uses_per_user`, rd.PromotionID, at).Scan(&code, &perUser)
	if errors.Is(err, pgx.ErrNoRows) {
		return Usage{}, r.explain(ctx, rd.PromotionID, at)
	}
	if err != nil {
		return Usage{}, err
	}

	if perUser != nil {
		var n int
		if err := tx.QueryRow(ctx, `SELECT COUNT(*) FROM promotion_usages WHERE promotion_id = $1 AND user_id = $2`,
			rd.PromotionID, rd.UserID).Scan(&n); err != nil {
			return Usage{}, err
		}
		if n >= *perUser {
			return Usage{}, &InvalidError{Code: code, Reason: ReasonUserLimitReached}
		}
	}

	u := Usage{
		ID:             uuid.NewString(),
		PromotionID:    rd.PromotionID,
		UserID:         rd.UserID,
		OrderID:        rd.OrderID,
		DiscountAmount: rd.Discount,
	}
	if err := tx.QueryRow(ctx, `
		INSERT INTO promotion_usages(id, promotion_id, user_id, order_id, discount_amount)
		VALUES ($1, $2, $3, $4, $5) RETURNING used_at`,
		u.ID, u.PromotionID, u.UserID, u.OrderID, u.DiscountAmount).Scan(&u.UsedAt); err != nil {
		return Usage{}, err
	}
	return u, tx.Commit(ctx)
}

// explain maps a failed conditional increment to the reason it failed.
func (r *Repo) explain(ctx context.Context, promotionID string, at time.Time) error {
	var (
		code    string
		active  bool
		starts  *time.Time
		expires *time.Time
	)
	err := r.DB.QueryRow(ctx, `SELECT code, is_active, starts_at, expires_at FROM promotions WHERE id = $1`,
		promotionID).Scan(&code, &active, &starts, &expires)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	reason := closedReason(active, starts, expires, at)
	if reason == "" {
		reason = ReasonUsageLimitReached
	}
	return &InvalidError{Code: code, Reason: reason}
}

// Create inserts a promotion, assigning an id when empty.
func (r *Repo) Create(ctx context.Context, p Promotion) (Promotion, error) {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.AppliesTo == "" {
		p.AppliesTo = ScopeAll
	}
	p.Code = Normalize(p.Code)
	_, err := r.DB.Exec(ctx, `
		INSERT INTO promotions(id, code, discount_type, value, min_order_amount, max_discount_amount,
			applies_to, target_id, usage_limit, max_uses_per_user, starts_at, expires_at, is_active)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NULLIF($8, ''), $9, $10, $11, $12, $13)`,
		p.ID, p.Code, string(p.Type), p.Value, nullDecimal(p.MinOrderAmount), nullDecimal(p.MaxDiscountAmount),
		string(p.AppliesTo), p.TargetID, p.UsageLimit, p.MaxUsesPerUser, p.StartsAt, p.ExpiresAt, p.IsActive)
	return p, err
}

func nullDecimal(d *decimal.Decimal) decimal.NullDecimal {
	if d == nil {
		return decimal.NullDecimal{}
	}
	return decimal.NullDecimal{Decimal: *d, Valid: true}
}
