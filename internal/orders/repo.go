package orders

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ariefcatur/go-storefront-core/internal/ordernum"
	"github.com/ariefcatur/go-storefront-core/internal/postgres"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	ErrNotFound            = errors.New("orders: not found")
	ErrDuplicatePaymentRef = errors.New("orders: payment reference already used")
	ErrStaleStatus         = errors.New("orders: status changed concurrently")
)

// Store persists orders. Insert writes the order and its lines atomically and
// reports a taken order number with an error wrapping ordernum.ErrDuplicate.
type Store interface {
	Insert(ctx context.Context, o *Order) error
	FindByNumber(ctx context.Context, number string) (Order, error)
	FindByPaymentRef(ctx context.Context, ref string) (Order, error)
	MaxSequence(ctx context.Context, key string) (int, error)
	UpdateStatus(ctx context.Context, id string, from, to Status, reason string) error
	UpdatePaymentStatus(ctx context.Context, id string, from, to PaymentStatus) error
}

type Repo struct{ DB *pgxpool.Pool }

func (r *Repo) Insert(ctx context.Context, o *Order) error {
	addr, err := json.Marshal(o.ShippingAddress)
	if err != nil {
		return fmt.Errorf("encode shipping address: %w", err)
	}

	tx, err := r.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	err = tx.QueryRow(ctx, `
		INSERT INTO orders(id, order_number, user_id, status, payment_status, payment_ref,
			subtotal, discount_amount, shipping_cost, total, promotion_code,
			shipping_method, shipping_address)
		VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), $7, $8, $9, $10, NULLIF($11, ''), $12, $13)
		RETURNING created_at, updated_at`,
		o.ID, o.Number, o.UserID, string(o.Status), string(o.PaymentStatus), o.PaymentRef,
		o.Subtotal, o.DiscountAmount, o.ShippingCost, o.Total, o.PromotionCode,
		o.ShippingMethod, addr,
	).Scan(&o.CreatedAt, &o.UpdatedAt)
	switch {
	case postgres.IsUniqueViolation(err, "orders_order_number_key"):
		return fmt.Errorf("insert order %s: %w", o.Number, ordernum.ErrDuplicate)
	case postgres.IsUniqueViolation(err, "orders_payment_ref_key"):
		return fmt.Errorf("insert order %s: %w", o.Number, ErrDuplicatePaymentRef)
	case err != nil:
		return err
	}

	rows := make([][]any, 0, len(o.Lines))
	for i, l := range o.Lines {
		rows = append(rows, []any{o.ID, i + 1, l.ProductID, l.ProductName, l.Size, l.Quantity,
			l.BasePrice, l.UnitPrice, l.LineTotal})
	}
	if _, err := tx.CopyFrom(ctx, pgx.Identifier{"order_lines"},
		[]string{"order_id", "line_no", "product_id", "product_name", "size", "quantity", "base_price", "unit_price", "line_total"},
		pgx.CopyFromRows(rows)); err != nil {
		return fmt.Errorf("insert order lines: %w", err)
	}
	return tx.Commit(ctx)
}

const selectOrder = `
	SELECT id::text, order_number, user_id, status, payment_status, COALESCE(payment_ref, ''),
	       subtotal, discount_amount, shipping_cost, total, COALESCE(promotion_code, ''),
	       shipping_method, shipping_address, COALESCE(cancel_reason, ''), created_at, updated_at
	FROM orders`

func (r *Repo) FindByNumber(ctx context.Context, number string) (Order, error) {
	return r.findOne(ctx, selectOrder+` WHERE order_number = $1`, number)
}

func (r *Repo) FindByPaymentRef(ctx context.Context, ref string) (Order, error) {
	return r.findOne(ctx, selectOrder+` WHERE payment_ref = $1`, ref)
}

func (r *Repo) findOne(ctx context.Context, sql string, arg string) (Order, error) {
	var (
		o           Order
		status, pay string
		addr        []byte
	)
	err := r.DB.QueryRow(ctx, sql, arg).Scan(&o.ID, &o.Number, &o.UserID, &status, &pay, &o.PaymentRef,
		&o.Subtotal, &o.DiscountAmount, &o.ShippingCost, &o.Total, &o.PromotionCode,
		&o.ShippingMethod, &addr, &o.CancelReason, &o.CreatedAt, &o.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Order{}, ErrNotFound
	}
	if err != nil {
		return Order{}, err
	}
	o.Status, o.PaymentStatus = Status(status), PaymentStatus(pay)
	if err := json.Unmarshal(addr, &o.ShippingAddress); err != nil {
		return Order{}, fmt.Errorf("decode shipping address: %w", err)
	}

	rows, err := r.DB.Query(ctx, `
		SELECT product_id, product_name, size, quantity, base_price, unit_price, line_total
		FROM order_lines WHERE order_id = $1 ORDER BY line_no`, o.ID)
	if err != nil {
		return Order{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var l Line
		if err := rows.Scan(&l.ProductID, &l.ProductName, &l.Size, &l.Quantity, &l.BasePrice, &l.UnitPrice, &l.LineTotal); err != nil {
			return Order{}, err
		}
		o.Lines = append(o.Lines, l)
	}
	return o, rows.Err()
}

// MaxSequence scans the highest sequence issued under key (PREFIX-DDMM).
func (r *Repo) MaxSequence(ctx context.Context, key string) (int, error) {
	var n int
	err := r.DB.QueryRow(ctx, `
		SELECT COALESCE(MAX(substring(order_number FROM length($1) + 2)::int), 0)
		FROM orders
		WHERE left(order_number, length($1) + 1) = $1 || '-'
		  AND substring(order_number FROM length($1) + 2) ~ '^[0-9]+$'`, key).Scan(&n)
	return n, err
}

func (r *Repo) UpdateStatus(ctx context.Context, id string, from, to Status, reason string) error {
	ct, err := r.DB.Exec(ctx, `
		UPDATE orders SET status = $3, cancel_reason = COALESCE(NULLIF($4, ''), cancel_reason), updated_at = $5
		WHERE id = $1 AND status = $2`, id, string(from), string(to), reason, time.Now().UTC())
	if err != nil {
		return err
	}
	if ct.RowsAffected() != 1 {
		return ErrStaleStatus
	}
	return nil
}

func (r *Repo) UpdatePaymentStatus(ctx context.Context, id string, from, to PaymentStatus) error {
	ct, err := r.DB.Exec(ctx, `
		UPDATE orders SET payment_status = $3, updated_at = $4
		WHERE id = $1 AND payment_status = $2`, id, string(from), string(to), time.Now().UTC())
	if err != nil {
		return err
	}
	if ct.RowsAffected() != 1 {
		return ErrStaleStatus
	}
	return nil
}
