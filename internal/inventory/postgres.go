package inventory

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresLedger keeps stock in product_sizes. Decrements are single
// conditional UPDATEs so the guard is evaluated against the row value at write
// time, never against an earlier read.
type PostgresLedger struct {
	DB     *pgxpool.Pool
	Policy Policy
}

const (
	sqlDecrement = `
		UPDATE product_sizes ps SET stock = ps.stock - $3
		FROM products p
		WHERE ps.product_id = $1 AND ps.label = $2 AND p.id = ps.product_id
		  AND p.in_stock AND ps.stock >= $3
		RETURNING ps.stock + $3, ps.stock`

	sqlDecrementClamped = `
		WITH cur AS (
			SELECT ps.stock FROM product_sizes ps JOIN products p ON p.id = ps.product_id
			WHERE ps.product_id = $1 AND ps.label = $2 AND p.in_stock
			FOR UPDATE OF ps
		)
		UPDATE product_sizes ps SET stock = GREATEST(cur.stock - $3, 0)
		FROM cur
		WHERE ps.product_id = $1 AND ps.label = $2
		RETURNING cur.stock, ps.stock`

	sqlAvailable = `
		SELECT CASE WHEN p.in_stock THEN ps.stock ELSE 0 END
		FROM product_sizes ps JOIN products p ON p.id = ps.product_id
		WHERE ps.product_id = $1 AND ps.label = $2`

	sqlInsertHistory = `
		INSERT INTO inventory_history(id, product_id, size, change_type, quantity_before, quantity_after, delta, order_ref)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NULLIF($8, ''))`
)

func (r *PostgresLedger) CheckAvailability(ctx context.Context, lines []Line) ([]Shortage, error) {
	merged, err := merge(lines)
	if err != nil {
		return nil, err
	}
	var out []Shortage
	for _, l := range merged {
		avail, err := r.available(ctx, r.DB, l)
		if err != nil {
			return nil, err
		}
		if avail < l.Quantity {
			out = append(out, Shortage{ProductID: l.ProductID, Size: l.Size, Requested: l.Quantity, Available: avail})
		}
	}
	return out, nil
}

type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func (r *PostgresLedger) available(ctx context.Context, q querier, l Line) (int, error) {
	var n int
	err := q.QueryRow(ctx, sqlAvailable, l.ProductID, l.Size).Scan(&n)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	return n, err
}

// Reserve decrements every line in one transaction. If any line cannot be
// covered the transaction is rolled back and the error lists all short lines.
func (r *PostgresLedger) Reserve(ctx context.Context, lines []Line, orderRef string) error {
	merged, err := merge(lines)
	if err != nil {
		return err
	}
	tx, err := r.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	stmt := sqlDecrement
	if r.Policy.AllowOversellClamp {
		stmt = sqlDecrementClamped
	}

	var short []Shortage
	for _, l := range merged {
		var before, after int
		err := tx.QueryRow(ctx, stmt, l.ProductID, l.Size, l.Quantity).Scan(&before, &after)
		if errors.Is(err, pgx.ErrNoRows) {
			avail, aerr := r.available(ctx, tx, l)
			if aerr != nil {
				return aerr
			}
			short = append(short, Shortage{ProductID: l.ProductID, Size: l.Size, Requested: l.Quantity, Available: avail})
			continue
		}
		if err != nil {
			return fmt.Errorf("decrement %s/%s: %w", l.ProductID, l.Size, err)
		}
		if _, err := tx.Exec(ctx, sqlInsertHistory, uuid.New(), l.ProductID, l.Size, string(ChangeSale),
			before, after, after-before, orderRef); err != nil {
			return fmt.Errorf("history %s/%s: %w", l.ProductID, l.Size, err)
		}
	}
	if len(short) > 0 {
		return &InsufficientStockError{Shortages: short} // rollback via defer
	}
	return tx.Commit(ctx)
}

// Restore returns stock sold to orderRef. The size row is locked first so the
// sold-minus-returned figure cannot change underneath the check.
func (r *PostgresLedger) Restore(ctx context.Context, orderRef string, lines []Line) error {
	merged, err := merge(lines)
	if err != nil {
		return err
	}
	tx, err := r.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	for _, l := range merged {
		var stock int
		err := tx.QueryRow(ctx, `SELECT stock FROM product_sizes WHERE product_id=$1 AND label=$2 FOR UPDATE`,
			l.ProductID, l.Size).Scan(&stock)
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("%w: %s/%s", ErrNotFound, l.ProductID, l.Size)
		}
		if err != nil {
			return err
		}

		var sold int
		if err := tx.QueryRow(ctx, `
			SELECT COALESCE(SUM(-delta), 0) FROM inventory_history
			WHERE order_ref = $1 AND product_id = $2 AND size = $3 AND change_type IN ('sale', 'return')`,
			orderRef, l.ProductID, l.Size).Scan(&sold); err != nil {
			return err
		}
		if l.Quantity > sold {
			return fmt.Errorf("%w: %s/%s order %s restore=%d sold=%d", ErrRestoreExceedsSale, l.ProductID, l.Size, orderRef, l.Quantity, sold)
		}

		if _, err := tx.Exec(ctx, `UPDATE product_sizes SET stock = stock + $3 WHERE product_id=$1 AND label=$2`,
			l.ProductID, l.Size, l.Quantity); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, sqlInsertHistory, uuid.New(), l.ProductID, l.Size, string(ChangeReturn),
			stock, stock+l.Quantity, l.Quantity, orderRef); err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

func (r *PostgresLedger) Adjust(ctx context.Context, productID, size string, delta int, change ChangeType) (HistoryEntry, error) {
	tx, err := r.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return HistoryEntry{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var stock int
	err = tx.QueryRow(ctx, `SELECT stock FROM product_sizes WHERE product_id=$1 AND label=$2 FOR UPDATE`,
		productID, size).Scan(&stock)
	if errors.Is(err, pgx.ErrNoRows) {
		return HistoryEntry{}, fmt.Errorf("%w: %s/%s", ErrNotFound, productID, size)
	}
	if err != nil {
		return HistoryEntry{}, err
	}
	if stock+delta < 0 {
		return HistoryEntry{}, fmt.Errorf("%w: %s/%s stock=%d delta=%d", ErrNegativeStock, productID, size, stock, delta)
	}

	e := HistoryEntry{
		ID: uuid.NewString(), ProductID: productID, Size: size, ChangeType: change,
		QuantityBefore: stock, QuantityAfter: stock + delta, Delta: delta,
	}
	if _, err := tx.Exec(ctx, `UPDATE product_sizes SET stock = $3 WHERE product_id=$1 AND label=$2`,
		productID, size, e.QuantityAfter); err != nil {
		return HistoryEntry{}, err
	}
	if err := tx.QueryRow(ctx, sqlInsertHistory+` RETURNING created_at`, e.ID, productID, size, string(change),
		e.QuantityBefore, e.QuantityAfter, e.Delta, "").Scan(&e.CreatedAt); err != nil {
		return HistoryEntry{}, err
	}
	return e, tx.Commit(ctx)
}

func (r *PostgresLedger) History(ctx context.Context, productID, size string) ([]HistoryEntry, error) {
	rows, err := r.DB.Query(ctx, `
		SELECT id::text, product_id, size, change_type, quantity_before, quantity_after, delta,
		       COALESCE(order_ref, ''), created_at
		FROM inventory_history
		WHERE product_id = $1 AND size = $2
		ORDER BY created_at, id`, productID, size)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []HistoryEntry
	for rows.Next() {
		var (
			e      HistoryEntry
			change string
		)
		if err := rows.Scan(&e.ID, &e.ProductID, &e.Size, &change, &e.QuantityBefore, &e.QuantityAfter,
			&e.Delta, &e.OrderRef, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.ChangeType = ChangeType(change)
		out = append(out, e)
	}
	return out, rows.Err()
}
