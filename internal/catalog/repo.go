package catalog

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// Repo reads products with their sizes and discount from Postgres.
type Repo struct{ DB *pgxpool.Pool }

// Products returns the products found among ids, keyed by id. Missing ids are
// simply absent from the map.
func (r *Repo) Products(ctx context.Context, ids []string) (map[string]Product, error) {
	out := make(map[string]Product, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	rows, err := r.DB.Query(ctx, `
		SELECT p.id, p.name, COALESCE(p.brand_id, ''), p.base_price, p.in_stock, p.created_at, p.updated_at,
		       d.discount_type, d.value, d.starts_at, d.ends_at, d.is_active
		FROM products p
		LEFT JOIN product_discounts d ON d.product_id = p.id
		WHERE p.id = ANY($1)`, ids)
	if err != nil {
		return nil, err
	}
	for rows.Next() {
		var (
			p        Product
			dType    *string
			dValue   decimal.NullDecimal
			starts   *time.Time
			ends     *time.Time
			dEnabled *bool
		)
		if err := rows.Scan(&p.ID, &p.Name, &p.BrandID, &p.BasePrice, &p.InStock, &p.CreatedAt, &p.UpdatedAt,
			&dType, &dValue, &starts, &ends, &dEnabled); err != nil {
			rows.Close()
			return nil, err
		}
		if dType != nil && dValue.Valid {
			p.Discount = &ProductDiscount{
				Type:     DiscountType(*dType),
				Value:    dValue.Decimal,
				StartsAt: starts,
				EndsAt:   ends,
				IsActive: dEnabled != nil && *dEnabled,
			}
		}
		out[p.ID] = p
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sizes, err := r.sizes(ctx, ids)
	if err != nil {
		return nil, err
	}
	for id, ss := range sizes {
		if p, ok := out[id]; ok {
			p.Sizes = ss
			out[id] = p
		}
	}
	return out, nil
}

func (r *Repo) sizes(ctx context.Context, ids []string) (map[string]Sizes, error) {
	rows, err := r.DB.Query(ctx, `
		SELECT product_id, label, stock, price
		FROM product_sizes
		WHERE product_id = ANY($1)
		ORDER BY product_id, position, label`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := map[string]Sizes{}
	for rows.Next() {
		var (
			pid   string
			s     Size
			price decimal.NullDecimal
		)
		if err := rows.Scan(&pid, &s.Label, &s.Stock, &price); err != nil {
			return nil, err
		}
		if price.Valid {
			v := price.Decimal
			s.Price = &v
		}
		out[pid] = append(out[pid], s)
	}
	return out, rows.Err()
}

// Upsert writes a product, its sizes and discount in one transaction. It is
// used by seeding and tests; stock changes in production go through the
// inventory ledger.
func (r *Repo) Upsert(ctx context.Context, p Product) error {
	tx, err := r.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if p.BrandID != "" {
		if _, err := tx.Exec(ctx, `INSERT INTO brands(id, name) VALUES ($1, $1) ON CONFLICT (id) DO NOTHING`, p.BrandID); err != nil {
			return err
		}
	}
	if _, err := tx.Exec(ctx, `
		INSERT INTO products(id, name, brand_id, base_price, in_stock)
		VALUES ($1, $2, NULLIF($3, ''), $4, $5)
		ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, brand_id = EXCLUDED.brand_id,
			base_price = EXCLUDED.base_price, in_stock = EXCLUDED.in_stock, updated_at = now()`,
		p.ID, p.Name, p.BrandID, p.BasePrice, p.InStock); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, `DELETE FROM product_sizes WHERE product_id = $1`, p.ID); err != nil {
		return err
	}
	for i, s := range p.Sizes {
		var price any
		if s.Price != nil {
			price = *s.Price
		}
		if _, err := tx.Exec(ctx, `
			INSERT INTO product_sizes(product_id, label, position, stock, price)
			VALUES ($1, $2, $3, $4, $5)`, p.ID, s.Label, i, s.Stock, price); err != nil {
			return err
		}
	}
	if _, err := tx.Exec(ctx, `DELETE FROM product_discounts WHERE product_id = $1`, p.ID); err != nil {
		return err
	}
	if d := p.Discount; d != nil {
		if _, err := tx.Exec(ctx, `
			INSERT INTO product_discounts(product_id, discount_type, value, starts_at, ends_at, is_active)
			VALUES ($1, $2, $3, $4, $5, $6)`, p.ID, string(d.Type), d.Value, d.StartsAt, d.EndsAt, d.IsActive); err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}
