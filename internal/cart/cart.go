package cart

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/ariefcatur/go-storefront-core/internal/pricing"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

var ErrInvalidLine = errors.New("cart: line needs an owner, a product and a positive quantity")

// Line is one cart entry. Owner is a user id for signed-in shoppers or a
// session token for anonymous ones.
type Line struct {
	ID            string           `json:"id"`
	Owner         string           `json:"owner"`
	ProductID     string           `json:"product_id"`
	Quantity      int              `json:"quantity"`
	Size          string           `json:"size,omitempty"`
	CapturedPrice *decimal.Decimal `json:"captured_price,omitempty"`
	CreatedAt     time.Time        `json:"created_at"`
}

func (l Line) validate() error {
	if l.Owner == "" || l.ProductID == "" || l.Quantity <= 0 {
		return ErrInvalidLine
	}
	return nil
}

type Store interface {
	Lines(ctx context.Context, owner string) ([]Line, error)
	Add(ctx context.Context, l Line) (Line, error)
	Clear(ctx context.Context, owner string) error
}

// Items converts cart lines to pricing input. CapturedPrice is display only;
// checkout always re-prices.
func Items(lines []Line) []pricing.Item {
	out := make([]pricing.Item, 0, len(lines))
	for _, l := range lines {
		out = append(out, pricing.Item{ProductID: l.ProductID, Quantity: l.Quantity, Size: l.Size})
	}
	return out
}

type Repo struct{ DB *pgxpool.Pool }

func (r *Repo) Lines(ctx context.Context, owner string) ([]Line, error) {
	rows, err := r.DB.Query(ctx, `
		SELECT id::text, owner, product_id, quantity, size, captured_price, created_at
		FROM cart_lines WHERE owner = $1 ORDER BY created_at, id`, owner)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Line
	for rows.Next() {
		var (
			l     Line
			price decimal.NullDecimal
		)
		if err := rows.Scan(&l.ID, &l.Owner, &l.ProductID, &l.Quantity, &l.Size, &price, &l.CreatedAt); err != nil {
			return nil, err
		}
		if price.Valid {
			l.CapturedPrice = &price.Decimal
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

func (r *Repo) Add(ctx context.Context, l Line) (Line, error) {
	if err := l.validate(); err != nil {
		return Line{}, err
	}
	if l.ID == "" {
		l.ID = uuid.NewString()
	}
	var price decimal.NullDecimal
	if l.CapturedPrice != nil {
		price = decimal.NullDecimal{Decimal: *l.CapturedPrice, Valid: true}
	}
	err := r.DB.QueryRow(ctx, `
		INSERT INTO cart_lines(id, owner, product_id, quantity, size, captured_price)
		VALUES ($1, $2, $3, $4, $5, $6) RETURNING created_at`,
		l.ID, l.Owner, l.ProductID, l.Quantity, l.Size, price).Scan(&l.CreatedAt)
	return l, err
}

func (r *Repo) Clear(ctx context.Context, owner string) error {
	_, err := r.DB.Exec(ctx, `DELETE FROM cart_lines WHERE owner = $1`, owner)
	return err
}

type Memory struct {
	mu    sync.Mutex
	lines map[string][]Line
}

func NewMemory() *Memory { return &Memory{lines: map[string][]Line{}} }

func (m *Memory) Lines(_ context.Context, owner string) ([]Line, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Line(nil), m.lines[owner]...), nil
}

func (m *Memory) Add(_ context.Context, l Line) (Line, error) {
	if err := l.validate(); err != nil {
		return Line{}, err
	}
	if l.ID == "" {
		l.ID = uuid.NewString()
	}
	l.CreatedAt = time.Now().UTC()
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lines[l.Owner] = append(m.lines[l.Owner], l)
	return l, nil
}

func (m *Memory) Clear(_ context.Context, owner string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.lines, owner)
	return nil
}
