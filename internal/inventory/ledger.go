package inventory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

var (
	ErrNotFound           = errors.New("inventory: product size not found")
	ErrInvalidQuantity    = errors.New("inventory: quantity must be positive")
	ErrNegativeStock      = errors.New("inventory: adjustment would make stock negative")
	ErrRestoreExceedsSale = errors.New("inventory: restore exceeds quantity sold")
)

type ChangeType string

const (
	ChangeSale       ChangeType = "sale"
	ChangeAdjustment ChangeType = "adjustment"
	ChangeRestock    ChangeType = "restock"
	ChangeReturn     ChangeType = "return"
)

// Line is a quantity of one product size.
type Line struct {
	ProductID string `json:"product_id"`
	Size      string `json:"size"`
	Quantity  int    `json:"quantity"`
}

type Shortage struct {
	ProductID string `json:"product_id"`
	Size      string `json:"size"`
	Requested int    `json:"requested"`
	Available int    `json:"available"`
}

// InsufficientStockError lists every line that could not be covered.
type InsufficientStockError struct {
	Shortages []Shortage
}

func (e *InsufficientStockError) Error() string {
	parts := make([]string, 0, len(e.Shortages))
	for _, s := range e.Shortages {
		parts = append(parts, fmt.Sprintf("%s/%s requested=%d available=%d", s.ProductID, s.Size, s.Requested, s.Available))
	}
	return "inventory: insufficient stock: " + strings.Join(parts, ", ")
}

// HistoryEntry is the append-only audit record of one stock change.
type HistoryEntry struct {
	ID             string     `json:"id"`
	ProductID      string     `json:"product_id"`
	Size           string     `json:"size"`
	ChangeType     ChangeType `json:"change_type"`
	QuantityBefore int        `json:"quantity_before"`
	QuantityAfter  int        `json:"quantity_after"`
	Delta          int        `json:"delta"`
	OrderRef       string     `json:"order_ref,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
}

// Policy tunes how a decrement below zero is handled.
type Policy struct {
	// AllowOversellClamp clamps a short decrement to zero instead of rejecting it.
	AllowOversellClamp bool
}

// Ledger is the stock ledger contract shared by the Postgres and in-memory
// implementations.
type Ledger interface {
	CheckAvailability(ctx context.Context, lines []Line) ([]Shortage, error)
	Reserve(ctx context.Context, lines []Line, orderRef string) error
	Restore(ctx context.Context, orderRef string, lines []Line) error
	Adjust(ctx context.Context, productID, size string, delta int, change ChangeType) (HistoryEntry, error)
	History(ctx context.Context, productID, size string) ([]HistoryEntry, error)
}

type key struct{ product, size string }

// merge folds duplicate product/size lines together and orders the result by
// key so concurrent callers lock rows in the same order.
func merge(lines []Line) ([]Line, error) {
	sums := make(map[key]int, len(lines))
	for _, l := range lines {
		if l.Quantity <= 0 {
			return nil, fmt.Errorf("%w: %s/%s", ErrInvalidQuantity, l.ProductID, l.Size)
		}
		sums[key{l.ProductID, l.Size}] += l.Quantity
	}
	out := make([]Line, 0, len(sums))
	for k, q := range sums {
		out = append(out, Line{ProductID: k.product, Size: k.size, Quantity: q})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ProductID != out[j].ProductID {
			return out[i].ProductID < out[j].ProductID
		}
		return out[i].Size < out[j].Size
	})
	return out, nil
}

// SoldQuantity sums sale decrements minus returns for one order in a history
// slice. Restores are bounded by this amount.
func SoldQuantity(entries []HistoryEntry, orderRef string) int {
	n := 0
	for _, e := range entries {
		// sales carry negative deltas, returns positive ones
		if e.OrderRef == orderRef && (e.ChangeType == ChangeSale || e.ChangeType == ChangeReturn) {
			n -= e.Delta
		}
	}
	return n
}
