package inventory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ariefcatur/go-storefront-core/internal/catalog"
	"github.com/google/uuid"
)

type level struct {
	stock       int
	purchasable bool
}

// MemoryLedger keeps stock in process behind one mutex. Every operation runs
// its read-decide-write sequence under the lock.
type MemoryLedger struct {
	policy Policy
	now    func() time.Time

	mu      sync.Mutex
	levels  map[key]*level
	history []HistoryEntry
}

func NewMemoryLedger(policy Policy, products ...catalog.Product) *MemoryLedger {
	m := &MemoryLedger{policy: policy, now: time.Now, levels: map[key]*level{}}
	for _, p := range products {
		m.Load(p)
	}
	return m
}

// Load replaces the stock levels of every size of p.
func (m *MemoryLedger) Load(p catalog.Product) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range p.Sizes {
		m.levels[key{p.ID, s.Label}] = &level{stock: s.Stock, purchasable: p.InStock}
	}
}

func (m *MemoryLedger) CheckAvailability(ctx context.Context, lines []Line) ([]Shortage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	merged, err := merge(lines)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	return m.shortages(merged), nil
}

func (m *MemoryLedger) shortages(merged []Line) []Shortage {
	var out []Shortage
	for _, l := range merged {
		avail := 0
		if lv, ok := m.levels[key{l.ProductID, l.Size}]; ok && lv.purchasable {
			avail = lv.stock
		}
		if avail < l.Quantity {
			out = append(out, Shortage{ProductID: l.ProductID, Size: l.Size, Requested: l.Quantity, Available: avail})
		}
	}
	return out
}

func (m *MemoryLedger) Reserve(ctx context.Context, lines []Line, orderRef string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	merged, err := merge(lines)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	short := m.shortages(merged)
	if m.policy.AllowOversellClamp {
		// only unknown or unpurchasable rows still block a clamped sale
		short = short[:0:0]
		for _, l := range merged {
			if lv, ok := m.levels[key{l.ProductID, l.Size}]; !ok || !lv.purchasable {
				short = append(short, Shortage{ProductID: l.ProductID, Size: l.Size, Requested: l.Quantity})
			}
		}
	}
	if len(short) > 0 {
		return &InsufficientStockError{Shortages: short}
	}

	at := m.now().UTC()
	for _, l := range merged {
		lv := m.levels[key{l.ProductID, l.Size}]
		before := lv.stock
		lv.stock -= l.Quantity
		if lv.stock < 0 {
			lv.stock = 0
		}
		m.appendLocked(l.ProductID, l.Size, ChangeSale, before, lv.stock, orderRef, at)
	}
	return nil
}

func (m *MemoryLedger) Restore(ctx context.Context, orderRef string, lines []Line) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	merged, err := merge(lines)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	for _, l := range merged {
		if _, ok := m.levels[key{l.ProductID, l.Size}]; !ok {
			return fmt.Errorf("%w: %s/%s", ErrNotFound, l.ProductID, l.Size)
		}
		sold := SoldQuantity(m.historyLocked(l.ProductID, l.Size), orderRef)
		if l.Quantity > sold {
			return fmt.Errorf("%w: %s/%s order %s restore=%d sold=%d", ErrRestoreExceedsSale, l.ProductID, l.Size, orderRef, l.Quantity, sold)
		}
	}
	at := m.now().UTC()
	for _, l := range merged {
		lv := m.levels[key{l.ProductID, l.Size}]
		before := lv.stock
		lv.stock += l.Quantity
		m.appendLocked(l.ProductID, l.Size, ChangeReturn, before, lv.stock, orderRef, at)
	}
	return nil
}

func (m *MemoryLedger) Adjust(ctx context.Context, productID, size string, delta int, change ChangeType) (HistoryEntry, error) {
	if err := ctx.Err(); err != nil {
		return HistoryEntry{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	lv, ok := m.levels[key{productID, size}]
	if !ok {
		return HistoryEntry{}, fmt.Errorf("%w: %s/%s", ErrNotFound, productID, size)
	}
	if lv.stock+delta < 0 {
		return HistoryEntry{}, fmt.Errorf("%w: %s/%s stock=%d delta=%d", ErrNegativeStock, productID, size, lv.stock, delta)
	}
	before := lv.stock
	lv.stock += delta
	return m.appendLocked(productID, size, change, before, lv.stock, "", m.now().UTC()), nil
}

func (m *MemoryLedger) History(_ context.Context, productID, size string) ([]HistoryEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.historyLocked(productID, size), nil
}

// Stock returns the current level of one size, for assertions and debugging.
func (m *MemoryLedger) Stock(productID, size string) (int, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	lv, ok := m.levels[key{productID, size}]
	if !ok {
		return 0, false
	}
	return lv.stock, true
}

func (m *MemoryLedger) historyLocked(productID, size string) []HistoryEntry {
	var out []HistoryEntry
	for _, e := range m.history {
		if e.ProductID == productID && e.Size == size {
			out = append(out, e)
		}
	}
	return out
}

func (m *MemoryLedger) appendLocked(productID, size string, change ChangeType, before, after int, orderRef string, at time.Time) HistoryEntry {
	e := HistoryEntry{
		ID:             uuid.NewString(),
		ProductID:      productID,
		Size:           size,
		ChangeType:     change,
		QuantityBefore: before,
		QuantityAfter:  after,
		Delta:          after - before,
		OrderRef:       orderRef,
		CreatedAt:      at,
	}
	m.history = append(m.history, e)
	return e
}
