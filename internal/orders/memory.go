package orders

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ariefcatur/go-storefront-core/internal/ordernum"
)

// MemoryStore is an in-process Store with the same uniqueness rules as the
// orders table.
type MemoryStore struct {
	mu       sync.Mutex
	byID     map[string]*Order
	byNumber map[string]string
	byRef    map[string]string
	now      func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byID:     map[string]*Order{},
		byNumber: map[string]string{},
		byRef:    map[string]string{},
		now:      time.Now,
	}
}

func (m *MemoryStore) Insert(ctx context.Context, o *Order) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.byNumber[o.Number]; ok {
		return fmt.Errorf("insert order %s: %w", o.Number, ordernum.ErrDuplicate)
	}
	if o.PaymentRef != "" {
		if _, ok := m.byRef[o.PaymentRef]; ok {
			return fmt.Errorf("insert order %s: %w", o.Number, ErrDuplicatePaymentRef)
		}
	}
	at := m.now().UTC()
	o.CreatedAt, o.UpdatedAt = at, at

	c := o.clone()
	m.byID[o.ID] = &c
	m.byNumber[o.Number] = o.ID
	if o.PaymentRef != "" {
		m.byRef[o.PaymentRef] = o.ID
	}
	return nil
}

func (m *MemoryStore) FindByNumber(_ context.Context, number string) (Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.byNumber[number]
	if !ok {
		return Order{}, ErrNotFound
	}
	return m.byID[id].clone(), nil
}

func (m *MemoryStore) FindByPaymentRef(_ context.Context, ref string) (Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.byRef[ref]
	if !ok {
		return Order{}, ErrNotFound
	}
	return m.byID[id].clone(), nil
}

func (m *MemoryStore) MaxSequence(_ context.Context, key string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	top := 0
	for number := range m.byNumber {
		k, seq, err := ordernum.Parse(number)
		if err != nil || k != key {
			continue
		}
		top = max(top, seq)
	}
	return top, nil
}

func (m *MemoryStore) UpdateStatus(_ context.Context, id string, from, to Status, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.byID[id]
	if !ok {
		return ErrNotFound
	}
	if o.Status != from {
		return ErrStaleStatus
	}
	o.Status = to
	if reason != "" {
		o.CancelReason = reason
	}
	o.UpdatedAt = m.now().UTC()
	return nil
}

func (m *MemoryStore) UpdatePaymentStatus(_ context.Context, id string, from, to PaymentStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.byID[id]
	if !ok {
		return ErrNotFound
	}
	if o.PaymentStatus != from {
		return ErrStaleStatus
	}
	o.PaymentStatus = to
	o.UpdatedAt = m.now().UTC()
	return nil
}

// Len reports how many orders are stored.
func (m *MemoryStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.byID)
}
