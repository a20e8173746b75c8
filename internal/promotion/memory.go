package promotion

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore serialises every redemption behind one mutex.
type MemoryStore struct {
	mu     sync.Mutex
	byCode map[string]*Promotion
	byID   map[string]*Promotion
	usages []Usage
}

func NewMemoryStore(ps ...Promotion) *MemoryStore {
	m := &MemoryStore{byCode: map[string]*Promotion{}, byID: map[string]*Promotion{}}
	for _, p := range ps {
		m.Put(p)
	}
	return m
}

func (m *MemoryStore) Put(p Promotion) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	p.Code = Normalize(p.Code)
	if prev, ok := m.byID[p.ID]; ok && prev.Code != p.Code {
		delete(m.byCode, prev.Code)
	}
	c := p
	m.byCode[c.Code] = &c
	m.byID[c.ID] = &c
}

func (m *MemoryStore) FindByCode(_ context.Context, code string) (Promotion, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.byCode[Normalize(code)]
	if !ok {
		return Promotion{}, ErrNotFound
	}
	return *p, nil
}

func (m *MemoryStore) CountUserUsages(_ context.Context, promotionID, userID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.countLocked(promotionID, userID), nil
}

func (m *MemoryStore) countLocked(promotionID, userID string) int {
	n := 0
	for _, u := range m.usages {
		if u.PromotionID == promotionID && u.UserID == userID {
			n++
		}
	}
	return n
}

func (m *MemoryStore) Redeem(ctx context.Context, r Redemption) (Usage, error) {
	if err := ctx.Err(); err != nil {
		return Usage{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.byID[r.PromotionID]
	if !ok {
		return Usage{}, ErrNotFound
	}
	at := r.At
	if at.IsZero() {
		at = time.Now()
	}
	if reason := closedReason(p.IsActive, p.StartsAt, p.ExpiresAt, at); reason != "" {
		return Usage{}, &InvalidError{Code: p.Code, Reason: reason}
	}
	if p.UsageLimit != nil && p.UsedCount >= *p.UsageLimit {
		return Usage{}, &InvalidError{Code: p.Code, Reason: ReasonUsageLimitReached}
	}
	if p.MaxUsesPerUser != nil && m.countLocked(p.ID, r.UserID) >= *p.MaxUsesPerUser {
		return Usage{}, &InvalidError{Code: p.Code, Reason: ReasonUserLimitReached}
	}

	p.UsedCount++
	u := Usage{
		ID:             uuid.NewString(),
		PromotionID:    p.ID,
		UserID:         r.UserID,
		OrderID:        r.OrderID,
		DiscountAmount: r.Discount,
		UsedAt:         time.Now().UTC(),
	}
	m.usages = append(m.usages, u)
	return u, nil
}

// Usages returns every recorded usage of a promotion.
func (m *MemoryStore) Usages(promotionID string) []Usage {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Usage
	for _, u := range m.usages {
		if u.PromotionID == promotionID {
			out = append(out, u)
		}
	}
	return out
}
