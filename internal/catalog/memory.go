package catalog

import (
	"context"
	"sync"
)

// Memory is an in-process product reader for tests and local runs.
type Memory struct {
	mu       sync.RWMutex
	products map[string]Product
}

func NewMemory(ps ...Product) *Memory {
	m := &Memory{products: make(map[string]Product, len(ps))}
	for _, p := range ps {
		m.products[p.ID] = clone(p)
	}
	return m
}

func (m *Memory) Put(p Product) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.products[p.ID] = clone(p)
}

func (m *Memory) Products(_ context.Context, ids []string) (map[string]Product, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[string]Product, len(ids))
	for _, id := range ids {
		if p, ok := m.products[id]; ok {
			out[id] = clone(p)
		}
	}
	return out, nil
}

func clone(p Product) Product {
	c := p
	c.Sizes = append(Sizes(nil), p.Sizes...)
	if p.Discount != nil {
		d := *p.Discount
		c.Discount = &d
	}
	return c
}
