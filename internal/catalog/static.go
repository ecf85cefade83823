package catalog

import (
	"context"
	"sort"
	"sync"

	"github.com/shaiso/Orbit/internal/domain"
)

// Static — каталог в памяти. Используется в тестах и для memory://.
type Static struct {
	mu            sync.RWMutex
	flows         map[domain.FlowKey]*domain.FlowDescriptor
	defaultTenant string
}

// NewStatic создаёт каталог с начальным набором flows.
func NewStatic(defaultTenant string, flows ...*domain.FlowDescriptor) (*Static, error) {
	c := &Static{
		flows:         make(map[domain.FlowKey]*domain.FlowDescriptor),
		defaultTenant: defaultTenant,
	}
	for _, f := range flows {
		if err := c.Put(f); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// Put добавляет или заменяет flow.
func (c *Static) Put(f *domain.FlowDescriptor) error {
	cp := *f
	Normalize(&cp, c.defaultTenant)
	if err := Validate(&cp); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.flows[cp.Key()] = &cp
	return nil
}

// Delete удаляет flow.
func (c *Static) Delete(key domain.FlowKey) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.flows, key)
}

// ListActiveFlows реализует Catalog.
func (c *Static) ListActiveFlows(_ context.Context, tenant string) ([]*domain.FlowDescriptor, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]*domain.FlowDescriptor, 0, len(c.flows))
	for _, f := range c.flows {
		if f.Disabled || !matchesTenant(f, tenant) {
			continue
		}
		out = append(out, f)
	}
	sortFlows(out)
	return out, nil
}

// Get реализует Catalog.
func (c *Static) Get(_ context.Context, key domain.FlowKey) (*domain.FlowDescriptor, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	f, ok := c.flows[key]
	if !ok {
		return nil, ErrNotFound
	}
	return f, nil
}

// sortFlows упорядочивает flows по ключу, чтобы обход был детерминированным.
func sortFlows(flows []*domain.FlowDescriptor) {
	sort.Slice(flows, func(i, j int) bool {
		return flows[i].Key().String() < flows[j].Key().String()
	})
}
