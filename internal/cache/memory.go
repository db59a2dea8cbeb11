package cache

import (
	"context"
	"sync"
	"time"

	"github.com/license-console/license-console/internal/db/models"
)

type memoryEntry struct {
	plan    *models.Plan
	expires time.Time
}

// Memory is an in-process PlanCache. Entries are copied on the way in and out.
type Memory struct {
	mu      sync.RWMutex
	ttl     time.Duration
	now     func() time.Time
	plans   map[string]memoryEntry
	list    []*models.Plan
	listExp time.Time
	hasList bool
}

// NewMemory creates an in-process cache with the given TTL
func NewMemory(ttl time.Duration) *Memory {
	return &Memory{ttl: ttl, now: time.Now, plans: make(map[string]memoryEntry)}
}

func (m *Memory) GetPlans(_ context.Context) ([]*models.Plan, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ok := m.hasList && m.now().Before(m.listExp)
	record(ok)
	if !ok {
		return nil, false
	}
	return clonePlans(m.list), true
}

func (m *Memory) SetPlans(_ context.Context, plans []*models.Plan) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.list = clonePlans(plans)
	m.listExp = m.now().Add(m.ttl)
	m.hasList = true
}

func (m *Memory) GetPlan(_ context.Context, id string) (*models.Plan, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.plans[id]
	ok = ok && m.now().Before(e.expires)
	record(ok)
	if !ok {
		return nil, false
	}
	return clonePlan(e.plan), true
}

func (m *Memory) SetPlan(_ context.Context, plan *models.Plan) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.plans[plan.ID] = memoryEntry{plan: clonePlan(plan), expires: m.now().Add(m.ttl)}
}

func (m *Memory) Invalidate(_ context.Context, id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.plans, id)
	m.list = nil
	m.hasList = false
}
