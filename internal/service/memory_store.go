package service

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dukerupert/parley/internal/domain"
	"github.com/dukerupert/parley/internal/tenant"
)

// MemoryStore is an in-process BillingStore used by tests. Records are
// copied in and out so callers never share state with the store.
type MemoryStore struct {
	mu      sync.Mutex
	records map[uuid.UUID]*domain.TenantBilling
	now     func() time.Time

	// UpdateErr, when set, fails every Update before fn runs.
	UpdateErr error

	// Writes counts persisted updates.
	Writes int
}

var _ BillingStore = (*MemoryStore)(nil)

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: make(map[uuid.UUID]*domain.TenantBilling),
		now:     time.Now,
	}
}

// Put inserts or replaces a record.
func (m *MemoryStore) Put(rec *domain.TenantBilling) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := rec.Clone()
	if c.UpdatedAt.IsZero() {
		c.UpdatedAt = m.now()
	}
	m.records[c.TenantID] = c
}

// Get returns a copy of a record, or nil.
func (m *MemoryStore) Get(id uuid.UUID) *domain.TenantBilling {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.records[id].Clone()
}

func (m *MemoryStore) ByID(_ context.Context, id uuid.UUID) (*domain.TenantBilling, error) {
	if rec := m.Get(id); rec != nil {
		return rec, nil
	}
	return nil, tenant.ErrTenantNotFound
}

func (m *MemoryStore) ByKey(_ context.Context, key string) (*domain.TenantBilling, error) {
	return m.find(func(r *domain.TenantBilling) bool { return r.TenantKey == key })
}

func (m *MemoryStore) ByCustomerID(_ context.Context, customerID string) (*domain.TenantBilling, error) {
	return m.find(func(r *domain.TenantBilling) bool { return r.ExternalCustomerID == customerID })
}

func (m *MemoryStore) find(match func(*domain.TenantBilling) bool) (*domain.TenantBilling, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.records {
		if match(r) {
			return r.Clone(), nil
		}
	}
	return nil, tenant.ErrTenantNotFound
}

func (m *MemoryStore) Ensure(_ context.Context, rec *domain.TenantBilling) (*domain.TenantBilling, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.records[rec.TenantID]; ok {
		return existing.Clone(), nil
	}
	c := rec.Clone()
	now := m.now()
	c.CreatedAt, c.UpdatedAt = now, now
	m.records[c.TenantID] = c
	return c.Clone(), nil
}

func (m *MemoryStore) Update(_ context.Context, id uuid.UUID, fn UpdateFunc) (*domain.TenantBilling, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.UpdateErr != nil {
		return nil, m.UpdateErr
	}

	cur, ok := m.records[id]
	if !ok {
		return nil, tenant.ErrTenantNotFound
	}

	next := cur.Clone()
	write, err := fn(next)
	if err != nil {
		return nil, err
	}
	if !write {
		return cur.Clone(), nil
	}

	next.TenantID = cur.TenantID
	if !cur.SameState(next) {
		next.UpdatedAt = m.now()
	}
	m.records[id] = next
	m.Writes++
	return next.Clone(), nil
}

func (m *MemoryStore) ListLinked(_ context.Context, limit int) ([]*domain.TenantBilling, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*domain.TenantBilling
	for _, r := range m.records {
		if r.HasRemoteCustomer() {
			out = append(out, r.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].UpdatedAt.After(out[j].UpdatedAt)
		}
		return out[i].TenantID.String() < out[j].TenantID.String()
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
