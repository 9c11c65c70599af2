// Package mock provides in-memory fakes for tests.
package mock

import (
	"context"
	"fmt"
	"sync"

	"dmarket_sync/internal/core"
	"dmarket_sync/internal/recorder"
)

// Marketplace is an in-memory core.IMarketplace with per-operation failure
// injection and call counting.
type Marketplace struct {
	mu sync.Mutex

	Targets map[string]core.Target          // keyed by target ID
	Orders  map[string][]core.CompetingOrder // keyed by title

	ListErr   error
	DeleteErr error
	CreateErr error
	OrdersErr error

	ListCalls   int
	DeleteCalls int
	CreateCalls int
	OrdersCalls int

	Created []core.CreateTargetRequest
	Deleted []string

	// OnDelete, when set, runs after a successful delete. Tests use it to
	// adjust the competing book the way the real marketplace would.
	OnDelete func(targetID string)

	nextID int
}

// NewMarketplace returns an empty mock marketplace.
func NewMarketplace() *Marketplace {
	return &Marketplace{
		Targets: make(map[string]core.Target),
		Orders:  make(map[string][]core.CompetingOrder),
	}
}

// AddTarget stores a target under its ID.
func (m *Marketplace) AddTarget(t core.Target) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Targets[t.ID] = t
}

// SetOrders replaces the competing orders returned for a title.
func (m *Marketplace) SetOrders(title string, orders []core.CompetingOrder) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Orders[title] = orders
}

func (m *Marketplace) ListActiveTargets(ctx context.Context) ([]core.Target, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ListCalls++
	if m.ListErr != nil {
		return nil, m.ListErr
	}
	out := make([]core.Target, 0, len(m.Targets))
	for _, t := range m.Targets {
		out = append(out, t)
	}
	return out, nil
}

func (m *Marketplace) DeleteTarget(ctx context.Context, targetID string) error {
	m.mu.Lock()
	m.DeleteCalls++
	if m.DeleteErr != nil {
		m.mu.Unlock()
		return m.DeleteErr
	}
	m.Deleted = append(m.Deleted, targetID)
	delete(m.Targets, targetID)
	hook := m.OnDelete
	m.mu.Unlock()
	if hook != nil {
		hook(targetID)
	}
	return nil
}

func (m *Marketplace) CreateTarget(ctx context.Context, req core.CreateTargetRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.CreateCalls++
	if m.CreateErr != nil {
		return m.CreateErr
	}
	m.Created = append(m.Created, req)
	m.nextID++
	id := fmt.Sprintf("mock-target-%d", m.nextID)
	m.Targets[id] = core.Target{
		ID:            id,
		Title:         req.Title,
		Amount:        req.Amount,
		Price:         req.Price,
		RawAttributes: req.Attributes,
	}
	return nil
}

func (m *Marketplace) FetchCompetingOrders(ctx context.Context, title string) ([]core.CompetingOrder, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.OrdersCalls++
	if m.OrdersErr != nil {
		return nil, m.OrdersErr
	}
	return m.Orders[title], nil
}

// CreatedCount returns how many creates have succeeded. Safe to poll while a
// worker is live.
func (m *Marketplace) CreatedCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Created)
}

// CaptureRecorder collects reconciliation records in memory.
type CaptureRecorder struct {
	mu      sync.Mutex
	records []recorder.ReconciliationRecord
}

func (c *CaptureRecorder) Record(rec recorder.ReconciliationRecord) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.records = append(c.records, rec)
}

func (c *CaptureRecorder) Close() error { return nil }

// Records returns a snapshot of everything recorded so far.
func (c *CaptureRecorder) Records() []recorder.ReconciliationRecord {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]recorder.ReconciliationRecord, len(c.records))
	copy(out, c.records)
	return out
}
