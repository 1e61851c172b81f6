package db

import (
	"sync"

	"go.uber.org/zap"

	"github.com/omnihop/router/pkg/types"
)

// RouterDB is the persistence surface the routing engine depends on.
type RouterDB interface {
	IsProcessed(id types.GUID) (bool, error)
	MarkProcessed(id types.GUID) error
	StoreRoute(rec *RouteRecord) error
	LoadRoutes(logger *zap.Logger) ([]*RouteRecord, error)
}

// MockRouterDB is an in-memory RouterDB for tests.
type MockRouterDB struct {
	mu        sync.Mutex
	processed map[types.GUID]bool
	routes    []*RouteRecord
}

func NewMockRouterDB() *MockRouterDB {
	return &MockRouterDB{processed: make(map[types.GUID]bool)}
}

func (m *MockRouterDB) IsProcessed(id types.GUID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.processed[id], nil
}

func (m *MockRouterDB) MarkProcessed(id types.GUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.processed[id] = true
	return nil
}

func (m *MockRouterDB) StoreRoute(rec *RouteRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.routes = append(m.routes, rec)
	return nil
}

func (m *MockRouterDB) LoadRoutes(logger *zap.Logger) ([]*RouteRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*RouteRecord, len(m.routes))
	copy(out, m.routes)
	return out, nil
}
