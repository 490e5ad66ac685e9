package db

import (
	"context"
	"errors"
	"sync"

	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	ErrEmptyConnString = errors.New("tenant connection string is empty")
	ErrRegistryClosed  = errors.New("connection registry is closed")
)

// PoolFactory creates a pool for a tenant connection string.
type PoolFactory func(ctx context.Context, connString string) (*pgxpool.Pool, error)

// Registry owns the process-wide management pool and one lazily created pool
// per tenant connection string. Keys are compared as raw strings. Pools are
// never evicted; they live until Close.
type Registry struct {
	management *pgxpool.Pool
	factory    PoolFactory

	mu      sync.RWMutex
	tenants map[string]*pgxpool.Pool
	closed  bool
}

func NewRegistry(management *pgxpool.Pool, factory PoolFactory) *Registry {
	return &Registry{
		management: management,
		factory:    factory,
		tenants:    make(map[string]*pgxpool.Pool),
	}
}

// Management returns the management database pool.
func (r *Registry) Management() *pgxpool.Pool {
	return r.management
}

// ForTenant returns the pool for connString, creating and storing it on first
// use. Concurrent first calls for the same string share one pool. A factory
// error is returned as is and nothing is stored.
func (r *Registry) ForTenant(ctx context.Context, connString string) (*pgxpool.Pool, error) {
	if connString == "" {
		return nil, ErrEmptyConnString
	}

	r.mu.RLock()
	pool, ok := r.tenants[connString]
	closed := r.closed
	r.mu.RUnlock()
	if ok {
		return pool, nil
	}
	if closed {
		return nil, ErrRegistryClosed
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	// Double-check after acquiring write lock
	if pool, ok := r.tenants[connString]; ok {
		return pool, nil
	}
	if r.closed {
		return nil, ErrRegistryClosed
	}

	pool, err := r.factory(ctx, connString)
	if err != nil {
		return nil, err
	}
	r.tenants[connString] = pool
	return pool, nil
}

// Len returns the number of tenant pools created so far.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tenants)
}

// Close closes every tenant pool and then the management pool. Further
// ForTenant calls fail with ErrRegistryClosed.
func (r *Registry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	r.closed = true
	for key, pool := range r.tenants {
		pool.Close()
		delete(r.tenants, key)
	}
	if r.management != nil {
		r.management.Close()
	}
}
