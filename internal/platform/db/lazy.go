package db

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNoDatabaseURL is returned when the store was never configured. Handlers
// map it to a distinct error code so operators can tell misconfiguration
// from a runtime store failure.
var ErrNoDatabaseURL = errors.New("DATABASE_URL is not configured")

// LazyPool establishes the shared pgx pool on first use and reuses it for
// the process lifetime. The server must be able to start without a database
// configured, so connection errors surface per request, not at boot. The
// mutex is held across the connect so concurrent first requests share one
// attempt instead of racing to create duplicate pools.
type LazyPool struct {
	url      string
	maxConns int32
	minConns int32

	mu   sync.Mutex
	pool *pgxpool.Pool
}

func NewLazyPool(url string, maxConns, minConns int32) *LazyPool {
	return &LazyPool{url: url, maxConns: maxConns, minConns: minConns}
}

// Configured reports whether a connection string was provided at all.
func (l *LazyPool) Configured() bool {
	return l.url != ""
}

// Get returns the shared pool, connecting on first call.
func (l *LazyPool) Get(ctx context.Context) (*pgxpool.Pool, error) {
	if l.url == "" {
		return nil, ErrNoDatabaseURL
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.pool != nil {
		return l.pool, nil
	}

	cfg, err := pgxpool.ParseConfig(l.url)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	if l.maxConns > 0 {
		cfg.MaxConns = l.maxConns
	}
	if l.minConns > 0 {
		cfg.MinConns = l.minConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	l.pool = pool
	return l.pool, nil
}

// Close releases the pool if it was ever created.
func (l *LazyPool) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.pool != nil {
		l.pool.Close()
		l.pool = nil
	}
}
