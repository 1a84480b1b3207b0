package report

import (
	"context"
)

// Store is the read-only document store the resolver queries. Conditions are
// OR'd together; a document matches when any single condition matches all of
// its field constraints. An empty condition list matches nothing, so callers
// with empty candidate sets get empty results rather than errors.
type Store interface {
	// FindOne returns the first matching document in the store's natural
	// order, or nil when nothing matches.
	FindOne(ctx context.Context, collection string, conds []Condition) (Document, error)
	// Find returns up to limit matching documents; limit <= 0 means no cap.
	Find(ctx context.Context, collection string, conds []Condition, limit int) ([]Document, error)
	// Collections lists every document collection present in the store.
	Collections(ctx context.Context) ([]string, error)
}
