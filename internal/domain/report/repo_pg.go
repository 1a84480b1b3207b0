package report

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/labflow/labflow/internal/platform/db"
)

// storePG implements Store over PostgreSQL. Every collection is a table of
// (id uuid, doc jsonb); each Condition compiles to one jsonb containment
// predicate, so the disjunction becomes `doc @> $1 OR doc @> $2 OR ...`.
// Containment is type-sensitive, which is exactly what the candidate
// encodings need: `{"ln":"42"}` and `{"ln":42}` are distinct predicates.
type storePG struct {
	lazy *db.LazyPool
}

// NewStorePG creates a Store backed by the lazily-connected pool.
func NewStorePG(lazy *db.LazyPool) Store {
	return &storePG{lazy: lazy}
}

var collectionName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// containment renders a condition as the jsonb fragment it must be
// contained by. Dotted keys nest: {"patient.ln": v} -> {"patient":{"ln":v}}.
func containment(cond Condition) ([]byte, error) {
	root := make(map[string]any, len(cond))
	for field, value := range cond {
		parts := strings.Split(field, ".")
		node := root
		for _, p := range parts[:len(parts)-1] {
			child, ok := node[p].(map[string]any)
			if !ok {
				child = make(map[string]any)
				node[p] = child
			}
			node = child
		}
		node[parts[len(parts)-1]] = value
	}
	return json.Marshal(root)
}

func (s *storePG) query(ctx context.Context, collection string, conds []Condition, limit int) (pgx.Rows, error) {
	if !collectionName.MatchString(collection) {
		return nil, fmt.Errorf("invalid collection name %q", collection)
	}
	var sb strings.Builder
	args := make([]any, 0, len(conds)+1)
	sb.WriteString(`SELECT id, doc FROM `)
	sb.WriteString(pgx.Identifier{collection}.Sanitize())
	sb.WriteString(` WHERE `)
	for i, c := range conds {
		frag, err := containment(c)
		if err != nil {
			return nil, fmt.Errorf("encode condition: %w", err)
		}
		if i > 0 {
			sb.WriteString(` OR `)
		}
		args = append(args, string(frag))
		fmt.Fprintf(&sb, `doc @> $%d::jsonb`, len(args))
	}
	if limit > 0 {
		args = append(args, limit)
		fmt.Fprintf(&sb, ` LIMIT $%d`, len(args))
	}

	pool, err := s.lazy.Get(ctx)
	if err != nil {
		return nil, err
	}
	return pool.Query(ctx, sb.String(), args...)
}

func scanDocs(rows pgx.Rows) ([]Document, error) {
	defer rows.Close()
	var docs []Document
	for rows.Next() {
		var id string
		var raw []byte
		if err := rows.Scan(&id, &raw); err != nil {
			return nil, err
		}
		doc := Document{}
		if err := json.Unmarshal(raw, &doc); err != nil {
			return nil, fmt.Errorf("decode document %s: %w", id, err)
		}
		doc["_id"] = id
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

func (s *storePG) Find(ctx context.Context, collection string, conds []Condition, limit int) ([]Document, error) {
	if len(conds) == 0 {
		return nil, nil
	}
	rows, err := s.query(ctx, collection, conds, limit)
	if err != nil {
		return nil, err
	}
	return scanDocs(rows)
}

func (s *storePG) FindOne(ctx context.Context, collection string, conds []Condition) (Document, error) {
	docs, err := s.Find(ctx, collection, conds, 1)
	if err != nil || len(docs) == 0 {
		return nil, err
	}
	return docs[0], nil
}

func (s *storePG) Collections(ctx context.Context) ([]string, error) {
	pool, err := s.lazy.Get(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := pool.Query(ctx, `
		SELECT table_name FROM information_schema.columns
		WHERE table_schema = current_schema()
		  AND column_name = 'doc' AND data_type = 'jsonb'
		ORDER BY table_name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var names []string
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			return nil, err
		}
		names = append(names, n)
	}
	return names, rows.Err()
}
