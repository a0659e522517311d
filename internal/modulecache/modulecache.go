// Package modulecache persists the shape of a script's import graph
// across runs, backed by a small SQLite
// database living next to the entry script (".qatam-cache.db"). It
// never stores bytecode, chunks, or values — only source hashes and
// importer/resolved path pairs — so it never crosses into the
// bytecode-persistence the language core forbids. Its only consumer is
// the `--اعتماديات` diagnostics flag, which prints every edge the
// database holds; the table is never cleared, so edges recorded by
// earlier runs are printed too.
package modulecache

import (
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"
	"strings"

	"golang.org/x/exp/slices"
	_ "modernc.org/sqlite"
)

type Edge struct {
	Importer string
	Resolved string
	Hash     string
}

// Cache wraps one open connection to the diagnostics database.
type Cache struct {
	db *sql.DB
}

// Open creates (if needed) and opens the cache database at path.
func Open(path string) (*Cache, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	const schema = `
	CREATE TABLE IF NOT EXISTS edges (
		importer TEXT NOT NULL,
		resolved TEXT NOT NULL,
		hash     TEXT NOT NULL,
		PRIMARY KEY (importer, resolved)
	);`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, err
	}
	return &Cache{db: db}, nil
}

func (c *Cache) Close() error {
	if c == nil || c.db == nil {
		return nil
	}
	return c.db.Close()
}

// RecordEdge upserts one importer→resolved edge along with the resolved
// file's content hash. Failures are swallowed: the cache is a
// diagnostics aid, never load-bearing for compilation.
func (c *Cache) RecordEdge(importer, resolved string, content []byte) {
	if c == nil || c.db == nil {
		return
	}
	sum := sha256.Sum256(content)
	hash := hex.EncodeToString(sum[:])
	_, _ = c.db.Exec(
		`INSERT INTO edges (importer, resolved, hash) VALUES (?, ?, ?)
		 ON CONFLICT(importer, resolved) DO UPDATE SET hash = excluded.hash`,
		importer, resolved, hash,
	)
}

// Graph returns every recorded edge, sorted for stable diagnostic
// output.
func (c *Cache) Graph() ([]Edge, error) {
	if c == nil || c.db == nil {
		return nil, nil
	}
	rows, err := c.db.Query(`SELECT importer, resolved, hash FROM edges`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var edges []Edge
	for rows.Next() {
		var e Edge
		if err := rows.Scan(&e.Importer, &e.Resolved, &e.Hash); err != nil {
			return nil, err
		}
		edges = append(edges, e)
	}
	slices.SortFunc(edges, func(a, b Edge) int {
		if a.Importer != b.Importer {
			return strings.Compare(a.Importer, b.Importer)
		}
		return strings.Compare(a.Resolved, b.Resolved)
	})
	return edges, rows.Err()
}

// Print renders the recorded import graph to the given writer-like
// Printf-compatible sink (kept trivial; the CLI passes fmt.Printf).
func (c *Cache) Print(printf func(format string, args ...interface{}) (int, error)) error {
	edges, err := c.Graph()
	if err != nil {
		return fmt.Errorf("reading dependency cache: %w", err)
	}
	if len(edges) == 0 {
		printf("(no recorded imports)\n")
		return nil
	}
	for _, e := range edges {
		printf("%s -> %s [%s]\n", e.Importer, e.Resolved, e.Hash[:12])
	}
	return nil
}
