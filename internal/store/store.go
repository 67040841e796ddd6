package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	sqlite_vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
	_ "github.com/mattn/go-sqlite3"
)

func init() {
	sqlite_vec.Auto()
}

var (
	// ErrNotFound is returned when an entry does not exist.
	ErrNotFound = errors.New("not found")
	// ErrDimensionMismatch is returned when a vector's length differs from
	// the collection's dimension.
	ErrDimensionMismatch = errors.New("vector dimension mismatch")
)

// Store is a SQLite database holding named vector collections.
type Store struct {
	db *sql.DB
}

// Open creates or opens a SQLite database at the given path and initializes the schema.
func Open(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	// vec0 tables and PRAGMAs are per connection state we rely on; a single
	// connection also matches the single-writer usage.
	db.SetMaxOpenConns(1)
	if err := Init(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// GetOrCreateCollection returns the named collection, creating it if needed.
func (s *Store) GetOrCreateCollection(ctx context.Context, name string) (*Collection, error) {
	if name == "" {
		return nil, errors.New("collection name is required")
	}
	if _, err := s.db.ExecContext(ctx, "INSERT OR IGNORE INTO collections (name) VALUES (?)", name); err != nil {
		return nil, fmt.Errorf("create collection %s: %w", name, err)
	}
	var id int64
	if err := s.db.QueryRowContext(ctx, "SELECT id FROM collections WHERE name = ?", name).Scan(&id); err != nil {
		return nil, fmt.Errorf("load collection %s: %w", name, err)
	}
	return &Collection{db: s.db, id: id, name: name}, nil
}

// Collection is a named set of entries sharing one vector dimension.
type Collection struct {
	db   *sql.DB
	id   int64
	name string
}

// Name returns the collection name.
func (c *Collection) Name() string { return c.name }

// Dimension returns the vector dimension, or 0 before the first insert.
func (c *Collection) Dimension(ctx context.Context) (int, error) {
	var dim int
	err := c.db.QueryRowContext(ctx, "SELECT dimension FROM collections WHERE id = ?", c.id).Scan(&dim)
	return dim, err
}

// Insert stores a batch of entries. An entry whose ID already exists replaces
// the stored document, metadata and embedding.
func (c *Collection) Insert(ctx context.Context, entries []Entry) error {
	if len(entries) == 0 {
		return nil
	}
	dim := len(entries[0].Embedding)
	if dim == 0 {
		return fmt.Errorf("entry %s: empty embedding", entries[0].ID)
	}
	for _, e := range entries {
		if len(e.Embedding) != dim {
			return fmt.Errorf("entry %s: %w (%d != %d)", e.ID, ErrDimensionMismatch, len(e.Embedding), dim)
		}
	}

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := c.ensureDimension(ctx, tx, dim); err != nil {
		return err
	}

	table := vecTable(c.id)
	for _, e := range entries {
		meta, err := json.Marshal(e.Metadata)
		if err != nil {
			return fmt.Errorf("marshal metadata for %s: %w", e.ID, err)
		}
		if e.Metadata == nil {
			meta = []byte("{}")
		}

		var rowID int64
		err = tx.QueryRowContext(ctx,
			"SELECT id FROM entries WHERE collection_id = ? AND entry_id = ?", c.id, e.ID,
		).Scan(&rowID)
		switch {
		case err == nil:
			if _, err := tx.ExecContext(ctx, "DELETE FROM "+table+" WHERE entry_rowid = ?", rowID); err != nil {
				return fmt.Errorf("delete embedding for %s: %w", e.ID, err)
			}
			if _, err := tx.ExecContext(ctx,
				"UPDATE entries SET document = ?, metadata = ? WHERE id = ?", e.Document, string(meta), rowID,
			); err != nil {
				return fmt.Errorf("update entry %s: %w", e.ID, err)
			}
		case errors.Is(err, sql.ErrNoRows):
			res, err := tx.ExecContext(ctx,
				"INSERT INTO entries (collection_id, entry_id, document, metadata) VALUES (?, ?, ?, ?)",
				c.id, e.ID, e.Document, string(meta),
			)
			if err != nil {
				return fmt.Errorf("insert entry %s: %w", e.ID, err)
			}
			if rowID, err = res.LastInsertId(); err != nil {
				return err
			}
		default:
			return fmt.Errorf("look up entry %s: %w", e.ID, err)
		}

		blob, err := sqlite_vec.SerializeFloat32(e.Embedding)
		if err != nil {
			return fmt.Errorf("serialize embedding for %s: %w", e.ID, err)
		}
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO "+table+" (entry_rowid, embedding) VALUES (?, ?)", rowID, blob,
		); err != nil {
			return fmt.Errorf("insert embedding for %s: %w", e.ID, err)
		}
	}
	return tx.Commit()
}

// ensureDimension fixes the collection's dimension on first insert and
// creates its vector table.
func (c *Collection) ensureDimension(ctx context.Context, tx *sql.Tx, dim int) error {
	var current int
	if err := tx.QueryRowContext(ctx, "SELECT dimension FROM collections WHERE id = ?", c.id).Scan(&current); err != nil {
		return fmt.Errorf("load dimension: %w", err)
	}
	if current != 0 && current != dim {
		return fmt.Errorf("collection %s: %w (%d != %d)", c.name, ErrDimensionMismatch, dim, current)
	}
	if current == 0 {
		if _, err := tx.ExecContext(ctx, "UPDATE collections SET dimension = ? WHERE id = ?", dim, c.id); err != nil {
			return fmt.Errorf("set dimension: %w", err)
		}
	}
	if _, err := tx.ExecContext(ctx, vecTableDDL(c.id, dim)); err != nil {
		return fmt.Errorf("create vector table: %w", err)
	}
	return nil
}

// Query returns up to k entries nearest to vec, nearest first. An empty
// collection yields no matches and no error.
func (c *Collection) Query(ctx context.Context, vec []float32, k int) ([]Match, error) {
	if k <= 0 {
		return nil, nil
	}
	dim, err := c.Dimension(ctx)
	if err != nil {
		return nil, fmt.Errorf("load dimension: %w", err)
	}
	if dim == 0 {
		return nil, nil
	}
	if len(vec) != dim {
		return nil, fmt.Errorf("query: %w (%d != %d)", ErrDimensionMismatch, len(vec), dim)
	}

	blob, err := sqlite_vec.SerializeFloat32(vec)
	if err != nil {
		return nil, fmt.Errorf("serialize query embedding: %w", err)
	}
	rows, err := c.db.QueryContext(ctx, `
		WITH knn AS (
			SELECT entry_rowid, distance
			FROM `+vecTable(c.id)+`
			WHERE embedding MATCH ? AND k = ?
		)
		SELECT e.entry_id, e.document, e.metadata, knn.distance
		FROM knn
		JOIN entries e ON e.id = knn.entry_rowid
		ORDER BY knn.distance
	`, blob, k)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var matches []Match
	for rows.Next() {
		var (
			m    Match
			meta string
		)
		if err := rows.Scan(&m.ID, &m.Document, &meta, &m.Distance); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(meta), &m.Metadata); err != nil {
			return nil, fmt.Errorf("decode metadata for %s: %w", m.ID, err)
		}
		matches = append(matches, m)
	}
	return matches, rows.Err()
}

// Get returns the entry with the given ID, without its embedding.
func (c *Collection) Get(ctx context.Context, id string) (Match, error) {
	m := Match{ID: id}
	var meta string
	err := c.db.QueryRowContext(ctx,
		"SELECT document, metadata FROM entries WHERE collection_id = ? AND entry_id = ?", c.id, id,
	).Scan(&m.Document, &meta)
	if errors.Is(err, sql.ErrNoRows) {
		return Match{}, fmt.Errorf("entry %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return Match{}, err
	}
	if err := json.Unmarshal([]byte(meta), &m.Metadata); err != nil {
		return Match{}, fmt.Errorf("decode metadata for %s: %w", id, err)
	}
	return m, nil
}

// Count returns the number of entries in the collection.
func (c *Collection) Count(ctx context.Context) (int, error) {
	var n int
	err := c.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM entries WHERE collection_id = ?", c.id).Scan(&n)
	return n, err
}

// Reset removes every entry and forgets the collection's dimension.
func (c *Collection) Reset(ctx context.Context) error {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DROP TABLE IF EXISTS "+vecTable(c.id)); err != nil {
		return fmt.Errorf("drop vector table: %w", err)
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM entries WHERE collection_id = ?", c.id); err != nil {
		return fmt.Errorf("delete entries: %w", err)
	}
	if _, err := tx.ExecContext(ctx, "UPDATE collections SET dimension = 0 WHERE id = ?", c.id); err != nil {
		return fmt.Errorf("reset dimension: %w", err)
	}
	return tx.Commit()
}

// GetMeta returns a collection-scoped metadata value, or "" if not set.
func (c *Collection) GetMeta(ctx context.Context, key string) (string, error) {
	var value string
	err := c.db.QueryRowContext(ctx, "SELECT value FROM meta WHERE key = ?", c.metaKey(key)).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return value, err
}

// SetMeta sets a collection-scoped metadata value.
func (c *Collection) SetMeta(ctx context.Context, key, value string) error {
	_, err := c.db.ExecContext(ctx,
		"INSERT INTO meta (key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value",
		c.metaKey(key), value,
	)
	return err
}

func (c *Collection) metaKey(key string) string {
	return c.name + ":" + key
}
