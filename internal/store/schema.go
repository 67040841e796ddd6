package store

import (
	"database/sql"
	"fmt"
)

const ddl = `
PRAGMA journal_mode=WAL;
PRAGMA foreign_keys=ON;

CREATE TABLE IF NOT EXISTS collections (
    id         INTEGER PRIMARY KEY AUTOINCREMENT,
    name       TEXT NOT NULL UNIQUE,
    dimension  INTEGER NOT NULL DEFAULT 0,
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS entries (
    id            INTEGER PRIMARY KEY AUTOINCREMENT,
    collection_id INTEGER NOT NULL REFERENCES collections(id) ON DELETE CASCADE,
    entry_id      TEXT NOT NULL,
    document      TEXT NOT NULL,
    metadata      TEXT NOT NULL DEFAULT '{}',
    UNIQUE (collection_id, entry_id)
);

CREATE TABLE IF NOT EXISTS meta (
    key   TEXT PRIMARY KEY,
    value TEXT NOT NULL
);
`

// Init creates the schema tables if they don't exist.
func Init(db *sql.DB) error {
	_, err := db.Exec(ddl)
	return err
}

// vecTable names the vec0 table holding a collection's embeddings. The name
// is derived from the integer collection ID, never from user input.
func vecTable(collectionID int64) string {
	return fmt.Sprintf("vec_collection_%d", collectionID)
}

func vecTableDDL(collectionID int64, dimension int) string {
	return fmt.Sprintf(
		"CREATE VIRTUAL TABLE IF NOT EXISTS %s USING vec0(entry_rowid INTEGER PRIMARY KEY, embedding float[%d] distance_metric=cosine)",
		vecTable(collectionID), dimension,
	)
}
