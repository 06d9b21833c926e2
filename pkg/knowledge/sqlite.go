package knowledge

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nicholaskb/semant/pkg/graph"

	_ "modernc.org/sqlite"
)

const versionTable = "semant_versions"

// SQLiteLedger persists version deltas in a SQLite database so a restarted
// process can replay them and resume with the same graph.
type SQLiteLedger struct {
	db *sql.DB
}

// OpenDB opens (or creates) a SQLite database at path.
func OpenDB(path string) (*sql.DB, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite path is required")
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	return db, nil
}

// NewSQLiteLedger creates a SQLite-backed ledger and ensures schema.
func NewSQLiteLedger(db *sql.DB) (*SQLiteLedger, error) {
	if db == nil {
		return nil, fmt.Errorf("db is nil")
	}
	if err := ensureSchema(db); err != nil {
		return nil, err
	}
	return &SQLiteLedger{db: db}, nil
}

func ensureSchema(db *sql.DB) error {
	stmts := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id INTEGER PRIMARY KEY,
			note TEXT NOT NULL DEFAULT '',
			created_at INTEGER NOT NULL,
			added_json BLOB NOT NULL,
			removed_json BLOB NOT NULL
		);`, versionTable),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_created ON %s(created_at);`, versionTable, versionTable),
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// SaveVersion inserts one version delta in a transaction.
func (l *SQLiteLedger) SaveVersion(ctx context.Context, v graph.Version) error {
	added, err := json.Marshal(v.Added)
	if err != nil {
		return fmt.Errorf("encode added triples: %w", err)
	}
	removed, err := json.Marshal(v.Removed)
	if err != nil {
		return fmt.Errorf("encode removed triples: %w", err)
	}

	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx,
		fmt.Sprintf("INSERT INTO %s (id, note, created_at, added_json, removed_json) VALUES (?, ?, ?, ?, ?)", versionTable),
		int64(v.ID), v.Note, v.At.UnixMilli(), added, removed)
	if err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

// LoadVersions returns all persisted versions oldest first.
func (l *SQLiteLedger) LoadVersions(ctx context.Context) ([]graph.Version, error) {
	rows, err := l.db.QueryContext(ctx,
		fmt.Sprintf("SELECT id, note, created_at, added_json, removed_json FROM %s ORDER BY id ASC", versionTable))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []graph.Version
	for rows.Next() {
		var (
			id        int64
			note      string
			createdAt int64
			addedRaw  []byte
			removed   []byte
		)
		if err := rows.Scan(&id, &note, &createdAt, &addedRaw, &removed); err != nil {
			return nil, err
		}
		v := graph.Version{ID: uint64(id), Note: note}
		v.At = msToTime(createdAt)
		if err := json.Unmarshal(addedRaw, &v.Added); err != nil {
			return nil, fmt.Errorf("decode added triples for version %d: %w", id, err)
		}
		if err := json.Unmarshal(removed, &v.Removed); err != nil {
			return nil, fmt.Errorf("decode removed triples for version %d: %w", id, err)
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func msToTime(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}
