package casstore

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"

	"github.com/curtcox/cideldill/internal/logging"
)

var log = logging.New("casstore")

const schemaSQL = `
CREATE TABLE IF NOT EXISTS blobs (
	cid  TEXT PRIMARY KEY,
	bytes BLOB NOT NULL
);
CREATE TABLE IF NOT EXISTS calls (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	function_name TEXT NOT NULL,
	timestamp    REAL NOT NULL,
	process_key  TEXT NOT NULL,
	record_json  TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_calls_function_name ON calls(function_name);
CREATE INDEX IF NOT EXISTS idx_calls_timestamp ON calls(timestamp);
CREATE INDEX IF NOT EXISTS idx_calls_process_key ON calls(process_key);
`

// OpenDB opens (and, if needed, creates) the sqlite3 database backing
// both the CID store and the call log store: an embedded relational
// store with two tables, a blob table and a calls table. path may be a
// filesystem path or ":memory:".
func OpenDB(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("casstore: open %s: %w", path, err)
	}
	// sqlite3 doesn't support concurrent writers; serialize through one
	// connection the way an embedded single-file store expects to be used.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("casstore: init schema: %w", err)
	}
	return db, nil
}

// SQLiteStore implements Store over a shared *sql.DB.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore wraps an already-opened DB (typically from OpenDB) as a
// CID Store.
func NewSQLiteStore(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

func (s *SQLiteStore) PutMany(blobs map[string][]byte) error {
	if len(blobs) == 0 {
		return nil
	}
	if err := verifyBatch(blobs); err != nil {
		return err
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("casstore: begin tx: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`INSERT OR IGNORE INTO blobs (cid, bytes) VALUES (?, ?)`)
	if err != nil {
		return fmt.Errorf("casstore: prepare insert: %w", err)
	}
	defer stmt.Close()

	for cid, data := range blobs {
		if _, err := stmt.Exec(cid, data); err != nil {
			return fmt.Errorf("casstore: insert %s: %w", cid, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("casstore: commit: %w", err)
	}
	log.Debug("put_many", "count", len(blobs))
	return nil
}

func (s *SQLiteStore) GetMany(cids []string) (map[string][]byte, error) {
	result := make(map[string][]byte, len(cids))
	if len(cids) == 0 {
		return result, nil
	}

	placeholders := make([]any, len(cids))
	query := "SELECT cid, bytes FROM blobs WHERE cid IN ("
	for i, cid := range cids {
		if i > 0 {
			query += ","
		}
		query += "?"
		placeholders[i] = cid
	}
	query += ")"

	rows, err := s.db.Query(query, placeholders...)
	if err != nil {
		return nil, fmt.Errorf("casstore: get_many: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var cid string
		var data []byte
		if err := rows.Scan(&cid, &data); err != nil {
			return nil, fmt.Errorf("casstore: scan: %w", err)
		}
		result[cid] = data
	}
	return result, rows.Err()
}

func (s *SQLiteStore) Missing(cids []string) ([]string, error) {
	present, err := s.GetMany(cids)
	if err != nil {
		return nil, err
	}
	var missing []string
	for _, cid := range cids {
		if _, ok := present[cid]; !ok {
			missing = append(missing, cid)
		}
	}
	return missing, nil
}

func (s *SQLiteStore) Stats() (Stats, error) {
	var stats Stats
	row := s.db.QueryRow(`SELECT COUNT(*), COALESCE(SUM(LENGTH(bytes)), 0) FROM blobs`)
	if err := row.Scan(&stats.Count, &stats.TotalSizeBytes); err != nil {
		return Stats{}, fmt.Errorf("casstore: stats: %w", err)
	}
	return stats, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
