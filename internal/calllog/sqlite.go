package calllog

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/curtcox/cideldill/internal/logging"
)

var log = logging.New("calllog")

// SQLiteStore implements Store over the "calls" table of the shared DB
// casstore.OpenDB creates.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore wraps an already-opened DB (typically from
// casstore.OpenDB) as a Call Log Store.
func NewSQLiteStore(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

func (s *SQLiteStore) Record(record CallRecord) error {
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("calllog: marshal record: %w", err)
	}
	_, err = s.db.Exec(
		`INSERT INTO calls (function_name, timestamp, process_key, record_json) VALUES (?, ?, ?, ?)`,
		record.MethodName, record.StartedAt, record.ProcessKey, string(data),
	)
	if err != nil {
		return fmt.Errorf("calllog: insert: %w", err)
	}
	log.Debug("recorded call", "method", record.MethodName, "call_id", record.CallID)
	return nil
}

func (s *SQLiteStore) scanAll(query string, args ...any) ([]CallRecord, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("calllog: query: %w", err)
	}
	defer rows.Close()

	var records []CallRecord
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("calllog: scan: %w", err)
		}
		var record CallRecord
		if err := json.Unmarshal([]byte(raw), &record); err != nil {
			return nil, fmt.Errorf("calllog: unmarshal record: %w", err)
		}
		records = append(records, record)
	}
	return records, rows.Err()
}

func (s *SQLiteStore) List(filters Filters) ([]CallRecord, error) {
	all, err := s.scanAll(`SELECT record_json FROM calls ORDER BY id ASC`)
	if err != nil {
		return nil, err
	}
	var out []CallRecord
	for _, r := range all {
		if matchesFilters(r, filters) {
			out = append(out, r)
		}
	}
	if filters.Limit > 0 && len(out) > filters.Limit {
		out = out[:filters.Limit]
	}
	return out, nil
}

func (s *SQLiteStore) Get(callID string) (*CallRecord, error) {
	all, err := s.scanAll(`SELECT record_json FROM calls ORDER BY id ASC`)
	if err != nil {
		return nil, err
	}
	for i := range all {
		if all[i].CallID == callID {
			return &all[i], nil
		}
	}
	return nil, nil
}

func (s *SQLiteStore) FilterByFunction(name string) ([]CallRecord, error) {
	return s.scanAll(
		`SELECT record_json FROM calls WHERE function_name = ? ORDER BY id ASC`, name,
	)
}

func (s *SQLiteStore) SearchByArgs(partial map[string]any) ([]CallRecord, error) {
	all, err := s.scanAll(`SELECT record_json FROM calls ORDER BY id ASC`)
	if err != nil {
		return nil, err
	}
	var out []CallRecord
	for _, r := range all {
		if submapMatch(r.Args, partial) {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *SQLiteStore) ExportAll() ([]CallRecord, error) {
	return s.scanAll(`SELECT record_json FROM calls ORDER BY id ASC`)
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
