package resultstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"
)

// UnavailableError marks a failure to reach the backing store. Callers
// catch it and degrade to a structured failure result instead of crashing
// the stage.
type UnavailableError struct {
	Op  string
	Err error
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("result store unavailable during %s: %v", e.Op, e.Err)
}

func (e *UnavailableError) Unwrap() error { return e.Err }

// Record is one row of the keyed store: a document-scoped partition key,
// a sort key ordering entries within the document, and a flat attribute
// map. Last write for a given full key wins.
type Record struct {
	DocumentID string            `db:"document_id"`
	SortKey    string            `db:"sort_key"`
	Attributes map[string]string `db:"-"`
	UpdatedAt  time.Time         `db:"-"`
}

// Store is the sole source of truth shared across stage invocations.
// All writes are keyed upserts, so concurrent re-invocation of the same
// stage for the same document is safe.
type Store struct {
	db *sqlx.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS records (
	document_id TEXT NOT NULL,
	sort_key    TEXT NOT NULL,
	attributes  TEXT NOT NULL DEFAULT '{}',
	updated_at  TEXT NOT NULL,
	PRIMARY KEY (document_id, sort_key)
);
`

func NewStore(dbPath string) (*Store, error) {
	db, err := sqlx.Open("sqlite", dbPath+"?_pragma=journal_mode(wal)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Put upserts one record. Re-insertion of an existing full key overwrites,
// which is what makes repeated stage runs idempotent.
func (s *Store) Put(ctx context.Context, documentID, sortKey string, attrs map[string]string) error {
	if strings.TrimSpace(documentID) == "" || strings.TrimSpace(sortKey) == "" {
		return fmt.Errorf("document_id and sort_key are required")
	}
	blob, err := json.Marshal(attrs)
	if err != nil {
		return fmt.Errorf("marshal attributes: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO records (document_id, sort_key, attributes, updated_at) VALUES (?, ?, ?, ?)`,
		documentID, sortKey, string(blob), time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return &UnavailableError{Op: "put", Err: err}
	}
	return nil
}

// QueryLatest returns the record with the greatest sort key under the
// given prefix, or ok=false when none exists. Absence is not an error.
func (s *Store) QueryLatest(ctx context.Context, documentID, sortPrefix string) (Record, bool, error) {
	row := s.db.QueryRowxContext(ctx,
		`SELECT document_id, sort_key, attributes, updated_at FROM records
		 WHERE document_id = ? AND sort_key LIKE ? || '%'
		 ORDER BY sort_key DESC LIMIT 1`,
		documentID, sortPrefix)
	rec, err := scanRecord(row)
	if err != nil {
		if isNoRows(err) {
			return Record{}, false, nil
		}
		return Record{}, false, &UnavailableError{Op: "query_latest", Err: err}
	}
	return rec, true, nil
}

// QueryAll returns every record sharing the partition key under the given
// prefix. Order is not part of the contract; callers re-sort as needed.
func (s *Store) QueryAll(ctx context.Context, documentID, sortPrefix string) ([]Record, error) {
	rows, err := s.db.QueryxContext(ctx,
		`SELECT document_id, sort_key, attributes, updated_at FROM records
		 WHERE document_id = ? AND sort_key LIKE ? || '%'`,
		documentID, sortPrefix)
	if err != nil {
		return nil, &UnavailableError{Op: "query_all", Err: err}
	}
	defer rows.Close()

	out := []Record{}
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, &UnavailableError{Op: "query_all", Err: err}
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, &UnavailableError{Op: "query_all", Err: err}
	}
	return out, nil
}

// reviewableAttributes are the only fields external reviewers may mutate.
// Everything else belongs to the producing stage.
var reviewableAttributes = map[string]struct{}{
	"add_to_report": {},
	"keywords":      {},
}

// UpdateReview applies a narrow attribute update to an existing record.
// It never replaces the full record and rejects non-reviewable fields.
func (s *Store) UpdateReview(ctx context.Context, documentID, sortKey string, updates map[string]string) error {
	if len(updates) == 0 {
		return fmt.Errorf("no updates provided")
	}
	for k := range updates {
		if _, ok := reviewableAttributes[k]; !ok {
			return fmt.Errorf("attribute %q is not reviewer-mutable", k)
		}
	}

	row := s.db.QueryRowxContext(ctx,
		`SELECT document_id, sort_key, attributes, updated_at FROM records WHERE document_id = ? AND sort_key = ?`,
		documentID, sortKey)
	rec, err := scanRecord(row)
	if err != nil {
		if isNoRows(err) {
			return fmt.Errorf("record %s/%s not found", documentID, sortKey)
		}
		return &UnavailableError{Op: "update_review", Err: err}
	}
	for k, v := range updates {
		rec.Attributes[k] = v
	}
	return s.Put(ctx, documentID, sortKey, rec.Attributes)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (Record, error) {
	var rec Record
	var attrsJSON, updatedAt string
	if err := row.Scan(&rec.DocumentID, &rec.SortKey, &attrsJSON, &updatedAt); err != nil {
		return Record{}, err
	}
	rec.Attributes = map[string]string{}
	_ = json.Unmarshal([]byte(attrsJSON), &rec.Attributes)
	rec.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAt)
	return rec, nil
}

func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}
