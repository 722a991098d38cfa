package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS documents (
	collection TEXT NOT NULL,
	id TEXT NOT NULL,
	doc TEXT NOT NULL,
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL,
	PRIMARY KEY (collection, id)
);
CREATE INDEX IF NOT EXISTS idx_documents_collection ON documents(collection);
`

// SQLiteStore is the durable document store over a single SQLite file.
// Documents are stored as JSON; filtered queries use json_extract.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens (and migrates) the durable store at path.
func OpenSQLite(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", "file:"+path+"?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open durable store: %w", err)
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply durable schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Add stores a new document under a generated ID.
func (s *SQLiteStore) Add(ctx context.Context, collection string, doc Doc) (string, error) {
	id := uuid.NewString()
	stored := cloneDoc(doc)
	if _, ok := stored["createdAt"]; !ok {
		stored["createdAt"] = stamp()
	}
	stored["updatedAt"] = stamp()

	raw, err := json.Marshal(stored)
	if err != nil {
		return "", fmt.Errorf("marshal %s document: %w", collection, err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO documents (collection, id, doc, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
		collection, id, string(raw), stored["createdAt"], stored["updatedAt"])
	if err != nil {
		return "", fmt.Errorf("add %s document: %w", collection, err)
	}
	return id, nil
}

// Get returns the document or (nil, nil) when absent.
func (s *SQLiteStore) Get(ctx context.Context, collection, id string) (Doc, error) {
	var raw string
	err := s.db.QueryRowContext(ctx,
		`SELECT doc FROM documents WHERE collection = ? AND id = ?`, collection, id).Scan(&raw)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get %s/%s: %w", collection, id, err)
	}
	return unmarshalDoc(raw)
}

// Set writes the document under an explicit ID, replacing any prior value.
func (s *SQLiteStore) Set(ctx context.Context, collection, id string, doc Doc) error {
	stored := cloneDoc(doc)
	if _, ok := stored["createdAt"]; !ok {
		stored["createdAt"] = stamp()
	}
	stored["updatedAt"] = stamp()

	raw, err := json.Marshal(stored)
	if err != nil {
		return fmt.Errorf("marshal %s document: %w", collection, err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO documents (collection, id, doc, created_at, updated_at) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(collection, id) DO UPDATE SET doc = excluded.doc, updated_at = excluded.updated_at`,
		collection, id, string(raw), stored["createdAt"], stored["updatedAt"])
	if err != nil {
		return fmt.Errorf("set %s/%s: %w", collection, id, err)
	}
	return nil
}

// Update merges fields into an existing document inside a transaction.
func (s *SQLiteStore) Update(ctx context.Context, collection, id string, fields Doc) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("update %s/%s: %w", collection, id, err)
	}
	defer tx.Rollback()

	var raw string
	err = tx.QueryRowContext(ctx,
		`SELECT doc FROM documents WHERE collection = ? AND id = ?`, collection, id).Scan(&raw)
	if err == sql.ErrNoRows {
		return fmt.Errorf("update %s/%s: not found", collection, id)
	}
	if err != nil {
		return fmt.Errorf("update %s/%s: %w", collection, id, err)
	}

	doc, err := unmarshalDoc(raw)
	if err != nil {
		return err
	}
	for k, v := range fields {
		doc[k] = v
	}
	doc["updatedAt"] = stamp()

	merged, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshal %s document: %w", collection, err)
	}
	_, err = tx.ExecContext(ctx,
		`UPDATE documents SET doc = ?, updated_at = ? WHERE collection = ? AND id = ?`,
		string(merged), doc["updatedAt"], collection, id)
	if err != nil {
		return fmt.Errorf("update %s/%s: %w", collection, id, err)
	}
	return tx.Commit()
}

var filterFieldRe = regexp.MustCompile(`^[a-zA-Z0-9_.]+$`)

// Query returns documents matching every filter, applied via json_extract.
func (s *SQLiteStore) Query(ctx context.Context, collection string, filters ...Filter) ([]Doc, error) {
	var sb strings.Builder
	sb.WriteString(`SELECT id, doc FROM documents WHERE collection = ?`)
	args := []any{collection}

	for _, f := range filters {
		if !filterFieldRe.MatchString(f.Field) {
			return nil, fmt.Errorf("query %s: invalid filter field %q", collection, f.Field)
		}
		op, ok := sqlOp(f.Op)
		if !ok {
			return nil, fmt.Errorf("query %s: unsupported operator %q", collection, f.Op)
		}
		fmt.Fprintf(&sb, ` AND json_extract(doc, '$.%s') %s ?`, f.Field, op)
		args = append(args, f.Value)
	}

	rows, err := s.db.QueryContext(ctx, sb.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", collection, err)
	}
	defer rows.Close()

	var out []Doc
	for rows.Next() {
		var id, raw string
		if err := rows.Scan(&id, &raw); err != nil {
			return nil, fmt.Errorf("query %s: %w", collection, err)
		}
		doc, err := unmarshalDoc(raw)
		if err != nil {
			return nil, err
		}
		doc["id"] = id
		out = append(out, doc)
	}
	return out, rows.Err()
}

// Delete removes a document. Deleting a missing document is a no-op.
func (s *SQLiteStore) Delete(ctx context.Context, collection, id string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM documents WHERE collection = ? AND id = ?`, collection, id)
	if err != nil {
		return fmt.Errorf("delete %s/%s: %w", collection, id, err)
	}
	return nil
}

// Close closes the underlying database handle.
func (s *SQLiteStore) Close() error { return s.db.Close() }

func sqlOp(op Op) (string, bool) {
	switch op {
	case OpEq:
		return "=", true
	case OpLt:
		return "<", true
	case OpGt:
		return ">", true
	}
	return "", false
}

func cloneDoc(doc Doc) Doc {
	out := make(Doc, len(doc)+2)
	for k, v := range doc {
		out[k] = v
	}
	return out
}

func unmarshalDoc(raw string) (Doc, error) {
	var doc Doc
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return nil, fmt.Errorf("unmarshal document: %w", err)
	}
	return doc, nil
}
