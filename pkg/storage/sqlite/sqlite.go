// Package sqlite keeps the index of records already written to the
// datasets, so a restarted collector does not append the same post twice.
package sqlite

import (
	"database/sql"
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

//go:embed queries/*.sql
var queryFS embed.FS

// SeenIndex is a SQLite implementation of the storage.Index interface.
type SeenIndex struct {
	Conn *sql.DB
}

// New opens the index at path, creating the file and schema if needed.
func New(path string) (*SeenIndex, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return nil, fmt.Errorf("failed to create index directory: %w", err)
	}

	db, err := sql.Open("sqlite3", fmt.Sprintf("file:%s?_journal_mode=WAL", path))
	if err != nil {
		return nil, fmt.Errorf("failed to open index: %w", err)
	}

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to connect to index: %w", err)
	}

	idx := &SeenIndex{Conn: db}
	if err := idx.createSchema(); err != nil {
		_ = idx.Close()
		return nil, fmt.Errorf("failed to create index schema: %w", err)
	}

	return idx, nil
}

func getQuery(name string) (string, error) {
	b, err := queryFS.ReadFile("queries/" + name)
	if err != nil {
		return "", fmt.Errorf("failed to read embedded query %s: %w", name, err)
	}
	return string(b), nil
}

func (s *SeenIndex) createSchema() error {
	query, err := getQuery("schema.sql")
	if err != nil {
		return err
	}
	_, err = s.Conn.Exec(query)
	return err
}

// Contains reports whether key has been written to the schema's dataset.
func (s *SeenIndex) Contains(schema, key string) (bool, error) {
	query, err := getQuery("seen_exists.sql")
	if err != nil {
		return false, err
	}
	var exists bool
	if err := s.Conn.QueryRow(query, schema, key).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to look up %s record %s: %w", schema, key, err)
	}
	return exists, nil
}

// Add marks keys as written in one transaction.
func (s *SeenIndex) Add(schema string, keys []string) error {
	if len(keys) == 0 {
		return nil
	}
	query, err := getQuery("add_seen.sql")
	if err != nil {
		return err
	}

	tx, err := s.Conn.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.Prepare(query)
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	now := time.Now().UTC()
	for _, key := range keys {
		if _, err := stmt.Exec(schema, key, now); err != nil {
			return fmt.Errorf("failed to insert %s record %s: %w", schema, key, err)
		}
	}

	return tx.Commit()
}

// Count returns how many keys are recorded for schema.
func (s *SeenIndex) Count(schema string) (int, error) {
	query, err := getQuery("count_seen.sql")
	if err != nil {
		return 0, err
	}
	var n int
	if err := s.Conn.QueryRow(query, schema).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count %s records: %w", schema, err)
	}
	return n, nil
}

// Close closes the database connection.
func (s *SeenIndex) Close() error {
	return s.Conn.Close()
}
