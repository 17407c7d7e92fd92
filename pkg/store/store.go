// Package store persists what users teach autodoctor: values confirmed as
// legitimate for a (domain, integration) pair and suppressed findings.
// It is a single SQLite file.
package store

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when a learned value or suppression to delete or
// read does not exist.
var ErrNotFound = errors.New("store: not found")

// Suppression silences one finding by its suppression key.
type Suppression struct {
	Key       string    `json:"key"`
	Reason    string    `json:"reason,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// LearnedValue is a value confirmed for a domain, optionally narrowed to
// one integration.
type LearnedValue struct {
	Domain      string `json:"domain"`
	Integration string `json:"integration,omitempty"`
	Value       string `json:"value"`
}

// Store is safe for concurrent use.
type Store struct {
	db   *sql.DB
	path string
	mu   sync.RWMutex
	now  func() time.Time
}

// Open opens or creates the store at path, creating parent directories.
func Open(path string) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("store path required")
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create store directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	// One connection keeps :memory: databases and write ordering simple.
	db.SetMaxOpenConns(1)

	s := &Store{db: db, path: path, now: time.Now}
	if err := s.initialize(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) initialize() error {
	schema := []string{
		`CREATE TABLE IF NOT EXISTS learned_values (
			domain TEXT NOT NULL,
			integration TEXT NOT NULL DEFAULT '',
			value TEXT NOT NULL,
			created_at INTEGER NOT NULL,
			PRIMARY KEY (domain, integration, value)
		)`,
		`CREATE TABLE IF NOT EXISTS suppressions (
			key TEXT PRIMARY KEY,
			reason TEXT NOT NULL DEFAULT '',
			created_at INTEGER NOT NULL
		)`,
	}
	for _, stmt := range schema {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("initialize store schema: %w", err)
		}
	}
	return nil
}

// Path returns the database file the store was opened on.
func (s *Store) Path() string { return s.path }

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// ---------------------------------------------------------------------------
// Learned values
// ---------------------------------------------------------------------------

// Learn records value as legitimate. Learning an existing value is a no-op.
func (s *Store) Learn(v LearnedValue) error {
	if v.Domain == "" || v.Value == "" {
		return fmt.Errorf("learn: domain and value are required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.Exec(
		`INSERT OR IGNORE INTO learned_values (domain, integration, value, created_at) VALUES (?, ?, ?, ?)`,
		v.Domain, v.Integration, v.Value, s.now().Unix())
	if err != nil {
		return fmt.Errorf("learn %s=%s: %w", v.Domain, v.Value, err)
	}
	return nil
}

// Forget removes a learned value.
func (s *Store) Forget(v LearnedValue) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	res, err := s.db.Exec(
		`DELETE FROM learned_values WHERE domain = ? AND integration = ? AND value = ?`,
		v.Domain, v.Integration, v.Value)
	if err != nil {
		return fmt.Errorf("forget %s=%s: %w", v.Domain, v.Value, err)
	}
	return affected(res)
}

// LearnedValues returns the values learned for domain, both domain-wide and
// for integration. It serves the knowledge base's correction layer.
func (s *Store) LearnedValues(domain, integration string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rows, err := s.db.Query(
		`SELECT DISTINCT value FROM learned_values
		 WHERE domain = ? AND (integration = '' OR integration = ?)
		 ORDER BY value`, domain, integration)
	if err != nil {
		return nil, fmt.Errorf("query learned values: %w", err)
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("scan learned value: %w", err)
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// Learned lists every learned value.
func (s *Store) Learned() ([]LearnedValue, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rows, err := s.db.Query(`SELECT domain, integration, value FROM learned_values ORDER BY domain, integration, value`)
	if err != nil {
		return nil, fmt.Errorf("query learned values: %w", err)
	}
	defer rows.Close()
	var out []LearnedValue
	for rows.Next() {
		var v LearnedValue
		if err := rows.Scan(&v.Domain, &v.Integration, &v.Value); err != nil {
			return nil, fmt.Errorf("scan learned value: %w", err)
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// ---------------------------------------------------------------------------
// Suppressions
// ---------------------------------------------------------------------------

// Suppress silences key. Suppressing again updates the reason.
func (s *Store) Suppress(key, reason string) error {
	if key == "" {
		return fmt.Errorf("suppress: key is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.Exec(
		`INSERT INTO suppressions (key, reason, created_at) VALUES (?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET reason = excluded.reason`,
		key, reason, s.now().Unix())
	if err != nil {
		return fmt.Errorf("suppress %s: %w", key, err)
	}
	return nil
}

// Unsuppress lifts a suppression.
func (s *Store) Unsuppress(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	res, err := s.db.Exec(`DELETE FROM suppressions WHERE key = ?`, key)
	if err != nil {
		return fmt.Errorf("unsuppress %s: %w", key, err)
	}
	return affected(res)
}

// Suppression returns one suppression.
func (s *Store) Suppression(key string) (Suppression, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var sup Suppression
	var created int64
	err := s.db.QueryRow(`SELECT key, reason, created_at FROM suppressions WHERE key = ?`, key).
		Scan(&sup.Key, &sup.Reason, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return Suppression{}, ErrNotFound
	}
	if err != nil {
		return Suppression{}, fmt.Errorf("read suppression %s: %w", key, err)
	}
	sup.CreatedAt = time.Unix(created, 0).UTC()
	return sup, nil
}

// Suppressions lists every suppression, oldest first.
func (s *Store) Suppressions() ([]Suppression, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rows, err := s.db.Query(`SELECT key, reason, created_at FROM suppressions ORDER BY created_at, key`)
	if err != nil {
		return nil, fmt.Errorf("query suppressions: %w", err)
	}
	defer rows.Close()
	var out []Suppression
	for rows.Next() {
		var sup Suppression
		var created int64
		if err := rows.Scan(&sup.Key, &sup.Reason, &created); err != nil {
			return nil, fmt.Errorf("scan suppression: %w", err)
		}
		sup.CreatedAt = time.Unix(created, 0).UTC()
		out = append(out, sup)
	}
	return out, rows.Err()
}

// SuppressedKeys returns the suppressed keys as a set.
func (s *Store) SuppressedKeys() (map[string]bool, error) {
	all, err := s.Suppressions()
	if err != nil {
		return nil, err
	}
	out := make(map[string]bool, len(all))
	for _, sup := range all {
		out[sup.Key] = true
	}
	return out, nil
}

func affected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
