package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"ewmsearch/internal/offline"
)

// CacheStorage keeps offline cache namespaces in SQLite so installed assets
// survive restarts.
type CacheStorage struct {
	db *sql.DB
}

// NewCacheStorage returns an offline.CacheStorage over an initialized database.
func NewCacheStorage(db *sql.DB) *CacheStorage {
	return &CacheStorage{db: db}
}

var _ offline.CacheStorage = (*CacheStorage)(nil)

func (s *CacheStorage) Open(ctx context.Context, name string) (offline.Cache, error) {
	if _, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO cache_namespaces (name) VALUES (?)`, name); err != nil {
		return nil, fmt.Errorf("failed to open cache %s: %w", name, err)
	}
	return &sqlCache{db: s.db, namespace: name}, nil
}

func (s *CacheStorage) Has(ctx context.Context, name string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM cache_namespaces WHERE name = ?`, name).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("failed to query cache %s: %w", name, err)
	}
	return n > 0, nil
}

func (s *CacheStorage) Keys(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT name FROM cache_namespaces ORDER BY rowid`)
	if err != nil {
		return nil, fmt.Errorf("failed to list caches: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("failed to scan cache name: %w", err)
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

func (s *CacheStorage) Delete(ctx context.Context, name string) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM cache_entries WHERE namespace = ?`, name); err != nil {
		tx.Rollback()
		return false, fmt.Errorf("failed to delete entries of %s: %w", name, err)
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM cache_namespaces WHERE name = ?`, name)
	if err != nil {
		tx.Rollback()
		return false, fmt.Errorf("failed to delete cache %s: %w", name, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		tx.Rollback()
		return false, err
	}
	return n > 0, tx.Commit()
}

// EntryCount returns the number of stored responses per namespace.
func (s *CacheStorage) EntryCount(ctx context.Context, name string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM cache_entries WHERE namespace = ?`, name).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count entries in %s: %w", name, err)
	}
	return n, nil
}

type sqlCache struct {
	db        *sql.DB
	namespace string
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (c *sqlCache) Match(ctx context.Context, url string) (*offline.Response, error) {
	var (
		r      offline.Response
		header string
		stored string
	)
	err := c.db.QueryRowContext(ctx,
		`SELECT url, status, header, body, digest, stored_at FROM cache_entries
		 WHERE namespace = ? AND url = ?`, c.namespace, url).
		Scan(&r.URL, &r.Status, &header, &r.Body, &r.Digest, &stored)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, offline.ErrCacheMiss
	}
	if err != nil {
		return nil, fmt.Errorf("failed to match %s: %w", url, err)
	}
	r.Header = http.Header{}
	if err := json.Unmarshal([]byte(header), &r.Header); err != nil {
		return nil, fmt.Errorf("corrupt header for %s: %w", url, err)
	}
	if t, err := time.Parse(time.RFC3339Nano, stored); err == nil {
		r.StoredAt = t
	}
	return &r, nil
}

func (c *sqlCache) Put(ctx context.Context, r *offline.Response) error {
	return c.put(ctx, c.db, r)
}

func (c *sqlCache) PutAll(ctx context.Context, rs []*offline.Response) error {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	for _, r := range rs {
		if err := c.put(ctx, tx, r); err != nil {
			tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

func (c *sqlCache) put(ctx context.Context, ex execer, r *offline.Response) error {
	header, err := json.Marshal(r.Header)
	if err != nil {
		return fmt.Errorf("failed to encode header for %s: %w", r.URL, err)
	}
	body := r.Body
	if body == nil {
		body = []byte{}
	}
	_, err = ex.ExecContext(ctx,
		`INSERT OR REPLACE INTO cache_entries (namespace, url, status, header, body, digest, stored_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		c.namespace, r.URL, r.Status, string(header), body, r.Digest,
		r.StoredAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("failed to store %s: %w", r.URL, err)
	}
	return nil
}

func (c *sqlCache) Keys(ctx context.Context) ([]string, error) {
	rows, err := c.db.QueryContext(ctx,
		`SELECT url FROM cache_entries WHERE namespace = ? ORDER BY url`, c.namespace)
	if err != nil {
		return nil, fmt.Errorf("failed to list entries: %w", err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, fmt.Errorf("failed to scan entry url: %w", err)
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}
