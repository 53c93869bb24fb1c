package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/klauspost/compress/zstd"

	"ewmsearch/internal/table"
)

// ErrNotFound is returned by KV.Get for a missing key.
var ErrNotFound = errors.New("key not found")

// KV is a string-keyed blob store. Values are zstd-compressed at rest.
type KV struct {
	db  *sql.DB
	enc *zstd.Encoder
	dec *zstd.Decoder
}

// NewKV creates a KV over an initialized database.
func NewKV(db *sql.DB) (*KV, error) {
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("failed to create zstd encoder: %w", err)
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		enc.Close()
		return nil, fmt.Errorf("failed to create zstd decoder: %w", err)
	}
	return &KV{db: db, enc: enc, dec: dec}, nil
}

// Close releases the codec resources. The database is left open.
func (s *KV) Close() {
	s.enc.Close()
	s.dec.Close()
}

// Put stores value under key, replacing any previous value.
func (s *KV) Put(ctx context.Context, key string, value []byte) error {
	packed := s.enc.EncodeAll(value, nil)
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO kv (key, value, updated_at) VALUES (?, ?, CURRENT_TIMESTAMP)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = CURRENT_TIMESTAMP`,
		key, packed)
	if err != nil {
		return fmt.Errorf("failed to store %s: %w", key, err)
	}
	return nil
}

// Get returns the value stored under key or ErrNotFound.
func (s *KV) Get(ctx context.Context, key string) ([]byte, error) {
	var packed []byte
	err := s.db.QueryRowContext(ctx, `SELECT value FROM kv WHERE key = ?`, key).Scan(&packed)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", key, err)
	}
	value, err := s.dec.DecodeAll(packed, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to decompress %s: %w", key, err)
	}
	return value, nil
}

// Delete removes key. A missing key is not an error.
func (s *KV) Delete(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM kv WHERE key = ?`, key); err != nil {
		return fmt.Errorf("failed to delete %s: %w", key, err)
	}
	return nil
}

// DefaultSnapshotKey is the key the dataset snapshot is stored under.
const DefaultSnapshotKey = "ewmSearchData"

// SnapshotStore persists the dataset snapshot in a KV under a fixed key.
type SnapshotStore struct {
	kv  *KV
	key string
}

// NewSnapshotStore returns a table.Persister backed by kv. An empty key
// means DefaultSnapshotKey.
func NewSnapshotStore(kv *KV, key string) *SnapshotStore {
	if key == "" {
		key = DefaultSnapshotKey
	}
	return &SnapshotStore{kv: kv, key: key}
}

var _ table.Persister = (*SnapshotStore)(nil)

func (s *SnapshotStore) Save(ctx context.Context, snap table.Snapshot) error {
	data, err := table.EncodeSnapshot(snap)
	if err != nil {
		return err
	}
	return s.kv.Put(ctx, s.key, data)
}

func (s *SnapshotStore) Load(ctx context.Context) (table.Snapshot, error) {
	data, err := s.kv.Get(ctx, s.key)
	if errors.Is(err, ErrNotFound) {
		return table.Snapshot{}, table.ErrNoSnapshot
	}
	if err != nil {
		return table.Snapshot{}, err
	}
	return table.DecodeSnapshot(data)
}

func (s *SnapshotStore) Delete(ctx context.Context) error {
	return s.kv.Delete(ctx, s.key)
}
