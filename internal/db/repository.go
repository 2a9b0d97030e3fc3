package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/golang/snappy"
)

// Value encodings stored in kv_store.encoding.
const (
	encodingRaw    = "raw"
	encodingSnappy = "snappy"
)

// KVRepository persists opaque blobs by key. Values are snappy-compressed when
// compression is enabled; reads handle both encodings so the flag can change
// between runs.
type KVRepository struct {
	db       *sql.DB
	compress bool

	// Prepared statements are cached by query string.
	stmtCache sync.Map // map[string]*sql.Stmt
}

// NewKVRepository creates a new KVRepository.
func NewKVRepository(db *sql.DB, compress bool) *KVRepository {
	return &KVRepository{db: db, compress: compress}
}

// PrepareStmt gets or creates a prepared statement from the cache.
func (r *KVRepository) PrepareStmt(ctx context.Context, query string) (*sql.Stmt, error) {
	if stmt, ok := r.stmtCache.Load(query); ok {
		return stmt.(*sql.Stmt), nil
	}

	stmt, err := r.db.PrepareContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare statement: %w", err)
	}

	actual, loaded := r.stmtCache.LoadOrStore(query, stmt)
	if loaded {
		// Another goroutine prepared it first
		stmt.Close()
		return actual.(*sql.Stmt), nil
	}
	return stmt, nil
}

// Close closes all cached prepared statements.
func (r *KVRepository) Close() error {
	var firstErr error
	r.stmtCache.Range(func(key, value interface{}) bool {
		if err := value.(*sql.Stmt).Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		r.stmtCache.Delete(key)
		return true
	})
	return firstErr
}

// Get returns the value stored under key. ok is false when the key is absent.
func (r *KVRepository) Get(ctx context.Context, key string) ([]byte, bool, error) {
	stmt, err := r.PrepareStmt(ctx, "SELECT value, encoding FROM kv_store WHERE key = ?")
	if err != nil {
		return nil, false, err
	}

	var value []byte
	var encoding string
	err = stmt.QueryRowContext(ctx, key).Scan(&value, &encoding)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to read key %q: %w", key, err)
	}

	switch encoding {
	case encodingSnappy:
		decoded, err := snappy.Decode(nil, value)
		if err != nil {
			return nil, false, fmt.Errorf("failed to decompress key %q: %w", key, err)
		}
		return decoded, true, nil
	case encodingRaw:
		return value, true, nil
	default:
		return nil, false, fmt.Errorf("key %q has unknown encoding %q", key, encoding)
	}
}

// Set stores value under key, replacing any previous value.
func (r *KVRepository) Set(ctx context.Context, key string, value []byte) error {
	if key == "" {
		return fmt.Errorf("key is required")
	}

	encoding := encodingRaw
	stored := value
	if r.compress {
		encoding = encodingSnappy
		stored = snappy.Encode(nil, value)
	}
	if stored == nil {
		stored = []byte{}
	}

	stmt, err := r.PrepareStmt(ctx, `INSERT INTO kv_store (key, value, encoding, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, encoding = excluded.encoding, updated_at = excluded.updated_at`)
	if err != nil {
		return err
	}
	if _, err := stmt.ExecContext(ctx, key, stored, encoding, time.Now().UnixMilli()); err != nil {
		return fmt.Errorf("failed to write key %q: %w", key, err)
	}
	return nil
}

// Delete removes key. Deleting an absent key is not an error.
func (r *KVRepository) Delete(ctx context.Context, key string) error {
	stmt, err := r.PrepareStmt(ctx, "DELETE FROM kv_store WHERE key = ?")
	if err != nil {
		return err
	}
	if _, err := stmt.ExecContext(ctx, key); err != nil {
		return fmt.Errorf("failed to delete key %q: %w", key, err)
	}
	return nil
}

// Keys lists every stored key in lexical order.
func (r *KVRepository) Keys(ctx context.Context) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, "SELECT key FROM kv_store ORDER BY key")
	if err != nil {
		return nil, fmt.Errorf("failed to list keys: %w", err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}
