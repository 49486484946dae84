// Package docstore is the remote per-user document store. Documents are
// JSON values addressed by slash-separated paths such as
// "users/{uid}/recordings/{id}".
package docstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	keyPrefix          = "doc:"
	defaultMaxAttempts = 5
)

var (
	// ErrNotFound is returned when no document exists at a path.
	ErrNotFound = errors.New("document not found")
	// ErrContention is returned when a transaction kept conflicting with
	// concurrent writers until it ran out of attempts.
	ErrContention = errors.New("transaction aborted after repeated conflicts")
)

// Store reads and writes documents in Redis.
type Store struct {
	rdb         *redis.Client
	maxAttempts int
}

type Option func(*Store)

// WithMaxAttempts bounds how often a conflicting transaction is retried.
func WithMaxAttempts(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.maxAttempts = n
		}
	}
}

// New creates a document Store.
func New(rdb *redis.Client, opts ...Option) *Store {
	s := &Store{rdb: rdb, maxAttempts: defaultMaxAttempts}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func docKey(path string) string {
	return keyPrefix + path
}

// Get decodes the document at path into dst.
func (s *Store) Get(ctx context.Context, path string, dst any) error {
	return getDoc(ctx, s.rdb, path, dst)
}

// Set replaces the document at path with v.
func (s *Store) Set(ctx context.Context, path string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshaling document %s: %w", path, err)
	}
	if err := s.rdb.Set(ctx, docKey(path), data, 0).Err(); err != nil {
		return fmt.Errorf("writing document %s: %w", path, err)
	}
	return nil
}

// Delete removes the document at path. Deleting a missing document is not
// an error.
func (s *Store) Delete(ctx context.Context, path string) error {
	if err := s.rdb.Del(ctx, docKey(path)).Err(); err != nil {
		return fmt.Errorf("deleting document %s: %w", path, err)
	}
	return nil
}

// ServerTime returns the store's own clock, which clients cannot skew.
func (s *Store) ServerTime(ctx context.Context) (time.Time, error) {
	return serverTime(ctx, s.rdb)
}

// RunTransaction runs fn as an optimistic read-modify-write on the document
// at path. If another writer changes the document before commit, fn is run
// again from a fresh read, up to the configured number of attempts.
func (s *Store) RunTransaction(ctx context.Context, path string, fn func(ctx context.Context, tx *Tx) error) error {
	key := docKey(path)

	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		err := s.rdb.Watch(ctx, func(rtx *redis.Tx) error {
			tx := &Tx{rtx: rtx, path: path}
			if err := fn(ctx, tx); err != nil {
				return err
			}
			if tx.pending == nil {
				return nil
			}
			_, err := rtx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, key, tx.pending, 0)
				return nil
			})
			return err
		}, key)

		if err == nil {
			return nil
		}
		if !errors.Is(err, redis.TxFailedErr) {
			return err
		}
		slog.Debug("docstore: transaction conflict, retrying", "path", path, "attempt", attempt)
	}
	return fmt.Errorf("transaction on %s: %w", path, ErrContention)
}

// Tx is the handle passed to a transaction function. Reads go through the
// watched connection; the write is buffered and committed atomically.
type Tx struct {
	rtx     *redis.Tx
	path    string
	pending []byte
}

// Get decodes the watched document into dst.
func (tx *Tx) Get(ctx context.Context, dst any) error {
	return getDoc(ctx, tx.rtx, tx.path, dst)
}

// ServerTime reads the store clock inside the transaction.
func (tx *Tx) ServerTime(ctx context.Context) (time.Time, error) {
	return serverTime(ctx, tx.rtx)
}

// Set stages v as the new document content.
func (tx *Tx) Set(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshaling document %s: %w", tx.path, err)
	}
	tx.pending = data
	return nil
}

func getDoc(ctx context.Context, c redis.Cmdable, path string, dst any) error {
	data, err := c.Get(ctx, docKey(path)).Bytes()
	if errors.Is(err, redis.Nil) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("reading document %s: %w", path, err)
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("decoding document %s: %w", path, err)
	}
	return nil
}

func serverTime(ctx context.Context, c redis.Cmdable) (time.Time, error) {
	t, err := c.Time(ctx).Result()
	if err != nil {
		return time.Time{}, fmt.Errorf("reading server time: %w", err)
	}
	return t.UTC(), nil
}
