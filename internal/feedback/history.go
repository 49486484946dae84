package feedback

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	defaultHistoryLen = 40
	defaultHistoryTTL = 7 * 24 * time.Hour
)

// HistoryStore keeps the recent coach chat of one installation in a Redis
// list.
type HistoryStore struct {
	client redis.Cmdable
	key    string
	max    int
	ttl    time.Duration
}

// NewHistoryStore creates a HistoryStore for the given installation.
func NewHistoryStore(client redis.Cmdable, installationID string) *HistoryStore {
	return &HistoryStore{
		client: client,
		key:    "chat:" + installationID,
		max:    defaultHistoryLen,
		ttl:    defaultHistoryTTL,
	}
}

// Recent returns the last limit messages, oldest first.
func (s *HistoryStore) Recent(ctx context.Context, limit int) ([]Message, error) {
	vals, err := s.client.LRange(ctx, s.key, int64(-limit), -1).Result()
	if err != nil {
		return nil, fmt.Errorf("lrange %s: %w", s.key, err)
	}

	msgs := make([]Message, 0, len(vals))
	for _, v := range vals {
		var m Message
		if err := json.Unmarshal([]byte(v), &m); err != nil {
			continue // skip malformed entries
		}
		msgs = append(msgs, m)
	}
	return msgs, nil
}

// Append adds messages to the history and trims it to the newest entries.
func (s *HistoryStore) Append(ctx context.Context, msgs ...Message) error {
	if len(msgs) == 0 {
		return nil
	}
	vals := make([]any, 0, len(msgs))
	for _, m := range msgs {
		data, err := json.Marshal(m)
		if err != nil {
			return fmt.Errorf("marshaling message: %w", err)
		}
		vals = append(vals, string(data))
	}

	pipe := s.client.TxPipeline()
	pipe.RPush(ctx, s.key, vals...)
	pipe.LTrim(ctx, s.key, int64(-s.max), -1)
	pipe.Expire(ctx, s.key, s.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("appending to %s: %w", s.key, err)
	}
	return nil
}

// Clear deletes the history.
func (s *HistoryStore) Clear(ctx context.Context) error {
	return s.client.Del(ctx, s.key).Err()
}
