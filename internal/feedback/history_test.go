package feedback

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupHistory(t *testing.T) (*HistoryStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewHistoryStore(client, "install-1"), mr
}

func TestHistoryStore_AppendAndRecent(t *testing.T) {
	store, _ := setupHistory(t)
	ctx := context.Background()

	err := store.Append(ctx,
		Message{Role: RoleUser, Content: "Hello", Timestamp: time.Now()},
		Message{Role: RoleAssistant, Content: "Hi there!", Timestamp: time.Now()},
	)
	require.NoError(t, err)

	msgs, err := store.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, RoleUser, msgs[0].Role)
	assert.Equal(t, "Hello", msgs[0].Content)
	assert.Equal(t, "Hi there!", msgs[1].Content)

	msgs, err = store.Recent(ctx, 1)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "Hi there!", msgs[0].Content)
}

func TestHistoryStore_Trim(t *testing.T) {
	store, _ := setupHistory(t)
	ctx := context.Background()

	for i := range defaultHistoryLen + 5 {
		require.NoError(t, store.Append(ctx, Message{Role: RoleUser, Content: fmt.Sprint(i)}))
	}

	msgs, err := store.Recent(ctx, 100)
	require.NoError(t, err)
	require.Len(t, msgs, defaultHistoryLen)
	assert.Equal(t, "5", msgs[0].Content)
}

func TestHistoryStore_TTLAndClear(t *testing.T) {
	store, mr := setupHistory(t)
	ctx := context.Background()

	require.NoError(t, store.Append(ctx, Message{Role: RoleUser, Content: "x"}))
	assert.Equal(t, defaultHistoryTTL, mr.TTL("chat:install-1"))

	require.NoError(t, store.Clear(ctx))
	msgs, err := store.Recent(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

func TestHistoryStore_SkipsMalformed(t *testing.T) {
	store, mr := setupHistory(t)
	ctx := context.Background()

	_, err := mr.Push("chat:install-1", "not json")
	require.NoError(t, err)
	require.NoError(t, store.Append(ctx, Message{Role: RoleUser, Content: "ok"}))

	msgs, err := store.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "ok", msgs[0].Content)
}
