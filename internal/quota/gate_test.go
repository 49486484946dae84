package quota

import (
	"context"
	"sync"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/coder/quartz"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voicecoach/coach/internal/docstore"
	inats "github.com/voicecoach/coach/internal/nats"
	"github.com/voicecoach/coach/internal/prefs"
)

type recordingPublisher struct {
	inats.NopPublisher
	mu     sync.Mutex
	events []inats.QuotaEvent
}

func (p *recordingPublisher) PublishQuotaEvent(_ context.Context, e inats.QuotaEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return nil
}

func (p *recordingPublisher) quotaEvents() []inats.QuotaEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]inats.QuotaEvent(nil), p.events...)
}

type gateEnv struct {
	gate   *Gate
	store  *prefs.Store
	docs   *docstore.Store
	events *recordingPublisher
}

func setupGate(t *testing.T) gateEnv {
	t.Helper()
	mr := miniredis.RunT(t)
	mr.SetTime(day1)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	clk := quartz.NewMock(t)
	clk.Set(day1)

	store := prefs.NewStore(rdb, "install-1")
	docs := docstore.New(rdb)
	local := NewLocalTracker(store, testLimits(), WithClock(clk), WithLocation(day1.Location()))
	server := NewServerTracker(docs, staticUser("user-1"), testLimits(), clk)
	events := &recordingPublisher{}

	return gateEnv{
		gate:   NewGate(local, server, events, "install-1"),
		store:  store,
		docs:   docs,
		events: events,
	}
}

func TestGate_AnalysisCountsOnBothTrackers(t *testing.T) {
	env := setupGate(t)
	ctx := context.Background()

	require.NoError(t, env.gate.AllowAnalysis(ctx, AnalysisAdImprovisation))
	env.gate.RecordAnalysis(ctx, AnalysisAdImprovisation)

	st := env.gate.Status(ctx)
	assert.False(t, st.Premium)
	assert.Equal(t, "2026-10-18", st.Date)
	assert.Equal(t, CategoryUse{Used: 1, Limit: 2, Remaining: 1}, st.Local[CategoryAdImprovisations])
	require.NotNil(t, st.Server)
	assert.Equal(t, 1, st.Server.AdImprovCount)
}

func TestGate_LocalDenial(t *testing.T) {
	env := setupGate(t)
	ctx := context.Background()

	env.gate.RecordAnalysis(ctx, AnalysisImprovisation)

	err := env.gate.AllowAnalysis(ctx, AnalysisImprovisation)
	require.ErrorIs(t, err, ErrLimitReached)

	events := env.events.quotaEvents()
	require.Len(t, events, 1)
	assert.Equal(t, "local", events[0].Tracker)
	assert.Equal(t, "improvisation", events[0].Category)
	assert.Equal(t, "user-1", events[0].UserID)
	assert.Equal(t, "install-1", events[0].InstallationID)
	assert.Equal(t, day1, events[0].Timestamp)
}

func TestGate_ServerDenialAfterLocalReset(t *testing.T) {
	env := setupGate(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		env.gate.RecordAnalysis(ctx, AnalysisExercise)
	}

	// Wiping local prefs does not reset the server counters.
	require.NoError(t, env.store.Clear(ctx))

	err := env.gate.AllowAnalysis(ctx, AnalysisExercise)
	require.ErrorIs(t, err, ErrLimitReached)

	events := env.events.quotaEvents()
	require.Len(t, events, 1)
	assert.Equal(t, "server", events[0].Tracker)
}

func TestGate_PremiumIsNotMetered(t *testing.T) {
	env := setupGate(t)
	ctx := context.Background()

	require.NoError(t, env.store.SetPremium(ctx, true))

	for i := 0; i < 5; i++ {
		require.NoError(t, env.gate.AllowAnalysis(ctx, AnalysisImprovisation))
		env.gate.RecordAnalysis(ctx, AnalysisImprovisation)
		require.NoError(t, env.gate.AllowMessage(ctx))
		env.gate.RecordMessage(ctx)
	}

	st := env.gate.Status(ctx)
	assert.True(t, st.Premium)
	assert.Equal(t, Unlimited, st.Local[CategoryImprovisations].Remaining)
	assert.Equal(t, 0, st.Local[CategoryImprovisations].Used)
	assert.Nil(t, st.Server)
	assert.Empty(t, env.events.quotaEvents())
}

func TestGate_MessageLimit(t *testing.T) {
	env := setupGate(t)
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		require.NoError(t, env.gate.AllowMessage(ctx))
		env.gate.RecordMessage(ctx)
	}

	err := env.gate.AllowMessage(ctx)
	require.ErrorIs(t, err, ErrLimitReached)
	assert.Equal(t, 0, env.gate.Status(ctx).Local[CategoryMessages].Remaining)
}

func TestGate_WithoutServerTracker(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	clk := quartz.NewMock(t)
	clk.Set(day1)
	local := NewLocalTracker(prefs.NewStore(rdb, "install-1"), testLimits(), WithClock(clk))
	gate := NewGate(local, nil, nil, "install-1")
	ctx := context.Background()

	require.NoError(t, gate.AllowAnalysis(ctx, AnalysisExercise))
	gate.RecordAnalysis(ctx, AnalysisExercise)
	assert.Nil(t, gate.Status(ctx).Server)
}
