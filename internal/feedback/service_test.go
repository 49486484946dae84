package feedback

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/coder/quartz"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voicecoach/coach/internal/config"
	"github.com/voicecoach/coach/internal/prefs"
	"github.com/voicecoach/coach/internal/quota"
)

// fakeOpenAI answers chat completions with a fixed reply.
type fakeOpenAI struct {
	mu       sync.Mutex
	reply    string
	status   int
	requests []openai.ChatCompletionRequest
}

func (f *fakeOpenAI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if r.URL.Path != "/v1/chat/completions" {
		http.NotFound(w, r)
		return
	}
	var req openai.ChatCompletionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	f.requests = append(f.requests, req)

	w.Header().Set("Content-Type", "application/json")
	if f.status != 0 {
		w.WriteHeader(f.status)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"error": map[string]any{"message": "upstream unavailable", "type": "server_error"},
		})
		return
	}
	_ = json.NewEncoder(w).Encode(openai.ChatCompletionResponse{
		ID:    "chatcmpl-1",
		Model: req.Model,
		Choices: []openai.ChatCompletionChoice{{
			Message: openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant, Content: f.reply},
		}},
	})
}

func (f *fakeOpenAI) setReply(reply string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reply = reply
}

func (f *fakeOpenAI) setStatus(status int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.status = status
}

func (f *fakeOpenAI) calls() []openai.ChatCompletionRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]openai.ChatCompletionRequest(nil), f.requests...)
}

type savedFeedback struct {
	id    uuid.UUID
	score int
	text  string
}

type memRecordings struct {
	saved []savedFeedback
}

func (m *memRecordings) SaveFeedback(_ context.Context, id uuid.UUID, score int, text string) error {
	m.saved = append(m.saved, savedFeedback{id: id, score: score, text: text})
	return nil
}

type env struct {
	svc     *Service
	api     *fakeOpenAI
	local   *quota.LocalTracker
	store   *prefs.Store
	history *HistoryStore
	recs    *memRecordings
}

func setup(t *testing.T) env {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	api := &fakeOpenAI{reply: `{"score": 80, "summary": "Steady tone", "strengths": ["breath"], "improvements": ["pace"]}`}
	srv := httptest.NewServer(api)
	t.Cleanup(srv.Close)

	clk := quartz.NewMock(t)
	clk.Set(time.Date(2026, 10, 18, 12, 0, 0, 0, time.UTC))

	store := prefs.NewStore(rdb, "install-1")
	limits := quota.Limits{
		quota.CategoryMessages:         2,
		quota.CategoryExercises:        1,
		quota.CategoryAdExercises:      1,
		quota.CategoryImprovisations:   1,
		quota.CategoryAdImprovisations: 1,
	}
	local := quota.NewLocalTracker(store, limits, quota.WithClock(clk), quota.WithLocation(time.UTC))
	gate := quota.NewGate(local, nil, nil, "install-1")

	history := NewHistoryStore(rdb, "install-1")
	recs := &memRecordings{}
	client := NewClient(config.OpenAIConfig{APIKey: "test-key", BaseURL: srv.URL + "/v1"})
	svc := NewService(client, "gpt-4o-mini", gate, WithClock(clk), WithHistory(history), WithRecordings(recs))

	return env{svc: svc, api: api, local: local, store: store, history: history, recs: recs}
}

func validRequest() AnalysisRequest {
	return AnalysisRequest{
		RecordingID: uuid.New(),
		ExerciseID:  "lip-trill",
		Transcript:  "la la la",
		DurationMs:  4200,
	}
}

func TestAnalyzeRecording(t *testing.T) {
	e := setup(t)
	ctx := context.Background()
	req := validRequest()

	fb, err := e.svc.AnalyzeRecording(ctx, req)
	require.NoError(t, err)
	require.NotNil(t, fb.Score)
	assert.Equal(t, 80, *fb.Score)
	assert.Equal(t, "Steady tone", fb.Summary)
	assert.Equal(t, []string{"breath"}, fb.Strengths)

	calls := e.api.calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "gpt-4o-mini", calls[0].Model)
	assert.Contains(t, calls[0].Messages[1].Content, "Exercise: lip-trill")
	assert.Contains(t, calls[0].Messages[1].Content, "la la la")

	assert.Equal(t, 0, e.local.Remaining(ctx, quota.CategoryExercises, 1))
	require.Len(t, e.recs.saved, 1)
	assert.Equal(t, savedFeedback{id: req.RecordingID, score: 80, text: "Steady tone"}, e.recs.saved[0])
}

func TestAnalyzeRecording_QuotaExceeded(t *testing.T) {
	e := setup(t)
	ctx := context.Background()

	_, err := e.svc.AnalyzeRecording(ctx, validRequest())
	require.NoError(t, err)

	_, err = e.svc.AnalyzeRecording(ctx, validRequest())
	require.ErrorIs(t, err, ErrQuotaExceeded)
	assert.Len(t, e.api.calls(), 1)

	// Improvisations are metered separately.
	req := validRequest()
	req.Improvisation = true
	_, err = e.svc.AnalyzeRecording(ctx, req)
	require.NoError(t, err)
}

func TestAnalyzeRecording_PremiumUnmetered(t *testing.T) {
	e := setup(t)
	ctx := context.Background()
	require.NoError(t, e.store.SetPremium(ctx, true))

	for range 3 {
		_, err := e.svc.AnalyzeRecording(ctx, validRequest())
		require.NoError(t, err)
	}
	assert.Len(t, e.api.calls(), 3)
}

func TestAnalyzeRecording_InvalidRequest(t *testing.T) {
	e := setup(t)

	req := validRequest()
	req.Transcript = ""
	_, err := e.svc.AnalyzeRecording(context.Background(), req)
	require.ErrorIs(t, err, ErrInvalidRequest)

	req = validRequest()
	req.DurationMs = 0
	_, err = e.svc.AnalyzeRecording(context.Background(), req)
	require.ErrorIs(t, err, ErrInvalidRequest)

	assert.Empty(t, e.api.calls())
}

func TestAnalyzeRecording_UpstreamErrorNotCounted(t *testing.T) {
	e := setup(t)
	ctx := context.Background()
	e.api.setStatus(http.StatusBadRequest)

	_, err := e.svc.AnalyzeRecording(ctx, validRequest())
	require.Error(t, err)
	assert.Equal(t, 1, e.local.Remaining(ctx, quota.CategoryExercises, 1))
	assert.Empty(t, e.recs.saved)
}

func TestAnalyzeRecording_RawReplyFallback(t *testing.T) {
	e := setup(t)
	e.api.setReply("Nice work, keep your shoulders relaxed.")

	fb, err := e.svc.AnalyzeRecording(context.Background(), validRequest())
	require.NoError(t, err)
	assert.Nil(t, fb.Score)
	assert.Equal(t, "Nice work, keep your shoulders relaxed.", fb.Summary)
	assert.Empty(t, e.recs.saved)
}

func TestParseFeedback(t *testing.T) {
	tests := []struct {
		name      string
		reply     string
		wantScore *int
		summary   string
	}{
		{"plain json", `{"score": 55, "summary": "ok"}`, ptr(55), "ok"},
		{"fenced json", "```json\n{\"score\": 70, \"summary\": \"good\"}\n```", ptr(70), "good"},
		{"score clamped", `{"score": 140, "summary": "wow"}`, ptr(100), "wow"},
		{"no summary", `{"score": 10}`, nil, `{"score": 10}`},
		{"prose", "  Just keep going.  ", nil, "Just keep going."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fb := parseFeedback(tt.reply)
			assert.Equal(t, tt.wantScore, fb.Score)
			assert.Equal(t, tt.summary, fb.Summary)
		})
	}
}

func ptr(n int) *int { return &n }

func TestChat_MessageLimit(t *testing.T) {
	e := setup(t)
	ctx := context.Background()
	e.api.setReply("Breathe from the diaphragm.")

	for range 2 {
		reply, err := e.svc.Chat(ctx, nil, "how do I breathe?")
		require.NoError(t, err)
		assert.Equal(t, "Breathe from the diaphragm.", reply)
	}

	_, err := e.svc.Chat(ctx, nil, "one more?")
	require.ErrorIs(t, err, ErrQuotaExceeded)
	assert.Len(t, e.api.calls(), 2)
}

func TestChat_SendsHistory(t *testing.T) {
	e := setup(t)
	e.api.setReply("Sure.")

	history := []Message{
		{Role: RoleUser, Content: "hi"},
		{Role: RoleAssistant, Content: "hello"},
	}
	_, err := e.svc.Chat(context.Background(), history, "warm-up ideas?")
	require.NoError(t, err)

	msgs := e.api.calls()[0].Messages
	require.Len(t, msgs, 4)
	assert.Equal(t, openai.ChatMessageRoleSystem, msgs[0].Role)
	assert.Equal(t, openai.ChatMessageRoleUser, msgs[1].Role)
	assert.Equal(t, openai.ChatMessageRoleAssistant, msgs[2].Role)
	assert.Equal(t, "warm-up ideas?", msgs[3].Content)
}

func TestChat_EmptyText(t *testing.T) {
	e := setup(t)

	_, err := e.svc.Chat(context.Background(), nil, "   ")
	require.ErrorIs(t, err, ErrInvalidRequest)
	assert.Empty(t, e.api.calls())
}

func TestConverse_KeepsHistory(t *testing.T) {
	e := setup(t)
	ctx := context.Background()
	e.api.setReply("Try humming first.")

	reply, err := e.svc.Converse(ctx, "any tips?")
	require.NoError(t, err)
	assert.Equal(t, "Try humming first.", reply)

	_, err = e.svc.Converse(ctx, "and then?")
	require.NoError(t, err)

	// The second request carries the first exchange.
	msgs := e.api.calls()[1].Messages
	require.Len(t, msgs, 4)
	assert.Equal(t, "any tips?", msgs[1].Content)
	assert.Equal(t, "Try humming first.", msgs[2].Content)

	stored, err := e.history.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, stored, 4)
	assert.Equal(t, RoleUser, stored[2].Role)
	assert.Equal(t, "and then?", stored[2].Content)
}
