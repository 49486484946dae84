package feedback

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/coder/quartz"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/sashabaranov/go-openai"

	"github.com/voicecoach/coach/internal/config"
	"github.com/voicecoach/coach/internal/metrics"
	"github.com/voicecoach/coach/internal/quota"
)

var (
	ErrQuotaExceeded  = errors.New("daily feedback quota exceeded")
	ErrInvalidRequest = errors.New("invalid feedback request")
	ErrEmptyReply     = errors.New("model returned no reply")
)

const (
	kindAnalysis = "analysis"
	kindChat     = "chat"

	chatHistoryLimit = 20
	maxMessageLen    = 2000
)

const analysisPrompt = `You are a vocal coach. Assess the learner's recording from its transcript.
Reply with JSON only: {"score": 0-100, "summary": "...", "strengths": ["..."], "improvements": ["..."]}.`

const chatPrompt = `You are a friendly vocal coach. Give short, practical advice about voice, breathing and speaking.`

// FeedbackStore saves an analysis result on a local recording.
type FeedbackStore interface {
	SaveFeedback(ctx context.Context, id uuid.UUID, score int, feedback string) error
}

// NewClient creates an OpenAI client from configuration.
func NewClient(cfg config.OpenAIConfig) *openai.Client {
	c := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		c.BaseURL = cfg.BaseURL
	}
	return openai.NewClientWithConfig(c)
}

type Option func(*Service)

func WithClock(c quartz.Clock) Option {
	return func(s *Service) { s.clock = c }
}

// WithRecordings saves analysis scores on the analyzed recording.
func WithRecordings(store FeedbackStore) Option {
	return func(s *Service) { s.recordings = store }
}

// WithHistory keeps the coach chat in store for Converse.
func WithHistory(store *HistoryStore) Option {
	return func(s *Service) { s.history = store }
}

type Service struct {
	client     *openai.Client
	model      string
	gate       *quota.Gate
	validate   *validator.Validate
	clock      quartz.Clock
	recordings FeedbackStore
	history    *HistoryStore
}

func NewService(client *openai.Client, model string, gate *quota.Gate, opts ...Option) *Service {
	s := &Service{
		client:   client,
		model:    model,
		gate:     gate,
		validate: validator.New(),
		clock:    quartz.NewReal(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// AnalyzeRecording scores a recording. The analysis is checked against both
// quota trackers first and only counted once the model has answered.
func (s *Service) AnalyzeRecording(ctx context.Context, req AnalysisRequest) (*Feedback, error) {
	if err := s.validate.Struct(req); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}

	category := quota.AnalysisCategoryFor(req.Improvisation, req.AdUnlocked)
	if err := s.gate.AllowAnalysis(ctx, category); err != nil {
		metrics.FeedbackRequestsTotal.WithLabelValues(kindAnalysis, "quota").Inc()
		return nil, fmt.Errorf("%w: %s", ErrQuotaExceeded, category)
	}

	reply, err := s.complete(ctx, kindAnalysis, []openai.ChatCompletionMessage{
		{Role: openai.ChatMessageRoleSystem, Content: analysisPrompt},
		{Role: openai.ChatMessageRoleUser, Content: describe(req)},
	})
	if err != nil {
		return nil, err
	}

	fb := parseFeedback(reply)
	s.gate.RecordAnalysis(ctx, category)

	if s.recordings != nil && req.RecordingID != uuid.Nil && fb.Score != nil {
		if err := s.recordings.SaveFeedback(ctx, req.RecordingID, *fb.Score, fb.Summary); err != nil {
			slog.Warn("feedback: saving recording feedback", "recording_id", req.RecordingID, "error", err)
		}
	}
	return fb, nil
}

// Chat sends text to the coach with the given prior turns and returns the
// reply. Each successful reply counts against the daily message limit.
func (s *Service) Chat(ctx context.Context, history []Message, text string) (string, error) {
	text = strings.TrimSpace(text)
	if err := s.validate.Var(text, fmt.Sprintf("required,max=%d", maxMessageLen)); err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}

	if err := s.gate.AllowMessage(ctx); err != nil {
		metrics.FeedbackRequestsTotal.WithLabelValues(kindChat, "quota").Inc()
		return "", fmt.Errorf("%w: %s", ErrQuotaExceeded, quota.CategoryMessages)
	}

	if len(history) > chatHistoryLimit {
		history = history[len(history)-chatHistoryLimit:]
	}
	msgs := make([]openai.ChatCompletionMessage, 0, len(history)+2)
	msgs = append(msgs, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: chatPrompt})
	for _, m := range history {
		role := openai.ChatMessageRoleUser
		if m.Role == RoleAssistant {
			role = openai.ChatMessageRoleAssistant
		}
		msgs = append(msgs, openai.ChatCompletionMessage{Role: role, Content: m.Content})
	}
	msgs = append(msgs, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: text})

	reply, err := s.complete(ctx, kindChat, msgs)
	if err != nil {
		return "", err
	}
	s.gate.RecordMessage(ctx)
	return reply, nil
}

// Converse is Chat over the stored history. Both turns are appended once the
// coach has replied; history failures are logged and do not fail the call.
func (s *Service) Converse(ctx context.Context, text string) (string, error) {
	var history []Message
	if s.history != nil {
		var err error
		history, err = s.history.Recent(ctx, chatHistoryLimit)
		if err != nil {
			slog.Warn("feedback: loading chat history", "error", err)
		}
	}

	sent := s.clock.Now().UTC()
	reply, err := s.Chat(ctx, history, text)
	if err != nil {
		return "", err
	}

	if s.history != nil {
		err := s.history.Append(ctx,
			Message{Role: RoleUser, Content: strings.TrimSpace(text), Timestamp: sent},
			Message{Role: RoleAssistant, Content: reply, Timestamp: s.clock.Now().UTC()},
		)
		if err != nil {
			slog.Warn("feedback: saving chat history", "error", err)
		}
	}
	return reply, nil
}

func (s *Service) complete(ctx context.Context, kind string, msgs []openai.ChatCompletionMessage) (string, error) {
	start := s.clock.Now()
	resp, err := s.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:    s.model,
		Messages: msgs,
	})
	metrics.FeedbackDuration.WithLabelValues(kind).Observe(s.clock.Since(start).Seconds())
	if err != nil {
		metrics.FeedbackRequestsTotal.WithLabelValues(kind, "error").Inc()
		return "", fmt.Errorf("requesting %s completion: %w", kind, err)
	}
	if len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Message.Content) == "" {
		metrics.FeedbackRequestsTotal.WithLabelValues(kind, "error").Inc()
		return "", ErrEmptyReply
	}
	metrics.FeedbackRequestsTotal.WithLabelValues(kind, "ok").Inc()
	return resp.Choices[0].Message.Content, nil
}

func describe(req AnalysisRequest) string {
	var b strings.Builder
	kind := "guided exercise"
	if req.Improvisation {
		kind = "improvisation"
	}
	fmt.Fprintf(&b, "Recording type: %s\n", kind)
	if req.ExerciseID != "" {
		fmt.Fprintf(&b, "Exercise: %s\n", req.ExerciseID)
	}
	if req.Goal != "" {
		fmt.Fprintf(&b, "Learner goal: %s\n", req.Goal)
	}
	fmt.Fprintf(&b, "Duration: %.1fs\n", float64(req.DurationMs)/1000)
	fmt.Fprintf(&b, "Transcript:\n%s", req.Transcript)
	return b.String()
}

// parseFeedback reads the model's JSON verdict, tolerating a Markdown code
// fence around it. Anything else is kept verbatim as the summary.
func parseFeedback(reply string) *Feedback {
	body := strings.TrimSpace(reply)
	if strings.HasPrefix(body, "```") {
		body = strings.TrimPrefix(body, "```json")
		body = strings.TrimPrefix(body, "```")
		body = strings.TrimSuffix(body, "```")
		body = strings.TrimSpace(body)
	}

	var fb Feedback
	if err := json.Unmarshal([]byte(body), &fb); err != nil || fb.Summary == "" {
		return &Feedback{Summary: strings.TrimSpace(reply)}
	}
	if fb.Score != nil {
		score := min(max(*fb.Score, 0), 100)
		fb.Score = &score
	}
	return &fb
}
