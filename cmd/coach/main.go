package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/google/uuid"

	"github.com/voicecoach/coach/internal/billing"
	"github.com/voicecoach/coach/internal/cloudsync"
	"github.com/voicecoach/coach/internal/config"
	"github.com/voicecoach/coach/internal/database"
	"github.com/voicecoach/coach/internal/feedback"
	inats "github.com/voicecoach/coach/internal/nats"
	"github.com/voicecoach/coach/internal/observable"
)

const usage = `usage: coach <command> [args]

commands:
  migrate                     apply the local database schema
  sync                        copy local data to the cloud
  restore                     restore premium from earlier purchases
  purchase <product>          buy a premium product
  quota                       show today's usage
  status                      show account and entitlement state
  chat <text>                 talk to the coach
  analyze <recording> <text>  get feedback on a recording from its transcript
  events [n]                  show the newest client events`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, usage)
		os.Exit(2)
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("loading config", "error", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}

	setupLogger(cfg.Log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, os.Args[1], os.Args[2:]); err != nil {
		slog.Error("command failed", "command", os.Args[1], "error", err)
		stop()
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, cmd string, args []string) error {
	if cmd == "migrate" {
		return database.RunMigrations(cfg.DB.DSN(), cfg.DB.MigrationsPath)
	}

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.close()

	switch cmd {
	case "sync":
		return runSync(ctx, a)
	case "restore":
		if err := a.billing.Restore(ctx); err != nil {
			return err
		}
		fmt.Println("premium restored")
		return nil
	case "purchase":
		if len(args) != 1 {
			return errors.New("purchase needs a product id")
		}
		return runPurchase(ctx, a, args[0])
	case "quota":
		return printJSON(a.gate.Status(ctx))
	case "status":
		return runStatus(ctx, a)
	case "chat":
		if len(args) == 0 {
			return errors.New("chat needs a message")
		}
		reply, err := a.feedback.Converse(ctx, strings.Join(args, " "))
		if err != nil {
			return err
		}
		fmt.Println(reply)
		return nil
	case "analyze":
		if len(args) < 2 {
			return errors.New("analyze needs a recording id and a transcript")
		}
		return runAnalyze(ctx, a, args[0], strings.Join(args[1:], " "))
	case "events":
		return runEvents(ctx, a, args)
	default:
		return fmt.Errorf("unknown command %q\n%s", cmd, usage)
	}
}

func runSync(ctx context.Context, a *app) error {
	updates, cancel := a.sweeper.State().Subscribe()
	defer cancel()
	go func() {
		for s := range updates {
			if s.Phase == cloudsync.PhaseSyncing {
				slog.Info("syncing", "progress", fmt.Sprintf("%.0f%%", s.Progress*100))
			}
		}
	}()
	return a.sweeper.SyncAll(ctx)
}

func runPurchase(ctx context.Context, a *app, productID string) error {
	if err := a.billing.Connect(); err != nil {
		return err
	}
	conn, err := await(ctx, a.billing.Connection(), func(s billing.ConnectionState) bool {
		return s.Status == billing.StatusConnected || s.Status == billing.StatusError
	})
	if err != nil {
		return err
	}
	if conn.Status == billing.StatusError {
		return fmt.Errorf("billing unavailable: %s", conn.Message)
	}

	a.billing.ClearResult()
	if err := a.billing.Purchase(ctx, productID); err != nil {
		return err
	}
	result, err := await(ctx, a.billing.Result(), func(r *billing.PurchaseResult) bool { return r != nil })
	if err != nil {
		return err
	}
	if result.Kind != billing.ResultSuccess {
		return fmt.Errorf("purchase %s: %s", result.Kind, result.Message)
	}
	fmt.Println("purchase complete")
	return nil
}

func runStatus(ctx context.Context, a *app) error {
	premium, err := a.prefs.IsPremium(ctx)
	if err != nil {
		return err
	}
	onboarded, err := a.prefs.OnboardingComplete(ctx)
	if err != nil {
		return err
	}
	goal, err := a.prefs.Goal(ctx)
	if err != nil {
		return err
	}

	status := map[string]any{
		"installationId":     a.cfg.Device.InstallationID,
		"premium":            premium,
		"onboardingComplete": onboarded,
		"goal":               goal,
		"eventsConnected":    a.nc != nil && a.nc.Healthy(),
	}
	if u := a.session.CurrentUser(); u != nil {
		status["user"] = map[string]any{"id": u.ID, "email": u.Email, "expiresAt": u.ExpiresAt}
	}
	if p, err := a.progress.Progress(ctx); err == nil {
		status["progress"] = p
	} else {
		slog.Warn("reading progress", "error", err)
	}
	return printJSON(status)
}

func runAnalyze(ctx context.Context, a *app, rawID, transcript string) error {
	id, err := uuid.Parse(rawID)
	if err != nil {
		return fmt.Errorf("parsing recording id: %w", err)
	}
	rec, err := a.recordings.GetByID(ctx, id)
	if err != nil {
		return err
	}
	goal, err := a.prefs.Goal(ctx)
	if err != nil {
		slog.Warn("reading goal", "error", err)
	}

	fb, err := a.feedback.AnalyzeRecording(ctx, feedback.AnalysisRequest{
		RecordingID:   rec.ID,
		ExerciseID:    rec.ExerciseID,
		Transcript:    transcript,
		DurationMs:    rec.DurationMs,
		Goal:          goal,
		Improvisation: rec.IsImprovisation,
	})
	if err != nil {
		return err
	}

	_, unlocked, err := a.progress.RecordPractice(ctx, int(rec.DurationMs/1000), true)
	if err != nil {
		slog.Warn("recording practice", "error", err)
	}
	for _, ach := range unlocked {
		slog.Info("achievement unlocked", "id", ach.ID, "title", ach.Title)
	}
	return printJSON(fb)
}

func runEvents(ctx context.Context, a *app, args []string) error {
	if a.nc == nil {
		return errors.New("events need NATS_URL")
	}
	n := 20
	if len(args) > 0 {
		var err error
		if n, err = strconv.Atoi(args[0]); err != nil || n <= 0 {
			return fmt.Errorf("invalid event count %q", args[0])
		}
	}
	events, err := inats.NewEventReader(a.nc.JetStream()).Recent(ctx, "", n)
	if err != nil {
		return err
	}
	return printJSON(events)
}

// await blocks until r holds a value accepted by done.
func await[T any](ctx context.Context, r observable.Reader[T], done func(T) bool) (T, error) {
	updates, cancel := r.Subscribe()
	defer cancel()
	for {
		select {
		case v := <-updates:
			if done(v) {
				return v, nil
			}
		case <-ctx.Done():
			var zero T
			return zero, ctx.Err()
		}
	}
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func setupLogger(cfg config.LogConfig) {
	var handler slog.Handler

	opts := &slog.HandlerOptions{}
	switch cfg.Level {
	case "debug":
		opts.Level = slog.LevelDebug
	case "warn":
		opts.Level = slog.LevelWarn
	case "error":
		opts.Level = slog.LevelError
	default:
		opts.Level = slog.LevelInfo
	}

	// Logs go to stderr; stdout carries command output.
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}

	slog.SetDefault(slog.New(handler))
}
