package main

import (
	"context"
	"log/slog"
	"time"

	"github.com/coder/quartz"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/voicecoach/coach/internal/auth"
	"github.com/voicecoach/coach/internal/billing"
	"github.com/voicecoach/coach/internal/cloudsync"
	"github.com/voicecoach/coach/internal/config"
	"github.com/voicecoach/coach/internal/database"
	"github.com/voicecoach/coach/internal/docstore"
	"github.com/voicecoach/coach/internal/feedback"
	inats "github.com/voicecoach/coach/internal/nats"
	"github.com/voicecoach/coach/internal/objectstore"
	"github.com/voicecoach/coach/internal/prefs"
	"github.com/voicecoach/coach/internal/progress"
	"github.com/voicecoach/coach/internal/quota"
	"github.com/voicecoach/coach/internal/recordings"
	iredis "github.com/voicecoach/coach/internal/redis"
	"github.com/voicecoach/coach/internal/users"
)

// app holds every wired component of the client.
type app struct {
	cfg *config.Config

	prefsRDB *redis.Client
	docsRDB  *redis.Client
	pool     *pgxpool.Pool
	nc       *inats.Client

	session    *auth.Session
	prefs      *prefs.Store
	local      *quota.LocalTracker
	gate       *quota.Gate
	billing    *billing.Manager
	users      *users.Service
	progress   *progress.Service
	recordings recordings.Repository
	sweeper    *cloudsync.Sweeper
	feedback   *feedback.Service
}

func newApp(ctx context.Context, cfg *config.Config) (_ *app, err error) {
	a := &app{cfg: cfg}
	defer func() {
		if err != nil {
			a.close()
		}
	}()

	clock := quartz.NewReal()
	installationID := cfg.Device.InstallationID

	// Preferences
	a.prefsRDB, err = iredis.NewClient(ctx, "prefs", cfg.Prefs)
	if err != nil {
		return nil, err
	}
	a.prefs = prefs.NewStore(a.prefsRDB, installationID)

	// Remote documents
	a.docsRDB, err = iredis.NewClient(ctx, "docs", cfg.Docs.Redis)
	if err != nil {
		return nil, err
	}
	docs := docstore.New(a.docsRDB, docstore.WithMaxAttempts(cfg.Docs.TxAttempts))

	// Local database
	a.pool, err = database.NewPostgresPool(ctx, cfg.DB)
	if err != nil {
		return nil, err
	}

	objects, err := objectstore.NewClient(ctx, cfg.Objects)
	if err != nil {
		return nil, err
	}

	// Events are optional.
	var publisher inats.EventPublisher = inats.NopPublisher{}
	if cfg.NATS.URL != "" {
		a.nc, err = inats.NewClient(ctx, cfg.NATS)
		if err != nil {
			slog.Warn("events disabled", "error", err)
			err = nil
		} else {
			publisher = inats.NewPublisher(a.nc.JetStream())
		}
	}

	// Session
	a.session = auth.NewSession(auth.NewTokenVerifier(cfg.Auth.TokenSecret, cfg.Auth.Issuer, clock))
	if cfg.Auth.IDToken != "" {
		if _, serr := a.session.SignInWithToken(cfg.Auth.IDToken); serr != nil {
			slog.Warn("continuing signed out", "error", serr)
		}
	}

	// Quotas
	limits := quota.LimitsFromConfig(cfg.Limits)
	a.local = quota.NewLocalTracker(a.prefs, limits, quota.WithClock(clock))
	server := quota.NewServerTracker(docs, a.session, limits, clock)
	a.gate = quota.NewGate(a.local, server, publisher, installationID)

	// Billing
	a.billing = billing.NewManager(
		billing.NewLedgerBackend(docs, installationID),
		a.prefs,
		billing.WithClock(clock),
		billing.WithRestoreTimeout(cfg.Billing.RestoreTimeout),
		billing.WithPublisher(publisher),
		billing.WithUsers(a.session),
		billing.WithInstallationID(installationID),
	)

	// Local data
	a.users = users.NewService(users.NewRepository(a.pool), clock)
	a.progress = progress.NewService(progress.NewRepository(a.pool), clock, time.Local)
	a.recordings = recordings.NewRepository(a.pool)

	a.sweeper = cloudsync.NewSweeper(a.users, a.progress, a.recordings, docs, objects, a.session,
		cloudsync.WithPublisher(publisher),
		cloudsync.WithClock(clock),
		cloudsync.WithInstallationID(installationID),
	)

	a.feedback = feedback.NewService(feedback.NewClient(cfg.OpenAI), cfg.OpenAI.Model, a.gate,
		feedback.WithClock(clock),
		feedback.WithRecordings(a.recordings),
		feedback.WithHistory(feedback.NewHistoryStore(a.prefsRDB, installationID)),
	)

	return a, nil
}

func (a *app) close() {
	if a.billing != nil {
		a.billing.Close()
	}
	if a.nc != nil {
		a.nc.Close()
	}
	if a.pool != nil {
		a.pool.Close()
	}
	for name, c := range map[string]*redis.Client{"prefs": a.prefsRDB, "docs": a.docsRDB} {
		if c == nil {
			continue
		}
		if err := c.Close(); err != nil {
			slog.Warn("closing redis", "store", name, "error", err)
		}
	}
}
