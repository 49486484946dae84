package quota

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	inats "github.com/voicecoach/coach/internal/nats"
)

// ErrLimitReached is returned when today's free-tier limit is used up.
var ErrLimitReached = errors.New("daily limit reached")

// Gate combines the local and server trackers for callers that spend quota.
// Premium users skip both trackers and are not metered.
type Gate struct {
	local          *LocalTracker
	server         *ServerTracker
	limits         Limits
	publisher      inats.EventPublisher
	installationID string
}

// NewGate creates a Gate. server may be nil, in which case only the local
// tracker applies.
func NewGate(local *LocalTracker, server *ServerTracker, publisher inats.EventPublisher, installationID string) *Gate {
	if publisher == nil {
		publisher = inats.NopPublisher{}
	}
	return &Gate{
		local:          local,
		server:         server,
		limits:         local.limits,
		publisher:      publisher,
		installationID: installationID,
	}
}

// AllowAnalysis checks both trackers for an analysis of c. The local
// tracker is consulted first; the server tracker can only add a denial.
func (g *Gate) AllowAnalysis(ctx context.Context, c AnalysisCategory) error {
	if g.local.IsPremium(ctx) {
		return nil
	}
	if !g.local.CanProceed(ctx, c.Local()) {
		g.notify(ctx, string(c), "local")
		return fmt.Errorf("%w: %s", ErrLimitReached, c)
	}
	if g.server != nil && !g.server.CanAnalyze(ctx, c) {
		g.notify(ctx, string(c), "server")
		return fmt.Errorf("%w: %s", ErrLimitReached, c)
	}
	return nil
}

// RecordAnalysis counts one analysis of c on both trackers.
func (g *Gate) RecordAnalysis(ctx context.Context, c AnalysisCategory) {
	if g.local.IsPremium(ctx) {
		return
	}
	g.local.Increment(ctx, c.Local())
	if g.server != nil {
		g.server.IncrementAnalysis(ctx, c)
	}
}

// AllowMessage checks the local message limit.
func (g *Gate) AllowMessage(ctx context.Context) error {
	if g.local.CanProceed(ctx, CategoryMessages) {
		return nil
	}
	g.notify(ctx, string(CategoryMessages), "local")
	return fmt.Errorf("%w: %s", ErrLimitReached, CategoryMessages)
}

// RecordMessage counts one coach message.
func (g *Gate) RecordMessage(ctx context.Context) {
	if g.local.IsPremium(ctx) {
		return
	}
	g.local.Increment(ctx, CategoryMessages)
}

// Status reports today's usage of every category.
func (g *Gate) Status(ctx context.Context) Status {
	premium := g.local.IsPremium(ctx)
	counters := g.local.Counters(ctx)

	st := Status{
		Premium: premium,
		Date:    g.local.today(),
		Local:   make(map[Category]CategoryUse, len(Categories)),
	}
	for _, c := range Categories {
		use := CategoryUse{Used: counters.Count(c), Limit: g.limits[c]}
		if premium {
			use.Remaining = Unlimited
		} else {
			use.Remaining = max(0, use.Limit-use.Used)
		}
		st.Local[c] = use
	}
	if g.server != nil {
		st.Server = g.server.ServerCounts(ctx)
	}
	return st
}

func (g *Gate) notify(ctx context.Context, category, tracker string) {
	event := inats.QuotaEvent{
		InstallationID: g.installationID,
		Category:       category,
		Tracker:        tracker,
		Timestamp:      g.local.clock.Now().UTC(),
	}
	if g.server != nil {
		event.UserID = g.server.users.UserID()
	}
	if err := g.publisher.PublishQuotaEvent(ctx, event); err != nil {
		slog.Warn("quota: publishing limit event", "error", err)
	}
}
