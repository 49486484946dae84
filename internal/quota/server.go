package quota

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/coder/quartz"

	"github.com/voicecoach/coach/internal/docstore"
	"github.com/voicecoach/coach/internal/metrics"
)

// UserIDSource yields the signed-in user's id, or "" when signed out.
type UserIDSource interface {
	UserID() string
}

// ServerTracker mirrors the local policy for analysis requests using a
// per-user document whose timestamps come from the store's clock. It is a
// second line of defense: every failure is treated as "allowed" and
// increments are best-effort.
type ServerTracker struct {
	docs   *docstore.Store
	users  UserIDSource
	limits Limits
	clock  quartz.Clock
}

// NewServerTracker creates a ServerTracker. clock only stamps the date of a
// new-day reset; "today" itself is read from the document store.
func NewServerTracker(docs *docstore.Store, users UserIDSource, limits Limits, clock quartz.Clock) *ServerTracker {
	if clock == nil {
		clock = quartz.NewReal()
	}
	return &ServerTracker{
		docs:   docs,
		users:  users,
		limits: limits,
		clock:  clock,
	}
}

func limitsPath(uid string) string {
	return "daily_limits/" + uid
}

// isNewDay reports whether doc's counters are stale: its dateUtc is empty,
// disagrees with the date of its own updatedAt stamp, or is not the
// server's current UTC date. The last test is what lets counters expire
// when nothing has been written since yesterday.
func isNewDay(doc ServerDailyCounters, serverNow time.Time) bool {
	if doc.DateUTC == "" {
		return true
	}
	if !doc.UpdatedAt.IsZero() && doc.DateUTC != doc.UpdatedAt.UTC().Format(dateLayout) {
		return true
	}
	return doc.DateUTC != serverNow.UTC().Format(dateLayout)
}

// CanAnalyze reports whether the user may run another analysis of c today.
// A missing document, a new day, no signed-in user, or any read failure
// all answer true.
func (t *ServerTracker) CanAnalyze(ctx context.Context, c AnalysisCategory) bool {
	uid := t.users.UserID()
	if uid == "" {
		return true
	}

	var doc ServerDailyCounters
	err := t.docs.Get(ctx, limitsPath(uid), &doc)
	if errors.Is(err, docstore.ErrNotFound) {
		metrics.QuotaDecisions.WithLabelValues("server", "first_use").Inc()
		return true
	}
	if err != nil {
		slog.Warn("quota: server counters unavailable, allowing request", "error", err, "category", c)
		metrics.QuotaDecisions.WithLabelValues("server", "fail_open").Inc()
		return true
	}

	now, err := t.docs.ServerTime(ctx)
	if err != nil {
		slog.Warn("quota: server time unavailable, allowing request", "error", err, "category", c)
		metrics.QuotaDecisions.WithLabelValues("server", "fail_open").Inc()
		return true
	}

	if isNewDay(doc, now) {
		metrics.QuotaDecisions.WithLabelValues("server", "new_day").Inc()
		return true
	}

	allowed := doc.Count(c) < t.limits.Analysis(c)
	metrics.QuotaDecisions.WithLabelValues("server", outcome(allowed)).Inc()
	return allowed
}

// IncrementAnalysis records one analysis of c. It is best-effort: failures
// are logged and dropped, and callers get no delivery guarantee.
func (t *ServerTracker) IncrementAnalysis(ctx context.Context, c AnalysisCategory) {
	if err := t.increment(ctx, c); err != nil {
		slog.Warn("quota: server increment dropped", "error", err, "category", c)
	}
}

func (t *ServerTracker) increment(ctx context.Context, c AnalysisCategory) error {
	uid := t.users.UserID()
	if uid == "" {
		slog.Debug("quota: no signed-in user, skipping server increment")
		return nil
	}

	err := t.docs.RunTransaction(ctx, limitsPath(uid), func(ctx context.Context, tx *docstore.Tx) error {
		var doc ServerDailyCounters
		if err := tx.Get(ctx, &doc); err != nil && !errors.Is(err, docstore.ErrNotFound) {
			return err
		}

		now, err := tx.ServerTime(ctx)
		if err != nil {
			return err
		}

		if isNewDay(doc, now) {
			// The reset date comes from the client clock because the
			// server timestamp of this write is not known until commit.
			doc = ServerDailyCounters{DateUTC: t.clock.Now().UTC().Format(dateLayout)}
		} else {
			doc.DateUTC = now.UTC().Format(dateLayout)
		}
		doc.increment(c)
		doc.UpdatedAt = now
		return tx.Set(doc)
	})
	if err != nil {
		return fmt.Errorf("incrementing %s for %s: %w", c, uid, err)
	}
	return nil
}

// ServerCounts returns the user's counter document, or nil if there is
// none or it can't be read.
func (t *ServerTracker) ServerCounts(ctx context.Context) *ServerDailyCounters {
	uid := t.users.UserID()
	if uid == "" {
		return nil
	}
	var doc ServerDailyCounters
	if err := t.docs.Get(ctx, limitsPath(uid), &doc); err != nil {
		if !errors.Is(err, docstore.ErrNotFound) {
			slog.Warn("quota: reading server counters", "error", err)
		}
		return nil
	}
	return &doc
}
