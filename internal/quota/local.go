package quota

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"github.com/coder/quartz"

	"github.com/voicecoach/coach/internal/metrics"
	"github.com/voicecoach/coach/internal/prefs"
)

// LocalTracker gates free-tier usage with daily counters kept in the
// preference store. It is advisory: store failures fall back to an empty
// state instead of surfacing, and a check followed by an increment is not
// atomic.
type LocalTracker struct {
	store  *prefs.Store
	limits Limits
	clock  quartz.Clock
	loc    *time.Location
}

type LocalOption func(*LocalTracker)

// WithClock replaces the wall clock, mainly for tests.
func WithClock(c quartz.Clock) LocalOption {
	return func(t *LocalTracker) { t.clock = c }
}

// WithLocation sets the zone that defines the device's calendar day.
func WithLocation(loc *time.Location) LocalOption {
	return func(t *LocalTracker) { t.loc = loc }
}

// NewLocalTracker creates a tracker over store.
func NewLocalTracker(store *prefs.Store, limits Limits, opts ...LocalOption) *LocalTracker {
	t := &LocalTracker{
		store:  store,
		limits: limits,
		clock:  quartz.NewReal(),
		loc:    time.Local,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

func (t *LocalTracker) today() string {
	return t.clock.Now().In(t.loc).Format(dateLayout)
}

// IsPremium reports the cached entitlement flag, false if it can't be read.
func (t *LocalTracker) IsPremium(ctx context.Context) bool {
	premium, err := t.store.IsPremium(ctx)
	if err != nil {
		slog.Warn("quota: reading premium flag, assuming free tier", "error", err)
		return false
	}
	return premium
}

// Counters returns today's counters. A record from an earlier day reads as
// all zero.
func (t *LocalTracker) Counters(ctx context.Context) DailyUsageCounters {
	vals, err := t.store.GetAll(ctx)
	if err != nil {
		slog.Warn("quota: reading local counters, using defaults", "error", err)
		vals = nil
	}
	return t.countersFrom(vals, t.today())
}

func (t *LocalTracker) countersFrom(vals map[string]string, today string) DailyUsageCounters {
	counters := DailyUsageCounters{
		Counts:        make(map[Category]int, len(Categories)),
		LastResetDate: vals[prefs.KeyLastResetDate],
	}
	if counters.LastResetDate != today {
		return counters
	}
	for _, c := range Categories {
		if raw, ok := vals[c.prefKey()]; ok {
			n, err := strconv.Atoi(raw)
			if err != nil {
				slog.Warn("quota: ignoring malformed counter", "category", c, "value", raw)
				continue
			}
			counters.Counts[c] = n
		}
	}
	return counters
}

// CanProceed reports whether another use of c fits today's limit. Premium
// users always proceed and their counters are not read.
func (t *LocalTracker) CanProceed(ctx context.Context, c Category) bool {
	if t.IsPremium(ctx) {
		metrics.QuotaDecisions.WithLabelValues("local", "premium").Inc()
		return true
	}
	allowed := t.Counters(ctx).Count(c) < t.limits[c]
	metrics.QuotaDecisions.WithLabelValues("local", outcome(allowed)).Inc()
	return allowed
}

// Remaining returns how many uses of c are left under limit, never below
// zero, or Unlimited for premium users.
func (t *LocalTracker) Remaining(ctx context.Context, c Category, limit int) int {
	if t.IsPremium(ctx) {
		return Unlimited
	}
	return max(0, limit-t.Counters(ctx).Count(c))
}

// Increment records one use of c and returns the new count. The first
// increment of a new day zeroes every other category and stamps the date.
func (t *LocalTracker) Increment(ctx context.Context, c Category) int {
	today := t.today()

	vals, err := t.store.GetAll(ctx)
	if err != nil {
		slog.Warn("quota: reading local counters, using defaults", "error", err)
		vals = nil
	}

	var (
		next   int
		update map[string]string
	)
	if vals[prefs.KeyLastResetDate] != today {
		next = 1
		update = map[string]string{prefs.KeyLastResetDate: today}
		for _, other := range Categories {
			update[other.prefKey()] = "0"
		}
	} else {
		next = t.countersFrom(vals, today).Count(c) + 1
		update = make(map[string]string, 1)
	}
	update[c.prefKey()] = strconv.Itoa(next)

	if err := t.store.Set(ctx, update); err != nil {
		slog.Warn("quota: writing local counter", "category", c, "error", err)
	}
	return next
}

func outcome(allowed bool) string {
	if allowed {
		return "allowed"
	}
	return "denied"
}
