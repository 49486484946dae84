// Package cloudsync copies the local database to the remote document and
// object stores in one sequential sweep.
package cloudsync

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/coder/quartz"
	"github.com/google/uuid"

	"github.com/voicecoach/coach/internal/metrics"
	inats "github.com/voicecoach/coach/internal/nats"
	"github.com/voicecoach/coach/internal/objectstore"
	"github.com/voicecoach/coach/internal/observable"
	"github.com/voicecoach/coach/internal/progress"
	"github.com/voicecoach/coach/internal/recordings"
	"github.com/voicecoach/coach/internal/users"
)

// ErrNotSignedIn is returned when a sweep starts without a signed-in user.
var ErrNotSignedIn = errors.New("sync requires a signed-in user")

// Fixed progress reported at the start of each step.
const (
	progressProfile      = 0.0
	progressProgress     = 0.2
	progressCourses      = 0.4
	progressAchievements = 0.6
	progressRecordings   = 0.8
)

type ProfileSource interface {
	Profile(ctx context.Context) (*users.Profile, error)
}

type ProgressSource interface {
	Progress(ctx context.Context) (progress.UserProgress, error)
	Courses(ctx context.Context) ([]progress.CourseProgress, error)
	Achievements(ctx context.Context) ([]progress.Achievement, error)
}

type RecordingStore interface {
	ListAll(ctx context.Context) ([]recordings.Recording, error)
	MarkSynced(ctx context.Context, id uuid.UUID, remoteURL string) error
}

// DocumentWriter is the remote document store.
type DocumentWriter interface {
	Set(ctx context.Context, path string, v any) error
}

// Uploader stores an object and returns its download URL.
type Uploader interface {
	Upload(ctx context.Context, key string, body io.ReadSeeker, contentType string) (string, error)
}

type UserIDSource interface {
	UserID() string
}

// Sweeper runs sync sweeps. Sweeps are not retried; a failed sweep is run
// again from the start by the caller.
type Sweeper struct {
	profiles   ProfileSource
	progress   ProgressSource
	recordings RecordingStore
	docs       DocumentWriter
	objects    Uploader
	users      UserIDSource
	publisher  inats.EventPublisher
	clock      quartz.Clock

	installationID string
	state          *observable.Value[State]
}

type Option func(*Sweeper)

func WithPublisher(p inats.EventPublisher) Option {
	return func(s *Sweeper) { s.publisher = p }
}

func WithClock(c quartz.Clock) Option {
	return func(s *Sweeper) { s.clock = c }
}

func WithInstallationID(id string) Option {
	return func(s *Sweeper) { s.installationID = id }
}

func NewSweeper(
	profiles ProfileSource,
	prog ProgressSource,
	recs RecordingStore,
	docs DocumentWriter,
	objects Uploader,
	session UserIDSource,
	opts ...Option,
) *Sweeper {
	s := &Sweeper{
		profiles:   profiles,
		progress:   prog,
		recordings: recs,
		docs:       docs,
		objects:    objects,
		users:      session,
		publisher:  inats.NopPublisher{},
		clock:      quartz.NewReal(),
		state:      observable.NewValue(State{Phase: PhaseIdle}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// State streams the progress of the current or last sweep.
func (s *Sweeper) State() observable.Reader[State] {
	return s.state
}

// SyncAll uploads profile, progress, course progress, achievements and
// recordings in that order. The first four steps log and swallow their
// own failures. The returned error is whatever escaped the recordings step.
func (s *Sweeper) SyncAll(ctx context.Context) error {
	uid := s.users.UserID()
	if uid == "" {
		s.finish(ctx, uid, 0, ErrNotSignedIn)
		return ErrNotSignedIn
	}

	slog.Info("sync: sweep started", "uid", uid)

	s.state.Set(syncing(progressProfile))
	s.step("profile", func() error { return s.syncProfile(ctx, uid) })

	s.state.Set(syncing(progressProgress))
	s.step("progress", func() error { return s.syncProgress(ctx, uid) })

	s.state.Set(syncing(progressCourses))
	s.step("courses", func() error { return s.syncCourses(ctx, uid) })

	s.state.Set(syncing(progressAchievements))
	s.step("achievements", func() error { return s.syncAchievements(ctx, uid) })

	s.state.Set(syncing(progressRecordings))
	uploaded, err := s.syncRecordings(ctx, uid)
	if err != nil {
		metrics.SyncStepsTotal.WithLabelValues("recordings", "error").Inc()
		s.finish(ctx, uid, uploaded, err)
		return err
	}
	metrics.SyncStepsTotal.WithLabelValues("recordings", "ok").Inc()

	s.finish(ctx, uid, uploaded, nil)
	return nil
}

func (s *Sweeper) step(name string, fn func() error) {
	if err := fn(); err != nil {
		slog.Warn("sync: step failed", "step", name, "error", err)
		metrics.SyncStepsTotal.WithLabelValues(name, "error").Inc()
		return
	}
	metrics.SyncStepsTotal.WithLabelValues(name, "ok").Inc()
}

func (s *Sweeper) finish(ctx context.Context, uid string, uploaded int, err error) {
	event := inats.SyncEvent{
		InstallationID: s.installationID,
		UserID:         uid,
		Success:        err == nil,
		Uploaded:       uploaded,
		Timestamp:      s.clock.Now().UTC(),
	}
	if err != nil {
		slog.Error("sync: sweep failed", "error", err)
		s.state.Set(State{Phase: PhaseError, Message: err.Error()})
		event.Message = err.Error()
	} else {
		slog.Info("sync: sweep finished", "uploaded", uploaded)
		s.state.Set(State{Phase: PhaseSuccess, Progress: 1})
	}
	if perr := s.publisher.PublishSyncEvent(ctx, event); perr != nil {
		slog.Warn("sync: publishing sync event", "error", perr)
	}
}

func (s *Sweeper) syncProfile(ctx context.Context, uid string) error {
	p, err := s.profiles.Profile(ctx)
	if err != nil {
		return err
	}
	if p == nil {
		slog.Debug("sync: no local profile")
		return nil
	}
	return s.docs.Set(ctx, userPath(uid), p)
}

func (s *Sweeper) syncProgress(ctx context.Context, uid string) error {
	p, err := s.progress.Progress(ctx)
	if err != nil {
		return err
	}
	return s.docs.Set(ctx, userPath(uid)+"/progress/summary", p)
}

func (s *Sweeper) syncCourses(ctx context.Context, uid string) error {
	courses, err := s.progress.Courses(ctx)
	if err != nil {
		return err
	}
	for _, c := range courses {
		if err := s.docs.Set(ctx, userPath(uid)+"/course_progress/"+c.CourseID, c); err != nil {
			return err
		}
	}
	return nil
}

func (s *Sweeper) syncAchievements(ctx context.Context, uid string) error {
	achievements, err := s.progress.Achievements(ctx)
	if err != nil {
		return err
	}
	for _, a := range achievements {
		if err := s.docs.Set(ctx, userPath(uid)+"/achievements/"+a.ID, a); err != nil {
			return err
		}
	}
	return nil
}

// syncRecordings uploads every unsynced recording. A recording is marked
// synced only after its audio upload and metadata write both succeeded; a
// failed item is logged and left for the next sweep. Listing failures
// abort the step.
func (s *Sweeper) syncRecordings(ctx context.Context, uid string) (int, error) {
	all, err := s.recordings.ListAll(ctx)
	if err != nil {
		return 0, fmt.Errorf("listing recordings: %w", err)
	}

	uploaded := 0
	for i, rec := range all {
		s.state.Set(syncing(progressRecordings + (1-progressRecordings)*float64(i)/float64(len(all))))

		if rec.Synced {
			continue
		}
		if err := s.uploadRecording(ctx, uid, rec); err != nil {
			slog.Warn("sync: recording not uploaded", "recording", rec.ID, "error", err)
			continue
		}
		uploaded++
	}
	return uploaded, nil
}

func (s *Sweeper) uploadRecording(ctx context.Context, uid string, rec recordings.Recording) error {
	f, err := os.Open(rec.FilePath)
	if err != nil {
		return fmt.Errorf("opening audio: %w", err)
	}
	defer f.Close()

	url, err := s.objects.Upload(ctx, objectstore.RecordingKey(uid, rec.ID.String()), f, objectstore.ContentTypeM4A)
	if err != nil {
		return err
	}

	rec.RemoteURL = url
	if err := s.docs.Set(ctx, userPath(uid)+"/recordings/"+rec.ID.String(), rec); err != nil {
		return err
	}
	return s.recordings.MarkSynced(ctx, rec.ID, url)
}

func userPath(uid string) string {
	return "users/" + uid
}
