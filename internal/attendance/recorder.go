package attendance

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"rollcall/internal/config"
	"rollcall/internal/logging"
)

const dateKeyLayout = "2006-01-02"

// Options configures a Recorder.
type Options struct {
	// Mode is config.AttendanceModeCooldown or config.AttendanceModeSession.
	Mode     string
	Cooldown time.Duration
	// SessionID pre-binds every mark to one session in session mode.
	SessionID int64
	Source    string
	// Location sets the calendar day used for cooldown date keys.
	Location *time.Location
	Logger   *slog.Logger
	Observer Observer
	// NewEventID defaults to random UUIDs.
	NewEventID func() string
}

// OptionsFromConfig maps attendance settings onto recorder options.
func OptionsFromConfig(cfg *config.Config, logger *slog.Logger) Options {
	return Options{
		Mode:      cfg.Attendance.Mode,
		Cooldown:  cfg.Cooldown(),
		SessionID: cfg.Attendance.SessionID,
		Source:    "camera",
		Logger:    logger,
	}
}

type sessionEntry struct {
	session Session
	// validUntil is zero for sessions that never expire from the cache.
	validUntil time.Time
}

// Recorder applies the idempotency rules and writes marks synchronously.
type Recorder struct {
	store  Store
	opts   Options
	logger *slog.Logger

	mu        sync.Mutex
	last      map[int64]time.Time
	sessions  map[int64]sessionEntry
	stats     Stats
	observers []Observer
}

// NewRecorder returns a Recorder writing to store.
func NewRecorder(store Store, opts Options) *Recorder {
	if opts.Mode == "" {
		opts.Mode = config.AttendanceModeCooldown
	}
	if opts.Location == nil {
		opts.Location = time.Local
	}
	if opts.Source == "" {
		opts.Source = "camera"
	}
	if opts.NewEventID == nil {
		opts.NewEventID = uuid.NewString
	}
	return &Recorder{
		store:    store,
		opts:     opts,
		logger:   logging.NewComponentLogger(opts.Logger, "attendance"),
		last:     make(map[int64]time.Time),
		sessions: make(map[int64]sessionEntry),
	}
}

// Mode returns the configured mode.
func (r *Recorder) Mode() string {
	return r.opts.Mode
}

// AddObserver registers fn for every final outcome after Options.Observer.
// fn runs on the goroutine that produced the outcome and must not call back
// into the recorder.
func (r *Recorder) AddObserver(fn Observer) {
	if fn == nil {
		return
	}
	r.mu.Lock()
	r.observers = append(r.observers, fn)
	r.mu.Unlock()
}

// Record marks identityID as present at now.
func (r *Recorder) Record(ctx context.Context, identityID int64, now time.Time, score float64) Outcome {
	if r.Cached(identityID, now) {
		r.finish(Event{IdentityID: identityID, Outcome: AlreadyMarked, At: now, Score: score})
		return AlreadyMarked
	}
	var event Event
	if r.opts.Mode == config.AttendanceModeSession {
		event = r.recordSession(ctx, identityID, now, score)
	} else {
		event = r.recordCooldown(ctx, identityID, now, score)
	}
	r.finish(event)
	return event.Outcome
}

// Cached reports whether identityID is already recorded for the window or
// session covering now. A true result means Record would not write.
func (r *Recorder) Cached(identityID int64, now time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.opts.Mode == config.AttendanceModeSession {
		entry, ok := r.sessions[identityID]
		if !ok {
			return false
		}
		if !entry.validUntil.IsZero() && !now.Before(entry.validUntil) {
			delete(r.sessions, identityID)
			return false
		}
		return true
	}
	last, ok := r.last[identityID]
	return ok && now.Sub(last) < r.opts.Cooldown
}

func (r *Recorder) recordCooldown(ctx context.Context, identityID int64, now time.Time, score float64) Event {
	mark := r.newMark(identityID, 0, now, score)
	res, err := r.store.UpsertMark(ctx, mark)
	if err != nil {
		return Event{IdentityID: identityID, Outcome: StoreError, At: now, Score: score,
			Err: &StoreFailure{Op: "upsert mark", IdentityID: identityID, Err: err}}
	}
	r.mu.Lock()
	if prev, ok := r.last[identityID]; !ok || now.After(prev) {
		r.last[identityID] = now
	}
	r.mu.Unlock()
	return Event{IdentityID: identityID, Outcome: outcomeFor(res), At: now, Score: score}
}

func (r *Recorder) recordSession(ctx context.Context, identityID int64, now time.Time, score float64) Event {
	session, ok, err := r.resolveSession(ctx, identityID, now)
	if err != nil {
		return Event{IdentityID: identityID, Outcome: StoreError, At: now, Score: score,
			Err: &StoreFailure{Op: "lookup session", IdentityID: identityID, Err: err}}
	}
	if !ok {
		return Event{IdentityID: identityID, Outcome: NoActiveSession, At: now, Score: score}
	}

	mark := r.newMark(identityID, session.ID, now, score)
	res, err := r.store.UpsertMark(ctx, mark)
	if err != nil {
		return Event{IdentityID: identityID, Outcome: StoreError, SessionID: session.ID, At: now, Score: score,
			Err: &StoreFailure{Op: "upsert mark", IdentityID: identityID, Err: err}}
	}

	entry := sessionEntry{session: session, validUntil: session.EndsAt}
	if entry.validUntil.IsZero() && r.opts.SessionID == 0 {
		// A looked-up session with no known end is trusted for one cooldown
		// window so the next sighting resolves the schedule again.
		entry.validUntil = now.Add(r.opts.Cooldown)
	}
	r.mu.Lock()
	r.sessions[identityID] = entry
	r.mu.Unlock()
	return Event{IdentityID: identityID, Outcome: outcomeFor(res), SessionID: session.ID, At: now, Score: score}
}

func (r *Recorder) resolveSession(ctx context.Context, identityID int64, now time.Time) (Session, bool, error) {
	if r.opts.SessionID != 0 {
		return Session{ID: r.opts.SessionID}, true, nil
	}
	return r.store.LookupActiveSession(ctx, identityID, now)
}

func (r *Recorder) newMark(identityID, sessionID int64, now time.Time, score float64) Mark {
	return Mark{
		EventID:    r.opts.NewEventID(),
		IdentityID: identityID,
		SessionID:  sessionID,
		DateKey:    now.In(r.opts.Location).Format(dateKeyLayout),
		At:         now,
		Score:      score,
		Source:     r.opts.Source,
	}
}

func outcomeFor(res UpsertResult) Outcome {
	if res == Inserted {
		return Marked
	}
	return AlreadyMarked
}

// finish counts and logs a final outcome and notifies the observer.
func (r *Recorder) finish(event Event) {
	r.mu.Lock()
	switch event.Outcome {
	case Marked:
		r.stats.Marked++
	case AlreadyMarked:
		r.stats.AlreadyMarked++
	case NoActiveSession:
		r.stats.NoSession++
	case StoreError:
		r.stats.StoreErrors++
		r.noteErrorLocked(event.Err, event.At)
	}
	observers := r.observers
	r.mu.Unlock()

	logger := r.logger.With(logging.IdentityID(event.IdentityID))
	switch event.Outcome {
	case Marked:
		logger.Info("attendance marked",
			logging.String(logging.FieldEventType, "attendance_marked"),
			logging.Int64("session_id", event.SessionID),
			logging.Float64("score", event.Score),
		)
	case NoActiveSession:
		logger.Info("no active session",
			logging.String(logging.FieldEventType, "attendance_no_session"),
		)
	case StoreError:
		kind := ""
		var failure *StoreFailure
		if errors.As(event.Err, &failure) {
			kind = failure.ErrorKind()
		}
		logging.WarnWithContext(logger, "attendance write failed", "attendance_store_error",
			logging.Error(event.Err),
			logging.String("error_kind", kind),
			logging.String(logging.FieldImpact, "mark not recorded; retried on the next sighting"),
			logging.String(logging.FieldErrorHint, "check attendance store connectivity"),
		)
	default:
		logger.Debug("attendance already recorded",
			logging.String("outcome", event.Outcome.String()),
		)
	}
	if r.opts.Observer != nil {
		r.opts.Observer(event)
	}
	for _, fn := range observers {
		fn(event)
	}
}

func (r *Recorder) noteErrorLocked(err error, at time.Time) {
	if err == nil {
		return
	}
	r.stats.LastError = err.Error()
	r.stats.LastErrorAt = at
	var classifier ErrorClassifier
	if errors.As(err, &classifier) {
		r.stats.LastErrorKind = classifier.ErrorKind()
	}
}

// Stats returns a copy of the recorder counters.
func (r *Recorder) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stats
}

// Close is a no-op for the synchronous recorder.
func (r *Recorder) Close(context.Context) error {
	return nil
}
