package attendance

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// UpsertResult is the store's answer to a mark write.
type UpsertResult int

const (
	// Inserted means a new attendance row was created.
	Inserted UpsertResult = iota
	// Updated means an existing row for the same key was refreshed.
	Updated
	// Conflict means the period was already recorded and nothing changed.
	Conflict
)

func (r UpsertResult) String() string {
	switch r {
	case Inserted:
		return "inserted"
	case Updated:
		return "updated"
	case Conflict:
		return "conflict"
	default:
		return fmt.Sprintf("unknown(%d)", int(r))
	}
}

// Mark is one attendance write.
type Mark struct {
	EventID    string
	IdentityID int64
	// SessionID is 0 in cooldown mode.
	SessionID int64
	// DateKey is the local calendar day, YYYY-MM-DD.
	DateKey string
	At      time.Time
	Score   float64
	Source  string
}

// Session is a scheduled, time-bounded activity marks are recorded against.
type Session struct {
	ID int64
	// EndsAt is zero when the end is unknown.
	EndsAt time.Time
}

// Store persists marks and resolves sessions.
type Store interface {
	UpsertMark(ctx context.Context, m Mark) (UpsertResult, error)
	LookupActiveSession(ctx context.Context, identityID int64, now time.Time) (Session, bool, error)
}

// Entry is a stored mark as listed back to operators.
type Entry struct {
	EventID    string    `json:"event_id,omitempty"`
	IdentityID int64     `json:"identity_id"`
	SessionID  int64     `json:"session_id,omitempty"`
	DateKey    string    `json:"date_key,omitempty"`
	Status     string    `json:"status"`
	At         time.Time `json:"at"`
	Score      float64   `json:"score,omitempty"`
	Source     string    `json:"source,omitempty"`
}

// Lister is implemented by stores that can list recent marks.
type Lister interface {
	RecentMarks(ctx context.Context, limit int) ([]Entry, error)
}

// Outcome is the result of one Record call.
type Outcome int

const (
	// Marked means a new mark was written.
	Marked Outcome = iota
	// AlreadyMarked means the identity was already recorded for the window or session.
	AlreadyMarked
	// NoActiveSession means session mode found no session for the identity.
	NoActiveSession
	// StoreError means the store failed; nothing was cached.
	StoreError
	// Pending means the mark was queued for the background writer.
	Pending
)

func (o Outcome) String() string {
	switch o {
	case Marked:
		return "marked"
	case AlreadyMarked:
		return "already_marked"
	case NoActiveSession:
		return "no_active_session"
	case StoreError:
		return "store_error"
	case Pending:
		return "pending"
	default:
		return fmt.Sprintf("unknown(%d)", int(o))
	}
}

// ErrQueueFull reports a mark dropped because the write queue was full.
var ErrQueueFull = errors.New("attendance queue full")

// ErrorClassifier lets store errors declare a kind for status reporting.
// Known kinds are "busy", "constraint" and "unavailable".
type ErrorClassifier interface {
	ErrorKind() string
}

// StoreFailure wraps a store error with the operation that produced it.
// It is logged and surfaced in status; Record never returns it.
type StoreFailure struct {
	Op         string
	IdentityID int64
	Err        error
}

func (e *StoreFailure) Error() string {
	return fmt.Sprintf("attendance %s for identity %d: %v", e.Op, e.IdentityID, e.Err)
}

func (e *StoreFailure) Unwrap() error { return e.Err }

// ErrorKind classifies the underlying store error.
func (e *StoreFailure) ErrorKind() string {
	var classifier ErrorClassifier
	if errors.As(e.Err, &classifier) {
		return classifier.ErrorKind()
	}
	if errors.Is(e.Err, ErrQueueFull) {
		return "busy"
	}
	return "unavailable"
}

// Event reports a final outcome, including those produced by the queue worker.
type Event struct {
	IdentityID int64
	Outcome    Outcome
	SessionID  int64
	At         time.Time
	Score      float64
	Err        error
}

// Observer receives final outcomes.
type Observer func(Event)

// Stats summarises recorder activity.
type Stats struct {
	Marked        int       `json:"marked"`
	AlreadyMarked int       `json:"already_marked"`
	NoSession     int       `json:"no_session"`
	StoreErrors   int       `json:"store_errors"`
	Pending       int       `json:"pending"`
	Dropped       int       `json:"dropped"`
	LastError     string    `json:"last_error,omitempty"`
	LastErrorKind string    `json:"last_error_kind,omitempty"`
	LastErrorAt   time.Time `json:"last_error_at,omitempty"`
}

// KindError attaches a classification to a store error.
type KindError struct {
	Kind string
	Err  error
}

func (e *KindError) Error() string { return e.Err.Error() }

func (e *KindError) Unwrap() error { return e.Err }

// ErrorKind implements ErrorClassifier.
func (e *KindError) ErrorKind() string { return e.Kind }

// Classify wraps err with kind. A nil err or empty kind returns err unchanged.
func Classify(kind string, err error) error {
	if err == nil || kind == "" {
		return err
	}
	return &KindError{Kind: kind, Err: err}
}
