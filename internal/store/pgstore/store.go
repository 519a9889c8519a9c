package pgstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/pgvector/pgvector-go"

	"rollcall/internal/attendance"
	"rollcall/internal/faces"
)

// Options configures Open.
type Options struct {
	MaxOpenConns int
	MaxIdleConns int
	Location     *time.Location
}

// Store is the PostgreSQL attendance backend.
type Store struct {
	db  *sql.DB
	loc *time.Location
}

// Open connects to url, verifies the connection and applies migrations.
func Open(ctx context.Context, url string, opts Options) (*Store, error) {
	if url == "" {
		return nil, errors.New("database URL is required")
	}
	db, err := sql.Open("postgres", url)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if opts.MaxOpenConns > 0 {
		db.SetMaxOpenConns(opts.MaxOpenConns)
	}
	if opts.MaxIdleConns >= 0 {
		db.SetMaxIdleConns(opts.MaxIdleConns)
	}
	db.SetConnMaxLifetime(time.Hour)
	db.SetConnMaxIdleTime(10 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", classify(err))
	}

	loc := opts.Location
	if loc == nil {
		loc = time.Local
	}
	store := &Store{db: db, loc: loc}
	if err := store.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// Ping checks the connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the connection pool.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("closing database connection: %w", err)
	}
	return nil
}

// UpsertMark inserts or refreshes a mark. xmax is zero only for rows the
// statement inserted, which distinguishes Inserted from Updated.
func (s *Store) UpsertMark(ctx context.Context, m attendance.Mark) (attendance.UpsertResult, error) {
	conflict := "(identity_id, date_key) WHERE session_id = 0"
	if m.SessionID != 0 {
		conflict = "(identity_id, session_id) WHERE session_id <> 0"
	}
	query := `
		INSERT INTO attendance_marks
			(event_id, identity_id, session_id, date_key, status, score, source, first_seen_at, marked_at)
		VALUES ($1, $2, $3, $4, 'present', $5, $6, $7, $7)
		ON CONFLICT ` + conflict + `
		DO UPDATE SET status = 'present', marked_at = EXCLUDED.marked_at,
			score = GREATEST(attendance_marks.score, EXCLUDED.score)
		RETURNING (xmax = 0)`

	var inserted bool
	err := s.db.QueryRowContext(ctx, query,
		m.EventID, m.IdentityID, m.SessionID, m.DateKey, m.Score, m.Source, m.At,
	).Scan(&inserted)
	if err != nil {
		return 0, fmt.Errorf("upsert mark: %w", classify(err))
	}
	if inserted {
		return attendance.Inserted, nil
	}
	return attendance.Updated, nil
}

// LookupActiveSession returns the session instance the identity is
// enrolled in at now.
func (s *Store) LookupActiveSession(ctx context.Context, identityID int64, now time.Time) (attendance.Session, bool, error) {
	local := now.In(s.loc)
	rows, err := s.db.QueryContext(ctx, `
		SELECT si.id, to_char(si.session_date, 'YYYY-MM-DD'), to_char(ts.start_time, 'HH24:MI:SS'), to_char(ts.end_time, 'HH24:MI:SS')
		FROM student_enrollments se
		JOIN classes c ON c.id = se.class_id
		JOIN timetable_sessions ts ON ts.class_id = c.id
		JOIN session_instances si ON si.timetable_session_id = ts.id
		WHERE se.student_id = $1
		  AND se.status = 'enrolled'
		  AND c.status = 'active'
		  AND si.session_date = $2::date
		  AND si.status IN ('scheduled', 'in_progress')
		ORDER BY ts.start_time, si.id`,
		identityID, local.Format("2006-01-02"))
	if err != nil {
		return attendance.Session{}, false, fmt.Errorf("query sessions: %w", classify(err))
	}
	defer rows.Close()

	for rows.Next() {
		var (
			id               int64
			date, start, end string
		)
		if err := rows.Scan(&id, &date, &start, &end); err != nil {
			return attendance.Session{}, false, fmt.Errorf("scan session: %w", err)
		}
		from, to, err := attendance.SessionWindow(date, start, end, s.loc)
		if err != nil {
			return attendance.Session{}, false, err
		}
		if attendance.ActiveWindow(local, from, to) {
			return attendance.Session{ID: id, EndsAt: to}, true, nil
		}
	}
	if err := rows.Err(); err != nil {
		return attendance.Session{}, false, fmt.Errorf("iterate sessions: %w", err)
	}
	return attendance.Session{}, false, nil
}

// RecentMarks returns the newest marks first.
func (s *Store) RecentMarks(ctx context.Context, limit int) ([]attendance.Entry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT event_id, identity_id, session_id, to_char(date_key, 'YYYY-MM-DD'), status, score, source, marked_at
		FROM attendance_marks
		ORDER BY marked_at DESC, id DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("query marks: %w", classify(err))
	}
	defer rows.Close()

	var entries []attendance.Entry
	for rows.Next() {
		var entry attendance.Entry
		if err := rows.Scan(&entry.EventID, &entry.IdentityID, &entry.SessionID, &entry.DateKey,
			&entry.Status, &entry.Score, &entry.Source, &entry.At); err != nil {
			return nil, fmt.Errorf("scan mark: %w", err)
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate marks: %w", err)
	}
	return entries, nil
}

// ImportSchedule upserts the schedule in one transaction.
func (s *Store) ImportSchedule(ctx context.Context, schedule *attendance.Schedule) (attendance.ImportReport, error) {
	var report attendance.ImportReport
	if schedule == nil {
		return report, nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return report, fmt.Errorf("begin import tx: %w", classify(err))
	}
	defer func() { _ = tx.Rollback() }()

	for _, class := range schedule.Classes {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO classes (id, code, name, status) VALUES ($1, $2, $3, $4)
			ON CONFLICT (id) DO UPDATE SET code = EXCLUDED.code, name = EXCLUDED.name, status = EXCLUDED.status`,
			class.ID, class.Code, class.Name, class.Status); err != nil {
			return report, fmt.Errorf("import class %d: %w", class.ID, classify(err))
		}
		report.Classes++
		for _, student := range class.Students {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO student_enrollments (student_id, class_id, status) VALUES ($1, $2, 'enrolled')
				ON CONFLICT (student_id, class_id) DO UPDATE SET status = 'enrolled'`,
				student, class.ID); err != nil {
				return report, fmt.Errorf("import enrolment %d/%d: %w", student, class.ID, classify(err))
			}
			report.Enrollments++
		}
		for _, session := range class.Sessions {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO timetable_sessions (id, class_id, start_time, end_time) VALUES ($1, $2, $3::time, $4::time)
				ON CONFLICT (id) DO UPDATE SET class_id = EXCLUDED.class_id,
					start_time = EXCLUDED.start_time, end_time = EXCLUDED.end_time`,
				session.ID, class.ID, session.Start, session.End); err != nil {
				return report, fmt.Errorf("import session %d: %w", session.ID, classify(err))
			}
			report.Sessions++
			for _, inst := range session.Instances {
				if _, err := tx.ExecContext(ctx, `
					INSERT INTO session_instances (id, timetable_session_id, session_date, status) VALUES ($1, $2, $3::date, $4)
					ON CONFLICT (id) DO UPDATE SET timetable_session_id = EXCLUDED.timetable_session_id,
						session_date = EXCLUDED.session_date, status = EXCLUDED.status`,
					inst.ID, session.ID, inst.Date, inst.Status); err != nil {
					return report, fmt.Errorf("import session instance %d: %w", inst.ID, classify(err))
				}
				report.Instances++
			}
		}
	}
	if err := tx.Commit(); err != nil {
		return attendance.ImportReport{}, fmt.Errorf("commit import: %w", classify(err))
	}
	return report, nil
}

// LookupTemplate returns the cached encoding for key.
func (s *Store) LookupTemplate(ctx context.Context, key faces.CacheKey) (faces.Feature, bool, error) {
	var vec pgvector.Vector
	err := s.db.QueryRowContext(ctx,
		"SELECT embedding FROM template_cache WHERE label = $1 AND digest = $2 AND model = $3",
		key.Label, key.Digest, key.Model,
	).Scan(&vec)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("query template cache: %w", classify(err))
	}
	return faces.Feature(vec.Slice()), true, nil
}

// SaveTemplate stores an encoding, replacing any previous one for key.
func (s *Store) SaveTemplate(ctx context.Context, key faces.CacheKey, feature faces.Feature) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO template_cache (label, digest, model, embedding, dim, created_at)
		VALUES ($1, $2, $3, $4, $5, NOW())
		ON CONFLICT (label, digest, model) DO UPDATE SET embedding = EXCLUDED.embedding,
			dim = EXCLUDED.dim, created_at = EXCLUDED.created_at`,
		key.Label, key.Digest, key.Model, pgvector.NewVector([]float32(feature)), len(feature))
	if err != nil {
		return fmt.Errorf("save template cache: %w", classify(err))
	}
	return nil
}

// PruneTemplates removes cache rows whose label is not in keep.
func (s *Store) PruneTemplates(ctx context.Context, keep []string) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		"DELETE FROM template_cache WHERE NOT (label = ANY($1))", pq.Array(keep))
	if err != nil {
		return 0, fmt.Errorf("prune template cache: %w", classify(err))
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// classify tags PostgreSQL errors for status reporting.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch {
		case pqErr.Code.Class() == "23":
			return attendance.Classify("constraint", err)
		case pqErr.Code.Class() == "40", pqErr.Code == "55P03":
			return attendance.Classify("busy", err)
		}
	}
	return attendance.Classify("unavailable", err)
}
