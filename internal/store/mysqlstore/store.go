package mysqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/go-sql-driver/mysql"

	"rollcall/internal/attendance"
)

const (
	errDuplicateEntry   = 1062
	errLockWaitTimeout  = 1205
	errDeadlock         = 1213
	errTableMissing     = 1146
	mysqlDateTimeLayout = "2006-01-02 15:04:05"
)

// Options configures Open.
type Options struct {
	MaxOpenConns int
	MaxIdleConns int
	// Presence creates the rollcall_presence table used for sessionless marks.
	Presence bool
	Location *time.Location
}

// Store is the MySQL attendance backend.
type Store struct {
	db       *sql.DB
	loc      *time.Location
	presence bool
}

// Open connects with dsn and verifies the connection.
func Open(ctx context.Context, dsn string, opts Options) (*Store, error) {
	if dsn == "" {
		return nil, errors.New("mysql DSN is required")
	}
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("open mysql: %w", err)
	}
	if opts.MaxOpenConns > 0 {
		db.SetMaxOpenConns(opts.MaxOpenConns)
	}
	if opts.MaxIdleConns >= 0 {
		db.SetMaxIdleConns(opts.MaxIdleConns)
	}
	db.SetConnMaxLifetime(time.Hour)

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping mysql: %w", classify(err))
	}

	loc := opts.Location
	if loc == nil {
		loc = time.Local
	}
	store := &Store{db: db, loc: loc, presence: opts.Presence}
	if opts.Presence {
		if err := store.ensurePresence(ctx); err != nil {
			_ = db.Close()
			return nil, err
		}
	}
	return store, nil
}

func (s *Store) ensurePresence(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS rollcall_presence (
			id BIGINT AUTO_INCREMENT PRIMARY KEY,
			event_id VARCHAR(64) NOT NULL,
			identity_id BIGINT NOT NULL,
			date_key DATE NOT NULL,
			status VARCHAR(16) NOT NULL DEFAULT 'present',
			score DOUBLE NOT NULL DEFAULT 0,
			source VARCHAR(32) NOT NULL DEFAULT '',
			first_seen_at DATETIME NOT NULL,
			marked_at DATETIME NOT NULL,
			UNIQUE KEY uniq_identity_day (identity_id, date_key)
		)`)
	if err != nil {
		return fmt.Errorf("ensure rollcall_presence: %w", classify(err))
	}
	return nil
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

// UpsertMark inserts or refreshes a mark. MySQL reports one affected row
// for an insert, two for an update and zero when nothing changed.
func (s *Store) UpsertMark(ctx context.Context, m attendance.Mark) (attendance.UpsertResult, error) {
	at := m.At.In(s.loc).Format(mysqlDateTimeLayout)
	var (
		res sql.Result
		err error
	)
	if m.SessionID != 0 {
		res, err = s.db.ExecContext(ctx, `
			INSERT INTO attendance_records (student_id, session_instance_id, status, check_in_time)
			VALUES (?, ?, 'present', ?)
			ON DUPLICATE KEY UPDATE status = 'present', check_in_time = VALUES(check_in_time)`,
			m.IdentityID, m.SessionID, at)
	} else {
		if !s.presence {
			return 0, attendance.Classify("constraint", errors.New("sessionless marks need the presence table (open with cooldown mode)"))
		}
		res, err = s.db.ExecContext(ctx, `
			INSERT INTO rollcall_presence (event_id, identity_id, date_key, score, source, first_seen_at, marked_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			ON DUPLICATE KEY UPDATE marked_at = VALUES(marked_at), score = GREATEST(score, VALUES(score))`,
			m.EventID, m.IdentityID, m.DateKey, m.Score, m.Source, at, at)
	}
	if err != nil {
		return 0, fmt.Errorf("upsert mark: %w", classify(err))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("upsert mark rows: %w", err)
	}
	return upsertResult(n), nil
}

func upsertResult(affected int64) attendance.UpsertResult {
	switch affected {
	case 1:
		return attendance.Inserted
	case 0:
		return attendance.Conflict
	default:
		return attendance.Updated
	}
}

// LookupActiveSession finds an in-progress session instance the identity
// is enrolled in, with now inside its start and end times.
func (s *Store) LookupActiveSession(ctx context.Context, identityID int64, now time.Time) (attendance.Session, bool, error) {
	local := now.In(s.loc)
	var (
		id  int64
		end string
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT si.id, CONCAT(si.session_date, ' ', ts.end_time)
		FROM student_enrollments se
		JOIN classes c ON se.class_id = c.id
		JOIN timetable_sessions ts ON ts.class_id = c.id
		JOIN session_instances si ON si.timetable_session_id = ts.id AND si.session_date = ?
		WHERE se.student_id = ?
		  AND se.status = 'enrolled'
		  AND c.status = 'active'
		  AND si.status = 'in_progress'
		  AND ? BETWEEN CONCAT(si.session_date, ' ', ts.start_time)
		  AND CONCAT(si.session_date, ' ', ts.end_time)
		ORDER BY ts.start_time
		LIMIT 1`,
		local.Format("2006-01-02"), identityID, local.Format(mysqlDateTimeLayout),
	).Scan(&id, &end)
	if errors.Is(err, sql.ErrNoRows) {
		return attendance.Session{}, false, nil
	}
	if err != nil {
		return attendance.Session{}, false, fmt.Errorf("lookup active session: %w", classify(err))
	}
	session := attendance.Session{ID: id}
	if endsAt, err := time.ParseInLocation(mysqlDateTimeLayout, end, s.loc); err == nil {
		session.EndsAt = endsAt
	}
	return session, true, nil
}

// RecentMarks lists the newest attendance records, including sessionless
// presence rows when that table is in use. The DSN must set parseTime=true.
func (s *Store) RecentMarks(ctx context.Context, limit int) ([]attendance.Entry, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `
		SELECT '' AS event_id, student_id, session_instance_id, '' AS date_key, status, 0 AS score, '' AS source, check_in_time
		FROM attendance_records`
	if s.presence {
		query += `
		UNION ALL
		SELECT event_id, identity_id, 0, DATE_FORMAT(date_key, '%Y-%m-%d'), status, score, source, marked_at
		FROM rollcall_presence`
	}
	query += `
		ORDER BY 8 DESC
		LIMIT ?`

	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("query marks: %w", classify(err))
	}
	defer rows.Close()

	var entries []attendance.Entry
	for rows.Next() {
		var (
			entry attendance.Entry
			at    sql.NullTime
		)
		if err := rows.Scan(&entry.EventID, &entry.IdentityID, &entry.SessionID, &entry.DateKey,
			&entry.Status, &entry.Score, &entry.Source, &at); err != nil {
			return nil, fmt.Errorf("scan mark: %w", err)
		}
		if at.Valid {
			entry.At = at.Time
			if entry.DateKey == "" {
				entry.DateKey = at.Time.In(s.loc).Format("2006-01-02")
			}
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate marks: %w", err)
	}
	return entries, nil
}

// classify tags MySQL errors for status reporting.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		switch myErr.Number {
		case errDuplicateEntry, errTableMissing:
			return attendance.Classify("constraint", err)
		case errLockWaitTimeout, errDeadlock:
			return attendance.Classify("busy", err)
		}
	}
	return attendance.Classify("unavailable", err)
}
