package sqlitestore

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"rollcall/internal/attendance"
)

// UpsertMark writes m keyed by (identity, date) when SessionID is 0 and by
// (identity, session) otherwise. An existing row is refreshed and reported
// as Updated; losing an insert race is reported as Conflict.
func (s *Store) UpsertMark(ctx context.Context, m attendance.Mark) (attendance.UpsertResult, error) {
	at := formatTime(m.At)
	var (
		res sql.Result
		err error
	)
	if m.SessionID == 0 {
		res, err = s.execWithRetry(ctx, `
			UPDATE attendance_marks
			SET marked_at = ?, score = MAX(score, ?)
			WHERE identity_id = ? AND session_id = 0 AND date_key = ?`,
			at, m.Score, m.IdentityID, m.DateKey)
	} else {
		res, err = s.execWithRetry(ctx, `
			UPDATE attendance_marks
			SET status = 'present', marked_at = ?, score = MAX(score, ?)
			WHERE identity_id = ? AND session_id = ?`,
			at, m.Score, m.IdentityID, m.SessionID)
	}
	if err != nil {
		return 0, fmt.Errorf("update mark: %w", classify(err))
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return attendance.Updated, nil
	}

	_, err = s.execWithRetry(ctx, `
		INSERT INTO attendance_marks
			(event_id, identity_id, session_id, date_key, status, score, source, first_seen_at, marked_at)
		VALUES (?, ?, ?, ?, 'present', ?, ?, ?, ?)`,
		m.EventID, m.IdentityID, m.SessionID, m.DateKey, m.Score, m.Source, at, at)
	if err != nil {
		if isConstraint(err) {
			return attendance.Conflict, nil
		}
		return 0, fmt.Errorf("insert mark: %w", classify(err))
	}
	return attendance.Inserted, nil
}

// RecentMarks returns the newest marks first.
func (s *Store) RecentMarks(ctx context.Context, limit int) ([]attendance.Entry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT event_id, identity_id, session_id, date_key, status, score, source, marked_at
		FROM attendance_marks
		ORDER BY marked_at DESC, id DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query marks: %w", classify(err))
	}
	defer rows.Close()

	var entries []attendance.Entry
	for rows.Next() {
		var (
			entry    attendance.Entry
			markedAt string
		)
		if err := rows.Scan(&entry.EventID, &entry.IdentityID, &entry.SessionID, &entry.DateKey,
			&entry.Status, &entry.Score, &entry.Source, &markedAt); err != nil {
			return nil, fmt.Errorf("scan mark: %w", err)
		}
		entry.At = parseTime(markedAt)
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate marks: %w", err)
	}
	return entries, nil
}

// LookupActiveSession returns the session instance the identity is
// enrolled in at now. Cancelled and completed instances are ignored.
func (s *Store) LookupActiveSession(ctx context.Context, identityID int64, now time.Time) (attendance.Session, bool, error) {
	local := now.In(s.loc)
	rows, err := s.db.QueryContext(ctx, `
		SELECT si.id, si.session_date, ts.start_time, ts.end_time
		FROM student_enrollments se
		JOIN classes c ON c.id = se.class_id
		JOIN timetable_sessions ts ON ts.class_id = c.id
		JOIN session_instances si ON si.timetable_session_id = ts.id
		WHERE se.student_id = ?
		  AND se.status = 'enrolled'
		  AND c.status = 'active'
		  AND si.session_date = ?
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
