package sqlitestore

import (
	"context"
	"fmt"

	"rollcall/internal/attendance"
)

// ImportSchedule upserts every class, enrolment, timetable session and
// session instance in one transaction. Rows not named in schedule are kept.
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
			INSERT INTO classes (id, code, name, status) VALUES (?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET code = excluded.code, name = excluded.name, status = excluded.status`,
			class.ID, class.Code, class.Name, class.Status); err != nil {
			return report, fmt.Errorf("import class %d: %w", class.ID, classify(err))
		}
		report.Classes++

		for _, student := range class.Students {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO student_enrollments (student_id, class_id, status) VALUES (?, ?, 'enrolled')
				ON CONFLICT(student_id, class_id) DO UPDATE SET status = 'enrolled'`,
				student, class.ID); err != nil {
				return report, fmt.Errorf("import enrolment %d/%d: %w", student, class.ID, classify(err))
			}
			report.Enrollments++
		}

		for _, session := range class.Sessions {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO timetable_sessions (id, class_id, start_time, end_time) VALUES (?, ?, ?, ?)
				ON CONFLICT(id) DO UPDATE SET class_id = excluded.class_id,
					start_time = excluded.start_time, end_time = excluded.end_time`,
				session.ID, class.ID, session.Start, session.End); err != nil {
				return report, fmt.Errorf("import session %d: %w", session.ID, classify(err))
			}
			report.Sessions++

			for _, inst := range session.Instances {
				if _, err := tx.ExecContext(ctx, `
					INSERT INTO session_instances (id, timetable_session_id, session_date, status) VALUES (?, ?, ?, ?)
					ON CONFLICT(id) DO UPDATE SET timetable_session_id = excluded.timetable_session_id,
						session_date = excluded.session_date, status = excluded.status`,
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
