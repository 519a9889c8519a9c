// Package mysqlstore records attendance in the existing MySQL attendance
// database shared with the school web application.
//
// Session marks go to attendance_records keyed by (student_id,
// session_instance_id). Active sessions are resolved through
// student_enrollments, classes, timetable_sessions and session_instances.
// That schema has no place for sessionless marks, so cooldown mode keeps
// them in a rollcall_presence table created on demand.
package mysqlstore
