// Package sqlitestore keeps attendance marks, a local class schedule and
// cached template encodings in a single SQLite database.
//
// The schema is created on first open and versioned; a database written by
// a different schema version is rejected with ErrSchemaMismatch rather than
// migrated. Writes retry briefly on SQLITE_BUSY.
package sqlitestore
