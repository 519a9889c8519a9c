// Package store opens the attendance backend selected by configuration.
//
// Three backends are available: a local SQLite database (the default), an
// existing MySQL attendance schema, and PostgreSQL with a pgvector template
// cache. Optional capabilities such as the template cache and schedule import
// are discovered with type assertions on the returned Backend.
package store
