// Package pgstore keeps attendance marks, a local schedule and cached
// template encodings in PostgreSQL. Encodings are stored as pgvector
// vectors. Migrations are embedded and applied on Open.
package pgstore
