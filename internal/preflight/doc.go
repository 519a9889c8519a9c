// Package preflight provides readiness checks for the directories, external
// binaries, face service and attendance store that rollcall depends on.
//
// The daemon runs RunAll once at startup and logs every failed check; the
// CLI "rollcall deps" command prints the same results as a table.
package preflight
