// Package main hosts the rollcall CLI entrypoint and command graph.
//
// The Cobra-based command tree runs the attendance daemon in the foreground,
// translates operator commands into control API calls, and offers offline
// tools that work without a daemon: camera discovery, template cache
// warming, single-image identification, schedule import and configuration
// scaffolding.
//
// Keep this package lean: add new functionality by extending the internal
// packages first, then surface it through dedicated commands or flags here.
package main
