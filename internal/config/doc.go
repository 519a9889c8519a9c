// Package config loads, normalizes, and validates rollcall configuration data.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, loads a local .env file, and honours
// environment fallbacks such as ROLLCALL_FACE_SERVICE_URL, DATABASE_URL and
// the DB_HOST/DB_NAME/DB_USER/DB_PASS set shared with the attendance web
// application. The Config type centralizes every knob the daemon and CLI need.
//
// Always obtain settings through this package so downstream code receives
// sanitized paths, canonical names, and ConfigError values that identify the
// offending key.
package config
