package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// ConfigError reports an invalid startup configuration.
type ConfigError struct {
	Key string
	Err error
}

func (e *ConfigError) Error() string {
	if e.Key == "" {
		return fmt.Sprintf("invalid configuration: %v", e.Err)
	}
	return fmt.Sprintf("invalid configuration: %s: %v", e.Key, e.Err)
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

func invalid(key, msg string) error {
	return &ConfigError{Key: key, Err: errors.New(msg)}
}

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateLogging(); err != nil {
		return err
	}
	if err := c.validateCamera(); err != nil {
		return err
	}
	if err := c.validateRecognition(); err != nil {
		return err
	}
	if err := c.validateAttendance(); err != nil {
		return err
	}
	if err := c.validateDatabase(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "console", "json":
	default:
		return invalid("logging.format", fmt.Sprintf("unsupported value %q (want console or json)", c.Logging.Format))
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return invalid("logging.level", fmt.Sprintf("unsupported value %q", c.Logging.Level))
	}
	if c.Logging.RetentionDays < 0 {
		return invalid("logging.retention_days", "must be zero or positive")
	}
	return nil
}

func (c *Config) validateCamera() error {
	if c.Camera.MaxIndex <= 0 {
		return invalid("camera.max_index", "must be positive")
	}
	if len(c.Camera.DiscoveryBackends) == 0 {
		return invalid("camera.discovery_backends", "must list at least one backend")
	}
	if len(c.Camera.OpenBackends) == 0 {
		return invalid("camera.open_backends", "must list at least one backend")
	}
	if err := ensurePositiveMap(map[string]int{
		"camera.width":                    c.Camera.Width,
		"camera.height":                   c.Camera.Height,
		"camera.fps":                      c.Camera.FPS,
		"camera.max_consecutive_failures": c.Camera.MaxConsecutiveFailures,
		"camera.reinit_interval_seconds":  c.Camera.ReinitIntervalSeconds,
		"camera.max_reinit_failures":      c.Camera.MaxReinitFailures,
	}); err != nil {
		return err
	}
	if c.Camera.ReleaseWaitMillis < 0 {
		return invalid("camera.release_wait_ms", "must be zero or positive")
	}
	if c.Camera.UnavailablePauseSeconds < c.Camera.ReinitIntervalSeconds {
		return invalid("camera.unavailable_pause_seconds", "must not be shorter than camera.reinit_interval_seconds")
	}
	if c.Camera.MaxUnavailablePauses < 0 {
		return invalid("camera.max_unavailable_pauses", "must be zero or positive")
	}
	return nil
}

func (c *Config) validateRecognition() error {
	parsed, err := url.Parse(c.Recognition.FaceServiceURL)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return invalid("recognition.face_service_url", fmt.Sprintf("%q is not an absolute URL", c.Recognition.FaceServiceURL))
	}
	if c.Recognition.Threshold < -1 || c.Recognition.Threshold > 1 {
		return invalid("recognition.threshold", "must be between -1 and 1")
	}
	if err := ensurePositiveMap(map[string]int{
		"recognition.sample_every":            c.Recognition.SampleEvery,
		"recognition.request_timeout_seconds": c.Recognition.RequestTimeoutSeconds,
	}); err != nil {
		return err
	}
	switch c.Recognition.Index {
	case IndexExact:
	case IndexHNSW:
		if c.Recognition.HNSWCandidates <= 0 {
			return invalid("recognition.hnsw_candidates", "must be positive when recognition.index is hnsw")
		}
		if c.Recognition.HNSWMinTemplates < 0 {
			return invalid("recognition.hnsw_min_templates", "must be zero or positive")
		}
	default:
		return invalid("recognition.index", fmt.Sprintf("unsupported value %q (want exact or hnsw)", c.Recognition.Index))
	}
	return nil
}

func (c *Config) validateAttendance() error {
	if !c.Attendance.Enabled {
		return nil
	}
	switch c.Attendance.Mode {
	case AttendanceModeCooldown:
		if c.Attendance.CooldownSeconds <= 0 {
			return invalid("attendance.cooldown_seconds", "must be positive in cooldown mode")
		}
	case AttendanceModeSession:
		if c.Attendance.SessionID < 0 {
			return invalid("attendance.session_id", "must be zero (lookup) or a positive session id")
		}
	default:
		return invalid("attendance.mode", fmt.Sprintf("unsupported value %q (want cooldown or session)", c.Attendance.Mode))
	}
	if c.Attendance.QueueSize < 0 {
		return invalid("attendance.queue_size", "must be zero or positive")
	}
	switch c.Attendance.Store {
	case StoreSQLite, StoreMySQL, StorePostgres:
	default:
		return invalid("attendance.store", fmt.Sprintf("unsupported value %q (want sqlite, mysql or postgres)", c.Attendance.Store))
	}
	return nil
}

func (c *Config) validateDatabase() error {
	if c.Database.MaxOpenConns <= 0 {
		return invalid("database.max_open_conns", "must be positive")
	}
	if c.Database.MaxIdleConns < 0 {
		return invalid("database.max_idle_conns", "must be zero or positive")
	}
	if !c.Attendance.Enabled {
		return nil
	}
	switch c.Attendance.Store {
	case StoreMySQL:
		if c.Database.MySQLDSN == "" && (strings.TrimSpace(c.Database.MySQLHost) == "" || strings.TrimSpace(c.Database.MySQLName) == "") {
			return invalid("database.mysql_dsn", "set mysql_dsn or mysql_host and mysql_name (DB_HOST/DB_NAME) for the mysql store")
		}
	case StorePostgres:
		if c.Database.PostgresURL == "" {
			return invalid("database.postgres_url", "must be set (or export DATABASE_URL) for the postgres store")
		}
	}
	return nil
}

func ensurePositiveMap(values map[string]int) error {
	for key, value := range values {
		if value <= 0 {
			return invalid(key, "must be positive")
		}
	}
	return nil
}
