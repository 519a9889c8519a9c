package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory configuration.
type Paths struct {
	StateDir   string `toml:"state_dir"`
	LogDir     string `toml:"log_dir"`
	PhotoDir   string `toml:"photo_dir"`
	CaptureDir string `toml:"capture_dir"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format        string `toml:"format"`
	Level         string `toml:"level"`
	RetentionDays int    `toml:"retention_days"`
}

// Camera contains capture device discovery and recovery settings.
type Camera struct {
	MaxIndex                int      `toml:"max_index"`
	DiscoveryBackends       []string `toml:"discovery_backends"`
	OpenBackends            []string `toml:"open_backends"`
	Width                   int      `toml:"width"`
	Height                  int      `toml:"height"`
	FPS                     int      `toml:"fps"`
	ReleaseWaitMillis       int      `toml:"release_wait_ms"`
	MaxConsecutiveFailures  int      `toml:"max_consecutive_failures"`
	ReinitIntervalSeconds   int      `toml:"reinit_interval_seconds"`
	MaxReinitFailures       int      `toml:"max_reinit_failures"`
	UnavailablePauseSeconds int      `toml:"unavailable_pause_seconds"`
	MaxUnavailablePauses    int      `toml:"max_unavailable_pauses"`
	Hotplug                 bool     `toml:"hotplug"`
	FFmpegBinary            string   `toml:"ffmpeg_binary"`
}

// Recognition contains face service and matching settings.
type Recognition struct {
	FaceServiceURL        string  `toml:"face_service_url"`
	Threshold             float64 `toml:"threshold"`
	SampleEvery           int     `toml:"sample_every"`
	RequestTimeoutSeconds int     `toml:"request_timeout_seconds"`
	Index                 string  `toml:"index"`
	HNSWMinTemplates      int     `toml:"hnsw_min_templates"`
	HNSWCandidates        int     `toml:"hnsw_candidates"`
	WatchPhotos           bool    `toml:"watch_photos"`
}

// Attendance contains recorder settings.
type Attendance struct {
	Enabled         bool   `toml:"enabled"`
	Mode            string `toml:"mode"`
	CooldownSeconds int    `toml:"cooldown_seconds"`
	SessionID       int64  `toml:"session_id"`
	QueueSize       int    `toml:"queue_size"`
	Store           string `toml:"store"`
}

// Database contains connection settings for every supported attendance store.
type Database struct {
	SQLitePath    string `toml:"sqlite_path"`
	MySQLDSN      string `toml:"mysql_dsn"`
	MySQLHost     string `toml:"mysql_host"`
	MySQLName     string `toml:"mysql_name"`
	MySQLUser     string `toml:"mysql_user"`
	MySQLPassword string `toml:"mysql_password"`
	PostgresURL   string `toml:"postgres_url"`
	MaxOpenConns  int    `toml:"max_open_conns"`
	MaxIdleConns  int    `toml:"max_idle_conns"`
}

// API contains the control API listener settings.
type API struct {
	Bind  string `toml:"bind"`
	Token string `toml:"token"`
}

// Config encapsulates all configuration values for rollcall.
//
// Configuration sections by subsystem:
//   - Paths: state, log, photo roster and capture directories
//   - Logging: log format, level, and retention
//   - Camera: device discovery, backend order, and failure recovery
//   - Recognition: face service endpoint, threshold, and sampling rate
//   - Attendance: recorder mode and target store
//   - Database: store connection settings
//   - API: control API bind address and token
type Config struct {
	Paths       Paths       `toml:"paths"`
	Logging     Logging     `toml:"logging"`
	Camera      Camera      `toml:"camera"`
	Recognition Recognition `toml:"recognition"`
	Attendance  Attendance  `toml:"attendance"`
	Database    Database    `toml:"database"`
	API         API         `toml:"api"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath(defaultConfigPath)
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized. A .env file in the working directory is read
// first; variables already present in the environment win.
func Load(path string) (*Config, string, bool, error) {
	_ = godotenv.Load()

	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path == "" {
		if value, ok := os.LookupEnv("ROLLCALL_CONFIG"); ok {
			path = strings.TrimSpace(value)
		}
	}
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := expandPath(defaultConfigPath)
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("rollcall.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates required directories for daemon operation.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.StateDir, c.Paths.LogDir, c.Paths.PhotoDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	if strings.TrimSpace(c.Paths.CaptureDir) != "" {
		if err := os.MkdirAll(c.Paths.CaptureDir, 0o755); err != nil {
			return fmt.Errorf("create capture directory %q: %w", c.Paths.CaptureDir, err)
		}
	}
	return nil
}

// LockPath returns the single-instance lock file location.
func (c *Config) LockPath() string {
	return filepath.Join(c.Paths.StateDir, "rollcall.lock")
}

// PIDPath returns the daemon PID file location.
func (c *Config) PIDPath() string {
	return filepath.Join(c.Paths.StateDir, "rollcall.pid")
}

// FFmpegBinary returns the ffmpeg executable used by the capture backends.
func (c *Config) FFmpegBinary() string {
	if bin := strings.TrimSpace(c.Camera.FFmpegBinary); bin != "" {
		return bin
	}
	return "ffmpeg"
}

// ReleaseWait is the pause after releasing a device before it is reopened.
func (c *Config) ReleaseWait() time.Duration {
	return time.Duration(c.Camera.ReleaseWaitMillis) * time.Millisecond
}

// ReinitInterval is the minimum spacing between camera reinitialisation attempts.
func (c *Config) ReinitInterval() time.Duration {
	return time.Duration(c.Camera.ReinitIntervalSeconds) * time.Second
}

// UnavailablePause caps the pause taken while no camera can be opened.
func (c *Config) UnavailablePause() time.Duration {
	return time.Duration(c.Camera.UnavailablePauseSeconds) * time.Second
}

// Cooldown returns the attendance cooldown window.
func (c *Config) Cooldown() time.Duration {
	return time.Duration(c.Attendance.CooldownSeconds) * time.Second
}

// RequestTimeout returns the face service request timeout.
func (c *Config) RequestTimeout() time.Duration {
	return time.Duration(c.Recognition.RequestTimeoutSeconds) * time.Second
}

// MySQLConnString returns the MySQL DSN, assembling it from the individual
// connection fields when no explicit DSN is configured.
func (c *Config) MySQLConnString() string {
	if dsn := strings.TrimSpace(c.Database.MySQLDSN); dsn != "" {
		return dsn
	}
	host := c.Database.MySQLHost
	if !strings.Contains(host, ":") {
		host += ":3306"
	}
	return fmt.Sprintf("%s:%s@tcp(%s)/%s?parseTime=true&loc=Local", c.Database.MySQLUser, c.Database.MySQLPassword, host, c.Database.MySQLName)
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
