package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeCamera()
	c.normalizeRecognition()
	c.normalizeAttendance()
	if err := c.normalizeDatabase(); err != nil {
		return err
	}
	c.normalizeAPI()
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if strings.TrimSpace(c.Paths.StateDir) == "" {
		c.Paths.StateDir = defaultStateDir
	}
	if c.Paths.StateDir, err = expandPath(c.Paths.StateDir); err != nil {
		return fmt.Errorf("paths.state_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.LogDir) == "" {
		c.Paths.LogDir = filepath.Join(c.Paths.StateDir, "logs")
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.PhotoDir) == "" {
		c.Paths.PhotoDir = defaultPhotoDir
	}
	if c.Paths.PhotoDir, err = expandPath(c.Paths.PhotoDir); err != nil {
		return fmt.Errorf("paths.photo_dir: %w", err)
	}
	if c.Paths.CaptureDir, err = expandPath(strings.TrimSpace(c.Paths.CaptureDir)); err != nil {
		return fmt.Errorf("paths.capture_dir: %w", err)
	}
	return nil
}

func (c *Config) normalizeCamera() {
	c.Camera.DiscoveryBackends = normalizeNames(c.Camera.DiscoveryBackends)
	c.Camera.OpenBackends = normalizeNames(c.Camera.OpenBackends)
	c.Camera.FFmpegBinary = strings.TrimSpace(c.Camera.FFmpegBinary)
}

func (c *Config) normalizeRecognition() {
	c.Recognition.FaceServiceURL = strings.TrimSpace(c.Recognition.FaceServiceURL)
	if value, ok := os.LookupEnv("ROLLCALL_FACE_SERVICE_URL"); ok && strings.TrimSpace(value) != "" {
		c.Recognition.FaceServiceURL = strings.TrimSpace(value)
	}
	if c.Recognition.FaceServiceURL == "" {
		c.Recognition.FaceServiceURL = defaultFaceServiceURL
	}
	c.Recognition.FaceServiceURL = strings.TrimRight(c.Recognition.FaceServiceURL, "/")
	c.Recognition.Index = strings.ToLower(strings.TrimSpace(c.Recognition.Index))
	if c.Recognition.Index == "" {
		c.Recognition.Index = IndexExact
	}
}

func (c *Config) normalizeAttendance() {
	c.Attendance.Mode = strings.ToLower(strings.TrimSpace(c.Attendance.Mode))
	if c.Attendance.Mode == "" {
		c.Attendance.Mode = AttendanceModeCooldown
	}
	c.Attendance.Store = strings.ToLower(strings.TrimSpace(c.Attendance.Store))
	if c.Attendance.Store == "" {
		c.Attendance.Store = StoreSQLite
	}
}

func (c *Config) normalizeDatabase() error {
	var err error
	c.Database.SQLitePath = strings.TrimSpace(c.Database.SQLitePath)
	if c.Database.SQLitePath == "" {
		c.Database.SQLitePath = filepath.Join(c.Paths.StateDir, "rollcall.db")
	}
	if c.Database.SQLitePath, err = expandPath(c.Database.SQLitePath); err != nil {
		return fmt.Errorf("database.sqlite_path: %w", err)
	}

	// The attendance web application shares these variable names.
	lookupInto(&c.Database.MySQLHost, "DB_HOST")
	lookupInto(&c.Database.MySQLName, "DB_NAME")
	lookupInto(&c.Database.MySQLUser, "DB_USER")
	if value, ok := os.LookupEnv("DB_PASS"); ok {
		c.Database.MySQLPassword = value
	}
	c.Database.MySQLDSN = strings.TrimSpace(c.Database.MySQLDSN)
	if c.Database.MySQLDSN == "" {
		if value, ok := os.LookupEnv("MYSQL_DSN"); ok {
			c.Database.MySQLDSN = strings.TrimSpace(value)
		}
	}

	c.Database.PostgresURL = strings.TrimSpace(c.Database.PostgresURL)
	if c.Database.PostgresURL == "" {
		if value, ok := os.LookupEnv("DATABASE_URL"); ok {
			c.Database.PostgresURL = strings.TrimSpace(value)
		}
	}
	return nil
}

func (c *Config) normalizeAPI() {
	c.API.Bind = strings.TrimSpace(c.API.Bind)
	if c.API.Bind == "" {
		c.API.Bind = defaultAPIBind
	}
	c.API.Token = strings.TrimSpace(c.API.Token)
	if c.API.Token == "" {
		if value, ok := os.LookupEnv("ROLLCALL_API_TOKEN"); ok {
			c.API.Token = strings.TrimSpace(value)
		}
	}
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if c.Logging.Format == "" {
		c.Logging.Format = defaultLogFormat
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
	if value, ok := os.LookupEnv("ROLLCALL_LOG_LEVEL"); ok && strings.TrimSpace(value) != "" {
		c.Logging.Level = strings.ToLower(strings.TrimSpace(value))
	}
}

// lookupInto overrides field with the named environment variable when it is set.
func lookupInto(field *string, key string) {
	if value, ok := os.LookupEnv(key); ok && strings.TrimSpace(value) != "" {
		*field = strings.TrimSpace(value)
	}
	*field = strings.TrimSpace(*field)
}

func normalizeNames(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, value := range values {
		name := strings.ToLower(strings.TrimSpace(value))
		if name == "" {
			continue
		}
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}
		out = append(out, name)
	}
	return out
}
