package config

const (
	defaultConfigPath              = "~/.config/rollcall/config.toml"
	defaultStateDir                = "~/.local/share/rollcall"
	defaultLogDir                  = "~/.local/share/rollcall/logs"
	defaultPhotoDir                = "~/.local/share/rollcall/photos"
	defaultCaptureDir              = "~/.local/share/rollcall/captures"
	defaultLogFormat               = "console"
	defaultLogLevel                = "info"
	defaultLogRetentionDays        = 30
	defaultCameraMaxIndex          = 20
	defaultCameraWidth             = 640
	defaultCameraHeight            = 480
	defaultCameraFPS               = 30
	defaultReleaseWaitMillis       = 500
	defaultMaxConsecutiveFailures  = 5
	defaultReinitIntervalSeconds   = 2
	defaultMaxReinitFailures       = 5
	defaultUnavailablePauseSeconds = 30
	defaultFaceServiceURL          = "http://127.0.0.1:8000"
	defaultThreshold               = 0.4
	defaultSampleEvery             = 5
	defaultRequestTimeoutSeconds   = 30
	defaultHNSWMinTemplates        = 256
	defaultHNSWCandidates          = 16
	defaultCooldownSeconds         = 30
	defaultMySQLHost               = "localhost"
	defaultMySQLName               = "fullattend_db"
	defaultMySQLUser               = "root"
	defaultMaxOpenConns            = 4
	defaultMaxIdleConns            = 2
	defaultAPIBind                 = "127.0.0.1:7488"

	// AttendanceModeCooldown marks an identity at most once per cooldown window.
	AttendanceModeCooldown = "cooldown"
	// AttendanceModeSession marks an identity once per resolved session.
	AttendanceModeSession = "session"

	// StoreSQLite keeps attendance in a local SQLite database.
	StoreSQLite = "sqlite"
	// StoreMySQL writes into an existing attendance MySQL schema.
	StoreMySQL = "mysql"
	// StorePostgres keeps attendance and cached templates in Postgres.
	StorePostgres = "postgres"

	// IndexExact scores every template.
	IndexExact = "exact"
	// IndexHNSW prefilters candidates through an HNSW graph before exact scoring.
	IndexHNSW = "hnsw"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			StateDir:   defaultStateDir,
			LogDir:     defaultLogDir,
			PhotoDir:   defaultPhotoDir,
			CaptureDir: defaultCaptureDir,
		},
		Logging: Logging{
			Format:        defaultLogFormat,
			Level:         defaultLogLevel,
			RetentionDays: defaultLogRetentionDays,
		},
		Camera: Camera{
			MaxIndex:                defaultCameraMaxIndex,
			DiscoveryBackends:       []string{"v4l2", "v4l2-mjpeg", "gstreamer"},
			OpenBackends:            []string{"v4l2", "v4l2-mjpeg", "gstreamer"},
			Width:                   defaultCameraWidth,
			Height:                  defaultCameraHeight,
			FPS:                     defaultCameraFPS,
			ReleaseWaitMillis:       defaultReleaseWaitMillis,
			MaxConsecutiveFailures:  defaultMaxConsecutiveFailures,
			ReinitIntervalSeconds:   defaultReinitIntervalSeconds,
			MaxReinitFailures:       defaultMaxReinitFailures,
			UnavailablePauseSeconds: defaultUnavailablePauseSeconds,
			Hotplug:                 true,
		},
		Recognition: Recognition{
			FaceServiceURL:        defaultFaceServiceURL,
			Threshold:             defaultThreshold,
			SampleEvery:           defaultSampleEvery,
			RequestTimeoutSeconds: defaultRequestTimeoutSeconds,
			Index:                 IndexExact,
			HNSWMinTemplates:      defaultHNSWMinTemplates,
			HNSWCandidates:        defaultHNSWCandidates,
			WatchPhotos:           true,
		},
		Attendance: Attendance{
			Enabled:         true,
			Mode:            AttendanceModeCooldown,
			CooldownSeconds: defaultCooldownSeconds,
			Store:           StoreSQLite,
		},
		Database: Database{
			MySQLHost:    defaultMySQLHost,
			MySQLName:    defaultMySQLName,
			MySQLUser:    defaultMySQLUser,
			MaxOpenConns: defaultMaxOpenConns,
			MaxIdleConns: defaultMaxIdleConns,
		},
		API: API{
			Bind: defaultAPIBind,
		},
	}
}
