package store

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"rollcall/internal/attendance"
	"rollcall/internal/config"
	"rollcall/internal/faces"
	"rollcall/internal/logging"
	"rollcall/internal/store/mysqlstore"
	"rollcall/internal/store/pgstore"
	"rollcall/internal/store/sqlitestore"
)

// Backend is an attendance store the daemon and CLI can use.
type Backend interface {
	attendance.Store
	attendance.Lister
	Ping(ctx context.Context) error
	Close() error
}

// TemplatePruner removes cached encodings for photos no longer present.
type TemplatePruner interface {
	PruneTemplates(ctx context.Context, keep []string) (int64, error)
}

// Open connects to the backend named by cfg.Attendance.Store.
func Open(ctx context.Context, cfg *config.Config, logger *slog.Logger) (Backend, error) {
	if cfg == nil {
		return nil, fmt.Errorf("open store: config is required")
	}
	logger = logging.NewComponentLogger(logger, "store")
	loc := time.Local

	var (
		backend Backend
		target  string
	)
	switch cfg.Attendance.Store {
	case config.StoreSQLite, "":
		s, err := sqlitestore.Open(cfg.Database.SQLitePath, sqlitestore.Options{Location: loc})
		if err != nil {
			return nil, fmt.Errorf("open sqlite store: %w", err)
		}
		backend, target = s, s.Path()
	case config.StoreMySQL:
		s, err := mysqlstore.Open(ctx, cfg.MySQLConnString(), mysqlstore.Options{
			MaxOpenConns: cfg.Database.MaxOpenConns,
			MaxIdleConns: cfg.Database.MaxIdleConns,
			Presence:     cfg.Attendance.Mode == config.AttendanceModeCooldown,
			Location:     loc,
		})
		if err != nil {
			return nil, fmt.Errorf("open mysql store: %w", err)
		}
		backend, target = s, cfg.Database.MySQLHost+"/"+cfg.Database.MySQLName
	case config.StorePostgres:
		s, err := pgstore.Open(ctx, cfg.Database.PostgresURL, pgstore.Options{
			MaxOpenConns: cfg.Database.MaxOpenConns,
			MaxIdleConns: cfg.Database.MaxIdleConns,
			Location:     loc,
		})
		if err != nil {
			return nil, fmt.Errorf("open postgres store: %w", err)
		}
		backend, target = s, "postgres"
	default:
		return nil, fmt.Errorf("open store: unsupported backend %q", cfg.Attendance.Store)
	}

	logger.Debug("attendance store opened",
		logging.String("backend", Name(cfg)),
		logging.String("target", target),
		logging.Bool("template_cache", TemplateCache(backend) != nil),
	)
	return backend, nil
}

// Name returns the configured backend name.
func Name(cfg *config.Config) string {
	if cfg == nil || cfg.Attendance.Store == "" {
		return config.StoreSQLite
	}
	return cfg.Attendance.Store
}

// TemplateCache returns the backend's template cache, or nil when the
// backend does not keep one.
func TemplateCache(b Backend) faces.TemplateCache {
	if cache, ok := b.(faces.TemplateCache); ok {
		return cache
	}
	return nil
}

// ScheduleImporter returns the backend's schedule importer, or nil when the
// schedule is owned by another system.
func ScheduleImporter(b Backend) attendance.ScheduleImporter {
	if importer, ok := b.(attendance.ScheduleImporter); ok {
		return importer
	}
	return nil
}

// Pruner returns the backend's template pruner, or nil.
func Pruner(b Backend) TemplatePruner {
	if pruner, ok := b.(TemplatePruner); ok {
		return pruner
	}
	return nil
}
