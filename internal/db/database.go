package db

import (
	"context"
	"fmt"
	stlog "log"
	"strings"
	"time"

	_ "github.com/lib/pq"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
	_ "modernc.org/sqlite"

	"github.com/begonlabs/unified-agent-pro-sub001/internal/models"
)

// Open connects to the database. Postgres goes through lib/pq and sqlite
// through the pure-Go modernc driver, both behind gorm.
func Open(driver, dsn string) (*gorm.DB, error) {
	if dsn == "" {
		return nil, fmt.Errorf("database DSN cannot be empty")
	}

	var dialector gorm.Dialector
	switch strings.ToLower(driver) {
	case "postgres":
		dialector = postgres.New(postgres.Config{DriverName: "postgres", DSN: dsn})
	case "sqlite", "":
		dialector = sqlite.New(sqlite.Config{DriverName: "sqlite", DSN: dsn})
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}

	gdb, err := gorm.Open(dialector, &gorm.Config{
		Logger: newGormLogger(zerolog.GlobalLevel()),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if dialector.Name() == "sqlite" {
		// One writer at a time avoids SQLITE_BUSY under concurrent webhooks.
		sqlDB, err := gdb.DB()
		if err != nil {
			return nil, fmt.Errorf("failed to access sql.DB: %w", err)
		}
		sqlDB.SetMaxOpenConns(1)
	}

	log.Info().Str("driver", dialector.Name()).Msg("Database connection established")
	return gdb, nil
}

// Migrate runs AutoMigrate for every pipeline table.
func Migrate(gdb *gorm.DB) error {
	if gdb == nil {
		return fmt.Errorf("database not initialized")
	}
	all := models.All()
	if err := gdb.AutoMigrate(all...); err != nil {
		return fmt.Errorf("failed to auto-migrate database: %w", err)
	}
	log.Info().Int("models_migrated", len(all)).Msg("Database migration completed")
	return nil
}

// Ping checks connectivity for the health endpoint.
func Ping(ctx context.Context, gdb *gorm.DB) error {
	sqlDB, err := gdb.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Close releases the underlying connection pool.
func Close(gdb *gorm.DB) error {
	sqlDB, err := gdb.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// newGormLogger writes gorm output through the global zerolog logger.
func newGormLogger(level zerolog.Level) gormlogger.Interface {
	var gormLevel gormlogger.LogLevel
	switch {
	case level == zerolog.Disabled:
		gormLevel = gormlogger.Silent
	case level <= zerolog.DebugLevel:
		gormLevel = gormlogger.Info
	case level == zerolog.InfoLevel, level == zerolog.WarnLevel:
		gormLevel = gormlogger.Warn
	default:
		gormLevel = gormlogger.Error
	}

	return gormlogger.New(
		stlog.New(log.Logger, "", 0),
		gormlogger.Config{
			SlowThreshold:             200 * time.Millisecond,
			LogLevel:                  gormLevel,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)
}
