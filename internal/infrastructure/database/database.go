package database

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"
	"github.com/mattn/go-sqlite3"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Dialect identifies the backing database.
type Dialect string

const (
	SQLite   Dialect = "sqlite"
	Postgres Dialect = "postgres"
)

// SlowQueryThreshold is the duration above which queries are logged as warnings.
const SlowQueryThreshold = 200 * time.Millisecond

// DialectFor inspects a DSN.
func DialectFor(dsn string) Dialect {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		return Postgres
	}
	return SQLite
}

// Open connects to dsn and migrates the given models.
func Open(dsn string, log *zap.Logger, models ...any) (*gorm.DB, error) {
	if log == nil {
		log = zap.NewNop()
	}

	var dialector gorm.Dialector
	dialect := DialectFor(dsn)
	switch dialect {
	case Postgres:
		dialector = postgres.New(postgres.Config{DriverName: "postgres", DSN: dsn})
	default:
		dialector = sqlite.Open(strings.TrimPrefix(dsn, "sqlite://"))
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		PrepareStmt: false,
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
		Logger: NewGormLogger(log),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if dialect == SQLite {
		sqlDB, err := db.DB()
		if err != nil {
			return nil, fmt.Errorf("failed to get database handle: %w", err)
		}
		// One writer keeps in-memory databases coherent across the pool.
		sqlDB.SetMaxOpenConns(1)
		for _, pragma := range []string{
			"PRAGMA journal_mode=WAL",
			"PRAGMA busy_timeout=5000",
			"PRAGMA synchronous=NORMAL",
		} {
			if err := db.Exec(pragma).Error; err != nil {
				return nil, fmt.Errorf("failed to apply %q: %w", pragma, err)
			}
		}
	}

	if len(models) > 0 {
		if err := db.AutoMigrate(models...); err != nil {
			if !strings.Contains(err.Error(), "already exists") {
				return nil, fmt.Errorf("failed to migrate database: %w", err)
			}
		}
	}
	return db, nil
}

// Close releases the underlying connection pool.
func Close(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// WithRetry runs fn, retrying SQLite busy/locked errors with a linear backoff.
func WithRetry(fn func() error, maxRetries int) error {
	var err error
	for i := 0; i < maxRetries; i++ {
		err = fn()
		if err == nil {
			return nil
		}
		if !Busy(err) {
			return err
		}
		time.Sleep(time.Millisecond * time.Duration(50*(i+1)))
	}
	return fmt.Errorf("operation failed after %d retries: %w", maxRetries, err)
}

// Busy reports whether err is a transient SQLite lock error.
func Busy(err error) bool {
	var sqliteErr sqlite3.Error
	return errors.As(err, &sqliteErr) && (sqliteErr.Code == sqlite3.ErrBusy || sqliteErr.Code == sqlite3.ErrLocked)
}

// gormLogger routes gorm output to zap.
type gormLogger struct {
	log   *zap.Logger
	level logger.LogLevel
}

// NewGormLogger returns a gorm logger that writes errors and slow queries
// at warn level and everything else at debug.
func NewGormLogger(log *zap.Logger) logger.Interface {
	level := logger.Warn
	if log.Core().Enabled(zap.DebugLevel) {
		level = logger.Info
	}
	return &gormLogger{log: log.Named("gorm"), level: level}
}

func (l *gormLogger) LogMode(level logger.LogLevel) logger.Interface {
	return &gormLogger{log: l.log, level: level}
}

func (l *gormLogger) Info(ctx context.Context, msg string, data ...any) {
	if l.level >= logger.Info {
		l.log.Info(fmt.Sprintf(msg, data...))
	}
}

func (l *gormLogger) Warn(ctx context.Context, msg string, data ...any) {
	if l.level >= logger.Warn {
		l.log.Warn(fmt.Sprintf(msg, data...))
	}
}

func (l *gormLogger) Error(ctx context.Context, msg string, data ...any) {
	if l.level >= logger.Error {
		l.log.Error(fmt.Sprintf(msg, data...))
	}
}

func (l *gormLogger) Trace(ctx context.Context, begin time.Time, fc func() (sql string, rowsAffected int64), err error) {
	if l.level <= logger.Silent {
		return
	}

	elapsed := time.Since(begin)
	sql, rows := fc()

	switch {
	case err != nil && !errors.Is(err, gorm.ErrRecordNotFound) && l.level >= logger.Error:
		l.log.Error("gorm query error",
			zap.Error(err),
			zap.Duration("duration", elapsed),
			zap.String("sql", sql),
			zap.Int64("rows", rows),
		)
	case elapsed > SlowQueryThreshold && l.level >= logger.Warn:
		l.log.Warn("slow query",
			zap.Duration("duration", elapsed),
			zap.String("sql", sql),
			zap.Int64("rows", rows),
		)
	case l.level >= logger.Info:
		l.log.Debug("gorm query",
			zap.Duration("duration", elapsed),
			zap.String("sql", sql),
			zap.Int64("rows", rows),
		)
	}
}
