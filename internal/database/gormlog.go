package database

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"gorm.io/gorm/logger"
)

// Queries slower than this log at WARN. Batch scans legitimately hold a
// statement open for a while, so the bar is high.
const slowQueryThreshold = time.Second

// sqlLogLimit caps logged SQL. Interpolated probe JSON payloads make full
// statements enormous.
const sqlLogLimit = 200

// gormLogLevel maps the configured level string onto GORM's scale.
func gormLogLevel(level string) logger.LogLevel {
	switch level {
	case "silent":
		return logger.Silent
	case "error":
		return logger.Error
	case "warn":
		return logger.Warn
	case "info":
		return logger.Info
	default:
		return logger.Warn
	}
}

// queryLogger adapts GORM's logger interface onto slog. Queries log at
// DEBUG, slow queries at WARN, failures at ERROR with a categorized kind.
type queryLogger struct {
	log   *slog.Logger
	level logger.LogLevel

	// pool is set after gorm.Open so contention reports can include the
	// counters that show starvation.
	pool *sql.DB

	mu         sync.Mutex
	lastReport time.Time
}

func (l *queryLogger) LogMode(level logger.LogLevel) logger.Interface {
	return &queryLogger{log: l.log, level: level, pool: l.pool}
}

func (l *queryLogger) Info(ctx context.Context, msg string, args ...interface{}) {
	if l.level >= logger.Info {
		l.log.InfoContext(ctx, fmt.Sprintf(msg, args...))
	}
}

func (l *queryLogger) Warn(ctx context.Context, msg string, args ...interface{}) {
	if l.level >= logger.Warn {
		l.log.WarnContext(ctx, fmt.Sprintf(msg, args...))
	}
}

func (l *queryLogger) Error(ctx context.Context, msg string, args ...interface{}) {
	if l.level >= logger.Error {
		l.log.ErrorContext(ctx, fmt.Sprintf(msg, args...))
	}
}

// Trace logs one completed statement. fc builds the interpolated SQL string,
// which is expensive, so it is not called unless the record will actually be
// emitted.
func (l *queryLogger) Trace(ctx context.Context, begin time.Time, fc func() (string, int64), err error) {
	if l.level <= logger.Silent {
		return
	}

	elapsed := time.Since(begin)
	slow := elapsed > slowQueryThreshold

	var emit bool
	switch {
	case err != nil:
		emit = l.level >= logger.Error
	case slow:
		emit = l.level >= logger.Warn && l.log.Enabled(ctx, slog.LevelWarn)
	default:
		emit = l.level >= logger.Info && l.log.Enabled(ctx, slog.LevelDebug)
	}
	if !emit {
		return
	}

	sqlStr, rows := fc()
	attrs := []any{
		slog.String("sql", trimSQL(sqlStr)),
		slog.Int64("rows", rows),
		slog.Duration("elapsed", elapsed),
	}

	switch {
	case err != nil:
		kind := errorKind(err)
		if kind == "SQLITE_BUSY" {
			l.reportContention()
		}
		attrs = append(attrs,
			slog.String("error_type", kind),
			slog.String("error", err.Error()),
		)
		l.log.ErrorContext(ctx, "database error", attrs...)
	case slow:
		l.log.WarnContext(ctx, "slow query", attrs...)
	default:
		l.log.DebugContext(ctx, "database query", attrs...)
	}
}

// errorKind buckets a query error for the error_type log field.
func errorKind(err error) string {
	switch s := err.Error(); {
	case IsLockedError(err):
		return "SQLITE_BUSY"
	case strings.Contains(s, "context canceled"):
		return "CONTEXT_CANCELED"
	case strings.Contains(s, "context deadline exceeded"):
		return "TIMEOUT"
	case strings.Contains(s, "record not found"):
		return "NOT_FOUND"
	default:
		return "OTHER"
	}
}

// reportContention logs pool counters when a statement hits SQLITE_BUSY, at
// most once a minute.
func (l *queryLogger) reportContention() {
	if l.pool == nil {
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if time.Since(l.lastReport) < time.Minute {
		return
	}
	l.lastReport = time.Now()

	l.log.Warn("connection pool under contention", poolAttrs(l.pool.Stats())...)
}

// trimSQL caps a statement for logging.
func trimSQL(s string) string {
	if len(s) <= sqlLogLimit {
		return s
	}
	return s[:sqlLogLimit] + "... (truncated)"
}
