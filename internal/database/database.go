// Package database opens and manages the shared GORM connection for
// compressarr. SQLite is the primary deployment target; Postgres and MySQL
// are available for installs that already run a database server.
package database

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/jmylchreest/compressarr/internal/config"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

// Pool sizing. Server databases get a conventional pool. SQLite stays small:
// WAL mode allows concurrent readers but only one writer, so extra
// connections add lock contention without adding throughput. Six slots cover
// the five worker loops plus API reads; a growing wait_count in the stats
// logs means the pool is starved.
const (
	serverMaxOpen = 25
	serverMaxIdle = 10
	sqliteMaxOpen = 6
	sqliteMaxIdle = 3

	connMaxLifetime = time.Hour
	connMaxIdleTime = 30 * time.Minute
)

// DB wraps the shared GORM handle together with the configuration it was
// opened with.
type DB struct {
	*gorm.DB
	cfg config.DatabaseConfig
	log *slog.Logger
}

// Options overrides connection behavior. Pass nil to New for the defaults.
type Options struct {
	// PrepareStmt caches prepared statements per connection. On by default;
	// tests that rebuild schemas within one process turn it off.
	PrepareStmt bool
}

// New opens a connection for the configured driver, tunes the pool and
// installs the slog-backed query logger.
func New(cfg config.DatabaseConfig, log *slog.Logger, opts *Options) (*DB, error) {
	if opts == nil {
		opts = &Options{PrepareStmt: true}
	}
	if log == nil {
		log = slog.Default()
	}

	dialector, err := dialectorFor(cfg)
	if err != nil {
		return nil, err
	}

	ql := &queryLogger{log: log, level: gormLogLevel(cfg.LogLevel)}
	gdb, err := gorm.Open(dialector, &gorm.Config{
		Logger: ql,
		// Single statements do not need the implicit wrapping transaction.
		SkipDefaultTransaction: true,
		PrepareStmt:            opts.PrepareStmt,
	})
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	pool, err := gdb.DB()
	if err != nil {
		return nil, fmt.Errorf("getting underlying sql.DB: %w", err)
	}
	ql.pool = pool

	maxOpen, maxIdle := serverMaxOpen, serverMaxIdle
	if cfg.Driver == "sqlite" {
		maxOpen, maxIdle = sqliteMaxOpen, sqliteMaxIdle
	}
	pool.SetMaxOpenConns(maxOpen)
	pool.SetMaxIdleConns(maxIdle)
	pool.SetConnMaxLifetime(connMaxLifetime)
	pool.SetConnMaxIdleTime(connMaxIdleTime)

	db := &DB{DB: gdb, cfg: cfg, log: log}
	if cfg.Driver == "sqlite" {
		db.logEffectiveConfig()
	} else {
		log.Info("database connection pool configured",
			slog.String("driver", cfg.Driver),
			slog.Int("max_open_conns", maxOpen),
			slog.Int("max_idle_conns", maxIdle),
		)
	}
	return db, nil
}

// dialectorFor maps the configured driver onto its GORM dialector. SQLite
// uses the pure Go driver (glebarez/sqlite over modernc.org/sqlite) so
// builds stay CGO-free.
func dialectorFor(cfg config.DatabaseConfig) (gorm.Dialector, error) {
	switch cfg.Driver {
	case "sqlite":
		return sqlite.Open(sqliteDSN(cfg)), nil
	case "postgres":
		return postgres.Open(cfg.DSN), nil
	case "mysql":
		return mysql.Open(cfg.DSN), nil
	}
	return nil, fmt.Errorf("unsupported database driver: %s", cfg.Driver)
}

// sqlitePragmas holds every fixed PRAGMA; busy_timeout carries a configured
// value and is appended separately. These ride in the DSN because the pool
// reopens connections at any time and each one must come up with the same
// settings.
var sqlitePragmas = []string{
	"journal_mode(WAL)",   // concurrent readers during a write
	"synchronous(NORMAL)", // WAL only needs NORMAL
	"foreign_keys(ON)",
	"cache_size(-64000)",   // negative means KB: 64MB page cache
	"mmap_size(268435456)", // 256MB memory-mapped reads
	"temp_store(MEMORY)",
	"wal_autocheckpoint(1000)",
}

// sqliteDSN builds the DSN for the configured database file, appending the
// PRAGMA set in the _pragma form the glebarez driver understands.
func sqliteDSN(cfg config.DatabaseConfig) string {
	var b strings.Builder
	b.WriteString(cfg.Path)
	if strings.Contains(cfg.Path, "?") {
		b.WriteByte('&')
	} else {
		b.WriteByte('?')
	}
	fmt.Fprintf(&b, "_pragma=busy_timeout(%d)", cfg.BusyTimeout().Milliseconds())
	for _, p := range sqlitePragmas {
		b.WriteString("&_pragma=")
		b.WriteString(p)
	}
	return b.String()
}

// IsLockedError reports whether err is SQLite writer contention. Repository
// writes retry on it after a short delay.
func IsLockedError(err error) bool {
	if err == nil {
		return false
	}
	s := err.Error()
	return strings.Contains(s, "database is locked") || strings.Contains(s, "SQLITE_BUSY")
}

// Close closes the underlying connection pool.
func (db *DB) Close() error {
	pool, err := db.DB.DB()
	if err != nil {
		return fmt.Errorf("getting underlying sql.DB: %w", err)
	}
	return pool.Close()
}

// Ping verifies the connection is alive.
func (db *DB) Ping(ctx context.Context) error {
	pool, err := db.DB.DB()
	if err != nil {
		return fmt.Errorf("getting underlying sql.DB: %w", err)
	}
	return pool.PingContext(ctx)
}

// Driver returns the configured driver name.
func (db *DB) Driver() string {
	return db.cfg.Driver
}

// WithContext returns a DB bound to ctx.
func (db *DB) WithContext(ctx context.Context) *DB {
	return &DB{DB: db.DB.WithContext(ctx), cfg: db.cfg, log: db.log}
}

// Transaction runs fn inside a transaction, rolling back when fn errors.
func (db *DB) Transaction(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return db.DB.WithContext(ctx).Transaction(fn)
}

// RunInExclusive executes fn while holding the database write lock for the
// whole call. Schema creation runs under this so concurrent processes
// sharing the file cannot interleave migrations. On SQLite this issues
// BEGIN EXCLUSIVE on a pinned connection; other drivers already serialize
// DDL and fall back to an ordinary transaction.
func (db *DB) RunInExclusive(ctx context.Context, fn func(tx *gorm.DB) error) error {
	if db.cfg.Driver != "sqlite" {
		return db.Transaction(ctx, fn)
	}

	return db.DB.WithContext(ctx).Connection(func(conn *gorm.DB) error {
		if err := conn.Exec("BEGIN EXCLUSIVE").Error; err != nil {
			return fmt.Errorf("acquiring exclusive lock: %w", err)
		}
		if err := fn(conn); err != nil {
			if rbErr := conn.Exec("ROLLBACK").Error; rbErr != nil {
				return fmt.Errorf("%w (rollback failed: %v)", err, rbErr)
			}
			return err
		}
		if err := conn.Exec("COMMIT").Error; err != nil {
			return fmt.Errorf("committing exclusive transaction: %w", err)
		}
		return nil
	})
}

// StartStatsMonitor logs pool counters every 30 minutes until ctx is
// cancelled. SQLite only; the numbers to watch are wait_count and
// wait_duration.
func (db *DB) StartStatsMonitor(ctx context.Context) {
	if db.cfg.Driver != "sqlite" {
		return
	}

	go func() {
		ticker := time.NewTicker(30 * time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				db.LogStats()
			}
		}
	}()

	db.log.Debug("sqlite stats monitor started", slog.Duration("interval", 30*time.Minute))
}

// LogStats logs the current pool counters.
func (db *DB) LogStats() {
	pool, err := db.DB.DB()
	if err != nil {
		return
	}
	s := pool.Stats()
	attrs := append(poolAttrs(s),
		slog.Int64("max_idle_closed", s.MaxIdleClosed),
		slog.Int64("max_lifetime_closed", s.MaxLifetimeClosed),
	)
	db.log.Info("connection pool stats", attrs...)
}

// Stats returns pool counters keyed for the health endpoint.
func (db *DB) Stats() (map[string]interface{}, error) {
	pool, err := db.DB.DB()
	if err != nil {
		return nil, fmt.Errorf("getting underlying sql.DB: %w", err)
	}

	s := pool.Stats()
	return map[string]interface{}{
		"max_open_connections": s.MaxOpenConnections,
		"open_connections":     s.OpenConnections,
		"in_use":               s.InUse,
		"idle":                 s.Idle,
		"wait_count":           s.WaitCount,
		"wait_duration":        s.WaitDuration.String(),
		"max_idle_closed":      s.MaxIdleClosed,
		"max_idle_time_closed": s.MaxIdleTimeClosed,
		"max_lifetime_closed":  s.MaxLifetimeClosed,
	}, nil
}

// logEffectiveConfig reads back the PRAGMA values SQLite applied. The driver
// ignores unknown _pragma keys, so startup logs the effective values rather
// than the requested ones.
func (db *DB) logEffectiveConfig() {
	pragmas := []string{
		"journal_mode", "synchronous", "busy_timeout", "cache_size",
		"mmap_size", "temp_store", "wal_autocheckpoint",
	}

	attrs := make([]any, 0, len(pragmas))
	for _, p := range pragmas {
		var v string
		if err := db.DB.Raw("PRAGMA " + p).Scan(&v).Error; err != nil {
			continue
		}
		attrs = append(attrs, slog.String(p, v))
	}
	db.log.Info("sqlite configuration", attrs...)

	pool, err := db.DB.DB()
	if err != nil {
		return
	}
	db.log.Info("sqlite connection pool", poolAttrs(pool.Stats())...)
}

// poolAttrs converts pool counters into log attributes. Shared by the
// periodic monitor and the query logger's contention report.
func poolAttrs(s sql.DBStats) []any {
	return []any{
		slog.Int("max_open_conns", s.MaxOpenConnections),
		slog.Int("open_conns", s.OpenConnections),
		slog.Int("in_use", s.InUse),
		slog.Int("idle", s.Idle),
		slog.Int64("wait_count", s.WaitCount),
		slog.String("wait_duration", s.WaitDuration.String()),
	}
}
