package database

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"testing"

	"github.com/jmylchreest/compressarr/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// testConfig returns a file-backed SQLite configuration. File-backed so WAL
// mode and the connection pool behave as in production.
func testConfig(t *testing.T) config.DatabaseConfig {
	t.Helper()
	return config.DatabaseConfig{
		Driver:     "sqlite",
		Path:       filepath.Join(t.TempDir(), "compressarr.db"),
		Timeout:    30,
		MaxRetries: 3,
		RetryDelay: 0.1,
		LogLevel:   "silent",
	}
}

func openTestDB(t *testing.T, opts *Options) *DB {
	t.Helper()
	db, err := New(testConfig(t), nil, opts)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestOpenSQLite(t *testing.T) {
	db := openTestDB(t, nil)

	require.NoError(t, db.Ping(context.Background()))
	assert.Equal(t, "sqlite", db.Driver())
}

func TestOpenUnknownDriver(t *testing.T) {
	db, err := New(config.DatabaseConfig{Driver: "oracle", DSN: ":memory:"}, nil, nil)
	require.Error(t, err)
	assert.Nil(t, db)
	assert.Contains(t, err.Error(), "unsupported database driver")
}

func TestCloseInvalidatesConnection(t *testing.T) {
	db, err := New(testConfig(t), nil, nil)
	require.NoError(t, err)

	require.NoError(t, db.Close())
	assert.Error(t, db.Ping(context.Background()))
}

func TestStatsExposesPoolCounters(t *testing.T) {
	db := openTestDB(t, nil)

	stats, err := db.Stats()
	require.NoError(t, err)

	for _, key := range []string{"max_open_connections", "open_connections", "in_use", "idle", "wait_count"} {
		assert.Contains(t, stats, key)
	}
	assert.Equal(t, sqliteMaxOpen, stats["max_open_connections"])
}

func TestWithContextKeepsConfig(t *testing.T) {
	db := openTestDB(t, nil)

	bound := db.WithContext(context.Background())
	require.NotNil(t, bound)
	assert.Equal(t, db.Driver(), bound.Driver())
}

func TestTransaction(t *testing.T) {
	type txItem struct {
		ID    uint   `gorm:"primarykey"`
		Value string `gorm:"not null"`
	}

	db := openTestDB(t, &Options{PrepareStmt: false})
	ctx := context.Background()
	require.NoError(t, db.DB.AutoMigrate(&txItem{}))

	count := func(value string) int64 {
		var n int64
		require.NoError(t, db.DB.Model(&txItem{}).Where("value = ?", value).Count(&n).Error)
		return n
	}

	t.Run("commits on success", func(t *testing.T) {
		err := db.Transaction(ctx, func(tx *gorm.DB) error {
			return tx.Create(&txItem{Value: "kept"}).Error
		})
		require.NoError(t, err)
		assert.Equal(t, int64(1), count("kept"))
	})

	t.Run("rolls back on error", func(t *testing.T) {
		boom := fmt.Errorf("forced rollback")
		err := db.Transaction(ctx, func(tx *gorm.DB) error {
			if err := tx.Create(&txItem{Value: "lost"}).Error; err != nil {
				return err
			}
			return boom
		})
		assert.ErrorIs(t, err, boom)
		assert.Equal(t, int64(0), count("lost"))
	})
}

func TestRunInExclusive(t *testing.T) {
	type exclItem struct {
		ID    uint   `gorm:"primarykey"`
		Value string `gorm:"not null"`
	}

	db := openTestDB(t, nil)
	ctx := context.Background()
	require.NoError(t, db.DB.AutoMigrate(&exclItem{}))

	count := func(value string) int64 {
		var n int64
		require.NoError(t, db.DB.Model(&exclItem{}).Where("value = ?", value).Count(&n).Error)
		return n
	}

	t.Run("commits on success", func(t *testing.T) {
		err := db.RunInExclusive(ctx, func(tx *gorm.DB) error {
			return tx.Create(&exclItem{Value: "committed"}).Error
		})
		require.NoError(t, err)
		assert.Equal(t, int64(1), count("committed"))
	})

	t.Run("rolls back and returns the callback error", func(t *testing.T) {
		boom := fmt.Errorf("forced rollback")
		err := db.RunInExclusive(ctx, func(tx *gorm.DB) error {
			if err := tx.Create(&exclItem{Value: "discarded"}).Error; err != nil {
				return err
			}
			return boom
		})
		assert.ErrorIs(t, err, boom)
		assert.Equal(t, int64(0), count("discarded"))
	})
}

func TestAppliedPragmas(t *testing.T) {
	db := openTestDB(t, nil)

	var journalMode string
	require.NoError(t, db.DB.Raw("PRAGMA journal_mode").Scan(&journalMode).Error)
	assert.Equal(t, "wal", journalMode)

	var foreignKeys int
	require.NoError(t, db.DB.Raw("PRAGMA foreign_keys").Scan(&foreignKeys).Error)
	assert.Equal(t, 1, foreignKeys)

	// Configured seconds arrive as milliseconds.
	var busyTimeout int64
	require.NoError(t, db.DB.Raw("PRAGMA busy_timeout").Scan(&busyTimeout).Error)
	assert.Equal(t, int64(30000), busyTimeout)
}

func TestSQLiteDSN(t *testing.T) {
	t.Run("plain path", func(t *testing.T) {
		dsn := sqliteDSN(config.DatabaseConfig{
			Driver:  "sqlite",
			Path:    "/data/video_db.sqlite",
			Timeout: 30,
		})

		assert.True(t, strings.HasPrefix(dsn, "/data/video_db.sqlite?"))
		assert.Contains(t, dsn, "_pragma=busy_timeout(30000)")
		assert.Contains(t, dsn, "_pragma=journal_mode(WAL)")
		assert.Contains(t, dsn, "_pragma=synchronous(NORMAL)")
		assert.Contains(t, dsn, "_pragma=foreign_keys(ON)")
	})

	t.Run("path with existing query", func(t *testing.T) {
		dsn := sqliteDSN(config.DatabaseConfig{
			Driver:  "sqlite",
			Path:    "file:test.db?mode=rwc",
			Timeout: 5,
		})

		assert.Contains(t, dsn, "mode=rwc&_pragma=busy_timeout(5000)")
	})
}

func TestIsLockedError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{"nil", nil, false},
		{"locked", fmt.Errorf("database is locked (5) (SQLITE_BUSY)"), true},
		{"busy code only", fmt.Errorf("SQLITE_BUSY: resource unavailable"), true},
		{"wrapped", fmt.Errorf("updating video: %w", fmt.Errorf("database is locked")), true},
		{"not found", fmt.Errorf("record not found"), false},
		{"other", fmt.Errorf("constraint failed"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, IsLockedError(tt.err))
		})
	}
}

func TestGormLogLevel(t *testing.T) {
	tests := []struct {
		level    string
		expected logger.LogLevel
	}{
		{"silent", logger.Silent},
		{"error", logger.Error},
		{"warn", logger.Warn},
		{"info", logger.Info},
		{"unknown", logger.Warn},
		{"", logger.Warn},
	}

	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			assert.Equal(t, tt.expected, gormLogLevel(tt.level))
		})
	}
}
