// Package service provides business logic layer for compressarr operations.
package service

import (
	"compress/gzip"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"syscall"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/jmylchreest/compressarr/internal/config"
	"github.com/jmylchreest/compressarr/internal/models"
	"github.com/jmylchreest/compressarr/internal/version"
	"gorm.io/gorm"
)

// BackupService creates, restores and manages compressed database backups.
type BackupService struct {
	db         *gorm.DB
	cfg        config.BackupConfig
	storageDir string
	logger     *slog.Logger
}

// NewBackupService creates a new backup service. databaseDir is the
// directory holding the live SQLite file; it anchors the default backup
// location when no explicit directory is configured.
func NewBackupService(db *gorm.DB, cfg config.BackupConfig, databaseDir string) *BackupService {
	return &BackupService{
		db:         db,
		cfg:        cfg,
		storageDir: cfg.BackupPath(databaseDir),
		logger:     slog.Default(),
	}
}

// WithLogger sets the logger for the service.
func (s *BackupService) WithLogger(logger *slog.Logger) *BackupService {
	s.logger = logger
	return s
}

// GetScheduleInfo returns the backup schedule configuration.
func (s *BackupService) GetScheduleInfo() models.BackupScheduleInfo {
	return models.BackupScheduleInfo{
		Enabled:   s.cfg.Schedule.Enabled,
		Cron:      s.cfg.Schedule.Cron,
		Retention: s.cfg.Schedule.Retention,
	}
}

// GetBackupDirectory returns the backup storage directory path.
func (s *BackupService) GetBackupDirectory() string {
	return s.storageDir
}

// requireBareFilename rejects any name that is not a plain file name inside
// the backup directory.
func requireBareFilename(filename string) error {
	if filepath.Base(filename) != filename {
		return fmt.Errorf("invalid filename: must not contain path separators")
	}
	return nil
}

// CreateBackup snapshots the live database into a compressed, checksummed
// backup with a companion metadata file.
func (s *BackupService) CreateBackup(ctx context.Context) (*models.BackupMetadata, error) {
	if err := os.MkdirAll(s.storageDir, 0755); err != nil {
		return nil, fmt.Errorf("creating backup directory: %w", err)
	}
	if err := s.checkDiskSpace(); err != nil {
		return nil, err
	}

	// Millisecond timestamps keep names unique across back-to-back runs.
	createdAt := time.Now().UTC()
	base := filepath.Join(s.storageDir,
		"compressarr-backup-"+createdAt.Format("2006-01-02T15-04-05.000"))
	dbPath := base + ".db"
	gzPath := base + ".db.gz"

	if _, err := os.Stat(gzPath); err == nil {
		return nil, fmt.Errorf("backup already exists: %s", filepath.Base(gzPath))
	}

	// VACUUM INTO writes a consistent snapshot without blocking writers.
	s.logger.Debug("snapshotting database", slog.String("path", dbPath))
	if err := s.db.Exec("VACUUM INTO ?", dbPath).Error; err != nil {
		return nil, fmt.Errorf("vacuum into backup: %w", err)
	}
	defer os.Remove(dbPath)

	dbInfo, err := os.Stat(dbPath)
	if err != nil {
		return nil, fmt.Errorf("stat backup db: %w", err)
	}

	if err := s.compressFile(dbPath, gzPath); err != nil {
		return nil, fmt.Errorf("compressing backup: %w", err)
	}
	gzInfo, err := os.Stat(gzPath)
	if err != nil {
		return nil, fmt.Errorf("stat compressed backup: %w", err)
	}

	checksum, err := s.calculateChecksum(gzPath)
	if err != nil {
		return nil, fmt.Errorf("calculating checksum: %w", err)
	}

	tableCounts, err := s.getTableCounts(ctx)
	if err != nil {
		s.logger.Warn("failed to count tables", slog.String("error", err.Error()))
		tableCounts = map[string]int{}
	}

	metaFile := &models.BackupMetadataFile{
		CompressarrVersion: version.Version,
		DatabaseSize:       dbInfo.Size(),
		CompressedSize:     gzInfo.Size(),
		Checksum:           checksum,
		CreatedAt:          createdAt,
		TableCounts:        tableCounts,
	}
	if err := s.writeMetaFile(metaPathFor(gzPath), metaFile); err != nil {
		return nil, err
	}

	meta := metadataFrom(gzPath, createdAt, gzInfo.Size(), metaFile)
	s.logger.Info("backup created",
		slog.String("filename", meta.Filename),
		slog.Int64("size", meta.FileSize),
		slog.String("checksum", truncateChecksum(meta.Checksum)),
	)
	return meta, nil
}

// ListBackups returns all backups in the storage directory, newest first.
func (s *BackupService) ListBackups(ctx context.Context) ([]*models.BackupMetadata, error) {
	entries, err := os.ReadDir(s.storageDir)
	if err != nil {
		if os.IsNotExist(err) {
			return []*models.BackupMetadata{}, nil
		}
		return nil, err
	}

	var backups []*models.BackupMetadata
	for _, entry := range entries {
		if !hasBackupSuffix(entry.Name()) {
			continue
		}
		meta, err := s.loadBackupMetadata(filepath.Join(s.storageDir, entry.Name()))
		if err != nil {
			s.logger.Warn("skipping unreadable backup",
				slog.String("filename", entry.Name()),
				slog.String("error", err.Error()),
			)
			continue
		}
		backups = append(backups, meta)
	}

	sort.Slice(backups, func(i, j int) bool {
		return backups[i].CreatedAt.After(backups[j].CreatedAt)
	})
	return backups, nil
}

// GetBackup retrieves metadata for one backup.
func (s *BackupService) GetBackup(ctx context.Context, filename string) (*models.BackupMetadata, error) {
	if err := requireBareFilename(filename); err != nil {
		return nil, err
	}
	return s.loadBackupMetadata(filepath.Join(s.storageDir, filename))
}

// DeleteBackup deletes a backup file and its metadata.
func (s *BackupService) DeleteBackup(ctx context.Context, filename string) error {
	if err := requireBareFilename(filename); err != nil {
		return err
	}

	backupPath := filepath.Join(s.storageDir, filename)
	if err := os.Remove(backupPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing backup file: %w", err)
	}

	metaPath := metaPathFor(backupPath)
	if err := os.Remove(metaPath); err != nil && !os.IsNotExist(err) {
		s.logger.Warn("failed to remove metadata file",
			slog.String("path", metaPath),
			slog.String("error", err.Error()),
		)
	}

	s.logger.Info("backup deleted", slog.String("filename", filename))
	return nil
}

// OpenBackupFile opens a backup for streaming to a download response.
func (s *BackupService) OpenBackupFile(ctx context.Context, filename string) (*os.File, error) {
	if err := requireBareFilename(filename); err != nil {
		return nil, err
	}
	return os.Open(filepath.Join(s.storageDir, filename))
}

// RestoreBackup replaces the live database file with the contents of a
// backup. The caller owns reconnecting; the running pool keeps serving its
// already-open file handle until the process restarts.
func (s *BackupService) RestoreBackup(ctx context.Context, filename string) error {
	if err := requireBareFilename(filename); err != nil {
		return err
	}

	backupPath := filepath.Join(s.storageDir, filename)
	if _, err := os.Stat(backupPath); err != nil {
		return fmt.Errorf("backup not found: %w", err)
	}

	meta, err := s.loadBackupMetadata(backupPath)
	if err != nil {
		return fmt.Errorf("loading backup metadata: %w", err)
	}
	// Imported backups from foreign installations may lack a recorded
	// checksum; verify only when one exists.
	if meta.Checksum != "" {
		sum, err := s.calculateChecksum(backupPath)
		if err != nil {
			return fmt.Errorf("calculating checksum: %w", err)
		}
		if sum != meta.Checksum {
			return fmt.Errorf("checksum mismatch: backup may be corrupted")
		}
	}

	// A fresh backup right before the swap is the rollback path.
	preRestore, err := s.CreateBackup(ctx)
	if err != nil {
		return fmt.Errorf("creating pre-restore backup: %w", err)
	}
	s.logger.Info("created pre-restore backup", slog.String("filename", preRestore.Filename))

	tempDB, err := os.CreateTemp(s.storageDir, "restore-*.db")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tempPath := tempDB.Name()
	tempDB.Close()

	if err := s.decompressFile(backupPath, tempPath); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("decompressing backup: %w", err)
	}
	if err := s.validateDatabase(tempPath); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("validating restored database: %w", err)
	}

	livePath := s.getDatabasePath()
	if livePath == "" {
		os.Remove(tempPath)
		return fmt.Errorf("could not determine current database path")
	}
	if err := swapFile(tempPath, livePath); err != nil {
		return err
	}

	s.logger.Info("database restored",
		slog.String("from_backup", filename),
		slog.String("pre_restore_backup", preRestore.Filename),
	)
	return nil
}

// swapFile renames next over live, parking the previous file at .old until
// the rename lands.
func swapFile(next, live string) error {
	old := live + ".old"
	os.Remove(old)

	if err := os.Rename(live, old); err != nil {
		os.Remove(next)
		return fmt.Errorf("parking current database: %w", err)
	}
	if err := os.Rename(next, live); err != nil {
		os.Rename(old, live)
		return fmt.Errorf("installing restored database: %w", err)
	}
	os.Remove(old)
	return nil
}

// CleanupOldBackups deletes the oldest backups beyond the retention count.
// A retention of zero or less keeps everything.
func (s *BackupService) CleanupOldBackups(ctx context.Context) (int, error) {
	retention := s.cfg.Schedule.Retention
	if retention <= 0 {
		return 0, nil
	}

	backups, err := s.ListBackups(ctx)
	if err != nil {
		return 0, err
	}
	if len(backups) <= retention {
		return 0, nil
	}

	deleted := 0
	for _, backup := range backups[retention:] {
		if err := s.DeleteBackup(ctx, backup.Filename); err != nil {
			s.logger.Warn("failed to delete old backup",
				slog.String("filename", backup.Filename),
				slog.String("error", err.Error()),
			)
			continue
		}
		deleted++
	}

	if deleted > 0 {
		s.logger.Info("cleaned up old backups", slog.Int("deleted", deleted))
	}
	return deleted, nil
}

// checkDiskSpace fails when the storage volume has less free space than the
// configured minimum. An unreadable filesystem only logs; the backup itself
// will surface a real write failure.
func (s *BackupService) checkDiskSpace() error {
	required := s.cfg.MinFreeSpace.Bytes()
	if required <= 0 {
		return nil
	}

	var stat syscall.Statfs_t
	if err := syscall.Statfs(s.storageDir, &stat); err != nil {
		s.logger.Warn("unable to check disk space", slog.String("error", err.Error()))
		return nil
	}

	available := stat.Bavail * uint64(stat.Bsize)
	if available < uint64(required) {
		return fmt.Errorf("insufficient disk space for backup: %d bytes available, %d bytes required",
			available, required)
	}

	s.logger.Debug("disk space check passed",
		slog.Uint64("available_bytes", available),
		slog.Int64("required_bytes", required),
	)
	return nil
}

func (s *BackupService) compressFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()

	gz := gzip.NewWriter(out)
	defer gz.Close()

	_, err = io.Copy(gz, in)
	return err
}

func (s *BackupService) calculateChecksum(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return "sha256:" + hex.EncodeToString(h.Sum(nil)), nil
}

// getTableCounts counts the rows in the tables worth reporting. Missing
// tables (a backup taken before a migration) are skipped.
func (s *BackupService) getTableCounts(ctx context.Context) (map[string]int, error) {
	counts := make(map[string]int)
	for _, table := range []string{"videos", "status_history"} {
		var n int64
		if err := s.db.WithContext(ctx).Table(table).Count(&n).Error; err != nil {
			continue
		}
		counts[table] = int(n)
	}
	return counts, nil
}

// writeMetaFile persists the companion metadata JSON next to a backup.
func (s *BackupService) writeMetaFile(path string, mf *models.BackupMetadataFile) error {
	data, err := json.MarshalIndent(mf, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling metadata: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing metadata: %w", err)
	}
	return nil
}

// metadataFrom assembles the API-facing metadata for a backup file.
func metadataFrom(path string, createdAt time.Time, fileSize int64, mf *models.BackupMetadataFile) *models.BackupMetadata {
	return &models.BackupMetadata{
		Filename:           filepath.Base(path),
		FilePath:           path,
		CreatedAt:          createdAt,
		FileSize:           fileSize,
		Checksum:           mf.Checksum,
		CompressarrVersion: mf.CompressarrVersion,
		DatabaseSize:       mf.DatabaseSize,
		CompressedSize:     mf.CompressedSize,
		TableCounts:        mf.ToTableCounts(),
	}
}

// loadBackupMetadata reads a backup's companion metadata. A backup without
// one (or with a corrupt one) still lists; the timestamp then comes from the
// filename or, failing that, the file's mtime.
func (s *BackupService) loadBackupMetadata(backupPath string) (*models.BackupMetadata, error) {
	info, err := os.Stat(backupPath)
	if err != nil {
		return nil, err
	}

	var metaFile models.BackupMetadataFile
	metaPath := metaPathFor(backupPath)
	if data, err := os.ReadFile(metaPath); err == nil {
		if err := json.Unmarshal(data, &metaFile); err != nil {
			s.logger.Warn("failed to parse metadata file",
				slog.String("path", metaPath),
				slog.String("error", err.Error()),
			)
		}
	}

	createdAt := metaFile.CreatedAt
	if createdAt.IsZero() {
		createdAt = parseTimestampFromFilename(filepath.Base(backupPath))
	}
	if createdAt.IsZero() {
		createdAt = info.ModTime()
	}

	return metadataFrom(backupPath, createdAt, info.Size(), &metaFile), nil
}

// validateDatabase opens a candidate file and runs SQLite's integrity check.
func (s *BackupService) validateDatabase(dbPath string) error {
	db, err := gorm.Open(sqlite.Open(dbPath), &gorm.Config{})
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("getting sql.DB: %w", err)
	}
	defer sqlDB.Close()

	var result string
	if err := db.Raw("PRAGMA integrity_check").Scan(&result).Error; err != nil {
		return fmt.Errorf("integrity check failed: %w", err)
	}
	if result != "ok" {
		return fmt.Errorf("database integrity check failed: %s", result)
	}
	return nil
}

// getDatabasePath asks SQLite for the main database file backing the pool.
func (s *BackupService) getDatabasePath() string {
	sqlDB, err := s.db.DB()
	if err != nil {
		return ""
	}

	var (
		seq    int
		name   string
		dbPath string
	)
	row := sqlDB.QueryRow("PRAGMA database_list")
	if err := row.Scan(&seq, &name, &dbPath); err != nil {
		return ""
	}
	return dbPath
}

// truncateChecksum shortens a checksum for log lines.
func truncateChecksum(checksum string) string {
	const keep = len("sha256:") + 16
	if len(checksum) > keep {
		return checksum[:keep] + "..."
	}
	return checksum
}
