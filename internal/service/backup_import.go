package service

import (
	"bufio"
	"bytes"
	"compress/bzip2"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/jmylchreest/compressarr/internal/models"
	"github.com/ulikunitz/xz"
	"gorm.io/gorm"
)

// backupSuffixes are the compressed database extensions the service accepts.
// New backups are always written as .db.gz; imports may arrive in any of
// these formats since older installations shipped bzip2 and xz tooling.
var backupSuffixes = []string{".db.gz", ".db.bz2", ".db.xz"}

// Compression magic bytes, matched against the start of an uploaded file.
var (
	gzipMagic  = []byte{0x1f, 0x8b}
	bzip2Magic = []byte("BZh")
	xzMagic    = []byte{0xfd, '7', 'z', 'X', 'Z', 0x00}
)

// ImportBackup stores an uploaded backup in the backup directory, making a
// previously downloaded backup restorable on a fresh installation. The
// upload must carry a name in the backup naming scheme and decompress to a
// SQLite database that passes the integrity check.
func (s *BackupService) ImportBackup(ctx context.Context, reader io.Reader, originalFilename string) (*models.BackupMetadata, error) {
	if err := os.MkdirAll(s.storageDir, 0755); err != nil {
		return nil, fmt.Errorf("creating backup directory: %w", err)
	}

	if err := requireBareFilename(originalFilename); err != nil {
		return nil, err
	}
	if !isValidBackupFilename(originalFilename) {
		return nil, fmt.Errorf("invalid filename format: expected compressarr-backup-YYYY-MM-DDTHH-MM-SS.db.gz")
	}

	destPath := filepath.Join(s.storageDir, originalFilename)
	if _, err := os.Stat(destPath); err == nil {
		return nil, fmt.Errorf("backup with filename %s already exists", originalFilename)
	}

	// Stage the upload in a temp file so a failed validation leaves no
	// half-written backup behind.
	tempFile, err := os.CreateTemp(s.storageDir, "upload-*.db.bak")
	if err != nil {
		return nil, fmt.Errorf("creating temp file: %w", err)
	}
	tempPath := tempFile.Name()

	if _, err := io.Copy(tempFile, reader); err != nil {
		tempFile.Close()
		os.Remove(tempPath)
		return nil, fmt.Errorf("writing uploaded file: %w", err)
	}
	tempFile.Close()

	if err := s.validateCompressedBackup(tempPath); err != nil {
		os.Remove(tempPath)
		return nil, fmt.Errorf("validating backup: %w", err)
	}

	if err := os.Rename(tempPath, destPath); err != nil {
		os.Remove(tempPath)
		return nil, fmt.Errorf("moving backup to final location: %w", err)
	}

	checksum, err := s.calculateChecksum(destPath)
	if err != nil {
		return nil, fmt.Errorf("calculating checksum: %w", err)
	}
	fileInfo, err := os.Stat(destPath)
	if err != nil {
		return nil, fmt.Errorf("getting file info: %w", err)
	}

	createdAt := parseTimestampFromFilename(originalFilename)
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	// The original version is unknown for a foreign file.
	metaFile := &models.BackupMetadataFile{
		CompressarrVersion: "imported",
		CompressedSize:     fileInfo.Size(),
		Checksum:           checksum,
		CreatedAt:          createdAt,
		TableCounts:        make(map[string]int),
	}
	if dbSize, tableCounts, err := s.inspectCompressedDatabase(destPath); err == nil {
		metaFile.DatabaseSize = dbSize
		metaFile.TableCounts = tableCounts
	}

	if err := s.writeMetaFile(metaPathFor(destPath), metaFile); err != nil {
		s.logger.Warn("failed to write metadata file", slog.String("error", err.Error()))
	}

	meta := metadataFrom(destPath, createdAt, fileInfo.Size(), metaFile)
	s.logger.Info("backup imported",
		slog.String("filename", meta.Filename),
		slog.Int64("size", meta.FileSize),
	)
	return meta, nil
}

// decompressFile decompresses src into dst, detecting gzip, bzip2 or xz from
// the file's magic bytes rather than trusting its extension.
func (s *BackupService) decompressFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	br := bufio.NewReader(in)
	header, err := br.Peek(len(xzMagic))
	if err != nil && err != io.EOF {
		return fmt.Errorf("peeking header: %w", err)
	}

	var reader io.Reader
	switch {
	case bytes.HasPrefix(header, gzipMagic):
		gzr, err := gzip.NewReader(br)
		if err != nil {
			return fmt.Errorf("creating gzip reader: %w", err)
		}
		defer gzr.Close()
		reader = gzr

	case bytes.HasPrefix(header, bzip2Magic):
		reader = bzip2.NewReader(br)

	case bytes.HasPrefix(header, xzMagic):
		xzr, err := xz.NewReader(br)
		if err != nil {
			return fmt.Errorf("creating xz reader: %w", err)
		}
		reader = xzr

	default:
		return fmt.Errorf("unrecognized compression format")
	}

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()

	_, err = io.Copy(out, reader)
	return err
}

// validateCompressedBackup decompresses a candidate upload and runs the
// database integrity check on the result.
func (s *BackupService) validateCompressedBackup(path string) error {
	tempFile, err := os.CreateTemp(s.storageDir, "validate-*.db")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tempPath := tempFile.Name()
	tempFile.Close()
	defer os.Remove(tempPath)

	if err := s.decompressFile(path, tempPath); err != nil {
		return fmt.Errorf("decompressing: %w", err)
	}
	return s.validateDatabase(tempPath)
}

// inspectCompressedDatabase decompresses a backup to measure its database
// size and row counts. Count failures are not fatal; the size alone is
// still useful metadata.
func (s *BackupService) inspectCompressedDatabase(path string) (int64, map[string]int, error) {
	tempFile, err := os.CreateTemp(s.storageDir, "inspect-*.db")
	if err != nil {
		return 0, nil, err
	}
	tempPath := tempFile.Name()
	tempFile.Close()
	defer os.Remove(tempPath)

	if err := s.decompressFile(path, tempPath); err != nil {
		return 0, nil, err
	}

	info, err := os.Stat(tempPath)
	if err != nil {
		return 0, nil, err
	}

	db, err := gorm.Open(sqlite.Open(tempPath), &gorm.Config{})
	if err != nil {
		return info.Size(), nil, nil
	}
	sqlDB, _ := db.DB()
	defer sqlDB.Close()

	counts := make(map[string]int)
	for _, table := range []string{"videos", "status_history"} {
		var n int64
		if err := db.Table(table).Count(&n).Error; err == nil {
			counts[table] = int(n)
		}
	}
	return info.Size(), counts, nil
}

// hasBackupSuffix reports whether filename ends with a recognized backup
// extension.
func hasBackupSuffix(filename string) bool {
	for _, suffix := range backupSuffixes {
		if strings.HasSuffix(filename, suffix) {
			return true
		}
	}
	return false
}

// metaPathFor returns the companion .meta.json path for a backup file.
func metaPathFor(backupPath string) string {
	for _, suffix := range backupSuffixes {
		if strings.HasSuffix(backupPath, suffix) {
			return strings.TrimSuffix(backupPath, suffix) + ".meta.json"
		}
	}
	return backupPath + ".meta.json"
}

var backupFilenameRe = regexp.MustCompile(
	`^compressarr-backup-(\d{4}-\d{2}-\d{2}T\d{2}-\d{2}-\d{2}(?:\.\d{3})?)\.db\.(?:gz|bz2|xz)$`)

// parseTimestampFromFilename extracts the creation time encoded in a backup
// filename, with or without the millisecond suffix. Returns the zero time
// when the name does not follow the scheme.
func parseTimestampFromFilename(filename string) time.Time {
	matches := backupFilenameRe.FindStringSubmatch(filename)
	if len(matches) != 2 {
		return time.Time{}
	}

	layout := "2006-01-02T15-04-05"
	if strings.Contains(matches[1], ".") {
		layout = "2006-01-02T15-04-05.000"
	}

	t, err := time.Parse(layout, matches[1])
	if err != nil {
		return time.Time{}
	}
	return t.UTC()
}

// isValidBackupFilename reports whether a filename follows the backup naming
// scheme with a parseable timestamp.
func isValidBackupFilename(filename string) bool {
	return hasBackupSuffix(filename) && !parseTimestampFromFilename(filename).IsZero()
}
