package models

import "time"

// BackupMetadata represents a backup file's metadata.
// This is derived from filesystem scanning and companion metadata files,
// not stored in the database.
type BackupMetadata struct {
	Filename           string      `json:"filename"`            // e.g., "compressarr-backup-2025-12-14T10-30-00.000.db.gz"
	FilePath           string      `json:"file_path"`           // Full path to backup file
	CreatedAt          time.Time   `json:"created_at"`          // Extracted from filename
	FileSize           int64       `json:"file_size"`           // Size in bytes
	Checksum           string      `json:"checksum"`            // SHA256 hash for integrity verification
	CompressarrVersion string      `json:"compressarr_version"` // Version that created the backup (from metadata file)
	DatabaseSize       int64       `json:"database_size"`       // Uncompressed size
	CompressedSize     int64       `json:"compressed_size"`     // Compressed size on disk
	TableCounts        TableCounts `json:"table_counts"`        // Row counts per table
}

// TableCounts holds row counts for key tables in a backup.
type TableCounts struct {
	Videos        int `json:"videos"`
	StatusHistory int `json:"status_history"`
}

// BackupMetadataFile is the structure stored in companion .meta.json files.
type BackupMetadataFile struct {
	CompressarrVersion string         `json:"compressarr_version"`
	DatabaseSize       int64          `json:"database_size"`   // Uncompressed size
	CompressedSize     int64          `json:"compressed_size"` // Compressed size on disk
	Checksum           string         `json:"checksum"`        // SHA256 of the compressed backup file
	CreatedAt          time.Time      `json:"created_at"`
	TableCounts        map[string]int `json:"table_counts"` // Row counts per table
}

// ToTableCounts converts the map-based table counts to the structured TableCounts type.
func (m *BackupMetadataFile) ToTableCounts() TableCounts {
	return TableCounts{
		Videos:        m.TableCounts["videos"],
		StatusHistory: m.TableCounts["status_history"],
	}
}

// BackupScheduleInfo represents the backup schedule configuration for API responses.
type BackupScheduleInfo struct {
	Enabled   bool   `json:"enabled"`
	Cron      string `json:"cron"`
	Retention int    `json:"retention"`
}
