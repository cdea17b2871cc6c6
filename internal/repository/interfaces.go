// Package repository defines data access interfaces for compressarr entities.
// All database access goes through these interfaces, enabling easy testing
// and database backend switching.
package repository

import (
	"context"

	"github.com/jmylchreest/compressarr/internal/models"
)

// StatusCount represents the number of videos in one workflow status.
type StatusCount struct {
	Status models.VideoStatus `json:"status"`
	Count  int64              `json:"count"`
}

// VideoRepository defines operations for video persistence. Write methods
// retry on SQLite writer contention according to the configured policy, so
// workers can call them concurrently without their own retry loops.
type VideoRepository interface {
	// Insert registers a newly discovered video and records its initial
	// status in the history table. Returns models.ErrDuplicatePath when the
	// filepath is already registered.
	Insert(ctx context.Context, video *models.Video) error
	// GetByID retrieves a video by ID. Returns (nil, nil) when not found.
	GetByID(ctx context.Context, id uint) (*models.Video, error)
	// GetByPath retrieves a video by filepath. Returns (nil, nil) when not found.
	GetByPath(ctx context.Context, path string) (*models.Video, error)
	// GetAll retrieves every video ordered by creation time.
	GetAll(ctx context.Context) ([]*models.Video, error)
	// GetByStatus retrieves videos in the given status ordered oldest first.
	// A limit <= 0 returns all matches.
	GetByStatus(ctx context.Context, status models.VideoStatus, limit int) ([]*models.Video, error)
	// NextReady returns the oldest video awaiting transcode, or nil when the
	// ready queue is empty.
	NextReady(ctx context.Context) (*models.Video, error)
	// UpdateStatus sets a video's status together with any companion fields
	// in a single transaction and appends a history row. The fields map keys
	// are column names. Returns models.ErrNotFound for an unknown ID.
	UpdateStatus(ctx context.Context, id uint, status models.VideoStatus, fields map[string]interface{}) error
	// BulkUpdateStatus moves the given videos to a status in one UPDATE,
	// appending a history row per video. Returns the number of videos moved;
	// unknown ids are skipped, not errors.
	BulkUpdateStatus(ctx context.Context, ids []uint, status models.VideoStatus) (int64, error)
	// UpdateProgress stores the latest transcode progress line.
	UpdateProgress(ctx context.Context, id uint, progress string) error
	// UpdateEstimatedSize stores the projected output size in bytes.
	UpdateEstimatedSize(ctx context.Context, id uint, estimated int64) error
	// UpdateFinalOutput records a finished transcode: output path, detected
	// codec, final size, and the optimized status, all in one transaction.
	UpdateFinalOutput(ctx context.Context, id uint, outputPath, newCodec string, optimizedSize int64) error
	// Delete removes a video and its history. Returns models.ErrNotFound for
	// an unknown ID.
	Delete(ctx context.Context, id uint) error
	// CountByStatus returns per-status video counts.
	CountByStatus(ctx context.Context) ([]StatusCount, error)
	// GetHistory returns the status transitions recorded for a video, oldest
	// first.
	GetHistory(ctx context.Context, videoID uint) ([]*models.StatusHistory, error)
}
