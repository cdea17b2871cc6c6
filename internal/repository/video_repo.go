package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jmylchreest/compressarr/internal/database"
	"github.com/jmylchreest/compressarr/internal/models"
	"gorm.io/gorm"
)

// Retry defaults for writes hitting SQLite writer contention.
const (
	defaultRetryAttempts = 3
	defaultRetryDelay    = 100 * time.Millisecond
)

// RetryPolicy controls how repository writes respond to a locked database.
// MaxAttempts counts the first try; Delay is the pause between attempts.
type RetryPolicy struct {
	MaxAttempts int
	Delay       time.Duration
}

func (p RetryPolicy) withDefaults() RetryPolicy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = defaultRetryAttempts
	}
	if p.Delay <= 0 {
		p.Delay = defaultRetryDelay
	}
	return p
}

// videoRepo implements VideoRepository using GORM.
type videoRepo struct {
	db    *gorm.DB
	retry RetryPolicy
}

// NewVideoRepository creates a new VideoRepository. Zero retry policy fields
// fall back to 3 attempts spaced 100ms.
func NewVideoRepository(db *gorm.DB, retry RetryPolicy) *videoRepo {
	return &videoRepo{db: db, retry: retry.withDefaults()}
}

// withBusyRetry runs fn, retrying while the database reports writer
// contention. Any other error returns immediately.
func (r *videoRepo) withBusyRetry(ctx context.Context, fn func() error) error {
	var err error
	for attempt := 1; ; attempt++ {
		err = fn()
		if err == nil || !database.IsLockedError(err) || attempt >= r.retry.MaxAttempts {
			return err
		}
		select {
		case <-ctx.Done():
			return err
		case <-time.After(r.retry.Delay):
		}
	}
}

// Insert registers a newly discovered video. The filepath is checked before
// inserting so a rescan of the same file reports models.ErrDuplicatePath
// instead of tripping a constraint.
func (r *videoRepo) Insert(ctx context.Context, video *models.Video) error {
	if video.Status == "" {
		video.Status = models.VideoStatusPending
	}
	err := r.withBusyRetry(ctx, func() error {
		return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			var count int64
			if err := tx.Model(&models.Video{}).Where("filepath = ?", video.Filepath).Count(&count).Error; err != nil {
				return err
			}
			if count > 0 {
				return models.ErrDuplicatePath
			}
			if err := tx.Create(video).Error; err != nil {
				return err
			}
			return tx.Create(&models.StatusHistory{VideoID: video.ID, Status: video.Status}).Error
		})
	})
	if err != nil {
		return fmt.Errorf("inserting video: %w", err)
	}
	return nil
}

// GetByID retrieves a video by ID.
func (r *videoRepo) GetByID(ctx context.Context, id uint) (*models.Video, error) {
	var video models.Video
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&video).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("getting video by ID: %w", err)
	}
	return &video, nil
}

// GetByPath retrieves a video by filepath.
func (r *videoRepo) GetByPath(ctx context.Context, path string) (*models.Video, error) {
	var video models.Video
	if err := r.db.WithContext(ctx).Where("filepath = ?", path).First(&video).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("getting video by path: %w", err)
	}
	return &video, nil
}

// GetAll retrieves all videos in insertion order.
func (r *videoRepo) GetAll(ctx context.Context) ([]*models.Video, error) {
	var videos []*models.Video
	if err := r.db.WithContext(ctx).Order("created_at ASC, id ASC").Find(&videos).Error; err != nil {
		return nil, fmt.Errorf("getting all videos: %w", err)
	}
	return videos, nil
}

// GetByStatus retrieves videos in a status, oldest first so workers drain
// their queues in arrival order.
func (r *videoRepo) GetByStatus(ctx context.Context, status models.VideoStatus, limit int) ([]*models.Video, error) {
	var videos []*models.Video
	query := r.db.WithContext(ctx).Where("status = ?", status).Order("created_at ASC, id ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&videos).Error; err != nil {
		return nil, fmt.Errorf("getting videos by status: %w", err)
	}
	return videos, nil
}

// NextReady returns the oldest ready video, or nil when the queue is empty.
func (r *videoRepo) NextReady(ctx context.Context) (*models.Video, error) {
	videos, err := r.GetByStatus(ctx, models.VideoStatusReady, 1)
	if err != nil {
		return nil, err
	}
	if len(videos) == 0 {
		return nil, nil
	}
	return videos[0], nil
}

// UpdateStatus sets a video's status and any companion columns in one
// transaction and appends a history row for the transition.
func (r *videoRepo) UpdateStatus(ctx context.Context, id uint, status models.VideoStatus, fields map[string]interface{}) error {
	err := r.withBusyRetry(ctx, func() error {
		return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			updates := map[string]interface{}{"status": status}
			for column, value := range fields {
				updates[column] = value
			}
			result := tx.Model(&models.Video{}).Where("id = ?", id).Updates(updates)
			if result.Error != nil {
				return result.Error
			}
			if result.RowsAffected == 0 {
				return models.ErrNotFound
			}
			return tx.Create(&models.StatusHistory{VideoID: id, Status: status}).Error
		})
	})
	if err != nil {
		return fmt.Errorf("updating video status: %w", err)
	}
	return nil
}

// BulkUpdateStatus moves the given videos to status in one UPDATE, appending
// a history row per moved video. Ids with no matching row are counted out of
// the returned total rather than treated as errors.
func (r *videoRepo) BulkUpdateStatus(ctx context.Context, ids []uint, status models.VideoStatus) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	var moved int64
	err := r.withBusyRetry(ctx, func() error {
		return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			// Re-pluck inside the transaction so history rows are only
			// written for ids that actually exist.
			var present []uint
			if err := tx.Model(&models.Video{}).Where("id IN ?", ids).Order("created_at ASC, id ASC").Pluck("id", &present).Error; err != nil {
				return err
			}
			moved = 0
			if len(present) == 0 {
				return nil
			}

			result := tx.Model(&models.Video{}).Where("id IN ?", present).Update("status", status)
			if result.Error != nil {
				return result.Error
			}
			moved = result.RowsAffected

			histories := make([]*models.StatusHistory, 0, len(present))
			for _, videoID := range present {
				histories = append(histories, &models.StatusHistory{VideoID: videoID, Status: status})
			}
			return tx.CreateInBatches(&histories, 500).Error
		})
	})
	if err != nil {
		return 0, fmt.Errorf("bulk updating video status: %w", err)
	}
	return moved, nil
}

// UpdateProgress stores the latest progress line for a running transcode.
func (r *videoRepo) UpdateProgress(ctx context.Context, id uint, progress string) error {
	err := r.withBusyRetry(ctx, func() error {
		return r.db.WithContext(ctx).Model(&models.Video{}).Where("id = ?", id).Update("progress", progress).Error
	})
	if err != nil {
		return fmt.Errorf("updating video progress: %w", err)
	}
	return nil
}

// UpdateEstimatedSize stores the projected output size for a running transcode.
func (r *videoRepo) UpdateEstimatedSize(ctx context.Context, id uint, estimated int64) error {
	err := r.withBusyRetry(ctx, func() error {
		return r.db.WithContext(ctx).Model(&models.Video{}).Where("id = ?", id).Update("estimated_size", estimated).Error
	})
	if err != nil {
		return fmt.Errorf("updating video estimated size: %w", err)
	}
	return nil
}

// UpdateFinalOutput records a finished transcode in a single transaction.
func (r *videoRepo) UpdateFinalOutput(ctx context.Context, id uint, outputPath, newCodec string, optimizedSize int64) error {
	return r.UpdateStatus(ctx, id, models.VideoStatusOptimized, map[string]interface{}{
		"optimized_path": outputPath,
		"new_codec":      newCodec,
		"optimized_size": optimizedSize,
	})
}

// Delete removes a video and its history rows. History is deleted explicitly
// so behavior does not depend on the foreign_keys pragma.
func (r *videoRepo) Delete(ctx context.Context, id uint) error {
	err := r.withBusyRetry(ctx, func() error {
		return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			if err := tx.Where("video_id = ?", id).Delete(&models.StatusHistory{}).Error; err != nil {
				return err
			}
			result := tx.Where("id = ?", id).Delete(&models.Video{})
			if result.Error != nil {
				return result.Error
			}
			if result.RowsAffected == 0 {
				return models.ErrNotFound
			}
			return nil
		})
	})
	if err != nil {
		return fmt.Errorf("deleting video: %w", err)
	}
	return nil
}

// CountByStatus returns per-status video counts.
func (r *videoRepo) CountByStatus(ctx context.Context) ([]StatusCount, error) {
	var counts []StatusCount
	err := r.db.WithContext(ctx).
		Model(&models.Video{}).
		Select("status, COUNT(*) AS count").
		Group("status").
		Order("status ASC").
		Scan(&counts).Error
	if err != nil {
		return nil, fmt.Errorf("counting videos by status: %w", err)
	}
	return counts, nil
}

// GetHistory returns a video's status transitions, oldest first.
func (r *videoRepo) GetHistory(ctx context.Context, videoID uint) ([]*models.StatusHistory, error) {
	var history []*models.StatusHistory
	if err := r.db.WithContext(ctx).Where("video_id = ?", videoID).Order("created_at ASC, id ASC").Find(&history).Error; err != nil {
		return nil, fmt.Errorf("getting video history: %w", err)
	}
	return history, nil
}

// Ensure videoRepo implements VideoRepository at compile time.
var _ VideoRepository = (*videoRepo)(nil)
