package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jmylchreest/compressarr/internal/models"
	"github.com/jmylchreest/compressarr/internal/repository"
	"github.com/jmylchreest/compressarr/internal/workers"
)

// VideoService provides high-level operations over the video workflow for the
// HTTP surface. Reads pass through to the repository; the status override is
// deliberately unvalidated so operators can move a row anywhere in the state
// machine, unlike the worker loops which only write enumerated transitions.
type VideoService struct {
	repo    repository.VideoRepository
	tracker *workers.Tracker
	logger  *slog.Logger
}

// NewVideoService creates a new VideoService.
func NewVideoService(repo repository.VideoRepository) *VideoService {
	return &VideoService{
		repo:   repo,
		logger: slog.Default(),
	}
}

// WithLogger sets a custom logger.
func (s *VideoService) WithLogger(logger *slog.Logger) *VideoService {
	s.logger = logger
	return s
}

// WithTracker sets the transcode progress tracker used for live progress reads.
func (s *VideoService) WithTracker(tracker *workers.Tracker) *VideoService {
	s.tracker = tracker
	return s
}

// GetAll retrieves every tracked video.
func (s *VideoService) GetAll(ctx context.Context) ([]*models.Video, error) {
	return s.repo.GetAll(ctx)
}

// GetByStatus retrieves all videos in the given workflow status. The status
// string is validated against the enumeration before hitting the store.
func (s *VideoService) GetByStatus(ctx context.Context, status string) ([]*models.Video, error) {
	parsed, err := models.ParseVideoStatus(status)
	if err != nil {
		return nil, err
	}
	return s.repo.GetByStatus(ctx, parsed, 0)
}

// GetByID retrieves a video by ID. Returns (nil, nil) when not found.
func (s *VideoService) GetByID(ctx context.Context, id uint) (*models.Video, error) {
	return s.repo.GetByID(ctx, id)
}

// OverrideStatus sets a video's status manually. The target status must be a
// member of the enumeration but the transition itself is not validated, so a
// failed video can be pushed back to pending or an optimized one straight to
// skipped. The change is recorded in the status history like any other.
func (s *VideoService) OverrideStatus(ctx context.Context, id uint, status string) (*models.Video, error) {
	parsed, err := models.ParseVideoStatus(status)
	if err != nil {
		return nil, err
	}

	video, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("getting video: %w", err)
	}
	if video == nil {
		return nil, models.ErrNotFound
	}

	if err := s.repo.UpdateStatus(ctx, id, parsed, nil); err != nil {
		return nil, fmt.Errorf("updating status: %w", err)
	}

	s.logger.Info("manual status override",
		slog.Uint64("video_id", uint64(id)),
		slog.String("filename", video.Basename()),
		slog.String("from", video.Status.String()),
		slog.String("to", parsed.String()))

	video.Status = parsed
	return video, nil
}

// Delete removes a video and its status history.
func (s *VideoService) Delete(ctx context.Context, id uint) error {
	if err := s.repo.Delete(ctx, id); err != nil {
		return err
	}
	s.logger.Info("video deleted", slog.Uint64("video_id", uint64(id)))
	return nil
}

// GetHistory returns the status transitions recorded for a video, oldest first.
func (s *VideoService) GetHistory(ctx context.Context, id uint) ([]*models.StatusHistory, error) {
	video, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if video == nil {
		return nil, models.ErrNotFound
	}
	return s.repo.GetHistory(ctx, id)
}

// StatusCounts returns per-status video counts.
func (s *VideoService) StatusCounts(ctx context.Context) ([]repository.StatusCount, error) {
	return s.repo.CountByStatus(ctx)
}

// GetProgress returns the live transcode snapshot for a video, if one exists.
// The second return is false when the video has no tracked run or no tracker
// is configured.
func (s *VideoService) GetProgress(id uint) (workers.Snapshot, bool) {
	if s.tracker == nil {
		return workers.Snapshot{}, false
	}
	return s.tracker.Get(id)
}

// ProgressSnapshots returns every tracked transcode snapshot, most recently
// started first.
func (s *VideoService) ProgressSnapshots() []workers.Snapshot {
	if s.tracker == nil {
		return nil
	}
	return s.tracker.Snapshots()
}
