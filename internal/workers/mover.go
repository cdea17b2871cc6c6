package workers

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/jmylchreest/compressarr/internal/models"
	"github.com/jmylchreest/compressarr/internal/repository"
	"github.com/jmylchreest/compressarr/internal/storage"
	"github.com/jmylchreest/compressarr/pkg/format"
)

// MoverConfig holds replacement loop configuration.
type MoverConfig struct {
	// Interval is the pause between replacement passes.
	Interval time.Duration
	// BatchSize is the most accepted rows replaced per pass.
	BatchSize int
}

// Mover swaps accepted outputs over their originals and cleans up the
// outputs of skipped videos. Replacement is rename-only: the output
// directory must share a filesystem with the inputs.
type Mover struct {
	repo      repository.VideoRepository
	sandbox   *storage.Sandbox
	interval  time.Duration
	batchSize int
	logger    *slog.Logger
}

// NewMover creates the replacement loop. The sandbox is rooted at the
// output directory; only paths inside it are ever deleted or moved.
func NewMover(repo repository.VideoRepository, sandbox *storage.Sandbox, cfg MoverConfig, logger *slog.Logger) *Mover {
	if logger == nil {
		logger = slog.Default()
	}
	return &Mover{
		repo:      repo,
		sandbox:   sandbox,
		interval:  cfg.Interval,
		batchSize: cfg.BatchSize,
		logger:    logger.With(slog.String("worker", "mover")),
	}
}

// Name implements Worker.
func (m *Mover) Name() string { return "mover" }

// Interval implements Worker.
func (m *Mover) Interval() time.Duration { return m.interval }

// Tick replaces one batch of accepted videos, then removes leftover outputs
// of skipped videos.
func (m *Mover) Tick(ctx context.Context) (bool, error) {
	videos, err := m.repo.GetByStatus(ctx, models.VideoStatusAccepted, m.batchSize)
	if err != nil {
		return false, fmt.Errorf("listing accepted videos: %w", err)
	}
	for _, v := range videos {
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		if err := m.replace(ctx, v); err != nil {
			return false, err
		}
	}
	if err := m.cleanupSkipped(ctx); err != nil {
		return false, err
	}
	return false, nil
}

// replace swaps one accepted output over its original. I/O problems mark
// the row failed; the returned error is non-nil only when a status write
// fails.
func (m *Mover) replace(ctx context.Context, video *models.Video) error {
	log := m.logger.With(
		slog.Uint64("video_id", uint64(video.ID)),
		slog.String("filepath", video.Filepath))

	if _, err := os.Stat(video.Filepath); err != nil {
		log.Error("original missing, cannot replace", slog.Any("error", err))
		return m.markFailed(ctx, video.ID)
	}
	optimized, err := m.sandbox.Contain(video.OptimizedPath)
	if err != nil {
		log.Error("optimized path rejected", slog.Any("error", err))
		return m.markFailed(ctx, video.ID)
	}
	if _, err := os.Stat(optimized); err != nil {
		log.Error("optimized output missing, cannot replace", slog.Any("error", err))
		return m.markFailed(ctx, video.ID)
	}

	// Original goes first, then the output is renamed into its place. A
	// rename failure after the delete leaves the row failed for manual
	// recovery; there is no partial rollback.
	if err := m.sandbox.AtomicPublish(optimized, video.Filepath); err != nil {
		log.Error("replace failed", slog.Any("error", err))
		return m.markFailed(ctx, video.ID)
	}

	if err := m.repo.UpdateStatus(ctx, video.ID, models.VideoStatusReplaced, nil); err != nil {
		return fmt.Errorf("marking video %d replaced: %w", video.ID, err)
	}
	log.Info("original replaced",
		slog.Int64("original_size", video.OriginalSize),
		slog.Int64("optimized_size", video.OptimizedSize),
		slog.String("reduction", format.Reduction(video.OriginalSize, video.OptimizedSize)))
	return nil
}

// cleanupSkipped removes the leftover output of every skipped video. Status
// stays untouched; this is cleanup only.
func (m *Mover) cleanupSkipped(ctx context.Context) error {
	videos, err := m.repo.GetByStatus(ctx, models.VideoStatusSkipped, 0)
	if err != nil {
		return fmt.Errorf("listing skipped videos: %w", err)
	}
	for _, v := range videos {
		if v.OptimizedPath == "" {
			continue
		}
		removed, err := m.sandbox.Discard(v.OptimizedPath)
		if err != nil {
			m.logger.Warn("skipped-output cleanup failed",
				slog.Uint64("video_id", uint64(v.ID)),
				slog.String("path", v.OptimizedPath),
				slog.Any("error", err))
			continue
		}
		if removed {
			m.logger.Info("skipped output removed",
				slog.Uint64("video_id", uint64(v.ID)),
				slog.String("path", v.OptimizedPath))
		}
	}
	return nil
}

// markFailed moves the row to failed. The returned error is non-nil only
// when the transition itself cannot be written.
func (m *Mover) markFailed(ctx context.Context, id uint) error {
	if err := m.repo.UpdateStatus(ctx, id, models.VideoStatusFailed, nil); err != nil {
		return fmt.Errorf("marking video %d failed: %w", id, err)
	}
	return nil
}
