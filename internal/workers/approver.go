package workers

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmylchreest/compressarr/internal/models"
	"github.com/jmylchreest/compressarr/internal/repository"
)

// ApproverConfig holds approval loop configuration.
type ApproverConfig struct {
	// Interval is the pause between approval passes.
	Interval time.Duration
	// BatchSize is the most rows promoted per pass and gate.
	BatchSize int
	// AutoConfirm promotes pending videos without operator input.
	AutoConfirm bool
	// AutoAccept promotes optimized videos without operator input.
	AutoAccept bool
}

// Approver promotes videos past the two manual gates when the corresponding
// auto flags are on. With both flags off the workflow only advances through
// the HTTP status override.
type Approver struct {
	repo        repository.VideoRepository
	interval    time.Duration
	batchSize   int
	autoConfirm bool
	autoAccept  bool
	logger      *slog.Logger
}

// NewApprover creates the approval loop.
func NewApprover(repo repository.VideoRepository, cfg ApproverConfig, logger *slog.Logger) *Approver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Approver{
		repo:        repo,
		interval:    cfg.Interval,
		batchSize:   cfg.BatchSize,
		autoConfirm: cfg.AutoConfirm,
		autoAccept:  cfg.AutoAccept,
		logger:      logger.With(slog.String("worker", "approver")),
	}
}

// Name implements Worker.
func (a *Approver) Name() string { return "approver" }

// Interval implements Worker.
func (a *Approver) Interval() time.Duration { return a.interval }

// Tick promotes one batch through each enabled gate.
func (a *Approver) Tick(ctx context.Context) (bool, error) {
	if !a.autoConfirm && !a.autoAccept {
		a.logger.Debug("auto approval disabled, nothing to do")
		return false, nil
	}
	if a.autoConfirm {
		if err := a.promote(ctx, models.VideoStatusPending, models.VideoStatusConfirmed); err != nil {
			return false, err
		}
	}
	if a.autoAccept {
		if err := a.promote(ctx, models.VideoStatusOptimized, models.VideoStatusAccepted); err != nil {
			return false, err
		}
	}
	return false, nil
}

// promote moves the oldest batch of videos from one status to the next.
func (a *Approver) promote(ctx context.Context, from, to models.VideoStatus) error {
	videos, err := a.repo.GetByStatus(ctx, from, a.batchSize)
	if err != nil {
		return fmt.Errorf("listing %s videos: %w", from, err)
	}
	if len(videos) == 0 {
		return nil
	}

	ids := make([]uint, len(videos))
	for i, v := range videos {
		ids[i] = v.ID
	}
	moved, err := a.repo.BulkUpdateStatus(ctx, ids, to)
	if err != nil {
		return fmt.Errorf("promoting %s videos: %w", from, err)
	}

	a.logger.Info("videos promoted",
		slog.String("from", from.String()),
		slog.String("to", to.String()),
		slog.Int64("count", moved))
	return nil
}
