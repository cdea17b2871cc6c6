package workers

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmylchreest/compressarr/internal/models"
)

func TestApprover_AutoConfirmPromotesOldestBatch(t *testing.T) {
	repo := setupRepo(t)
	ctx := context.Background()

	for i := 0; i < 15; i++ {
		insertVideo(t, repo, &models.Video{
			Filepath: fmt.Sprintf("/video-input/movie-%02d.mkv", i),
			Status:   models.VideoStatusPending,
		})
	}

	approver := NewApprover(repo, ApproverConfig{
		Interval:    time.Minute,
		BatchSize:   10,
		AutoConfirm: true,
	}, nil)

	more, err := approver.Tick(ctx)
	require.NoError(t, err)
	assert.False(t, more)

	confirmed, err := repo.GetByStatus(ctx, models.VideoStatusConfirmed, 0)
	require.NoError(t, err)
	require.Len(t, confirmed, 10)

	pending, err := repo.GetByStatus(ctx, models.VideoStatusPending, 0)
	require.NoError(t, err)
	require.Len(t, pending, 5)

	// Arrival order: the first ten registered are the ten promoted.
	for i, v := range confirmed {
		assert.Equal(t, fmt.Sprintf("/video-input/movie-%02d.mkv", i), v.Filepath)
	}
	for i, v := range pending {
		assert.Equal(t, fmt.Sprintf("/video-input/movie-%02d.mkv", i+10), v.Filepath)
	}

	// The next pass drains the remainder.
	_, err = approver.Tick(ctx)
	require.NoError(t, err)

	pending, err = repo.GetByStatus(ctx, models.VideoStatusPending, 0)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestApprover_AutoAcceptPromotesOptimized(t *testing.T) {
	repo := setupRepo(t)
	ctx := context.Background()

	insertVideo(t, repo, &models.Video{
		Filepath: "/video-input/done.mkv",
		Status:   models.VideoStatusOptimized,
	})
	insertVideo(t, repo, &models.Video{
		Filepath: "/video-input/waiting.mkv",
		Status:   models.VideoStatusPending,
	})

	approver := NewApprover(repo, ApproverConfig{
		Interval:   time.Minute,
		BatchSize:  10,
		AutoAccept: true,
	}, nil)

	_, err := approver.Tick(ctx)
	require.NoError(t, err)

	accepted, err := repo.GetByStatus(ctx, models.VideoStatusAccepted, 0)
	require.NoError(t, err)
	require.Len(t, accepted, 1)
	assert.Equal(t, "/video-input/done.mkv", accepted[0].Filepath)

	// Auto-accept alone never touches the pending gate.
	pending, err := repo.GetByStatus(ctx, models.VideoStatusPending, 0)
	require.NoError(t, err)
	assert.Len(t, pending, 1)
}

func TestApprover_DisabledGatesLeaveRowsAlone(t *testing.T) {
	repo := setupRepo(t)
	ctx := context.Background()

	insertVideo(t, repo, &models.Video{
		Filepath: "/video-input/a.mkv",
		Status:   models.VideoStatusPending,
	})
	insertVideo(t, repo, &models.Video{
		Filepath: "/video-input/b.mkv",
		Status:   models.VideoStatusOptimized,
	})

	approver := NewApprover(repo, ApproverConfig{
		Interval:  time.Minute,
		BatchSize: 10,
	}, nil)

	more, err := approver.Tick(ctx)
	require.NoError(t, err)
	assert.False(t, more)

	pending, err := repo.GetByStatus(ctx, models.VideoStatusPending, 0)
	require.NoError(t, err)
	assert.Len(t, pending, 1)

	optimized, err := repo.GetByStatus(ctx, models.VideoStatusOptimized, 0)
	require.NoError(t, err)
	assert.Len(t, optimized, 1)
}
