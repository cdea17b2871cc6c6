// Package testutil provides shared fixtures for compressarr tests.
package testutil

import (
	"context"
	"fmt"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/jmylchreest/compressarr/internal/models"
	"github.com/jmylchreest/compressarr/internal/repository"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// OpenDB returns an in-memory database migrated for the pipeline models.
func OpenDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	require.NoError(t, db.AutoMigrate(&models.Video{}, &models.StatusHistory{}))
	return db
}

// NewRepo returns a video repository over a fresh in-memory database.
// The retry policy is zeroed; a single connection cannot contend with itself.
func NewRepo(t *testing.T) repository.VideoRepository {
	t.Helper()
	return repository.NewVideoRepository(OpenDB(t), repository.RetryPolicy{})
}

// SeedVideo inserts a minimal valid video row in the given status and
// returns it. The insert goes through the repository so the initial status
// history row is written too.
func SeedVideo(t *testing.T, repo repository.VideoRepository, path string, status models.VideoStatus) *models.Video {
	t.Helper()

	video := &models.Video{
		Filename:      "movie.mkv",
		Filepath:      path,
		OriginalSize:  1 << 30,
		OriginalCodec: "h264",
		Status:        status,
	}
	require.NoError(t, repo.Insert(context.Background(), video))
	return video
}

// SeedLibrary inserts n pending rows under distinct paths.
func SeedLibrary(t *testing.T, repo repository.VideoRepository, n int) []*models.Video {
	t.Helper()

	videos := make([]*models.Video, 0, n)
	for i := 0; i < n; i++ {
		videos = append(videos, SeedVideo(t, repo, fmt.Sprintf("/library/movie-%03d.mkv", i), models.VideoStatusPending))
	}
	return videos
}
