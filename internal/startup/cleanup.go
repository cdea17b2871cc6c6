// Package startup provides utilities for application startup tasks.
package startup

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jmylchreest/compressarr/internal/models"
	"github.com/jmylchreest/compressarr/internal/repository"
)

// TempFileSuffix marks in-flight atomic writes inside the output directory.
// The sandbox writes ".<name>.<hex>.tmp" and renames on completion, so
// anything still carrying the suffix was abandoned mid-write.
const TempFileSuffix = ".tmp"

// CleanupOrphanedTempFiles removes abandoned atomic-write temp files from
// the output directory. Only hidden files ending in ".tmp" older than maxAge
// are touched.
//
// Returns the number of files removed and any error encountered.
func CleanupOrphanedTempFiles(logger *slog.Logger, outputDir string, maxAge time.Duration) (int, error) {
	if _, err := os.Stat(outputDir); os.IsNotExist(err) {
		logger.Debug("output directory does not exist, skipping cleanup",
			"path", outputDir,
		)
		return 0, nil
	}

	entries, err := os.ReadDir(outputDir)
	if err != nil {
		logger.Error("failed to read directory for cleanup",
			"path", outputDir,
			"error", err,
		)
		return 0, err
	}

	cutoff := time.Now().Add(-maxAge)
	var removed int

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if !strings.HasPrefix(name, ".") || !strings.HasSuffix(name, TempFileSuffix) {
			continue
		}

		filePath := filepath.Join(outputDir, name)

		info, err := entry.Info()
		if err != nil {
			logger.Warn("failed to get file info",
				"path", filePath,
				"error", err,
			)
			continue
		}

		if info.ModTime().After(cutoff) {
			logger.Debug("preserving recent temp file",
				"path", filePath,
				"age", time.Since(info.ModTime()).Round(time.Second),
			)
			continue
		}

		if err := os.Remove(filePath); err != nil {
			logger.Warn("failed to remove orphaned temp file",
				"path", filePath,
				"error", err,
			)
			continue
		}

		logger.Info("removed orphaned temp file",
			"path", filePath,
			"age", time.Since(info.ModTime()).Round(time.Second),
		)
		removed++
	}

	return removed, nil
}

// outputClaimStatuses are the workflow states that entitle a row to a file
// in the output directory. An optimized or accepted row claims its recorded
// OptimizedPath; a confirmed, re-confirmed, or ready row claims the output
// basename its next transcode will write.
var outputClaimStatuses = []models.VideoStatus{
	models.VideoStatusConfirmed,
	models.VideoStatusReConfirmed,
	models.VideoStatusReady,
	models.VideoStatusOptimized,
	models.VideoStatusAccepted,
}

// SweepOrphanedOutputs removes transcoded outputs that no row in a working
// status claims. Crashed runs, aborted projections, and rows moved to a
// terminal status by hand all leave files here that nothing will ever
// publish. Files younger than maxAge are preserved so a transcode that is
// still writing is never swept out from under the encoder.
//
// Returns the number of files removed and any error encountered.
func SweepOrphanedOutputs(ctx context.Context, logger *slog.Logger, repo repository.VideoRepository, outputDir string, maxAge time.Duration) (int, error) {
	if _, err := os.Stat(outputDir); os.IsNotExist(err) {
		logger.Debug("output directory does not exist, skipping sweep",
			"path", outputDir,
		)
		return 0, nil
	}

	claimedPaths := make(map[string]struct{})
	claimedNames := make(map[string]struct{})
	for _, status := range outputClaimStatuses {
		videos, err := repo.GetByStatus(ctx, status, 0)
		if err != nil {
			logger.Error("failed to load videos for orphan sweep",
				"status", status.String(),
				"error", err,
			)
			return 0, err
		}
		for _, v := range videos {
			if v.OptimizedPath != "" {
				claimedPaths[filepath.Clean(v.OptimizedPath)] = struct{}{}
			}
			claimedNames[v.Basename()] = struct{}{}
		}
	}

	entries, err := os.ReadDir(outputDir)
	if err != nil {
		logger.Error("failed to read directory for sweep",
			"path", outputDir,
			"error", err,
		)
		return 0, err
	}

	cutoff := time.Now().Add(-maxAge)
	var removed int

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		// Hidden temp files belong to CleanupOrphanedTempFiles
		if strings.HasPrefix(name, ".") {
			continue
		}

		filePath := filepath.Join(outputDir, name)

		if _, ok := claimedPaths[filepath.Clean(filePath)]; ok {
			continue
		}
		if _, ok := claimedNames[name]; ok {
			continue
		}

		info, err := entry.Info()
		if err != nil {
			logger.Warn("failed to get file info",
				"path", filePath,
				"error", err,
			)
			continue
		}

		if info.ModTime().After(cutoff) {
			logger.Debug("preserving recent unclaimed output",
				"path", filePath,
				"age", time.Since(info.ModTime()).Round(time.Second),
			)
			continue
		}

		if err := os.Remove(filePath); err != nil {
			logger.Warn("failed to remove orphaned output",
				"path", filePath,
				"error", err,
			)
			continue
		}

		logger.Info("removed orphaned output",
			"path", filePath,
			"age", time.Since(info.ModTime()).Round(time.Second),
		)
		removed++
	}

	return removed, nil
}
