package workers

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/jmylchreest/compressarr/internal/ffmpeg"
	"github.com/jmylchreest/compressarr/internal/models"
	"github.com/jmylchreest/compressarr/internal/repository"
)

// Prober inspects a media file and returns its container metadata.
// Implemented by ffmpeg.Prober.
type Prober interface {
	Probe(ctx context.Context, path string) (*ffmpeg.ProbeResult, error)
}

// ScannerConfig holds discovery loop configuration.
type ScannerConfig struct {
	// VideoDir is the root of the watched input tree.
	VideoDir string
	// Extensions is the case-insensitive allow-list of file extensions.
	Extensions []string
	// Interval is the pause between scan passes.
	Interval time.Duration
}

// Scanner walks the input tree and registers unseen video files as pending.
type Scanner struct {
	repo       repository.VideoRepository
	prober     Prober
	videoDir   string
	extensions map[string]struct{}
	interval   time.Duration
	logger     *slog.Logger
}

// NewScanner creates the discovery loop.
func NewScanner(repo repository.VideoRepository, prober Prober, cfg ScannerConfig, logger *slog.Logger) *Scanner {
	if logger == nil {
		logger = slog.Default()
	}
	exts := make(map[string]struct{}, len(cfg.Extensions))
	for _, e := range cfg.Extensions {
		e = strings.ToLower(strings.TrimSpace(e))
		if e == "" {
			continue
		}
		if !strings.HasPrefix(e, ".") {
			e = "." + e
		}
		exts[e] = struct{}{}
	}
	return &Scanner{
		repo:       repo,
		prober:     prober,
		videoDir:   cfg.VideoDir,
		extensions: exts,
		interval:   cfg.Interval,
		logger:     logger.With(slog.String("worker", "scanner")),
	}
}

// Name implements Worker.
func (s *Scanner) Name() string { return "scanner" }

// Interval implements Worker.
func (s *Scanner) Interval() time.Duration { return s.interval }

// Tick walks the input tree once. Per-file problems are logged and skipped;
// only a failed walk fails the pass.
func (s *Scanner) Tick(ctx context.Context) (bool, error) {
	root, err := filepath.Abs(s.videoDir)
	if err != nil {
		return false, fmt.Errorf("resolving scan root: %w", err)
	}

	inserted := 0
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if d.IsDir() || !s.allowed(path) {
			return nil
		}
		if s.register(ctx, path, d) {
			inserted++
		}
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("scanning %s: %w", root, err)
	}

	if inserted > 0 {
		s.logger.Info("scan pass complete", slog.Int("new_videos", inserted))
	} else {
		s.logger.Debug("scan pass complete, no new videos")
	}
	return false, nil
}

// allowed reports whether the path's extension is on the allow-list.
func (s *Scanner) allowed(path string) bool {
	_, ok := s.extensions[strings.ToLower(filepath.Ext(path))]
	return ok
}

// register probes and inserts one candidate file. Reports whether a new row
// was created. Failures are logged and isolated so one unreadable file
// cannot stall the pass.
func (s *Scanner) register(ctx context.Context, path string, d fs.DirEntry) bool {
	log := s.logger.With(slog.String("path", path))

	existing, err := s.repo.GetByPath(ctx, path)
	if err != nil {
		log.Error("lookup failed", slog.Any("error", err))
		return false
	}
	if existing != nil {
		return false
	}

	info, err := d.Info()
	if err != nil {
		log.Error("stat failed", slog.Any("error", err))
		return false
	}

	probe, err := s.prober.Probe(ctx, path)
	if err != nil {
		log.Warn("probe failed, skipping", slog.Any("error", err))
		return false
	}

	video := &models.Video{
		Filename:      filepath.Base(path),
		Filepath:      path,
		OriginalSize:  info.Size(),
		OriginalCodec: probe.VideoCodec(),
		FFprobeData:   probe.FormatJSON(),
		Status:        models.VideoStatusPending,
	}
	if err := s.repo.Insert(ctx, video); err != nil {
		if !errors.Is(err, models.ErrDuplicatePath) {
			log.Error("insert failed", slog.Any("error", err))
		}
		return false
	}

	log.Debug("video registered",
		slog.Uint64("video_id", uint64(video.ID)),
		slog.String("codec", video.OriginalCodec),
		slog.Int64("size", video.OriginalSize))
	return true
}
