package workers

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/jmylchreest/compressarr/internal/ffmpeg"
	"github.com/jmylchreest/compressarr/internal/models"
	"github.com/jmylchreest/compressarr/internal/repository"
	"github.com/jmylchreest/compressarr/internal/storage"
)

// estimateAfterSeconds is how far into the output a run must be before the
// final size is projected. Strictly greater than; the first seconds of an
// encode are not representative.
const estimateAfterSeconds = 10.0

// TranscoderConfig holds transcode loop configuration.
type TranscoderConfig struct {
	// MinReductionRatio aborts a run whose projected reduction falls below
	// this fraction of the original size.
	MinReductionRatio float64
	// IdleInterval is the pause when the ready queue is empty.
	IdleInterval time.Duration
}

// Transcoder runs synthesized commands serially, one ready video at a time,
// aborting early when the projected output is not small enough.
type Transcoder struct {
	repo     repository.VideoRepository
	prober   Prober
	runner   *ffmpeg.Runner
	detector *ffmpeg.BinaryDetector
	tracker  *Tracker
	sandbox  *storage.Sandbox
	cfg      TranscoderConfig
	logger   *slog.Logger
}

// NewTranscoder creates the transcode loop. The sandbox is rooted at the
// output directory; every output path resolves inside it. detector may be
// nil, in which case the synthesized command's own binary is trusted.
func NewTranscoder(repo repository.VideoRepository, prober Prober, runner *ffmpeg.Runner, detector *ffmpeg.BinaryDetector, tracker *Tracker, sandbox *storage.Sandbox, cfg TranscoderConfig, logger *slog.Logger) *Transcoder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Transcoder{
		repo:     repo,
		prober:   prober,
		runner:   runner,
		detector: detector,
		tracker:  tracker,
		sandbox:  sandbox,
		cfg:      cfg,
		logger:   logger.With(slog.String("worker", "transcoder")),
	}
}

// Name implements Worker.
func (t *Transcoder) Name() string { return "transcoder" }

// Interval implements Worker.
func (t *Transcoder) Interval() time.Duration { return t.cfg.IdleInterval }

// Tick processes the oldest ready video, if any.
func (t *Transcoder) Tick(ctx context.Context) (bool, error) {
	video, err := t.repo.NextReady(ctx)
	if err != nil {
		return false, fmt.Errorf("fetching next ready video: %w", err)
	}
	if video == nil {
		return false, nil
	}
	if err := t.process(ctx, video); err != nil {
		return false, err
	}
	return true, nil
}

// process runs one video's stored command end to end. Row-level outcomes
// (failed, re-confirmed, optimized) return nil; only infrastructure
// problems surface as pass errors.
func (t *Transcoder) process(ctx context.Context, video *models.Video) error {
	log := t.logger.With(
		slog.Uint64("video_id", uint64(video.ID)),
		slog.String("filename", video.Basename()))

	outputPath, err := t.sandbox.ResolvePath(video.Basename())
	if err != nil {
		log.Error("output path rejected", slog.Any("error", err))
		return t.markFailed(ctx, video.ID)
	}
	inv, err := ffmpeg.ParseCommand(video.AICommand, video.Filepath, outputPath)
	if err != nil {
		log.Error("stored command rejected", slog.Any("error", err))
		return t.markFailed(ctx, video.ID)
	}
	if warnings := inv.Advisories(); len(warnings) > 0 {
		log.Warn("command carries shell syntax", slog.Any("warnings", warnings))
	}
	if _, err := os.Stat(video.Filepath); err != nil {
		log.Error("input file missing", slog.Any("error", err))
		return t.markFailed(ctx, video.ID)
	}
	if err := t.sandbox.MkdirAll("."); err != nil {
		return fmt.Errorf("creating output directory: %w", err)
	}
	if t.detector != nil {
		if info, err := t.detector.Detect(ctx); err == nil && info.FFmpegPath != "" {
			inv.Binary = info.FFmpegPath
		}
	}

	// Duration comes from the probe taken at discovery; without it the
	// size projection stays off and the run goes to completion.
	var duration float64
	if format, err := ffmpeg.ParseStoredFormat(video.FFprobeData); err != nil {
		log.Warn("stored probe data unreadable, size projection disabled", slog.Any("error", err))
	} else {
		duration = format.DurationSeconds()
	}

	opID := t.tracker.Begin(video.ID, video.Basename())
	log = log.With(slog.String("operation_id", opID))
	log.Info("transcode started", slog.String("command", inv.String()))

	onProgress := func(p ffmpeg.Progress) ffmpeg.Action {
		t.tracker.Update(video.ID, p)
		if p.Raw != "" {
			if err := t.repo.UpdateProgress(ctx, video.ID, p.Raw); err != nil {
				log.Debug("progress write skipped", slog.Any("error", err))
			}
		}
		if p.TimeSecs <= estimateAfterSeconds || duration <= 0 || p.SizeBytes <= 0 {
			return ffmpeg.Continue
		}

		estimated := int64(float64(p.SizeBytes) / p.TimeSecs * duration)
		if err := t.repo.UpdateEstimatedSize(ctx, video.ID, estimated); err != nil {
			log.Debug("estimate write skipped", slog.Any("error", err))
		}
		ratio := video.ReductionRatio(estimated)
		t.tracker.SetEstimate(video.ID, estimated, ratio)

		if ratio < t.cfg.MinReductionRatio {
			log.Warn("projected reduction below threshold, aborting",
				slog.Int64("estimated_size", estimated),
				slog.Float64("reduction_ratio", ratio),
				slog.Float64("threshold", t.cfg.MinReductionRatio))
			return ffmpeg.Abort
		}
		return ffmpeg.Continue
	}

	res, err := t.runner.Run(ctx, inv, onProgress)
	switch {
	case res.Aborted:
		t.tracker.Finish(video.ID, OperationAborted)
		if err := t.repo.UpdateStatus(ctx, video.ID, models.VideoStatusReConfirmed, nil); err != nil {
			return fmt.Errorf("requeueing video %d for a stricter command: %w", video.ID, err)
		}
		log.Info("video requeued for a stricter command")
		return nil
	case err != nil:
		t.tracker.Finish(video.ID, OperationFailed)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		log.Error("transcode failed",
			slog.Int("exit_code", res.ExitCode),
			slog.String("stderr_tail", strings.Join(tail(res.Stderr, 5), "\n")),
			slog.Any("error", err))
		return t.markFailed(ctx, video.ID)
	}

	info, err := os.Stat(outputPath)
	if err != nil {
		t.tracker.Finish(video.ID, OperationFailed)
		return fmt.Errorf("reading transcoded output size: %w", err)
	}
	probe, err := t.prober.Probe(ctx, outputPath)
	if err != nil {
		t.tracker.Finish(video.ID, OperationFailed)
		return fmt.Errorf("probing transcoded output %s: %w", outputPath, err)
	}

	optimizedSize := info.Size()
	newCodec := probe.VideoCodec()
	if err := t.repo.UpdateFinalOutput(ctx, video.ID, outputPath, newCodec, optimizedSize); err != nil {
		t.tracker.Finish(video.ID, OperationFailed)
		return fmt.Errorf("recording transcoded output for video %d: %w", video.ID, err)
	}

	t.tracker.Finish(video.ID, OperationCompleted)
	log.Info("transcode complete",
		slog.String("new_codec", newCodec),
		slog.Int64("optimized_size", optimizedSize),
		slog.Float64("reduction_ratio", video.ReductionRatio(optimizedSize)))
	return nil
}

// markFailed moves the row to failed. The returned error is non-nil only
// when the transition itself cannot be written.
func (t *Transcoder) markFailed(ctx context.Context, id uint) error {
	if err := t.repo.UpdateStatus(ctx, id, models.VideoStatusFailed, nil); err != nil {
		return fmt.Errorf("marking video %d failed: %w", id, err)
	}
	return nil
}

// tail returns the last n elements of lines.
func tail(lines []string, n int) []string {
	if len(lines) <= n {
		return lines
	}
	return lines[len(lines)-n:]
}
