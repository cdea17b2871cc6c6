package workers

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmylchreest/compressarr/internal/ffmpeg"
	"github.com/jmylchreest/compressarr/internal/hostinfo"
	"github.com/jmylchreest/compressarr/internal/llm"
	"github.com/jmylchreest/compressarr/internal/models"
	"github.com/jmylchreest/compressarr/internal/repository"
)

// Completer produces a chat completion for a prompt pair. Implemented by
// llm.Client.
type Completer interface {
	Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

// SynthesizerConfig holds command synthesis loop configuration.
type SynthesizerConfig struct {
	// Interval is the pause between synthesis passes.
	Interval time.Duration
	// BatchSize is the most rows synthesized per pass and bucket.
	BatchSize int
	// PromptFile optionally overrides the built-in system prompt.
	PromptFile string
}

// Synthesizer asks the model for a transcode command per confirmed video,
// and for a stricter one per re-confirmed video whose first attempt did not
// shrink the file enough.
type Synthesizer struct {
	repo       repository.VideoRepository
	client     Completer
	host       *hostinfo.Collector
	detector   *ffmpeg.BinaryDetector
	interval   time.Duration
	batchSize  int
	promptFile string
	logger     *slog.Logger
}

// NewSynthesizer creates the synthesis loop. detector may be nil; it only
// feeds the hardware-encoder hint on stricter prompts.
func NewSynthesizer(repo repository.VideoRepository, client Completer, host *hostinfo.Collector, detector *ffmpeg.BinaryDetector, cfg SynthesizerConfig, logger *slog.Logger) *Synthesizer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Synthesizer{
		repo:       repo,
		client:     client,
		host:       host,
		detector:   detector,
		interval:   cfg.Interval,
		batchSize:  cfg.BatchSize,
		promptFile: cfg.PromptFile,
		logger:     logger.With(slog.String("worker", "synthesizer")),
	}
}

// Name implements Worker.
func (s *Synthesizer) Name() string { return "synthesizer" }

// Interval implements Worker.
func (s *Synthesizer) Interval() time.Duration { return s.interval }

// Tick synthesizes commands for one batch of confirmed videos, then one
// batch of re-confirmed videos. Per-video failures leave the row unchanged
// for the next pass.
func (s *Synthesizer) Tick(ctx context.Context) (bool, error) {
	confirmed, err := s.repo.GetByStatus(ctx, models.VideoStatusConfirmed, s.batchSize)
	if err != nil {
		return false, fmt.Errorf("listing confirmed videos: %w", err)
	}
	reconfirmed, err := s.repo.GetByStatus(ctx, models.VideoStatusReConfirmed, s.batchSize)
	if err != nil {
		return false, fmt.Errorf("listing re-confirmed videos: %w", err)
	}
	if len(confirmed)+len(reconfirmed) == 0 {
		s.logger.Debug("no videos awaiting synthesis")
		return false, nil
	}

	// One host snapshot per pass; every prompt in the pass sees the same
	// capability picture.
	systemInfo := s.host.Collect(ctx).JSON()
	systemPrompt := llm.SystemPrompt(s.promptFile)

	for _, v := range confirmed {
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		s.synthesize(ctx, v, systemPrompt, systemInfo, false)
	}
	for _, v := range reconfirmed {
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		s.synthesize(ctx, v, systemPrompt, systemInfo, true)
	}
	return false, nil
}

// synthesize runs one model call and persists the command. Any failure is
// logged and the row left untouched.
func (s *Synthesizer) synthesize(ctx context.Context, video *models.Video, systemPrompt, systemInfo string, stricter bool) {
	log := s.logger.With(
		slog.Uint64("video_id", uint64(video.ID)),
		slog.String("filename", video.Basename()))

	in := llm.PromptInput{
		FFprobeData: video.FFprobeData,
		SystemInfo:  systemInfo,
	}
	var userPrompt string
	if stricter {
		in.PreviousCommand = video.AICommand
		in.LastProgress = video.Progress
		if s.detector != nil {
			if info, err := s.detector.Detect(ctx); err == nil {
				in.HardwareEncoders = info.HardwareEncoders()
			}
		}
		userPrompt = llm.BuildRetryPrompt(in)
	} else {
		userPrompt = llm.BuildUserPrompt(in)
	}

	answer, err := s.client.Complete(ctx, systemPrompt, userPrompt)
	if err != nil {
		log.Error("model call failed", slog.Any("error", err))
		return
	}
	command, err := llm.NormalizeCommand(answer)
	if err != nil {
		log.Error("model answer unusable", slog.Any("error", err))
		return
	}

	fields := map[string]interface{}{
		"ai_command":  command,
		"system_info": systemInfo,
	}
	if err := s.repo.UpdateStatus(ctx, video.ID, models.VideoStatusReady, fields); err != nil {
		log.Error("persisting command failed", slog.Any("error", err))
		return
	}
	log.Info("command synthesized",
		slog.Bool("stricter", stricter),
		slog.String("command", command))
}
