package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/jmylchreest/compressarr/internal/config"
	"github.com/jmylchreest/compressarr/internal/database"
	"github.com/jmylchreest/compressarr/internal/database/migrations"
	"github.com/jmylchreest/compressarr/internal/ffmpeg"
	"github.com/jmylchreest/compressarr/internal/hostinfo"
	internalhttp "github.com/jmylchreest/compressarr/internal/http"
	"github.com/jmylchreest/compressarr/internal/http/handlers"
	"github.com/jmylchreest/compressarr/internal/llm"
	"github.com/jmylchreest/compressarr/internal/repository"
	"github.com/jmylchreest/compressarr/internal/scheduler"
	"github.com/jmylchreest/compressarr/internal/service"
	"github.com/jmylchreest/compressarr/internal/startup"
	"github.com/jmylchreest/compressarr/internal/storage"
	"github.com/jmylchreest/compressarr/internal/version"
	"github.com/jmylchreest/compressarr/internal/workers"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the compressarr server and workflow loops",
	Long: `Start the compressarr HTTP server and the background workflow.

The server provides:
- REST API for inspecting and steering videos through the workflow
- Health check endpoint
- OpenAPI documentation at /docs

Alongside the API, five loops run under a supervisor: the scanner discovers
videos, the approver promotes them, the synthesizer asks the model for an
ffmpeg command, the transcoder runs it, and the mover swaps the optimized
file over the original.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().String("host", "0.0.0.0", "Host to bind to")
	serveCmd.Flags().Int("port", 8080, "Port to listen on")
	serveCmd.Flags().String("db-path", "/data/video_db.sqlite", "SQLite database file path")
	serveCmd.Flags().String("video-dir", "", "Library directory to scan for videos")
	serveCmd.Flags().String("output-dir", "", "Directory transcodes are written into")
}

// applyServeFlags overlays explicitly set flags on the loaded configuration.
// An untouched flag leaves the env/file/default resolution alone.
func applyServeFlags(flags *pflag.FlagSet, cfg *config.Config) {
	if flags.Changed("host") {
		cfg.Server.Host, _ = flags.GetString("host")
	}
	if flags.Changed("port") {
		cfg.Server.Port, _ = flags.GetInt("port")
	}
	if flags.Changed("db-path") {
		cfg.Database.Path, _ = flags.GetString("db-path")
	}
	if flags.Changed("video-dir") {
		cfg.Library.VideoDir, _ = flags.GetString("video-dir")
	}
	if flags.Changed("output-dir") {
		cfg.Library.OutputDir, _ = flags.GetString("output-dir")
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Snapshot(cfgFile)
	if err != nil {
		return err
	}
	applyServeFlags(cmd.Flags(), cfg)
	// Validate after the overlay so a fresh install can be started with
	// --video-dir and --output-dir alone.
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger := slog.Default()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Clean up temp files a crashed transcoder left behind.
	removed, err := startup.CleanupOrphanedTempFiles(logger, cfg.Library.OutputDir, cfg.Maintenance.TempMaxAge.Duration())
	if err != nil {
		logger.Warn("failed to clean orphaned temp files",
			slog.String("error", err.Error()),
		)
	} else if removed > 0 {
		logger.Info("cleaned orphaned temp files on startup",
			slog.Int("removed_count", removed),
		)
	}

	db, err := database.New(cfg.Database, logger, nil)
	if err != nil {
		return fmt.Errorf("initializing database: %w", err)
	}
	defer db.Close()
	db.StartStatsMonitor(ctx)

	migrator := migrations.NewMigrator(db.DB, logger)
	migrator.RegisterAll(migrations.AllMigrations())
	if err := migrator.Up(ctx); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}

	repo := repository.NewVideoRepository(db.DB, repository.RetryPolicy{
		// MaxAttempts counts the first try; the config counts retries after it.
		MaxAttempts: cfg.Database.MaxRetries + 1,
		Delay:       cfg.Database.RetryDelayDuration(),
	})

	detector := ffmpeg.NewBinaryDetector()
	if cfg.Transcoder.FFmpegBinary != "" || cfg.Transcoder.FFprobeBinary != "" {
		detector = detector.WithPaths(cfg.Transcoder.FFmpegBinary, cfg.Transcoder.FFprobeBinary)
	}
	binInfo, err := detector.Detect(ctx)
	if err != nil {
		return fmt.Errorf("detecting ffmpeg: %w", err)
	}
	logger.Info("detected ffmpeg",
		slog.String("ffmpeg", binInfo.FFmpegPath),
		slog.String("ffprobe", binInfo.FFprobePath),
		slog.String("version", binInfo.Version),
	)
	prober := ffmpeg.NewProber(binInfo.FFprobePath)
	runner := ffmpeg.NewRunner()

	host := hostinfo.NewCollector(hostinfo.Overrides{
		OS:        cfg.Host.OS,
		OSVersion: cfg.Host.OSVer,
		CPUModel:  cfg.Host.CPUModel,
		TotalRAM:  cfg.Host.TotalRAM,
		GPUModel:  cfg.Host.GPUModel,
	})

	llmClient := llm.NewClient(llm.Config{
		BaseURL:     cfg.AI.BaseURL,
		APIKey:      cfg.AI.APIKey,
		Model:       cfg.AI.Model,
		Temperature: cfg.AI.Temperature,
	}, logger)

	sandbox, err := storage.NewSandbox(cfg.Library.OutputDir)
	if err != nil {
		return fmt.Errorf("initializing output sandbox: %w", err)
	}

	tracker := workers.NewTracker()

	scanner := workers.NewScanner(repo, prober, workers.ScannerConfig{
		VideoDir:   cfg.Library.VideoDir,
		Extensions: cfg.Library.Extensions,
		Interval:   cfg.Scanner.IntervalDuration(),
	}, logger)

	approver := workers.NewApprover(repo, workers.ApproverConfig{
		Interval:    cfg.Approver.IntervalDuration(),
		BatchSize:   cfg.Approver.BatchSize,
		AutoConfirm: cfg.Approver.AutoConfirmed,
		AutoAccept:  cfg.Approver.AutoAccept,
	}, logger)

	synthesizer := workers.NewSynthesizer(repo, llmClient, host, detector, workers.SynthesizerConfig{
		Interval:   cfg.AI.IntervalDuration(),
		BatchSize:  cfg.AI.BatchSize,
		PromptFile: cfg.AI.PromptFile,
	}, logger)

	transcoder := workers.NewTranscoder(repo, prober, runner, detector, tracker, sandbox, workers.TranscoderConfig{
		MinReductionRatio: cfg.Transcoder.MinReductionRatio,
		IdleInterval:      cfg.Workers.SleepIntervalDuration(),
	}, logger)

	mover := workers.NewMover(repo, sandbox, workers.MoverConfig{
		Interval:  cfg.Mover.IntervalDuration(),
		BatchSize: cfg.Mover.BatchSize,
	}, logger)

	supervisor := workers.NewSupervisor(workers.Policy{
		RetryDelay:           cfg.Workers.RetryDelayDuration(),
		MaxRetryDelay:        cfg.Workers.MaxRetryDelayDuration(),
		MaxConsecutiveErrors: cfg.Workers.MaxConsecutiveErrors,
	}, logger)
	supervisor.Register(scanner, approver, synthesizer, transcoder, mover)

	videoService := service.NewVideoService(repo).
		WithLogger(logger).
		WithTracker(tracker)

	backupService := service.NewBackupService(db.DB, cfg.Backup, filepath.Dir(cfg.Database.Path)).
		WithLogger(logger)

	sched := scheduler.New().WithLogger(logger)
	scheduled := 0
	if cfg.Backup.Schedule.Enabled {
		err := sched.Register("backup", cfg.Backup.Schedule.Cron, func(ctx context.Context) error {
			if _, err := backupService.CreateBackup(ctx); err != nil {
				return err
			}
			_, err := backupService.CleanupOldBackups(ctx)
			return err
		})
		if err != nil {
			return fmt.Errorf("scheduling backups: %w", err)
		}
		scheduled++
	}
	if cfg.Maintenance.OrphanSweepCron != "" {
		maxAge := cfg.Maintenance.TempMaxAge.Duration()
		err := sched.Register("orphan-sweep", cfg.Maintenance.OrphanSweepCron, func(ctx context.Context) error {
			_, err := startup.SweepOrphanedOutputs(ctx, logger, repo, cfg.Library.OutputDir, maxAge)
			return err
		})
		if err != nil {
			return fmt.Errorf("scheduling orphan sweep: %w", err)
		}
		scheduled++
	}

	serverConfig := internalhttp.ServerConfig{
		Host:            cfg.Server.Host,
		Port:            cfg.Server.Port,
		ReadTimeout:     cfg.Server.ReadTimeout,
		WriteTimeout:    cfg.Server.WriteTimeout,
		IdleTimeout:     cfg.Server.IdleTimeout,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
		CORSOrigins:     cfg.Server.CORSOrigins,
	}
	server := internalhttp.NewServer(serverConfig, logger, version.Version)

	videoHandler := handlers.NewVideoHandler(videoService)
	videoHandler.Register(server.API())

	healthHandler := handlers.NewHealthHandler(version.Version).
		WithDB(db.DB).
		WithWorkers(supervisor).
		WithCircuitBreaker("llm", llmClient)
	healthHandler.Register(server.API())

	backupHandler := handlers.NewBackupHandler(backupService)
	backupHandler.Register(server.API())
	backupHandler.RegisterChiRoutes(server.Router())

	if err := supervisor.Start(ctx); err != nil {
		return fmt.Errorf("starting workers: %w", err)
	}
	if scheduled > 0 {
		if err := sched.Start(ctx); err != nil {
			return fmt.Errorf("starting scheduler: %w", err)
		}
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	// A worker that exhausts its retries takes the whole process down so an
	// operator notices. The buffered channel keeps the error for the exit code.
	fatalCh := make(chan error, 1)
	go func() {
		select {
		case sig := <-sigChan:
			logger.Info("received shutdown signal", slog.String("signal", sig.String()))
		case err := <-supervisor.Fatal():
			logger.Error("workflow stopped", slog.String("error", err.Error()))
			fatalCh <- err
		case <-ctx.Done():
		}
		cancel()
	}()

	logger.Info("starting compressarr server",
		slog.String("host", serverConfig.Host),
		slog.Int("port", serverConfig.Port),
		slog.String("video_dir", cfg.Library.VideoDir),
		slog.String("version", version.Version),
	)

	err = server.ListenAndServe(ctx)

	supervisor.Stop()
	if scheduled > 0 {
		sched.Stop()
	}

	select {
	case fatal := <-fatalCh:
		return fatal
	default:
	}
	return err
}
