package workers

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmylchreest/compressarr/internal/hostinfo"
	"github.com/jmylchreest/compressarr/internal/llm"
	"github.com/jmylchreest/compressarr/internal/models"
)

// testCollector avoids the GPU tool chain and the slow parts of detection.
func testCollector() *hostinfo.Collector {
	return hostinfo.NewCollector(hostinfo.Overrides{
		OS:        "linux",
		OSVersion: "test 1.0",
		CPUModel:  "test-cpu",
		TotalRAM:  "16.0 GiB",
		GPUModel:  "none",
	})
}

func TestSynthesizer_SynthesizesConfirmedVideo(t *testing.T) {
	repo := setupRepo(t)
	ctx := context.Background()

	video := insertVideo(t, repo, &models.Video{
		Filepath:    "/video-input/movie.mkv",
		Status:      models.VideoStatusConfirmed,
		FFprobeData: probeJSON("h264", "3600.0", 1_000_000_000),
	})

	completer := &fakeCompleter{
		answer: "Here is the command:\n```bash\nffmpeg -i input.mp4 -c:v libx265 -crf 24 -c:a copy output.mp4\n```\nThis keeps quality high.",
	}
	synth := NewSynthesizer(repo, completer, testCollector(), nil, SynthesizerConfig{
		Interval:  time.Minute,
		BatchSize: 10,
	}, nil)

	more, err := synth.Tick(ctx)
	require.NoError(t, err)
	assert.False(t, more)

	got, err := repo.GetByID(ctx, video.ID)
	require.NoError(t, err)
	assert.Equal(t, models.VideoStatusReady, got.Status)
	assert.Equal(t, "ffmpeg -i input.mp4 -c:v libx265 -crf 24 -c:a copy output.mp4", got.AICommand)
	assert.Contains(t, got.SystemInfo, `"Total_RAM"`)

	require.Len(t, completer.system, 1)
	assert.Equal(t, llm.DefaultSystemPrompt, completer.system[0])
	require.Len(t, completer.user, 1)
	assert.Contains(t, completer.user[0], video.FFprobeData)
	assert.Contains(t, completer.user[0], "input.mp4")

	history, err := repo.GetHistory(ctx, video.ID)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, models.VideoStatusReady, history[len(history)-1].Status)
}

func TestSynthesizer_StricterPromptForReconfirmed(t *testing.T) {
	repo := setupRepo(t)
	ctx := context.Background()

	previous := "ffmpeg -i input.mp4 -c:v libx265 -crf 20 output.mp4"
	video := insertVideo(t, repo, &models.Video{
		Filepath:    "/video-input/stubborn.mkv",
		Status:      models.VideoStatusReConfirmed,
		FFprobeData: probeJSON("h264", "3600.0", 1_000_000_000),
		AICommand:   previous,
		Progress:    "frame= 300 fps= 25 q=28.0 size= 1500kB time=00:00:12.00 bitrate=1024.0kbits/s",
	})

	completer := &fakeCompleter{
		answer: "ffmpeg -y -i input.mp4 -c:v libx265 -crf 27 -b:v 800k -c:a copy output.mp4",
	}
	synth := NewSynthesizer(repo, completer, testCollector(), nil, SynthesizerConfig{
		Interval:  time.Minute,
		BatchSize: 10,
	}, nil)

	_, err := synth.Tick(ctx)
	require.NoError(t, err)

	require.Len(t, completer.user, 1)
	assert.Contains(t, completer.user[0], "previous compression attempt")
	assert.Contains(t, completer.user[0], previous)
	assert.Contains(t, completer.user[0], video.Progress)

	got, err := repo.GetByID(ctx, video.ID)
	require.NoError(t, err)
	assert.Equal(t, models.VideoStatusReady, got.Status)
	assert.Equal(t, completer.answer, got.AICommand)
}

func TestSynthesizer_ModelErrorLeavesRowForNextPass(t *testing.T) {
	repo := setupRepo(t)
	ctx := context.Background()

	video := insertVideo(t, repo, &models.Video{
		Filepath:    "/video-input/movie.mkv",
		Status:      models.VideoStatusConfirmed,
		FFprobeData: probeJSON("h264", "3600.0", 1_000_000_000),
	})

	completer := &fakeCompleter{err: errors.New("rate limited")}
	synth := NewSynthesizer(repo, completer, testCollector(), nil, SynthesizerConfig{
		Interval:  time.Minute,
		BatchSize: 10,
	}, nil)

	// The pass itself succeeds; the row just stays put.
	_, err := synth.Tick(ctx)
	require.NoError(t, err)

	got, err := repo.GetByID(ctx, video.ID)
	require.NoError(t, err)
	assert.Equal(t, models.VideoStatusConfirmed, got.Status)
	assert.Empty(t, got.AICommand)
}

func TestSynthesizer_UnusableAnswerLeavesRow(t *testing.T) {
	repo := setupRepo(t)
	ctx := context.Background()

	video := insertVideo(t, repo, &models.Video{
		Filepath:    "/video-input/movie.mkv",
		Status:      models.VideoStatusConfirmed,
		FFprobeData: probeJSON("h264", "3600.0", 1_000_000_000),
	})

	completer := &fakeCompleter{answer: "I cannot help with that."}
	synth := NewSynthesizer(repo, completer, testCollector(), nil, SynthesizerConfig{
		Interval:  time.Minute,
		BatchSize: 10,
	}, nil)

	_, err := synth.Tick(ctx)
	require.NoError(t, err)

	got, err := repo.GetByID(ctx, video.ID)
	require.NoError(t, err)
	assert.Equal(t, models.VideoStatusConfirmed, got.Status)
	assert.Empty(t, got.AICommand)
}

func TestSynthesizer_PassCoversBothBuckets(t *testing.T) {
	repo := setupRepo(t)
	ctx := context.Background()

	insertVideo(t, repo, &models.Video{
		Filepath:    "/video-input/first.mkv",
		Status:      models.VideoStatusConfirmed,
		FFprobeData: probeJSON("h264", "3600.0", 1_000_000_000),
	})
	insertVideo(t, repo, &models.Video{
		Filepath:    "/video-input/second.mkv",
		Status:      models.VideoStatusReConfirmed,
		FFprobeData: probeJSON("h264", "3600.0", 1_000_000_000),
		AICommand:   "ffmpeg -i input.mp4 -crf 20 output.mp4",
	})

	completer := &fakeCompleter{answer: "ffmpeg -i input.mp4 -c:v libx265 -crf 26 output.mp4"}
	synth := NewSynthesizer(repo, completer, testCollector(), nil, SynthesizerConfig{
		Interval:  time.Minute,
		BatchSize: 10,
	}, nil)

	_, err := synth.Tick(ctx)
	require.NoError(t, err)

	ready, err := repo.GetByStatus(ctx, models.VideoStatusReady, 0)
	require.NoError(t, err)
	assert.Len(t, ready, 2)

	require.Len(t, completer.user, 2)
	assert.NotContains(t, completer.user[0], "previous compression attempt")
	assert.Contains(t, completer.user[1], "previous compression attempt")
}
