package workers

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/jmylchreest/compressarr/internal/ffmpeg"
	"github.com/jmylchreest/compressarr/internal/models"
	"github.com/jmylchreest/compressarr/internal/repository"
)

// setupRepo returns a repository over a fresh in-memory store.
func setupRepo(t *testing.T) repository.VideoRepository {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.Video{}, &models.StatusHistory{}))
	return repository.NewVideoRepository(db, repository.RetryPolicy{})
}

// insertVideo registers a row, filling the fields the store requires.
func insertVideo(t *testing.T, repo repository.VideoRepository, v *models.Video) *models.Video {
	t.Helper()
	if v.Filename == "" {
		v.Filename = filepath.Base(v.Filepath)
	}
	require.NoError(t, repo.Insert(context.Background(), v))
	return v
}

// probeJSON renders an ffprobe answer with the given duration (seconds, as
// the probe reports it: a string) and codec.
func probeJSON(codec, duration string, size int64) string {
	return fmt.Sprintf(`{"format":{"duration":%q,"size":"%d"},"streams":[{"codec_name":%q}]}`,
		duration, size, codec)
}

// parseProbe builds a ProbeResult the way the real prober does, from raw
// ffprobe JSON.
func parseProbe(t *testing.T, raw string) *ffmpeg.ProbeResult {
	t.Helper()
	var res ffmpeg.ProbeResult
	require.NoError(t, json.Unmarshal([]byte(raw), &res))
	return &res
}

// fakeProber serves canned probe results keyed by path.
type fakeProber struct {
	results map[string]*ffmpeg.ProbeResult
	errs    map[string]error
	calls   int
}

func (f *fakeProber) add(path string, res *ffmpeg.ProbeResult) *fakeProber {
	if f.results == nil {
		f.results = make(map[string]*ffmpeg.ProbeResult)
	}
	f.results[path] = res
	return f
}

func (f *fakeProber) fail(path string, err error) *fakeProber {
	if f.errs == nil {
		f.errs = make(map[string]error)
	}
	f.errs[path] = err
	return f
}

func (f *fakeProber) Probe(_ context.Context, path string) (*ffmpeg.ProbeResult, error) {
	f.calls++
	if err, ok := f.errs[path]; ok {
		return nil, err
	}
	if res, ok := f.results[path]; ok {
		return res, nil
	}
	return nil, fmt.Errorf("no probe fixture for %s", path)
}

// fakeCompleter records prompts and answers with a fixed reply.
type fakeCompleter struct {
	answer string
	err    error
	system []string
	user   []string
}

func (f *fakeCompleter) Complete(_ context.Context, systemPrompt, userPrompt string) (string, error) {
	f.system = append(f.system, systemPrompt)
	f.user = append(f.user, userPrompt)
	if f.err != nil {
		return "", f.err
	}
	return f.answer, nil
}

// writeScript drops an executable shell script into dir and returns its
// path. Tests that transcode use scripts in place of the real encoder.
func writeScript(t *testing.T, dir, name, body string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("test encoders are shell scripts")
	}
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0o755))
	return path
}
