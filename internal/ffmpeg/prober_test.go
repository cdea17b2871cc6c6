package ffmpeg

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleProbeJSON = `{
  "streams": [
    {
      "codec_name": "h264"
    }
  ],
  "format": {
    "filename": "/video-input/movies/sample.mkv",
    "nb_streams": 3,
    "nb_programs": 0,
    "format_name": "matroska,webm",
    "format_long_name": "Matroska / WebM",
    "start_time": "0.000000",
    "duration": "1445.440000",
    "size": "734003200",
    "bit_rate": "4062308",
    "probe_score": 100,
    "tags": {
      "title": "Sample",
      "encoder": "libebml v1.4.2 + libmatroska v1.6.4"
    }
  }
}`

// writeScript drops an executable shell script into dir and returns its path.
func writeScript(t *testing.T, dir, name, body string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("test binaries are shell scripts")
	}
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0o755))
	return path
}

func TestProbeResult_Unmarshal(t *testing.T) {
	var result ProbeResult
	require.NoError(t, result.UnmarshalJSON([]byte(sampleProbeJSON)))

	assert.Equal(t, "h264", result.VideoCodec())
	assert.Equal(t, "matroska,webm", result.Format.FormatName)
	assert.Equal(t, 3, result.Format.NumStreams)
	assert.Equal(t, "Sample", result.Format.Tags["title"])
	assert.InDelta(t, 1445.44, result.DurationSeconds(), 0.001)
	assert.Equal(t, int64(734003200), result.SizeBytes())
}

func TestProbeResult_VideoCodec(t *testing.T) {
	tests := []struct {
		name string
		json string
		want string
	}{
		{
			name: "first video stream",
			json: `{"streams":[{"codec_name":"hevc"}],"format":{}}`,
			want: "hevc",
		},
		{
			name: "no streams",
			json: `{"format":{"duration":"10.0"}}`,
			want: "unknown",
		},
		{
			name: "stream without codec name",
			json: `{"streams":[{}],"format":{}}`,
			want: "unknown",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var result ProbeResult
			require.NoError(t, result.UnmarshalJSON([]byte(tt.json)))
			assert.Equal(t, tt.want, result.VideoCodec())
		})
	}
}

func TestProbeResult_FormatJSON(t *testing.T) {
	var result ProbeResult
	require.NoError(t, result.UnmarshalJSON([]byte(sampleProbeJSON)))

	got := result.FormatJSON()
	assert.True(t, strings.HasPrefix(got, "{\n  \""), "expected two-space indent, got %q", got[:20])
	assert.Contains(t, got, `"format_name": "matroska,webm"`)
	assert.Contains(t, got, `"duration": "1445.440000"`)

	// Key order must survive re-rendering.
	assert.Less(t, strings.Index(got, `"filename"`), strings.Index(got, `"duration"`))

	t.Run("empty result", func(t *testing.T) {
		var empty ProbeResult
		assert.Equal(t, "{}", empty.FormatJSON())
	})
}

func TestProbeResult_MissingNumericFields(t *testing.T) {
	var result ProbeResult
	require.NoError(t, result.UnmarshalJSON([]byte(`{"streams":[{"codec_name":"av1"}],"format":{"format_name":"mp4"}}`)))

	assert.Zero(t, result.DurationSeconds())
	assert.Zero(t, result.SizeBytes())
}

func TestProber_Probe(t *testing.T) {
	dir := t.TempDir()
	argsFile := filepath.Join(dir, "args.txt")
	payload := filepath.Join(dir, "payload.json")
	require.NoError(t, os.WriteFile(payload, []byte(sampleProbeJSON), 0o644))

	script := writeScript(t, dir, "ffprobe",
		`printf '%s\n' "$@" > `+argsFile+`
cat `+payload+`
`)

	prober := NewProber(script)
	result, err := prober.Probe(context.Background(), "/video-input/movies/sample.mkv")
	require.NoError(t, err)
	assert.Equal(t, "h264", result.VideoCodec())
	assert.InDelta(t, 1445.44, result.DurationSeconds(), 0.001)

	raw, err := os.ReadFile(argsFile)
	require.NoError(t, err)
	got := strings.Split(strings.TrimRight(string(raw), "\n"), "\n")
	want := []string{
		"-v", "quiet",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		"-select_streams", "v:0",
		"-show_entries", "stream=codec_name",
		"/video-input/movies/sample.mkv",
	}
	assert.Equal(t, want, got)
}

func TestProber_Probe_Failure(t *testing.T) {
	dir := t.TempDir()
	script := writeScript(t, dir, "ffprobe", "exit 1\n")

	prober := NewProber(script)
	_, err := prober.Probe(context.Background(), "/video-input/broken.mp4")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ffprobe failed")
}

func TestProber_Probe_Timeout(t *testing.T) {
	dir := t.TempDir()
	script := writeScript(t, dir, "ffprobe", "sleep 2\n")

	prober := NewProber(script).WithTimeout(100 * time.Millisecond)
	_, err := prober.Probe(context.Background(), "/video-input/slow.mp4")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "probe timeout")
}

func TestProber_Probe_BadJSON(t *testing.T) {
	dir := t.TempDir()
	script := writeScript(t, dir, "ffprobe", "echo 'not json'\n")

	prober := NewProber(script)
	_, err := prober.Probe(context.Background(), "/video-input/odd.mp4")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parsing ffprobe output")
}
