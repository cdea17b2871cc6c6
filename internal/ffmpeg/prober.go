package ffmpeg

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strconv"
	"time"
)

// codecUnknown is recorded when the probe reports no video stream.
const codecUnknown = "unknown"

// ProbeResult contains the parsed ffprobe output for one media file.
type ProbeResult struct {
	Format  ProbeFormat
	Streams []ProbeStream

	// rawFormat preserves the format object exactly as ffprobe printed it,
	// including keys the typed view does not model.
	rawFormat json.RawMessage
}

// ProbeFormat contains container format information.
type ProbeFormat struct {
	Filename       string            `json:"filename"`
	NumStreams     int               `json:"nb_streams"`
	NumPrograms    int               `json:"nb_programs"`
	FormatName     string            `json:"format_name"`
	FormatLongName string            `json:"format_long_name"`
	StartTime      string            `json:"start_time"`
	Duration       string            `json:"duration"`
	Size           string            `json:"size"`
	BitRate        string            `json:"bit_rate"`
	ProbeScore     int               `json:"probe_score"`
	Tags           map[string]string `json:"tags"`
}

// ProbeStream carries the per-stream fields the probe selects. Only the
// first video stream's codec name is requested, so nothing else is set.
type ProbeStream struct {
	CodecName string `json:"codec_name"`
}

// UnmarshalJSON keeps the raw format object alongside the typed view.
func (r *ProbeResult) UnmarshalJSON(data []byte) error {
	var envelope struct {
		Format  json.RawMessage `json:"format"`
		Streams []ProbeStream   `json:"streams"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return err
	}
	r.Streams = envelope.Streams
	r.rawFormat = envelope.Format
	if len(envelope.Format) == 0 {
		return nil
	}
	return json.Unmarshal(envelope.Format, &r.Format)
}

// FormatJSON renders the container metadata as two-space indented JSON, key
// order as reported by ffprobe. This is the blob stored with each video.
func (r *ProbeResult) FormatJSON() string {
	if len(r.rawFormat) == 0 {
		return "{}"
	}
	var buf bytes.Buffer
	if err := json.Indent(&buf, r.rawFormat, "", "  "); err != nil {
		return string(r.rawFormat)
	}
	return buf.String()
}

// VideoCodec returns the codec of the first video stream, or "unknown" when
// the file has none.
func (r *ProbeResult) VideoCodec() string {
	if len(r.Streams) > 0 && r.Streams[0].CodecName != "" {
		return r.Streams[0].CodecName
	}
	return codecUnknown
}

// DurationSeconds returns the container duration, or 0 when the probe did
// not report one.
func (r *ProbeResult) DurationSeconds() float64 {
	return r.Format.DurationSeconds()
}

// SizeBytes returns the container size as reported by the probe, or 0 when
// absent.
func (r *ProbeResult) SizeBytes() int64 {
	return r.Format.SizeBytes()
}

// DurationSeconds returns the format duration, or 0 when absent.
func (f ProbeFormat) DurationSeconds() float64 {
	d, err := strconv.ParseFloat(f.Duration, 64)
	if err != nil {
		return 0
	}
	return d
}

// SizeBytes returns the format size, or 0 when absent.
func (f ProbeFormat) SizeBytes() int64 {
	n, err := strconv.ParseInt(f.Size, 10, 64)
	if err != nil {
		return 0
	}
	return n
}

// ParseStoredFormat reads a format object back from the JSON blob stored
// with a video row.
func ParseStoredFormat(text string) (ProbeFormat, error) {
	var f ProbeFormat
	if err := json.Unmarshal([]byte(text), &f); err != nil {
		return ProbeFormat{}, fmt.Errorf("parsing stored format: %w", err)
	}
	return f, nil
}

// Prober handles ffprobe operations.
type Prober struct {
	ffprobePath string
	timeout     time.Duration
}

// NewProber creates a new media file prober.
func NewProber(ffprobePath string) *Prober {
	return &Prober{
		ffprobePath: ffprobePath,
		timeout:     30 * time.Second,
	}
}

// WithTimeout sets the probe timeout.
func (p *Prober) WithTimeout(timeout time.Duration) *Prober {
	p.timeout = timeout
	return p
}

// Probe inspects a media file and returns its container metadata plus the
// codec of the first video stream.
func (p *Prober) Probe(ctx context.Context, path string) (*ProbeResult, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	args := []string{
		"-v", "quiet",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		"-select_streams", "v:0",
		"-show_entries", "stream=codec_name",
		path,
	}

	cmd := exec.CommandContext(ctx, p.ffprobePath, args...)
	output, err := cmd.Output()
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return nil, fmt.Errorf("probe timeout after %v", p.timeout)
		}
		return nil, fmt.Errorf("ffprobe failed: %w", err)
	}

	var result ProbeResult
	if err := json.Unmarshal(output, &result); err != nil {
		return nil, fmt.Errorf("parsing ffprobe output: %w", err)
	}

	return &result, nil
}
