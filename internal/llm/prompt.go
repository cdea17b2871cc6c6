package llm

import (
	"fmt"
	"os"
	"strings"

	"github.com/jmylchreest/compressarr/internal/models"
)

// DefaultSystemPrompt is the persona sent with every request unless an
// override file is configured.
const DefaultSystemPrompt = "You are a video processing expert."

// PromptInput carries everything a synthesis prompt draws from.
type PromptInput struct {
	// FFprobeData is the stored probe format JSON for the video.
	FFprobeData string
	// SystemInfo is the host snapshot JSON.
	SystemInfo string
	// PreviousCommand is the command whose transcode was aborted. Set only
	// for second-pass rows.
	PreviousCommand string
	// LastProgress is the last raw progress line from the aborted run.
	LastProgress string
	// HardwareEncoders lists encoders the local installation exposes that
	// are backed by a hardware API. May be empty.
	HardwareEncoders []string
}

// SystemPrompt returns the contents of the override file when it exists and
// is non-empty, otherwise the built-in persona.
func SystemPrompt(path string) string {
	if path == "" {
		return DefaultSystemPrompt
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return DefaultSystemPrompt
	}
	text := strings.TrimSpace(string(data))
	if text == "" {
		return DefaultSystemPrompt
	}
	return text
}

// BuildUserPrompt renders the prompt for a first-pass row.
func BuildUserPrompt(in PromptInput) string {
	var b strings.Builder
	b.WriteString("Here is the metadata of a video file:\n")
	b.WriteString("The ffprobe data is: ")
	b.WriteString(in.FFprobeData)
	b.WriteString("\nAnd here is the system information: ")
	b.WriteString(in.SystemInfo)
	b.WriteString("\nBased on this information, suggest the most optimal ffmpeg command to compress the video with:\n")
	b.WriteString("- Best possible space saving, prefer x265 codec.\n")
	b.WriteString("- Use the same resolution and frame rate as the original video.\n")
	b.WriteString("- No visible quality loss.\n")
	b.WriteString("- Optionally using hardware acceleration if available.\n")
	writeCommonInstructions(&b)
	return b.String()
}

// BuildRetryPrompt renders the stricter prompt for a row whose first command
// did not shrink the file enough.
func BuildRetryPrompt(in PromptInput) string {
	var b strings.Builder
	b.WriteString("Here is the metadata of a video file:\n")
	b.WriteString("The ffprobe data is: ")
	b.WriteString(in.FFprobeData)
	b.WriteString("\nAnd here is the system information: ")
	b.WriteString(in.SystemInfo)
	b.WriteString("\nThe previous compression attempt used this command:\n")
	b.WriteString(in.PreviousCommand)
	b.WriteString("\nIt was aborted because the projected output was not small enough.")
	if in.LastProgress != "" {
		b.WriteString(" The last progress it reported was:\n")
		b.WriteString(in.LastProgress)
	}
	b.WriteString("\nSuggest a stricter ffmpeg command that compresses much harder:\n")
	b.WriteString("- Apply an explicit video bitrate cap well below the source bitrate.\n")
	b.WriteString("- When using CRF mode, pick a CRF between 22 and 28.\n")
	b.WriteString("- Copy the audio stream unchanged.\n")
	if len(in.HardwareEncoders) > 0 {
		b.WriteString("- Hardware encoders available on this host: ")
		b.WriteString(strings.Join(in.HardwareEncoders, ", "))
		b.WriteString(".\n")
	}
	b.WriteString("- Include the overwrite flag so an existing output file is replaced.\n")
	writeCommonInstructions(&b)
	return b.String()
}

// writeCommonInstructions appends the answer-shape rules shared by both
// prompt forms.
func writeCommonInstructions(b *strings.Builder) {
	b.WriteString("- Do not provide any other information or explanation, just the command starting with ffmpeg.\n")
	b.WriteString("- Use input.mp4 as the input file and output.mp4 as the output file.\n")
	b.WriteString("- One line only, suitable for running directly with no shell wrapping.\n")
}

// NormalizeCommand cleans a model answer down to the bare command line:
// backtick fences dropped, everything before the first "ffmpeg" discarded,
// the line cut at the first newline, and surrounding whitespace trimmed.
func NormalizeCommand(raw string) (string, error) {
	s := strings.ReplaceAll(raw, "`", "")

	idx := strings.Index(s, "ffmpeg")
	if idx < 0 {
		return "", fmt.Errorf("%w: no ffmpeg invocation in model answer", models.ErrEmptyCommand)
	}
	s = s[idx:]

	// Fenced answers often carry prose after the command; the command
	// itself is single-line by instruction.
	if nl := strings.IndexAny(s, "\r\n"); nl >= 0 {
		s = s[:nl]
	}

	s = strings.TrimSpace(s)
	if s == "" {
		return "", models.ErrEmptyCommand
	}
	return s, nil
}
