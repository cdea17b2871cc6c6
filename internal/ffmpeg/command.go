package ffmpeg

import (
	"fmt"
	"strings"

	"github.com/jmylchreest/compressarr/internal/models"
)

// Placeholder tokens a synthesized command must carry. They are swapped for
// real paths token-by-token, so paths with spaces survive as single argv
// entries.
const (
	PlaceholderInput  = "input.mp4"
	PlaceholderOutput = "output.mp4"
)

// Invocation is a fully resolved transcode command line.
type Invocation struct {
	Binary string
	Args   []string
	Input  string
	Output string
}

// String returns the invocation as a shell-style line for logging.
func (inv *Invocation) String() string {
	return inv.Binary + " " + strings.Join(inv.Args, " ")
}

// ParseCommand splits a synthesized command line on whitespace and replaces
// the placeholder tokens with the given paths. Commands missing either
// placeholder are rejected with models.ErrMissingPlaceholder; an empty or
// blank command is models.ErrEmptyCommand.
func ParseCommand(command, inputPath, outputPath string) (*Invocation, error) {
	fields := strings.Fields(command)
	if len(fields) == 0 {
		return nil, models.ErrEmptyCommand
	}

	sawInput, sawOutput := false, false
	args := make([]string, 0, len(fields)-1)
	for _, tok := range fields[1:] {
		switch tok {
		case PlaceholderInput:
			args = append(args, inputPath)
			sawInput = true
		case PlaceholderOutput:
			args = append(args, outputPath)
			sawOutput = true
		default:
			args = append(args, tok)
		}
	}

	if !sawInput {
		return nil, fmt.Errorf("%w: %s", models.ErrMissingPlaceholder, PlaceholderInput)
	}
	if !sawOutput {
		return nil, fmt.Errorf("%w: %s", models.ErrMissingPlaceholder, PlaceholderOutput)
	}

	return &Invocation{
		Binary: fields[0],
		Args:   args,
		Input:  inputPath,
		Output: outputPath,
	}, nil
}

// shellTokens are argv entries that only make sense under a shell. The model
// occasionally emits a pipeline; the command still runs (the tokens are
// passed through verbatim), but the encoder will reject them, so surfacing
// a warning up front saves a confusing failure log.
var shellTokens = map[string]string{
	"|":  "pipe",
	"||": "or-chain",
	"&&": "and-chain",
	";":  "separator",
	">":  "redirect",
	">>": "redirect",
	"<":  "redirect",
	"&":  "background",
}

// Advisories returns human-readable warnings about argv entries that look
// like shell syntax rather than encoder arguments.
func (inv *Invocation) Advisories() []string {
	var warnings []string
	for _, arg := range inv.Args {
		if kind, ok := shellTokens[arg]; ok {
			warnings = append(warnings, fmt.Sprintf("argument %q is shell %s syntax and will be passed to the encoder verbatim", arg, kind))
			continue
		}
		if strings.Contains(arg, "$(") || strings.Contains(arg, "`") {
			warnings = append(warnings, fmt.Sprintf("argument %q contains shell substitution syntax", arg))
		}
	}
	return warnings
}
