package ffmpeg

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"regexp"
	"strconv"
	"sync"
	"syscall"
	"time"
)

// Child process supervision defaults.
const (
	// defaultGrace is how long a soft-stopped child may linger before it
	// is killed.
	defaultGrace = 5 * time.Second
	// defaultWaitDelay bounds the wait for a child whose output streams
	// have already closed.
	defaultWaitDelay = 10 * time.Second
	// stderrTailLines is how many recent diagnostic lines are kept for
	// failure reports.
	stderrTailLines = 100
)

// Progress is one parsed reading from the encoder's status output.
type Progress struct {
	Frame     int64
	TimeSecs  float64
	SizeBytes int64
	Raw       string
}

// Action tells the runner whether to keep the child running.
type Action int

const (
	// Continue keeps the transcode running.
	Continue Action = iota
	// Abort stops the child: graceful termination first, kill after the
	// grace period.
	Abort
)

// ProgressFunc receives each parsed progress reading while the child runs.
type ProgressFunc func(p Progress) Action

// Result describes a finished run.
type Result struct {
	// ExitCode is the child's exit status, -1 when it was signalled.
	ExitCode int
	// Aborted reports whether the progress callback stopped the child.
	Aborted bool
	// Stderr holds the most recent diagnostic lines.
	Stderr []string
}

// Status line tokens. The encoder pads values after '=' and reports elapsed
// time either as a clock or as plain seconds depending on build.
var (
	frameRe   = regexp.MustCompile(`frame=\s*(\d+)`)
	clockRe   = regexp.MustCompile(`time=(\d+):(\d+):(\d+)\.(\d+)`)
	secondsRe = regexp.MustCompile(`time=\s*(\d+(?:\.\d+)?)`)
	sizeRe    = regexp.MustCompile(`size=\s*(\d+)\s*kB`)
)

// parseProgressLine extracts the frame, elapsed time, and output size tokens
// from one status line. ok is false for ordinary log lines.
func parseProgressLine(line string) (Progress, bool) {
	p := Progress{Raw: line}
	ok := false

	if m := frameRe.FindStringSubmatch(line); m != nil {
		p.Frame, _ = strconv.ParseInt(m[1], 10, 64)
		ok = true
	}

	if m := clockRe.FindStringSubmatch(line); m != nil {
		hours, _ := strconv.Atoi(m[1])
		mins, _ := strconv.Atoi(m[2])
		secs, _ := strconv.Atoi(m[3])
		frac, _ := strconv.ParseFloat("0."+m[4], 64)
		p.TimeSecs = float64(hours*3600+mins*60+secs) + frac
		ok = true
	} else if m := secondsRe.FindStringSubmatch(line); m != nil {
		p.TimeSecs, _ = strconv.ParseFloat(m[1], 64)
		ok = true
	}

	if m := sizeRe.FindStringSubmatch(line); m != nil {
		kb, _ := strconv.ParseInt(m[1], 10, 64)
		p.SizeBytes = kb * 1024
		ok = true
	}

	return p, ok
}

// scanStatusLines splits on newline or carriage return. The encoder rewrites
// its status line in place with bare carriage returns, so a plain line
// scanner would sit on every update until the process exits.
func scanStatusLines(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	if i := bytes.IndexAny(data, "\r\n"); i >= 0 {
		return i + 1, data[:i], nil
	}
	if atEOF {
		return len(data), data, nil
	}
	return 0, nil, nil
}

// Runner supervises transcode child processes.
type Runner struct {
	grace     time.Duration
	waitDelay time.Duration
}

// NewRunner creates a runner with default supervision windows.
func NewRunner() *Runner {
	return &Runner{
		grace:     defaultGrace,
		waitDelay: defaultWaitDelay,
	}
}

// WithGrace sets how long a soft-stopped child may linger before it is
// killed.
func (r *Runner) WithGrace(d time.Duration) *Runner {
	r.grace = d
	return r
}

// WithWaitDelay bounds the post-exit wait.
func (r *Runner) WithWaitDelay(d time.Duration) *Runner {
	r.waitDelay = d
	return r
}

// Run executes the invocation with both output streams piped, feeding each
// parsed status line to onProgress. An Abort from the callback terminates
// the child and returns a nil error with Result.Aborted set; cancelling ctx
// terminates the child the same way but returns the context error.
func (r *Runner) Run(ctx context.Context, inv *Invocation, onProgress ProgressFunc) (*Result, error) {
	cmd := exec.Command(inv.Binary, inv.Args...)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("getting stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("getting stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("starting %s: %w", inv.Binary, err)
	}

	exited := make(chan struct{})
	var stopOnce sync.Once
	stop := func() {
		stopOnce.Do(func() { r.softStop(cmd, exited) })
	}

	// Cancellation stops the child with the same escalation as an early
	// abort.
	watcherDone := make(chan struct{})
	defer close(watcherDone)
	go func() {
		select {
		case <-ctx.Done():
			stop()
		case <-watcherDone:
		}
	}()

	// The encoder writes nothing useful to stdout during a file transcode,
	// but the pipe has to be drained so the child cannot stall on it.
	stdoutDone := make(chan struct{})
	go func() {
		defer close(stdoutDone)
		_, _ = io.Copy(io.Discard, stdout)
	}()

	aborted := false
	tail := make([]string, 0, stderrTailLines)
	scanner := bufio.NewScanner(stderr)
	scanner.Split(scanStatusLines)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		if len(tail) >= stderrTailLines {
			tail = tail[1:]
		}
		tail = append(tail, line)

		p, ok := parseProgressLine(line)
		if !ok || onProgress == nil || aborted {
			continue
		}
		if onProgress(p) == Abort {
			aborted = true
			stop()
		}
	}

	waitErr := r.waitBounded(cmd, exited, stdoutDone)

	res := &Result{Aborted: aborted, Stderr: tail}
	if waitErr != nil {
		var exitErr *exec.ExitError
		if errors.As(waitErr, &exitErr) {
			res.ExitCode = exitErr.ExitCode()
		} else {
			res.ExitCode = -1
		}
		if aborted {
			// The callback asked for this exit; it is not a failure.
			return res, nil
		}
		if ctx.Err() != nil {
			return res, ctx.Err()
		}
		return res, fmt.Errorf("%s exited: %w", inv.Binary, waitErr)
	}
	return res, nil
}

// softStop asks the child to stop and arms the kill escalation.
func (r *Runner) softStop(cmd *exec.Cmd, exited <-chan struct{}) {
	if cmd.Process == nil {
		return
	}
	if err := cmd.Process.Signal(syscall.SIGTERM); err != nil {
		_ = cmd.Process.Kill()
		return
	}
	go func() {
		select {
		case <-exited:
		case <-time.After(r.grace):
			_ = cmd.Process.Kill()
		}
	}()
}

// waitBounded reaps the child, killing it when the exit takes longer than
// the wait delay.
func (r *Runner) waitBounded(cmd *exec.Cmd, exited chan struct{}, stdoutDone <-chan struct{}) error {
	done := make(chan error, 1)
	go func() {
		<-stdoutDone
		done <- cmd.Wait()
	}()

	timer := time.NewTimer(r.waitDelay)
	defer timer.Stop()

	select {
	case err := <-done:
		close(exited)
		return err
	case <-timer.C:
		_ = cmd.Process.Kill()
		err := <-done
		close(exited)
		if err == nil {
			err = fmt.Errorf("child did not exit within %v", r.waitDelay)
		}
		return err
	}
}
