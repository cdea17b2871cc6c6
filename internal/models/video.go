// Package models defines GORM database models for compressarr entities.
package models

import (
	"fmt"
	"path/filepath"
	"time"
)

// VideoStatus represents the position of a video in the compression workflow.
type VideoStatus string

const (
	// VideoStatusPending indicates the video was discovered and awaits confirmation.
	VideoStatusPending VideoStatus = "pending"
	// VideoStatusConfirmed indicates the video is approved for command synthesis.
	VideoStatusConfirmed VideoStatus = "confirmed"
	// VideoStatusReConfirmed indicates a transcode was aborted for low projected
	// reduction and the video needs a stricter command synthesized.
	VideoStatusReConfirmed VideoStatus = "re-confirmed"
	// VideoStatusReady indicates a command has been synthesized and the video
	// awaits transcoding.
	VideoStatusReady VideoStatus = "ready"
	// VideoStatusOptimized indicates transcoding finished and the output awaits
	// acceptance.
	VideoStatusOptimized VideoStatus = "optimized"
	// VideoStatusAccepted indicates the output is approved to replace the original.
	VideoStatusAccepted VideoStatus = "accepted"
	// VideoStatusReplaced indicates the original file has been replaced. Terminal.
	VideoStatusReplaced VideoStatus = "replaced"
	// VideoStatusSkipped indicates the output was declined; leftover files are
	// cleaned up but the row keeps this status.
	VideoStatusSkipped VideoStatus = "skipped"
	// VideoStatusRejected indicates the video was declined before synthesis. Terminal.
	VideoStatusRejected VideoStatus = "rejected"
	// VideoStatusFailed indicates an unrecoverable per-video error. Terminal.
	VideoStatusFailed VideoStatus = "failed"
)

// AllVideoStatuses lists every valid status, in workflow order.
var AllVideoStatuses = []VideoStatus{
	VideoStatusPending,
	VideoStatusConfirmed,
	VideoStatusReConfirmed,
	VideoStatusReady,
	VideoStatusOptimized,
	VideoStatusAccepted,
	VideoStatusReplaced,
	VideoStatusSkipped,
	VideoStatusRejected,
	VideoStatusFailed,
}

// ParseVideoStatus validates a status string and returns the typed value.
// Any string outside the enumeration is rejected with ErrInvalidStatus.
func ParseVideoStatus(s string) (VideoStatus, error) {
	for _, status := range AllVideoStatuses {
		if string(status) == s {
			return status, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidStatus, s)
}

// IsValid returns true if the status is one of the enumerated values.
func (s VideoStatus) IsValid() bool {
	_, err := ParseVideoStatus(string(s))
	return err == nil
}

// IsTerminal returns true for statuses that workers never leave.
func (s VideoStatus) IsTerminal() bool {
	return s == VideoStatusReplaced || s == VideoStatusRejected || s == VideoStatusFailed
}

// String returns the status as a string.
func (s VideoStatus) String() string {
	return string(s)
}

// workerTransitions enumerates the edges workers are allowed to write.
// Manual overrides through the HTTP surface bypass this table.
var workerTransitions = map[VideoStatus][]VideoStatus{
	VideoStatusPending:     {VideoStatusConfirmed, VideoStatusRejected},
	VideoStatusConfirmed:   {VideoStatusReady},
	VideoStatusReConfirmed: {VideoStatusReady},
	VideoStatusReady:       {VideoStatusOptimized, VideoStatusReConfirmed, VideoStatusFailed, VideoStatusSkipped},
	VideoStatusOptimized:   {VideoStatusAccepted, VideoStatusSkipped},
	VideoStatusAccepted:    {VideoStatusReplaced, VideoStatusFailed},
}

// IsWorkerTransition reports whether from → to is an edge of the workflow
// state machine as written by the worker loops.
func IsWorkerTransition(from, to VideoStatus) bool {
	for _, next := range workerTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Video represents one source file's progress through the compression pipeline.
// Rows are created by the scanner and advanced by the workers purely through
// the Status column; there is no per-row ownership.
type Video struct {
	// ID is assigned by the store on insert and is monotonically increasing.
	ID uint `gorm:"primaryKey;autoIncrement" json:"id"`

	// Filename is the basename of the source file.
	Filename string `gorm:"not null;size:255" json:"filename"`

	// Filepath is the absolute path of the source file. Uniqueness is enforced
	// by the scanner's existence check, not by a constraint.
	Filepath string `gorm:"not null;index:idx_filepath" json:"filepath"`

	// OriginalSize is the source file size in bytes at discovery time.
	OriginalSize int64 `json:"original_size"`

	// OriginalCodec is the probed codec of the source's first video stream,
	// or "unknown" when the probe reported none.
	OriginalCodec string `gorm:"size:50" json:"original_codec"`

	// FFprobeData is the JSON text of the probe's format object, passed
	// verbatim to the model during synthesis.
	FFprobeData string `json:"ffprobe_data,omitempty"`

	// AICommand is the synthesized single-line transcoder invocation carrying
	// the input.mp4 and output.mp4 placeholders.
	AICommand string `json:"ai_command,omitempty"`

	// SystemInfo is the JSON host capability snapshot used for synthesis.
	SystemInfo string `json:"system_info,omitempty"`

	// EstimatedSize is the rolling projection of the final output size in
	// bytes, updated while transcoding.
	EstimatedSize int64 `json:"estimated_size,omitempty"`

	// OptimizedSize is the actual output size in bytes after a successful run.
	OptimizedSize int64 `json:"optimized_size,omitempty"`

	// OptimizedPath is the absolute path of the transcoded output.
	OptimizedPath string `json:"optimized_path,omitempty"`

	// NewCodec is the probed codec of the output file.
	NewCodec string `gorm:"size:50" json:"new_codec,omitempty"`

	// Status is the coarse workflow state; the primary handoff between workers.
	Status VideoStatus `gorm:"not null;default:'pending';size:20;index:idx_status" json:"status"`

	// Progress is the last parsed transcoder progress line.
	Progress string `json:"progress,omitempty"`

	CreatedAt time.Time `gorm:"index:idx_created_at" json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName returns the table name for Video.
func (Video) TableName() string {
	return "videos"
}

// Validate checks required fields before insert.
func (v *Video) Validate() error {
	if v.Filepath == "" {
		return ErrFilepathRequired
	}
	if v.Filename == "" {
		return ErrFilenameRequired
	}
	if v.Status != "" && !v.Status.IsValid() {
		return fmt.Errorf("%w: %q", ErrInvalidStatus, v.Status)
	}
	return nil
}

// Basename returns the basename of the source path. It prefers Filename and
// falls back to deriving it from Filepath.
func (v *Video) Basename() string {
	if v.Filename != "" {
		return v.Filename
	}
	return filepath.Base(v.Filepath)
}

// ReductionRatio returns 1 - size/original for the given projected size.
// The caller decides what to do with a ratio below the configured threshold.
func (v *Video) ReductionRatio(projected int64) float64 {
	if v.OriginalSize <= 0 {
		return 0
	}
	return 1 - float64(projected)/float64(v.OriginalSize)
}
