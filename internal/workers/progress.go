package workers

import (
	"crypto/rand"
	"sort"
	"sync"
	"time"

	"github.com/jmylchreest/compressarr/internal/ffmpeg"
	"github.com/oklog/ulid/v2"
)

// OperationState describes where a tracked transcode is in its lifecycle.
type OperationState string

const (
	// OperationRunning means the child process is active.
	OperationRunning OperationState = "running"
	// OperationCompleted means the transcode finished and was recorded.
	OperationCompleted OperationState = "completed"
	// OperationAborted means the run was stopped for a low projected reduction.
	OperationAborted OperationState = "aborted"
	// OperationFailed means the run ended without a usable output.
	OperationFailed OperationState = "failed"
)

// IsTerminal reports whether the state is final.
func (s OperationState) IsTerminal() bool {
	return s == OperationCompleted || s == OperationAborted || s == OperationFailed
}

// Snapshot is the live view of one transcode, polled through the API.
type Snapshot struct {
	OperationID    string         `json:"operation_id"`
	VideoID        uint           `json:"video_id"`
	Filename       string         `json:"filename"`
	State          OperationState `json:"state"`
	Frame          int64          `json:"frame,omitempty"`
	TimeSeconds    float64        `json:"time_seconds,omitempty"`
	SizeBytes      int64          `json:"size_bytes,omitempty"`
	EstimatedSize  int64          `json:"estimated_size,omitempty"`
	ReductionRatio float64        `json:"reduction_ratio,omitempty"`
	LastLine       string         `json:"last_line,omitempty"`
	StartedAt      time.Time      `json:"started_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

// Tracker holds in-memory transcode snapshots keyed by video. Terminal
// snapshots are kept for a retention window so a poll shortly after the run
// still sees the outcome.
type Tracker struct {
	mu        sync.RWMutex
	byVideo   map[uint]*Snapshot
	retention time.Duration
}

// NewTracker creates a tracker with the default 5 minute retention.
func NewTracker() *Tracker {
	return &Tracker{
		byVideo:   make(map[uint]*Snapshot),
		retention: 5 * time.Minute,
	}
}

// WithRetention overrides how long terminal snapshots are kept.
func (t *Tracker) WithRetention(d time.Duration) *Tracker {
	t.retention = d
	return t
}

// Begin registers a new run for the video and returns its operation ID.
// Any previous snapshot for the video is replaced.
func (t *Tracker) Begin(videoID uint, filename string) string {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.pruneLocked()

	now := time.Now()
	snap := &Snapshot{
		OperationID: ulid.MustNew(ulid.Timestamp(now), rand.Reader).String(),
		VideoID:     videoID,
		Filename:    filename,
		State:       OperationRunning,
		StartedAt:   now,
		UpdatedAt:   now,
	}
	t.byVideo[videoID] = snap
	return snap.OperationID
}

// Update folds a parsed progress reading into the video's snapshot.
func (t *Tracker) Update(videoID uint, p ffmpeg.Progress) {
	t.mu.Lock()
	defer t.mu.Unlock()
	snap, ok := t.byVideo[videoID]
	if !ok {
		return
	}
	if p.Frame > 0 {
		snap.Frame = p.Frame
	}
	if p.TimeSecs > 0 {
		snap.TimeSeconds = p.TimeSecs
	}
	if p.SizeBytes > 0 {
		snap.SizeBytes = p.SizeBytes
	}
	if p.Raw != "" {
		snap.LastLine = p.Raw
	}
	snap.UpdatedAt = time.Now()
}

// SetEstimate records the projected final size and the reduction ratio it
// implies.
func (t *Tracker) SetEstimate(videoID uint, estimated int64, ratio float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	snap, ok := t.byVideo[videoID]
	if !ok {
		return
	}
	snap.EstimatedSize = estimated
	snap.ReductionRatio = ratio
	snap.UpdatedAt = time.Now()
}

// Finish marks the run's outcome.
func (t *Tracker) Finish(videoID uint, state OperationState) {
	t.mu.Lock()
	defer t.mu.Unlock()
	snap, ok := t.byVideo[videoID]
	if !ok {
		return
	}
	snap.State = state
	snap.UpdatedAt = time.Now()
}

// Get returns a copy of the video's snapshot.
func (t *Tracker) Get(videoID uint) (Snapshot, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	snap, ok := t.byVideo[videoID]
	if !ok {
		return Snapshot{}, false
	}
	return *snap, true
}

// Snapshots returns every tracked snapshot, most recently started first.
func (t *Tracker) Snapshots() []Snapshot {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]Snapshot, 0, len(t.byVideo))
	for _, snap := range t.byVideo {
		out = append(out, *snap)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	return out
}

// pruneLocked drops terminal snapshots older than the retention window.
// Callers must hold the write lock.
func (t *Tracker) pruneLocked() {
	cutoff := time.Now().Add(-t.retention)
	for id, snap := range t.byVideo {
		if snap.State.IsTerminal() && snap.UpdatedAt.Before(cutoff) {
			delete(t.byVideo, id)
		}
	}
}
