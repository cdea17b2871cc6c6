package workers

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmylchreest/compressarr/internal/ffmpeg"
)

func TestTracker_Lifecycle(t *testing.T) {
	tracker := NewTracker()

	opID := tracker.Begin(7, "movie.mkv")
	assert.Len(t, opID, 26)

	snap, ok := tracker.Get(7)
	require.True(t, ok)
	assert.Equal(t, opID, snap.OperationID)
	assert.Equal(t, uint(7), snap.VideoID)
	assert.Equal(t, "movie.mkv", snap.Filename)
	assert.Equal(t, OperationRunning, snap.State)
	assert.False(t, snap.State.IsTerminal())

	tracker.Update(7, ffmpeg.Progress{
		Frame:     300,
		TimeSecs:  12.0,
		SizeBytes: 150 * 1024,
		Raw:       "frame=  300 time=00:00:12.00 size=    150kB",
	})
	tracker.SetEstimate(7, 1_280_000, 0.872)

	snap, ok = tracker.Get(7)
	require.True(t, ok)
	assert.Equal(t, int64(300), snap.Frame)
	assert.InDelta(t, 12.0, snap.TimeSeconds, 0.0001)
	assert.Equal(t, int64(150*1024), snap.SizeBytes)
	assert.Equal(t, int64(1_280_000), snap.EstimatedSize)
	assert.InDelta(t, 0.872, snap.ReductionRatio, 0.0001)
	assert.Contains(t, snap.LastLine, "frame=")

	tracker.Finish(7, OperationCompleted)
	snap, ok = tracker.Get(7)
	require.True(t, ok)
	assert.Equal(t, OperationCompleted, snap.State)
	assert.True(t, snap.State.IsTerminal())
}

func TestTracker_PartialReadingsKeepLastValues(t *testing.T) {
	tracker := NewTracker()
	tracker.Begin(1, "movie.mkv")

	tracker.Update(1, ffmpeg.Progress{Frame: 100, TimeSecs: 4.0, SizeBytes: 1024})
	// A reading without a size token must not wipe the last known size.
	tracker.Update(1, ffmpeg.Progress{Frame: 150, TimeSecs: 6.0})

	snap, ok := tracker.Get(1)
	require.True(t, ok)
	assert.Equal(t, int64(150), snap.Frame)
	assert.InDelta(t, 6.0, snap.TimeSeconds, 0.0001)
	assert.Equal(t, int64(1024), snap.SizeBytes)
}

func TestTracker_BeginReplacesPreviousRun(t *testing.T) {
	tracker := NewTracker()

	first := tracker.Begin(1, "movie.mkv")
	tracker.Finish(1, OperationAborted)

	second := tracker.Begin(1, "movie.mkv")
	assert.NotEqual(t, first, second)

	snap, ok := tracker.Get(1)
	require.True(t, ok)
	assert.Equal(t, second, snap.OperationID)
	assert.Equal(t, OperationRunning, snap.State)
}

func TestTracker_UnknownVideoIsIgnored(t *testing.T) {
	tracker := NewTracker()

	tracker.Update(42, ffmpeg.Progress{Frame: 1})
	tracker.SetEstimate(42, 100, 0.5)
	tracker.Finish(42, OperationFailed)

	_, ok := tracker.Get(42)
	assert.False(t, ok)
}

func TestTracker_PrunesExpiredTerminalRuns(t *testing.T) {
	tracker := NewTracker().WithRetention(time.Millisecond)

	tracker.Begin(1, "done.mkv")
	tracker.Finish(1, OperationCompleted)

	tracker.Begin(2, "running.mkv")

	time.Sleep(5 * time.Millisecond)

	// Prune runs on the next Begin; the running snapshot survives.
	tracker.Begin(3, "next.mkv")

	_, ok := tracker.Get(1)
	assert.False(t, ok)
	_, ok = tracker.Get(2)
	assert.True(t, ok)

	snaps := tracker.Snapshots()
	assert.Len(t, snaps, 2)
}

func TestTracker_SnapshotsNewestFirst(t *testing.T) {
	tracker := NewTracker()

	tracker.Begin(1, "first.mkv")
	time.Sleep(2 * time.Millisecond)
	tracker.Begin(2, "second.mkv")

	snaps := tracker.Snapshots()
	require.Len(t, snaps, 2)
	assert.Equal(t, uint(2), snaps[0].VideoID)
	assert.Equal(t, uint(1), snaps[1].VideoID)
}
