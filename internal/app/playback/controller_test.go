package playback

import (
	"fmt"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/osa030/segue/internal/app/queue"
	"github.com/osa030/segue/internal/app/replaygain"
	"github.com/osa030/segue/internal/domain/track"
)

func testTrack(location string) track.Track {
	return track.Track{
		Location: location,
		Title:    location,
	}
}

// newTestController builds a controller over a fake pipeline with one
// queued entry per location. Position ticks are effectively disabled.
func newTestController(t *testing.T, locations ...string) (*Controller, *fakePipeline, []queue.Entry, <-chan Event) {
	t.Helper()

	fp := newFakePipeline()
	c := NewController(fp, Config{TickInterval: time.Hour, PreviousGrace: 2 * time.Second})
	t.Cleanup(c.Close)

	tracks := make([]track.Track, len(locations))
	for i, loc := range locations {
		tracks[i] = testTrack(loc)
	}
	entries := c.Enqueue(tracks...)

	_, events := c.Subscribe()
	return c, fp, entries, events
}

func waitEvent(t *testing.T, events <-chan Event, et EventType) Event {
	t.Helper()

	deadline := time.After(2 * time.Second)
	for {
		select {
		case ev, ok := <-events:
			require.True(t, ok, "event channel closed while waiting for %s", et)
			if ev.Type == et {
				return ev
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s event", et)
		}
	}
}

func waitTrackChanged(t *testing.T, events <-chan Event, location string) Event {
	t.Helper()

	ev := waitEvent(t, events, EventTrackChanged)
	require.NotNil(t, ev.Entry)
	require.Equal(t, location, ev.Entry.Track.Location)
	return ev
}

// waitStatus waits for a status-change event carrying the given status,
// skipping earlier buffered transitions.
func waitStatus(t *testing.T, events <-chan Event, status Status) Event {
	t.Helper()

	deadline := time.After(2 * time.Second)
	for {
		select {
		case ev, ok := <-events:
			require.True(t, ok, "event channel closed while waiting for status %s", status)
			if ev.Type == EventStatusChanged && ev.Status == status {
				return ev
			}
		case <-deadline:
			t.Fatalf("timed out waiting for status %s", status)
		}
	}
}

func assertNoEvent(t *testing.T, events <-chan Event, et EventType, within time.Duration) {
	t.Helper()

	deadline := time.After(within)
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return
			}
			require.NotEqual(t, et, ev.Type, "unexpected %s event: %+v", et, ev)
		case <-deadline:
			return
		}
	}
}

func assertNoStatus(t *testing.T, events <-chan Event, status Status, within time.Duration) {
	t.Helper()

	deadline := time.After(within)
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return
			}
			if ev.Type == EventStatusChanged {
				require.NotEqual(t, status, ev.Status, "unexpected transition to %s", status)
			}
		case <-deadline:
			return
		}
	}
}

func TestGaplessHandoff(t *testing.T) {
	c, fp, _, events := newTestController(t, "a.flac", "b.flac")

	require.NoError(t, c.Play())
	waitTrackChanged(t, events, "a.flac")
	h1 := fp.handleFor("a.flac")

	fp.emitNearEnd(h1, 3*time.Second)
	fp.waitCall(t, "preroll:b.flac", 1)
	h2 := fp.handleFor("b.flac")

	fp.emitPrerollReady(h2)
	fp.waitCall(t, fmt.Sprintf("volume:%d", h2), 1)

	fp.emitEndOfStream(h1)
	waitTrackChanged(t, events, "b.flac")

	// One open, one preroll, one handoff: the second track was never
	// cold started and the first stream raced nothing.
	assert.Equal(t, 1, fp.callCount("open:"))
	assert.Equal(t, 1, fp.callCount("preroll:"))
	assert.Equal(t, 1, fp.callCount(fmt.Sprintf("handoff:%d->%d", h1, h2)))
	assert.Equal(t, 1, fp.callCount("start:"))
	assert.Equal(t, 1, fp.closedCount(h1))
	assert.Equal(t, 0, fp.closedCount(h2))
	assert.Equal(t, StatusPlaying, c.Status().Status)
}

func TestPrerollFailureKeepsCurrentPlaying(t *testing.T) {
	c, fp, _, events := newTestController(t, "a.flac", "broken.flac")
	fp.prerollErr["broken.flac"] = errors.New("corrupt header")

	require.NoError(t, c.Play())
	waitTrackChanged(t, events, "a.flac")
	h1 := fp.handleFor("a.flac")

	fp.emitNearEnd(h1, 3*time.Second)
	fail := waitEvent(t, events, EventFailure)
	assert.Equal(t, FailurePreroll, fail.Failure)
	assert.False(t, fail.Failure.Fatal())

	// The current track is unaffected and the boundary is not retried.
	assert.Equal(t, StatusPlaying, c.Status().Status)
	assert.Equal(t, 0, fp.closedCount(h1))
	fp.emitNearEnd(h1, 2*time.Second)
	assertNoEvent(t, events, EventFailure, 150*time.Millisecond)
	assert.Equal(t, 1, fp.callCount("preroll:"))

	// The boundary finishes quietly: the failure was already reported.
	fp.emitEndOfStream(h1)
	waitStatus(t, events, StatusStopped)
}

func TestSeekInvalidatesPendingPreroll(t *testing.T) {
	c, fp, _, events := newTestController(t, "a.flac", "b.flac")

	require.NoError(t, c.Play())
	waitTrackChanged(t, events, "a.flac")
	h1 := fp.handleFor("a.flac")

	fp.emitNearEnd(h1, 3*time.Second)
	fp.waitCall(t, "preroll:b.flac", 1)
	h2 := fp.handleFor("b.flac")
	fp.emitPrerollReady(h2)
	fp.waitCall(t, fmt.Sprintf("volume:%d", h2), 1)

	// Seeking backwards moves the boundary; the prepared stream is stale.
	require.NoError(t, c.Seek(5*time.Second))
	fp.waitCall(t, fmt.Sprintf("seek:%d:%s", h1, 5*time.Second), 1)
	require.Eventually(t, func() bool { return fp.closedCount(h2) == 1 },
		2*time.Second, 5*time.Millisecond)

	// A late ready for the discarded handle is a no-op.
	fp.emitPrerollReady(h2)

	// The next boundary prerolls afresh.
	fp.emitNearEnd(h1, 3*time.Second)
	fp.waitCall(t, "preroll:b.flac", 2)
	h3 := fp.handleFor("b.flac")
	require.NotEqual(t, h2, h3)
	fp.emitPrerollReady(h3)
	fp.emitEndOfStream(h1)
	waitTrackChanged(t, events, "b.flac")

	assert.Equal(t, 1, fp.closedCount(h2), "discarded handle closed exactly once")
	assert.Equal(t, StatusPlaying, c.Status().Status)
}

func TestSkipNextReusesPreparedStream(t *testing.T) {
	c, fp, _, events := newTestController(t, "a.flac", "b.flac")

	require.NoError(t, c.Play())
	waitTrackChanged(t, events, "a.flac")
	h1 := fp.handleFor("a.flac")

	fp.emitNearEnd(h1, 3*time.Second)
	fp.waitCall(t, "preroll:b.flac", 1)
	h2 := fp.handleFor("b.flac")
	fp.emitPrerollReady(h2)
	fp.waitCall(t, fmt.Sprintf("volume:%d", h2), 1)

	require.NoError(t, c.SkipNext())
	waitTrackChanged(t, events, "b.flac")

	// The skip reused the prepared stream: no extra open or preroll.
	assert.Equal(t, 1, fp.callCount("open:"))
	assert.Equal(t, 1, fp.callCount("preroll:"))
	assert.Equal(t, 1, fp.callCount("handoff:"))
	assert.Equal(t, 1, fp.closedCount(h1))
}

func TestEndOfStreamBeforePrerollReady(t *testing.T) {
	c, fp, _, events := newTestController(t, "a.flac", "b.flac")

	require.NoError(t, c.Play())
	waitTrackChanged(t, events, "a.flac")
	h1 := fp.handleFor("a.flac")

	fp.emitNearEnd(h1, 3*time.Second)
	fp.waitCall(t, "preroll:b.flac", 1)
	h2 := fp.handleFor("b.flac")

	// The boundary arrives while the preroll is still in flight. The
	// engine falls back to a cold start rather than handing off to a
	// stream that is not ready.
	fp.emitEndOfStream(h1)
	waitTrackChanged(t, events, "b.flac")

	assert.Equal(t, 2, fp.callCount("open:"))
	assert.Equal(t, 0, fp.callCount("handoff:"))
	assert.Equal(t, 1, fp.closedCount(h2))

	// A ready signal for the abandoned preroll changes nothing.
	fp.emitPrerollReady(h2)
	assertNoEvent(t, events, EventTrackChanged, 150*time.Millisecond)
	assert.Equal(t, 1, fp.closedCount(h2))
	assert.Equal(t, StatusPlaying, c.Status().Status)
}

func TestStopClosesAllStreams(t *testing.T) {
	c, fp, _, events := newTestController(t, "a.flac", "b.flac")

	require.NoError(t, c.Play())
	waitTrackChanged(t, events, "a.flac")
	h1 := fp.handleFor("a.flac")

	fp.emitNearEnd(h1, 3*time.Second)
	fp.waitCall(t, "preroll:b.flac", 1)
	h2 := fp.handleFor("b.flac")
	fp.emitPrerollReady(h2)

	c.Stop()
	waitStatus(t, events, StatusStopped)

	assert.Equal(t, 1, fp.closedCount(h1))
	assert.Equal(t, 1, fp.closedCount(h2))

	snap := c.Status()
	assert.Equal(t, StatusStopped, snap.Status)
	assert.Nil(t, snap.Entry)
}

func TestPauseResume(t *testing.T) {
	c, fp, _, events := newTestController(t, "a.flac")

	require.NoError(t, c.Play())
	waitTrackChanged(t, events, "a.flac")
	h1 := fp.handleFor("a.flac")

	require.NoError(t, c.Pause())
	waitStatus(t, events, StatusPaused)
	fp.waitCall(t, fmt.Sprintf("pause:%d", h1), 1)

	// Pausing twice is rejected, not queued.
	assert.ErrorIs(t, c.Pause(), ErrNotPlaying)

	require.NoError(t, c.Play())
	waitStatus(t, events, StatusPlaying)
	fp.waitCall(t, fmt.Sprintf("resume:%d", h1), 1)

	// Resume continues the same stream.
	assert.Equal(t, 1, fp.callCount("open:"))
	assert.Equal(t, 0, fp.closedCount(h1))
}

func TestActiveStreamErrorAndRecovery(t *testing.T) {
	c, fp, _, events := newTestController(t, "a.flac", "b.flac")

	require.NoError(t, c.Play())
	waitTrackChanged(t, events, "a.flac")
	h1 := fp.handleFor("a.flac")

	fp.emitError(h1, errors.New("decoder desync"))
	fail := waitEvent(t, events, EventFailure)
	assert.Equal(t, FailureActiveStream, fail.Failure)
	assert.True(t, fail.Failure.Fatal())

	waitStatus(t, events, StatusError)
	assert.Equal(t, 1, fp.closedCount(h1))

	// Transport commands are rejected while in the error state.
	assert.ErrorIs(t, c.Seek(time.Second), ErrNoTrack)

	// An explicit play restarts from the queue cursor.
	require.NoError(t, c.Play())
	waitTrackChanged(t, events, "a.flac")
	assert.Equal(t, StatusPlaying, c.Status().Status)
	assert.Equal(t, 2, fp.callCount("open:a.flac"))
}

func TestSetModeReappliesGainLive(t *testing.T) {
	fp := newFakePipeline()
	c := NewController(fp, Config{TickInterval: time.Hour})
	t.Cleanup(c.Close)

	tr := testTrack("a.flac")
	tr.TrackGain = &track.Gain{DB: -6, Peak: 0}
	tr.AlbumGain = &track.Gain{DB: -12, Peak: 0}
	c.Enqueue(tr)

	_, events := c.Subscribe()
	require.NoError(t, c.Play())
	waitTrackChanged(t, events, "a.flac")
	h1 := fp.handleFor("a.flac")

	require.Eventually(t, func() bool {
		return fp.volumeOf(h1) != 1
	}, 2*time.Second, 5*time.Millisecond)
	assert.InDelta(t, 0.501, fp.volumeOf(h1), 0.001)

	c.SetMode(replaygain.ModeAlbum)
	require.Eventually(t, func() bool {
		return fp.volumeOf(h1) < 0.3
	}, 2*time.Second, 5*time.Millisecond)
	assert.InDelta(t, 0.251, fp.volumeOf(h1), 0.001)
	assert.Equal(t, replaygain.ModeAlbum, c.Mode())
}

func TestSkipPreviousGracePeriod(t *testing.T) {
	c, fp, _, events := newTestController(t, "a.flac", "b.flac")

	require.NoError(t, c.Play())
	waitTrackChanged(t, events, "a.flac")

	require.NoError(t, c.SkipNext())
	waitTrackChanged(t, events, "b.flac")
	hb := fp.handleFor("b.flac")

	// Within the grace period the previous entry is the target.
	fp.setPosition(hb, time.Second)
	require.NoError(t, c.SkipPrevious())
	waitTrackChanged(t, events, "a.flac")
	ha := fp.handleFor("a.flac")

	// Past the grace period the same track restarts instead.
	fp.setPosition(ha, 10*time.Second)
	require.NoError(t, c.SkipPrevious())
	fp.waitCall(t, fmt.Sprintf("seek:%d:%s", ha, time.Duration(0)), 1)
	assertNoEvent(t, events, EventTrackChanged, 150*time.Millisecond)
	assert.Equal(t, StatusPlaying, c.Status().Status)
}

func TestEndOfQueueStops(t *testing.T) {
	c, fp, _, events := newTestController(t, "only.flac")

	require.NoError(t, c.Play())
	waitTrackChanged(t, events, "only.flac")
	h1 := fp.handleFor("only.flac")

	// No successor: near-end does nothing, end-of-stream stops.
	fp.emitNearEnd(h1, 3*time.Second)
	fp.emitEndOfStream(h1)

	waitStatus(t, events, StatusStopped)
	assert.Equal(t, 0, fp.callCount("preroll:"))
	assert.Equal(t, 1, fp.closedCount(h1))
}

func TestStaleEndOfStream(t *testing.T) {
	c, fp, _, events := newTestController(t, "a.flac", "b.flac")

	require.NoError(t, c.Play())
	waitTrackChanged(t, events, "a.flac")
	h1 := fp.handleFor("a.flac")

	require.NoError(t, c.SkipNext())
	waitTrackChanged(t, events, "b.flac")

	// End-of-stream for the already replaced first stream is ignored.
	fp.emitEndOfStream(h1)
	assertNoStatus(t, events, StatusStopped, 150*time.Millisecond)
	assert.Equal(t, StatusPlaying, c.Status().Status)
	assert.Equal(t, 1, fp.closedCount(h1))
}

func TestHandoffSkippedWhenPreparedEntryRemoved(t *testing.T) {
	c, fp, entries, events := newTestController(t, "a.flac", "b.flac", "c.flac")

	require.NoError(t, c.Play())
	waitTrackChanged(t, events, "a.flac")
	h1 := fp.handleFor("a.flac")

	fp.emitNearEnd(h1, 3*time.Second)
	fp.waitCall(t, "preroll:b.flac", 1)
	h2 := fp.handleFor("b.flac")
	fp.emitPrerollReady(h2)
	fp.waitCall(t, fmt.Sprintf("volume:%d", h2), 1)

	// The prepared entry leaves the queue before the boundary. The
	// handoff target is re-resolved and the stale stream discarded.
	require.NoError(t, c.Remove(entries[1].ID))
	fp.emitEndOfStream(h1)
	waitTrackChanged(t, events, "c.flac")

	assert.Equal(t, 0, fp.callCount("handoff:"))
	assert.Equal(t, 1, fp.closedCount(h2))
	assert.Equal(t, 1, fp.callCount("open:c.flac"))
}

func TestOpenFailureEntersErrorState(t *testing.T) {
	c, fp, _, events := newTestController(t, "missing.flac")
	fp.openErr["missing.flac"] = errors.New("no such file")

	require.NoError(t, c.Play())
	fail := waitEvent(t, events, EventFailure)
	assert.Equal(t, FailureOpen, fail.Failure)
	assert.Equal(t, StatusError, c.Status().Status)
}

func TestPlayEntryStartsSpecificTrack(t *testing.T) {
	c, fp, entries, events := newTestController(t, "a.flac", "b.flac", "c.flac")

	require.NoError(t, c.PlayEntry(entries[2].ID))
	waitTrackChanged(t, events, "c.flac")
	assert.Equal(t, 1, fp.callCount("open:c.flac"))

	assert.ErrorIs(t, c.PlayEntry("nope"), queue.ErrUnknownEntry)
}

func TestControllerValidation(t *testing.T) {
	fp := newFakePipeline()
	c := NewController(fp, Config{TickInterval: time.Hour})
	t.Cleanup(c.Close)

	assert.ErrorIs(t, c.Play(), ErrQueueEmpty)
	assert.ErrorIs(t, c.Pause(), ErrNotPlaying)
	assert.ErrorIs(t, c.Seek(time.Second), ErrNoTrack)
	assert.ErrorIs(t, c.SkipNext(), ErrNoTrack)
	assert.ErrorIs(t, c.SkipPrevious(), ErrNoTrack)
}

func TestSupersededHandlesStayBounded(t *testing.T) {
	locations := make([]string, maxSupersededHandles+4)
	for i := range locations {
		locations[i] = fmt.Sprintf("track-%02d.flac", i)
	}
	c, fp, _, events := newTestController(t, locations...)

	require.NoError(t, c.Play())
	waitTrackChanged(t, events, locations[0])
	active := fp.handleFor(locations[0])

	// Walk the whole queue via gapless handoffs. Every handoff retires the
	// finished handle into the superseded set, and a retired handle that
	// never speaks again must not pin its entry forever.
	for _, next := range locations[1:] {
		fp.emitNearEnd(active, 3*time.Second)
		fp.waitCall(t, "preroll:"+next, 1)
		h := fp.handleFor(next)
		fp.emitPrerollReady(h)
		fp.waitCall(t, fmt.Sprintf("volume:%d:", h), 1)
		fp.emitEndOfStream(active)
		waitTrackChanged(t, events, next)
		active = h
	}

	// The run goroutine has exited, so the state is safe to read directly.
	c.Close()
	assert.Len(t, c.sched.superseded, maxSupersededHandles)
	assert.Len(t, c.sched.supersededOrder, maxSupersededHandles)
}
