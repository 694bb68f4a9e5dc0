package playback

import (
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// fakePipeline is a scripted in-memory pipeline. Tests drive boundary
// events by hand and assert on the recorded call sequence.
type fakePipeline struct {
	mu         sync.Mutex
	events     chan PipelineEvent
	nextID     Handle
	calls      []string
	streams    map[Handle]*fakeStream
	openErr    map[string]error
	prerollErr map[string]error
}

type fakeStream struct {
	location string
	volume   float64
	position time.Duration
	duration time.Duration
	closed   int
	started  bool
	paused   bool
}

func newFakePipeline() *fakePipeline {
	return &fakePipeline{
		events:     make(chan PipelineEvent, 16),
		streams:    make(map[Handle]*fakeStream),
		openErr:    make(map[string]error),
		prerollErr: make(map[string]error),
	}
}

func (f *fakePipeline) record(format string, args ...any) {
	f.calls = append(f.calls, fmt.Sprintf(format, args...))
}

func (f *fakePipeline) Open(location string) (Handle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.record("open:%s", location)
	if err := f.openErr[location]; err != nil {
		return HandleNone, err
	}
	f.nextID++
	h := f.nextID
	f.streams[h] = &fakeStream{location: location, volume: 1}
	return h, nil
}

func (f *fakePipeline) Preroll(location string) (Handle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.record("preroll:%s", location)
	if err := f.prerollErr[location]; err != nil {
		return HandleNone, err
	}
	f.nextID++
	h := f.nextID
	f.streams[h] = &fakeStream{location: location, volume: 1}
	return h, nil
}

func (f *fakePipeline) SetVolume(h Handle, multiplier float64) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.record("volume:%d:%.3f", h, multiplier)
	if s, ok := f.streams[h]; ok {
		s.volume = multiplier
	}
}

func (f *fakePipeline) Start(h Handle) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.record("start:%d", h)
	if s, ok := f.streams[h]; ok {
		s.started = true
	}
	return nil
}

func (f *fakePipeline) Pause(h Handle) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.record("pause:%d", h)
	if s, ok := f.streams[h]; ok {
		s.paused = true
	}
}

func (f *fakePipeline) Resume(h Handle) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.record("resume:%d", h)
	if s, ok := f.streams[h]; ok {
		s.paused = false
	}
}

func (f *fakePipeline) Seek(h Handle, position time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.record("seek:%d:%s", h, position)
	if s, ok := f.streams[h]; ok {
		s.position = position
	}
	return nil
}

func (f *fakePipeline) Position(h Handle) time.Duration {
	f.mu.Lock()
	defer f.mu.Unlock()

	if s, ok := f.streams[h]; ok {
		return s.position
	}
	return 0
}

func (f *fakePipeline) Duration(h Handle) time.Duration {
	f.mu.Lock()
	defer f.mu.Unlock()

	if s, ok := f.streams[h]; ok {
		return s.duration
	}
	return 0
}

func (f *fakePipeline) Handoff(current, next Handle) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.record("handoff:%d->%d", current, next)
	if s, ok := f.streams[next]; ok {
		s.started = true
	}
	return nil
}

func (f *fakePipeline) Close(h Handle) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.record("close:%d", h)
	if s, ok := f.streams[h]; ok {
		s.closed++
	}
}

func (f *fakePipeline) Events() <-chan PipelineEvent {
	return f.events
}

// Test drivers.

func (f *fakePipeline) emitNearEnd(h Handle, remaining time.Duration) {
	f.events <- PipelineEvent{Type: PipelineNearEnd, Handle: h, Remaining: remaining}
}

func (f *fakePipeline) emitPrerollReady(h Handle) {
	f.events <- PipelineEvent{Type: PipelinePrerollReady, Handle: h}
}

func (f *fakePipeline) emitEndOfStream(h Handle) {
	f.events <- PipelineEvent{Type: PipelineEndOfStream, Handle: h}
}

func (f *fakePipeline) emitError(h Handle, err error) {
	f.events <- PipelineEvent{Type: PipelineError, Handle: h, Err: err}
}

func (f *fakePipeline) setPosition(h Handle, position time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if s, ok := f.streams[h]; ok {
		s.position = position
	}
}

func (f *fakePipeline) callCount(substr string) int {
	f.mu.Lock()
	defer f.mu.Unlock()

	n := 0
	for _, c := range f.calls {
		if strings.Contains(c, substr) {
			n++
		}
	}
	return n
}

func (f *fakePipeline) closedCount(h Handle) int {
	f.mu.Lock()
	defer f.mu.Unlock()

	if s, ok := f.streams[h]; ok {
		return s.closed
	}
	return 0
}

func (f *fakePipeline) volumeOf(h Handle) float64 {
	f.mu.Lock()
	defer f.mu.Unlock()

	if s, ok := f.streams[h]; ok {
		return s.volume
	}
	return 0
}

// handleFor returns the most recently created handle for a location.
func (f *fakePipeline) handleFor(location string) Handle {
	f.mu.Lock()
	defer f.mu.Unlock()

	var best Handle
	for h, s := range f.streams {
		if s.location == location && h > best {
			best = h
		}
	}
	return best
}

// waitCall blocks until the given call substring has been recorded the
// expected number of times.
func (f *fakePipeline) waitCall(t *testing.T, substr string, count int) {
	t.Helper()
	require.Eventually(t, func() bool {
		return f.callCount(substr) >= count
	}, 2*time.Second, 5*time.Millisecond, "waiting for call %q (x%d)", substr, count)
	require.Equal(t, count, f.callCount(substr), "call %q recorded too often", substr)
}
