package audio

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/osa030/segue/internal/app/playback"
)

// newTestEngine builds an engine without touching the speaker, so the
// event plumbing can be exercised on machines without an audio device.
func newTestEngine() *Engine {
	events := make(chan playback.PipelineEvent, pipelineEventBuffer)
	return &Engine{
		sampleRate: 44100,
		streams:    make(map[playback.Handle]*stream),
		prerolled:  make(map[playback.Handle]bool),
		tr:         newTransition(300*time.Millisecond, events),
		events:     events,
	}
}

func TestEngineEmitDelivers(t *testing.T) {
	e := newTestEngine()

	ready := playback.PipelineEvent{Type: playback.PipelinePrerollReady, Handle: 1}
	e.emit(ready)

	select {
	case got := <-e.events:
		assert.Equal(t, ready, got)
	default:
		t.Fatal("event not delivered")
	}
}

func TestEngineEmitAfterShutdownIsDropped(t *testing.T) {
	e := newTestEngine()
	e.Shutdown()

	// A preroll goroutine can finish while Shutdown is tearing the engine
	// down; its completion event must be swallowed, not sent to the closed
	// channel.
	assert.NotPanics(t, func() {
		e.emit(playback.PipelineEvent{Type: playback.PipelinePrerollReady, Handle: 2})
	})

	_, open := <-e.events
	assert.False(t, open, "event channel should be closed with nothing buffered")
}

func TestEngineShutdownIdempotent(t *testing.T) {
	e := newTestEngine()

	assert.NotPanics(t, func() {
		e.Shutdown()
		e.Shutdown()
	})
}
