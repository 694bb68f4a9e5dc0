package audio

import (
	"os"
	"sync"
	"time"

	"github.com/gopxl/beep/v2"
	"github.com/gopxl/beep/v2/effects"

	"github.com/osa030/segue/internal/app/playback"
)

// stream bundles the resources of one decoded file.
type stream struct {
	handle   playback.Handle
	location string
	file     *os.File
	ssc      beep.StreamSeekCloser
	format   beep.Format
	volume   *effects.Volume
	out      beep.Streamer // resampler + volume chain

	nearEndSent bool
	eosSent     bool
	drained     bool
}

func (s *stream) remaining() time.Duration {
	total := s.ssc.Len()
	if total <= 0 {
		return -1
	}
	return s.format.SampleRate.D(total - s.ssc.Position())
}

func (s *stream) release() {
	s.ssc.Close()
	s.file.Close()
}

var _ beep.Streamer = (*transition)(nil)

// transition is the single streamer fed to the speaker. It plays the
// current stream, pads silence when nothing is loaded or paused, and
// reports near-end and end-of-stream boundaries. It never ends, so the
// speaker keeps pulling across track changes.
//
// Its mutex also guards every stream's decoder: the speaker goroutine
// pulls samples through Stream while the engine seeks and swaps streams.
type transition struct {
	mu      sync.Mutex
	current *stream
	paused  bool

	lead   time.Duration
	events chan<- playback.PipelineEvent
}

func newTransition(lead time.Duration, events chan<- playback.PipelineEvent) *transition {
	return &transition{lead: lead, events: events}
}

func (t *transition) Stream(samples [][2]float64) (int, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	n := 0
	if t.current != nil && !t.paused && !t.current.drained {
		var ok bool
		n, ok = t.current.out.Stream(samples)
		if n < len(samples) && ok {
			// Distinguish a short read from exhaustion.
			n2, ok2 := t.current.out.Stream(samples[n:])
			n += n2
			ok = ok2
		}
		if !ok {
			t.current.drained = true
			t.emitOnce(&t.current.eosSent, playback.PipelineEvent{
				Type:   playback.PipelineEndOfStream,
				Handle: t.current.handle,
			})
		} else if rem := t.current.remaining(); rem >= 0 && rem <= t.lead {
			t.emitOnce(&t.current.nearEndSent, playback.PipelineEvent{
				Type:      playback.PipelineNearEnd,
				Handle:    t.current.handle,
				Remaining: rem,
			})
		}
	}

	for i := n; i < len(samples); i++ {
		samples[i] = [2]float64{}
	}
	return len(samples), true
}

func (t *transition) Err() error { return nil }

func (t *transition) emitOnce(sent *bool, ev playback.PipelineEvent) {
	if *sent {
		return
	}
	*sent = true
	select {
	case t.events <- ev:
	default:
	}
}

func (t *transition) setCurrent(s *stream) {
	t.mu.Lock()
	t.current = s
	t.mu.Unlock()
}

func (t *transition) setPaused(paused bool) {
	t.mu.Lock()
	t.paused = paused
	t.mu.Unlock()
}
