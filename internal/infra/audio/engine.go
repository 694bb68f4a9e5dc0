package audio

import (
	"math"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/gopxl/beep/v2"
	"github.com/gopxl/beep/v2/effects"
	"github.com/gopxl/beep/v2/speaker"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/segue/internal/app/playback"
)

// ErrUnknownHandle is returned for operations on a handle the engine
// does not track.
var ErrUnknownHandle = errors.New("unknown stream handle")

const (
	pipelineEventBuffer = 16
	warmupChunk         = 512
)

// Engine is the speaker-backed pipeline. It decodes local files, mixes
// them through a single persistent output streamer, and reports track
// boundaries as pipeline events.
type Engine struct {
	sampleRate beep.SampleRate

	mu         sync.Mutex
	streams    map[playback.Handle]*stream
	nextHandle playback.Handle
	prerolled  map[playback.Handle]bool
	closed     bool

	tr     *transition
	events chan playback.PipelineEvent

	shutdown sync.Once
}

var _ playback.Pipeline = (*Engine)(nil)

// NewEngine initializes the speaker and starts the output streamer.
func NewEngine(cfg Config) (*Engine, error) {
	cfg.applyDefaults()

	sr := beep.SampleRate(cfg.SampleRate)
	if err := speaker.Init(sr, sr.N(time.Duration(cfg.BufferMS)*time.Millisecond)); err != nil {
		return nil, errors.Wrap(err, "init speaker")
	}

	events := make(chan playback.PipelineEvent, pipelineEventBuffer)
	e := &Engine{
		sampleRate: sr,
		streams:    make(map[playback.Handle]*stream),
		prerolled:  make(map[playback.Handle]bool),
		tr:         newTransition(time.Duration(cfg.NearEndLeadMS)*time.Millisecond, events),
		events:     events,
	}
	speaker.Play(e.tr)
	return e, nil
}

func (e *Engine) newStream(location string) (*stream, error) {
	ssc, format, f, err := decode(location)
	if err != nil {
		return nil, err
	}

	var src beep.Streamer = ssc
	if format.SampleRate != e.sampleRate {
		src = beep.Resample(4, format.SampleRate, e.sampleRate, ssc)
	}
	vol := &effects.Volume{Streamer: src, Base: 2}

	e.mu.Lock()
	e.nextHandle++
	s := &stream{
		handle:   e.nextHandle,
		location: location,
		file:     f,
		ssc:      ssc,
		format:   format,
		volume:   vol,
		out:      vol,
	}
	e.streams[s.handle] = s
	e.mu.Unlock()
	return s, nil
}

// Open decodes a file and registers it without starting playback.
func (e *Engine) Open(location string) (playback.Handle, error) {
	s, err := e.newStream(location)
	if err != nil {
		return playback.HandleNone, err
	}
	e.mu.Lock()
	e.prerolled[s.handle] = true
	e.mu.Unlock()
	return s.handle, nil
}

// Preroll decodes a file and warms the decoder off the audio path.
// Completion is reported asynchronously as a PrerollReady event.
func (e *Engine) Preroll(location string) (playback.Handle, error) {
	s, err := e.newStream(location)
	if err != nil {
		return playback.HandleNone, err
	}

	go func() {
		if err := e.warm(s); err != nil {
			e.emit(playback.PipelineEvent{
				Type:   playback.PipelineError,
				Handle: s.handle,
				Err:    err,
			})
			return
		}
		e.mu.Lock()
		e.prerolled[s.handle] = true
		e.mu.Unlock()
		e.emit(playback.PipelineEvent{
			Type:   playback.PipelinePrerollReady,
			Handle: s.handle,
		})
	}()
	return s.handle, nil
}

// warm pulls the first samples through the decoder and rewinds, so the
// first real pull at the track boundary hits primed caches.
func (e *Engine) warm(s *stream) error {
	e.tr.mu.Lock()
	defer e.tr.mu.Unlock()

	buf := make([][2]float64, warmupChunk)
	s.ssc.Stream(buf)
	if err := s.ssc.Err(); err != nil {
		return errors.Wrapf(err, "preroll %s", s.location)
	}
	if err := s.ssc.Seek(0); err != nil {
		return errors.Wrapf(err, "rewind %s", s.location)
	}
	return nil
}

func (e *Engine) SetVolume(h playback.Handle, multiplier float64) {
	s, ok := e.lookup(h)
	if !ok {
		return
	}
	e.tr.mu.Lock()
	if multiplier <= 0 {
		s.volume.Silent = true
	} else {
		s.volume.Silent = false
		s.volume.Volume = math.Log2(multiplier)
	}
	e.tr.mu.Unlock()
}

func (e *Engine) Start(h playback.Handle) error {
	s, ok := e.lookup(h)
	if !ok {
		return errors.Wrapf(ErrUnknownHandle, "%d", h)
	}
	e.tr.setCurrent(s)
	e.tr.setPaused(false)
	return nil
}

func (e *Engine) Pause(h playback.Handle) {
	if _, ok := e.lookup(h); !ok {
		return
	}
	e.tr.setPaused(true)
}

func (e *Engine) Resume(h playback.Handle) {
	if _, ok := e.lookup(h); !ok {
		return
	}
	e.tr.setPaused(false)
}

func (e *Engine) Seek(h playback.Handle, position time.Duration) error {
	s, ok := e.lookup(h)
	if !ok {
		return errors.Wrapf(ErrUnknownHandle, "%d", h)
	}

	e.tr.mu.Lock()
	defer e.tr.mu.Unlock()

	n := s.format.SampleRate.N(position)
	if total := s.ssc.Len(); total > 0 && n > total {
		n = total
	}
	if err := s.ssc.Seek(n); err != nil {
		return errors.Wrapf(err, "seek %s to %s", s.location, position)
	}
	s.nearEndSent = false
	s.eosSent = false
	s.drained = false
	return nil
}

func (e *Engine) Position(h playback.Handle) time.Duration {
	s, ok := e.lookup(h)
	if !ok {
		return 0
	}
	e.tr.mu.Lock()
	defer e.tr.mu.Unlock()
	return s.format.SampleRate.D(s.ssc.Position())
}

func (e *Engine) Duration(h playback.Handle) time.Duration {
	s, ok := e.lookup(h)
	if !ok {
		return 0
	}
	e.tr.mu.Lock()
	defer e.tr.mu.Unlock()
	total := s.ssc.Len()
	if total <= 0 {
		return 0
	}
	return s.format.SampleRate.D(total)
}

// Handoff switches output to a prepared stream at a track boundary. The
// swap happens between speaker pulls, so no samples are dropped.
func (e *Engine) Handoff(current, next playback.Handle) error {
	e.mu.Lock()
	s, ok := e.streams[next]
	ready := e.prerolled[next]
	e.mu.Unlock()
	if !ok {
		return errors.Wrapf(ErrUnknownHandle, "handoff to %d", next)
	}
	if !ready {
		return errors.Newf("stream %d not prerolled", next)
	}

	e.tr.mu.Lock()
	e.tr.current = s
	e.tr.paused = false
	e.tr.mu.Unlock()
	zlog.Debug().Msgf("audio: handoff %d -> %d", current, next)
	return nil
}

// Close releases a stream. Unknown handles are ignored, so a second
// close of the same handle is harmless.
func (e *Engine) Close(h playback.Handle) {
	e.mu.Lock()
	s, ok := e.streams[h]
	delete(e.streams, h)
	delete(e.prerolled, h)
	e.mu.Unlock()
	if !ok {
		return
	}

	e.tr.mu.Lock()
	if e.tr.current == s {
		e.tr.current = nil
	}
	s.release()
	e.tr.mu.Unlock()
}

func (e *Engine) Events() <-chan playback.PipelineEvent {
	return e.events
}

// Shutdown stops the speaker and closes the event channel. The engine
// must not be used afterwards.
func (e *Engine) Shutdown() {
	e.shutdown.Do(func() {
		speaker.Clear()

		e.mu.Lock()
		e.closed = true
		handles := make([]*stream, 0, len(e.streams))
		for _, s := range e.streams {
			handles = append(handles, s)
		}
		e.streams = make(map[playback.Handle]*stream)
		e.mu.Unlock()

		e.tr.mu.Lock()
		e.tr.current = nil
		for _, s := range handles {
			s.release()
		}
		e.tr.mu.Unlock()

		close(e.events)
	})
}

func (e *Engine) lookup(h playback.Handle) (*stream, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	s, ok := e.streams[h]
	return s, ok
}

// emit delivers an event unless the engine has shut down. A preroll
// goroutine may outlive Shutdown; Shutdown marks the engine closed under
// this lock before closing the channel, so a send can never hit a
// closed channel.
func (e *Engine) emit(ev playback.PipelineEvent) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		zlog.Debug().Msgf("audio: dropping %s after shutdown", ev.Type)
		return
	}
	select {
	case e.events <- ev:
	default:
		zlog.Warn().Msgf("audio: event buffer full, dropping %s", ev.Type)
	}
}
