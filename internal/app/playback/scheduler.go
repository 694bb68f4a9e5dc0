package playback

import (
	"time"

	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/segue/internal/app/queue"
	"github.com/osa030/segue/internal/app/replaygain"
)

const eventBufferSize = 32

// maxSupersededHandles bounds the set of discarded handles kept around to
// absorb their late events. Each boundary supersedes at most one handle and
// the backend retires them promptly, so a handful is plenty.
const maxSupersededHandles = 8

type commandKind int

const (
	cmdPlay commandKind = iota
	cmdPause
	cmdStop
	cmdSeek
	cmdSkipNext
	cmdSkipPrevious
	cmdSetMode
	cmdShutdown
)

type command struct {
	kind    commandKind
	entryID string          // cmdPlay: start this entry instead of the current one
	pos     time.Duration   // cmdSeek
	mode    replaygain.Mode // cmdSetMode
}

// message is one item in the scheduler inbox: either a controller command
// or a pipeline event, in arrival order.
type message struct {
	cmd *command
	ev  *PipelineEvent
}

// scheduler is the state machine that drives the pipeline through track
// boundaries. All commands and pipeline events are serialized through one
// inbox and applied by a single goroutine, so no two transitions ever run
// concurrently. Everything below the channels is owned by that goroutine.
type scheduler struct {
	pipeline Pipeline
	queue    *queue.Queue
	session  *Session

	inbox  chan message
	events chan Event
	done   chan struct{}

	previousGrace time.Duration
	tickInterval  time.Duration

	// State machine data, run-goroutine only.
	active       Handle
	activeEntry  *queue.Entry
	pending      Handle // In-flight or completed preroll, HandleNone otherwise
	pendingEntry *queue.Entry
	pendingReady bool

	// Set after a preroll failure so the boundary is not retried.
	prerollFailed bool

	// Handles discarded while their preroll (or playback) could still emit
	// events. A late event for a superseded handle is a no-op; the handle
	// was already closed exactly once at discard time. Bounded to
	// maxSupersededHandles, evicting the oldest first.
	superseded      map[Handle]struct{}
	supersededOrder []Handle
}

func newScheduler(p Pipeline, q *queue.Queue, session *Session, tickInterval, previousGrace time.Duration) *scheduler {
	s := &scheduler{
		pipeline:      p,
		queue:         q,
		session:       session,
		inbox:         make(chan message, eventBufferSize),
		events:        make(chan Event, eventBufferSize),
		done:          make(chan struct{}),
		previousGrace: previousGrace,
		tickInterval:  tickInterval,
		superseded:    make(map[Handle]struct{}),
	}
	go s.forwardPipelineEvents()
	go s.run()
	return s
}

// post delivers a command into the inbox in arrival order.
func (s *scheduler) post(c command) {
	select {
	case s.inbox <- message{cmd: &c}:
	case <-s.done:
	}
}

// forwardPipelineEvents funnels backend events into the shared inbox so
// that commands and events are applied first-in-order-received.
func (s *scheduler) forwardPipelineEvents() {
	for ev := range s.pipeline.Events() {
		ev := ev
		select {
		case s.inbox <- message{ev: &ev}:
		case <-s.done:
			return
		}
	}
}

func (s *scheduler) run() {
	defer close(s.done)

	ticker := time.NewTicker(s.tickInterval)
	defer ticker.Stop()

	for {
		select {
		case msg := <-s.inbox:
			if msg.cmd != nil {
				if msg.cmd.kind == cmdShutdown {
					s.releaseAll()
					close(s.events)
					return
				}
				s.handleCommand(*msg.cmd)
			} else {
				s.handlePipelineEvent(*msg.ev)
			}
		case <-ticker.C:
			s.publishPosition()
		}
	}
}

func (s *scheduler) handleCommand(c command) {
	switch c.kind {
	case cmdPlay:
		s.play(c.entryID)
	case cmdPause:
		s.pause()
	case cmdStop:
		s.stop()
	case cmdSeek:
		s.seek(c.pos)
	case cmdSkipNext:
		s.skipNext()
	case cmdSkipPrevious:
		s.skipPrevious()
	case cmdSetMode:
		s.setMode(c.mode)
	}
}

func (s *scheduler) handlePipelineEvent(ev PipelineEvent) {
	if _, ok := s.superseded[ev.Handle]; ok {
		// The handle was discarded before this event arrived.
		if ev.Type != PipelineNearEnd {
			s.forget(ev.Handle)
		}
		zlog.Debug().Msgf("playback: ignoring %s for superseded handle %d", ev.Type, ev.Handle)
		return
	}

	switch ev.Type {
	case PipelineNearEnd:
		s.onNearEnd(ev)
	case PipelinePrerollReady:
		s.onPrerollReady(ev)
	case PipelineEndOfStream:
		s.onEndOfStream(ev)
	case PipelineError:
		s.onPipelineError(ev)
	}
}

// play starts or resumes playback. With an empty entryID: resumes when
// paused, is a no-op when already playing, and otherwise starts the
// queue's current (or first) entry.
func (s *scheduler) play(entryID string) {
	status := s.session.Status()

	if entryID == "" {
		switch status {
		case StatusPlaying:
			return
		case StatusPaused:
			s.pipeline.Resume(s.active)
			s.setStatus(StatusPlaying)
			return
		}
	}

	entry, ok := s.resolveStartEntry(entryID)
	if !ok {
		zlog.Debug().Msg("playback: nothing to play")
		return
	}

	// Starting a specific entry replaces whatever is loaded.
	s.releasePlayback()
	s.startEntry(entry)
}

func (s *scheduler) resolveStartEntry(entryID string) (queue.Entry, bool) {
	if entryID != "" {
		for e := range s.queue.Entries() {
			if e.ID == entryID {
				return e, true
			}
		}
		return queue.Entry{}, false
	}
	if e, ok := s.queue.Current(); ok {
		return e, true
	}
	return s.queue.First()
}

// startEntry opens, gains, and starts an entry from cold. An open or
// start failure parks the engine in the error state; the controller
// decides whether to advance.
func (s *scheduler) startEntry(entry queue.Entry) {
	h, err := s.pipeline.Open(entry.Track.Location)
	if err != nil {
		s.failTrack(entry, FailureOpen, err)
		return
	}
	s.pipeline.SetVolume(h, replaygain.Multiplier(entry.Track, s.session.Mode()))
	if err := s.pipeline.Start(h); err != nil {
		s.pipeline.Close(h)
		s.failTrack(entry, FailureOpen, err)
		return
	}

	s.active = h
	e := entry
	s.activeEntry = &e
	s.prerollFailed = false

	_ = s.queue.SetCurrent(entry.ID)
	s.session.setTrack(&e, s.pipeline.Duration(h))
	s.session.setStatus(StatusPlaying)
	s.emit(Event{Type: EventTrackChanged, Status: StatusPlaying, Entry: &e})
	s.emit(Event{Type: EventStatusChanged, Status: StatusPlaying, Entry: &e})
	zlog.Info().Msgf("playback: started %s", entry.Track.DisplayName())
}

func (s *scheduler) failTrack(entry queue.Entry, kind FailureKind, err error) {
	zlog.Error().Err(err).Msgf("playback: %s failure for %s", kind, entry.Track.DisplayName())
	s.discardPending()
	s.session.setStatus(StatusError)
	e := entry
	s.emit(Event{Type: EventFailure, Status: StatusError, Entry: &e, Failure: kind, Err: err})
	s.emit(Event{Type: EventStatusChanged, Status: StatusError, Entry: &e})
}

func (s *scheduler) pause() {
	if s.session.Status() != StatusPlaying {
		return
	}
	s.pipeline.Pause(s.active)
	// The pending preroll, if any, is kept: preroll timing follows decode
	// progress, which is suspended along with the audio.
	s.setStatus(StatusPaused)
}

func (s *scheduler) stop() {
	s.releasePlayback()
	s.session.reset()
	s.emit(Event{Type: EventStatusChanged, Status: StatusStopped})
}

// seek repositions the active stream. A pending preroll was computed for
// the old remaining-time boundary, so it is discarded.
func (s *scheduler) seek(pos time.Duration) {
	if s.active == HandleNone {
		return
	}
	prev := s.session.Status()
	if prev == StatusError {
		return
	}

	s.discardPending()
	s.prerollFailed = false

	s.setStatus(StatusSeeking)
	if err := s.pipeline.Seek(s.active, pos); err != nil {
		zlog.Warn().Err(err).Msgf("playback: seek to %s failed", pos)
	} else {
		s.session.setPosition(pos, s.pipeline.Duration(s.active))
	}
	s.setStatus(prev)
}

// skipNext advances to the next queue entry. When a prepared next stream
// is already waiting, the handoff is reused for a zero-latency skip.
func (s *scheduler) skipNext() {
	if s.activeEntry == nil {
		// Not playing: just move the cursor so a later play starts there.
		if current, ok := s.queue.Current(); ok {
			if next, ok := s.queue.NextOf(current.ID); ok {
				_ = s.queue.SetCurrent(next.ID)
			}
		}
		return
	}

	if s.pendingReady {
		s.promotePending()
		return
	}

	s.discardPending()
	next, ok := s.queue.NextOf(s.activeEntry.ID)
	if !ok {
		s.stop()
		return
	}
	s.releasePlayback()
	s.startEntry(next)
}

// skipPrevious restarts the current track, or goes to the previous entry
// when the position is still within the grace period.
func (s *scheduler) skipPrevious() {
	if s.activeEntry == nil {
		return
	}

	if s.pipeline.Position(s.active) > s.previousGrace {
		s.seek(0)
		return
	}

	prev, ok := s.queue.PreviousOf(s.activeEntry.ID)
	if !ok {
		s.seek(0)
		return
	}
	s.discardPending()
	s.releasePlayback()
	s.startEntry(prev)
}

// setMode switches the ReplayGain mode and re-applies the gain of the
// active track under the new policy.
func (s *scheduler) setMode(mode replaygain.Mode) {
	s.session.SetMode(mode)
	if s.active != HandleNone && s.activeEntry != nil {
		s.pipeline.SetVolume(s.active, replaygain.Multiplier(s.activeEntry.Track, mode))
	}
	if s.pendingReady && s.pendingEntry != nil {
		s.pipeline.SetVolume(s.pending, replaygain.Multiplier(s.pendingEntry.Track, mode))
	}
}

// onNearEnd starts preparing the next entry once the active track is close
// to its last sample.
func (s *scheduler) onNearEnd(ev PipelineEvent) {
	if ev.Handle != s.active || s.activeEntry == nil {
		return
	}
	if s.session.Status() != StatusPlaying {
		return
	}
	if s.pending != HandleNone || s.prerollFailed {
		// Already prepared, preparing, or given up for this boundary.
		return
	}

	next, ok := s.queue.NextOf(s.activeEntry.ID)
	if !ok {
		// End of the queue; playback stops naturally at end of stream.
		return
	}

	zlog.Debug().Msgf("playback: %s remaining, prerolling %s", ev.Remaining, next.Track.DisplayName())
	h, err := s.pipeline.Preroll(next.Track.Location)
	if err != nil {
		s.prerollFailure(next, err)
		return
	}
	s.pending = h
	e := next
	s.pendingEntry = &e
	s.pendingReady = false
}

func (s *scheduler) onPrerollReady(ev PipelineEvent) {
	if ev.Handle != s.pending || s.pendingEntry == nil {
		return
	}
	s.pendingReady = true
	// Pre-apply the gain so the handoff needs no further setup.
	s.pipeline.SetVolume(s.pending, replaygain.Multiplier(s.pendingEntry.Track, s.session.Mode()))
	zlog.Debug().Msgf("playback: %s ready for handoff", s.pendingEntry.Track.DisplayName())
}

// onEndOfStream is the track boundary. With a completed preroll waiting
// this is the gapless path; otherwise the engine falls back to a cold
// start of the next entry, or stops.
func (s *scheduler) onEndOfStream(ev PipelineEvent) {
	if ev.Handle != s.active || s.activeEntry == nil {
		return
	}

	if s.pendingReady {
		// The queue may have been edited since the preroll was scheduled;
		// only hand off if the prepared entry is still the successor.
		if next, ok := s.queue.NextOf(s.activeEntry.ID); ok && s.pendingEntry != nil && next.ID == s.pendingEntry.ID {
			s.promotePending()
			return
		}
		zlog.Debug().Msg("playback: prepared entry no longer next, discarding")
	}

	// Preroll still in flight, stale, or never attempted.
	s.discardPending()

	if s.prerollFailed {
		// The failure was already reported; finish the boundary quietly.
		s.stop()
		return
	}

	next, ok := s.queue.NextOf(s.activeEntry.ID)
	if !ok {
		s.stop()
		return
	}
	zlog.Debug().Msgf("playback: non-gapless transition to %s", next.Track.DisplayName())
	s.releasePlayback()
	s.startEntry(next)
}

// promotePending performs the handoff to the prepared next stream. Shared
// by the end-of-stream path and the zero-latency skip.
func (s *scheduler) promotePending() {
	next := *s.pendingEntry
	nextHandle := s.pending

	if err := s.pipeline.Handoff(s.active, nextHandle); err != nil {
		zlog.Warn().Err(err).Msg("playback: handoff failed, falling back to cold start")
		s.discardPending()
		s.releasePlayback()
		s.startEntry(next)
		return
	}

	old := s.active
	s.supersede(old)
	s.pipeline.Close(old)

	s.active = nextHandle
	s.activeEntry = &next
	s.pending = HandleNone
	s.pendingEntry = nil
	s.pendingReady = false
	s.prerollFailed = false

	_ = s.queue.SetCurrent(next.ID)
	s.session.setTrack(&next, s.pipeline.Duration(nextHandle))
	s.session.setStatus(StatusPlaying)
	s.emit(Event{Type: EventTrackChanged, Status: StatusPlaying, Entry: &next})
	zlog.Info().Msgf("playback: gapless transition to %s", next.Track.DisplayName())
}

func (s *scheduler) onPipelineError(ev PipelineEvent) {
	switch ev.Handle {
	case s.pending:
		entry := s.pendingEntry
		s.pipeline.Close(s.pending)
		s.pending = HandleNone
		s.pendingEntry = nil
		s.pendingReady = false
		if entry != nil {
			s.prerollFailure(*entry, ev.Err)
		}
	case s.active:
		entry := s.activeEntry
		s.discardPending()
		s.supersede(s.active)
		s.pipeline.Close(s.active)
		s.active = HandleNone
		s.activeEntry = nil
		if entry != nil {
			s.failTrack(*entry, FailureActiveStream, ev.Err)
		}
	default:
		zlog.Debug().Err(ev.Err).Msgf("playback: error for unknown handle %d", ev.Handle)
	}
}

// prerollFailure absorbs a failed next-track preparation. The current
// track keeps playing; the boundary is not retried.
func (s *scheduler) prerollFailure(entry queue.Entry, err error) {
	s.prerollFailed = true
	zlog.Warn().Err(err).Msgf("playback: preroll of %s failed, current track unaffected", entry.Track.DisplayName())
	s.emit(Event{Type: EventFailure, Status: s.session.Status(), Entry: s.activeEntry, Failure: FailurePreroll, Err: err})
}

// supersede marks a handle discarded so its late events are ignored. A
// handle that sends nothing more would otherwise stay in the set forever,
// so the oldest entries are evicted beyond maxSupersededHandles.
func (s *scheduler) supersede(h Handle) {
	if _, ok := s.superseded[h]; ok {
		return
	}
	s.superseded[h] = struct{}{}
	s.supersededOrder = append(s.supersededOrder, h)
	for len(s.superseded) > maxSupersededHandles {
		oldest := s.supersededOrder[0]
		s.supersededOrder = s.supersededOrder[1:]
		delete(s.superseded, oldest)
	}
}

// forget drops a superseded handle once its last event has been absorbed.
func (s *scheduler) forget(h Handle) {
	delete(s.superseded, h)
	for i, o := range s.supersededOrder {
		if o == h {
			s.supersededOrder = append(s.supersededOrder[:i], s.supersededOrder[i+1:]...)
			break
		}
	}
}

// discardPending invalidates the pending preroll, if any. The handle is
// marked superseded first so its late events are ignored, then closed
// exactly once.
func (s *scheduler) discardPending() {
	if s.pending == HandleNone {
		return
	}
	s.supersede(s.pending)
	s.pipeline.Close(s.pending)
	s.pending = HandleNone
	s.pendingEntry = nil
	s.pendingReady = false
}

// releasePlayback closes the active and pending handles without touching
// the session.
func (s *scheduler) releasePlayback() {
	s.discardPending()
	if s.active != HandleNone {
		s.supersede(s.active)
		s.pipeline.Close(s.active)
		s.active = HandleNone
		s.activeEntry = nil
	}
	s.prerollFailed = false
}

func (s *scheduler) releaseAll() {
	s.releasePlayback()
	s.session.reset()
}

func (s *scheduler) setStatus(status Status) {
	s.session.setStatus(status)
	s.emit(Event{Type: EventStatusChanged, Status: status, Entry: s.activeEntry})
}

func (s *scheduler) publishPosition() {
	if s.session.Status() != StatusPlaying || s.active == HandleNone {
		return
	}
	pos := s.pipeline.Position(s.active)
	dur := s.pipeline.Duration(s.active)
	s.session.setPosition(pos, dur)
	s.emit(Event{
		Type:     EventPositionTick,
		Status:   StatusPlaying,
		Entry:    s.activeEntry,
		Position: pos,
		Duration: dur,
	})
}

// emit sends an event to the controller without blocking the loop.
func (s *scheduler) emit(ev Event) {
	select {
	case s.events <- ev:
	default:
		zlog.Warn().Msgf("playback: event buffer full, dropping %s", ev.Type)
	}
}
