package playback

import (
	"sync"
	"time"

	"github.com/osa030/segue/internal/app/queue"
	"github.com/osa030/segue/internal/app/replaygain"
)

// Session holds the externally visible playback state with thread-safe
// access. Each engine owns its own session, so multiple engines can
// coexist in one process.
type Session struct {
	mu sync.RWMutex

	mode     replaygain.Mode
	status   Status
	entry    *queue.Entry
	position time.Duration
	duration time.Duration
}

// Snapshot is a consistent copy of the session state, suitable for an
// initial UI render.
type Snapshot struct {
	Status   Status
	Mode     replaygain.Mode
	Entry    *queue.Entry
	Position time.Duration
	Duration time.Duration
}

// NewSession creates a session in the stopped state.
func NewSession(mode replaygain.Mode) *Session {
	return &Session{mode: mode}
}

// Mode returns the active ReplayGain mode.
func (s *Session) Mode() replaygain.Mode {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.mode
}

// SetMode sets the ReplayGain mode for this session.
func (s *Session) SetMode(m replaygain.Mode) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mode = m
}

// Status returns the current playback status.
func (s *Session) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

// Snapshot returns a consistent copy of the session state.
func (s *Session) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := Snapshot{
		Status:   s.status,
		Mode:     s.mode,
		Position: s.position,
		Duration: s.duration,
	}
	if s.entry != nil {
		e := *s.entry
		snap.Entry = &e
	}
	return snap
}

func (s *Session) setStatus(status Status) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = status
}

func (s *Session) setTrack(entry *queue.Entry, duration time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entry = entry
	s.position = 0
	s.duration = duration
}

func (s *Session) setPosition(position, duration time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.position = position
	s.duration = duration
}

func (s *Session) reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = StatusStopped
	s.entry = nil
	s.position = 0
	s.duration = 0
}
