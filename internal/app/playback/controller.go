package playback

import (
	"time"

	"github.com/cockroachdb/errors"

	"github.com/osa030/segue/internal/app/queue"
	"github.com/osa030/segue/internal/app/replaygain"
	"github.com/osa030/segue/internal/domain/track"
)

// Errors
var (
	ErrNoTrack    = errors.New("no track playing")
	ErrQueueEmpty = errors.New("queue is empty")
	ErrNotPlaying = errors.New("not playing")
)

// Config holds controller configuration.
type Config struct {
	Mode          replaygain.Mode // Initial ReplayGain mode
	TickInterval  time.Duration   // Interval between position events
	PreviousGrace time.Duration   // Window in which skip-previous goes to the prior entry
}

const (
	defaultTickInterval  = 500 * time.Millisecond
	defaultPreviousGrace = 2 * time.Second
)

// Controller is the public façade of the playback engine: it owns the
// queue, the session, the scheduler, and the subscriber hub.
type Controller struct {
	queue   *queue.Queue
	session *Session
	sched   *scheduler
	hub     *Hub
	done    chan struct{}
}

// NewController creates a controller driving the given pipeline.
func NewController(p Pipeline, cfg Config) *Controller {
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = defaultTickInterval
	}
	if cfg.PreviousGrace <= 0 {
		cfg.PreviousGrace = defaultPreviousGrace
	}

	q := queue.New()
	session := NewSession(cfg.Mode)
	c := &Controller{
		queue:   q,
		session: session,
		sched:   newScheduler(p, q, session, cfg.TickInterval, cfg.PreviousGrace),
		hub:     NewHub(),
		done:    make(chan struct{}),
	}
	go c.dispatch()
	return c
}

// dispatch fans scheduler events out to subscribers.
func (c *Controller) dispatch() {
	defer close(c.done)
	for ev := range c.sched.events {
		c.hub.Publish(ev)
	}
}

// Play starts or resumes playback of the queue's current (or first) entry.
func (c *Controller) Play() error {
	if c.queue.Len() == 0 {
		return ErrQueueEmpty
	}
	c.sched.post(command{kind: cmdPlay})
	return nil
}

// PlayEntry starts playback of a specific queue entry from the beginning.
func (c *Controller) PlayEntry(entryID string) error {
	if !c.queue.Contains(entryID) {
		return errors.Wrapf(queue.ErrUnknownEntry, "play %q", entryID)
	}
	c.sched.post(command{kind: cmdPlay, entryID: entryID})
	return nil
}

// Pause suspends playback.
func (c *Controller) Pause() error {
	if c.session.Status() != StatusPlaying {
		return ErrNotPlaying
	}
	c.sched.post(command{kind: cmdPause})
	return nil
}

// Stop ends playback and releases all pipeline resources.
func (c *Controller) Stop() {
	c.sched.post(command{kind: cmdStop})
}

// Seek repositions within the active track. Any pending next-track
// preparation is invalidated.
func (c *Controller) Seek(position time.Duration) error {
	if !c.session.Status().IsActive() {
		return ErrNoTrack
	}
	c.sched.post(command{kind: cmdSeek, pos: position})
	return nil
}

// SkipNext advances to the next queue entry.
func (c *Controller) SkipNext() error {
	if !c.session.Status().IsActive() {
		return ErrNoTrack
	}
	c.sched.post(command{kind: cmdSkipNext})
	return nil
}

// SkipPrevious restarts the current track, or moves to the previous entry
// when still near the start of the current one.
func (c *Controller) SkipPrevious() error {
	if !c.session.Status().IsActive() {
		return ErrNoTrack
	}
	c.sched.post(command{kind: cmdSkipPrevious})
	return nil
}

// SetMode switches the ReplayGain mode. The active track's gain is
// re-resolved immediately.
func (c *Controller) SetMode(mode replaygain.Mode) {
	c.sched.post(command{kind: cmdSetMode, mode: mode})
}

// Mode returns the active ReplayGain mode.
func (c *Controller) Mode() replaygain.Mode {
	return c.session.Mode()
}

// Status returns a consistent snapshot of the playback state for an
// initial render.
func (c *Controller) Status() Snapshot {
	return c.session.Snapshot()
}

// Queue editing passthroughs. Mutations never interrupt the active
// stream; the scheduler re-reads the queue at the next boundary.

// Enqueue appends tracks to the end of the queue.
func (c *Controller) Enqueue(tracks ...track.Track) []queue.Entry {
	return c.queue.Append(tracks...)
}

// Insert adds tracks at the given queue position.
func (c *Controller) Insert(position int, tracks ...track.Track) ([]queue.Entry, error) {
	return c.queue.Insert(position, tracks...)
}

// Remove deletes queue entries by id.
func (c *Controller) Remove(entryIDs ...string) error {
	return c.queue.Remove(entryIDs...)
}

// Move relocates queue entries to the target position.
func (c *Controller) Move(entryIDs []string, target int) error {
	return c.queue.Move(entryIDs, target)
}

// Entries returns a restartable snapshot sequence of the queue.
func (c *Controller) Entries() []queue.Entry {
	return c.queue.Snapshot()
}

// SetCurrent moves the queue cursor; the entry starts on the next Play.
func (c *Controller) SetCurrent(entryID string) error {
	return c.queue.SetCurrent(entryID)
}

// Subscribe attaches an event subscriber.
func (c *Controller) Subscribe() (string, <-chan Event) {
	return c.hub.Subscribe()
}

// Unsubscribe detaches an event subscriber.
func (c *Controller) Unsubscribe(id string) {
	c.hub.Unsubscribe(id)
}

// Close shuts the engine down and closes all subscriber channels.
func (c *Controller) Close() {
	c.sched.post(command{kind: cmdShutdown})
	<-c.done
	c.hub.Close()
}
