package playback

import (
	"time"

	"github.com/osa030/segue/internal/app/queue"
)

// EventType represents a playback event type.
type EventType int

const (
	EventStatusChanged EventType = iota // Playback status changed
	EventTrackChanged                   // The current track changed
	EventPositionTick                   // Periodic position update while playing
	EventFailure                        // A failure was absorbed or surfaced
)

// String returns the string representation of the event type.
func (e EventType) String() string {
	switch e {
	case EventStatusChanged:
		return "status_changed"
	case EventTrackChanged:
		return "track_changed"
	case EventPositionTick:
		return "position_tick"
	case EventFailure:
		return "failure"
	default:
		return "unknown"
	}
}

// FailureKind classifies failures reported on the event stream.
type FailureKind int

const (
	FailurePreroll      FailureKind = iota // Next-track preparation failed; current playback unaffected
	FailureOpen                            // Track could not be opened or decoded
	FailureActiveStream                    // The active stream failed mid-playback
)

// String returns the string representation of the failure kind.
func (k FailureKind) String() string {
	switch k {
	case FailurePreroll:
		return "preroll"
	case FailureOpen:
		return "open"
	case FailureActiveStream:
		return "active_stream"
	default:
		return "unknown"
	}
}

// Fatal returns true if the failure interrupted playback.
func (k FailureKind) Fatal() bool {
	return k != FailurePreroll
}

// Event represents a playback event delivered to subscribers.
type Event struct {
	Type     EventType
	Status   Status
	Entry    *queue.Entry  // Current entry (nil when stopped)
	Position time.Duration // Set for PositionTick
	Duration time.Duration // Set for PositionTick; 0 while unknown
	Failure  FailureKind   // Set for Failure
	Err      error         // Set for Failure
}
