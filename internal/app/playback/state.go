// Package playback provides the gapless playback engine: queue-driven
// scheduling, preroll and handoff at track boundaries, and ReplayGain
// volume application.
package playback

// Status represents the externally visible playback status.
type Status int

const (
	StatusStopped Status = iota // Nothing playing or prepared
	StatusPlaying               // A track is audible
	StatusPaused                // A track is prepared but suspended
	StatusSeeking               // A reposition is in flight
	StatusError                 // The active stream failed; stop or play to recover
)

// String returns the string representation of the status.
func (s Status) String() string {
	switch s {
	case StatusStopped:
		return "stopped"
	case StatusPlaying:
		return "playing"
	case StatusPaused:
		return "paused"
	case StatusSeeking:
		return "seeking"
	case StatusError:
		return "error"
	default:
		return "unknown"
	}
}

// IsActive returns true if a track is currently loaded (playing or paused).
func (s Status) IsActive() bool {
	return s == StatusPlaying || s == StatusPaused || s == StatusSeeking
}
