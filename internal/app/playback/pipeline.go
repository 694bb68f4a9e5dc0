package playback

import "time"

// Handle identifies one open stream inside the pipeline backend.
type Handle uint64

// HandleNone is the zero handle; no open stream ever carries it.
const HandleNone Handle = 0

// PipelineEventType represents an asynchronous pipeline event type.
type PipelineEventType int

const (
	PipelineNearEnd      PipelineEventType = iota // Remaining time dropped below the preroll lead
	PipelinePrerollReady                          // A preroll request finished preparing
	PipelineEndOfStream                           // The stream played its last sample
	PipelineError                                 // The stream failed
)

// String returns the string representation of the event type.
func (t PipelineEventType) String() string {
	switch t {
	case PipelineNearEnd:
		return "near_end"
	case PipelinePrerollReady:
		return "preroll_ready"
	case PipelineEndOfStream:
		return "end_of_stream"
	case PipelineError:
		return "error"
	default:
		return "unknown"
	}
}

// PipelineEvent is one asynchronous notification from the backend.
type PipelineEvent struct {
	Type      PipelineEventType
	Handle    Handle
	Remaining time.Duration // Set for NearEnd
	Err       error         // Set for Error
}

// Pipeline is the decode/output backend the engine drives. The engine is
// agnostic to formats and devices; this is the only boundary where they
// matter. Preroll and Handoff must not block audio delivery; preparation
// completes through the event channel.
type Pipeline interface {
	// Open prepares a stream for the given location. The stream is not
	// audible until Start or Handoff.
	Open(location string) (Handle, error)

	// Preroll starts preparing a second stream concurrently with playback
	// of the current one. Completion is reported via PrerollReady or
	// Error for the returned handle.
	Preroll(location string) (Handle, error)

	// SetVolume applies a linear volume multiplier to the stream.
	SetVolume(h Handle, multiplier float64)

	// Start makes the stream the audible one and begins playback.
	Start(h Handle) error

	// Pause suspends audio delivery. NearEnd will not fire while paused.
	Pause(h Handle)

	// Resume continues audio delivery after Pause.
	Resume(h Handle)

	// Seek repositions the stream. The backend re-arms NearEnd for the
	// new remaining time.
	Seek(h Handle, position time.Duration) error

	// Position returns the elapsed playback time of the stream.
	Position(h Handle) time.Duration

	// Duration returns the total length of the stream, or 0 when the
	// backend does not know it (yet).
	Duration(h Handle) time.Duration

	// Handoff switches audible output from current to next at the stream
	// boundary. The next handle must be a completed preroll (or an opened
	// stream) and becomes the active one.
	Handoff(current, next Handle) error

	// Close releases the stream's resources. Closing an unknown or
	// already-closed handle is a no-op.
	Close(h Handle)

	// Events returns the pipeline's event channel.
	Events() <-chan PipelineEvent
}
