// Package replaygain computes loudness-normalization multipliers from
// ReplayGain metadata.
package replaygain

import (
	"math"
	"strings"

	"github.com/cockroachdb/errors"

	"github.com/osa030/segue/internal/domain/track"
)

// Mode selects which ReplayGain values are applied.
type Mode int

const (
	ModeTrack Mode = iota // Normalize each track individually
	ModeAlbum             // Preserve loudness differences within an album
)

// String returns the string representation of the mode.
func (m Mode) String() string {
	switch m {
	case ModeTrack:
		return "track"
	case ModeAlbum:
		return "album"
	default:
		return "unknown"
	}
}

// ErrUnknownMode is returned when parsing an unrecognized mode name.
var ErrUnknownMode = errors.New("unknown replaygain mode")

// ParseMode parses a mode name as used in configuration.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(s) {
	case "track", "":
		return ModeTrack, nil
	case "album":
		return ModeAlbum, nil
	default:
		return ModeTrack, errors.Wrapf(ErrUnknownMode, "%q", s)
	}
}

// Multiplier returns the linear volume multiplier for the track under the
// given mode. Album mode falls back to track gain when album data is
// absent; with no gain data at all the multiplier is 1.0 (no scaling).
// When the peak is known, the multiplier is clamped to 1/peak so that the
// loudest sample never exceeds full scale.
func Multiplier(t track.Track, mode Mode) float64 {
	g := gainFor(t, mode)
	if g == nil {
		return 1.0
	}

	m := math.Pow(10, g.DB/20)

	// Clip prevention. A peak of 0 means the peak is unknown, which
	// disables the clamp for this track.
	if g.Peak > 0 && m*g.Peak > 1.0 {
		m = 1.0 / g.Peak
	}
	return m
}

func gainFor(t track.Track, mode Mode) *track.Gain {
	if mode == ModeAlbum && t.AlbumGain != nil {
		return t.AlbumGain
	}
	return t.TrackGain
}
