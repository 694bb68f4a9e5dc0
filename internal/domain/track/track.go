// Package track provides the Track domain entity.
package track

import (
	"path/filepath"
	"strings"
	"time"
)

// Gain holds one ReplayGain measurement.
type Gain struct {
	DB   float64 // Loudness adjustment in decibels
	Peak float64 // Peak sample value (linear, 1.0 = full scale; 0 = unknown)
}

// Track represents one playable item discovered by the library.
// The engine treats it as an immutable value and never rewrites it.
type Track struct {
	Location    string         // File path (opaque to the engine)
	Title       string         // Track title
	Artist      string         // Artist name
	Album       string         // Album name
	AlbumArtist string         // Album artist (falls back to Artist when untagged)
	TrackNumber int            // Position within the album (0 when untagged)
	Duration    *time.Duration // nil until the decoder reports it
	TrackGain   *Gain          // Per-track ReplayGain (nil when untagged)
	AlbumGain   *Gain          // Per-album ReplayGain (nil when untagged)
}

// DisplayName returns a human-readable name for the track.
func (t *Track) DisplayName() string {
	if t.Title == "" {
		base := filepath.Base(t.Location)
		return strings.TrimSuffix(base, filepath.Ext(base))
	}
	if t.Artist == "" {
		return t.Title
	}
	return t.Artist + " - " + t.Title
}

// AlbumKey returns the key used to group tracks into albums.
func (t *Track) AlbumKey() string {
	artist := t.AlbumArtist
	if artist == "" {
		artist = t.Artist
	}
	return artist + "\x00" + t.Album
}

// HasReplayGain returns true if the track carries any ReplayGain data.
func (t *Track) HasReplayGain() bool {
	return t.TrackGain != nil || t.AlbumGain != nil
}
