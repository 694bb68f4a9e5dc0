// Package album provides the Album domain entity.
package album

import (
	"time"

	"github.com/osa030/segue/internal/domain/track"
)

// Album represents a group of tracks that share album-level metadata.
type Album struct {
	Key    string        // Grouping key (album artist + album name)
	Name   string        // Album name
	Artist string        // Album artist
	Tracks []track.Track // Tracks in album order
}

// Locations returns the locations of all tracks on the album.
func (a *Album) Locations() []string {
	locations := make([]string, len(a.Tracks))
	for i, t := range a.Tracks {
		locations[i] = t.Location
	}
	return locations
}

// TotalDuration returns the summed duration of all tracks with a known
// duration. Tracks whose duration is still unknown contribute nothing.
func (a *Album) TotalDuration() time.Duration {
	var total time.Duration
	for _, t := range a.Tracks {
		if t.Duration != nil {
			total += *t.Duration
		}
	}
	return total
}

// HasAlbumGain returns true if every track carries album-level ReplayGain.
func (a *Album) HasAlbumGain() bool {
	if len(a.Tracks) == 0 {
		return false
	}
	for _, t := range a.Tracks {
		if t.AlbumGain == nil {
			return false
		}
	}
	return true
}
