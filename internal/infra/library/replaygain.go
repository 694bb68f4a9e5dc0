package library

import (
	"strconv"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/dhowden/tag"

	"github.com/osa030/segue/internal/domain/track"
)

// Raw tag names as written by scanners like loudgain and metaflac.
const (
	tagTrackGain = "replaygain_track_gain"
	tagTrackPeak = "replaygain_track_peak"
	tagAlbumGain = "replaygain_album_gain"
	tagAlbumPeak = "replaygain_album_peak"
)

var errTagNotFound = errors.New("tag not found")

// readGains extracts ReplayGain information from raw tags. A gain value
// without a peak is kept; peak stays zero, meaning unknown.
func readGains(m tag.Metadata) (trackGain, albumGain *track.Gain) {
	raw := m.Raw()
	if raw == nil {
		return nil, nil
	}

	if db, err := rawFloat(raw, tagTrackGain); err == nil {
		g := &track.Gain{DB: db}
		if peak, err := rawFloat(raw, tagTrackPeak); err == nil {
			g.Peak = peak
		}
		trackGain = g
	}
	if db, err := rawFloat(raw, tagAlbumGain); err == nil {
		g := &track.Gain{DB: db}
		if peak, err := rawFloat(raw, tagAlbumPeak); err == nil {
			g.Peak = peak
		}
		albumGain = g
	}
	return trackGain, albumGain
}

// rawFloat finds a named raw tag and parses its numeric value. Vorbis
// comments use the name directly; ID3v2 carries it as a TXXX frame whose
// description holds the name. A trailing "dB" unit is tolerated.
func rawFloat(raw map[string]interface{}, name string) (float64, error) {
	text, err := rawString(raw, name)
	if err != nil {
		return 0, err
	}

	text = strings.TrimSpace(text)
	text = strings.TrimSpace(strings.TrimSuffix(strings.TrimSuffix(text, "dB"), "DB"))
	v, err := strconv.ParseFloat(text, 64)
	if err != nil {
		return 0, errors.Wrapf(err, "parse %s", name)
	}
	return v, nil
}

func rawString(raw map[string]interface{}, name string) (string, error) {
	for key, value := range raw {
		// Vorbis and APE tags key by name; ID3v2 TXXX keys carry the
		// description after a colon.
		k := strings.ToLower(key)
		if k != name && !strings.HasSuffix(k, ":"+name) {
			if comm, ok := value.(*tag.Comm); ok && strings.EqualFold(comm.Description, name) {
				return comm.Text, nil
			}
			continue
		}
		switch v := value.(type) {
		case string:
			return v, nil
		case *tag.Comm:
			return v.Text, nil
		}
	}
	return "", errors.Wrapf(errTagNotFound, "%s", name)
}
