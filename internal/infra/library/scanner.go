package library

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/dhowden/tag"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/segue/internal/domain/album"
	"github.com/osa030/segue/internal/domain/track"
)

// Config holds library scanner configuration.
type Config struct {
	Roots   []string                  `yaml:"roots" mapstructure:"roots"`
	Filters map[string]map[string]any `yaml:"filters" mapstructure:"filters"`
}

// defaultFilters are applied in order when scanning.
var defaultFilters = []string{"hidden_filter", "extension_filter", "min_size_filter"}

// Scanner walks library roots and reads track metadata.
type Scanner struct {
	roots []string
	chain *Chain
}

// NewScanner builds a scanner with the registered filters configured
// from cfg.
func NewScanner(cfg Config) (*Scanner, error) {
	chain := NewChain()
	for _, name := range defaultFilters {
		factory, ok := GetRegistered()[name]
		if !ok {
			return nil, errors.Newf("filter %s not registered", name)
		}
		f := factory()
		if err := f.ValidateConfig(cfg.Filters[name]); err != nil {
			return nil, errors.Wrapf(err, "configure %s", name)
		}
		chain.Add(f)
	}
	return &Scanner{roots: cfg.Roots, chain: chain}, nil
}

// Scan walks all roots and returns the accepted tracks sorted by album
// and track number. Unreadable entries are skipped, not fatal.
func (s *Scanner) Scan(ctx context.Context) ([]track.Track, error) {
	var tracks []track.Track
	for _, root := range s.roots {
		err := filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
			if walkErr != nil {
				zlog.Warn().Err(walkErr).Msgf("library: skipping %s", path)
				if d != nil && d.IsDir() {
					return filepath.SkipDir
				}
				return nil
			}
			if err := ctx.Err(); err != nil {
				return err
			}
			if d.IsDir() {
				if path != root && strings.HasPrefix(d.Name(), ".") {
					return filepath.SkipDir
				}
				return nil
			}

			info, err := d.Info()
			if err != nil {
				zlog.Warn().Err(err).Msgf("library: skipping %s", path)
				return nil
			}
			if result := s.chain.Execute(path, info); !result.Accepted {
				zlog.Debug().Msgf("library: %s rejected (%s)", path, result.Code)
				return nil
			}

			tracks = append(tracks, readTrack(path))
			return nil
		})
		if err != nil {
			return nil, errors.Wrapf(err, "scan %s", root)
		}
	}

	sort.Slice(tracks, func(i, j int) bool {
		if a, b := tracks[i].AlbumKey(), tracks[j].AlbumKey(); a != b {
			return a < b
		}
		if tracks[i].TrackNumber != tracks[j].TrackNumber {
			return tracks[i].TrackNumber < tracks[j].TrackNumber
		}
		return tracks[i].Location < tracks[j].Location
	})
	zlog.Info().Msgf("library: scan found %d tracks", len(tracks))
	return tracks, nil
}

// readTrack builds a track from file metadata. A tag read failure still
// yields a playable track named after the file.
func readTrack(path string) track.Track {
	t := track.Track{Location: path}

	f, err := os.Open(path)
	if err != nil {
		zlog.Warn().Err(err).Msgf("library: cannot open %s", path)
		t.Title = titleFromPath(path)
		return t
	}
	defer f.Close()

	m, err := tag.ReadFrom(f)
	if err != nil {
		zlog.Debug().Err(err).Msgf("library: no readable tags in %s", path)
		t.Title = titleFromPath(path)
		return t
	}

	t.Title = m.Title()
	t.Artist = m.Artist()
	t.Album = m.Album()
	t.AlbumArtist = m.AlbumArtist()
	t.TrackNumber, _ = m.Track()
	t.TrackGain, t.AlbumGain = readGains(m)

	if t.Title == "" {
		t.Title = titleFromPath(path)
	}
	return t
}

func titleFromPath(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// BuildAlbums groups tracks by album key. Track order within an album
// follows track numbers; albums are sorted by name.
func BuildAlbums(tracks []track.Track) []album.Album {
	byKey := make(map[string]*album.Album)
	var order []string
	for _, t := range tracks {
		key := t.AlbumKey()
		a, ok := byKey[key]
		if !ok {
			artist := t.AlbumArtist
			if artist == "" {
				artist = t.Artist
			}
			a = &album.Album{Key: key, Name: t.Album, Artist: artist}
			byKey[key] = a
			order = append(order, key)
		}
		a.Tracks = append(a.Tracks, t)
	}

	albums := make([]album.Album, 0, len(order))
	for _, key := range order {
		a := byKey[key]
		sort.Slice(a.Tracks, func(i, j int) bool {
			if a.Tracks[i].TrackNumber != a.Tracks[j].TrackNumber {
				return a.Tracks[i].TrackNumber < a.Tracks[j].TrackNumber
			}
			return a.Tracks[i].Location < a.Tracks[j].Location
		})
		albums = append(albums, *a)
	}
	sort.Slice(albums, func(i, j int) bool {
		if albums[i].Name != albums[j].Name {
			return albums[i].Name < albums[j].Name
		}
		return albums[i].Key < albums[j].Key
	})
	return albums
}
