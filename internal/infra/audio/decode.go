package audio

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/gopxl/beep/v2"
	"github.com/gopxl/beep/v2/flac"
	"github.com/gopxl/beep/v2/mp3"
	"github.com/gopxl/beep/v2/vorbis"
	"github.com/gopxl/beep/v2/wav"
)

// ErrUnsupportedFormat is returned for file extensions no decoder handles.
var ErrUnsupportedFormat = errors.New("unsupported audio format")

// SupportedExtensions lists the file extensions decode accepts.
func SupportedExtensions() []string {
	return []string{".mp3", ".flac", ".ogg", ".oga", ".wav"}
}

// decode opens a local audio file and returns a seekable decoded stream.
// The caller owns both the streamer and the file.
func decode(path string) (beep.StreamSeekCloser, beep.Format, *os.File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, beep.Format{}, nil, errors.Wrapf(err, "open %s", path)
	}

	var (
		ssc    beep.StreamSeekCloser
		format beep.Format
	)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".mp3":
		ssc, format, err = mp3.Decode(f)
	case ".flac":
		ssc, format, err = flac.Decode(f)
	case ".ogg", ".oga":
		ssc, format, err = vorbis.Decode(f)
	case ".wav":
		ssc, format, err = wav.Decode(f)
	default:
		f.Close()
		return nil, beep.Format{}, nil, errors.Wrapf(ErrUnsupportedFormat, "%s", path)
	}
	if err != nil {
		f.Close()
		return nil, beep.Format{}, nil, errors.Wrapf(err, "decode %s", path)
	}
	return ssc, format, f, nil
}
