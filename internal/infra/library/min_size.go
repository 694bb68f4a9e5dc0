package library

import (
	"io/fs"

	"github.com/cockroachdb/errors"
	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/mitchellh/mapstructure"
	zlog "github.com/rs/zerolog/log"
)

// MinSizeConfig represents the configuration for MinSizeFilter.
type MinSizeConfig struct {
	MinBytes int64 `yaml:"min_bytes" mapstructure:"min_bytes" default:"4096" validate:"gte=0"`
}

// MinSizeFilter rejects files too small to hold audio.
type MinSizeFilter struct {
	config *MinSizeConfig
}

// NewMinSizeFilter creates a new minimum size filter.
func NewMinSizeFilter() *MinSizeFilter {
	return &MinSizeFilter{}
}

func (f *MinSizeFilter) Name() string {
	return "min_size_filter"
}

func (f *MinSizeFilter) Description() string {
	return "Rejects files below a minimum size"
}

func (f *MinSizeFilter) ReturnCodes() []string {
	return []string{"below_min_size"}
}

func (f *MinSizeFilter) ValidateConfig(settings map[string]any) error {
	var config MinSizeConfig

	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:  &config,
		TagName: "mapstructure",
	})
	if err != nil {
		return errors.Wrap(err, "failed to create decoder")
	}

	if err := decoder.Decode(settings); err != nil {
		return errors.Wrap(err, "failed to decode settings")
	}

	if err := defaults.Set(&config); err != nil {
		return errors.Wrap(err, "failed to set defaults")
	}

	validate := validator.New()
	if err := validate.Struct(config); err != nil {
		return errors.Wrap(err, "validation failed")
	}

	f.config = &config
	zlog.Info().Msgf("min size filter config: %+v", config)
	return nil
}

func (f *MinSizeFilter) Check(path string, info fs.FileInfo) Result {
	// Without config any non-empty file passes.
	min := int64(1)
	if f.config != nil {
		min = f.config.MinBytes
	}
	if info.Size() < min {
		return Reject("below_min_size")
	}
	return Accept()
}

func init() {
	Register("min_size_filter", func() Filter {
		return &MinSizeFilter{}
	})
}
