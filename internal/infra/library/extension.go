package library

import (
	"io/fs"
	"path/filepath"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/mitchellh/mapstructure"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/segue/internal/infra/audio"
)

// ExtensionConfig represents the configuration for ExtensionFilter.
type ExtensionConfig struct {
	Extensions []string `yaml:"extensions" mapstructure:"extensions" validate:"dive,startswith=."`
}

// ExtensionFilter accepts only files with a playable extension.
type ExtensionFilter struct {
	config *ExtensionConfig
}

// NewExtensionFilter creates a new extension filter.
func NewExtensionFilter() *ExtensionFilter {
	return &ExtensionFilter{}
}

func (f *ExtensionFilter) Name() string {
	return "extension_filter"
}

func (f *ExtensionFilter) Description() string {
	return "Accepts only files with a playable audio extension"
}

func (f *ExtensionFilter) ReturnCodes() []string {
	return []string{"extension_rejected"}
}

func (f *ExtensionFilter) ValidateConfig(settings map[string]any) error {
	var config ExtensionConfig

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

	// An empty list means all decoder-supported extensions.
	if len(config.Extensions) == 0 {
		config.Extensions = audio.SupportedExtensions()
	}
	for i, ext := range config.Extensions {
		config.Extensions[i] = strings.ToLower(ext)
	}
	f.config = &config
	zlog.Info().Msgf("extension filter config: %+v", config)
	return nil
}

func (f *ExtensionFilter) Check(path string, info fs.FileInfo) Result {
	exts := audio.SupportedExtensions()
	if f.config != nil {
		exts = f.config.Extensions
	}

	ext := strings.ToLower(filepath.Ext(path))
	for _, allowed := range exts {
		if ext == allowed {
			return Accept()
		}
	}
	return Reject("extension_rejected")
}

func init() {
	Register("extension_filter", func() Filter {
		return &ExtensionFilter{}
	})
}
