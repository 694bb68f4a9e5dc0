package audio

// Config holds audio backend configuration.
type Config struct {
	SampleRate    int `mapstructure:"sample_rate" validate:"gt=0"`
	BufferMS      int `mapstructure:"buffer_ms" validate:"gt=0"`
	NearEndLeadMS int `mapstructure:"near_end_lead_ms" validate:"gt=0"`
}

// DefaultConfig returns the configuration used when none is supplied.
func DefaultConfig() Config {
	return Config{
		SampleRate:    44100,
		BufferMS:      100,
		NearEndLeadMS: 3000,
	}
}

func (c *Config) applyDefaults() {
	d := DefaultConfig()
	if c.SampleRate <= 0 {
		c.SampleRate = d.SampleRate
	}
	if c.BufferMS <= 0 {
		c.BufferMS = d.BufferMS
	}
	if c.NearEndLeadMS <= 0 {
		c.NearEndLeadMS = d.NearEndLeadMS
	}
}
