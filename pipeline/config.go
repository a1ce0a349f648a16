package pipeline

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"

	"github.com/Peruz/flintec-lpp/mask"
	"github.com/Peruz/flintec-lpp/timeseries"
)

// ErrInvalidConfig marks a configuration that cannot drive a run.
var ErrInvalidConfig = errors.New("invalid configuration")

// Config holds the flat set of processing parameters.
type Config struct {
	WindowCenterWeight  float64 `yaml:"window_center_weight"`
	WindowSideWeight    float64 `yaml:"window_side_weight"`
	WindowSide          int     `yaml:"window_side"`            // data points on each side of the window
	MaxMissingCount     int     `yaml:"max_missing_count"`      // maximum missing values under the window
	MaxMissingWeightPct float64 `yaml:"max_missing_weight_pct"` // maximum missing weight, percent of the window total

	MinValue       float64 `yaml:"min_value"`
	MaxValue       float64 `yaml:"max_value"`
	ErrorCodeFloor float64 `yaml:"error_code_floor"`

	BadTimestampsFile string `yaml:"bad_timestamps_file"`
	BadIntervalStart  string `yaml:"bad_interval_start"` // HH:MM, daily
	BadIntervalStop   string `yaml:"bad_interval_stop"`  // HH:MM, daily

	TimeFormat string `yaml:"time_format"` // naive or rfc3339
	Location   string `yaml:"location"`    // IANA zone for naive timestamps, default Local
}

// DefaultConfig returns the parameters used by the load-cell deployment.
func DefaultConfig() Config {
	return Config{
		WindowCenterWeight:  2,
		WindowSideWeight:    1,
		WindowSide:          180,
		MaxMissingCount:     10000,
		MaxMissingWeightPct: 80,
		MinValue:            13000,
		MaxValue:            15000,
		ErrorCodeFloor:      999994,
		TimeFormat:          "naive",
	}
}

// LoadConfig reads a YAML file over the defaults. Unknown keys are rejected.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	buf, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("open config file: %w", err)
	}
	if err := yaml.UnmarshalStrict(buf, &cfg); err != nil {
		return cfg, fmt.Errorf("%w: unmarshal yaml: %v", ErrInvalidConfig, err)
	}
	return cfg, nil
}

// Validate checks ranges and the optional daily interval.
func (c Config) Validate() error {
	switch {
	case c.WindowSide < 0:
		return fmt.Errorf("%w: window_side %d is negative", ErrInvalidConfig, c.WindowSide)
	case c.WindowCenterWeight < 0 || c.WindowSideWeight < 0:
		return fmt.Errorf("%w: window weights must not be negative", ErrInvalidConfig)
	case c.MaxMissingCount < 0:
		return fmt.Errorf("%w: max_missing_count %d is negative", ErrInvalidConfig, c.MaxMissingCount)
	case c.MaxMissingWeightPct < 0 || c.MaxMissingWeightPct > 100:
		return fmt.Errorf("%w: max_missing_weight_pct %g outside [0, 100]", ErrInvalidConfig, c.MaxMissingWeightPct)
	case c.MinValue > c.MaxValue:
		return fmt.Errorf("%w: min_value %g above max_value %g", ErrInvalidConfig, c.MinValue, c.MaxValue)
	case (c.BadIntervalStart == "") != (c.BadIntervalStop == ""):
		return fmt.Errorf("%w: bad interval needs both start and stop", ErrInvalidConfig)
	}
	if _, err := c.Interval(); err != nil {
		return err
	}
	if _, err := c.Codec(); err != nil {
		return err
	}
	return nil
}

// Interval returns the daily bad interval, or nil when none is configured.
func (c Config) Interval() (*mask.DailyInterval, error) {
	if c.BadIntervalStart == "" && c.BadIntervalStop == "" {
		return nil, nil
	}
	start, err := mask.ParseTimeOfDay(c.BadIntervalStart)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	stop, err := mask.ParseTimeOfDay(c.BadIntervalStop)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return &mask.DailyInterval{Start: start, Stop: stop}, nil
}

// Codec resolves the timestamp codec for the run.
func (c Config) Codec() (timeseries.Codec, error) {
	loc := time.Local
	if c.Location != "" {
		var err error
		loc, err = time.LoadLocation(c.Location)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
		}
	}
	codec, err := timeseries.CodecByName(c.TimeFormat, loc)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return codec, nil
}
