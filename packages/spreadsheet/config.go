package spreadsheet

import (
	"fmt"
	"os"

	"github.com/tliron/commonlog"
	"golang.org/x/text/language"
	"gopkg.in/yaml.v3"
)

// DefaultMaxIteration bounds the evaluator's fixed-point loop
const DefaultMaxIteration = 30

// Config holds the tunables of a Spreadsheet. it can be loaded from YAML:
//
//	max_iteration: 30
//	default_rows: 1000
//	default_cols: 26
//	locale: en-US
//	log_verbosity: 1
//	log_file: /tmp/spreadsheet.log
//	debug: false
type Config struct {
	MaxIteration int    `yaml:"max_iteration"`
	DefaultRows  uint32 `yaml:"default_rows"`
	DefaultCols  uint32 `yaml:"default_cols"`
	Locale       string `yaml:"locale"`
	LogVerbosity int    `yaml:"log_verbosity"`
	LogFile      string `yaml:"log_file"`
	Debug        bool   `yaml:"debug"`
}

// DefaultConfig returns the configuration used when none is given
func DefaultConfig() Config {
	return Config{
		MaxIteration: DefaultMaxIteration,
		DefaultRows:  1000,
		DefaultCols:  26,
		Locale:       "en-US",
	}
}

// ParseConfig reads YAML on top of the defaults and validates the result
func ParseConfig(data []byte) (Config, error) {
	config := DefaultConfig()
	if err := yaml.Unmarshal(data, &config); err != nil {
		return Config{}, NewApplicationError(InvalidArgument, fmt.Sprintf("invalid config: %s", err))
	}
	if err := config.Validate(); err != nil {
		return Config{}, err
	}
	return config, nil
}

// LoadConfig reads and parses a YAML config file
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("reading config %s: %w", path, err)
	}
	return ParseConfig(data)
}

// Validate checks that every field is usable
func (c Config) Validate() error {
	if c.MaxIteration < 1 {
		return NewApplicationError(InvalidArgument, fmt.Sprintf("max_iteration must be positive, got %d", c.MaxIteration))
	}
	if c.DefaultRows == 0 || c.DefaultRows > MaxRows {
		return NewApplicationError(InvalidArgument, fmt.Sprintf("default_rows must be in 1..%d, got %d", MaxRows, c.DefaultRows))
	}
	if c.DefaultCols == 0 || c.DefaultCols > MaxCols {
		return NewApplicationError(InvalidArgument, fmt.Sprintf("default_cols must be in 1..%d, got %d", MaxCols, c.DefaultCols))
	}
	if c.LogVerbosity < 0 {
		return NewApplicationError(InvalidArgument, fmt.Sprintf("log_verbosity cannot be negative, got %d", c.LogVerbosity))
	}
	if _, err := language.Parse(c.Locale); c.Locale != "" && err != nil {
		return NewApplicationError(InvalidArgument, fmt.Sprintf("invalid locale %q: %s", c.Locale, err))
	}
	return nil
}

// LocaleTag returns the configured locale, language.Und when unset
func (c Config) LocaleTag() language.Tag {
	tag, err := language.Parse(c.Locale)
	if err != nil {
		return language.Und
	}
	return tag
}

// ConfigureLogging sets the commonlog verbosity and destination. an empty
// log file logs to stderr.
func (c Config) ConfigureLogging() {
	var path *string
	if c.LogFile != "" {
		path = &c.LogFile
	}
	commonlog.Configure(c.LogVerbosity, path)
}
