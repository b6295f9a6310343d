// Package config loads and validates the engine's YAML configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Grouping modes recognized by §4.2.
const (
	GroupingAccessionNumber = "accession_number"
	GroupingStudyUID        = "studyUID"
	GroupingAll             = "all"
	GroupingCustom          = "custom"
)

// Converter selections recognized by §6.
const (
	ConverterDCM2NIIX = "dcm2niix"
	ConverterNone     = "none"
)

var validGroupingModes = map[string]bool{
	GroupingAccessionNumber: true,
	GroupingStudyUID:        true,
	GroupingAll:             true,
	GroupingCustom:          true,
}

var validConverters = map[string]bool{
	ConverterDCM2NIIX: true,
	ConverterNone:     true,
}

// Criterion values for fieldmap candidate reduction (spec.md §4.6).
const (
	CriterionFirst   = "First"
	CriterionClosest = "Closest"
)

// envFileLockTimeout is the environment variable spec.md §6 names for
// overriding the lock timeout.
const envFileLockTimeout = "HEUDICONV_FILELOCK_TIMEOUT"

// Config is the engine's effective configuration (spec.md §6).
type Config struct {
	Heuristic  string `yaml:"heuristic"`
	OutputRoot string `yaml:"output_root"`

	Grouping    string `yaml:"grouping" validate:"oneof=accession_number studyUID all custom"`
	GroupingTag string `yaml:"grouping_tag"`
	Converter   string `yaml:"converter" validate:"oneof=dcm2niix none"`

	BIDS       bool  `yaml:"bids"`
	BIDSNoTop  bool  `yaml:"bids_notop"`
	MinMeta    bool  `yaml:"minmeta"`
	Overwrite  bool  `yaml:"overwrite"`
	RandomSeed int64 `yaml:"random_seed"`

	Queue     string `yaml:"queue"`
	QueueArgs string `yaml:"queue_args"`

	Logging     LoggingConfig     `yaml:"logging"`
	Lock        LockConfig        `yaml:"lock"`
	IntendedFor IntendedForConfig `yaml:"intended_for"`
}

// LoggingConfig holds the logrus output settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	File   string `yaml:"file"`
	Format string `yaml:"format"`
}

// LockConfig configures the top-level file advisory lock (spec.md §4.7).
type LockConfig struct {
	TimeoutSeconds int `yaml:"timeout_seconds" validate:"gte=0"`
	MaxRetries     int `yaml:"max_retries" validate:"gte=0"`
}

// IntendedForConfig mirrors POPULATE_INTENDED_FOR_OPTS (spec.md §4.3/§4.6).
type IntendedForConfig struct {
	Enabled            bool     `yaml:"enabled"`
	MatchingParameters []string `yaml:"matching_parameters"`
	Criterion          string   `yaml:"criterion" validate:"omitempty,oneof=First Closest"`
}

// LockTimeout resolves the effective lock timeout: the environment variable
// HEUDICONV_FILELOCK_TIMEOUT overrides the configured value when present.
func (c *Config) LockTimeout() time.Duration {
	if v := os.Getenv(envFileLockTimeout); v != "" {
		var secs int
		if _, err := fmt.Sscanf(v, "%d", &secs); err == nil && secs > 0 {
			return time.Duration(secs) * time.Second
		}
	}
	return time.Duration(c.Lock.TimeoutSeconds) * time.Second
}

// DefaultConfig returns the engine's baked-in defaults, used when no config
// file is present (teacher's own fallback in main.go's Before hook).
func DefaultConfig() *Config {
	return &Config{
		Grouping:  GroupingAccessionNumber,
		Converter: ConverterDCM2NIIX,
		BIDS:      true,
		Logging: LoggingConfig{
			Level:  "INFO",
			Format: "text",
		},
		Lock: LockConfig{
			TimeoutSeconds: 300,
			MaxRetries:     5,
		},
		IntendedFor: IntendedForConfig{
			Criterion: CriterionFirst,
		},
	}
}

var validate = validator.New()

// LoadConfig loads configuration from file, applies defaults for anything
// left unset, and validates the result.
func LoadConfig(configPath string) (*Config, error) {
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("config file not found: %s", configPath)
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := cfg.validateAndSetDefaults(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// SaveConfig saves configuration to file.
func SaveConfig(cfg *Config, configPath string) error {
	if err := os.MkdirAll(filepath.Dir(configPath), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// validateAndSetDefaults fills in any zero-valued field with a default and
// then checks cross-field invariants struct tags can't express.
func (c *Config) validateAndSetDefaults() error {
	if c.Grouping == "" {
		c.Grouping = GroupingAccessionNumber
	}
	if !validGroupingModes[c.Grouping] {
		return fmt.Errorf("unknown grouping mode: %s", c.Grouping)
	}

	if c.Converter == "" {
		c.Converter = ConverterDCM2NIIX
	}
	if !validConverters[c.Converter] {
		return fmt.Errorf("unknown converter: %s", c.Converter)
	}

	if c.Lock.TimeoutSeconds == 0 {
		c.Lock.TimeoutSeconds = 300
	}
	if c.Lock.MaxRetries == 0 {
		c.Lock.MaxRetries = 5
	}

	if c.IntendedFor.Criterion == "" {
		c.IntendedFor.Criterion = CriterionFirst
	}

	if c.Grouping == GroupingCustom && c.GroupingTag == "" {
		return fmt.Errorf("grouping=custom requires grouping_tag to name the heuristic's grouping attribute/callable")
	}

	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	return nil
}
