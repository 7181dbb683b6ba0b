package locator

import (
	"errors"
	"fmt"
	"os"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// ErrInvalidConfig is returned for configuration values outside their valid range
var ErrInvalidConfig = errors.New("invalid configuration")

// DefaultEngineConfig returns the default positioning constants.
// The calibration values are starting points and should be tuned per building.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		PathLossExponent:   2.0,
		ReferenceRSSIAt1m:  -59,
		SmoothingAlpha:     0.4,
		MaxSpeedMps:        3.0,
		StaleObservationMs: 10000,
		LostTrackTimeoutMs: 15000,
		MinBeaconsForSolve: 3,
		MinRSSI:            -100,
		MaxRSSI:            0,
		MinDistance:        0.1,
		MaxDistance:        30.0,
		WeightFloor:        0.05,
		MaxIterations:      20,
		ConvergenceEpsilon: 0.01,
		HistorySize:        5,
	}
}

// WithDefaults returns a copy of cfg with every zero field replaced by its default
func (cfg EngineConfig) WithDefaults() EngineConfig {
	def := DefaultEngineConfig()
	if cfg.PathLossExponent == 0 {
		cfg.PathLossExponent = def.PathLossExponent
	}
	if cfg.ReferenceRSSIAt1m == 0 {
		cfg.ReferenceRSSIAt1m = def.ReferenceRSSIAt1m
	}
	if cfg.SmoothingAlpha == 0 {
		cfg.SmoothingAlpha = def.SmoothingAlpha
	}
	if cfg.MaxSpeedMps == 0 {
		cfg.MaxSpeedMps = def.MaxSpeedMps
	}
	if cfg.StaleObservationMs == 0 {
		cfg.StaleObservationMs = def.StaleObservationMs
	}
	if cfg.LostTrackTimeoutMs == 0 {
		cfg.LostTrackTimeoutMs = def.LostTrackTimeoutMs
	}
	if cfg.MinBeaconsForSolve == 0 {
		cfg.MinBeaconsForSolve = def.MinBeaconsForSolve
	}
	if cfg.MinRSSI == 0 {
		cfg.MinRSSI = def.MinRSSI
	}
	if cfg.MinDistance == 0 {
		cfg.MinDistance = def.MinDistance
	}
	if cfg.MaxDistance == 0 {
		cfg.MaxDistance = def.MaxDistance
	}
	if cfg.WeightFloor == 0 {
		cfg.WeightFloor = def.WeightFloor
	}
	if cfg.MaxIterations == 0 {
		cfg.MaxIterations = def.MaxIterations
	}
	if cfg.ConvergenceEpsilon == 0 {
		cfg.ConvergenceEpsilon = def.ConvergenceEpsilon
	}
	if cfg.HistorySize == 0 {
		cfg.HistorySize = def.HistorySize
	}
	return cfg
}

var validate = validator.New()

// Validate checks the engine constants against their allowed ranges
func (cfg EngineConfig) Validate() error {
	if err := validate.Struct(cfg); err != nil {
		return fmt.Errorf("%w: engine: %v", ErrInvalidConfig, err)
	}
	return nil
}

// LoadConfig loads the configuration from a YAML file, applies defaults and validates it
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config file not found: %s", path)
		}
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	return ParseConfig(data)
}

// ParseConfig decodes and validates YAML configuration bytes
func ParseConfig(data []byte) (*Config, error) {
	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("parsing config YAML: %w", err)
	}

	config.Engine = config.Engine.WithDefaults()
	if config.FloorPlan.GridSpacing == 0 {
		config.FloorPlan.GridSpacing = 1.0
	}
	if config.FloorPlan.Padding == 0 {
		config.FloorPlan.Padding = 1.0
	}

	if err := config.Engine.Validate(); err != nil {
		return nil, err
	}
	if err := validate.Struct(config); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	// Validate required fields
	if len(config.Beacons) == 0 && config.RegistryURL == "" {
		return nil, fmt.Errorf("%w: at least one beacon or a registryUrl must be defined", ErrInvalidConfig)
	}
	if len(config.Collars) == 0 {
		return nil, fmt.Errorf("%w: at least one collar must be defined", ErrInvalidConfig)
	}

	seen := make(map[string]bool, len(config.Collars))
	for i, cc := range config.Collars {
		if seen[cc.ID] {
			return nil, fmt.Errorf("%w: collar[%d] duplicate id %s", ErrInvalidConfig, i, cc.ID)
		}
		seen[cc.ID] = true
	}

	fp := config.FloorPlan
	if fp.HasBounds() && (fp.MaxX <= fp.MinX || fp.MaxY <= fp.MinY) {
		return nil, fmt.Errorf("%w: floorPlan bounds must have maxX > minX and maxY > minY", ErrInvalidConfig)
	}

	return &config, nil
}

// SaveConfig saves the configuration to a YAML file
func SaveConfig(path string, config *Config) error {
	data, err := yaml.Marshal(config)
	if err != nil {
		return fmt.Errorf("marshaling config YAML: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	return nil
}
