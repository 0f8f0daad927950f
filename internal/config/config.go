// Package config provides unified configuration loading for mergeq.
// It supports loading from YAML files and environment variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/nvandessel/mergeq/internal/constants"
	"github.com/nvandessel/mergeq/internal/merge"
	"gopkg.in/yaml.v3"
)

// MergeConfig contains all mergeq configuration settings.
type MergeConfig struct {
	// World controls how merge worlds are built.
	World WorldConfig `json:"world" yaml:"world"`

	// Run controls the episode runner.
	Run RunConfig `json:"run" yaml:"run"`

	// Store controls where results are persisted.
	Store StoreConfig `json:"store" yaml:"store"`

	// Logging contains settings for operational and step logging.
	Logging LoggingConfig `json:"logging" yaml:"logging"`

	// Metrics controls the Prometheus endpoint.
	Metrics MetricsConfig `json:"metrics" yaml:"metrics"`
}

// WorldConfig describes the coalitions and the world's bounds.
type WorldConfig struct {
	// EgoVehicles is the size of coalition 1.
	EgoVehicles int `json:"ego_vehicles" yaml:"ego_vehicles"`

	// OpponentVehicles is the size of coalition 2.
	OpponentVehicles int `json:"opponent_vehicles" yaml:"opponent_vehicles"`

	// Fairness enables the fairness penalty on every step reward.
	Fairness bool `json:"fairness" yaml:"fairness"`

	// Seed makes runs reproducible. Zero picks a random seed.
	Seed uint64 `json:"seed" yaml:"seed"`

	// MaxStates bounds the observation space size.
	MaxStates int `json:"max_states" yaml:"max_states"`

	// MaxResetAttempts bounds rejection sampling on training resets.
	MaxResetAttempts int `json:"max_reset_attempts" yaml:"max_reset_attempts"`
}

// RunConfig configures `mergeq run`.
type RunConfig struct {
	Episodes int `json:"episodes" yaml:"episodes"`

	// MaxSteps caps each episode. Zero means no cap.
	MaxSteps int `json:"max_steps" yaml:"max_steps"`

	// Randomize reshuffles the lanes between episodes.
	Randomize bool `json:"randomize" yaml:"randomize"`

	// Training samples fresh lane contents on randomized resets.
	Training bool `json:"training" yaml:"training"`

	// Until is "terminal" (default) or "drain".
	Until constants.StopRule `json:"until" yaml:"until"`

	// EgoPolicy and OpponentPolicy name the controllers, see policy.Parse.
	EgoPolicy      string `json:"ego_policy" yaml:"ego_policy"`
	OpponentPolicy string `json:"opponent_policy" yaml:"opponent_policy"`
}

// StoreConfig configures the results database.
type StoreConfig struct {
	// Dir holds results.db. Empty means ~/.mergeq.
	Dir string `json:"dir" yaml:"dir"`

	// Disabled skips persistence entirely.
	Disabled bool `json:"disabled" yaml:"disabled"`
}

// LoggingConfig configures mergeq's logging behavior.
type LoggingConfig struct {
	// Level sets the log verbosity: "info" (default), "debug", or "trace".
	// "debug" enables step logging to <store dir>/steps.jsonl.
	// "trace" additionally renders the lanes after every step.
	Level string `json:"level" yaml:"level"`
}

// MetricsConfig configures the Prometheus listener.
type MetricsConfig struct {
	// Addr is the listen address for /metrics during `mergeq run`, e.g.
	// ":9464". Empty disables the listener.
	Addr string `json:"addr" yaml:"addr"`
}

// Default returns a MergeConfig with sensible defaults.
func Default() *MergeConfig {
	return &MergeConfig{
		World: WorldConfig{
			EgoVehicles:      constants.DefaultEgoVehicles,
			OpponentVehicles: constants.DefaultOpponentVehicles,
			MaxStates:        merge.DefaultMaxStates,
			MaxResetAttempts: merge.DefaultMaxResetAttempts,
		},
		Run: RunConfig{
			Episodes:       constants.DefaultEpisodes,
			MaxSteps:       constants.DefaultMaxSteps,
			Until:          constants.StopTerminal,
			EgoPolicy:      constants.DefaultPolicy,
			OpponentPolicy: constants.DefaultPolicy,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load loads configuration from the default locations and environment variables.
// Order: defaults -> ~/.mergeq/config.yaml -> environment variables
func Load() (*MergeConfig, error) {
	config := Default()

	homeDir, err := os.UserHomeDir()
	if err == nil {
		configPath := filepath.Join(homeDir, constants.DirName, constants.ConfigFile)
		if _, statErr := os.Stat(configPath); statErr == nil {
			fileConfig, loadErr := LoadFromFile(configPath)
			if loadErr != nil {
				return nil, fmt.Errorf("loading config file: %w", loadErr)
			}
			config = fileConfig
		}
	}

	applyEnvOverrides(config)

	return config, nil
}

// LoadFromFile loads configuration from a specific YAML file. Fields the file
// omits keep their defaults.
func LoadFromFile(path string) (*MergeConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	config := Default()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	config.Store.Dir = expandEnvVars(config.Store.Dir)

	return config, nil
}

// Validate checks that the configuration is valid.
func (c *MergeConfig) Validate() error {
	if c.World.EgoVehicles < 1 || c.World.OpponentVehicles < 1 {
		return fmt.Errorf("coalition sizes must be at least 1, got ego=%d opponent=%d",
			c.World.EgoVehicles, c.World.OpponentVehicles)
	}
	if c.World.MaxStates < 0 {
		return fmt.Errorf("max_states must be non-negative, got %d", c.World.MaxStates)
	}
	if c.World.MaxResetAttempts < 0 {
		return fmt.Errorf("max_reset_attempts must be non-negative, got %d", c.World.MaxResetAttempts)
	}

	if c.Run.Episodes < 1 {
		return fmt.Errorf("episodes must be at least 1, got %d", c.Run.Episodes)
	}
	if c.Run.MaxSteps < 0 {
		return fmt.Errorf("max_steps must be non-negative, got %d", c.Run.MaxSteps)
	}
	if c.Run.Until != "" && !c.Run.Until.Valid() {
		return fmt.Errorf("invalid until: %s (valid: terminal, drain)", c.Run.Until)
	}
	if c.Run.Training && !c.Run.Randomize {
		return fmt.Errorf("training resets require randomize")
	}

	validLevels := map[string]bool{"info": true, "debug": true, "trace": true}
	if c.Logging.Level != "" && !validLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level: %s (valid: info, debug, trace, or empty for default)", c.Logging.Level)
	}

	return nil
}

// StoreDir resolves the results directory, falling back to ~/.mergeq.
func (c *MergeConfig) StoreDir() (string, error) {
	if c.Store.Dir != "" {
		return c.Store.Dir, nil
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolving home directory: %w", err)
	}
	return filepath.Join(homeDir, constants.DirName), nil
}

// WorldOptions converts the world section into merge.Config.
func (c *MergeConfig) WorldOptions() merge.Config {
	cfg := merge.DefaultConfig()
	cfg.Fairness = c.World.Fairness
	cfg.Seed = c.World.Seed
	if c.World.MaxStates > 0 {
		cfg.MaxStates = c.World.MaxStates
	}
	if c.World.MaxResetAttempts > 0 {
		cfg.MaxResetAttempts = c.World.MaxResetAttempts
	}
	return cfg
}

// applyEnvOverrides applies environment variable overrides to the config.
func applyEnvOverrides(config *MergeConfig) {
	if n, ok := envInt("MERGEQ_EGO_VEHICLES"); ok {
		config.World.EgoVehicles = n
	}
	if n, ok := envInt("MERGEQ_OPPONENT_VEHICLES"); ok {
		config.World.OpponentVehicles = n
	}
	if v := os.Getenv("MERGEQ_FAIRNESS"); v != "" {
		config.World.Fairness = v == "true" || v == "1"
	}
	if v := os.Getenv("MERGEQ_SEED"); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			config.World.Seed = n
		}
	}

	if n, ok := envInt("MERGEQ_EPISODES"); ok {
		config.Run.Episodes = n
	}
	if n, ok := envInt("MERGEQ_MAX_STEPS"); ok {
		config.Run.MaxSteps = n
	}
	if v := os.Getenv("MERGEQ_UNTIL"); v != "" {
		config.Run.Until = constants.StopRule(v)
	}
	if v := os.Getenv("MERGEQ_EGO_POLICY"); v != "" {
		config.Run.EgoPolicy = v
	}
	if v := os.Getenv("MERGEQ_OPPONENT_POLICY"); v != "" {
		config.Run.OpponentPolicy = v
	}

	if v := os.Getenv("MERGEQ_STORE_DIR"); v != "" {
		config.Store.Dir = v
	}
	if v := os.Getenv("MERGEQ_LOG_LEVEL"); v != "" {
		config.Logging.Level = v
	}
	if v := os.Getenv("MERGEQ_METRICS_ADDR"); v != "" {
		config.Metrics.Addr = v
	}
}

func envInt(key string) (int, bool) {
	v := os.Getenv(key)
	if v == "" {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return n, true
}

// expandEnvVars expands ${VAR} patterns in a string with environment variable values.
func expandEnvVars(s string) string {
	if !strings.Contains(s, "${") {
		return s
	}
	return os.Expand(s, os.Getenv)
}
