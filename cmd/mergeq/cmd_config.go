package main

import (
	"encoding/json"
	"fmt"
	"math/rand/v2"
	"os"
	"path/filepath"
	"strconv"

	"github.com/nvandessel/mergeq/internal/config"
	"github.com/nvandessel/mergeq/internal/constants"
	"github.com/nvandessel/mergeq/internal/policy"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage mergeq configuration",
		Long: `View and modify mergeq configuration settings.

Configuration is stored in ~/.mergeq/config.yaml.

Examples:
  mergeq config list                        # Show all settings
  mergeq config get world.ego_vehicles      # Get a specific setting
  mergeq config set run.ego_policy greedy   # Set a setting
  mergeq config set logging.level debug`,
	}

	cmd.AddCommand(
		newConfigListCmd(),
		newConfigGetCmd(),
		newConfigSetCmd(),
	)

	return cmd
}

// configKeys lists every settable key in display order.
var configKeys = []string{
	"world.ego_vehicles",
	"world.opponent_vehicles",
	"world.fairness",
	"world.seed",
	"world.max_states",
	"world.max_reset_attempts",
	"run.episodes",
	"run.max_steps",
	"run.randomize",
	"run.training",
	"run.until",
	"run.ego_policy",
	"run.opponent_policy",
	"store.dir",
	"store.disabled",
	"logging.level",
	"metrics.addr",
}

func newConfigListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List all configuration settings",
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonOut, _ := cmd.Flags().GetBool("json")

			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}

			if jsonOut {
				return json.NewEncoder(cmd.OutOrStdout()).Encode(cfg)
			}

			w := cmd.OutOrStdout()
			fmt.Fprintln(w, "Configuration (~/.mergeq/config.yaml):")
			fmt.Fprintln(w)
			for _, key := range configKeys {
				value, _ := getConfigValue(cfg, key)
				fmt.Fprintf(w, "  %-26s %v\n", key+":", displayValue(value))
			}
			return nil
		},
	}
}

func newConfigGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <key>",
		Short: "Get a configuration value",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonOut, _ := cmd.Flags().GetBool("json")
			key := args[0]

			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}

			value, found := getConfigValue(cfg, key)
			if !found {
				return fmt.Errorf("unknown configuration key: %s", key)
			}

			if jsonOut {
				return json.NewEncoder(cmd.OutOrStdout()).Encode(map[string]interface{}{
					"key":   key,
					"value": value,
				})
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s = %v\n", key, displayValue(value))
			return nil
		},
	}
}

func newConfigSetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set <key> <value>",
		Short: "Set a configuration value",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonOut, _ := cmd.Flags().GetBool("json")
			key, value := args[0], args[1]

			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}

			if err := setConfigValue(cfg, key, value); err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}

			path, err := saveConfig(cfg)
			if err != nil {
				return fmt.Errorf("failed to save config: %w", err)
			}

			if jsonOut {
				return json.NewEncoder(cmd.OutOrStdout()).Encode(map[string]interface{}{
					"status": "updated",
					"key":    key,
					"value":  value,
					"path":   path,
				})
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Set %s = %s\n", key, value)
			return nil
		},
	}
}

// getConfigValue retrieves a configuration value by dot-notation key.
func getConfigValue(cfg *config.MergeConfig, key string) (interface{}, bool) {
	switch key {
	case "world.ego_vehicles":
		return cfg.World.EgoVehicles, true
	case "world.opponent_vehicles":
		return cfg.World.OpponentVehicles, true
	case "world.fairness":
		return cfg.World.Fairness, true
	case "world.seed":
		return cfg.World.Seed, true
	case "world.max_states":
		return cfg.World.MaxStates, true
	case "world.max_reset_attempts":
		return cfg.World.MaxResetAttempts, true
	case "run.episodes":
		return cfg.Run.Episodes, true
	case "run.max_steps":
		return cfg.Run.MaxSteps, true
	case "run.randomize":
		return cfg.Run.Randomize, true
	case "run.training":
		return cfg.Run.Training, true
	case "run.until":
		return string(cfg.Run.Until), true
	case "run.ego_policy":
		return cfg.Run.EgoPolicy, true
	case "run.opponent_policy":
		return cfg.Run.OpponentPolicy, true
	case "store.dir":
		return cfg.Store.Dir, true
	case "store.disabled":
		return cfg.Store.Disabled, true
	case "logging.level":
		return cfg.Logging.Level, true
	case "metrics.addr":
		return cfg.Metrics.Addr, true
	default:
		return nil, false
	}
}

// setConfigValue sets a configuration value by dot-notation key.
func setConfigValue(cfg *config.MergeConfig, key, value string) error {
	var err error
	switch key {
	case "world.ego_vehicles":
		cfg.World.EgoVehicles, err = parseIntValue(key, value)
	case "world.opponent_vehicles":
		cfg.World.OpponentVehicles, err = parseIntValue(key, value)
	case "world.fairness":
		cfg.World.Fairness = parseBoolValue(value)
	case "world.seed":
		cfg.World.Seed, err = strconv.ParseUint(value, 10, 64)
		if err != nil {
			err = fmt.Errorf("invalid seed: %s (must be a non-negative integer)", value)
		}
	case "world.max_states":
		cfg.World.MaxStates, err = parseIntValue(key, value)
	case "world.max_reset_attempts":
		cfg.World.MaxResetAttempts, err = parseIntValue(key, value)
	case "run.episodes":
		cfg.Run.Episodes, err = parseIntValue(key, value)
	case "run.max_steps":
		cfg.Run.MaxSteps, err = parseIntValue(key, value)
	case "run.randomize":
		cfg.Run.Randomize = parseBoolValue(value)
	case "run.training":
		cfg.Run.Training = parseBoolValue(value)
	case "run.until":
		rule := constants.StopRule(value)
		if !rule.Valid() {
			return fmt.Errorf("invalid until: %s (valid: terminal, drain)", value)
		}
		cfg.Run.Until = rule
	case "run.ego_policy":
		err = checkPolicy(value)
		cfg.Run.EgoPolicy = value
	case "run.opponent_policy":
		err = checkPolicy(value)
		cfg.Run.OpponentPolicy = value
	case "store.dir":
		cfg.Store.Dir = value
	case "store.disabled":
		cfg.Store.Disabled = parseBoolValue(value)
	case "logging.level":
		cfg.Logging.Level = value
	case "metrics.addr":
		cfg.Metrics.Addr = value
	default:
		return fmt.Errorf("unknown configuration key: %s", key)
	}
	return err
}

func parseIntValue(key, value string) (int, error) {
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %s (must be an integer)", key, value)
	}
	return n, nil
}

func parseBoolValue(value string) bool {
	return value == "true" || value == "1"
}

// checkPolicy parses a policy name with a throwaway source.
func checkPolicy(value string) error {
	_, err := policy.Parse(value, rand.New(rand.NewPCG(0, 0)))
	return err
}

// saveConfig writes the configuration to ~/.mergeq/config.yaml.
func saveConfig(cfg *config.MergeConfig) (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}

	dir := filepath.Join(homeDir, constants.DirName)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return "", fmt.Errorf("failed to create %s: %w", dir, err)
	}

	configPath := filepath.Join(dir, constants.ConfigFile)
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return "", fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(configPath, data, 0600); err != nil {
		return "", fmt.Errorf("failed to write config file: %w", err)
	}

	return configPath, nil
}

// displayValue shows empty strings as "(default)".
func displayValue(v interface{}) interface{} {
	if s, ok := v.(string); ok && s == "" {
		return "(default)"
	}
	return v
}
