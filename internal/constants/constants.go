// Package constants provides named defaults shared by the config layer, the
// CLI and the MCP server.
package constants

// Filesystem layout under the data directory.
const (
	// DirName is the data directory created under the user's home.
	DirName = ".mergeq"

	// ConfigFile is the YAML config file inside DirName.
	ConfigFile = "config.yaml"

	// DBFile is the SQLite results database inside the data directory.
	DBFile = "results.db"

	// AuditFile is the JSONL audit log written by the MCP server.
	AuditFile = "audit.jsonl"
)

// World defaults.
const (
	// DefaultEgoVehicles is the ego coalition size when none is configured.
	DefaultEgoVehicles = 6

	// DefaultOpponentVehicles is the opponent coalition size when none is configured.
	DefaultOpponentVehicles = 6
)

// Run defaults.
const (
	// DefaultEpisodes is the number of episodes `mergeq run` plays.
	DefaultEpisodes = 10

	// DefaultMaxSteps caps the steps of a single episode. A world whose
	// controllers both hold forever would otherwise never terminate.
	DefaultMaxSteps = 200

	// DefaultPolicy is the controller used for either side when unset.
	DefaultPolicy = "random"
)

// Metrics defaults.
const (
	// MetricsNamespace prefixes every exported metric.
	MetricsNamespace = "mergeq"
)
