// Package config loads the workstation configuration from file,
// environment, and defaults using viper.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/marmos91/triage/internal/bytesize"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Config represents the triage workstation configuration.
//
// This structure captures the static configuration of the analysis
// workstation:
//   - Logging configuration
//   - Quarantine store location
//   - Static analyzer limits
//   - Sandbox (container host) settings
//   - Packet capture settings
//   - Pattern scanner ruleset location
//   - Job store persistence and status API
//
// Configuration sources (in order of precedence):
//  1. Environment variables (TRIAGE_*) (highest priority)
//  2. Configuration file (YAML)
//  3. Default values (lowest priority)
//
// No CLI flags are bound into the configuration.
type Config struct {
	// Logging controls log output behavior
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`

	// Quarantine configures the content-addressed sample store
	Quarantine QuarantineConfig `mapstructure:"quarantine" yaml:"quarantine"`

	// Analyzer configures the static-analysis pipeline limits
	Analyzer AnalyzerConfig `mapstructure:"analyzer" yaml:"analyzer"`

	// Sandbox configures the isolated dynamic-execution orchestrator
	Sandbox SandboxConfig `mapstructure:"sandbox" yaml:"sandbox"`

	// Capture configures live packet-capture sessions
	Capture CaptureConfig `mapstructure:"capture" yaml:"capture"`

	// Scanner configures the compiled-pattern scanner
	Scanner ScannerConfig `mapstructure:"scanner" yaml:"scanner"`

	// Jobs configures the persisted job store and status API
	Jobs JobsConfig `mapstructure:"jobs" yaml:"jobs"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	// Level is the minimum log level to output
	// Valid values: DEBUG, INFO, WARN, ERROR (case-insensitive)
	Level string `mapstructure:"level" yaml:"level"`

	// Format specifies the log output format
	// Valid values: text, json
	Format string `mapstructure:"format" yaml:"format"`

	// Output specifies where logs are written
	// Valid values: stdout, stderr, or a file path
	Output string `mapstructure:"output" yaml:"output"`
}

// QuarantineConfig configures the sample quarantine store.
type QuarantineConfig struct {
	// BaseDir is the directory containing samples/, staging/ and the
	// metadata index. Created owner-only on first use.
	BaseDir string `mapstructure:"base_dir" yaml:"base_dir"`
}

// AnalyzerConfig configures static-analysis limits.
type AnalyzerConfig struct {
	// MaxFileSize is the hard cap for the static analyzer.
	// Supports human-readable formats: "100Mi", "50MB".
	// Default: 100Mi
	MaxFileSize bytesize.ByteSize `mapstructure:"max_file_size" yaml:"max_file_size,omitempty"`

	// EmulatorInstructionBudget bounds a single emulation session.
	// Default: 100000
	EmulatorInstructionBudget int `mapstructure:"emulator_instruction_budget" yaml:"emulator_instruction_budget"`

	// EmulatorMemoryLimit bounds the emulator's sparse memory map.
	// Default: 10Mi
	EmulatorMemoryLimit bytesize.ByteSize `mapstructure:"emulator_memory_limit" yaml:"emulator_memory_limit,omitempty"`
}

// SandboxConfig configures the container-based dynamic execution
// orchestrator.
type SandboxConfig struct {
	// Host is the container host endpoint. Empty uses the environment
	// default (DOCKER_HOST or the local socket).
	Host string `mapstructure:"host" yaml:"host,omitempty"`

	// Image is the reference image samples are executed in.
	// Default: "triage/sandbox-linux:latest"
	Image string `mapstructure:"image" yaml:"image"`

	// Timeout is the monitored execution window inside the container.
	// The exec deadline adds a fixed 30s grace on top of this.
	// Default: 60s
	Timeout time.Duration `mapstructure:"timeout" yaml:"timeout"`

	// MemoryLimit is applied as both the memory and memory+swap limit of
	// the container (so no swap is available).
	// Default: 512Mi
	MemoryLimit bytesize.ByteSize `mapstructure:"memory_limit" yaml:"memory_limit,omitempty"`

	// PidsLimit caps the number of processes inside the container.
	// Default: 256
	PidsLimit int64 `mapstructure:"pids_limit" yaml:"pids_limit"`
}

// CaptureConfig configures live packet capture.
type CaptureConfig struct {
	// PreferredInterfaces are tried in order before falling back to any
	// up, non-loopback interface.
	PreferredInterfaces []string `mapstructure:"preferred_interfaces" yaml:"preferred_interfaces,omitempty"`

	// MaxPacketsPerFile caps PCAP file parsing.
	// Default: 1000
	MaxPacketsPerFile int `mapstructure:"max_packets_per_file" yaml:"max_packets_per_file"`
}

// ScannerConfig configures the pattern scanner.
type ScannerConfig struct {
	// RulesPath points at a YAML ruleset. Empty uses the embedded
	// default rules.
	RulesPath string `mapstructure:"rules_path" yaml:"rules_path,omitempty"`
}

// JobsConfig configures job persistence and the status API.
type JobsConfig struct {
	// StorePath is the directory for the BadgerDB-backed job store.
	// Empty selects the in-memory store (jobs do not survive restarts).
	StorePath string `mapstructure:"store_path" yaml:"store_path,omitempty"`

	// APIPort is the HTTP port for the job-status endpoint.
	// Default: 8490
	APIPort int `mapstructure:"api_port" yaml:"api_port"`
}

// Load loads configuration from file, environment, and defaults.
//
// Configuration precedence (highest to lowest):
//  1. Environment variables (TRIAGE_*)
//  2. Configuration file
//  3. Default values
//
// Environment variables override only keys that the configuration file
// sets. When no configuration file is found, Load returns the defaults
// unchanged; the environment is not consulted in that case.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setupViper(v, configPath)

	configFileFound, err := readConfigFile(v)
	if err != nil {
		return nil, err
	}
	if !configFileFound {
		cfg := GetDefaultConfig()
		return cfg, nil
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(configDecodeHooks())); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	ApplyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

// SaveConfig saves the configuration to the specified file path in YAML
// format.
func SaveConfig(cfg *Config, path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	// 0600: the config may name quarantine locations and container hosts.
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// setupViper configures viper with environment variables and config file
// settings.
func setupViper(v *viper.Viper, configPath string) {
	// Environment variables use the TRIAGE_ prefix and underscores.
	// Example: TRIAGE_LOGGING_LEVEL=DEBUG
	v.SetEnvPrefix("TRIAGE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.AddConfigPath(getConfigDir())
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}
}

// readConfigFile reads the configuration file if it exists.
// Returns (fileFound, error).
func readConfigFile(v *viper.Viper) (bool, error) {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return false, nil
		}
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to read config file: %w", err)
	}
	return true, nil
}

// configDecodeHooks returns a combined decode hook for all custom types.
func configDecodeHooks() mapstructure.DecodeHookFunc {
	return mapstructure.ComposeDecodeHookFunc(
		byteSizeDecodeHook(),
		durationDecodeHook(),
	)
}

// byteSizeDecodeHook converts strings and integers to bytesize.ByteSize,
// enabling human-readable sizes like "1Gi", "500Mi", "100MB".
func byteSizeDecodeHook() mapstructure.DecodeHookFunc {
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != reflect.TypeOf(bytesize.ByteSize(0)) {
			return data, nil
		}

		switch v := data.(type) {
		case string:
			return bytesize.ParseByteSize(v)
		case int:
			return bytesize.ByteSize(v), nil
		case int64:
			return bytesize.ByteSize(v), nil
		case uint64:
			return bytesize.ByteSize(v), nil
		case float64:
			// YAML often deserializes numbers as float64
			return bytesize.ByteSize(v), nil
		default:
			return data, nil
		}
	}
}

// durationDecodeHook converts strings to time.Duration, enabling
// human-readable durations like "30s", "5m", "1h".
func durationDecodeHook() mapstructure.DecodeHookFunc {
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != reflect.TypeOf(time.Duration(0)) {
			return data, nil
		}

		switch v := data.(type) {
		case string:
			return time.ParseDuration(v)
		case int:
			return time.Duration(v), nil
		case int64:
			return time.Duration(v), nil
		case float64:
			return time.Duration(v), nil
		default:
			return data, nil
		}
	}
}

// getConfigDir returns the configuration directory path.
//
// Uses XDG_CONFIG_HOME if set, otherwise ~/.config, or falls back to the
// current directory if the home directory cannot be determined.
func getConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "triage")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}

	return filepath.Join(home, ".config", "triage")
}

// GetDefaultConfigPath returns the default configuration file path.
func GetDefaultConfigPath() string {
	return filepath.Join(getConfigDir(), "config.yaml")
}

// DefaultConfigExists checks if a config file exists at the default
// location.
func DefaultConfigExists() bool {
	_, err := os.Stat(GetDefaultConfigPath())
	return err == nil
}
