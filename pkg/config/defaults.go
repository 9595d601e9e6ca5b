package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/marmos91/triage/internal/bytesize"
)

// ApplyDefaults sets default values for any unspecified configuration
// fields.
//
// Zero values (0, "", false, nil) are replaced with defaults; explicit
// values are preserved.
func ApplyDefaults(cfg *Config) {
	applyLoggingDefaults(&cfg.Logging)
	applyQuarantineDefaults(&cfg.Quarantine)
	applyAnalyzerDefaults(&cfg.Analyzer)
	applySandboxDefaults(&cfg.Sandbox)
	applyCaptureDefaults(&cfg.Capture)
	applyJobsDefaults(&cfg.Jobs)
}

// applyLoggingDefaults sets logging defaults and normalizes values.
func applyLoggingDefaults(cfg *LoggingConfig) {
	if cfg.Level == "" {
		cfg.Level = "INFO"
	}
	cfg.Level = strings.ToUpper(cfg.Level)

	if cfg.Format == "" {
		cfg.Format = "text"
	}
	if cfg.Output == "" {
		cfg.Output = "stdout"
	}
}

func applyQuarantineDefaults(cfg *QuarantineConfig) {
	if cfg.BaseDir == "" {
		cfg.BaseDir = "/var/lib/triage/quarantine"
	}
}

func applyAnalyzerDefaults(cfg *AnalyzerConfig) {
	if cfg.MaxFileSize == 0 {
		cfg.MaxFileSize = 100 * bytesize.MiB
	}
	if cfg.EmulatorInstructionBudget == 0 {
		cfg.EmulatorInstructionBudget = 100_000
	}
	if cfg.EmulatorMemoryLimit == 0 {
		cfg.EmulatorMemoryLimit = 10 * bytesize.MiB
	}
}

func applySandboxDefaults(cfg *SandboxConfig) {
	if cfg.Image == "" {
		cfg.Image = "triage/sandbox-linux:latest"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.MemoryLimit == 0 {
		cfg.MemoryLimit = 512 * bytesize.MiB
	}
	if cfg.PidsLimit == 0 {
		cfg.PidsLimit = 256
	}
}

func applyCaptureDefaults(cfg *CaptureConfig) {
	if len(cfg.PreferredInterfaces) == 0 {
		cfg.PreferredInterfaces = []string{"en0", "en1", "eth0", "wlan0", "Ethernet", "Wi-Fi"}
	}
	if cfg.MaxPacketsPerFile == 0 {
		cfg.MaxPacketsPerFile = 1000
	}
}

func applyJobsDefaults(cfg *JobsConfig) {
	if cfg.APIPort == 0 {
		cfg.APIPort = 8490
	}
}

// GetDefaultConfig returns a fully-defaulted configuration.
func GetDefaultConfig() *Config {
	cfg := &Config{}
	ApplyDefaults(cfg)
	return cfg
}

// Validate checks the configuration for invalid values.
func Validate(cfg *Config) error {
	switch cfg.Logging.Level {
	case "DEBUG", "INFO", "WARN", "ERROR":
	default:
		return fmt.Errorf("invalid logging level %q (valid: DEBUG, INFO, WARN, ERROR)", cfg.Logging.Level)
	}

	switch cfg.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("invalid logging format %q (valid: text, json)", cfg.Logging.Format)
	}

	if cfg.Analyzer.MaxFileSize <= 0 {
		return fmt.Errorf("analyzer.max_file_size must be positive")
	}
	if cfg.Analyzer.EmulatorInstructionBudget <= 0 {
		return fmt.Errorf("analyzer.emulator_instruction_budget must be positive")
	}

	if cfg.Sandbox.Timeout <= 0 {
		return fmt.Errorf("sandbox.timeout must be positive")
	}
	if cfg.Sandbox.PidsLimit <= 0 {
		return fmt.Errorf("sandbox.pids_limit must be positive")
	}

	if cfg.Jobs.APIPort < 1 || cfg.Jobs.APIPort > 65535 {
		return fmt.Errorf("jobs.api_port must be in [1,65535]")
	}

	return nil
}
