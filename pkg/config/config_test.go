package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/marmos91/triage/internal/bytesize"
)

func TestLoad_DefaultsApplied(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configContent := `
logging:
  level: "debug"

quarantine:
  base_dir: "` + filepath.ToSlash(tmpDir) + `/quarantine"

sandbox:
  timeout: 90s
  memory_limit: 256Mi
`
	if err := os.WriteFile(configPath, []byte(configContent), 0o644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if cfg.Logging.Level != "DEBUG" {
		t.Errorf("Expected normalized level DEBUG, got %q", cfg.Logging.Level)
	}
	if cfg.Logging.Format != "text" {
		t.Errorf("Expected default format 'text', got %q", cfg.Logging.Format)
	}
	if cfg.Sandbox.Timeout != 90*time.Second {
		t.Errorf("Expected sandbox timeout 90s, got %v", cfg.Sandbox.Timeout)
	}
	if cfg.Sandbox.MemoryLimit != 256*bytesize.MiB {
		t.Errorf("Expected sandbox memory limit 256Mi, got %v", cfg.Sandbox.MemoryLimit)
	}
	if cfg.Analyzer.MaxFileSize != 100*bytesize.MiB {
		t.Errorf("Expected default analyzer cap 100Mi, got %v", cfg.Analyzer.MaxFileSize)
	}
	if cfg.Analyzer.EmulatorInstructionBudget != 100_000 {
		t.Errorf("Expected default instruction budget 100000, got %d", cfg.Analyzer.EmulatorInstructionBudget)
	}
	if cfg.Capture.MaxPacketsPerFile != 1000 {
		t.Errorf("Expected default packet cap 1000, got %d", cfg.Capture.MaxPacketsPerFile)
	}
}

func TestLoad_NoConfigFile(t *testing.T) {
	// Loading with no config file returns a valid default config.
	tmpDir := t.TempDir()
	nonExistentPath := filepath.Join(tmpDir, "nonexistent.yaml")

	cfg, err := Load(nonExistentPath)
	if err != nil {
		t.Fatalf("Expected no error when loading default config, got: %v", err)
	}
	if cfg == nil {
		t.Fatal("Expected default config to be returned")
	}
	if cfg.Jobs.APIPort != 8490 {
		t.Errorf("Expected default API port 8490, got %d", cfg.Jobs.APIPort)
	}
	if cfg.Sandbox.Image != "triage/sandbox-linux:latest" {
		t.Errorf("Unexpected default sandbox image %q", cfg.Sandbox.Image)
	}
}

func TestValidate_RejectsBadLevel(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Logging.Level = "VERBOSE"
	if err := Validate(cfg); err == nil {
		t.Fatal("Expected validation error for invalid logging level")
	}
}

func TestValidate_RejectsBadPort(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Jobs.APIPort = 70000
	if err := Validate(cfg); err == nil {
		t.Fatal("Expected validation error for out-of-range API port")
	}
}

func TestSaveConfig_RoundTrip(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "sub", "config.yaml")

	cfg := GetDefaultConfig()
	cfg.Quarantine.BaseDir = "/tmp/quarantine-test"

	if err := SaveConfig(cfg, path); err != nil {
		t.Fatalf("Failed to save config: %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Failed to reload saved config: %v", err)
	}
	if loaded.Quarantine.BaseDir != cfg.Quarantine.BaseDir {
		t.Errorf("Round-trip mismatch: got %q, want %q", loaded.Quarantine.BaseDir, cfg.Quarantine.BaseDir)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("Stat saved config: %v", err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Errorf("Expected 0600 permissions, got %v", info.Mode().Perm())
	}
}
