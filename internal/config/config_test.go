package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/pflag"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.Conversion.ScaleValues != 1.0 {
		t.Errorf("expected value scale 1.0, got %f", cfg.Conversion.ScaleValues)
	}
	if cfg.Conversion.ScaleCoordinates != 1000 {
		t.Errorf("expected coordinate scale 1000, got %f", cfg.Conversion.ScaleCoordinates)
	}
	if cfg.Conversion.Encoding != "GZipBase64Binary" {
		t.Errorf("expected GZipBase64Binary encoding, got %s", cfg.Conversion.Encoding)
	}

	if cfg.Logging.Level != "info" {
		t.Errorf("expected log level 'info', got %s", cfg.Logging.Level)
	}
	if cfg.Logging.LogFile != "" {
		t.Errorf("expected empty log file, got %s", cfg.Logging.LogFile)
	}

	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should validate: %v", err)
	}
}

func TestLoadFromFile(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	yamlContent := `
conversion:
  scale_values: 1e9
  scale_coordinates: 1
  encoding: "ASCII"

logging:
  level: "debug"
  log_file: "stc2gii.log"
`

	if err := os.WriteFile(configPath, []byte(yamlContent), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	cfg := Default()
	if err := loadFromFile(cfg, configPath); err != nil {
		t.Fatalf("failed to load config: %v", err)
	}

	if cfg.Conversion.ScaleValues != 1e9 {
		t.Errorf("expected value scale 1e9, got %g", cfg.Conversion.ScaleValues)
	}
	if cfg.Conversion.ScaleCoordinates != 1 {
		t.Errorf("expected coordinate scale 1, got %g", cfg.Conversion.ScaleCoordinates)
	}
	if cfg.Conversion.Encoding != "ASCII" {
		t.Errorf("expected ASCII encoding, got %s", cfg.Conversion.Encoding)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("expected log level 'debug', got %s", cfg.Logging.Level)
	}
	if cfg.Logging.LogFile != "stc2gii.log" {
		t.Errorf("expected log file 'stc2gii.log', got %s", cfg.Logging.LogFile)
	}
}

func TestLoadFromFilePartial(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(configPath, []byte("conversion:\n  scale_values: 2.5\n"), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	cfg := Default()
	if err := loadFromFile(cfg, configPath); err != nil {
		t.Fatalf("failed to load config: %v", err)
	}
	if cfg.Conversion.ScaleValues != 2.5 {
		t.Errorf("expected value scale 2.5, got %g", cfg.Conversion.ScaleValues)
	}
	// Untouched keys keep their defaults
	if cfg.Conversion.ScaleCoordinates != 1000 {
		t.Errorf("expected coordinate scale 1000, got %g", cfg.Conversion.ScaleCoordinates)
	}
}

func TestLoadFromFileEmpty(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(configPath, nil, 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	cfg := Default()
	if err := loadFromFile(cfg, configPath); err != nil {
		t.Fatalf("empty config should load: %v", err)
	}
	if cfg.Conversion.ScaleCoordinates != 1000 {
		t.Errorf("expected defaults to survive, got %g", cfg.Conversion.ScaleCoordinates)
	}
}

func TestLoadFromFileInvalid(t *testing.T) {
	tests := map[string]string{
		"syntax":      "conversion:\n  scale_values: not a number\n  invalid syntax here\n",
		"unknown key": "conversion:\n  scale: 2\n",
	}

	for name, content := range tests {
		t.Run(name, func(t *testing.T) {
			configPath := filepath.Join(t.TempDir(), "invalid.yaml")
			if err := os.WriteFile(configPath, []byte(content), 0644); err != nil {
				t.Fatalf("failed to write test config: %v", err)
			}

			cfg := Default()
			if err := loadFromFile(cfg, configPath); err == nil {
				t.Error("expected error loading invalid YAML, got nil")
			}
		})
	}
}

func TestLoadFromFileMissing(t *testing.T) {
	cfg := Default()
	err := loadFromFile(cfg, "/nonexistent/path/config.yaml")
	if err == nil {
		t.Error("expected error loading missing file, got nil")
	}
}

func TestValidate(t *testing.T) {
	cfg := Default()
	cfg.Conversion.Encoding = "ExternalFileBinary"
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for external encoding")
	}

	cfg = Default()
	cfg.Logging.Level = "verbose"
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for unknown log level")
	}
}

func TestConfigDir(t *testing.T) {
	dir := ConfigDir()

	if dir == "" {
		t.Error("ConfigDir returned empty string")
	}
	if !filepath.IsAbs(dir) {
		t.Errorf("ConfigDir should return absolute path, got %s", dir)
	}
}

func TestFindConfigFile(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv("HOME", t.TempDir())
	tmpDir := t.TempDir()
	t.Chdir(tmpDir)

	if path := findConfigFile(); path != "" {
		t.Errorf("expected empty path when no config exists, got %s", path)
	}

	if err := os.WriteFile(filepath.Join(tmpDir, FileName), []byte("logging:\n  level: warn\n"), 0644); err != nil {
		t.Fatalf("failed to create test config: %v", err)
	}

	if path := findConfigFile(); path == "" {
		t.Errorf("expected to find %s in current directory", FileName)
	}
}

func newTestFlags(t *testing.T, args ...string) *Flags {
	t.Helper()
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	f := &Flags{}
	f.Register(fs)
	if err := fs.Parse(args); err != nil {
		t.Fatalf("failed to parse flags: %v", err)
	}
	return f
}

func TestApplyFlags(t *testing.T) {
	tests := []struct {
		name   string
		args   []string
		verify func(*testing.T, *Config)
	}{
		{
			name: "no flags keep file values",
			args: nil,
			verify: func(t *testing.T, cfg *Config) {
				if cfg.Conversion.ScaleValues != 7 {
					t.Errorf("expected value scale 7 from file, got %g", cfg.Conversion.ScaleValues)
				}
			},
		},
		{
			name: "debug flag",
			args: []string{"--debug"},
			verify: func(t *testing.T, cfg *Config) {
				if cfg.Logging.Level != "debug" {
					t.Errorf("expected log level 'debug', got %s", cfg.Logging.Level)
				}
			},
		},
		{
			name: "scale flags",
			args: []string{"--scale", "1e12", "--scale_coordinates", "1"},
			verify: func(t *testing.T, cfg *Config) {
				if cfg.Conversion.ScaleValues != 1e12 {
					t.Errorf("expected value scale 1e12, got %g", cfg.Conversion.ScaleValues)
				}
				if cfg.Conversion.ScaleCoordinates != 1 {
					t.Errorf("expected coordinate scale 1, got %g", cfg.Conversion.ScaleCoordinates)
				}
			},
		},
		{
			name: "explicit default still overrides",
			args: []string{"--scale=1"},
			verify: func(t *testing.T, cfg *Config) {
				if cfg.Conversion.ScaleValues != 1 {
					t.Errorf("expected value scale 1 from flag, got %g", cfg.Conversion.ScaleValues)
				}
			},
		},
		{
			name: "logging flags",
			args: []string{"--log-level", "error", "--log-file", "/tmp/x.log", "--encoding", "ASCII"},
			verify: func(t *testing.T, cfg *Config) {
				if cfg.Logging.Level != "error" {
					t.Errorf("expected log level 'error', got %s", cfg.Logging.Level)
				}
				if cfg.Logging.LogFile != "/tmp/x.log" {
					t.Errorf("expected log file /tmp/x.log, got %s", cfg.Logging.LogFile)
				}
				if cfg.Conversion.Encoding != "ASCII" {
					t.Errorf("expected ASCII encoding, got %s", cfg.Conversion.Encoding)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			cfg.Conversion.ScaleValues = 7
			applyFlags(cfg, newTestFlags(t, tt.args...))
			tt.verify(t, cfg)
		})
	}
}

func TestLoadPriority(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "config.yaml")

	yamlContent := `
conversion:
  scale_values: 3
  scale_coordinates: 10
`
	if err := os.WriteFile(configPath, []byte(yamlContent), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	flags := newTestFlags(t, "--config", configPath, "--scale_coordinates", "100")

	cfg, err := Load(flags)
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}

	// From flag, not file
	if cfg.Conversion.ScaleCoordinates != 100 {
		t.Errorf("expected coordinate scale 100 from flag, got %g", cfg.Conversion.ScaleCoordinates)
	}
	// From file, no flag given
	if cfg.Conversion.ScaleValues != 3 {
		t.Errorf("expected value scale 3 from file, got %g", cfg.Conversion.ScaleValues)
	}
	// Default, in neither
	if cfg.Conversion.Encoding != "GZipBase64Binary" {
		t.Errorf("expected default encoding, got %s", cfg.Conversion.Encoding)
	}
}

func TestLoadInvalidEncoding(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv("HOME", t.TempDir())

	if _, err := Load(newTestFlags(t, "--encoding", "Hex")); err == nil {
		t.Error("expected error for unsupported encoding")
	}
}

func TestSaveTo(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")

	cfg := Default()
	cfg.Conversion.ScaleValues = 42
	if err := cfg.SaveTo(path); err != nil {
		t.Fatalf("failed to save config: %v", err)
	}

	loaded := Default()
	if err := loadFromFile(loaded, path); err != nil {
		t.Fatalf("failed to reload config: %v", err)
	}
	if loaded.Conversion.ScaleValues != 42 {
		t.Errorf("expected value scale 42, got %g", loaded.Conversion.ScaleValues)
	}
}

func TestSave(t *testing.T) {
	xdg := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", xdg)
	t.Setenv("HOME", t.TempDir())

	path, err := Default().Save()
	if err != nil {
		t.Fatalf("failed to save config: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Errorf("expected config at %s: %v", path, err)
	}
}
