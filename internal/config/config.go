package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/go-playground/validator/v10"
	"github.com/kelseyhightower/envconfig"
	"go.uber.org/fx"
)

var Module = fx.Provide(NewConfig)

const (
	StorageBackendMemory = "memory"
	StorageBackendFile   = "file"
	StorageBackendSQLite = "sqlite"
)

// EnvPrefix prefixes every environment override, e.g. OUTLINE_STORAGE_BACKEND.
const EnvPrefix = "OUTLINE"

var validate *validator.Validate

type Config struct {
	Storage  Storage  `json:"storage" validate:"required"`
	Tunnel   Tunnel   `json:"tunnel" validate:"required"`
	Probe    Probe    `json:"probe"`
	Metrics  Metrics  `json:"metrics"`
	Reporter Reporter `json:"reporter"`
	// Exporters are only read from the config file.
	Exporters []ExporterConfig `json:"exporters" validate:"dive"`
}

type Storage struct {
	Backend string `json:"backend" envconfig:"STORAGE_BACKEND" validate:"required,storageBackend"`
	Path    string `json:"path" envconfig:"STORAGE_PATH" validate:"required_unless=Backend memory"`
}

type Tunnel struct {
	XrayBinary      string `json:"xray_binary" envconfig:"XRAY_BINARY" validate:"required"`
	ConfigsDir      string `json:"configs_dir" envconfig:"XRAY_CONFIGS_DIR" validate:"required,dir"`
	SocksListen     string `json:"socks_listen" envconfig:"SOCKS_LISTEN" validate:"required,ip"`
	SocksPort       int    `json:"socks_port" envconfig:"SOCKS_PORT" validate:"min=1,max=65535"`
	RestartAttempts int    `json:"restart_attempts" envconfig:"RESTART_ATTEMPTS" validate:"min=0"`
	FetchTimeout    int    `json:"fetch_timeout" envconfig:"FETCH_TIMEOUT" validate:"min=1"`
	DialTimeout     int    `json:"dial_timeout" envconfig:"DIAL_TIMEOUT" validate:"min=1"`
}

type Probe struct {
	Workers  int `json:"workers" envconfig:"PROBE_WORKERS" validate:"min=0"`
	Interval int `json:"interval" envconfig:"PROBE_INTERVAL" validate:"min=1"`
}

type Metrics struct {
	Listen string `json:"listen" envconfig:"METRICS_LISTEN" validate:"omitempty,hostname_port"`
}

type Reporter struct {
	Endpoint string `json:"endpoint" envconfig:"REPORTER_ENDPOINT" validate:"omitempty,url"`
	APIKey   string `json:"api_key" envconfig:"REPORTER_API_KEY"`
}

// Default returns the configuration used when no file is present.
func Default() Config {
	return Config{
		Storage: Storage{
			Backend: StorageBackendFile,
			Path:    "data/servers.json",
		},
		Tunnel: Tunnel{
			XrayBinary:      "xray",
			ConfigsDir:      "data/xray",
			SocksListen:     "127.0.0.1",
			SocksPort:       1080,
			RestartAttempts: 3,
			FetchTimeout:    20,
			DialTimeout:     5,
		},
		Probe: Probe{
			Workers:  2,
			Interval: 300,
		},
	}
}

// NewConfig loads the JSON file named by CONFIG_PATH (default config.json)
// on top of Default, then applies OUTLINE_* environment overrides. A missing
// default file is fine; a missing explicit CONFIG_PATH is not.
func NewConfig() (*Config, error) {
	cfg := Default()

	configPath, explicit := os.LookupEnv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config.json"
		explicit = false
	}

	data, err := os.ReadFile(configPath)
	switch {
	case err == nil:
		if err := json.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("error parsing config: %w", err)
		}
	case os.IsNotExist(err) && !explicit:
	default:
		return nil, fmt.Errorf("error reading config: %w", err)
	}

	if err := applyEnv(&cfg); err != nil {
		return nil, err
	}

	// Create required directories if they don't exist
	if err := ensureDirectories(&cfg); err != nil {
		return nil, fmt.Errorf("failed to create required directories: %w", err)
	}

	if err := Validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func applyEnv(cfg *Config) error {
	sections := []interface{}{&cfg.Storage, &cfg.Tunnel, &cfg.Probe, &cfg.Metrics, &cfg.Reporter}
	for _, section := range sections {
		if err := envconfig.Process(EnvPrefix, section); err != nil {
			return fmt.Errorf("error reading environment: %w", err)
		}
	}
	return nil
}

// Validate runs struct validation and formats the failures.
func Validate(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		var validationErrors validator.ValidationErrors
		if errors.As(err, &validationErrors) {
			return formatValidationErrors(validationErrors)
		}
		return fmt.Errorf("config validation failed: %w", err)
	}
	return nil
}

// ensureDirectories creates required directories if they don't exist
func ensureDirectories(cfg *Config) error {
	dirs := []struct {
		path string
		name string
	}{
		{cfg.Tunnel.ConfigsDir, "xray configs"},
	}
	if cfg.Storage.Backend != StorageBackendMemory && cfg.Storage.Path != "" {
		dirs = append(dirs, struct {
			path string
			name string
		}{filepath.Dir(cfg.Storage.Path), "storage"})
	}

	for _, dir := range dirs {
		if dir.path == "" {
			continue
		}
		if err := os.MkdirAll(dir.path, 0755); err != nil {
			return fmt.Errorf("failed to create %s directory at %s: %w",
				dir.name, dir.path, err)
		}
	}

	return nil
}

func init() {
	validate = validator.New()

	if err := validate.RegisterValidation("dir", validateDir); err != nil {
		panic(fmt.Sprintf("failed to register dir validator: %v", err))
	}
	if err := validate.RegisterValidation("storageBackend", validateStorageBackend); err != nil {
		panic(fmt.Sprintf("failed to register storage backend validator: %v", err))
	}
}

func validateDir(fl validator.FieldLevel) bool {
	path := fl.Field().String()
	if info, err := os.Stat(path); err != nil {
		return false
	} else {
		return info.IsDir()
	}
}

func validateStorageBackend(fl validator.FieldLevel) bool {
	switch fl.Field().String() {
	case StorageBackendMemory, StorageBackendFile, StorageBackendSQLite:
		return true
	default:
		return false
	}
}

// formatValidationErrors formats validation errors into a user-friendly error message
func formatValidationErrors(errors validator.ValidationErrors) error {
	var errMsgs []string
	for _, err := range errors {
		errMsgs = append(errMsgs, fmt.Sprintf(
			"field '%s' failed validation: %s",
			err.Field(),
			err.Tag(),
		))
	}
	return fmt.Errorf("validation errors: %v", errMsgs)
}
