package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/teambition/rrule-go"
	"gopkg.in/yaml.v3"

	"github.com/caseconnect/casa-cli/pkg/core/authz"
)

// Config represents the application configuration
type Config struct {
	BackendBaseURL        string              `yaml:"backendBaseURL" validate:"required,url"`
	TokenCachePath        string              `yaml:"tokenCachePath,omitempty"`
	RequestTimeoutSeconds int                 `yaml:"requestTimeoutSeconds,omitempty" validate:"omitempty,min=1"`
	RenewalRRule          string              `yaml:"renewalRRule,omitempty"`
	OperatorEmail         string              `yaml:"operatorEmail,omitempty" validate:"omitempty,email"`
	Capabilities          map[string][]string `yaml:"capabilities,omitempty"`
}

var validate *validator.Validate

func init() {
	validate = validator.New()
}

// Load loads and validates the configuration from casa_config.yaml
// It looks for the config file in the current directory first, then in the user's home directory
func Load() (*Config, error) {
	return LoadWithEnv("")
}

// LoadWithEnv loads the configuration with an environment suffix, e.g.
// env="test" looks for "casa_config.test.yaml"
func LoadWithEnv(env string) (*Config, error) {
	configPath, err := findConfigFile(env)
	if err != nil {
		return nil, fmt.Errorf("failed to find config file: %w", err)
	}

	return LoadFromPath(configPath)
}

// LoadFromPath loads and validates the configuration from a specific path
func LoadFromPath(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := Validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate validates the configuration struct, the renewal rrule syntax, and
// the capability matrix shape
func Validate(cfg *Config) error {
	// Run struct validation
	if err := validate.Struct(cfg); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}

	if cfg.RenewalRRule != "" {
		if _, err := rrule.StrToROption(cfg.RenewalRRule); err != nil {
			return fmt.Errorf("invalid renewalRRule: %w", err)
		}
	}

	for capability, roles := range cfg.Capabilities {
		if len(roles) == 0 {
			return fmt.Errorf("capability %q maps to no roles", capability)
		}
		for _, role := range roles {
			if role == "" {
				return fmt.Errorf("capability %q contains an empty role name", capability)
			}
		}
	}

	return nil
}

// Matrix converts the configured capability map into an authz matrix.
// Returns nil when the config does not override it, so the evaluator falls
// back to its default.
func (c *Config) Matrix() authz.Matrix {
	if len(c.Capabilities) == 0 {
		return nil
	}
	matrix := make(authz.Matrix, len(c.Capabilities))
	for capability, roles := range c.Capabilities {
		matrix[authz.Capability(capability)] = roles
	}
	return matrix
}

// RequestTimeout returns the configured backend timeout.
func (c *Config) RequestTimeout() time.Duration {
	if c.RequestTimeoutSeconds <= 0 {
		return 30 * time.Second
	}
	return time.Duration(c.RequestTimeoutSeconds) * time.Second
}

// TokenCache returns the session cache path, defaulting to
// ~/.casa-cli/session.json when unset.
func (c *Config) TokenCache() (string, error) {
	if c.TokenCachePath != "" {
		return c.TokenCachePath, nil
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	cacheDir := filepath.Join(homeDir, ".casa-cli")
	if err := os.MkdirAll(cacheDir, 0700); err != nil {
		return "", fmt.Errorf("failed to create cache directory: %w", err)
	}
	return filepath.Join(cacheDir, "session.json"), nil
}

// findConfigFile searches for casa_config.yaml in current directory and home directory
// If env is provided, it adds it as an extension (e.g., "casa_config.test.yaml")
func findConfigFile(env string) (string, error) {
	configFileName := "casa_config.yaml"
	if env != "" {
		configFileName = "casa_config." + env + ".yaml"
	}

	// Check current directory
	if _, err := os.Stat(configFileName); err == nil {
		return configFileName, nil
	}

	// Check home directory
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}

	homeConfigPath := filepath.Join(homeDir, configFileName)
	if _, err := os.Stat(homeConfigPath); err == nil {
		return homeConfigPath, nil
	}

	return "", fmt.Errorf("config file not found in current directory or home directory")
}
