package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/goccy/go-yaml"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// Config is the top-level kevoctl configuration.
type Config struct {
	Database DatabaseConfig `mapstructure:"database" yaml:"database"`
	Language string         `mapstructure:"language" yaml:"language"`
	Kevo     KevoConfig     `mapstructure:"kevo" yaml:"kevo"`
}

// DatabaseConfig selects the storage backend.
type DatabaseConfig struct {
	Type string `mapstructure:"type" yaml:"type"`
	DSN  string `mapstructure:"dsn" yaml:"dsn"`
}

// KevoConfig carries cloud endpoint overrides and sync tuning. Empty
// endpoint fields fall back to the production defaults.
type KevoConfig struct {
	APIBaseURL   string   `mapstructure:"api_base_url" yaml:"api_base_url"`
	LoginBaseURL string   `mapstructure:"login_base_url" yaml:"login_base_url"`
	WSBaseURL    string   `mapstructure:"ws_base_url" yaml:"ws_base_url"`
	ClientID     string   `mapstructure:"client_id" yaml:"client_id"`
	ClientSecret string   `mapstructure:"client_secret" yaml:"client_secret"`
	TenantID     string   `mapstructure:"tenant_id" yaml:"tenant_id"`
	PollSeconds  int      `mapstructure:"poll_seconds" yaml:"poll_seconds"`
	Locks        []string `mapstructure:"locks" yaml:"locks"`
}

// getConfigPath returns the full path for the configuration file.
func getConfigPath(system bool) (string, error) {
	var configDir string
	var err error

	if system {
		// System-wide configuration paths
		switch runtime.GOOS {
		case "windows":
			configDir = filepath.Join(os.Getenv("ProgramData"), "Kevoctl")
		default: // Linux, macOS, etc.
			configDir = "/etc/kevoctl"
		}
	} else {
		// User-specific configuration paths
		configDir, err = os.UserConfigDir()
		if err != nil {
			return "", fmt.Errorf("could not get user config directory: %w", err)
		}
		configDir = filepath.Join(configDir, "kevoctl")
	}

	return filepath.Join(configDir, "kevoctl.yaml"), nil
}

// GetConfigPath returns the path of the user (or system) config file.
func GetConfigPath(system bool) (string, error) {
	return getConfigPath(system)
}

// LoadConfig resolves the effective configuration from defaults, config
// files, environment variables (KEVOCTL_ prefix) and command-line flags,
// in ascending order of precedence.
func LoadConfig[T any](cmd *cobra.Command, defaults map[string]any, additionalConfigFilePath *string) (T, error) {
	var c T
	v := viper.New()

	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	v.SetConfigName("kevoctl")
	v.SetConfigType("yaml")

	// An explicit --config path has the highest precedence for
	// file-based configuration.
	if additionalConfigFilePath != nil {
		v.SetConfigFile(*additionalConfigFilePath)
	}

	if userConfigPath, err := getConfigPath(false); err == nil {
		v.AddConfigPath(filepath.Dir(userConfigPath))
	}
	if systemConfigPath, err := getConfigPath(true); err == nil {
		v.AddConfigPath(filepath.Dir(systemConfigPath))
	}
	v.AddConfigPath(".") // Look for kevoctl.yaml in current dir

	if err := v.ReadInConfig(); err != nil {
		// It's okay if the file is not found, but other errors are fatal.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return c, err
		}
	}

	v.AutomaticEnv()
	v.AllowEmptyEnv(true)
	v.SetEnvPrefix("kevoctl")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.BindPFlags(cmd.Flags()); err != nil {
		return c, err
	}

	if err := v.Unmarshal(&c); err != nil {
		return c, err
	}

	return c, nil
}

// WriteConfigFile persists the configuration to the user (or system)
// config path, creating the directory when needed.
func WriteConfigFile[T any](c *T, system bool) error {
	path, err := getConfigPath(system)
	if err != nil {
		return err
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}

	configDir := filepath.Dir(path)
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("could not create config directory %s: %w", configDir, err)
	}

	// 0600 since the file may carry DSN credentials.
	return os.WriteFile(path, data, 0600)
}
