// Package config loads dirid configuration from file and environment.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"github.com/isometry/directory-identity/internal/ldap"
)

// Config is the root dirid configuration.
//
// Sources are merged in order of precedence:
//  1. Environment variables (DIRID_*)
//  2. Configuration file (YAML)
//  3. Default values
type Config struct {
	// Directory configures the directory store.
	Directory ldap.Config `mapstructure:"directory" json:"directory"`

	// Logging controls CLI log output.
	Logging LoggingConfig `mapstructure:"logging" json:"logging"`
}

// LoggingConfig controls log output behaviour.
type LoggingConfig struct {
	// Level is the minimum level to emit: trace, debug, info, warn or error.
	Level string `mapstructure:"level" json:"level"`

	// Format selects the output encoding: text or json.
	Format string `mapstructure:"format" json:"format"`
}

// Load reads configuration from the given file, or from the default
// search path when configPath is empty, layers environment variables
// over it and validates the directory section. A missing config file
// is not an error; the environment alone can carry a full configuration.
//
// Environment variables use the DIRID_ prefix with underscores in place
// of dots, for example DIRID_DIRECTORY_SCHEMA=OpenLDAP.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setupViper(v, configPath)

	if err := readConfigFile(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(decodeHooks())); err != nil {
		return nil, fmt.Errorf("unmarshal configuration: %w", err)
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "text"
	}

	if err := cfg.Directory.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// setupViper configures environment variable handling and the config
// file search path.
func setupViper(v *viper.Viper, configPath string) {
	v.SetEnvPrefix("DIRID")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		return
	}

	v.AddConfigPath(configDir())
	v.AddConfigPath("/etc/dirid")
	v.AddConfigPath(".")
	v.SetConfigName("config")
	v.SetConfigType("yaml")
}

// readConfigFile reads the resolved config file. Absence is tolerated;
// any other read failure is reported.
func readConfigFile(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read config file: %w", err)
	}
	return nil
}

// decodeHooks combines the decode hooks needed by the directory config:
// duration strings, comma-separated lists for the server slice, and
// text unmarshalling for scope names.
func decodeHooks() mapstructure.DecodeHookFunc {
	return mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
		mapstructure.TextUnmarshallerHookFunc(),
	)
}

// configDir resolves the per-user configuration directory.
func configDir() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "."
	}
	return filepath.Join(dir, "dirid")
}
