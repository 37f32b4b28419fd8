package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// InitViper initializes Viper with the configuration file and environment
// variables. If configFile is empty, toolward.yaml/.yml is searched in the
// working directory, ~/.toolward, and /etc/toolward. The search requires an
// explicit YAML extension so the binary itself is never matched.
func InitViper(configFile string) {
	if configFile != "" {
		viper.SetConfigFile(configFile)
	} else if found := findConfigFile(); found != "" {
		viper.SetConfigFile(found)
	} else {
		// No config file in any standard location. Set name/type without
		// search paths so ReadInConfig returns ConfigFileNotFoundError,
		// which LoadConfig handles gracefully.
		viper.SetConfigName("toolward")
		viper.SetConfigType("yaml")
	}

	// Environment variable support: TOOLWARD_APPROVAL_TOKEN_TTL
	viper.SetEnvPrefix("TOOLWARD")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()

	bindNestedEnvKeys()
}

func findConfigFile() string {
	home, _ := os.UserHomeDir()
	paths := []string{
		".",
		filepath.Join(home, ".toolward"),
		"/etc/toolward",
	}
	for _, dir := range paths {
		for _, ext := range []string{".yaml", ".yml"} {
			path := filepath.Join(dir, "toolward"+ext)
			if _, err := os.Stat(path); err == nil {
				return path
			}
		}
	}
	return ""
}

// bindNestedEnvKeys binds nested config keys for environment overrides.
// Arrays (policies, allowed paths) are config-file only.
func bindNestedEnvKeys() {
	_ = viper.BindEnv("log_level")
	_ = viper.BindEnv("approval.token_ttl")
	_ = viper.BindEnv("approval.pending_ttl")
	_ = viper.BindEnv("approval.sweep_interval")
	_ = viper.BindEnv("audit.backend")
	_ = viper.BindEnv("audit.sqlite_path")
	_ = viper.BindEnv("snapshots.dir")
	_ = viper.BindEnv("tracing.enabled")
	_ = viper.BindEnv("tracing.output_file")
}

// LoadConfig reads the configuration file, applies environment overrides
// and defaults, and validates the result.
func LoadConfig() (*Config, error) {
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// No config file: run on env vars and defaults alone.
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	cfg.SetDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

// ConfigFileUsed returns the path of the loaded configuration file, or ""
// when running on env vars and defaults alone.
func ConfigFileUsed() string {
	return viper.ConfigFileUsed()
}
