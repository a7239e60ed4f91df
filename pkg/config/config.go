// Package config loads and persists Deceive's small set of user settings
// (spec.md §6 "Persisted state") with viper, the way the teacher's
// cmd/gate/gate.go unmarshals its proxy config.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/viper"

	"github.com/rc-deceive/deceive/pkg/presence"
)

// Config is the persisted key/value state described in spec.md §6.
type Config struct {
	DefaultGame         string `mapstructure:"defaultGame"`
	DefaultStatus       string `mapstructure:"defaultStatus"`
	LastPromptedVersion string `mapstructure:"lastPromptedVersion"`
	ConnectToMuc        bool   `mapstructure:"connectToMuc"`
}

// Default returns the config used when no file exists yet.
func Default() Config {
	return Config{
		DefaultGame:   "prompt",
		DefaultStatus: "offline",
		ConnectToMuc:  true,
	}
}

// Dir returns the directory Deceive persists its config and certificate
// PEMs in, creating it if necessary.
func Dir() (string, error) {
	base, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("config: resolve user config dir: %w", err)
	}
	dir := filepath.Join(base, "deceive")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("config: create config dir: %w", err)
	}
	return dir, nil
}

// Load reads the config file at path, falling back to Default() if it does
// not exist.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	def := Default()
	v.SetDefault("defaultGame", def.DefaultGame)
	v.SetDefault("defaultStatus", def.DefaultStatus)
	v.SetDefault("connectToMuc", def.ConnectToMuc)

	if err := v.ReadInConfig(); err != nil {
		if os.IsNotExist(err) {
			return def, nil
		}
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return def, nil
		}
		return Config{}, fmt.Errorf("config: read %s: %w", path, err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("config: unmarshal: %w", err)
	}
	return cfg, nil
}

// Save writes cfg to path as YAML.
func Save(path string, cfg Config) error {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.Set("defaultGame", cfg.DefaultGame)
	v.Set("defaultStatus", cfg.DefaultStatus)
	v.Set("lastPromptedVersion", cfg.LastPromptedVersion)
	v.Set("connectToMuc", cfg.ConnectToMuc)
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("config: create dir: %w", err)
	}
	return v.WriteConfigAs(path)
}

// Validate checks that the persisted status string is one Deceive
// understands, mirroring the teacher's config.Validate(&cfg) call from
// cmd/gate/gate.go. Per spec.md §9's open question, unknown status strings
// are rejected explicitly rather than silently defaulting to Offline.
func Validate(cfg *Config) error {
	if _, err := presence.ParseMode(cfg.DefaultStatus); err != nil {
		return fmt.Errorf("config: invalid defaultStatus: %w", err)
	}
	return nil
}
