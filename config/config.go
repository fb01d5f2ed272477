// Package config loads the small set of knobs a mounted filesystem
// needs at startup: where the two backing images live, the tier-routing
// threshold, and the log level. Grounded on
// direktiv-vorteil/pkg/vconvert's viper/yaml config loader, adapted from
// that package's global viper instance to an owned *viper.Viper so
// multiple Config values can coexist in tests. Load reads exactly the
// file it is given (SetConfigFile); a missing or unreadable file is an
// error, not a fallback to defaults.
package config

import (
	"github.com/spf13/viper"

	"github.com/pkg/errors"
)

const (
	defaultSSDMaxLblock = 1024
	defaultLogLevel     = "info"
)

// Config is the parsed, defaulted configuration for one mount.
type Config struct {
	SSDPath      string `mapstructure:"ssd_path"`
	HDDPath      string `mapstructure:"hdd_path"`
	SSDMaxLblock uint32 `mapstructure:"ssd_max_lblock"`
	LogLevel     string `mapstructure:"log_level"`
}

// Load reads path (a YAML file) through viper, applying defaults for
// any key the file omits. An empty path reads no file; since ssd_path
// and hdd_path have no defaults, such a call fails validation and
// returns an error.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	v.SetDefault("ssd_max_lblock", defaultSSDMaxLblock)
	v.SetDefault("log_level", defaultLogLevel)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.Wrapf(err, "read config file %q", path)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, errors.Wrap(err, "unmarshal config")
	}

	if cfg.SSDPath == "" {
		return nil, errors.New("config: ssd_path is required")
	}
	if cfg.HDDPath == "" {
		return nil, errors.New("config: hdd_path is required")
	}

	return cfg, nil
}
