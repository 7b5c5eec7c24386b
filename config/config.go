// Package config loads bootinfo settings from an optional YAML file and the
// environment.
package config

import (
	"os"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

const (
	ConfigEnvVar  = "BOOTINFO_CONFIG"
	NoColorEnvVar = "BOOTINFO_NO_COLOR"
)

type Config struct {
	// Ramdisk paths searched for the compressed magisk binary. Empty selects
	// the built-in list.
	PayloadPaths []string `yaml:"payload_paths"`
	// Partition extracted from an OTA payload.bin when none is given.
	Partition string `yaml:"partition"`
	LogLevel  string `yaml:"log_level"`
	NoColor   bool   `yaml:"no_color"`
}

func Default() *Config {
	return &Config{}
}

func CheckEnv(key string) bool {
	value, ret := os.LookupEnv(key)
	if ret {
		if value == "true" {
			return true
		}
	}
	return false
}

// Load reads path, or the file named by BOOTINFO_CONFIG when path is empty.
// With neither, the defaults are returned.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		path = os.Getenv(ConfigEnvVar)
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, errors.Wrap(err, "read config")
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, errors.Wrapf(err, "parse config %s", path)
		}
	}

	if CheckEnv(NoColorEnvVar) {
		cfg.NoColor = true
	}
	return cfg, nil
}
