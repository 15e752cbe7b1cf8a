package credsync

import (
	"encoding/base64"
	"fmt"
	"os"
	"reflect"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment variable LoadConfigFromEnv reads,
// for example CREDSYNC_LOCKOUT_THRESHOLD.
const EnvPrefix = "CREDSYNC_"

// LoadConfigFromEnv layers CREDSYNC_* environment variables over the
// defaults and validates the result. Key material is base64 encoded.
func LoadConfigFromEnv() (Config, error) {
	cfg := defaultConfig()
	if err := parseEnv(&cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// LoadConfigFile reads a YAML file over the defaults, then applies the
// environment on top so secrets never need to live in the file.
func LoadConfigFile(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	cfg := defaultConfig()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := parseEnv(&cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func parseEnv(cfg *Config) error {
	err := env.ParseWithOptions(cfg, env.Options{
		Prefix: EnvPrefix,
		FuncMap: map[reflect.Type]env.ParserFunc{
			reflect.TypeOf([]byte(nil)): func(v string) (interface{}, error) {
				return base64.StdEncoding.DecodeString(v)
			},
		},
	})
	if err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}
