package main

import (
	"os"
	"time"

	"github.com/always-cache/always-proxy/cache"

	"golang.org/x/xerrors"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Port           int           `yaml:"port"`
	Workers        int           `yaml:"workers"`
	CacheSize      int           `yaml:"cacheSize"`
	ExpirationDays int64         `yaml:"expirationDays"`
	Blocklist      string        `yaml:"blocklist"`
	Provider       string        `yaml:"provider"`
	DB             string        `yaml:"db"`
	Admin          string        `yaml:"admin"`
	OriginTimeout  time.Duration `yaml:"originTimeout"`
}

func defaultConfig() Config {
	return Config{
		Port:           8080,
		Workers:        10,
		CacheSize:      100,
		ExpirationDays: 20,
		Blocklist:      "blocked_sites.txt",
		Provider:       "memory",
		DB:             "cache.db",
		OriginTimeout:  10 * time.Second,
	}
}

// getConfig reads filename over the defaults.
// Keys missing from the file keep their default value.
func getConfig(filename string) (Config, error) {
	config := defaultConfig()
	configBytes, err := os.ReadFile(filename)
	if err != nil {
		return config, err
	}
	err = yaml.Unmarshal(configBytes, &config)
	return config, err
}

func (c Config) validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return xerrors.Errorf("invalid port %d", c.Port)
	}
	if c.Workers <= 0 {
		return xerrors.Errorf("workers must be positive, got %d", c.Workers)
	}
	if c.CacheSize <= 0 {
		return xerrors.Errorf("cache size must be positive, got %d", c.CacheSize)
	}
	if c.ExpirationDays < 0 || c.ExpirationDays > cache.MaxExpirationDays {
		return xerrors.Errorf("expiration days must be between 0 and %d, got %d", cache.MaxExpirationDays, c.ExpirationDays)
	}
	if c.Provider != "memory" && c.Provider != "sqlite" {
		return xerrors.Errorf("unsupported cache provider: %s", c.Provider)
	}
	return nil
}
