package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestGetConfig(t *testing.T) {
	filename := filepath.Join(t.TempDir(), "config.yaml")
	yaml := "port: 9090\ncacheSize: 5\nprovider: sqlite\noriginTimeout: 3s\n"
	if err := os.WriteFile(filename, []byte(yaml), 0644); err != nil {
		t.Fatal(err)
	}

	config, err := getConfig(filename)
	if err != nil {
		t.Fatal(err)
	}
	if config.Port != 9090 || config.CacheSize != 5 || config.Provider != "sqlite" {
		t.Fatalf("config is %+v", config)
	}
	if config.OriginTimeout != 3*time.Second {
		t.Fatalf("origin timeout is %s", config.OriginTimeout)
	}
	// not in the file
	if config.Workers != 10 || config.ExpirationDays != 20 {
		t.Fatalf("defaults lost: %+v", config)
	}
	if err := config.validate(); err != nil {
		t.Fatal(err)
	}
}

func TestGetConfigMissingFile(t *testing.T) {
	if _, err := getConfig(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected error")
	}
}

func TestValidate(t *testing.T) {
	for name, mutate := range map[string]func(*Config){
		"port":                func(c *Config) { c.Port = 0 },
		"workers":             func(c *Config) { c.Workers = -1 },
		"cache size":          func(c *Config) { c.CacheSize = 0 },
		"expiration":          func(c *Config) { c.ExpirationDays = -1 },
		"overlong expiration": func(c *Config) { c.ExpirationDays = 200000 },
		"provider":            func(c *Config) { c.Provider = "redis" },
	} {
		config := defaultConfig()
		mutate(&config)
		if err := config.validate(); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
	if err := defaultConfig().validate(); err != nil {
		t.Fatal(err)
	}
}
