package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	toml "github.com/pelletier/go-toml/v2"
)

const defaultServer = "http://localhost:8080"

// Config is stored in $XDG_CONFIG_HOME/duochat/config.toml.
type Config struct {
	Server ServerConfig `toml:"server"`
	Auth   AuthConfig   `toml:"auth"`
}

type ServerConfig struct {
	URL string `toml:"url"`
}

type AuthConfig struct {
	Token     string    `toml:"token"`
	UserID    string    `toml:"user_id"`
	Username  string    `toml:"username"`
	ExpiresAt time.Time `toml:"expires_at"`
}

func cfgDir() string {
	if v := os.Getenv("XDG_CONFIG_HOME"); v != "" {
		return filepath.Join(v, "duochat")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "duochat")
}

func cfgPath() string { return filepath.Join(cfgDir(), "config.toml") }

// loadConfig returns defaults when the file does not exist yet.
func loadConfig() (*Config, error) {
	cfg := &Config{Server: ServerConfig{URL: defaultServer}}
	b, err := os.ReadFile(cfgPath())
	if errors.Is(err, os.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return nil, err
	}
	if err := toml.Unmarshal(b, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", cfgPath(), err)
	}
	if cfg.Server.URL == "" {
		cfg.Server.URL = defaultServer
	}
	return cfg, nil
}

func saveConfig(cfg *Config) error {
	if err := os.MkdirAll(cfgDir(), 0o700); err != nil {
		return err
	}
	b, err := toml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(cfgPath(), b, 0o600)
}

// token returns the saved token unless it is missing or expired.
func (c *Config) token() (string, error) {
	if c.Auth.Token == "" || time.Now().After(c.Auth.ExpiresAt) {
		return "", errors.New("no valid token (login required)")
	}
	return c.Auth.Token, nil
}

// set changes one key in section.field form.
func (c *Config) set(key, value string) error {
	switch key {
	case "server.url":
		c.Server.URL = value
	default:
		return fmt.Errorf("unknown or read-only key %q (settable: server.url)", key)
	}
	return nil
}

// redacted renders the config as TOML without the token.
func (c Config) redacted() ([]byte, error) {
	if c.Auth.Token != "" {
		c.Auth.Token = "<redacted>"
	}
	return toml.Marshal(c)
}
