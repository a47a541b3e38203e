package main

import (
	"crypto/ed25519"
	"encoding/base64"
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
)

// Config is the on-disk client configuration.
type Config struct {
	DeviceName    string   `toml:"device_name"`
	DataDir       string   `toml:"data_dir"`
	ResolverURL   string   `toml:"resolver_url"`
	FallbackAPs   []string `toml:"fallback_aps"`
	ServerKey     string   `toml:"server_key"` // base64 ed25519 public key
	DiscoveryPort int      `toml:"discovery_port"`
	PairingSecret string   `toml:"pairing_secret"`
	Username      string   `toml:"username"`
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() *Config {
	return &Config{
		DeviceName:    "Cadenza",
		DataDir:       "./data",
		FallbackAPs:   []string{"ap.cadenzacast.net:4070"},
		DiscoveryPort: 5439,
	}
}

// LoadConfig reads the TOML config file, layering it over the defaults.
// A missing file is not an error; the defaults apply.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}

	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// DecodeServerKey parses the configured service signing key.
func (c *Config) DecodeServerKey() (ed25519.PublicKey, error) {
	if c.ServerKey == "" {
		return nil, fmt.Errorf("server_key is not configured")
	}

	raw, err := base64.StdEncoding.DecodeString(c.ServerKey)
	if err != nil {
		return nil, fmt.Errorf("server_key is not valid base64: %w", err)
	}
	if len(raw) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("server_key is %d bytes, want %d", len(raw), ed25519.PublicKeySize)
	}
	return ed25519.PublicKey(raw), nil
}
