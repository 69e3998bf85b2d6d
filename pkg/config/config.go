// Package config handles driver configuration via environment variables and
// YAML files.
//
// Configuration follows the same conventions as the NornicDB server:
// environment variables for deployment workflows, with driver-specific
// variables prefixed NORNIC_. A YAML file can supply the same settings for
// tooling that keeps per-server profiles.
//
// Example Usage:
//
//	cfg := config.Default()
//	cfg.URI = "bolt://localhost:7687"
//	cfg.Username = "neo4j"
//	cfg.Password = "secret"
//	if err := cfg.Validate(); err != nil {
//		log.Fatalf("invalid config: %v", err)
//	}
//
// Environment Variables:
//   - NORNIC_URI="bolt://localhost:7687"
//   - NORNIC_AUTH="username/password" or "none"
//   - NORNIC_MAX_CONNECTIONS=16
//   - NORNIC_FETCH_SIZE=1000
//   - NORNIC_CONNECT_TIMEOUT=5s
package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds everything needed to open a driver: the endpoint, the
// credentials sent with HELLO, and pool/stream tuning.
type Config struct {
	// URI locates the server: "bolt://host:port" or a bare "host:port".
	URI string `yaml:"uri"`

	// Username and Password authenticate the HELLO message. An empty
	// username connects with the "none" scheme.
	Username string `yaml:"username"`
	Password string `yaml:"password"`

	// UserAgent identifies this client to the server.
	UserAgent string `yaml:"user_agent"`

	// MaxConnections bounds the connection pool.
	MaxConnections int `yaml:"max_connections"`

	// FetchSize is the number of records requested per PULL.
	// Negative pulls everything in one batch.
	FetchSize int `yaml:"fetch_size"`

	// ConnectTimeout bounds the TCP dial of each new connection.
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
}

// Default returns the driver defaults: localhost on the standard Bolt port,
// no auth, a 16-connection pool.
func Default() Config {
	return Config{
		URI:            "bolt://localhost:7687",
		UserAgent:      "nornic-go/0.1.0",
		MaxConnections: 16,
		FetchSize:      1000,
		ConnectTimeout: 5 * time.Second,
	}
}

// LoadFromEnv builds a Config from environment variables, starting from the
// defaults. Unset variables keep their default.
func LoadFromEnv() Config {
	cfg := Default()

	if uri := os.Getenv("NORNIC_URI"); uri != "" {
		cfg.URI = uri
	}
	if auth := os.Getenv("NORNIC_AUTH"); auth != "" && auth != "none" {
		if user, pass, ok := strings.Cut(auth, "/"); ok {
			cfg.Username = user
			cfg.Password = pass
		}
	}
	if v := os.Getenv("NORNIC_MAX_CONNECTIONS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.MaxConnections = n
		}
	}
	if v := os.Getenv("NORNIC_FETCH_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.FetchSize = n
		}
	}
	if v := os.Getenv("NORNIC_CONNECT_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.ConnectTimeout = d
		}
	}
	return cfg
}

// LoadFile reads a YAML config file, layered over the defaults.
func LoadFile(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config file %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks the configuration for internal consistency.
func (c Config) Validate() error {
	if c.URI == "" {
		return fmt.Errorf("config: uri is required")
	}
	if _, err := c.Address(); err != nil {
		return err
	}
	if c.MaxConnections < 1 {
		return fmt.Errorf("config: max_connections must be at least 1, got %d", c.MaxConnections)
	}
	if c.ConnectTimeout < 0 {
		return fmt.Errorf("config: connect_timeout must not be negative")
	}
	return nil
}

// Address resolves the URI to a host:port dial target. Accepted forms are
// "bolt://host:port", "bolt://host" (default port 7687) and "host:port".
func (c Config) Address() (string, error) {
	uri := c.URI
	if !strings.Contains(uri, "://") {
		if !strings.Contains(uri, ":") {
			return "", fmt.Errorf("config: uri %q has no port and no scheme", uri)
		}
		return uri, nil
	}
	u, err := url.Parse(uri)
	if err != nil {
		return "", fmt.Errorf("config: invalid uri %q: %w", uri, err)
	}
	if u.Scheme != "bolt" {
		return "", fmt.Errorf("config: unsupported scheme %q, only bolt:// is supported", u.Scheme)
	}
	host := u.Host
	if host == "" {
		return "", fmt.Errorf("config: uri %q has no host", uri)
	}
	if u.Port() == "" {
		host += ":7687"
	}
	return host, nil
}
