// Package config wraps Viper behind a small interface so components can
// receive configuration by injection instead of reading process-global
// state.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config provides typed read access to configuration values.
type Config struct {
	v *viper.Viper
}

// New wraps an existing Viper instance.
func New(v *viper.Viper) *Config {
	return &Config{v: v}
}

// Load reads configuration from the given file path (optional), applies
// defaults, and enables RESONATE_* environment overrides.
func Load(path string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetEnvPrefix("RESONATE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %q: %w", path, err)
		}
	} else {
		v.SetConfigName("resonate")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/resonate")
		if err := v.ReadInConfig(); err != nil {
			// A missing config file is fine; defaults and env apply.
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}

	return New(v), nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":8340")
	v.SetDefault("database.path", "resonate.db")

	v.SetDefault("discovery.timeout", "10s")
	v.SetDefault("discovery.manufacturer", "Bose Corporation")
	v.SetDefault("discovery.manual_ips", "")

	v.SetDefault("sync.interval", "5m")
	v.SetDefault("sync.concurrency", 8)

	v.SetDefault("stations.base_url", "https://opml.radiotime.com")
	v.SetDefault("stations.max_retries", 3)
	v.SetDefault("stations.timeout", "5s")
}

// GetString returns the string value for the key.
func (c *Config) GetString(key string) string { return c.v.GetString(key) }

// GetInt returns the integer value for the key.
func (c *Config) GetInt(key string) int { return c.v.GetInt(key) }

// GetBool returns the boolean value for the key.
func (c *Config) GetBool(key string) bool { return c.v.GetBool(key) }

// GetDuration returns the duration value for the key.
func (c *Config) GetDuration(key string) time.Duration { return c.v.GetDuration(key) }

// IsSet reports whether the key has a value (default, file, or env).
func (c *Config) IsSet(key string) bool { return c.v.IsSet(key) }

// Sub returns the configuration subtree rooted at key, or nil if the
// subtree does not exist.
func (c *Config) Sub(key string) *Config {
	sub := c.v.Sub(key)
	if sub == nil {
		return nil
	}
	return New(sub)
}

// ManualIPs parses the discovery.manual_ips value: a comma-separated list
// of IP addresses. Empty string yields an empty list; surrounding
// whitespace and empty segments are dropped.
func (c *Config) ManualIPs() []string {
	raw := c.v.GetString("discovery.manual_ips")
	ips := []string{}
	for _, part := range strings.Split(raw, ",") {
		if ip := strings.TrimSpace(part); ip != "" {
			ips = append(ips, ip)
		}
	}
	return ips
}
