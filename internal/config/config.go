package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Default values for the server configuration.
const (
	DefaultHTTPPort         = 8080
	DefaultChannel          = "general"
	DefaultHistoryRetention = 300
	DefaultHistoryWindow    = 100
	DefaultMessageMaxLen    = 500
	DefaultUsernameMaxLen   = 24
)

// defaultChannels is the channel set used when the config names none.
var defaultChannels = []string{"general", "random", "announcements"}

// Config holds the server configuration parsed from the `server:` section
// of config.yaml.
type Config struct {
	Server ServerConfig `yaml:"server"`
}

// ServerConfig holds all server-side settings.
type ServerConfig struct {
	// HTTPPort is the port the REST API and WebSocket endpoint listen on
	// (default 8080).
	HTTPPort int `yaml:"http_port"`

	// Channels is the fixed set of channel names, created at startup and
	// never changed at runtime. Names are lowercased on load.
	// Default: general, random, announcements.
	Channels []string `yaml:"channels"`

	// DefaultChannel is the channel every new session starts in
	// (default "general"). Must be one of Channels.
	DefaultChannel string `yaml:"default_channel"`

	// History controls per-channel message retention.
	History HistoryConfig `yaml:"history"`

	// Limits caps user-supplied input lengths. Unlike the rest of the
	// config, limits may be applied to a running server on reload.
	Limits LimitsConfig `yaml:"limits"`
}

// HistoryConfig controls per-channel message retention.
type HistoryConfig struct {
	// Retention is the maximum number of messages kept in memory per
	// channel; the oldest message is evicted past this cap (default 300).
	Retention int `yaml:"retention"`

	// Window is the maximum number of recent messages sent to a client on
	// bootstrap or channel switch. Must not exceed Retention (default 100).
	Window int `yaml:"window"`
}

// LimitsConfig caps user-supplied input lengths, counted in runes.
type LimitsConfig struct {
	// MessageMaxLen is the maximum message text length (default 500).
	MessageMaxLen int `yaml:"message_max_len"`

	// UsernameMaxLen is the maximum username length (default 24).
	UsernameMaxLen int `yaml:"username_max_len"`
}

// Load reads and parses the config file at path. Missing fields are filled
// with sensible defaults before validation; channel names are normalized
// to lowercase.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %q: %w", path, err)
	}

	cfg := defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse yaml: %w", err)
	}

	normalize(cfg)
	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	return cfg, nil
}

// defaults returns a Config pre-populated with default values.
func defaults() *Config {
	return &Config{
		Server: ServerConfig{
			HTTPPort:       DefaultHTTPPort,
			DefaultChannel: DefaultChannel,
			History: HistoryConfig{
				Retention: DefaultHistoryRetention,
				Window:    DefaultHistoryWindow,
			},
			Limits: LimitsConfig{
				MessageMaxLen:  DefaultMessageMaxLen,
				UsernameMaxLen: DefaultUsernameMaxLen,
			},
		},
	}
}

// normalize lowercases and trims channel names and fills the channel list
// with the default set when the config names none.
func normalize(cfg *Config) {
	if len(cfg.Server.Channels) == 0 {
		cfg.Server.Channels = append([]string(nil), defaultChannels...)
	}
	for i, name := range cfg.Server.Channels {
		cfg.Server.Channels[i] = strings.ToLower(strings.TrimSpace(name))
	}
	cfg.Server.DefaultChannel = strings.ToLower(strings.TrimSpace(cfg.Server.DefaultChannel))
}

// validate checks structural constraints on the parsed configuration.
func validate(cfg *Config) error {
	s := cfg.Server

	if s.HTTPPort <= 0 || s.HTTPPort > 65535 {
		return fmt.Errorf("server.http_port %d is out of range [1, 65535]", s.HTTPPort)
	}

	seen := make(map[string]bool, len(s.Channels))
	for _, name := range s.Channels {
		if name == "" {
			return fmt.Errorf("server.channels must not contain empty names")
		}
		if seen[name] {
			return fmt.Errorf("server.channels lists %q more than once", name)
		}
		seen[name] = true
	}
	if !seen[s.DefaultChannel] {
		return fmt.Errorf("server.default_channel %q is not in server.channels", s.DefaultChannel)
	}

	if s.History.Retention <= 0 {
		return fmt.Errorf("server.history.retention must be positive")
	}
	if s.History.Window <= 0 {
		return fmt.Errorf("server.history.window must be positive")
	}
	if s.History.Window > s.History.Retention {
		return fmt.Errorf("server.history.window %d exceeds retention %d",
			s.History.Window, s.History.Retention)
	}
	if s.Limits.MessageMaxLen <= 0 {
		return fmt.Errorf("server.limits.message_max_len must be positive")
	}
	if s.Limits.UsernameMaxLen <= 0 {
		return fmt.Errorf("server.limits.username_max_len must be positive")
	}
	return nil
}
