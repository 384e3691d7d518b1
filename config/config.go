// config/config.go
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/watchful-im/warden/policy"
)

type Config struct {
	Log         LogConfig         `toml:"log"`
	DB          DBConfig          `toml:"database"`
	Homeserver  HomeserverConfig  `toml:"homeserver"`
	Moderation  ModerationConfig  `toml:"moderation"`
	Protections ProtectionsConfig `toml:"protections"`
	Metrics     MetricsConfig     `toml:"metrics"`
}

type LogLevel string

const (
	DebugLevel LogLevel = "debug"
	InfoLevel  LogLevel = "info"
	WarnLevel  LogLevel = "warn"
	ErrorLevel LogLevel = "error"
)

func (l *LogLevel) UnmarshalText(text []byte) error {
	v := string(text)
	switch LogLevel(v) {
	case DebugLevel, InfoLevel, WarnLevel, ErrorLevel:
		*l = LogLevel(v)
		return nil
	default:
		return fmt.Errorf("invalid log.level: %q (must be debug, info, warn, error)", v)
	}
}

func (l LogLevel) String() string { return string(l) }

func (l LogLevel) ToSlogLevel() slog.Level {
	switch l {
	case DebugLevel:
		return slog.LevelDebug
	case WarnLevel:
		return slog.LevelWarn
	case ErrorLevel:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

type LogConfig struct {
	Level LogLevel `toml:"level"`
}

type DBConfig struct {
	Path string `toml:"path"`
}

type HomeserverConfig struct {
	URL         string `toml:"url"`
	UserID      string `toml:"user_id"`
	AccessToken string `toml:"access_token"`
}

// ListConfig names one rule list and the room its rules are published in.
type ListConfig struct {
	Shortcode string `toml:"shortcode"`
	Room      string `toml:"room"`
}

type ModerationConfig struct {
	ManagementRoom string       `toml:"management_room"`
	ProtectedRooms []string     `toml:"protected_rooms"`
	Lists          []ListConfig `toml:"lists"`

	CommandPrefix string `toml:"command_prefix"`

	// FasterMembershipChecks trades membership accuracy (no leave/ban
	// state) for cheaper reconciliation passes.
	FasterMembershipChecks bool `toml:"faster_membership_checks"`
	IgnoreLeftUsers        bool `toml:"ignore_left_users"`
	// Noop makes every mutating call log-only while keeping the control
	// flow identical.
	Noop bool `toml:"noop"`

	AutomaticRedactReasons []string      `toml:"automatic_redact_reasons"`
	ReconcileInterval      time.Duration `toml:"reconcile_interval"`
}

type ProtectionsConfig struct {
	// Enabled protections are turned on at startup in addition to whatever
	// was persisted from earlier runs.
	Enabled    []string                `toml:"enabled"`
	Flood      policy.FloodConfig      `toml:"flood"`
	FirstMedia policy.FirstMediaConfig `toml:"first_media"`
}

type MetricsConfig struct {
	// Listen is the address of the Prometheus endpoint; empty disables it.
	Listen string `toml:"listen"`
}

func defaultConfig() *Config {
	return &Config{
		DB: DBConfig{
			Path: "./warden-db",
		},
		Moderation: ModerationConfig{
			CommandPrefix:     "!warden",
			ReconcileInterval: time.Hour,
		},
	}
}

func (c *Config) validate() error {
	// --- [homeserver] ---
	if c.Homeserver.URL == "" {
		return errors.New("homeserver.url must be set")
	}
	if c.Homeserver.UserID == "" {
		return errors.New("homeserver.user_id must be set")
	}
	if c.Homeserver.AccessToken == "" {
		return errors.New("homeserver.access_token must be set")
	}

	// --- [moderation] ---
	if c.Moderation.ManagementRoom == "" {
		return errors.New("moderation.management_room must be set")
	}
	if c.Moderation.ReconcileInterval < 0 {
		return errors.New("moderation.reconcile_interval must not be negative")
	}
	seen := make(map[string]struct{}, len(c.Moderation.Lists))
	for _, list := range c.Moderation.Lists {
		if list.Shortcode == "" || list.Room == "" {
			return errors.New("moderation.lists entries need both shortcode and room")
		}
		key := strings.ToLower(list.Shortcode)
		if _, dup := seen[key]; dup {
			return fmt.Errorf("moderation.lists shortcode %q is not unique (shortcodes are case-insensitive)", list.Shortcode)
		}
		seen[key] = struct{}{}
	}

	// --- [protections] ---
	if f := c.Protections.Flood; f.MaxPerInterval < 0 || f.Interval < 0 || f.TimestampSkew < 0 {
		return errors.New("protections.flood values must not be negative")
	}

	return nil
}

// Load reads and validates the configuration file. When useDefaults is set
// and the file is missing, the internal defaults are returned instead; the
// second return value reports whether that happened.
func Load(path string, useDefaults bool) (*Config, bool, error) {
	cfg := defaultConfig()

	meta, err := toml.DecodeFile(path, cfg)
	if err != nil {
		if useDefaults && errors.Is(err, fs.ErrNotExist) {
			slog.Warn("Config file not found, using internal defaults", "path", path)
			return cfg, true, nil
		}
		return nil, false, fmt.Errorf("failed to decode config file %s: %w", path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		slog.Warn("Config file contains unknown keys", "keys", undecoded)
	}

	if err := cfg.validate(); err != nil {
		return nil, false, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, false, nil
}
