// Package config holds runtime settings and loads them from a TOML file.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/bryan-buckman/feedwatch/internal/rss"
)

// Duration is a time.Duration written as a Go duration string ("5s").
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// Config is the full set of settings for the serve command.
type Config struct {
	Addr            string   `toml:"addr"`
	RefreshInterval Duration `toml:"refresh_interval"`
	RequestTimeout  Duration `toml:"request_timeout"`
	Concurrency     int      `toml:"concurrency"`
	MaxPerHost      int      `toml:"max_per_host"`
	Proxy           string   `toml:"proxy"`
	UserAgent       string   `toml:"user_agent"`
	LogLevel        string   `toml:"log_level"`
	LogJSON         bool     `toml:"log_json"`
	// Feeds are submitted once at startup.
	Feeds []string `toml:"feeds"`
}

// Default returns the built-in settings.
func Default() Config {
	return Config{
		Addr:            ":8080",
		RefreshInterval: Duration{rss.DefaultInterval},
		RequestTimeout:  Duration{rss.DefaultRequestTimeout},
		Concurrency:     rss.DefaultConcurrency,
		MaxPerHost:      rss.DefaultMaxPerHost,
		UserAgent:       "feedwatch/1.0",
		LogLevel:        "info",
	}
}

// LoadFile reads path over the defaults. Unknown keys are an error.
func LoadFile(path string) (Config, error) {
	cfg := Default()
	md, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return Config{}, fmt.Errorf("error parsing config file: %w", err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, 0, len(undecoded))
		for _, k := range undecoded {
			keys = append(keys, k.String())
		}
		return Config{}, fmt.Errorf("unknown config keys: %s", strings.Join(keys, ", "))
	}
	return cfg, nil
}

// Validate reports the first invalid setting.
func (c Config) Validate() error {
	switch {
	case c.RefreshInterval.Duration <= 0:
		return errors.New("refresh interval must be positive")
	case c.RequestTimeout.Duration <= 0:
		return errors.New("request timeout must be positive")
	case c.Concurrency < 1:
		return errors.New("concurrency must be at least 1")
	case c.MaxPerHost < 1:
		return errors.New("max per host must be at least 1")
	}
	return nil
}

// EngineOptions converts the settings used by the submission pipeline and
// the refresh loop.
func (c Config) EngineOptions() rss.Options {
	return rss.Options{
		Interval:       c.RefreshInterval.Duration,
		RequestTimeout: c.RequestTimeout.Duration,
		Concurrency:    c.Concurrency,
		MaxPerHost:     c.MaxPerHost,
	}
}
