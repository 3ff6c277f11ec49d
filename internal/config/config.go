package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/hashicorp/go-multierror"
	"github.com/joho/godotenv"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "PAPERCHAT_"

// Duration is a time.Duration written as "3s" in TOML.
type Duration struct {
	time.Duration
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

// Config represents ~/.paperchat/config.toml.
type Config struct {
	DefaultSession string          `toml:"default_session"`
	Server         ServerConfig    `toml:"server"`
	Account        AccountConfig   `toml:"account"`
	Chat           ChatConfig      `toml:"chat"`
	Reconnect      ReconnectConfig `toml:"reconnect"`
	Outbox         OutboxConfig    `toml:"outbox"`
	Log            LogConfig       `toml:"log"`
}

// ServerConfig locates the chat backend.
type ServerConfig struct {
	APIURL  string `toml:"api_url"`
	LiveURL string `toml:"live_url"`
}

// AccountConfig is the identity the daemon logs in with at startup. An empty
// user id leaves the daemon idle until a Login call.
type AccountConfig struct {
	UserID   string `toml:"user_id"`
	UserName string `toml:"user_name"`
	Token    string `toml:"token"`
}

// ChatConfig tunes the engine.
type ChatConfig struct {
	TypingWindow   Duration `toml:"typing_window"`
	RequestTimeout Duration `toml:"request_timeout"`
	HistoryLimit   int      `toml:"history_limit"`
}

// ReconnectConfig tunes live reconnection.
type ReconnectConfig struct {
	InitialInterval Duration `toml:"initial_interval"`
	MaxInterval     Duration `toml:"max_interval"`
	MaxAttempts     int      `toml:"max_attempts"`
}

// OutboxConfig tunes the durable write queue.
type OutboxConfig struct {
	Interval  Duration `toml:"interval"`
	Retention Duration `toml:"retention"`
}

// LogConfig selects the log level.
type LogConfig struct {
	Level string `toml:"level"`
}

// Default returns the configuration used when no file exists.
func Default() *Config {
	return &Config{
		DefaultSession: "main",
		Server: ServerConfig{
			APIURL:  "http://localhost:5000/api",
			LiveURL: "ws://localhost:5000/live",
		},
		Chat: ChatConfig{
			TypingWindow:   Duration{3 * time.Second},
			RequestTimeout: Duration{15 * time.Second},
			HistoryLimit:   200,
		},
		Reconnect: ReconnectConfig{
			InitialInterval: Duration{time.Second},
			MaxInterval:     Duration{5 * time.Second},
			MaxAttempts:     5,
		},
		Outbox: OutboxConfig{
			Interval:  Duration{500 * time.Millisecond},
			Retention: Duration{7 * 24 * time.Hour},
		},
		Log: LogConfig{Level: "info"},
	}
}

// Load reads config from the given path. Returns nil and an error if the
// file is missing.
func Load(path string) (*Config, error) {
	cfg := Default()
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Resolve builds the effective configuration: defaults, then the TOML file
// at path if present, then a .env file next to it, then the process
// environment. Process variables win over .env entries.
func Resolve(path string) (*Config, error) {
	cfg, err := Load(path)
	if errors.Is(err, fs.ErrNotExist) {
		cfg, err = Default(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", path, err)
	}

	dotenv, err := godotenv.Read(filepath.Join(filepath.Dir(path), ".env"))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("read .env: %w", err)
	}
	lookup := func(key string) (string, bool) {
		if v, ok := os.LookupEnv(EnvPrefix + key); ok {
			return v, true
		}
		v, ok := dotenv[EnvPrefix+key]
		return v, ok
	}
	if err := cfg.applyEnv(lookup); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	strs := map[string]*string{
		"SESSION":   &c.DefaultSession,
		"API_URL":   &c.Server.APIURL,
		"LIVE_URL":  &c.Server.LiveURL,
		"USER_ID":   &c.Account.UserID,
		"USER_NAME": &c.Account.UserName,
		"TOKEN":     &c.Account.Token,
		"LOG_LEVEL": &c.Log.Level,
	}
	for key, dst := range strs {
		if v, ok := lookup(key); ok {
			*dst = v
		}
	}
	durs := map[string]*Duration{
		"TYPING_WINDOW":   &c.Chat.TypingWindow,
		"REQUEST_TIMEOUT": &c.Chat.RequestTimeout,
	}
	for key, dst := range durs {
		if v, ok := lookup(key); ok {
			if err := dst.UnmarshalText([]byte(v)); err != nil {
				return fmt.Errorf("%s%s: %w", EnvPrefix, key, err)
			}
		}
	}
	if v, ok := lookup("RECONNECT_ATTEMPTS"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%sRECONNECT_ATTEMPTS: %w", EnvPrefix, err)
		}
		c.Reconnect.MaxAttempts = n
	}
	return nil
}

// Validate rejects settings the daemon cannot run with.
func (c *Config) Validate() error {
	var result *multierror.Error
	if c.Server.APIURL == "" {
		result = multierror.Append(result, errors.New("server.api_url is required"))
	}
	if c.Server.LiveURL == "" {
		result = multierror.Append(result, errors.New("server.live_url is required"))
	}
	if c.Chat.TypingWindow.Duration <= 0 {
		result = multierror.Append(result, errors.New("chat.typing_window must be positive"))
	}
	if c.Reconnect.MaxAttempts < 0 {
		result = multierror.Append(result, errors.New("reconnect.max_attempts must not be negative"))
	}
	return result.ErrorOrNil()
}

// Save writes config to the given path, creating parent dirs as needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	encErr := toml.NewEncoder(f).Encode(cfg)
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		return closeErr
	}
	return encErr
}
