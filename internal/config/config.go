// Package config loads the daemon configuration from an optional TOML file
// and SLOTPOST_* environment overrides.
package config

import (
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/adhocore/gronx"
	toml "github.com/pelletier/go-toml/v2"
	"github.com/slotpost/slotpost/common"
	"github.com/slotpost/slotpost/internal/remotesync"
	"github.com/slotpost/slotpost/internal/scheduler"
	"github.com/slotpost/slotpost/internal/slots"
)

const defaultConfigPath = "~/.config/slotpost/config.toml"

var (
	// ErrMissingCredentials is returned when a publish URL is configured
	// without a login or a session id.
	ErrMissingCredentials = errors.New("publish url needs a username and password or a session id")
	// ErrInvalidPort is returned for ports outside 1-65535.
	ErrInvalidPort = errors.New("port out of range")
	// ErrInvalidCron is returned for malformed cron expressions.
	ErrInvalidCron = errors.New("invalid cron expression")
)

// ConfigError names the first invalid field. It is fatal at startup.
type ConfigError struct {
	Field string
	Err   error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config: %s: %v", e.Field, e.Err)
}

func (e *ConfigError) Unwrap() error { return e.Err }

// Remote configures the remote content store.
type Remote struct {
	URL         string
	KeyPath     string
	S3AccessKey string
	S3SecretKey string
	S3Region    string
}

// Publish configures the publishing relay. An empty URL selects the
// dry-run publisher.
type Publish struct {
	URL       string
	Username  string
	Password  string
	SessionID string
}

// Config is the resolved daemon configuration.
type Config struct {
	PostTimes     []string
	Timezone      string
	ContentPath   string
	DataPath      string
	APIHost       string
	APIPort       int
	RPCSecret     string
	SyncCron      string
	KeepAliveCron string
	KeepAliveURL  string
	CaptionHook   string
	LogFile       bool
	Debug         bool
	Remote        Remote
	Publish       Publish

	// Source is the config file that was read, empty when none existed.
	Source string

	loc *time.Location
}

type rawConfig struct {
	Schedule struct {
		PostTimes     []string `toml:"post_times"`
		Timezone      string   `toml:"timezone"`
		SyncCron      string   `toml:"sync_cron"`
		KeepAliveCron string   `toml:"keepalive_cron"`
	} `toml:"schedule"`
	Paths struct {
		Content string `toml:"content"`
		Data    string `toml:"data"`
	} `toml:"paths"`
	API struct {
		Host      string `toml:"host"`
		Port      int    `toml:"port"`
		RPCSecret string `toml:"rpc_secret"`
	} `toml:"api"`
	Remote struct {
		URL       string `toml:"url"`
		KeyPath   string `toml:"key_path"`
		AccessKey string `toml:"access_key"`
		SecretKey string `toml:"secret_key"`
		Region    string `toml:"region"`
	} `toml:"remote"`
	Publish struct {
		URL       string `toml:"url"`
		Username  string `toml:"username"`
		Password  string `toml:"password"`
		SessionID string `toml:"session_id"`
	} `toml:"publish"`
	KeepAlive struct {
		URL string `toml:"url"`
	} `toml:"keepalive"`
	Hooks struct {
		Caption string `toml:"caption"`
	} `toml:"hooks"`
	Log struct {
		File  bool `toml:"file"`
		Debug bool `toml:"debug"`
	} `toml:"log"`
}

// Default returns the configuration used when neither a file nor the
// environment set anything.
func Default() *Config {
	return &Config{
		PostTimes:     append([]string{}, common.DefaultPostTimes...),
		Timezone:      common.DefaultTimezone,
		ContentPath:   common.DefaultContentPath,
		DataPath:      common.DefaultDataPath,
		APIHost:       common.DefaultAPIHost,
		APIPort:       common.DefaultAPIPort,
		SyncCron:      scheduler.DefaultSyncCron,
		KeepAliveCron: scheduler.DefaultKeepAliveCron,
	}
}

// Load reads path (or $SLOTPOST_CONFIG, or the default location), applies
// environment overrides and validates the result. A missing file is not an
// error.
func Load(path string) (*Config, error) {
	if strings.TrimSpace(path) == "" {
		path = os.Getenv(common.ConfigPathEnv)
	}
	if strings.TrimSpace(path) == "" {
		path = defaultConfigPath
	}
	resolved, err := expandPath(path)
	if err != nil {
		return nil, err
	}

	cfg := Default()
	file, err := os.Open(resolved)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("open config: %w", err)
	default:
		defer file.Close()
		if err := cfg.readTOML(file); err != nil {
			return nil, err
		}
		cfg.Source = resolved
	}

	if err := cfg.applyEnv(os.Getenv); err != nil {
		return nil, err
	}
	cfg.ContentPath = mustExpand(cfg.ContentPath)
	cfg.DataPath = mustExpand(cfg.DataPath)
	if cfg.Remote.KeyPath != "" {
		cfg.Remote.KeyPath = mustExpand(cfg.Remote.KeyPath)
	}
	if cfg.CaptionHook != "" {
		cfg.CaptionHook = mustExpand(cfg.CaptionHook)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) readTOML(r io.Reader) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}
	var raw rawConfig
	if err := toml.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("parse config: %w", err)
	}

	if raw.Schedule.PostTimes != nil {
		c.PostTimes = trimAll(raw.Schedule.PostTimes)
	}
	setString(&c.Timezone, raw.Schedule.Timezone)
	setString(&c.SyncCron, raw.Schedule.SyncCron)
	setString(&c.KeepAliveCron, raw.Schedule.KeepAliveCron)
	setString(&c.ContentPath, raw.Paths.Content)
	setString(&c.DataPath, raw.Paths.Data)
	setString(&c.APIHost, raw.API.Host)
	if raw.API.Port != 0 {
		c.APIPort = raw.API.Port
	}
	setString(&c.RPCSecret, raw.API.RPCSecret)
	setString(&c.Remote.URL, raw.Remote.URL)
	setString(&c.Remote.KeyPath, raw.Remote.KeyPath)
	setString(&c.Remote.S3AccessKey, raw.Remote.AccessKey)
	setString(&c.Remote.S3SecretKey, raw.Remote.SecretKey)
	setString(&c.Remote.S3Region, raw.Remote.Region)
	setString(&c.Publish.URL, raw.Publish.URL)
	setString(&c.Publish.Username, raw.Publish.Username)
	setString(&c.Publish.Password, raw.Publish.Password)
	setString(&c.Publish.SessionID, raw.Publish.SessionID)
	setString(&c.KeepAliveURL, raw.KeepAlive.URL)
	setString(&c.CaptionHook, raw.Hooks.Caption)
	c.LogFile = raw.Log.File
	c.Debug = raw.Log.Debug
	return nil
}

// applyEnv overlays SLOTPOST_* variables. getenv is os.Getenv outside tests.
func (c *Config) applyEnv(getenv func(string) string) error {
	if v := strings.TrimSpace(getenv(common.PostTimesEnv)); v != "" {
		c.PostTimes = trimAll(strings.Split(v, ","))
	}
	setString(&c.Timezone, getenv(common.TimezoneEnv))
	setString(&c.ContentPath, getenv(common.ContentPathEnv))
	setString(&c.DataPath, getenv(common.DataPathEnv))
	setString(&c.APIHost, getenv(common.APIHostEnv))
	if v := strings.TrimSpace(getenv(common.APIPortEnv)); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return &ConfigError{Field: common.APIPortEnv, Err: err}
		}
		c.APIPort = port
	}
	setString(&c.RPCSecret, getenv(common.RPCSecretEnv))
	setString(&c.Remote.URL, getenv(common.RemoteURLEnv))
	setString(&c.Remote.KeyPath, getenv(common.RemoteKeyPathEnv))
	setString(&c.Remote.S3AccessKey, getenv(common.S3AccessKeyEnv))
	setString(&c.Remote.S3SecretKey, getenv(common.S3SecretKeyEnv))
	setString(&c.Remote.S3Region, getenv(common.S3RegionEnv))
	setString(&c.Publish.URL, getenv(common.PublishURLEnv))
	setString(&c.Publish.Username, getenv(common.PublishUsernameEnv))
	setString(&c.Publish.Password, getenv(common.PublishPasswordEnv))
	setString(&c.Publish.SessionID, getenv(common.SessionIDEnv))
	setString(&c.KeepAliveURL, getenv(common.KeepAliveURLEnv))
	if c.KeepAliveURL == "" {
		setString(&c.KeepAliveURL, getenv(common.RenderExternalURLEnv))
	}
	setString(&c.CaptionHook, getenv(common.CaptionHookEnv))
	if v := getenv(common.LogFileEnv); v != "" {
		c.LogFile = truthy(v)
	}
	if v := getenv(common.DebugEnv); v != "" {
		c.Debug = truthy(v)
	}
	return nil
}

// Validate checks every field and returns a *ConfigError for the first bad
// one. It also caches the loaded timezone for Location.
func (c *Config) Validate() error {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return &ConfigError{Field: "schedule.timezone", Err: err}
	}
	for _, t := range c.PostTimes {
		if _, _, _, err := slots.ParseSlot(t); err != nil {
			return &ConfigError{Field: "schedule.post_times", Err: err}
		}
	}
	if !gronx.IsValid(c.SyncCron) {
		return &ConfigError{Field: "schedule.sync_cron", Err: fmt.Errorf("%w: %q", ErrInvalidCron, c.SyncCron)}
	}
	if !gronx.IsValid(c.KeepAliveCron) {
		return &ConfigError{Field: "schedule.keepalive_cron", Err: fmt.Errorf("%w: %q", ErrInvalidCron, c.KeepAliveCron)}
	}
	if c.APIPort < 1 || c.APIPort > 65535 {
		return &ConfigError{Field: "api.port", Err: fmt.Errorf("%w: %d", ErrInvalidPort, c.APIPort)}
	}
	if c.Remote.URL != "" {
		u, err := url.Parse(c.Remote.URL)
		if err != nil {
			return &ConfigError{Field: "remote.url", Err: err}
		}
		if !remotesync.SupportedScheme(u.Scheme) {
			return &ConfigError{Field: "remote.url", Err: fmt.Errorf("%w: %q", remotesync.ErrUnsupportedScheme, u.Scheme)}
		}
	}
	if c.Publish.URL != "" {
		if _, err := url.ParseRequestURI(c.Publish.URL); err != nil {
			return &ConfigError{Field: "publish.url", Err: err}
		}
		hasLogin := c.Publish.Username != "" && c.Publish.Password != ""
		if !hasLogin && c.Publish.SessionID == "" {
			return &ConfigError{Field: "publish", Err: ErrMissingCredentials}
		}
	}
	c.loc = loc
	return nil
}

// Location returns the configured timezone. Call Validate (or Load) first;
// before that it is UTC.
func (c *Config) Location() *time.Location {
	if c.loc == nil {
		return time.UTC
	}
	return c.loc
}

// ListenAddr returns host:port for the admin listener.
func (c *Config) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.APIHost, c.APIPort)
}

// BaseURL is the admin URL used by the command-line client.
func (c *Config) BaseURL() string {
	host := c.APIHost
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "127.0.0.1"
	}
	return fmt.Sprintf("http://%s:%d", host, c.APIPort)
}

func (c *Config) StatePath() string      { return filepath.Join(c.DataPath, "state.json") }
func (c *Config) HistoryPath() string    { return filepath.Join(c.DataPath, "posted.json") }
func (c *Config) LedgerPath() string     { return filepath.Join(c.DataPath, "ledger.db") }
func (c *Config) SessionPath() string    { return filepath.Join(c.DataPath, "session.json") }
func (c *Config) KnownHostsPath() string { return filepath.Join(c.DataPath, "known_hosts") }
func (c *Config) LogPath() string        { return filepath.Join(c.DataPath, "slotpost.log") }

// NormalizeDir is where normalized images are written before upload.
func (c *Config) NormalizeDir() string { return filepath.Join(c.DataPath, "normalized") }

func setString(dst *string, v string) {
	if v = strings.TrimSpace(v); v != "" {
		*dst = v
	}
}

func trimAll(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func truthy(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "on":
		return true
	}
	return false
}

func mustExpand(path string) string {
	expanded, err := expandPath(path)
	if err != nil {
		return path
	}
	return expanded
}

func expandPath(path string) (string, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return "", fmt.Errorf("path is empty")
	}
	if strings.HasPrefix(trimmed, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home dir: %w", err)
		}
		trimmed = filepath.Join(home, strings.TrimPrefix(trimmed, "~"))
	}
	return filepath.Abs(trimmed)
}
