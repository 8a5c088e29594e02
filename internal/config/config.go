package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

// Environment variables that override file values.
const (
	EnvConfigPath = "AGENDACAL_CONFIG"
	EnvAPIBaseURL = "AGENDACAL_API_BASE_URL"
	EnvListen     = "AGENDACAL_LISTEN"
	EnvLogLevel   = "LOG_LEVEL"
)

// DefaultPath is used when neither a flag nor AGENDACAL_CONFIG names a file.
const DefaultPath = "/etc/agendacal/config.yaml"

// BasicAuthConfig holds HTTP Basic Auth credentials for the local API.
type BasicAuthConfig struct {
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"password"`
}

// PrintConfig controls headless-Chromium rendering of the day sheet.
type PrintConfig struct {
	// PageURL is the page Chromium loads; empty means the local /print route.
	PageURL        string `yaml:"page_url" json:"page_url"`
	TimeoutSeconds int    `yaml:"chromium_timeout_seconds" json:"chromium_timeout_seconds"`
}

// Config is the top-level application configuration.
type Config struct {
	// Listen is the HTTP listen address of the local API.
	Listen string `yaml:"listen" json:"listen"`

	// APIBaseURL is the root of the remote scheduling backend, e.g.
	// "https://clinic.example.com/api".
	APIBaseURL string `yaml:"api_base_url" json:"api_base_url"`

	// Timezone is the IANA zone naive wire timestamps are read in.
	Timezone string `yaml:"timezone" json:"timezone"`

	// PreferencesDB is the SQLite file holding user preferences.
	PreferencesDB string `yaml:"preferences_db" json:"preferences_db"`

	// ICSCacheDir keeps conditional-GET copies of imported feeds.
	ICSCacheDir string `yaml:"ics_cache_dir" json:"ics_cache_dir"`

	// RefreshCron schedules background warm-up (directory, month prefetch,
	// holidays). Standard five-field cron syntax.
	RefreshCron string `yaml:"refresh" json:"refresh"`

	DirectoryTTLMinutes   int    `yaml:"directory_ttl_minutes" json:"directory_ttl_minutes"`
	FetchPaddingDays      int    `yaml:"fetch_padding_days" json:"fetch_padding_days"`
	RequestTimeoutSeconds int    `yaml:"request_timeout_seconds" json:"request_timeout_seconds"`
	LogLevel              string `yaml:"log_level" json:"log_level"`

	Print PrintConfig `yaml:"print" json:"print"`

	// BasicAuth, if non-nil, protects every endpoint except /health.
	BasicAuth *BasicAuthConfig `yaml:"basic_auth,omitempty" json:"basic_auth,omitempty"`
}

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	return &Config{
		Listen:                "127.0.0.1:8080",
		APIBaseURL:            "http://127.0.0.1:5000/api",
		Timezone:              "America/Sao_Paulo",
		PreferencesDB:         "/var/lib/agendacal/prefs.db",
		ICSCacheDir:           "/var/cache/agendacal/ics",
		RefreshCron:           "*/10 * * * *",
		DirectoryTTLMinutes:   5,
		FetchPaddingDays:      7,
		RequestTimeoutSeconds: 15,
		LogLevel:              "info",
		Print:                 PrintConfig{TimeoutSeconds: 30},
	}
}

// Normalize fills zero values with defaults so older or partial files work.
func (c *Config) Normalize() {
	d := DefaultConfig()
	if c.Listen == "" {
		c.Listen = d.Listen
	}
	if c.APIBaseURL == "" {
		c.APIBaseURL = d.APIBaseURL
	}
	c.APIBaseURL = strings.TrimRight(c.APIBaseURL, "/")
	if c.Timezone == "" {
		c.Timezone = d.Timezone
	}
	if c.PreferencesDB == "" {
		c.PreferencesDB = d.PreferencesDB
	}
	if c.RefreshCron == "" {
		c.RefreshCron = d.RefreshCron
	}
	if c.DirectoryTTLMinutes <= 0 {
		c.DirectoryTTLMinutes = d.DirectoryTTLMinutes
	}
	// Zero padding is legal; only negatives are reset.
	if c.FetchPaddingDays < 0 {
		c.FetchPaddingDays = d.FetchPaddingDays
	}
	if c.RequestTimeoutSeconds <= 0 {
		c.RequestTimeoutSeconds = d.RequestTimeoutSeconds
	}
	if c.LogLevel == "" {
		c.LogLevel = d.LogLevel
	}
	if c.Print.TimeoutSeconds <= 0 {
		c.Print.TimeoutSeconds = d.Print.TimeoutSeconds
	}
	if c.BasicAuth != nil && c.BasicAuth.Username == "" && c.BasicAuth.Password == "" {
		c.BasicAuth = nil
	}
}

// Validate reports settings that cannot be used as given.
func (c *Config) Validate() error {
	var errs []error
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		errs = append(errs, fmt.Errorf("timezone %q: %w", c.Timezone, err))
	}
	if _, err := cron.ParseStandard(c.RefreshCron); err != nil {
		errs = append(errs, fmt.Errorf("refresh %q: %w", c.RefreshCron, err))
	}
	if !strings.HasPrefix(c.APIBaseURL, "http://") && !strings.HasPrefix(c.APIBaseURL, "https://") {
		errs = append(errs, fmt.Errorf("api_base_url %q: must be http(s)", c.APIBaseURL))
	}
	return errors.Join(errs...)
}

// Location resolves Timezone, falling back to the process zone.
func (c *Config) Location() *time.Location {
	if loc, err := time.LoadLocation(c.Timezone); err == nil {
		return loc
	}
	return time.Local
}

func (c *Config) DirectoryTTL() time.Duration {
	return time.Duration(c.DirectoryTTLMinutes) * time.Minute
}

func (c *Config) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutSeconds) * time.Second
}

// PrintPageURL is the day-sheet page Chromium loads for date (YYYY-MM-DD).
// Basic auth credentials are carried in the URL so the headless browser
// passes the middleware.
func (c *Config) PrintPageURL(date string) string {
	base := c.Print.PageURL
	if base == "" {
		host := c.Listen
		if strings.HasPrefix(host, ":") {
			host = "127.0.0.1" + host
		}
		base = "http://" + host + "/print"
	}
	u, err := url.Parse(base)
	if err != nil {
		return base + "?date=" + url.QueryEscape(date)
	}
	q := u.Query()
	q.Set("date", date)
	u.RawQuery = q.Encode()
	if c.BasicAuth != nil && c.BasicAuth.Username != "" && c.BasicAuth.Password != "" && u.User == nil {
		u.User = url.UserPassword(c.BasicAuth.Username, c.BasicAuth.Password)
	}
	return u.String()
}

// ResolvePath picks the config file: explicit flag, then AGENDACAL_CONFIG,
// then DefaultPath.
func ResolvePath(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	if p := os.Getenv(EnvConfigPath); p != "" {
		return p
	}
	return DefaultPath
}

// LoadEnvFiles reads .env files into the process environment without
// overriding variables that are already set. Missing files are ignored.
func LoadEnvFiles(paths ...string) {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		_ = godotenv.Load(p)
	}
}

// Load loads configuration from the given YAML path and applies environment
// overrides.
//
// A missing file is created with defaults (0600) on first run.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
		cfg := DefaultConfig()
		if err := Save(path, cfg); err != nil {
			cfg.applyEnv()
			return cfg, err
		}
		cfg.applyEnv()
		return cfg, nil
	}

	// Keys missing from the file keep their defaults.
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	cfg.applyEnv()
	cfg.Normalize()
	return cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv(EnvAPIBaseURL); v != "" {
		c.APIBaseURL = strings.TrimRight(v, "/")
	}
	if v := os.Getenv(EnvListen); v != "" {
		c.Listen = v
	}
	if v := os.Getenv(EnvLogLevel); v != "" {
		c.LogLevel = v
	}
}

// Save writes cfg to path atomically (temp file + rename, 0600).
func Save(path string, cfg *Config) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	if cfg == nil {
		return errors.New("config is nil")
	}
	cfg.Normalize()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".agendacal-config-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}
