// Package config loads gateway settings from defaults, an optional YAML file
// and GATEWAY_* environment variables, in that order of precedence.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

const (
	ConfigPathEnvVar = "CONFIG_PATH"
	EnvPrefix        = "GATEWAY_"

	MinTTLSeconds = 30

	StoreMemory = "memory"
	StoreRedis  = "redis"
	StoreBadger = "badger"
)

var DefaultConfigPaths = []string{"config.yaml", "config.yml"}

type Config struct {
	Addr   string `koanf:"addr"`
	AppEnv string `koanf:"app_env"`

	Auth             bool               `koanf:"auth"`
	BasicAuth        bool               `koanf:"basic_auth"`
	TTL              int                `koanf:"ttl"`
	RefreshTTLDays   int                `koanf:"refresh_ttl_days"`
	WhitelistEnabled bool               `koanf:"whitelist_enabled"`
	Whitelist        []WhitelistSetting `koanf:"whitelist"`
	DefaultUser      string             `koanf:"default_user"`
	Secure           bool               `koanf:"secure"`
	SessionCookie    string             `koanf:"session_cookie"`
	LoginPath        string             `koanf:"login_path"`
	Realm            string             `koanf:"realm"`
	TrustProxy       bool               `koanf:"trust_proxy"`

	Store          StoreConfig       `koanf:"store"`
	DatabaseURL    string            `koanf:"database_url"`
	DBMaxOpenConns int               `koanf:"db_max_open_conns"`
	DBMaxIdleConns int               `koanf:"db_max_idle_conns"`
	RunMigrations  bool              `koanf:"run_migrations"`
	AdminUsername  string            `koanf:"admin_username"`
	AdminPassword  string            `koanf:"admin_password"`
	Users          map[string]string `koanf:"users"`
	LoginRateLimit RateLimitConfig   `koanf:"login_rate_limit"`

	SentryDSN      string `koanf:"sentry_dsn"`
	LogLevel       string `koanf:"log_level"`
	LogFormat      string `koanf:"log_format"`
	MetricsEnabled bool   `koanf:"metrics_enabled"`

	UpstreamURL string `koanf:"upstream_url"`
	StaticDir   string `koanf:"static_dir"`
	CronSecret  string `koanf:"cron_secret"`
}

// WhitelistSetting is one whitelist row. Patterns are list items rather than
// map keys because koanf splits keys on dots.
type WhitelistSetting struct {
	Pattern string        `koanf:"pattern"`
	User    string        `koanf:"user"`
	Object  AccessSetting `koanf:"object"`
	State   AccessSetting `koanf:"state"`
	File    AccessSetting `koanf:"file"`
}

type AccessSetting struct {
	Read   bool `koanf:"read"`
	List   bool `koanf:"list"`
	Write  bool `koanf:"write"`
	Create bool `koanf:"create"`
	Delete bool `koanf:"delete"`
}

type StoreConfig struct {
	Backend       string `koanf:"backend"`
	RedisAddr     string `koanf:"redis_addr"`
	RedisPassword string `koanf:"redis_password"`
	RedisDB       int    `koanf:"redis_db"`
	KeyPrefix     string `koanf:"key_prefix"`
	BadgerPath    string `koanf:"badger_path"`
}

type RateLimitConfig struct {
	Max           int `koanf:"max"`
	WindowSeconds int `koanf:"window_seconds"`
}

func Default() Config {
	return Config{
		Addr:           ":8080",
		AppEnv:         "development",
		Auth:           true,
		TTL:            3600,
		RefreshTTLDays: 30,
		DefaultUser:    "admin",
		SessionCookie:  "gateway.sid",
		LoginPath:      "/login/index.html",
		Realm:          "web-gateway",
		Store: StoreConfig{
			Backend:   StoreMemory,
			KeyPrefix: "gateway:",
		},
		DBMaxOpenConns: 10,
		DBMaxIdleConns: 5,
		LoginRateLimit: RateLimitConfig{Max: 10, WindowSeconds: 60},
		LogLevel:       "info",
		LogFormat:      "json",
		MetricsEnabled: true,
	}
}

type LoadOptions struct {
	LoadDotEnv bool
	// ConfigPath overrides CONFIG_PATH and the default search paths.
	ConfigPath string
}

func Load(options LoadOptions) (Config, error) {
	if options.LoadDotEnv {
		_ = godotenv.Load()
	}

	k := koanf.New(".")

	defaults := Default()
	if err := k.Load(structs.Provider(&defaults, "koanf"), nil); err != nil {
		return Config{}, fmt.Errorf("load defaults: %w", err)
	}

	configPath := options.ConfigPath
	if configPath == "" {
		configPath = findConfigFile()
	}
	if configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return Config{}, fmt.Errorf("load config file %s: %w", configPath, err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envTransform), nil); err != nil {
		return Config{}, fmt.Errorf("load environment: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// envTransform maps GATEWAY_STORE__REDIS_ADDR to store.redis_addr.
func envTransform(key string) string {
	key = strings.TrimPrefix(key, EnvPrefix)
	key = strings.ToLower(key)
	return strings.ReplaceAll(key, "__", ".")
}

func findConfigFile() string {
	if path := strings.TrimSpace(os.Getenv(ConfigPathEnvVar)); path != "" {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

func (c *Config) normalize() {
	if c.TTL < MinTTLSeconds {
		c.TTL = MinTTLSeconds
	}
	c.Store.Backend = strings.ToLower(strings.TrimSpace(c.Store.Backend))
	c.LogFormat = strings.ToLower(strings.TrimSpace(c.LogFormat))
	c.DefaultUser = strings.TrimSpace(c.DefaultUser)
	c.UpstreamURL = strings.TrimSpace(c.UpstreamURL)
}

func (c Config) Validate() error {
	var errs []error

	if c.Addr == "" {
		errs = append(errs, errors.New("addr is required"))
	}
	if c.RefreshTTLDays <= 0 {
		errs = append(errs, errors.New("refresh_ttl_days must be positive"))
	}
	if !c.Auth && c.DefaultUser == "" {
		errs = append(errs, errors.New("default_user is required when auth is disabled"))
	}
	if strings.TrimSpace(c.SessionCookie) == "" {
		errs = append(errs, errors.New("session_cookie is required"))
	}
	if !strings.HasPrefix(c.LoginPath, "/") || strings.HasPrefix(c.LoginPath, "//") {
		errs = append(errs, fmt.Errorf("login_path must be an absolute path, got %q", c.LoginPath))
	}

	switch c.Store.Backend {
	case StoreMemory:
	case StoreRedis:
		if c.Store.RedisAddr == "" {
			errs = append(errs, errors.New("store.redis_addr is required for the redis backend"))
		}
	case StoreBadger:
	default:
		errs = append(errs, fmt.Errorf("store.backend must be one of memory, redis, badger, got %q", c.Store.Backend))
	}

	if (c.AdminUsername == "") != (c.AdminPassword == "") {
		errs = append(errs, errors.New("admin_username and admin_password are required together"))
	}
	if c.LoginRateLimit.Max < 0 || c.LoginRateLimit.WindowSeconds < 0 {
		errs = append(errs, errors.New("login_rate_limit values must not be negative"))
	}
	if c.LogFormat != "json" && c.LogFormat != "console" {
		errs = append(errs, fmt.Errorf("log_format must be json or console, got %q", c.LogFormat))
	}
	if c.UpstreamURL != "" {
		u, err := url.Parse(c.UpstreamURL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, fmt.Errorf("upstream_url %q is not an absolute URL", c.UpstreamURL))
		}
	}
	if c.UpstreamURL != "" && c.StaticDir != "" {
		errs = append(errs, errors.New("upstream_url and static_dir are mutually exclusive"))
	}

	return errors.Join(errs...)
}
