package core

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

const (
	SessionStoreCookie = "cookie"
	SessionStoreMemory = "memory"
	SessionStoreRedis  = "redis"
	SessionStoreSQL    = "sql"
)

const (
	AccessModeOffline = "offline"
	AccessModeOnline  = "online"
)

const (
	DefaultAPIVersion = "2024-01"
	DefaultGamesURL   = "https://bgg-json.azurewebsites.net/hot"
)

type ShopifyConfig struct {
	APIKey          string   `koanf:"api_key" mapstructure:"api_key"`
	Secret          string   `koanf:"secret" mapstructure:"secret"`
	Scopes          []string `koanf:"scopes" mapstructure:"scopes"`
	APIVersion      string   `koanf:"api_version" mapstructure:"api_version"`
	AccessMode      string   `koanf:"access_mode" mapstructure:"access_mode"`
	DefaultShop     string   `koanf:"default_shop" mapstructure:"default_shop"`
	GraphQLEndpoint string   `koanf:"graphql_endpoint" mapstructure:"graphql_endpoint"`
}

type ServerConfig struct {
	Port            int           `koanf:"port" mapstructure:"port"`
	Host            string        `koanf:"host" mapstructure:"host"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout" mapstructure:"shutdown_timeout"`
}

type SessionConfig struct {
	Store        string        `koanf:"store" mapstructure:"store"`
	Secret       string        `koanf:"secret" mapstructure:"secret"`
	CookieName   string        `koanf:"cookie_name" mapstructure:"cookie_name"`
	CookieSecure bool          `koanf:"cookie_secure" mapstructure:"cookie_secure"`
	TTL          time.Duration `koanf:"ttl" mapstructure:"ttl"`
	StateTTL     time.Duration `koanf:"state_ttl" mapstructure:"state_ttl"`
}

type RedisConfig struct {
	Addr     string `koanf:"addr" mapstructure:"addr"`
	Password string `koanf:"password" mapstructure:"password"`
	DB       int    `koanf:"db" mapstructure:"db"`
}

type DatabaseConfig struct {
	Driver string `koanf:"driver" mapstructure:"driver"`
	DSN    string `koanf:"dsn" mapstructure:"dsn"`
	Debug  bool   `koanf:"debug" mapstructure:"debug"`
}

type UpstreamConfig struct {
	Timeout   time.Duration `koanf:"timeout" mapstructure:"timeout"`
	RateLimit float64       `koanf:"rate_limit" mapstructure:"rate_limit"`
	RateBurst int           `koanf:"rate_burst" mapstructure:"rate_burst"`
}

type RenderConfig struct {
	BundlePath    string `koanf:"bundle_path" mapstructure:"bundle_path"`
	AssetsDir     string `koanf:"assets_dir" mapstructure:"assets_dir"`
	GamesURL      string `koanf:"games_url" mapstructure:"games_url"`
	PrefetchGames bool   `koanf:"prefetch_games" mapstructure:"prefetch_games"`
}

type LogConfig struct {
	Level  string `koanf:"level" mapstructure:"level"`
	Format string `koanf:"format" mapstructure:"format"`
}

type JobsConfig struct {
	PurgeSchedule string `koanf:"purge_schedule" mapstructure:"purge_schedule"`
}

type Config struct {
	ServiceName string         `koanf:"service_name" mapstructure:"service_name"`
	Shopify     ShopifyConfig  `koanf:"shopify" mapstructure:"shopify"`
	Server      ServerConfig   `koanf:"server" mapstructure:"server"`
	Session     SessionConfig  `koanf:"session" mapstructure:"session"`
	Redis       RedisConfig    `koanf:"redis" mapstructure:"redis"`
	Database    DatabaseConfig `koanf:"database" mapstructure:"database"`
	Upstream    UpstreamConfig `koanf:"upstream" mapstructure:"upstream"`
	Render      RenderConfig   `koanf:"render" mapstructure:"render"`
	Log         LogConfig      `koanf:"log" mapstructure:"log"`
	Jobs        JobsConfig     `koanf:"jobs" mapstructure:"jobs"`
}

func DefaultConfig() Config {
	return Config{
		ServiceName: "shopify-app",
		Shopify: ShopifyConfig{
			Scopes:     []string{"read_products", "write_products"},
			APIVersion: DefaultAPIVersion,
			AccessMode: AccessModeOffline,
		},
		Server: ServerConfig{
			Port:            3000,
			ShutdownTimeout: 10 * time.Second,
		},
		Session: SessionConfig{
			Store:        SessionStoreCookie,
			CookieName:   "shopify_app_session",
			CookieSecure: true,
			TTL:          24 * time.Hour,
			StateTTL:     10 * time.Minute,
		},
		Redis: RedisConfig{
			Addr: "127.0.0.1:6379",
		},
		Database: DatabaseConfig{
			Driver: "sqlite3",
			DSN:    "file:shopify-app.db?cache=shared&_foreign_keys=on",
		},
		Upstream: UpstreamConfig{
			Timeout:   15 * time.Second,
			RateBurst: 4,
		},
		Render: RenderConfig{
			BundlePath: "/assets/bundle.js",
			AssetsDir:  "public",
			GamesURL:   DefaultGamesURL,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		Jobs: JobsConfig{
			PurgeSchedule: "@every 10m",
		},
	}
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.ServiceName) == "" {
		return ConfigError("service_name", "is required")
	}
	if strings.TrimSpace(c.Shopify.APIKey) == "" {
		return ConfigError("SHOPIFY_API_KEY", "is required")
	}
	if strings.TrimSpace(c.Shopify.Secret) == "" {
		return ConfigError("SHOPIFY_SECRET", "is required")
	}
	if len(NormalizeScopes(c.Shopify.Scopes)) == 0 {
		return ConfigError("SHOPIFY_SCOPES", "at least one scope is required")
	}
	switch strings.TrimSpace(strings.ToLower(c.Shopify.AccessMode)) {
	case AccessModeOffline, AccessModeOnline:
	default:
		return ConfigError("SHOPIFY_ACCESS_MODE", fmt.Sprintf("unsupported access mode %q", c.Shopify.AccessMode))
	}
	if strings.TrimSpace(c.Shopify.APIVersion) == "" {
		return ConfigError("SHOPIFY_API_VERSION", "is required")
	}
	if shop := strings.TrimSpace(c.Shopify.DefaultShop); shop != "" {
		if _, err := NormalizeShopDomain(shop); err != nil {
			return ConfigError("SHOPIFY_SHOP", err.Error())
		}
	}
	if host := strings.TrimSpace(c.Server.Host); host != "" {
		parsed, err := url.Parse(host)
		if err != nil || parsed.Scheme == "" || parsed.Host == "" {
			return ConfigError("HOST", "must be an absolute url")
		}
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return ConfigError("PORT", "must be between 1 and 65535")
	}
	switch strings.TrimSpace(strings.ToLower(c.Session.Store)) {
	case SessionStoreCookie, SessionStoreMemory, SessionStoreRedis, SessionStoreSQL:
	default:
		return ConfigError("SESSION_STORE", fmt.Sprintf("unsupported session store %q", c.Session.Store))
	}
	if strings.TrimSpace(c.Session.CookieName) == "" {
		return ConfigError("session.cookie_name", "is required")
	}
	if c.Session.TTL <= 0 {
		return ConfigError("SESSION_TTL", "must be positive")
	}
	if c.Session.StateTTL <= 0 {
		return ConfigError("session.state_ttl", "must be positive")
	}
	if c.Upstream.Timeout <= 0 {
		return ConfigError("UPSTREAM_TIMEOUT", "must be positive")
	}
	if c.Upstream.RateLimit < 0 {
		return ConfigError("PROXY_RATE_LIMIT", "must not be negative")
	}
	// installations are always persisted, whatever the session store
	switch strings.TrimSpace(strings.ToLower(c.Database.Driver)) {
	case "sqlite3", "postgres":
	default:
		return ConfigError("DATABASE_DRIVER", fmt.Sprintf("unsupported driver %q", c.Database.Driver))
	}
	if strings.TrimSpace(c.Database.DSN) == "" {
		return ConfigError("DATABASE_DSN", "is required")
	}
	if strings.TrimSpace(c.Jobs.PurgeSchedule) == "" {
		return ConfigError("PURGE_SCHEDULE", "is required")
	}
	return nil
}

// SessionSecret falls back to the app secret when no dedicated key is configured.
func (c Config) SessionSecret() string {
	if secret := strings.TrimSpace(c.Session.Secret); secret != "" {
		return secret
	}
	return strings.TrimSpace(c.Shopify.Secret)
}

func (c Config) Addr() string {
	return fmt.Sprintf(":%d", c.Server.Port)
}
