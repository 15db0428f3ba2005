package core

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/goliatone/go-config/cfgx"
	opts "github.com/goliatone/go-options"
	"github.com/joho/godotenv"
)

type LoadOptions struct {
	// EnvFiles are read with godotenv; missing files are skipped.
	EnvFiles []string
	// Lookup defaults to os.LookupEnv.
	Lookup func(key string) (string, bool)
	// Runtime holds layer values that win over the environment (CLI flags).
	Runtime map[string]any
}

type envBinding struct {
	env   string
	path  []string
	parse func(string) (any, error)
}

var envBindings = []envBinding{
	{env: "SHOPIFY_API_KEY", path: []string{"shopify", "api_key"}, parse: parseString},
	{env: "SHOPIFY_SECRET", path: []string{"shopify", "secret"}, parse: parseString},
	{env: "SHOPIFY_SCOPES", path: []string{"shopify", "scopes"}, parse: parseList},
	{env: "SHOPIFY_API_VERSION", path: []string{"shopify", "api_version"}, parse: parseString},
	{env: "SHOPIFY_ACCESS_MODE", path: []string{"shopify", "access_mode"}, parse: parseLower},
	{env: "SHOPIFY_SHOP", path: []string{"shopify", "default_shop"}, parse: parseString},
	{env: "SHOPIFY_GRAPHQL_ENDPOINT", path: []string{"shopify", "graphql_endpoint"}, parse: parseString},
	{env: "HOST", path: []string{"server", "host"}, parse: parseString},
	{env: "PORT", path: []string{"server", "port"}, parse: parseInt},
	{env: "SHUTDOWN_TIMEOUT", path: []string{"server", "shutdown_timeout"}, parse: parseDuration},
	{env: "SESSION_STORE", path: []string{"session", "store"}, parse: parseLower},
	{env: "SESSION_SECRET", path: []string{"session", "secret"}, parse: parseString},
	{env: "SESSION_TTL", path: []string{"session", "ttl"}, parse: parseDuration},
	{env: "COOKIE_SECURE", path: []string{"session", "cookie_secure"}, parse: parseBool},
	{env: "REDIS_ADDR", path: []string{"redis", "addr"}, parse: parseString},
	{env: "REDIS_PASSWORD", path: []string{"redis", "password"}, parse: parseString},
	{env: "REDIS_DB", path: []string{"redis", "db"}, parse: parseInt},
	{env: "DATABASE_DRIVER", path: []string{"database", "driver"}, parse: parseLower},
	{env: "DATABASE_DSN", path: []string{"database", "dsn"}, parse: parseString},
	{env: "DATABASE_DEBUG", path: []string{"database", "debug"}, parse: parseBool},
	{env: "UPSTREAM_TIMEOUT", path: []string{"upstream", "timeout"}, parse: parseDuration},
	{env: "PROXY_RATE_LIMIT", path: []string{"upstream", "rate_limit"}, parse: parseFloat},
	{env: "PROXY_RATE_BURST", path: []string{"upstream", "rate_burst"}, parse: parseInt},
	{env: "BUNDLE_PATH", path: []string{"render", "bundle_path"}, parse: parseString},
	{env: "ASSETS_DIR", path: []string{"render", "assets_dir"}, parse: parseString},
	{env: "GAMES_API_URL", path: []string{"render", "games_url"}, parse: parseString},
	{env: "PREFETCH_GAMES", path: []string{"render", "prefetch_games"}, parse: parseBool},
	{env: "LOG_LEVEL", path: []string{"log", "level"}, parse: parseLower},
	{env: "LOG_FORMAT", path: []string{"log", "format"}, parse: parseLower},
	{env: "PURGE_SCHEDULE", path: []string{"jobs", "purge_schedule"}, parse: parseString},
}

// LoadConfig resolves defaults, .env files, the process environment and runtime
// overrides, in that order of precedence, into a validated Config.
func LoadConfig(_ context.Context, options LoadOptions) (Config, error) {
	lookup := options.Lookup
	if lookup == nil {
		lookup = os.LookupEnv
	}
	dotenv, err := readEnvFiles(options.EnvFiles)
	if err != nil {
		return Config{}, err
	}
	resolve := func(key string) (string, bool) {
		if value, ok := lookup(key); ok {
			return value, true
		}
		value, ok := dotenv[key]
		return value, ok
	}

	envLayer, err := environmentLayer(resolve)
	if err != nil {
		return Config{}, err
	}
	return ResolveConfig(DefaultConfig(), envLayer, options.Runtime)
}

// ResolveConfig merges the defaults, env and runtime layers with go-options and
// materializes the result with cfgx.
func ResolveConfig(defaults Config, envLayer map[string]any, runtimeLayer map[string]any) (Config, error) {
	if envLayer == nil {
		envLayer = map[string]any{}
	}
	if runtimeLayer == nil {
		runtimeLayer = map[string]any{}
	}
	stack, err := opts.NewStack(
		opts.NewLayer(
			opts.NewScope("defaults", 0),
			configToLayerMap(defaults),
			opts.WithSnapshotID[map[string]any]("defaults"),
		),
		opts.NewLayer(
			opts.NewScope("env", 10),
			envLayer,
			opts.WithSnapshotID[map[string]any]("env"),
		),
		opts.NewLayer(
			opts.NewScope("runtime", 20),
			runtimeLayer,
			opts.WithSnapshotID[map[string]any]("runtime"),
		),
	)
	if err != nil {
		return Config{}, WrapConfigError(err, "options stack build failed")
	}
	merged, err := stack.Merge()
	if err != nil {
		return Config{}, WrapConfigError(err, "options merge failed")
	}
	resolved, err := cfgx.Build[Config](merged.Value,
		cfgx.WithDefaults(defaults),
		cfgx.WithValidator[Config]((*Config).Validate),
	)
	if err != nil {
		return Config{}, WrapConfigError(err, "config build failed")
	}
	resolved.Shopify.Scopes = NormalizeScopes(resolved.Shopify.Scopes)
	resolved.Shopify.AccessMode = strings.TrimSpace(strings.ToLower(resolved.Shopify.AccessMode))
	resolved.Session.Store = strings.TrimSpace(strings.ToLower(resolved.Session.Store))
	if err := resolved.Validate(); err != nil {
		return Config{}, err
	}
	return resolved, nil
}

func readEnvFiles(files []string) (map[string]string, error) {
	out := map[string]string{}
	for _, file := range files {
		file = strings.TrimSpace(file)
		if file == "" {
			continue
		}
		values, err := godotenv.Read(file)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return nil, WrapConfigError(err, fmt.Sprintf("read env file %s", file))
		}
		for key, value := range values {
			if _, exists := out[key]; !exists {
				out[key] = value
			}
		}
	}
	return out, nil
}

func environmentLayer(lookup func(string) (string, bool)) (map[string]any, error) {
	layer := map[string]any{}
	for _, binding := range envBindings {
		raw, ok := lookup(binding.env)
		if !ok || strings.TrimSpace(raw) == "" {
			continue
		}
		value, err := binding.parse(raw)
		if err != nil {
			return nil, ConfigError(binding.env, err.Error())
		}
		setLayerValue(layer, binding.path, value)
	}
	return layer, nil
}

func setLayerValue(layer map[string]any, path []string, value any) {
	current := layer
	for i, key := range path {
		if i == len(path)-1 {
			current[key] = value
			return
		}
		next, ok := current[key].(map[string]any)
		if !ok {
			next = map[string]any{}
			current[key] = next
		}
		current = next
	}
}

func configToLayerMap(cfg Config) map[string]any {
	return map[string]any{
		"service_name": cfg.ServiceName,
		"shopify": map[string]any{
			"api_key":          cfg.Shopify.APIKey,
			"secret":           cfg.Shopify.Secret,
			"scopes":           append([]string(nil), cfg.Shopify.Scopes...),
			"api_version":      cfg.Shopify.APIVersion,
			"access_mode":      cfg.Shopify.AccessMode,
			"default_shop":     cfg.Shopify.DefaultShop,
			"graphql_endpoint": cfg.Shopify.GraphQLEndpoint,
		},
		"server": map[string]any{
			"port":             cfg.Server.Port,
			"host":             cfg.Server.Host,
			"shutdown_timeout": cfg.Server.ShutdownTimeout,
		},
		"session": map[string]any{
			"store":         cfg.Session.Store,
			"secret":        cfg.Session.Secret,
			"cookie_name":   cfg.Session.CookieName,
			"cookie_secure": cfg.Session.CookieSecure,
			"ttl":           cfg.Session.TTL,
			"state_ttl":     cfg.Session.StateTTL,
		},
		"redis": map[string]any{
			"addr":     cfg.Redis.Addr,
			"password": cfg.Redis.Password,
			"db":       cfg.Redis.DB,
		},
		"database": map[string]any{
			"driver": cfg.Database.Driver,
			"dsn":    cfg.Database.DSN,
			"debug":  cfg.Database.Debug,
		},
		"upstream": map[string]any{
			"timeout":    cfg.Upstream.Timeout,
			"rate_limit": cfg.Upstream.RateLimit,
			"rate_burst": cfg.Upstream.RateBurst,
		},
		"render": map[string]any{
			"bundle_path":    cfg.Render.BundlePath,
			"assets_dir":     cfg.Render.AssetsDir,
			"games_url":      cfg.Render.GamesURL,
			"prefetch_games": cfg.Render.PrefetchGames,
		},
		"log": map[string]any{
			"level":  cfg.Log.Level,
			"format": cfg.Log.Format,
		},
		"jobs": map[string]any{
			"purge_schedule": cfg.Jobs.PurgeSchedule,
		},
	}
}

func parseString(raw string) (any, error) {
	return strings.TrimSpace(raw), nil
}

func parseLower(raw string) (any, error) {
	return strings.TrimSpace(strings.ToLower(raw)), nil
}

func parseList(raw string) (any, error) {
	return NormalizeScopes([]string{raw}), nil
}

func parseInt(raw string) (any, error) {
	value, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return nil, fmt.Errorf("invalid integer %q", raw)
	}
	return value, nil
}

func parseFloat(raw string) (any, error) {
	value, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil {
		return nil, fmt.Errorf("invalid number %q", raw)
	}
	return value, nil
}

func parseBool(raw string) (any, error) {
	value, err := strconv.ParseBool(strings.TrimSpace(raw))
	if err != nil {
		return nil, fmt.Errorf("invalid boolean %q", raw)
	}
	return value, nil
}

// parseDuration accepts Go durations and bare integers as seconds.
func parseDuration(raw string) (any, error) {
	trimmed := strings.TrimSpace(raw)
	if seconds, err := strconv.Atoi(trimmed); err == nil {
		return time.Duration(seconds) * time.Second, nil
	}
	value, err := time.ParseDuration(trimmed)
	if err != nil {
		return nil, fmt.Errorf("invalid duration %q", raw)
	}
	return value, nil
}
