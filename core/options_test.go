package core

import (
	"context"
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	goerrors "github.com/goliatone/go-errors"
)

func lookupFrom(values map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		value, ok := values[key]
		return value, ok
	}
}

func TestLoadConfig_RequiresAPIKeyAndSecret(t *testing.T) {
	for _, tc := range []struct {
		name  string
		env   map[string]string
		field string
	}{
		{name: "missing key", env: map[string]string{"SHOPIFY_SECRET": "s"}, field: "SHOPIFY_API_KEY"},
		{name: "missing secret", env: map[string]string{"SHOPIFY_API_KEY": "k"}, field: "SHOPIFY_SECRET"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			_, err := LoadConfig(context.Background(), LoadOptions{Lookup: lookupFrom(tc.env)})
			if err == nil {
				t.Fatalf("expected config error")
			}
			var rich *goerrors.Error
			if !goerrors.As(err, &rich) {
				t.Fatalf("expected go-errors envelope, got %T", err)
			}
			if rich.TextCode != ErrorConfigInvalid {
				t.Fatalf("expected %q text code, got %q", ErrorConfigInvalid, rich.TextCode)
			}
		})
	}
}

func TestLoadConfig_EnvironmentOverridesDefaults(t *testing.T) {
	cfg, err := LoadConfig(context.Background(), LoadOptions{Lookup: lookupFrom(map[string]string{
		"SHOPIFY_API_KEY":  "key",
		"SHOPIFY_SECRET":   "secret",
		"SHOPIFY_SCOPES":   "write_products, read_products,read_orders",
		"PORT":             "8081",
		"SESSION_TTL":      "2h",
		"UPSTREAM_TIMEOUT": "5",
		"COOKIE_SECURE":    "false",
		"SESSION_STORE":    "MEMORY",
	})})
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.Shopify.APIKey != "key" || cfg.Shopify.Secret != "secret" {
		t.Fatalf("unexpected credentials: %#v", cfg.Shopify)
	}
	expectedScopes := []string{"read_orders", "read_products", "write_products"}
	if !reflect.DeepEqual(cfg.Shopify.Scopes, expectedScopes) {
		t.Fatalf("expected discrete scopes %v, got %v", expectedScopes, cfg.Shopify.Scopes)
	}
	if cfg.Server.Port != 8081 {
		t.Fatalf("expected port 8081, got %d", cfg.Server.Port)
	}
	if cfg.Session.TTL != 2*time.Hour {
		t.Fatalf("expected 2h session ttl, got %s", cfg.Session.TTL)
	}
	if cfg.Upstream.Timeout != 5*time.Second {
		t.Fatalf("expected bare integer timeout as seconds, got %s", cfg.Upstream.Timeout)
	}
	if cfg.Session.CookieSecure {
		t.Fatalf("expected cookie_secure false")
	}
	if cfg.Session.Store != SessionStoreMemory {
		t.Fatalf("expected memory store, got %q", cfg.Session.Store)
	}
	if cfg.Shopify.APIVersion != DefaultAPIVersion {
		t.Fatalf("expected default api version, got %q", cfg.Shopify.APIVersion)
	}
}

func TestLoadConfig_RuntimeLayerWins(t *testing.T) {
	cfg, err := LoadConfig(context.Background(), LoadOptions{
		Lookup: lookupFrom(map[string]string{
			"SHOPIFY_API_KEY": "key",
			"SHOPIFY_SECRET":  "secret",
			"PORT":            "8081",
		}),
		Runtime: map[string]any{"server": map[string]any{"port": 9090}},
	})
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.Server.Port != 9090 {
		t.Fatalf("expected runtime port to win, got %d", cfg.Server.Port)
	}
}

func TestLoadConfig_ReadsEnvFileBelowProcessEnvironment(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	contents := "SHOPIFY_API_KEY=from-file\nSHOPIFY_SECRET=file-secret\n"
	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		t.Fatalf("write env file: %v", err)
	}

	cfg, err := LoadConfig(context.Background(), LoadOptions{
		EnvFiles: []string{path, filepath.Join(dir, "missing.env")},
		Lookup:   lookupFrom(map[string]string{"SHOPIFY_API_KEY": "from-env"}),
	})
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.Shopify.APIKey != "from-env" {
		t.Fatalf("expected process environment to win, got %q", cfg.Shopify.APIKey)
	}
	if cfg.Shopify.Secret != "file-secret" {
		t.Fatalf("expected secret from env file, got %q", cfg.Shopify.Secret)
	}
}

func TestLoadConfig_RejectsMalformedValues(t *testing.T) {
	_, err := LoadConfig(context.Background(), LoadOptions{Lookup: lookupFrom(map[string]string{
		"SHOPIFY_API_KEY": "key",
		"SHOPIFY_SECRET":  "secret",
		"PORT":            "eighty",
	})})
	if err == nil {
		t.Fatalf("expected malformed port to fail")
	}
	if HTTPStatus(err) != 500 {
		t.Fatalf("expected config errors to map to 500, got %d", HTTPStatus(err))
	}
}

func TestConfigValidate(t *testing.T) {
	valid := DefaultConfig()
	valid.Shopify.APIKey = "key"
	valid.Shopify.Secret = "secret"
	if err := valid.Validate(); err != nil {
		t.Fatalf("expected valid config, got %v", err)
	}

	for name, mutate := range map[string]func(*Config){
		"unknown store":   func(c *Config) { c.Session.Store = "memcached" },
		"bad access mode": func(c *Config) { c.Shopify.AccessMode = "forever" },
		"empty scopes":    func(c *Config) { c.Shopify.Scopes = []string{" , "} },
		"bad shop":        func(c *Config) { c.Shopify.DefaultShop = "example.com" },
		"relative host":   func(c *Config) { c.Server.Host = "/app" },
		"zero timeout":    func(c *Config) { c.Upstream.Timeout = 0 },
		"missing dsn":     func(c *Config) { c.Database.DSN = "" },
		"unknown driver":  func(c *Config) { c.Database.Driver = "mysql" },
		"no schedule":     func(c *Config) { c.Jobs.PurgeSchedule = " " },
	} {
		t.Run(name, func(t *testing.T) {
			cfg := valid
			cfg.Shopify.Scopes = append([]string(nil), valid.Shopify.Scopes...)
			mutate(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Fatalf("expected validation failure")
			}
		})
	}
}

func TestConfigSessionSecretFallsBackToAppSecret(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Shopify.Secret = "app-secret"
	if got := cfg.SessionSecret(); got != "app-secret" {
		t.Fatalf("expected app secret fallback, got %q", got)
	}
	cfg.Session.Secret = "session-secret"
	if got := cfg.SessionSecret(); got != "session-secret" {
		t.Fatalf("expected dedicated session secret, got %q", got)
	}
}
