package main

import (
	"context"
	"testing"

	"github.com/spf13/cobra"
)

func TestLoadConfigLayersFlagsOverEnvironment(t *testing.T) {
	t.Setenv("SHOPIFY_API_KEY", "key")
	t.Setenv("SHOPIFY_SECRET", "secret")
	t.Setenv("PORT", "3100")
	t.Setenv("HOST", "https://env.example.com")

	root := rootCmd()
	serve, _, err := root.Find([]string{"serve"})
	if err != nil {
		t.Fatalf("find serve: %v", err)
	}
	if err := serve.ParseFlags([]string{"--port", "4000", "--env-file", "testdata/missing.env"}); err != nil {
		t.Fatalf("parse flags: %v", err)
	}
	cfg, err := loadConfig(context.Background(), serve, flagsOf(t, root))
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.Server.Port != 4000 {
		t.Fatalf("expected flag port to win, got %d", cfg.Server.Port)
	}
	if cfg.Server.Host != "https://env.example.com" {
		t.Fatalf("expected env host when the flag is unset, got %q", cfg.Server.Host)
	}
}

func TestLoadConfigRequiresCredentials(t *testing.T) {
	t.Setenv("SHOPIFY_API_KEY", "")
	t.Setenv("SHOPIFY_SECRET", "")

	root := rootCmd()
	serve, _, err := root.Find([]string{"serve"})
	if err != nil {
		t.Fatalf("find serve: %v", err)
	}
	if err := serve.ParseFlags([]string{"--env-file", "testdata/missing.env"}); err != nil {
		t.Fatalf("parse flags: %v", err)
	}
	if _, err := loadConfig(context.Background(), serve, flagsOf(t, root)); err == nil {
		t.Fatalf("expected missing credentials to fail")
	}
}

// flagsOf reads the parsed persistent flags back into a globalFlags value.
func flagsOf(t *testing.T, root *cobra.Command) *globalFlags {
	t.Helper()
	flags := root.PersistentFlags()
	envFiles, err := flags.GetStringSlice("env-file")
	if err != nil {
		t.Fatalf("env-file flag: %v", err)
	}
	port, _ := flags.GetInt("port")
	host, _ := flags.GetString("host")
	logLevel, _ := flags.GetString("log-level")
	return &globalFlags{envFiles: envFiles, port: port, host: host, logLevel: logLevel}
}
