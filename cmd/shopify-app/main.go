// Command shopify-app serves the embedded Shopify app.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/goliatone/go-shopify-app/app"
	"github.com/goliatone/go-shopify-app/core"
	"github.com/spf13/cobra"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

type globalFlags struct {
	envFiles []string
	port     int
	host     string
	logLevel string
}

func rootCmd() *cobra.Command {
	flags := &globalFlags{}
	cmd := &cobra.Command{
		Use:           "shopify-app",
		Short:         "Embedded Shopify app server",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringSliceVar(&flags.envFiles, "env-file", []string{".env"}, "dotenv files to read, earlier files win")
	cmd.PersistentFlags().IntVar(&flags.port, "port", 0, "listen port (overrides PORT)")
	cmd.PersistentFlags().StringVar(&flags.host, "host", "", "public app url (overrides HOST)")
	cmd.PersistentFlags().StringVar(&flags.logLevel, "log-level", "", "log level (overrides LOG_LEVEL)")

	cmd.AddCommand(serveCmd(flags), migrateCmd(flags))
	return cmd
}

func serveCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			cfg, err := loadConfig(ctx, cmd, flags)
			if err != nil {
				return err
			}
			application, err := app.New(ctx, cfg)
			if err != nil {
				return fmt.Errorf("initialize app: %w", err)
			}

			runErr := make(chan error, 1)
			go func() {
				runErr <- application.Run()
			}()

			select {
			case err := <-runErr:
				if err != nil {
					return fmt.Errorf("http server: %w", err)
				}
				return nil
			case <-ctx.Done():
			}

			shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
			defer cancel()
			if err := application.Shutdown(shutdownCtx); err != nil {
				return fmt.Errorf("graceful shutdown: %w", err)
			}
			return nil
		},
	}
}

func migrateCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the database schema and exit",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), time.Minute)
			defer cancel()

			cfg, err := loadConfig(ctx, cmd, flags)
			if err != nil {
				return err
			}
			client, err := app.OpenDatabase(cfg)
			if err != nil {
				return err
			}
			defer client.Close()
			if err := app.Migrate(ctx, client, cfg); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "migrations applied (%s)\n", cfg.Database.Driver)
			return nil
		},
	}
}

// loadConfig layers the flags the user set over the environment.
func loadConfig(ctx context.Context, cmd *cobra.Command, flags *globalFlags) (core.Config, error) {
	runtime := map[string]any{}
	server := map[string]any{}
	if cmd.Flags().Changed("port") {
		server["port"] = flags.port
	}
	if cmd.Flags().Changed("host") {
		server["host"] = flags.host
	}
	if len(server) > 0 {
		runtime["server"] = server
	}
	if cmd.Flags().Changed("log-level") {
		runtime["log"] = map[string]any{"level": flags.logLevel}
	}
	return core.LoadConfig(ctx, core.LoadOptions{
		EnvFiles: flags.envFiles,
		Runtime:  runtime,
	})
}
