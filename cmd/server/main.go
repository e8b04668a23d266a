// Command duochat-server runs the chat HTTP/WebSocket server and its
// operational gRPC endpoint.
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/and161185/duochat/internal/config"
)

var (
	version   = "dev"
	buildDate = "unknown"
)

type loadFunc func(cmd *cobra.Command, validate bool) (*config.Config, error)

func newRootCmd() *cobra.Command {
	v := config.New()
	var cfgFile string

	root := &cobra.Command{
		Use:           "duochat-server",
		Short:         "1:1 realtime chat server",
		Version:       fmt.Sprintf("%s (%s)", version, buildDate),
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (yaml, toml or json)")
	fs := root.PersistentFlags()
	fs.String("store", config.StorePostgres, "storage backend: postgres or memory")
	fs.String("database-dsn", "", "PostgreSQL DSN")
	fs.String("log-level", "info", "debug, info, warn or error")
	fs.Bool("log-development", false, "human readable logs")

	load := func(cmd *cobra.Command, validate bool) (*config.Config, error) {
		if err := config.BindFlags(v, cmd.Flags()); err != nil {
			return nil, err
		}
		if validate {
			return config.Load(v, cfgFile)
		}
		return config.Read(v, cfgFile)
	}

	root.AddCommand(newServeCmd(load), newMigrateCmd(load))
	return root
}

func newServeCmd(load loadFunc) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the chat server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := load(cmd, true)
			if err != nil {
				return err
			}
			return serve(cmd.Context(), cfg)
		},
	}
	fs := cmd.Flags()
	fs.String("http-addr", ":8080", "HTTP listen address")
	fs.String("ops-addr", ":9090", "gRPC health listen address, empty disables")
	fs.Bool("ops-reflection", false, "enable gRPC reflection (dev only)")
	fs.Bool("database-migrate", true, "apply migrations before serving")
	fs.String("auth-jwt-key", "", "HS256 signing key (required)")
	fs.Duration("auth-access-ttl", 168*time.Hour, "access token TTL")
	fs.StringSlice("http-cors-origins", nil, "allowed CORS origins, * for any")
	return cmd
}

func newMigrateCmd(load loadFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations and exit",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := load(cmd, false)
			if err != nil {
				return err
			}
			if cfg.Database.DSN == "" {
				return fmt.Errorf("database.dsn is required")
			}
			cfg.Store = config.StorePostgres
			log, err := newLogger(cfg.Log)
			if err != nil {
				return err
			}
			defer func() { _ = log.Sync() }()
			return runMigrations(cmd.Context(), cfg, log)
		},
	}
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "duochat-server:", err)
		os.Exit(1)
	}
}
