// Package cmd defines and implements the CLI commands for the leadcrawl executable.
package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/JakeFAU/leadcrawl/internal/api"
	"github.com/JakeFAU/leadcrawl/internal/app"
	"github.com/JakeFAU/leadcrawl/internal/cache/filecache"
	"github.com/JakeFAU/leadcrawl/internal/config"
	"github.com/JakeFAU/leadcrawl/internal/logging"
	"github.com/JakeFAU/leadcrawl/internal/storage"
	pkgconfig "github.com/JakeFAU/leadcrawl/pkg/config"
)

// appKeyType is the key for storing the App in the context.
type appKeyType string

const appKey appKeyType = "app"

// App defines the application interface that commands use, so tests can inject a fake.
type App interface {
	api.Service
	Fetch(ctx context.Context, urls []string, o app.Overrides) map[string]string
	CleanupCache(ctx context.Context) (filecache.CleanupStats, error)
	Snapshot(ctx context.Context) ([]string, error)
	SnapshotTo(ctx context.Context, dst storage.BlobStore, prefix string) ([]string, error)
	Config() config.Config
	Logger() *zap.Logger
	Close()
}

// newApp is the application factory. It's a variable so tests can swap in a fake.
var newApp = func(ctx context.Context, cfg config.Config, logger *zap.Logger) (App, error) {
	return app.New(ctx, cfg, logger)
}

// newRootCmd creates the root command over v. Config is read in PersistentPreRunE, so
// flags bound to v are already parsed by then.
func newRootCmd(v *viper.Viper) *cobra.Command {
	var cfgFile string
	cmd := &cobra.Command{
		Use:   "leadcrawl",
		Short: "Polite site crawler with a local semantic index.",
		Long: `leadcrawl crawls small business websites politely (robots.txt, per-origin
pacing, bounded page budgets), prioritizes contact and about pages, and keeps the
extracted text in a local vector index that can be searched by similarity.`,
		SilenceUsage: true,

		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			used, err := pkgconfig.InitConfig(v, cfgFile)
			if err != nil {
				return err
			}
			cfg, err := config.Load(v)
			if err != nil {
				return err
			}
			logger, err := logging.New(cfg.Logging)
			if err != nil {
				return fmt.Errorf("init logger: %w", err)
			}
			if used != "" {
				logger.Debug("config file loaded", zap.String("path", used))
			}

			appInstance, err := newApp(cmd.Context(), cfg, logger)
			if err != nil {
				return fmt.Errorf("failed to initialize application services: %w", err)
			}
			cmd.SetContext(context.WithValue(cmd.Context(), appKey, appInstance))
			return nil
		},

		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			if appInstance, ok := cmd.Context().Value(appKey).(App); ok && appInstance != nil {
				appInstance.Close()
			}
		},
	}

	flags := cmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "config file (default is ./leadcrawl.yaml)")
	flags.Bool("dev", false, "human friendly development logging")
	flags.String("log-level", "", "minimum log level (debug, info, warn, error)")
	flags.String("cache-dir", "", "content cache directory")
	flags.String("index-dir", "", "vector index directory")
	mustBind(v, "logging.development", flags.Lookup("dev"))
	mustBind(v, "logging.level", flags.Lookup("log-level"))
	mustBind(v, "cache.dir", flags.Lookup("cache-dir"))
	mustBind(v, "index.dir", flags.Lookup("index-dir"))

	cmd.AddCommand(
		newCrawlCmd(),
		newFetchCmd(),
		newIndexCmd(),
		newQueryCmd(),
		newCacheCmd(),
		newSnapshotCmd(),
		newServeCmd(),
	)
	return cmd
}

// Execute is the main entry point.
func Execute() {
	ctx := context.Background()
	if err := newRootCmd(viper.GetViper()).ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func resolveApp(ctx context.Context) (App, error) {
	appInstance, ok := ctx.Value(appKey).(App)
	if !ok || appInstance == nil {
		return nil, errors.New("application services not initialized")
	}
	return appInstance, nil
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("write output: %w", err)
	}
	return nil
}
