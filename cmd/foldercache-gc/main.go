// Command foldercache-gc sweeps expired cache rows from one or more
// users' SQLite folder caches.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/hkdb/foldercache/internal/cache"
	"github.com/hkdb/foldercache/internal/config"
	"github.com/hkdb/foldercache/internal/logging"
	"github.com/hkdb/foldercache/internal/store"
	"github.com/spf13/cobra"
)

var (
	cfgFile string
	dryRun  bool
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "foldercache-gc",
	Short: "Sweep expired IMAP folder cache rows",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgFile)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("invalid config: %w", err)
		}
		if err := logging.Init(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output); err != nil {
			return fmt.Errorf("init logging: %w", err)
		}
		log := logging.WithComponent("foldercache-gc")

		db, err := store.Open(cfg.Store.Path)
		if err != nil {
			return fmt.Errorf("open store: %w", err)
		}
		defer db.Close()
		if err := db.Migrate(); err != nil {
			return fmt.Errorf("migrate store: %w", err)
		}

		s := store.New(db)
		now := time.Now()
		ctx := context.Background()

		if dryRun {
			stats, err := cache.CountGC(ctx, s, now)
			if err != nil {
				return fmt.Errorf("count gc: %w", err)
			}
			log.Info().
				Int("indexRows", stats.IndexRows).
				Int("threadRows", stats.ThreadRows).
				Int("messageRows", stats.MessageRows).
				Msg("dry run: rows eligible for deletion")
			return nil
		}

		stats, err := cache.GC(ctx, s, now)
		if err != nil {
			return fmt.Errorf("gc: %w", err)
		}

		log.Info().
			Int("indexRows", stats.IndexRows).
			Int("threadRows", stats.ThreadRows).
			Int("messageRows", stats.MessageRows).
			Msg("gc sweep complete")
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "path to config file")
	rootCmd.Flags().BoolVar(&dryRun, "dry-run", false, "report what would run without deleting any rows")
}
