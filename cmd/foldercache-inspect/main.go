// Command foldercache-inspect dumps a user's persisted cache rows for one
// folder as JSON, for debugging a stale or corrupt cache without a SQLite
// client.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/hkdb/foldercache/internal/config"
	"github.com/hkdb/foldercache/internal/logging"
	"github.com/hkdb/foldercache/internal/store"
	"github.com/spf13/cobra"
)

var (
	cfgFile string
	userID  string
	mailbox string
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "foldercache-inspect",
	Short: "Dump persisted folder cache rows as JSON",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgFile)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		if err := logging.Init(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output); err != nil {
			return fmt.Errorf("init logging: %w", err)
		}

		if userID == "" {
			userID = cfg.Cache.UserID
		}

		db, err := store.Open(cfg.Store.Path)
		if err != nil {
			return fmt.Errorf("open store: %w", err)
		}
		defer db.Close()

		s := store.New(db)
		ctx := context.Background()

		out := map[string]any{}

		index, found, err := s.SelectIndex(ctx, userID, mailbox)
		if err != nil {
			return fmt.Errorf("select index: %w", err)
		}
		if found {
			out["index"] = index
		}

		thread, found, err := s.SelectThread(ctx, userID, mailbox)
		if err != nil {
			return fmt.Errorf("select thread: %w", err)
		}
		if found {
			out["thread"] = thread
		}

		uids, err := s.SelectAllUIDs(ctx, userID, mailbox)
		if err != nil {
			return fmt.Errorf("select uids: %w", err)
		}
		out["messageUIDs"] = uids

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "path to config file")
	rootCmd.Flags().StringVar(&userID, "user", "", "user id (defaults to config cache.user_id)")
	rootCmd.Flags().StringVar(&mailbox, "mailbox", "INBOX", "mailbox name")
}
