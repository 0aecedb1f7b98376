package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/conneroisu/inlinesvg/internal/config"
	"github.com/conneroisu/inlinesvg/internal/fetch"
	"github.com/conneroisu/inlinesvg/internal/storage"
)

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Inspect and purge stored cache generations",
	Long: `Inspect and purge the cache generations kept in durable storage.

A generation is the set of SVG files cached under one namespace and
version. Changing cache.version starts a new generation.

Examples:
  inlinesvg cache list
  inlinesvg cache list --format json
  inlinesvg cache purge          # Remove every generation but the current one
  inlinesvg cache purge --all    # Remove every generation`,
}

var cacheListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored cache generations",
	RunE:  runCacheList,
}

var cachePurgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "Remove stored cache generations",
	RunE:  runCachePurge,
}

var (
	cacheFormat   string
	cachePurgeAll bool
)

func init() {
	rootCmd.AddCommand(cacheCmd)
	cacheCmd.AddCommand(cacheListCmd)
	cacheCmd.AddCommand(cachePurgeCmd)

	cacheListCmd.Flags().StringVar(&cacheFormat, "format", "table", "Output format (table, json)")
	AddFlagValidation(cacheListCmd, "format", ValidateChoice("table", "json"))
	cachePurgeCmd.Flags().BoolVar(&cachePurgeAll, "all", false, "Also remove the current generation")
}

func openCacheStorage(ctx context.Context, cfg *config.Config) (storage.Storage, error) {
	store, err := storage.Open(ctx, storage.Options{
		Backend:   cfg.Cache.Backend,
		Path:      cfg.Cache.Path,
		RedisAddr: cfg.Cache.RedisAddr,
		RedisDB:   cfg.Cache.RedisDB,
		Fs:        appFs,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open cache storage: %w", err)
	}
	return store, nil
}

func runCacheList(cmd *cobra.Command, args []string) error {
	ctx := commandContext(cmd)
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	store, err := openCacheStorage(ctx, cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	generations, err := fetch.ListGenerations(ctx, store, cfg.Cache.Namespace)
	if err != nil {
		return err
	}
	current := fetch.GenerationKey(cfg.Cache.Namespace, cfg.Cache.Version)

	out := cmd.OutOrStdout()
	if cacheFormat == "json" {
		type entry struct {
			Key     string `json:"key"`
			Version string `json:"version"`
			Entries int    `json:"entries"`
			Current bool   `json:"current"`
		}
		entries := make([]entry, 0, len(generations))
		for _, g := range generations {
			entries = append(entries, entry{Key: g.Key, Version: g.Version, Entries: g.Entries, Current: g.Key == current})
		}
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(entries)
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "KEY\tVERSION\tENTRIES\tCURRENT")
	for _, g := range generations {
		entries := "?"
		if g.Entries >= 0 {
			entries = fmt.Sprint(g.Entries)
		}
		marker := ""
		if g.Key == current {
			marker = "*"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", g.Key, g.Version, entries, marker)
	}
	fmt.Fprintf(w, "\nTotal: %d generation(s)\n", len(generations))
	return w.Flush()
}

func runCachePurge(cmd *cobra.Command, args []string) error {
	ctx := commandContext(cmd)
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	store, err := openCacheStorage(ctx, cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	keep := fetch.GenerationKey(cfg.Cache.Namespace, cfg.Cache.Version)
	if cachePurgeAll {
		keep = ""
	}

	removed, err := fetch.PurgeGenerations(ctx, store, cfg.Cache.Namespace, keep)
	for _, key := range removed {
		fmt.Fprintf(cmd.OutOrStdout(), "Removed %s\n", key)
	}
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Removed %d generation(s)\n", len(removed))
	return nil
}
