package main

import (
	"fmt"

	"github.com/raaihank/feedback-sentinel/internal/cache"
	"github.com/raaihank/feedback-sentinel/internal/termlib"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show term store and cache statistics",
	Args:  cobra.NoArgs,
	RunE:  runStats,
}

func init() {
	rootCmd.AddCommand(statsCmd)
}

func runStats(cmd *cobra.Command, _ []string) error {
	cfg, log, err := setup()
	if err != nil {
		return err
	}
	defer log.Sync()
	ctx := cmd.Context()

	store, err := termlib.NewStore(cfg.Database, log.Logger)
	if err != nil {
		return err
	}
	defer store.Close()

	stats, err := store.Stats(ctx)
	if err != nil {
		return err
	}

	fmt.Printf("\n=== Feedback-Sentinel Term Store ===\n")
	fmt.Printf("Total Terms:     %d\n", stats.TotalTerms)
	fmt.Printf("Blocking Terms:  %d\n", stats.BlockingTerms)
	fmt.Printf("Warning Terms:   %d\n", stats.WarningTerms)
	if stats.LastUpdated != nil {
		fmt.Printf("Last Updated:    %s\n", stats.LastUpdated.Format("2006-01-02 15:04:05"))
	}

	if len(stats.ByCategory) > 0 {
		fmt.Printf("\n%-20s %-10s %s\n", "Category", "Severity", "Count")
		for _, c := range stats.ByCategory {
			fmt.Printf("%-20s %-10s %d\n", c.Category, c.Severity, c.Count)
		}
	}

	if cfg.Cache.Enabled {
		ac, err := cache.NewAnalysisCache(cfg.Cache, log.Logger)
		if err != nil {
			log.Warn("Cache statistics unavailable", zap.Error(err))
			return nil
		}
		defer ac.Close()

		cacheStats, err := ac.GetStats(ctx)
		if err == nil {
			fmt.Printf("\n=== Analysis Cache ===\n")
			fmt.Printf("Total Keys:      %d\n", cacheStats.TotalKeys)
			fmt.Printf("Memory Usage:    %.2f MB\n", float64(cacheStats.MemoryUsage)/1024/1024)
		}
	}

	return nil
}
