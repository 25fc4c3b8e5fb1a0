package main

import (
	"fmt"

	"github.com/raaihank/feedback-sentinel/internal/cache"
	"github.com/raaihank/feedback-sentinel/internal/termlib"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var importCmd = &cobra.Command{
	Use:   "import <file>...",
	Short: "Import term files into the term store",
	Long:  "Reads YAML, CSV, Parquet or JSONL term files, drops invalid, duplicate and uncompilable entries, and upserts the rest into PostgreSQL. Library order follows the argument order.",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runImport,
}

var (
	importBatchSize  int
	importDryRun     bool
	importPrune      bool
	importFlushCache bool
)

func init() {
	importCmd.Flags().IntVar(&importBatchSize, "batch-size", termlib.DefaultImportConfig().BatchSize, "Terms per upsert batch")
	importCmd.Flags().BoolVar(&importDryRun, "dry-run", false, "Validate and count without writing")
	importCmd.Flags().BoolVar(&importPrune, "prune", false, "Delete stored terms that are not in the imported files")
	importCmd.Flags().BoolVar(&importFlushCache, "flush-cache", false, "Clear cached analyses after importing")

	rootCmd.AddCommand(importCmd)
}

func runImport(cmd *cobra.Command, files []string) error {
	cfg, log, err := setup()
	if err != nil {
		return err
	}
	defer log.Sync()
	ctx := cmd.Context()

	importCfg := termlib.DefaultImportConfig()
	importCfg.BatchSize = importBatchSize
	importCfg.DryRun = importDryRun

	var writer termlib.TermWriter
	var store *termlib.Store
	if !importDryRun {
		store, err = termlib.NewStore(cfg.Database, log.Logger)
		if err != nil {
			return err
		}
		defer store.Close()
		if err := store.Migrate(ctx); err != nil {
			return err
		}
		writer = store
	}

	importer := termlib.NewImporter(writer, importCfg, log.Logger)

	results, err := importer.ImportFiles(ctx, files)
	if err != nil {
		return err
	}

	var keep []string
	for i, file := range files {
		r := results[i]
		fmt.Printf("%s (%s): read %d, imported %d, invalid %d, duplicates %d, bad patterns %d in %v\n",
			file, r.Format, r.TotalRead, r.Imported, r.Invalid, r.Duplicates, r.BadPattern, r.Duration)
		for _, e := range r.Errors {
			fmt.Printf("  - %s\n", e)
		}
		keep = append(keep, r.IDs...)
	}

	if importPrune && store != nil {
		removed, err := store.DeleteMissing(ctx, keep)
		if err != nil {
			return err
		}
		fmt.Printf("Pruned %d stale terms\n", removed)
	}

	if importFlushCache && !importDryRun && cfg.Cache.Enabled {
		ac, err := cache.NewAnalysisCache(cfg.Cache, log.Logger)
		if err != nil {
			log.Warn("Skipping cache flush", zap.Error(err))
			return nil
		}
		defer ac.Close()
		if err := ac.Clear(ctx); err != nil {
			return fmt.Errorf("failed to clear analysis cache: %w", err)
		}
		fmt.Println("Analysis cache cleared")
	}

	return nil
}
