package main

import (
	"fmt"

	"github.com/raaihank/feedback-sentinel/internal/termlib"
	"github.com/spf13/cobra"
)

var exportCmd = &cobra.Command{
	Use:   "export <out.parquet>",
	Short: "Export a term library to Parquet",
	Long:  "Writes the terms from --from, or from the term store when --from is empty, to a Parquet file.",
	Args:  cobra.ExactArgs(1),
	RunE:  runExport,
}

var exportFrom string

func init() {
	exportCmd.Flags().StringVar(&exportFrom, "from", "", "Term file to export instead of the term store")

	rootCmd.AddCommand(exportCmd)
}

func runExport(cmd *cobra.Command, args []string) error {
	var source string
	var count int

	if exportFrom != "" {
		terms, _, err := termlib.ReadFile(exportFrom)
		if err != nil {
			return err
		}
		if err := termlib.WriteParquet(args[0], terms); err != nil {
			return err
		}
		source, count = exportFrom, len(terms)
	} else {
		cfg, log, err := setup()
		if err != nil {
			return err
		}
		defer log.Sync()

		store, err := termlib.NewStore(cfg.Database, log.Logger)
		if err != nil {
			return err
		}
		defer store.Close()

		terms, err := store.List(cmd.Context())
		if err != nil {
			return err
		}
		if err := termlib.WriteParquet(args[0], terms); err != nil {
			return err
		}
		source, count = "term store", len(terms)
	}

	fmt.Printf("Exported %d terms from %s to %s\n", count, source, args[0])
	return nil
}
