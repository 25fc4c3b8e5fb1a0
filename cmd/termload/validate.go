package main

import (
	"fmt"
	"sort"

	"github.com/raaihank/feedback-sentinel/internal/termlib"
	"github.com/spf13/cobra"
)

var validateCmd = &cobra.Command{
	Use:   "validate <file>",
	Short: "Validate a term file",
	Long:  "Checks required fields, severities, duplicate ids and pattern syntax. Exits non-zero when any entry would be rejected.",
	Args:  cobra.ExactArgs(1),
	RunE:  runValidate,
}

func init() {
	rootCmd.AddCommand(validateCmd)
}

func runValidate(_ *cobra.Command, args []string) error {
	path := args[0]

	terms, rowErrs, err := termlib.ReadFile(path)
	if err != nil {
		return err
	}

	problems := 0
	for _, rowErr := range rowErrs {
		fmt.Printf("row: %v\n", rowErr)
		problems++
	}

	if err := termlib.Validate(terms); err != nil {
		fmt.Println(err)
		problems++
	}

	badPatterns := termlib.PatternErrors(terms)
	ids := make([]string, 0, len(badPatterns))
	for id := range badPatterns {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		fmt.Printf("term %q: pattern does not compile: %v\n", id, badPatterns[id])
		problems++
	}

	if problems > 0 {
		return fmt.Errorf("%s: %d problems found in %d terms", path, problems, len(terms))
	}

	fmt.Printf("%s: %d terms OK (version %s)\n", path, len(terms), termlib.Version(terms))
	return nil
}
