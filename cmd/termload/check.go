package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/raaihank/feedback-sentinel/internal/bias"
	"github.com/raaihank/feedback-sentinel/internal/termlib"
	"github.com/spf13/cobra"
)

var checkCmd = &cobra.Command{
	Use:   "check <file>",
	Short: "Analyze feedback text against a term file",
	Long:  "Analyzes --text, or standard input when --text is empty, and prints the analysis as JSON. Exits non-zero if the text would be blocked.",
	Args:  cobra.ExactArgs(1),
	RunE:  runCheck,
}

var (
	checkText   string
	checkRender bool
)

func init() {
	checkCmd.Flags().StringVarP(&checkText, "text", "t", "", "Feedback text to analyze")
	checkCmd.Flags().BoolVar(&checkRender, "render", false, "Include the highlight overlay markup")

	rootCmd.AddCommand(checkCmd)
}

type checkOutput struct {
	Version  string           `json:"library_version"`
	Analysis bias.Analysis    `json:"analysis"`
	Status   bias.Status      `json:"status"`
	Buttons  bias.ButtonState `json:"buttons"`
	HTML     string           `json:"html,omitempty"`
}

func runCheck(cmd *cobra.Command, args []string) error {
	terms, err := termlib.LoadFile(args[0])
	if err != nil {
		return err
	}
	if err := termlib.Validate(terms); err != nil {
		return err
	}

	text := checkText
	if text == "" {
		data, err := io.ReadAll(cmd.InOrStdin())
		if err != nil {
			return fmt.Errorf("failed to read stdin: %w", err)
		}
		text = string(data)
	}

	detector := bias.NewDetector(terms, nil)
	analysis := detector.Analyze(text)

	out := checkOutput{
		Version:  termlib.Version(terms),
		Analysis: analysis,
		Status:   bias.StatusFor(analysis),
		Buttons:  bias.Gate(analysis),
	}
	if checkRender {
		out.HTML, _ = bias.NewRenderer(bias.DefaultTheme()).Render(text, analysis)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(out); err != nil {
		return err
	}

	return bias.CheckSubmission(analysis)
}
