package termlib

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/raaihank/feedback-sentinel/internal/bias"
	"github.com/segmentio/parquet-go"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// FileFormat represents supported import formats
type FileFormat string

const (
	FormatYAML    FileFormat = "yaml"
	FormatCSV     FileFormat = "csv"
	FormatParquet FileFormat = "parquet"
	FormatJSONL   FileFormat = "jsonl"
)

// DetectFileFormat detects the import format from the file extension.
// JSON documents are valid YAML and load through the YAML path.
func DetectFileFormat(filename string) (FileFormat, error) {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".yaml", ".yml", ".json":
		return FormatYAML, nil
	case ".csv":
		return FormatCSV, nil
	case ".parquet":
		return FormatParquet, nil
	case ".jsonl", ".ndjson":
		return FormatJSONL, nil
	default:
		return "", fmt.Errorf("unsupported file format: %s", filename)
	}
}

// TermRecord is the flat row form of a term used by CSV and Parquet files.
// Suggestions are pipe separated in CSV.
type TermRecord struct {
	ID              string   `parquet:"id" json:"id"`
	Pattern         string   `parquet:"pattern" json:"pattern"`
	Term            string   `parquet:"term" json:"term"`
	Category        string   `parquet:"category" json:"category"`
	CategoryDisplay string   `parquet:"category_display" json:"category_display"`
	Severity        string   `parquet:"severity" json:"severity"`
	SeverityDisplay string   `parquet:"severity_display" json:"severity_display"`
	Explanation     string   `parquet:"explanation" json:"explanation"`
	Suggestions     []string `parquet:"suggestions" json:"suggestions"`
}

// ToTerm converts the record into a library entry
func (r TermRecord) ToTerm() (bias.BiasTerm, error) {
	severity, err := bias.ParseSeverity(r.Severity)
	if err != nil {
		return bias.BiasTerm{}, fmt.Errorf("term %q: %w", r.ID, err)
	}
	return bias.BiasTerm{
		ID:              strings.TrimSpace(r.ID),
		Pattern:         r.Pattern,
		Term:            strings.TrimSpace(r.Term),
		Category:        strings.TrimSpace(r.Category),
		CategoryDisplay: strings.TrimSpace(r.CategoryDisplay),
		Severity:        severity,
		SeverityDisplay: strings.TrimSpace(r.SeverityDisplay),
		Explanation:     strings.TrimSpace(r.Explanation),
		Suggestions:     r.Suggestions,
	}, nil
}

// RecordFromTerm flattens a library entry
func RecordFromTerm(t bias.BiasTerm) TermRecord {
	return TermRecord{
		ID:              t.ID,
		Pattern:         t.Pattern,
		Term:            t.Term,
		Category:        t.Category,
		CategoryDisplay: t.CategoryDisplay,
		Severity:        t.Severity.String(),
		SeverityDisplay: t.SeverityDisplay,
		Explanation:     t.Explanation,
		Suggestions:     t.Suggestions,
	}
}

// TermWriter persists batches of terms
type TermWriter interface {
	UpsertBatch(ctx context.Context, terms []bias.BiasTerm, position int) (int64, error)
}

// ImportConfig controls an import run
type ImportConfig struct {
	BatchSize int           `yaml:"batch_size" mapstructure:"batch_size"`
	Timeout   time.Duration `yaml:"timeout" mapstructure:"timeout"`
	DryRun    bool          `yaml:"dry_run" mapstructure:"dry_run"`
}

// DefaultImportConfig returns the import defaults
func DefaultImportConfig() ImportConfig {
	return ImportConfig{
		BatchSize: 500,
		Timeout:   5 * time.Minute,
	}
}

// ImportResult reports the outcome of an import
type ImportResult struct {
	Format     FileFormat    `json:"format"`
	TotalRead  int64         `json:"total_read"`
	Imported   int64         `json:"imported"`
	Invalid    int64         `json:"invalid"`
	Duplicates int64         `json:"duplicates"`
	BadPattern int64         `json:"bad_pattern"`
	Batches    int           `json:"batches"`
	Duration   time.Duration `json:"duration"`
	Errors     []string      `json:"errors,omitempty"`

	// IDs lists every decoded term id, valid or not
	IDs []string `json:"-"`
}

// Importer loads term files into a TermWriter
type Importer struct {
	writer TermWriter
	config ImportConfig
	logger *zap.Logger
}

// NewImporter creates an importer. A nil writer behaves like a dry run.
func NewImporter(writer TermWriter, config ImportConfig, logger *zap.Logger) *Importer {
	if config.BatchSize <= 0 {
		config.BatchSize = DefaultImportConfig().BatchSize
	}
	if config.Timeout <= 0 {
		config.Timeout = DefaultImportConfig().Timeout
	}
	return &Importer{writer: writer, config: config, logger: logger}
}

// ReadFile reads every record of a term file in any supported format.
// Rows that cannot be decoded are returned as errors alongside the terms.
func ReadFile(path string) ([]bias.BiasTerm, []error, error) {
	format, err := DetectFileFormat(path)
	if err != nil {
		return nil, nil, err
	}

	switch format {
	case FormatYAML:
		terms, err := LoadFile(path)
		return terms, nil, err
	case FormatCSV:
		return readCSV(path)
	case FormatParquet:
		return readParquet(path)
	case FormatJSONL:
		return readJSONL(path)
	}
	return nil, nil, fmt.Errorf("unsupported file format: %s", format)
}

// ImportFile validates a term file and writes the valid entries in batches
func (im *Importer) ImportFile(ctx context.Context, path string) (*ImportResult, error) {
	results, err := im.ImportFiles(ctx, []string{path})
	if len(results) == 0 {
		return nil, err
	}
	return results[0], err
}

// ImportFiles imports several term files as one library. Files are read
// concurrently but written in argument order, with positions continuing
// from one file to the next. An id already taken by an earlier file is
// counted as a duplicate of the later file.
func (im *Importer) ImportFiles(ctx context.Context, paths []string) ([]*ImportResult, error) {
	ctx, cancel := context.WithTimeout(ctx, im.config.Timeout)
	defer cancel()

	start := time.Now()
	results := make([]*ImportResult, len(paths))
	read := make([][]bias.BiasTerm, len(paths))

	for i, path := range paths {
		format, err := DetectFileFormat(path)
		if err != nil {
			return nil, err
		}
		results[i] = &ImportResult{Format: format}
	}

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for i, path := range paths {
		i, path := i, path
		g.Go(func() error {
			if err := gCtx.Err(); err != nil {
				return err
			}
			im.logger.Info("Starting term import",
				zap.String("file", path),
				zap.String("format", string(results[i].Format)),
				zap.Int("batch_size", im.config.BatchSize),
				zap.Bool("dry_run", im.dryRun()))

			terms, rowErrs, err := ReadFile(path)
			if err != nil {
				return fmt.Errorf("failed to read %s: %w", path, err)
			}
			result := results[i]
			for _, rowErr := range rowErrs {
				result.Invalid++
				result.Errors = append(result.Errors, rowErr.Error())
			}
			result.TotalRead = int64(len(terms)) + int64(len(rowErrs))
			for _, term := range terms {
				result.IDs = append(result.IDs, term.ID)
			}
			read[i] = terms
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	owners := make(map[string]string)
	position := 0
	for i, path := range paths {
		result := results[i]
		valid := im.filter(path, read[i], owners, result)
		if err := im.write(ctx, valid, position, result); err != nil {
			return results[:i+1], err
		}
		position += len(valid)
		result.Duration = time.Since(start)

		im.logger.Info("Term import completed",
			zap.String("file", path),
			zap.Int64("total_read", result.TotalRead),
			zap.Int64("imported", result.Imported),
			zap.Int64("invalid", result.Invalid),
			zap.Int64("duplicates", result.Duplicates),
			zap.Int64("bad_pattern", result.BadPattern),
			zap.Duration("duration", result.Duration))
	}

	return results, nil
}

// write upserts valid in batches. base is the library position of valid[0].
func (im *Importer) write(ctx context.Context, valid []bias.BiasTerm, base int, result *ImportResult) error {
	for offset := 0; offset < len(valid); offset += im.config.BatchSize {
		if err := ctx.Err(); err != nil {
			return err
		}

		end := offset + im.config.BatchSize
		if end > len(valid) {
			end = len(valid)
		}
		batch := valid[offset:end]
		result.Batches++

		if im.dryRun() {
			result.Imported += int64(len(batch))
			continue
		}

		if _, err := im.writer.UpsertBatch(ctx, batch, base+offset); err != nil {
			im.logger.Error("Batch import failed", zap.Error(err), zap.Int("position", base+offset))
			result.Errors = append(result.Errors, err.Error())
			continue
		}
		result.Imported += int64(len(batch))
	}
	return nil
}

func (im *Importer) dryRun() bool {
	return im.config.DryRun || im.writer == nil
}

// filter drops invalid, duplicate and uncompilable entries, keeping file
// order. owners maps each accepted id to the file that introduced it.
func (im *Importer) filter(path string, terms []bias.BiasTerm, owners map[string]string, result *ImportResult) []bias.BiasTerm {
	valid := make([]bias.BiasTerm, 0, len(terms))

	for _, term := range terms {
		if err := ValidateTerm(term); err != nil {
			result.Invalid++
			result.Errors = append(result.Errors, err.Error())
			continue
		}
		if owner, dup := owners[term.ID]; dup {
			result.Duplicates++
			if owner != path {
				result.Errors = append(result.Errors, fmt.Sprintf("term %q: already imported from %s", term.ID, owner))
			}
			im.logger.Warn("Skipping duplicate term id",
				zap.String("term_id", term.ID),
				zap.String("file", path),
				zap.String("first_seen", owner))
			continue
		}
		if _, err := bias.NewRegexMatcher(term.Pattern); err != nil {
			result.BadPattern++
			result.Errors = append(result.Errors, fmt.Sprintf("term %q: %v", term.ID, err))
			continue
		}
		owners[term.ID] = path
		valid = append(valid, term)
	}

	return valid
}

// csvColumns are the recognised CSV header names
var csvColumns = []string{"id", "pattern", "term", "category", "category_display", "severity", "severity_display", "explanation", "suggestions"}

func readCSV(path string) ([]bias.BiasTerm, []error, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open CSV file: %w", err)
	}
	defer file.Close()

	reader := csv.NewReader(file)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read CSV header: %w", err)
	}
	index := make(map[string]int, len(header))
	for i, name := range header {
		index[strings.ToLower(strings.TrimSpace(name))] = i
	}
	for _, required := range []string{"id", "pattern", "severity"} {
		if _, ok := index[required]; !ok {
			return nil, nil, fmt.Errorf("CSV header is missing column %q", required)
		}
	}

	var (
		terms   []bias.BiasTerm
		rowErrs []error
		line    = 1
	)
	for {
		row, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		line++
		if err != nil {
			rowErrs = append(rowErrs, fmt.Errorf("line %d: %w", line, err))
			continue
		}

		field := func(name string) string {
			i, ok := index[name]
			if !ok || i >= len(row) {
				return ""
			}
			return row[i]
		}

		record := TermRecord{
			ID:              field(csvColumns[0]),
			Pattern:         field(csvColumns[1]),
			Term:            field(csvColumns[2]),
			Category:        field(csvColumns[3]),
			CategoryDisplay: field(csvColumns[4]),
			Severity:        field(csvColumns[5]),
			SeverityDisplay: field(csvColumns[6]),
			Explanation:     field(csvColumns[7]),
			Suggestions:     splitSuggestions(field(csvColumns[8])),
		}
		term, err := record.ToTerm()
		if err != nil {
			rowErrs = append(rowErrs, fmt.Errorf("line %d: %w", line, err))
			continue
		}
		terms = append(terms, term)
	}

	return terms, rowErrs, nil
}

func splitSuggestions(s string) []string {
	if strings.TrimSpace(s) == "" {
		return []string{}
	}
	parts := strings.Split(s, "|")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func readParquet(path string) ([]bias.BiasTerm, []error, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open Parquet file: %w", err)
	}
	defer file.Close()

	reader := parquet.NewReader(file)
	defer reader.Close()

	var (
		terms   []bias.BiasTerm
		rowErrs []error
	)
	for row := 0; ; row++ {
		var record TermRecord
		err := reader.Read(&record)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return terms, rowErrs, fmt.Errorf("failed to read Parquet row %d: %w", row, err)
		}
		term, err := record.ToTerm()
		if err != nil {
			rowErrs = append(rowErrs, fmt.Errorf("row %d: %w", row, err))
			continue
		}
		terms = append(terms, term)
	}

	return terms, rowErrs, nil
}

// WriteParquet writes terms as a Parquet file
func WriteParquet(path string, terms []bias.BiasTerm) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create Parquet file: %w", err)
	}
	defer file.Close()

	writer := parquet.NewWriter(file)
	for _, term := range terms {
		record := RecordFromTerm(term)
		if err := writer.Write(&record); err != nil {
			return fmt.Errorf("failed to write term %q: %w", term.ID, err)
		}
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("failed to finish Parquet file: %w", err)
	}
	return file.Close()
}

func readJSONL(path string) ([]bias.BiasTerm, []error, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open JSON lines file: %w", err)
	}
	defer file.Close()

	decoder := json.NewDecoder(file)
	var (
		terms   []bias.BiasTerm
		rowErrs []error
	)
	for row := 0; ; row++ {
		var term bias.BiasTerm
		err := decoder.Decode(&term)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			var syntaxErr *json.SyntaxError
			if errors.As(err, &syntaxErr) {
				// the decoder cannot resynchronise after a syntax error
				return terms, rowErrs, fmt.Errorf("record %d: %w", row, err)
			}
			rowErrs = append(rowErrs, fmt.Errorf("record %d: %w", row, err))
			continue
		}
		terms = append(terms, term)
	}

	return terms, rowErrs, nil
}
