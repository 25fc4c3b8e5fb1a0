package termlib

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/raaihank/feedback-sentinel/internal/bias"
	"github.com/raaihank/feedback-sentinel/internal/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const yamlLibrary = `
terms:
  - id: age-young
    pattern: '\byoung\b'
    term: young
    category: age
    category_display: Age
    severity: warning
    severity_display: Warning
    explanation: Age references can introduce bias.
    suggestions: [early-career, new to the field]
  - id: gender-aggressive
    pattern: '\baggressive\b'
    term: aggressive
    category: gender
    severity: 2
    suggestions: []
`

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func sampleTerms() []bias.BiasTerm {
	return []bias.BiasTerm{
		{ID: "age-young", Pattern: `\byoung\b`, Term: "young", Category: "age", Severity: bias.SeverityWarning, Suggestions: []string{"early-career"}},
		{ID: "gender-aggressive", Pattern: `\baggressive\b`, Term: "aggressive", Category: "gender", Severity: bias.SeverityBlocking, Suggestions: []string{"assertive"}},
	}
}

func TestParse(t *testing.T) {
	t.Run("MappingDocument", func(t *testing.T) {
		terms, err := LoadFile(writeFile(t, "terms.yaml", yamlLibrary))
		require.NoError(t, err)
		require.Len(t, terms, 2)
		assert.Equal(t, "age-young", terms[0].ID)
		assert.Equal(t, bias.SeverityWarning, terms[0].Severity)
		assert.Equal(t, []string{"early-career", "new to the field"}, terms[0].Suggestions)
		assert.Equal(t, bias.SeverityBlocking, terms[1].Severity)
	})

	t.Run("ListDocument", func(t *testing.T) {
		terms, err := Parse([]byte(`
- id: a
  pattern: a
  term: a
  category: c
  severity: blocking
`))
		require.NoError(t, err)
		require.Len(t, terms, 1)
		assert.Equal(t, bias.SeverityBlocking, terms[0].Severity)
	})

	t.Run("JSONDocument", func(t *testing.T) {
		terms, err := Parse([]byte(`[{"id":"a","pattern":"a","term":"a","category":"c","severity":1}]`))
		require.NoError(t, err)
		require.Len(t, terms, 1)
		assert.Equal(t, bias.SeverityWarning, terms[0].Severity)
	})

	t.Run("Empty", func(t *testing.T) {
		terms, err := Parse(nil)
		require.NoError(t, err)
		assert.Empty(t, terms)
	})

	t.Run("UnknownSeverity", func(t *testing.T) {
		_, err := Parse([]byte("- {id: a, pattern: a, term: a, category: c, severity: fatal}"))
		assert.Error(t, err)
	})

	t.Run("ScalarDocument", func(t *testing.T) {
		_, err := Parse([]byte("just text"))
		assert.Error(t, err)
	})

	t.Run("MissingFile", func(t *testing.T) {
		_, err := LoadFile(filepath.Join(t.TempDir(), "nope.yaml"))
		assert.Error(t, err)
	})
}

func TestValidate(t *testing.T) {
	t.Run("Valid", func(t *testing.T) {
		assert.NoError(t, Validate(sampleTerms()))
	})

	t.Run("MissingFields", func(t *testing.T) {
		terms := sampleTerms()
		terms[0].Pattern = ""
		err := Validate(terms)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "Pattern")
	})

	t.Run("BadSeverity", func(t *testing.T) {
		terms := sampleTerms()
		terms[1].Severity = 7
		assert.Error(t, Validate(terms))
	})

	t.Run("DuplicateID", func(t *testing.T) {
		terms := append(sampleTerms(), sampleTerms()[0])
		err := Validate(terms)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "duplicate term id")
	})

	t.Run("PatternErrors", func(t *testing.T) {
		terms := sampleTerms()
		terms[1].Pattern = "(unclosed"
		failed := PatternErrors(terms)
		assert.Len(t, failed, 1)
		assert.Contains(t, failed, "gender-aggressive")
	})
}

func TestLibrary(t *testing.T) {
	t.Run("ReplaceSwapsDetector", func(t *testing.T) {
		lib := NewLibrary(sampleTerms()[:1], "test", logger.Nop())
		before, v1 := lib.Current()
		assert.Equal(t, 1, before.Len())

		var notified []Snapshot
		lib.OnReload(func(s Snapshot) { notified = append(notified, s) })

		snap := lib.Replace(sampleTerms(), "test")
		after, v2 := lib.Current()
		assert.Equal(t, 2, after.Len())
		assert.NotEqual(t, v1, v2)
		assert.Equal(t, v2, snap.Version)
		require.Len(t, notified, 1)
		assert.Equal(t, 2, notified[0].TermCount)

		// the old detector keeps its own terms
		assert.Equal(t, 1, before.Len())
		assert.False(t, before.Analyze("an aggressive plan").HasBias)
		assert.True(t, after.Analyze("an aggressive plan").HasBias)
	})

	t.Run("VersionIsContentHash", func(t *testing.T) {
		assert.Equal(t, Version(sampleTerms()), Version(sampleTerms()))
		changed := sampleTerms()
		changed[0].Explanation = "edited"
		assert.NotEqual(t, Version(sampleTerms()), Version(changed))
	})

	t.Run("TermsAreCopied", func(t *testing.T) {
		terms := sampleTerms()
		lib := NewLibrary(terms, "test", nil)
		terms[0].ID = "mutated"
		assert.Equal(t, "age-young", lib.Terms()[0].ID)
	})

	t.Run("ReloadFileKeepsPreviousOnError", func(t *testing.T) {
		lib := NewLibrary(sampleTerms(), "test", logger.Nop())
		_, version := lib.Current()

		_, err := lib.ReloadFile(writeFile(t, "bad.yaml", "- {id: a}\n"))
		require.Error(t, err)

		_, after := lib.Current()
		assert.Equal(t, version, after)
	})

	t.Run("WatchReloadsOnWrite", func(t *testing.T) {
		path := writeFile(t, "terms.yaml", yamlLibrary)
		lib := NewLibrary(nil, "test", logger.Nop())
		require.NoError(t, func() error { _, err := lib.ReloadFile(path); return err }())

		var mu sync.Mutex
		var versions []string
		lib.OnReload(func(s Snapshot) {
			mu.Lock()
			versions = append(versions, s.Version)
			mu.Unlock()
		})

		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan error, 1)
		go func() { done <- lib.Watch(ctx, path) }()
		// give the watcher time to register
		time.Sleep(100 * time.Millisecond)

		require.NoError(t, os.WriteFile(path, []byte(`
- id: only
  pattern: only
  term: only
  category: misc
  severity: warning
`), 0o600))

		require.Eventually(t, func() bool {
			mu.Lock()
			defer mu.Unlock()
			return len(versions) > 0
		}, 5*time.Second, 50*time.Millisecond)

		detector, _ := lib.Current()
		assert.Equal(t, 1, detector.Len())

		cancel()
		require.NoError(t, <-done)
	})
}

type recordingWriter struct {
	batches   [][]bias.BiasTerm
	positions []int
}

func (w *recordingWriter) UpsertBatch(_ context.Context, terms []bias.BiasTerm, position int) (int64, error) {
	w.batches = append(w.batches, append([]bias.BiasTerm(nil), terms...))
	w.positions = append(w.positions, position)
	return int64(len(terms)), nil
}

func TestDetectFileFormat(t *testing.T) {
	cases := map[string]FileFormat{
		"terms.yaml":    FormatYAML,
		"terms.YML":     FormatYAML,
		"terms.json":    FormatYAML,
		"terms.csv":     FormatCSV,
		"terms.parquet": FormatParquet,
		"terms.jsonl":   FormatJSONL,
	}
	for name, want := range cases {
		got, err := DetectFileFormat(name)
		require.NoError(t, err, name)
		assert.Equal(t, want, got, name)
	}

	_, err := DetectFileFormat("terms.xlsx")
	assert.Error(t, err)
}

func TestImporter(t *testing.T) {
	t.Run("CSVInBatches", func(t *testing.T) {
		path := writeFile(t, "terms.csv", `id,pattern,term,category,severity,suggestions
age-young,\byoung\b,young,age,warning,early-career|new to the field
gender-aggressive,\baggressive\b,aggressive,gender,blocking,assertive
bad-severity,x,x,misc,fatal,
age-young,\byoung\b,young,age,warning,
broken,(unclosed,broken,misc,warning,
missing-term,x,,misc,warning,
`)
		writer := &recordingWriter{}
		im := NewImporter(writer, ImportConfig{BatchSize: 1}, zap.NewNop())

		result, err := im.ImportFile(context.Background(), path)
		require.NoError(t, err)
		assert.Equal(t, FormatCSV, result.Format)
		assert.Equal(t, int64(6), result.TotalRead)
		assert.Equal(t, int64(2), result.Imported)
		assert.Equal(t, int64(2), result.Invalid)
		assert.Equal(t, int64(1), result.Duplicates)
		assert.Equal(t, int64(1), result.BadPattern)
		assert.Equal(t, 2, result.Batches)

		require.Len(t, writer.batches, 2)
		assert.Equal(t, []int{0, 1}, writer.positions)
		assert.Equal(t, []string{"early-career", "new to the field"}, writer.batches[0][0].Suggestions)
		assert.Equal(t, bias.SeverityBlocking, writer.batches[1][0].Severity)
	})

	t.Run("CSVMissingColumn", func(t *testing.T) {
		path := writeFile(t, "terms.csv", "id,term\na,b\n")
		_, err := NewImporter(nil, DefaultImportConfig(), zap.NewNop()).ImportFile(context.Background(), path)
		assert.Error(t, err)
	})

	t.Run("JSONLines", func(t *testing.T) {
		path := writeFile(t, "terms.jsonl", `{"id":"a","pattern":"a","term":"a","category":"c","severity":"warning"}
{"id":"b","pattern":"b","term":"b","category":"c","severity":9}
{"id":"c","pattern":"c","term":"c","category":"c","severity":2,"suggestions":["x"]}
`)
		writer := &recordingWriter{}
		result, err := NewImporter(writer, DefaultImportConfig(), zap.NewNop()).ImportFile(context.Background(), path)
		require.NoError(t, err)
		assert.Equal(t, int64(3), result.TotalRead)
		assert.Equal(t, int64(2), result.Imported)
		assert.Equal(t, int64(1), result.Invalid)
		require.Len(t, writer.batches, 1)
		assert.Equal(t, "c", writer.batches[0][1].ID)
	})

	t.Run("ParquetRoundTrip", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "terms.parquet")
		require.NoError(t, WriteParquet(path, sampleTerms()))

		terms, rowErrs, err := ReadFile(path)
		require.NoError(t, err)
		assert.Empty(t, rowErrs)
		require.Len(t, terms, 2)
		assert.Equal(t, sampleTerms()[1].ID, terms[1].ID)
		assert.Equal(t, bias.SeverityBlocking, terms[1].Severity)
		assert.Equal(t, []string{"assertive"}, terms[1].Suggestions)
	})

	t.Run("SeveralFilesKeepArgumentOrder", func(t *testing.T) {
		first := writeFile(t, "a.yaml", `
- id: z-first
  pattern: '\bfirst\b'
  term: first
  category: misc
  severity: blocking
- id: m-shared
  pattern: '\bshared\b'
  term: shared
  category: misc
  severity: warning
`)
		second := writeFile(t, "b.yaml", `
- id: a-second
  pattern: '\bfirst\b'
  term: first
  category: misc
  severity: warning
- id: m-shared
  pattern: '\bother\b'
  term: other
  category: misc
  severity: blocking
`)
		writer := &recordingWriter{}
		im := NewImporter(writer, ImportConfig{BatchSize: 1}, zap.NewNop())

		results, err := im.ImportFiles(context.Background(), []string{first, second})
		require.NoError(t, err)
		require.Len(t, results, 2)

		positions := make(map[string]int)
		patterns := make(map[string]string)
		for i, batch := range writer.batches {
			for j, term := range batch {
				positions[term.ID] = writer.positions[i] + j
				patterns[term.ID] = term.Pattern
			}
		}
		assert.Equal(t, map[string]int{"z-first": 0, "m-shared": 1, "a-second": 2}, positions)
		assert.Equal(t, `\bshared\b`, patterns["m-shared"])

		assert.Equal(t, int64(2), results[0].Imported)
		assert.Equal(t, int64(1), results[1].Imported)
		assert.Equal(t, int64(1), results[1].Duplicates)
		require.Len(t, results[1].Errors, 1)
		assert.Contains(t, results[1].Errors[0], first)
		assert.Equal(t, []string{"a-second", "m-shared"}, results[1].IDs)
	})

	t.Run("DryRunWritesNothing", func(t *testing.T) {
		writer := &recordingWriter{}
		im := NewImporter(writer, ImportConfig{DryRun: true}, zap.NewNop())
		result, err := im.ImportFile(context.Background(), writeFile(t, "terms.yaml", yamlLibrary))
		require.NoError(t, err)
		assert.Equal(t, int64(2), result.Imported)
		assert.Empty(t, writer.batches)
	})
}

func TestMaskDatabaseURL(t *testing.T) {
	assert.Equal(t, "postgres://user:***@db:5432/terms", maskDatabaseURL("postgres://user:secret@db:5432/terms"))
	assert.Equal(t, "postgres://user@db/terms", maskDatabaseURL("postgres://user@db/terms"))
	assert.Equal(t, "postgres://db/terms", maskDatabaseURL("postgres://db/terms"))
}
