package termlib

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/raaihank/feedback-sentinel/internal/bias"
	"github.com/raaihank/feedback-sentinel/internal/config"
	"go.uber.org/zap"
)

// termColumns is the column count of one upserted row
const termColumns = 10

const schema = `
	CREATE TABLE IF NOT EXISTS bias_terms (
		id               TEXT PRIMARY KEY,
		position         INTEGER NOT NULL,
		pattern          TEXT NOT NULL,
		term             TEXT NOT NULL,
		category         TEXT NOT NULL,
		category_display TEXT NOT NULL DEFAULT '',
		severity         SMALLINT NOT NULL CHECK (severity IN (1, 2)),
		severity_display TEXT NOT NULL DEFAULT '',
		explanation      TEXT NOT NULL DEFAULT '',
		suggestions      TEXT[] NOT NULL DEFAULT '{}',
		created_at       TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at       TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);
	CREATE INDEX IF NOT EXISTS idx_bias_terms_position ON bias_terms (position);`

// Store persists the term library in PostgreSQL
type Store struct {
	db     *sqlx.DB
	logger *zap.Logger
}

// termRow maps a bias_terms row; suggestions need the pq array scanner
type termRow struct {
	bias.BiasTerm
	Suggestions pq.StringArray `db:"suggestions"`
}

// CategoryCount is one row of the library statistics
type CategoryCount struct {
	Category string        `db:"category" json:"category"`
	Severity bias.Severity `db:"severity" json:"severity"`
	Count    int64         `db:"count" json:"count"`
}

// StoreStats summarizes the stored library
type StoreStats struct {
	TotalTerms    int64           `json:"total_terms"`
	BlockingTerms int64           `json:"blocking_terms"`
	WarningTerms  int64           `json:"warning_terms"`
	LastUpdated   *time.Time      `json:"last_updated,omitempty"`
	ByCategory    []CategoryCount `json:"by_category"`
}

// NewStore connects to PostgreSQL and verifies the connection
func NewStore(cfg config.DatabaseConfig, logger *zap.Logger) (*Store, error) {
	db, err := sqlx.Connect("postgres", cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("database ping failed: %w", err)
	}

	logger.Info("Term store connected",
		zap.String("database_url", maskDatabaseURL(cfg.URL)),
		zap.Int("max_open_conns", cfg.MaxOpenConns))

	return &Store{db: db, logger: logger}, nil
}

// NewStoreFromDB wraps an existing connection
func NewStoreFromDB(db *sqlx.DB, logger *zap.Logger) *Store {
	return &Store{db: db, logger: logger}
}

// Migrate creates the bias_terms table if it does not exist
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to migrate term store: %w", err)
	}
	return nil
}

// List returns the library in its stored order
func (s *Store) List(ctx context.Context) ([]bias.BiasTerm, error) {
	query := `
		SELECT id, pattern, term, category, category_display, severity,
		       severity_display, explanation, suggestions
		FROM bias_terms
		ORDER BY position, id`

	var rows []termRow
	if err := s.db.SelectContext(ctx, &rows, query); err != nil {
		return nil, fmt.Errorf("failed to list terms: %w", err)
	}

	terms := make([]bias.BiasTerm, 0, len(rows))
	for _, row := range rows {
		term := row.BiasTerm
		term.Suggestions = []string(row.Suggestions)
		terms = append(terms, term)
	}

	s.logger.Debug("Loaded terms from store", zap.Int("count", len(terms)))
	return terms, nil
}

// UpsertBatch inserts or updates terms. position is the library index of the
// first term in the batch.
func (s *Store) UpsertBatch(ctx context.Context, terms []bias.BiasTerm, position int) (int64, error) {
	if len(terms) == 0 {
		return 0, nil
	}

	start := time.Now()
	valueStrings := make([]string, 0, len(terms))
	valueArgs := make([]interface{}, 0, len(terms)*termColumns)

	for i, term := range terms {
		placeholders := make([]string, termColumns)
		for c := range placeholders {
			placeholders[c] = fmt.Sprintf("$%d", i*termColumns+c+1)
		}
		valueStrings = append(valueStrings, "("+strings.Join(placeholders, ", ")+")")

		suggestions := term.Suggestions
		if suggestions == nil {
			suggestions = []string{}
		}
		valueArgs = append(valueArgs,
			term.ID,
			position+i,
			term.Pattern,
			term.Term,
			term.Category,
			term.CategoryDisplay,
			int(term.Severity),
			term.SeverityDisplay,
			term.Explanation,
			pq.Array(suggestions),
		)
	}

	query := fmt.Sprintf(`
		INSERT INTO bias_terms (id, position, pattern, term, category, category_display,
		                        severity, severity_display, explanation, suggestions)
		VALUES %s
		ON CONFLICT (id) DO UPDATE SET
			position = EXCLUDED.position,
			pattern = EXCLUDED.pattern,
			term = EXCLUDED.term,
			category = EXCLUDED.category,
			category_display = EXCLUDED.category_display,
			severity = EXCLUDED.severity,
			severity_display = EXCLUDED.severity_display,
			explanation = EXCLUDED.explanation,
			suggestions = EXCLUDED.suggestions,
			updated_at = NOW()`, strings.Join(valueStrings, ","))

	result, err := s.db.ExecContext(ctx, query, valueArgs...)
	if err != nil {
		s.logger.Error("Failed to upsert terms", zap.Error(err), zap.Int("batch_size", len(terms)))
		return 0, fmt.Errorf("failed to upsert terms: %w", err)
	}

	affected, _ := result.RowsAffected()
	s.logger.Debug("Upserted term batch",
		zap.Int("batch_size", len(terms)),
		zap.Int64("affected", affected),
		zap.Duration("duration", time.Since(start)))

	return affected, nil
}

// DeleteMissing removes terms whose ids are not in keep
func (s *Store) DeleteMissing(ctx context.Context, keep []string) (int64, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM bias_terms WHERE NOT (id = ANY($1))`, pq.Array(keep))
	if err != nil {
		return 0, fmt.Errorf("failed to prune terms: %w", err)
	}
	return result.RowsAffected()
}

// Stats returns counts by severity and category
func (s *Store) Stats(ctx context.Context) (*StoreStats, error) {
	stats := &StoreStats{}

	query := `
		SELECT
			COUNT(*) AS total,
			COUNT(CASE WHEN severity = 2 THEN 1 END) AS blocking,
			COUNT(CASE WHEN severity = 1 THEN 1 END) AS warning,
			MAX(updated_at) AS last_updated
		FROM bias_terms`

	err := s.db.QueryRowContext(ctx, query).Scan(
		&stats.TotalTerms,
		&stats.BlockingTerms,
		&stats.WarningTerms,
		&stats.LastUpdated,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get term stats: %w", err)
	}

	categoryQuery := `
		SELECT category, severity, COUNT(*) AS count
		FROM bias_terms
		GROUP BY category, severity
		ORDER BY category, severity`
	if err := s.db.SelectContext(ctx, &stats.ByCategory, categoryQuery); err != nil {
		return nil, fmt.Errorf("failed to get category stats: %w", err)
	}

	return stats, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// maskDatabaseURL masks the password in a database URL for logging
func maskDatabaseURL(url string) string {
	at := strings.LastIndex(url, "@")
	if at < 0 {
		return url
	}
	userPart := url[:at]
	colon := strings.LastIndex(userPart, ":")
	// the scheme separator is not a password
	if colon < 0 || !strings.Contains(userPart[:colon], "://") {
		return url
	}
	return userPart[:colon+1] + "***" + url[at:]
}
