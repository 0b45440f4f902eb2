package usage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
)

const createUsageTable = `
	CREATE TABLE IF NOT EXISTS usage_records (
		id              BIGSERIAL PRIMARY KEY,
		recorded_at     TIMESTAMPTZ NOT NULL,
		model           TEXT NOT NULL,
		input_tokens    INTEGER NOT NULL,
		output_tokens   INTEGER NOT NULL,
		input_cost_usd  DOUBLE PRECISION,
		output_cost_usd DOUBLE PRECISION,
		total_cost_usd  DOUBLE PRECISION,
		duration_ms     DOUBLE PRECISION
	)
`

// OpenPostgres opens and pings a lib/pq connection pool.
func OpenPostgres(ctx context.Context, databaseURL string) (*sql.DB, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return db, nil
}

// PostgresSink stores records in usage_records. Unpriced costs are NULL.
type PostgresSink struct {
	db *sql.DB
}

func NewPostgresSink(db *sql.DB) *PostgresSink {
	return &PostgresSink{db: db}
}

func (s *PostgresSink) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, createUsageTable); err != nil {
		return fmt.Errorf("create usage_records: %w", err)
	}
	return nil
}

func (s *PostgresSink) Write(ctx context.Context, rec Record) error {
	recordedAt, err := rec.Time()
	if err != nil {
		return fmt.Errorf("parse record timestamp: %w", err)
	}

	query := `
		INSERT INTO usage_records (recorded_at, model, input_tokens, output_tokens, input_cost_usd, output_cost_usd, total_cost_usd, duration_ms)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`

	_, err = s.db.ExecContext(ctx, query,
		recordedAt,
		rec.Model,
		rec.InputTokens,
		rec.OutputTokens,
		nullFloat(rec.InputCostUSD),
		nullFloat(rec.OutputCostUSD),
		nullFloat(rec.TotalCostUSD),
		nullFloat(rec.DurationMS),
	)
	if err != nil {
		return fmt.Errorf("insert usage record: %w", err)
	}

	return nil
}

// Recent returns the newest n records, newest first.
func (s *PostgresSink) Recent(ctx context.Context, n int) ([]Record, error) {
	query := `
		SELECT recorded_at, model, input_tokens, output_tokens, input_cost_usd, output_cost_usd, total_cost_usd, duration_ms
		FROM usage_records
		ORDER BY recorded_at DESC
		LIMIT $1
	`

	rows, err := s.db.QueryContext(ctx, query, n)
	if err != nil {
		return nil, fmt.Errorf("query usage records: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var (
			rec                   Record
			recordedAt            time.Time
			inputCost, outputCost sql.NullFloat64
			totalCost, durationMS sql.NullFloat64
		)
		err := rows.Scan(
			&recordedAt,
			&rec.Model,
			&rec.InputTokens,
			&rec.OutputTokens,
			&inputCost,
			&outputCost,
			&totalCost,
			&durationMS,
		)
		if err != nil {
			return nil, fmt.Errorf("scan usage record: %w", err)
		}
		rec.Timestamp = recordedAt.UTC().Format(TimestampLayout)
		rec.InputCostUSD = floatPtr(inputCost)
		rec.OutputCostUSD = floatPtr(outputCost)
		rec.TotalCostUSD = floatPtr(totalCost)
		rec.DurationMS = floatPtr(durationMS)
		records = append(records, rec)
	}

	return records, rows.Err()
}

// Close closes the database handle the sink was built on.
func (s *PostgresSink) Close() error {
	return s.db.Close()
}

func (s *PostgresSink) Check(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *PostgresSink) Name() string {
	return "postgres"
}

func nullFloat(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}

func floatPtr(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	return ptr(v.Float64)
}
