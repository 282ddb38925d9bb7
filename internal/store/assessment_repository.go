/**
 * @description
 * This file implements the audit trail for published risk assessment results.
 * Every result handed to the broker is stored so support teams can answer
 * "what did we tell downstream services about this user, and when".
 *
 * @dependencies
 * - github.com/jackc/pgx/v5/pgxpool: The PostgreSQL driver and connection pool manager.
 */
package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/investnethub/risk-analysis-service/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrAssessmentNotFound is returned when no result has been recorded for a user.
var ErrAssessmentNotFound = errors.New("assessment not found")

// PostgresAssessmentRepository stores published results in PostgreSQL.
type PostgresAssessmentRepository struct {
	db *pgxpool.Pool
}

// NewPostgresAssessmentRepository creates a new instance of PostgresAssessmentRepository.
func NewPostgresAssessmentRepository(db *pgxpool.Pool) *PostgresAssessmentRepository {
	return &PostgresAssessmentRepository{db: db}
}

// EnsureAssessmentTable creates the risk_assessments table if it does not exist.
func (r *PostgresAssessmentRepository) EnsureAssessmentTable(ctx context.Context) error {
	const ddl = `
		CREATE TABLE IF NOT EXISTS risk_assessments (
			correlation_id TEXT PRIMARY KEY,
			user_id        TEXT NOT NULL,
			status         TEXT NOT NULL,
			risk_level     TEXT,
			error          TEXT,
			payload        JSONB NOT NULL,
			published_at   TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS idx_risk_assessments_user_published
			ON risk_assessments (user_id, published_at DESC);
	`
	if _, err := r.db.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("ensure risk_assessments table: %w", err)
	}
	return nil
}

// RecordAssessment stores a published result. Recording the same correlation id twice is a no-op.
func (r *PostgresAssessmentRepository) RecordAssessment(ctx context.Context, rec domain.AssessmentRecord) error {
	query := `
		INSERT INTO risk_assessments (correlation_id, user_id, status, risk_level, error, payload, published_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (correlation_id) DO NOTHING
	`
	_, err := r.db.Exec(ctx, query,
		rec.CorrelationID,
		rec.UserID,
		rec.Status,
		nullableString(rec.RiskLevel),
		nullableString(rec.Error),
		string(rec.Payload),
		rec.PublishedAt,
	)
	if err != nil {
		return fmt.Errorf("insert risk assessment %s: %w", rec.CorrelationID, err)
	}
	return nil
}

// GetLatestByUserID returns the most recent result published for a user.
func (r *PostgresAssessmentRepository) GetLatestByUserID(ctx context.Context, userID string) (*domain.AssessmentRecord, error) {
	query := `
		SELECT correlation_id, user_id, status, COALESCE(risk_level, ''), COALESCE(error, ''), payload::text, published_at
		FROM risk_assessments
		WHERE user_id = $1
		ORDER BY published_at DESC
		LIMIT 1
	`
	var (
		rec     domain.AssessmentRecord
		payload string
	)
	err := r.db.QueryRow(ctx, query, userID).Scan(
		&rec.CorrelationID,
		&rec.UserID,
		&rec.Status,
		&rec.RiskLevel,
		&rec.Error,
		&payload,
		&rec.PublishedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAssessmentNotFound
		}
		return nil, fmt.Errorf("fetch latest risk assessment for user %s: %w", userID, err)
	}
	rec.Payload = []byte(payload)
	return &rec, nil
}

func nullableString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
