// Package repository persists finished screenings in PostgreSQL.
package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"

	"github.com/denticheck-screening-server/internal/domain"
)

const defaultListLimit = 50

// ScreeningRepository handles screening record persistence
type ScreeningRepository struct {
	db  *pgxpool.Pool
	log *logrus.Logger
}

// NewScreeningRepository creates a new screening repository
func NewScreeningRepository(db *pgxpool.Pool, logger *logrus.Logger) *ScreeningRepository {
	return &ScreeningRepository{
		db:  db,
		log: logger,
	}
}

// Record upserts the outcome of a screening keyed by session id.
func (r *ScreeningRepository) Record(ctx context.Context, record *domain.ScreeningRecord) error {
	detections := record.Detections
	if detections == nil {
		detections = []domain.Detection{}
	}
	detectionsJSON, err := json.Marshal(detections)
	if err != nil {
		return fmt.Errorf("marshaling detections: %w", err)
	}
	narrativeJSON, err := json.Marshal(record.Narrative)
	if err != nil {
		return fmt.Errorf("marshaling narrative: %w", err)
	}

	createdAt := record.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	query := `
		INSERT INTO screening_records (
			session_id, operation, status, risk_level, quality_score, detections,
			narrative, pdf_url, used_fallback, processing_time_ms, created_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11
		)
		ON CONFLICT (session_id) DO UPDATE SET
			status = EXCLUDED.status,
			risk_level = EXCLUDED.risk_level,
			quality_score = EXCLUDED.quality_score,
			detections = EXCLUDED.detections,
			narrative = EXCLUDED.narrative,
			pdf_url = EXCLUDED.pdf_url,
			used_fallback = EXCLUDED.used_fallback,
			processing_time_ms = EXCLUDED.processing_time_ms`

	_, err = r.db.Exec(ctx, query,
		record.SessionID,
		record.Operation,
		string(record.Status),
		string(record.RiskLevel),
		record.QualityScore,
		detectionsJSON,
		narrativeJSON,
		record.PDFURL,
		record.UsedFallback,
		record.ProcessingTime.Milliseconds(),
		createdAt,
	)
	if err != nil {
		r.log.WithFields(logrus.Fields{
			"session_id": record.SessionID,
			"status":     record.Status,
			"error":      err,
		}).Error("Failed to record screening")
		return fmt.Errorf("recording screening: %w", err)
	}

	r.log.WithFields(logrus.Fields{
		"session_id":      record.SessionID,
		"operation":       record.Operation,
		"status":          record.Status,
		"risk_level":      record.RiskLevel,
		"processing_time": record.ProcessingTime,
	}).Debug("Screening recorded")
	return nil
}

// GetBySessionID returns the record for a session or domain.ErrNotFound.
func (r *ScreeningRepository) GetBySessionID(ctx context.Context, sessionID string) (*domain.ScreeningRecord, error) {
	query := `
		SELECT session_id, operation, status, risk_level, quality_score, detections,
			   narrative, pdf_url, used_fallback, processing_time_ms, created_at
		FROM screening_records
		WHERE session_id = $1`

	record, err := scanRecord(r.db.QueryRow(ctx, query, sessionID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("screening %s not found: %w", sessionID, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("getting screening by session ID: %w", err)
	}
	return record, nil
}

// ListRecent returns the newest records first.
func (r *ScreeningRepository) ListRecent(ctx context.Context, limit int) ([]*domain.ScreeningRecord, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	query := `
		SELECT session_id, operation, status, risk_level, quality_score, detections,
			   narrative, pdf_url, used_fallback, processing_time_ms, created_at
		FROM screening_records
		ORDER BY created_at DESC
		LIMIT $1`

	rows, err := r.db.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("listing screenings: %w", err)
	}
	defer rows.Close()

	var records []*domain.ScreeningRecord
	for rows.Next() {
		record, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning screening: %w", err)
		}
		records = append(records, record)
	}
	return records, rows.Err()
}

func scanRecord(row pgx.Row) (*domain.ScreeningRecord, error) {
	var record domain.ScreeningRecord
	var status, riskLevel string
	var detectionsJSON, narrativeJSON []byte
	var processingMS int64

	err := row.Scan(
		&record.SessionID,
		&record.Operation,
		&status,
		&riskLevel,
		&record.QualityScore,
		&detectionsJSON,
		&narrativeJSON,
		&record.PDFURL,
		&record.UsedFallback,
		&processingMS,
		&record.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	record.Status = domain.SessionStatus(status)
	record.RiskLevel = domain.RiskLevel(riskLevel)
	record.ProcessingTime = time.Duration(processingMS) * time.Millisecond

	if err := json.Unmarshal(detectionsJSON, &record.Detections); err != nil {
		return nil, fmt.Errorf("unmarshaling detections: %w", err)
	}
	if err := json.Unmarshal(narrativeJSON, &record.Narrative); err != nil {
		return nil, fmt.Errorf("unmarshaling narrative: %w", err)
	}
	return &record, nil
}
