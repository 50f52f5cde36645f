// Package publisher stores rendered reports and hands back a URL the caller can fetch them
// from. The storage strategy is chosen once at construction.
package publisher

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/denticheck-screening-server/internal/domain"
)

const (
	// StorageLocal writes reports to a directory served by the HTTP server.
	StorageLocal = "local"
	// StorageMinio writes reports to an S3 compatible bucket.
	StorageMinio = "minio"

	pdfContentType = "application/pdf"
)

// Storage puts bytes under a key and returns a retrievable URL.
type Storage interface {
	Put(ctx context.Context, key string, data []byte, contentType string) (string, error)
}

// Publisher implements domain.ReportPublisher on top of a Storage strategy.
type Publisher struct {
	storage Storage
	logger  *logrus.Logger
	now     func() time.Time
}

// NewPublisher wraps a storage strategy
func NewPublisher(storage Storage, logger *logrus.Logger) *Publisher {
	return &Publisher{
		storage: storage,
		logger:  logger,
		now:     time.Now,
	}
}

// New builds the publisher selected by report.storage_type.
func New(cfg *domain.Config, logger *logrus.Logger) (*Publisher, error) {
	var (
		storage Storage
		err     error
	)
	switch strings.ToLower(strings.TrimSpace(cfg.Report.StorageType)) {
	case "", StorageLocal:
		storage, err = NewLocalStore(cfg.Report.LocalDir, cfg.Report.BaseURL)
	case StorageMinio, "s3":
		storage, err = NewObjectStore(cfg.Minio)
	default:
		return nil, fmt.Errorf("unsupported report storage type: %s", cfg.Report.StorageType)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to initialize report storage: %w", err)
	}
	return NewPublisher(storage, logger), nil
}

// ReportKey names a report object: sessionID-yyyyMMddHHmmss.pdf.
func ReportKey(sessionID string, at time.Time) string {
	return fmt.Sprintf("%s-%s.pdf", sessionID, at.Format("20060102150405"))
}

// Publish stores pdf and returns its URL. Any failure is logged and yields "".
func (p *Publisher) Publish(ctx context.Context, sessionID string, pdf []byte) string {
	log := p.logger.WithField("session_id", sessionID)
	if len(pdf) == 0 {
		log.Warn("Skipping publish of empty report")
		return ""
	}
	if err := ctx.Err(); err != nil {
		log.WithError(err).Warn("Report publish cancelled")
		return ""
	}

	key := ReportKey(sessionID, p.now())
	url, err := p.storage.Put(ctx, key, pdf, pdfContentType)
	if err != nil {
		log.WithError(err).WithField("key", key).Error("Failed to publish report")
		return ""
	}

	log.WithFields(logrus.Fields{
		"key":   key,
		"bytes": len(pdf),
	}).Info("Report published")
	return url
}
