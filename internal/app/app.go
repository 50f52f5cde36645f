// Package app assembles the screening pipeline and its collaborators from a configuration.
// Both binaries share it; only the outer surface differs.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/denticheck-screening-server/internal/database"
	"github.com/denticheck-screening-server/internal/domain"
	"github.com/denticheck-screening-server/internal/events"
	"github.com/denticheck-screening-server/internal/pipeline"
	"github.com/denticheck-screening-server/internal/publisher"
	"github.com/denticheck-screening-server/internal/report"
	"github.com/denticheck-screening-server/internal/repository"
	"github.com/denticheck-screening-server/internal/service"
	"github.com/denticheck-screening-server/internal/session"
	"github.com/denticheck-screening-server/pkg/external"
)

const eventBuffer = 16

// breakerReporter is implemented by the generative clients.
type breakerReporter interface {
	BreakerStats() external.CircuitBreakerStats
}

// App holds the assembled pipeline and everything that must be closed with it.
type App struct {
	Orchestrator *pipeline.Orchestrator
	Ledger       *session.Ledger
	Events       *events.Hub
	DB           *database.DB
	// Records is nil unless database.enabled is set.
	Records      *repository.ScreeningRepository

	aiClient   *external.AIClient
	cache      external.ContextCache
	retriever  *external.RagRetriever
	generative domain.GenerativeBackend
	closers    []io.Closer
	logger     *logrus.Logger
}

// Options toggles the parts that only the HTTP surface needs.
type Options struct {
	// StatusEvents publishes session transitions on a hub.
	StatusEvents bool
}

// NewLogger builds the process logger from logging.level and logging.format.
func NewLogger(cfg domain.LoggingConfig, out io.Writer) *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(out)
	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)
	if strings.EqualFold(cfg.Format, "text") {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	} else {
		logger.SetFormatter(&logrus.JSONFormatter{})
	}
	return logger
}

// New wires every collaborator named by cfg. On error, whatever was opened is closed.
func New(ctx context.Context, cfg *domain.Config, opts Options, logger *logrus.Logger) (_ *App, err error) {
	a := &App{logger: logger}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	if opts.StatusEvents {
		a.Events = events.NewHub(eventBuffer, logger)
	}

	store, err := session.NewStore(cfg.Session)
	if err != nil {
		return nil, fmt.Errorf("failed to open session store: %w", err)
	}
	a.closers = append(a.closers, store)
	if a.Events != nil {
		a.Ledger = session.NewLedger(store, a.Events, logger)
	} else {
		a.Ledger = session.NewLedger(store, nil, logger)
	}

	var records domain.ScreeningRecorder
	if cfg.Database.Enabled {
		if err := database.MigrateUp(ctx, cfg.Database, logger); err != nil {
			return nil, err
		}
		a.DB, err = database.NewConnection(ctx, cfg.Database, logger)
		if err != nil {
			return nil, err
		}
		a.Records = repository.NewScreeningRepository(a.DB.Pool, logger)
		records = a.Records
	}

	a.aiClient = external.NewAIClient(cfg.AIClient, logger)

	a.cache = external.NewContextCache(cfg.Cache, logger)
	if closer, ok := a.cache.(io.Closer); ok {
		a.closers = append(a.closers, closer)
	}
	a.retriever = external.NewRagRetriever(cfg.Rag, a.cache, logger)

	if cfg.Generative.Enabled {
		a.generative, err = external.NewGenerativeBackend(ctx, cfg.Generative, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to create generative backend: %w", err)
		}
	}
	synthesizer := service.NewSynthesizer(cfg.Generative, a.generative, nil, logger)

	pub, err := publisher.New(cfg, logger)
	if err != nil {
		return nil, err
	}

	deps := pipeline.Dependencies{
		Quality:     a.aiClient,
		Detector:    a.aiClient,
		Retriever:   a.retriever,
		Synthesizer: synthesizer,
		Composer:    report.NewComposer(cfg.Report.Language),
		Renderer:    report.NewRenderer(cfg.Report.FontPath, report.CatalogFor(cfg.Report.Language), logger),
		Publisher:   pub,
		Sessions:    a.Ledger,
		Records:     records,
	}
	a.Orchestrator = pipeline.New(deps, cfg.Analyze, logger)

	logger.WithFields(logrus.Fields{
		"session_store": cfg.Session.Store,
		"cache":         cfg.Cache.Backend,
		"storage":       cfg.Report.StorageType,
		"generative":    cfg.Generative.Enabled,
		"rag":           cfg.Rag.Enabled,
		"database":      cfg.Database.Enabled,
	}).Info("Screening pipeline assembled")

	return a, nil
}

// BreakerStats reports every circuit breaker guarding an upstream.
func (a *App) BreakerStats() []external.CircuitBreakerStats {
	var stats []external.CircuitBreakerStats
	if a.aiClient != nil {
		stats = append(stats, a.aiClient.BreakerStats()...)
	}
	if a.retriever != nil {
		stats = append(stats, a.retriever.BreakerStats())
	}
	if reporter, ok := a.generative.(breakerReporter); ok {
		stats = append(stats, reporter.BreakerStats())
	}
	return stats
}

// HealthChecks returns a check per external dependency that can be reached directly.
func (a *App) HealthChecks() map[string]func(context.Context) error {
	checks := make(map[string]func(context.Context) error)
	if a.DB != nil {
		checks["database"] = a.DB.Health
	}
	if redis, ok := a.cache.(*external.RedisContextCache); ok {
		checks["cache"] = redis.Ping
	}
	return checks
}

// Close releases stores, caches and pools. It is safe to call more than once.
func (a *App) Close() error {
	var errs []error
	if a.Events != nil {
		a.Events.Close()
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	if a.DB != nil {
		a.DB.Close()
		a.DB = nil
	}
	return errors.Join(errs...)
}
