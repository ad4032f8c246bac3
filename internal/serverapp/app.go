package serverapp

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"rel-graphql/internal/config"
	"rel-graphql/internal/logging"
	"rel-graphql/internal/observability"
	"rel-graphql/internal/schemarefresh"
	"rel-graphql/internal/storage"
	"rel-graphql/internal/tlscert"
)

// App owns runtime resources for the rel-graphql server lifecycle.
type App struct {
	cfg    *config.Config
	logger *logging.Logger

	loggerProvider *observability.LoggerProvider

	databaseName string
	dsnPresent   bool

	meterProvider   *observability.MeterProvider
	requestMetrics  *observability.RequestMetrics
	refreshMetrics  *observability.RefreshMetrics
	securityMetrics *observability.SecurityMetrics
	tracerProvider  *observability.TracerProvider

	db         *sql.DB
	dbStatsReg interface{ Unregister() error }
	store      storage.Client

	manager      *schemarefresh.Manager
	schemaCancel context.CancelFunc

	graphqlHandler http.Handler
	adminHandler   http.Handler
	mux            *http.ServeMux
	handler        http.Handler

	serverAddr string
	srv        *http.Server
	tlsSource  tlscert.Source

	cleanup cleanupStack

	stateMu      sync.Mutex
	initialized  bool
	started      bool
	serverErrors chan error

	shutdownOnce sync.Once
}

// New creates an App lifecycle wrapper.
func New(cfg *config.Config, logger *logging.Logger) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	databaseName, err := cfg.Database.EffectiveDatabaseName()
	if err != nil {
		return nil, fmt.Errorf("failed to resolve effective database configuration: %w", err)
	}

	return &App{
		cfg:          cfg,
		logger:       logger,
		databaseName: databaseName,
		dsnPresent:   strings.TrimSpace(cfg.Database.ConnectionString) != "",
	}, nil
}

// AttachLoggerProvider registers an optional logger provider for shutdown cleanup.
func (a *App) AttachLoggerProvider(provider *observability.LoggerProvider) {
	a.stateMu.Lock()
	defer a.stateMu.Unlock()
	a.loggerProvider = provider
}
