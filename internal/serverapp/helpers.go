package serverapp

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"rel-graphql/internal/config"
	"rel-graphql/internal/logging"
	"rel-graphql/internal/middleware"
	"rel-graphql/internal/observability"
	"rel-graphql/internal/opvalues"
	"rel-graphql/internal/schemarefresh"
	"rel-graphql/internal/storage"
	"rel-graphql/internal/tlscert"

	"github.com/XSAM/otelsql"
	_ "github.com/go-sql-driver/mysql"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

func InitLogger(cfg *config.Config) (*logging.Logger, *observability.LoggerProvider, error) {
	loggerCfg := logging.Config{
		Level:  cfg.Observability.Logging.Level,
		Format: cfg.Observability.Logging.Format,
	}
	logger := logging.New(loggerCfg)
	slog.SetDefault(logger.Logger)

	if !cfg.Observability.Logging.ExportsEnabled {
		return logger, nil, nil
	}

	logsConfig := cfg.Observability.GetLogsConfig()
	logger.Info("initializing OpenTelemetry logging",
		slog.String("service_name", cfg.Observability.ServiceName),
		slog.String("service_version", cfg.Observability.ServiceVersion),
		slog.String("environment", cfg.Observability.Environment),
		slog.String("otlp_endpoint", logsConfig.Endpoint),
		slog.String("otlp_protocol", logsConfig.Protocol),
		slog.Bool("insecure", logsConfig.Insecure),
	)

	loggerProvider, err := observability.InitLoggerProvider(observability.Config{
		ServiceName:    cfg.Observability.ServiceName,
		ServiceVersion: cfg.Observability.ServiceVersion,
		Environment:    cfg.Observability.Environment,
		OTLPConfig: observability.OTLPExporterConfig{
			Endpoint:          logsConfig.Endpoint,
			Protocol:          logsConfig.Protocol,
			Insecure:          logsConfig.Insecure,
			TLSCertFile:       logsConfig.TLSCertFile,
			TLSClientCertFile: logsConfig.TLSClientCertFile,
			TLSClientKeyFile:  logsConfig.TLSClientKeyFile,
			Headers:           logsConfig.Headers,
			Timeout:           logsConfig.Timeout,
			Compression:       logsConfig.Compression,
			RetryEnabled:      logsConfig.RetryEnabled,
			RetryMaxAttempts:  logsConfig.RetryMaxAttempts,
		},
	})
	if err != nil {
		return nil, nil, err
	}

	logger.Info("OpenTelemetry logging initialized successfully")

	loggerCfg.LoggerProvider = loggerProvider.Provider()
	logger = logging.New(loggerCfg)
	slog.SetDefault(logger.Logger)

	return logger, loggerProvider, nil
}

func initMetrics(cfg *config.Config, logger *logging.Logger) (*observability.MeterProvider, *observability.RequestMetrics, *observability.RefreshMetrics, *observability.SecurityMetrics, error) {
	if !cfg.Observability.MetricsEnabled {
		return nil, nil, nil, nil, nil
	}

	logger.Info("initializing OpenTelemetry metrics",
		slog.String("service_name", cfg.Observability.ServiceName),
		slog.String("service_version", cfg.Observability.ServiceVersion),
		slog.String("environment", cfg.Observability.Environment),
	)

	meterProvider, err := observability.InitMeterProvider(observability.Config{
		ServiceName:    cfg.Observability.ServiceName,
		ServiceVersion: cfg.Observability.ServiceVersion,
		Environment:    cfg.Observability.Environment,
		OTLPConfig:     observability.OTLPExporterConfig{},
	})
	if err != nil {
		return nil, nil, nil, nil, err
	}

	logger.Info("OpenTelemetry metrics initialized successfully")

	requestMetrics, err := observability.InitRequestMetrics(logger.Logger)
	if err != nil {
		return nil, nil, nil, nil, err
	}

	refreshMetrics, err := observability.InitRefreshMetrics(logger.Logger)
	if err != nil {
		return nil, nil, nil, nil, err
	}

	securityMetrics, err := observability.InitSecurityMetrics()
	if err != nil {
		return nil, nil, nil, nil, err
	}
	logger.Info("security metrics initialized")

	return meterProvider, requestMetrics, refreshMetrics, securityMetrics, nil
}

func initTracing(cfg *config.Config, logger *logging.Logger) (*observability.TracerProvider, error) {
	if !cfg.Observability.TracingEnabled {
		return nil, nil
	}

	tracesConfig := cfg.Observability.GetTracesConfig()
	logger.Info("initializing OpenTelemetry tracing",
		slog.String("service_name", cfg.Observability.ServiceName),
		slog.String("service_version", cfg.Observability.ServiceVersion),
		slog.String("environment", cfg.Observability.Environment),
		slog.String("otlp_endpoint", tracesConfig.Endpoint),
		slog.String("otlp_protocol", tracesConfig.Protocol),
		slog.Bool("insecure", tracesConfig.Insecure),
	)

	tracerProvider, err := observability.InitTracerProvider(observability.Config{
		ServiceName:      cfg.Observability.ServiceName,
		ServiceVersion:   cfg.Observability.ServiceVersion,
		Environment:      cfg.Observability.Environment,
		TraceSampleRatio: cfg.Observability.TraceSampleRatio,
		OTLPConfig: observability.OTLPExporterConfig{
			Endpoint:          tracesConfig.Endpoint,
			Protocol:          tracesConfig.Protocol,
			Insecure:          tracesConfig.Insecure,
			TLSCertFile:       tracesConfig.TLSCertFile,
			TLSClientCertFile: tracesConfig.TLSClientCertFile,
			TLSClientKeyFile:  tracesConfig.TLSClientKeyFile,
			Headers:           tracesConfig.Headers,
			Timeout:           tracesConfig.Timeout,
			Compression:       tracesConfig.Compression,
			RetryEnabled:      tracesConfig.RetryEnabled,
			RetryMaxAttempts:  tracesConfig.RetryMaxAttempts,
		},
	})
	if err != nil {
		return nil, err
	}

	logger.Info("OpenTelemetry tracing initialized successfully")

	return tracerProvider, nil
}

func connectDB(cfg *config.Config, logger *logging.Logger) (*sql.DB, interface{ Unregister() error }, error) {
	var db *sql.DB
	var dbStatsReg interface{ Unregister() error }

	// Register custom TLS configuration if needed (for verify-ca/verify-full modes)
	if err := cfg.Database.RegisterTLS(); err != nil {
		return nil, nil, fmt.Errorf("failed to register database TLS config: %w", err)
	}

	dsn := cfg.Database.DSN()

	if cfg.Observability.MetricsEnabled || cfg.Observability.TracingEnabled {
		opts := []otelsql.Option{
			otelsql.WithAttributes(semconv.DBSystemMySQL),
		}

		if cfg.Observability.TracingEnabled {
			opts = append(opts, otelsql.WithSpanOptions(otelsql.SpanOptions{
				DisableErrSkip: true,
			}))
		}

		if cfg.Observability.SQLCommenterEnabled && cfg.Observability.TracingEnabled {
			opts = append(opts, otelsql.WithSQLCommenter(true))
			logger.Info("SQLCommenter enabled - trace context will be injected into SQL queries")
		} else if cfg.Observability.SQLCommenterEnabled && !cfg.Observability.TracingEnabled {
			logger.Warn("SQLCommenter requires tracing to be enabled - skipping SQLCommenter")
		}

		var err error
		db, err = otelsql.Open("mysql", dsn, opts...)
		if err != nil {
			return nil, nil, err
		}

		if cfg.Observability.MetricsEnabled {
			dbStatsReg, err = otelsql.RegisterDBStatsMetrics(db, otelsql.WithAttributes(semconv.DBSystemMySQL))
			if err != nil {
				logger.Warn("failed to register DB stats metrics", slog.String("error", err.Error()))
			}
		}

		logger.Info("database instrumentation enabled",
			slog.Bool("metrics", cfg.Observability.MetricsEnabled),
			slog.Bool("tracing", cfg.Observability.TracingEnabled),
			slog.Bool("sqlcommenter", cfg.Observability.SQLCommenterEnabled && cfg.Observability.TracingEnabled),
		)
		return db, dbStatsReg, nil
	}

	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, nil, err
	}
	return db, nil, nil
}

func configureDatabase(ctx context.Context, cfg *config.Config, logger *logging.Logger, db *sql.DB, databaseName string, dsnPresent bool) error {
	if ctx == nil {
		ctx = context.Background()
	}
	db.SetMaxOpenConns(cfg.Database.Pool.MaxOpen)
	db.SetMaxIdleConns(cfg.Database.Pool.MaxIdle)
	db.SetConnMaxLifetime(cfg.Database.Pool.MaxLifetime)

	if err := waitForDatabase(ctx, cfg, logger, db); err != nil {
		return err
	}

	logger.Info("connected to database",
		slog.String("database", databaseName),
		slog.Bool("dsn_present", dsnPresent),
		slog.Int("pool_max_open", cfg.Database.Pool.MaxOpen),
		slog.Int("pool_max_idle", cfg.Database.Pool.MaxIdle),
		slog.Duration("pool_max_lifetime", cfg.Database.Pool.MaxLifetime),
	)
	return nil
}

func waitForDatabase(ctx context.Context, cfg *config.Config, logger *logging.Logger, db *sql.DB) error {
	if ctx == nil {
		ctx = context.Background()
	}
	timeout := cfg.Database.ConnectionTimeout
	interval := cfg.Database.ConnectionRetryInterval

	// If timeout is 0, try once and fail immediately
	if timeout == 0 {
		return db.PingContext(ctx)
	}

	deadline := time.Now().Add(timeout)
	attempt := 0

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		attempt++
		err := db.PingContext(ctx)

		if err == nil {
			if attempt > 1 {
				logger.Info("database connection established", slog.Int("attempts", attempt))
			}
			return nil
		}

		if time.Now().After(deadline) {
			return fmt.Errorf("database not available after %v: %w", timeout, err)
		}

		logger.Warn("database not ready, retrying...",
			slog.Int("attempt", attempt),
			slog.Duration("retry_in", interval),
			slog.String("error", err.Error()),
		)
		time.Sleep(interval)

		// Exponential backoff, capped at 30s
		interval = min(interval*2, 30*time.Second)
	}
}

func startSchemaManager(cfg *config.Config, logger *logging.Logger, store storage.Client, metrics *observability.RefreshMetrics) (*schemarefresh.Manager, context.CancelFunc, error) {
	manager, err := schemarefresh.NewManager(schemarefresh.Config{
		Path:         cfg.Schema.Path,
		Store:        store,
		Logger:       logger,
		Metrics:      metrics,
		MinInterval:  cfg.Schema.RefreshMinInterval,
		MaxInterval:  cfg.Schema.RefreshMaxInterval,
		GraphiQL:     cfg.GraphQL.GraphiQLEnabled,
		Filters:      cfg.Schema.Filters,
		Mutations:    cfg.GraphQL.MutationsEnabled,
		MaxDepth:     cfg.GraphQL.MaxDepth,
		DefaultLimit: cfg.GraphQL.DefaultLimit,
		MaxLimit:     cfg.GraphQL.MaxLimit,
	})
	if err != nil {
		return nil, nil, err
	}

	refreshCtx, refreshCancel := context.WithCancel(context.Background())
	if cfg.Schema.RefreshEnabled {
		manager.Start(refreshCtx)
	}

	return manager, refreshCancel, nil
}

func oidcAuthConfig(cfg *config.Config) middleware.OIDCAuthConfig {
	return middleware.OIDCAuthConfig{
		Enabled:       cfg.Server.Auth.OIDCEnabled,
		IssuerURL:     cfg.Server.Auth.OIDCIssuerURL,
		Audience:      cfg.Server.Auth.OIDCAudience,
		ClockSkew:     cfg.Server.Auth.OIDCClockSkew,
		SkipTLSVerify: cfg.Server.Auth.OIDCSkipTLSVerify,
	}
}

func buildGraphQLHandler(cfg *config.Config, logger *logging.Logger, manager *schemarefresh.Manager, requestMetrics *observability.RequestMetrics, securityMetrics *observability.SecurityMetrics) (http.Handler, error) {
	// Operation values must be seeded before the GraphQL handler resolves the
	// request, so that middleware stays innermost. The chain is:
	//   request -> logging -> OIDC auth -> metrics -> operation values -> graphql
	opHandler := opvalues.Middleware(manager.Handler())

	metricsHandler := opHandler
	if cfg.Observability.MetricsEnabled && requestMetrics != nil {
		metricsHandler = middleware.GraphQLMetricsMiddleware(requestMetrics)(opHandler)
		logger.Info("GraphQL metrics middleware enabled")
	}

	authHandler := metricsHandler
	if cfg.Server.Auth.OIDCEnabled {
		authMiddleware, err := middleware.OIDCAuthMiddleware(oidcAuthConfig(cfg), logger, securityMetrics)
		if err != nil {
			return nil, err
		}
		authHandler = authMiddleware(metricsHandler)
		logger.Info("OIDC auth middleware enabled")
	}

	return middleware.LoggingMiddleware(logger)(authHandler), nil
}

func buildAdminHandler(cfg *config.Config, logger *logging.Logger, manager *schemarefresh.Manager, securityMetrics *observability.SecurityMetrics) (http.Handler, error) {
	var adminHandler http.Handler = http.HandlerFunc(schemaReloadHandler(manager, securityMetrics))

	if cfg.Server.Auth.OIDCEnabled {
		authMiddleware, err := middleware.OIDCAuthMiddleware(oidcAuthConfig(cfg), logger, securityMetrics)
		if err != nil {
			return nil, err
		}
		logger.Info("admin endpoints require OIDC authentication")
		return authMiddleware(adminHandler), nil
	}

	tokenMiddleware, err := middleware.AdminTokenAuthMiddleware(middleware.AdminTokenAuthConfig{
		Token: cfg.Server.Admin.AuthToken,
	}, securityMetrics)
	if err != nil {
		return nil, err
	}
	logger.Info("admin endpoints require token authentication")
	return tokenMiddleware(adminHandler), nil
}

func buildRouter(cfg *config.Config, logger *logging.Logger, db *sql.DB, graphqlHandler http.Handler, adminHandler http.Handler, meterProvider *observability.MeterProvider) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/graphql", graphqlHandler)
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/" {
			http.Redirect(w, r, "/graphql", http.StatusFound)
			return
		}
		http.NotFound(w, r)
	})

	mux.HandleFunc("/health", healthHandler(db, cfg.Server.HealthCheckTimeout))

	if cfg.Server.Admin.SchemaReloadEnabled && adminHandler != nil {
		mux.Handle("/admin/reload-schema", adminHandler)
		logger.Info("schema reload endpoint enabled", slog.String("path", "/admin/reload-schema"))
	}

	if cfg.Observability.MetricsEnabled && meterProvider != nil {
		mux.Handle("/metrics", promhttp.Handler())
		logger.Info("metrics endpoint enabled", slog.String("path", "/metrics"))
	}

	return mux
}

func wrapHTTPHandler(cfg *config.Config, logger *logging.Logger, handler http.Handler) http.Handler {
	if cfg.Observability.MetricsEnabled || cfg.Observability.TracingEnabled {
		handler = otelhttp.NewHandler(handler, "http.server",
			otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
				return httpRootSpanName(r)
			}),
			otelhttp.WithMessageEvents(otelhttp.ReadEvents, otelhttp.WriteEvents),
		)
		logger.Info("HTTP instrumentation enabled")
	}

	if cfg.Server.CORSEnabled {
		handler = middleware.CORSMiddleware(middleware.CORSConfig{
			Enabled:          cfg.Server.CORSEnabled,
			AllowedOrigins:   cfg.Server.CORSAllowedOrigins,
			AllowedMethods:   cfg.Server.CORSAllowedMethods,
			AllowedHeaders:   cfg.Server.CORSAllowedHeaders,
			ExposeHeaders:    cfg.Server.CORSExposeHeaders,
			AllowCredentials: cfg.Server.CORSAllowCredentials,
			MaxAge:           cfg.Server.CORSMaxAge,
		})(handler)
	}

	if cfg.Server.RateLimitEnabled {
		handler = middleware.RateLimitMiddleware(middleware.RateLimitConfig{
			Enabled: cfg.Server.RateLimitEnabled,
			RPS:     cfg.Server.RateLimitRPS,
			Burst:   cfg.Server.RateLimitBurst,
		})(handler)
	}

	return handler
}

func httpRootSpanName(r *http.Request) string {
	if r == nil {
		return "HTTP /*"
	}

	method := strings.TrimSpace(r.Method)
	if method == "" {
		method = "HTTP"
	}

	return method + " " + normalizeHTTPSpanRoute(r.URL.Path)
}

func normalizeHTTPSpanRoute(rawPath string) string {
	switch rawPath {
	case "/", "/graphql", "/health", "/metrics", "/admin/reload-schema":
		return rawPath
	default:
		return "/*"
	}
}

func buildServer(cfg *config.Config, logger *logging.Logger, handler http.Handler, serverAddr string) (*http.Server, tlscert.Source, error) {
	srv := &http.Server{
		Addr:         serverAddr,
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	var tlsSource tlscert.Source
	tlsEnabled := cfg.Server.TLSMode != "" && cfg.Server.TLSMode != "off"
	if tlsEnabled {
		var err error
		tlsSource, err = tlscert.NewSource(tlscert.Config{
			Mode:     tlscert.Mode(cfg.Server.TLSMode),
			CertFile: cfg.Server.TLSCertFile,
			KeyFile:  cfg.Server.TLSKeyFile,
			AutoDir:  cfg.Server.TLSAutoCertDir,
		}, logger)
		if err != nil {
			return nil, nil, err
		}

		srv.TLSConfig, err = tlsSource.TLSConfig()
		if err != nil {
			return nil, nil, err
		}

		logger.Info("TLS enabled",
			slog.String("mode", cfg.Server.TLSMode),
			slog.String("cert_source", tlsSource.Describe()))
	}

	return srv, tlsSource, nil
}

func startServer(cfg *config.Config, logger *logging.Logger, srv *http.Server, serverAddr string) chan error {
	serverErrors := make(chan error, 1)
	tlsEnabled := cfg.Server.TLSMode != "" && cfg.Server.TLSMode != "off"
	go func() {
		protocol := "http"
		if tlsEnabled {
			protocol = "https"
		}

		logAttrs := []any{
			slog.String("protocol", protocol),
			slog.String("address", serverAddr),
			slog.String("graphql_endpoint", "/graphql"),
			slog.String("health_endpoint", "/health"),
			slog.Int("graphql_max_depth", cfg.GraphQL.MaxDepth),
			slog.String("log_level", cfg.Observability.Logging.Level),
			slog.String("log_format", cfg.Observability.Logging.Format),
		}

		if cfg.Observability.MetricsEnabled {
			logAttrs = append(logAttrs, slog.String("metrics_endpoint", "/metrics"))
		}

		if cfg.Server.RateLimitEnabled {
			logAttrs = append(logAttrs,
				slog.Float64("rate_limit_rps", cfg.Server.RateLimitRPS),
				slog.Int("rate_limit_burst", cfg.Server.RateLimitBurst),
			)
		}

		if tlsEnabled {
			logAttrs = append(logAttrs,
				slog.Bool("tls_enabled", true),
				slog.String("tls_mode", cfg.Server.TLSMode))
		} else {
			logAttrs = append(logAttrs, slog.Bool("tls_enabled", false))
		}

		logger.Info("server starting", logAttrs...)

		var err error
		if tlsEnabled {
			err = srv.ListenAndServeTLS("", "")
		} else {
			err = srv.ListenAndServe()
		}

		if err != nil && err != http.ErrServerClosed {
			serverErrors <- fmt.Errorf("server failed: %w", err)
		}
	}()
	return serverErrors
}

// healthHandler returns an HTTP handler for health checks
func healthHandler(db *sql.DB, timeout time.Duration) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		reqLogger := logging.FromContext(r.Context())

		w.Header().Set("Content-Type", "application/json")

		// Check database connectivity with a short timeout
		ctx, cancel := context.WithTimeout(r.Context(), timeout)
		defer cancel()

		if err := db.PingContext(ctx); err != nil {
			reqLogger.Error("health check failed",
				slog.String("error", err.Error()),
				slog.String("check", "database"),
			)
			w.WriteHeader(http.StatusServiceUnavailable)
			// Return generic error message to avoid leaking internal details
			_, _ = fmt.Fprint(w, `{"status":"unhealthy","database":"failed"}`)
			return
		}

		reqLogger.Debug("health check passed")
		w.WriteHeader(http.StatusOK)
		_, _ = fmt.Fprint(w, `{"status":"healthy","database":"ok"}`)
	}
}

func schemaReloadHandler(manager *schemarefresh.Manager, securityMetrics *observability.SecurityMetrics) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		reqLogger := logging.FromContext(r.Context())
		w.Header().Set("Content-Type", "application/json")

		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			_, _ = fmt.Fprint(w, `{"error":"method not allowed"}`)
			return
		}

		authCtx, authenticated := middleware.AuthFromContext(r.Context())

		logAttrs := []any{
			slog.String("operation", "schema_reload"),
			slog.String("remote_addr", r.RemoteAddr),
			slog.Bool("authenticated", authenticated),
		}
		if authenticated {
			logAttrs = append(logAttrs,
				slog.String("authenticated_user", authCtx.Subject),
				slog.String("issuer", authCtx.Issuer),
			)
		}
		reqLogger.Info("admin endpoint accessed", logAttrs...)

		if err := manager.RefreshNow(); err != nil {
			if securityMetrics != nil {
				securityMetrics.RecordAdminEndpointAccess(r.Context(), "schema_reload", authenticated, false)
			}
			reqLogger.Error("schema reload failed", slog.String("error", err.Error()))
			w.WriteHeader(http.StatusInternalServerError)
			// Return generic error message to avoid leaking internal details
			_, _ = fmt.Fprint(w, `{"status":"error","message":"schema reload failed"}`)
			return
		}

		if securityMetrics != nil {
			securityMetrics.RecordAdminEndpointAccess(r.Context(), "schema_reload", authenticated, true)
		}

		reqLogger.Info("schema reloaded successfully", logAttrs...)
		w.WriteHeader(http.StatusOK)
		_, _ = fmt.Fprint(w, `{"status":"ok"}`)
	}
}
