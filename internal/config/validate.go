package config

import (
	"fmt"
	"net"
	"net/url"
	"strings"
)

// ValidationError represents a configuration validation error with context.
type ValidationError struct {
	Field   string
	Message string
	Hint    string
}

func (e ValidationError) Error() string {
	if e.Hint != "" {
		return fmt.Sprintf("%s: %s (hint: %s)", e.Field, e.Message, e.Hint)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationWarning represents a non-fatal configuration issue.
type ValidationWarning struct {
	Field   string
	Message string
	Hint    string
}

// ValidationResult contains the results of configuration validation.
type ValidationResult struct {
	Errors   []ValidationError
	Warnings []ValidationWarning
}

// HasErrors returns true if there are any validation errors.
func (r *ValidationResult) HasErrors() bool {
	return len(r.Errors) > 0
}

// Error returns a combined error message if there are validation errors.
func (r *ValidationResult) Error() string {
	if !r.HasErrors() {
		return ""
	}
	var msgs []string
	for _, e := range r.Errors {
		msgs = append(msgs, e.Error())
	}
	return strings.Join(msgs, "; ")
}

// Validate checks the configuration for errors and returns validation results.
// It returns both errors (fatal) and warnings (non-fatal issues).
func (c *Config) Validate() *ValidationResult {
	result := &ValidationResult{}

	c.Schema.validate(result)
	c.GraphQL.validate(result)
	c.Database.validate(result)
	c.Server.validate(result)
	c.Observability.validate(result)

	return result
}

func (s *SchemaConfig) validate(result *ValidationResult) {
	if strings.TrimSpace(s.Path) == "" {
		result.Errors = append(result.Errors, ValidationError{
			Field:   "schema.path",
			Message: "schema declaration file path is required",
			Hint:    "set schema.path to the schema file, e.g. schema.rgql",
		})
	}

	if s.RefreshEnabled {
		if s.RefreshMinInterval <= 0 {
			result.Errors = append(result.Errors, ValidationError{
				Field:   "schema.refresh_min_interval",
				Message: "refresh_min_interval must be greater than 0 when refresh is enabled",
			})
		}
		if s.RefreshMaxInterval < s.RefreshMinInterval {
			result.Errors = append(result.Errors, ValidationError{
				Field:   "schema.refresh_max_interval",
				Message: "refresh_max_interval must be at least refresh_min_interval",
			})
		}
	}

	validateTablePatterns(result, "schema.filters.include_tables", s.Filters.IncludeTables)
	validateTablePatterns(result, "schema.filters.exclude_tables", s.Filters.ExcludeTables)
}

func validateTablePatterns(result *ValidationResult, field string, patterns []string) {
	for _, pattern := range patterns {
		trimmed := strings.TrimSpace(pattern)
		if trimmed == "" {
			result.Errors = append(result.Errors, ValidationError{
				Field:   field,
				Message: "table pattern cannot be empty",
			})
			continue
		}
		if i := strings.IndexByte(trimmed, '*'); i >= 0 && i != len(trimmed)-1 {
			result.Errors = append(result.Errors, ValidationError{
				Field:   field,
				Message: fmt.Sprintf("invalid table pattern %q", pattern),
				Hint:    "* is only supported as a trailing wildcard, e.g. audit_*",
			})
		}
	}
}

func (g *GraphQLConfig) validate(result *ValidationResult) {
	if g.MaxDepth < 1 {
		result.Errors = append(result.Errors, ValidationError{
			Field:   "graphql.max_depth",
			Message: "max_depth must be at least 1",
			Hint:    "the root selection counts as depth 1",
		})
	}
	if g.DefaultLimit < 0 {
		result.Errors = append(result.Errors, ValidationError{
			Field:   "graphql.default_limit",
			Message: "default_limit cannot be negative",
		})
	}
	if g.MaxLimit < 0 {
		result.Errors = append(result.Errors, ValidationError{
			Field:   "graphql.max_limit",
			Message: "max_limit cannot be negative",
		})
	}
	if g.MaxLimit > 0 && g.DefaultLimit > g.MaxLimit {
		result.Warnings = append(result.Warnings, ValidationWarning{
			Field:   "graphql.default_limit",
			Message: "default_limit is greater than max_limit",
			Hint:    "lists without an explicit limit will be capped to max_limit",
		})
	}
}

func (d *DatabaseConfig) validate(result *ValidationResult) {
	// Port range validation (only if not using connection string)
	if d.ConnectionString == "" && (d.Port < 1 || d.Port > 65535) {
		result.Errors = append(result.Errors, ValidationError{
			Field:   "database.port",
			Message: fmt.Sprintf("port %d is out of valid range (1-65535)", d.Port),
		})
	}

	d.TLS.validate(result)

	// Connection pool validation
	if d.Pool.MaxOpen < 0 {
		result.Errors = append(result.Errors, ValidationError{
			Field:   "database.pool.max_open",
			Message: "max_open cannot be negative",
		})
	}
	if d.Pool.MaxIdle < 0 {
		result.Errors = append(result.Errors, ValidationError{
			Field:   "database.pool.max_idle",
			Message: "max_idle cannot be negative",
		})
	}
	if d.Pool.MaxIdle > d.Pool.MaxOpen && d.Pool.MaxOpen > 0 {
		result.Warnings = append(result.Warnings, ValidationWarning{
			Field:   "database.pool.max_idle",
			Message: "max_idle is greater than max_open",
			Hint:    "idle connections will be limited to max_open",
		})
	}

	// Connection retry validation
	if d.ConnectionTimeout > 0 && d.ConnectionRetryInterval > d.ConnectionTimeout {
		result.Warnings = append(result.Warnings, ValidationWarning{
			Field:   "database.connection_retry_interval",
			Message: "connection_retry_interval is greater than connection_timeout",
			Hint:    "only one connection attempt will be made",
		})
	}
	if d.ConnectionRetryInterval < 0 {
		result.Errors = append(result.Errors, ValidationError{
			Field:   "database.connection_retry_interval",
			Message: "connection_retry_interval cannot be negative",
		})
	}
	if d.ConnectionTimeout > 0 && d.ConnectionRetryInterval == 0 {
		result.Errors = append(result.Errors, ValidationError{
			Field:   "database.connection_retry_interval",
			Message: "connection_retry_interval must be greater than 0 when connection_timeout is set",
			Hint:    "set a retry interval such as 2s, or set connection_timeout to 0 to disable retries",
		})
	}
	if d.ConnectionTimeout < 0 {
		result.Errors = append(result.Errors, ValidationError{
			Field:   "database.connection_timeout",
			Message: "connection_timeout cannot be negative",
		})
	}

	effectiveDatabase, err := resolveEffectiveDatabaseName(d.Database, d.ConnectionString)
	if err != nil {
		switch {
		case strings.HasPrefix(err.Error(), "database.dsn"):
			result.Errors = append(result.Errors, ValidationError{
				Field:   "database.dsn",
				Message: err.Error(),
				Hint:    "set a valid MySQL DSN in database.dsn/database.dsn_file",
			})
		case strings.Contains(err.Error(), "mismatch"):
			result.Errors = append(result.Errors, ValidationError{
				Field:   "database.database",
				Message: err.Error(),
				Hint:    "either remove database.database or set it to match the DSN database",
			})
		default:
			result.Errors = append(result.Errors, ValidationError{
				Field:   "database.database",
				Message: err.Error(),
				Hint:    "set database.database or include a /database in database.dsn/database.dsn_file",
			})
		}
		return
	}

	// Keep runtime behavior deterministic for callers that consume Database.Database.
	d.Database = effectiveDatabase
}

func (t *DatabaseTLSConfig) validate(result *ValidationResult) {
	// Mode validation
	validModes := map[string]bool{"": true, "off": true, "skip-verify": true, "verify-ca": true, "verify-full": true}
	if !validModes[t.Mode] {
		result.Errors = append(result.Errors, ValidationError{
			Field:   "database.tls.mode",
			Message: fmt.Sprintf("invalid TLS mode %q", t.Mode),
			Hint:    "valid values are: off, skip-verify, verify-ca, verify-full",
		})
	}

	// CA file is required for verify-ca and verify-full
	caFile := t.resolveCAFile()
	if (t.Mode == "verify-ca" || t.Mode == "verify-full") && caFile == "" {
		result.Errors = append(result.Errors, ValidationError{
			Field:   "database.tls.ca_file",
			Message: "CA file is required for verify-ca and verify-full modes",
			Hint:    "set ca_file or ca_file_env to specify the CA certificate",
		})
	}

	// Client cert and key must both be specified or neither
	certFile := t.resolveCertFile()
	keyFile := t.resolveKeyFile()
	if (certFile != "" && keyFile == "") || (certFile == "" && keyFile != "") {
		result.Errors = append(result.Errors, ValidationError{
			Field:   "database.tls.cert_file",
			Message: "both cert_file and key_file must be specified for client certificate authentication",
			Hint:    "provide both cert_file and key_file, or neither",
		})
	}

	if t.Mode == "skip-verify" {
		result.Warnings = append(result.Warnings, ValidationWarning{
			Field:   "database.tls.mode",
			Message: "skip-verify mode does not verify server certificates",
			Hint:    "use verify-ca or verify-full in production",
		})
	}
}

func (s *ServerConfig) validate(result *ValidationResult) {
	// Port range validation
	if s.Port < 1 || s.Port > 65535 {
		result.Errors = append(result.Errors, ValidationError{
			Field:   "server.port",
			Message: fmt.Sprintf("port %d is out of valid range (1-65535)", s.Port),
		})
	}

	// Rate limit validation
	if s.RateLimitEnabled {
		if s.RateLimitRPS <= 0 {
			result.Errors = append(result.Errors, ValidationError{
				Field:   "server.rate_limit_rps",
				Message: "rate_limit_rps must be greater than 0 when rate limiting is enabled",
			})
		}
		if s.RateLimitBurst <= 0 {
			result.Errors = append(result.Errors, ValidationError{
				Field:   "server.rate_limit_burst",
				Message: "rate_limit_burst must be greater than 0 when rate limiting is enabled",
			})
		}
	}

	if !s.RateLimitEnabled && (s.RateLimitRPS > 0 || s.RateLimitBurst > 0) {
		result.Warnings = append(result.Warnings, ValidationWarning{
			Field:   "server.rate_limit_enabled",
			Message: "rate limit values are set but rate limiting is disabled",
			Hint:    "enable server.rate_limit_enabled to apply rate limits",
		})
	}

	// CORS validation
	if s.CORSEnabled {
		if len(s.CORSAllowedOrigins) == 0 {
			result.Errors = append(result.Errors, ValidationError{
				Field:   "server.cors_allowed_origins",
				Message: "CORS enabled but no allowed origins configured",
				Hint:    "set cors_allowed_origins or disable CORS",
			})
		}

		hasWildcard := false
		for _, origin := range s.CORSAllowedOrigins {
			if strings.TrimSpace(origin) == "*" {
				hasWildcard = true
				break
			}
		}

		if hasWildcard && s.CORSAllowCredentials {
			result.Errors = append(result.Errors, ValidationError{
				Field:   "server.cors_allowed_origins",
				Message: "wildcard origin (*) cannot be used with credentials",
				Hint:    "use specific origins with credentials, or wildcard without credentials",
			})
		}

		if hasWildcard {
			result.Warnings = append(result.Warnings, ValidationWarning{
				Field:   "server.cors_allowed_origins",
				Message: "CORS wildcard origin enabled",
				Hint:    "use specific origins in production for better security",
			})
		}
	}

	tlsEnabled := s.TLSMode != "" && s.TLSMode != "off"
	if s.CORSEnabled && tlsEnabled && len(s.CORSAllowedOrigins) > 0 {
		onlyHTTP := true
		for _, origin := range s.CORSAllowedOrigins {
			origin = strings.TrimSpace(origin)
			if origin == "" || origin == "*" {
				onlyHTTP = false
				break
			}
			if strings.HasPrefix(origin, "https://") {
				onlyHTTP = false
				break
			}
			if !strings.HasPrefix(origin, "http://") {
				onlyHTTP = false
				break
			}
		}
		if onlyHTTP {
			result.Warnings = append(result.Warnings, ValidationWarning{
				Field:   "server.cors_allowed_origins",
				Message: "CORS allowed origins are http:// only while TLS is enabled",
				Hint:    "use https:// origins when serving over TLS",
			})
		}
	}

	if s.Auth.OIDCEnabled {
		if s.Auth.OIDCIssuerURL == "" {
			result.Errors = append(result.Errors, ValidationError{
				Field:   "server.auth.oidc_issuer_url",
				Message: "issuer URL is required when OIDC is enabled",
			})
		}
		if s.Auth.OIDCAudience == "" {
			result.Errors = append(result.Errors, ValidationError{
				Field:   "server.auth.oidc_audience",
				Message: "audience is required when OIDC is enabled",
			})
		}
		if s.Auth.OIDCSkipTLSVerify {
			result.Warnings = append(result.Warnings, ValidationWarning{
				Field:   "server.auth.oidc_skip_tls_verify",
				Message: "TLS verification for the OIDC provider is disabled",
				Hint:    "only use oidc_skip_tls_verify in development",
			})
		}
	}

	// The reload endpoint needs some form of authentication.
	if s.Admin.SchemaReloadEnabled && !s.Auth.OIDCEnabled && s.Admin.AuthToken == "" {
		result.Errors = append(result.Errors, ValidationError{
			Field:   "server.admin.auth_token",
			Message: "admin auth token is required when schema reload is enabled without OIDC",
			Hint:    "set server.admin.auth_token/auth_token_file or enable OIDC",
		})
	}

	// TLS validation
	validTLSModes := map[string]bool{"": true, "off": true, "auto": true, "file": true}
	if !validTLSModes[s.TLSMode] {
		result.Errors = append(result.Errors, ValidationError{
			Field:   "server.tls_mode",
			Message: fmt.Sprintf("invalid TLS mode %q", s.TLSMode),
			Hint:    "valid values are: off, auto, file",
		})
	}

	if s.TLSMode == "file" {
		if s.TLSCertFile == "" {
			result.Errors = append(result.Errors, ValidationError{
				Field:   "server.tls_cert_file",
				Message: "TLS cert file required when tls_mode is 'file'",
			})
		}
		if s.TLSKeyFile == "" {
			result.Errors = append(result.Errors, ValidationError{
				Field:   "server.tls_key_file",
				Message: "TLS key file required when tls_mode is 'file'",
			})
		}
	}
}

func (o *ObservabilityConfig) validate(result *ValidationResult) {
	// Log level validation
	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[o.Logging.Level] {
		result.Errors = append(result.Errors, ValidationError{
			Field:   "observability.logging.level",
			Message: fmt.Sprintf("invalid log level %q", o.Logging.Level),
			Hint:    "valid values are: debug, info, warn, error",
		})
	}

	// Log format validation ("auto" resolves to text/json during Load)
	validLogFormats := map[string]bool{"json": true, "text": true, "auto": true}
	if !validLogFormats[o.Logging.Format] {
		result.Errors = append(result.Errors, ValidationError{
			Field:   "observability.logging.format",
			Message: fmt.Sprintf("invalid log format %q", o.Logging.Format),
			Hint:    "valid values are: json, text, auto",
		})
	}

	// OTLP protocol validation
	o.OTLP.validate("observability.otlp", result)

	// Signal-specific OTLP validation
	if o.Traces != nil {
		o.Traces.validate("observability.traces", result)
	}
	if o.Logs != nil {
		o.Logs.validate("observability.logs", result)
	}
	if o.Metrics != nil {
		o.Metrics.validate("observability.metrics", result)
	}
}

func (o *OTLPConfig) validate(prefix string, result *ValidationResult) {
	validProtocols := map[string]bool{"": true, "grpc": true, "http/protobuf": true}
	if !validProtocols[o.Protocol] {
		result.Errors = append(result.Errors, ValidationError{
			Field:   prefix + ".protocol",
			Message: fmt.Sprintf("invalid OTLP protocol %q", o.Protocol),
			Hint:    "valid values are: grpc, http/protobuf",
		})
	}

	if o.Protocol == "http/protobuf" {
		if !validOTLPEndpoint(o.Endpoint) {
			result.Errors = append(result.Errors, ValidationError{
				Field:   prefix + ".endpoint",
				Message: fmt.Sprintf("invalid OTLP endpoint %q for http/protobuf", o.Endpoint),
				Hint:    "use host:port or a full URL",
			})
		}
	}

	validCompressions := map[string]bool{"": true, "none": true, "gzip": true}
	if !validCompressions[o.Compression] {
		result.Errors = append(result.Errors, ValidationError{
			Field:   prefix + ".compression",
			Message: fmt.Sprintf("invalid OTLP compression %q", o.Compression),
			Hint:    "valid values are: none, gzip",
		})
	}

	if o.RetryMaxAttempts < 0 {
		result.Errors = append(result.Errors, ValidationError{
			Field:   prefix + ".retry_max_attempts",
			Message: "retry_max_attempts cannot be negative",
		})
	}
}

func validOTLPEndpoint(endpoint string) bool {
	if endpoint == "" {
		return false
	}
	if strings.Contains(endpoint, "://") {
		parsed, err := url.Parse(endpoint)
		if err != nil {
			return false
		}
		return parsed.Host != ""
	}
	_, _, err := net.SplitHostPort(endpoint)
	return err == nil
}
