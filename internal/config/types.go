package config

import (
	"time"

	"rel-graphql/internal/schemafilter"
)

// Config holds the application configuration.
type Config struct {
	Schema        SchemaConfig        `mapstructure:"schema"`
	Database      DatabaseConfig      `mapstructure:"database"`
	Server        ServerConfig        `mapstructure:"server"`
	GraphQL       GraphQLConfig       `mapstructure:"graphql"`
	Observability ObservabilityConfig `mapstructure:"observability"`
}

// SchemaConfig locates the schema declaration file and controls how it is
// filtered and refreshed.
type SchemaConfig struct {
	// Path is the schema declaration file read at startup and watched for
	// changes when refresh is enabled.
	Path string `mapstructure:"path"`

	// Filters narrow the loaded schema to a table subset before the type
	// system is built.
	Filters schemafilter.Config `mapstructure:"filters"`

	// RefreshEnabled starts the background watcher that rebuilds the served
	// schema when the file changes.
	RefreshEnabled bool `mapstructure:"refresh_enabled"`
	// RefreshMinInterval and RefreshMaxInterval bound the check interval.
	// The watcher backs off toward the max while the file is unchanged and
	// snaps back to the min after a change.
	RefreshMinInterval time.Duration `mapstructure:"refresh_min_interval"`
	RefreshMaxInterval time.Duration `mapstructure:"refresh_max_interval"`
}

// GraphQLConfig controls the generated operation surface.
type GraphQLConfig struct {
	// MutationsEnabled generates insert/update/delete root fields. Every
	// table needs a primary key when this is on.
	MutationsEnabled bool `mapstructure:"mutations_enabled"`
	// MaxDepth bounds relation nesting per compiled plan. The root
	// selection counts as depth 1.
	MaxDepth int `mapstructure:"max_depth"`
	// DefaultLimit applies to list fields with no explicit limit argument.
	// Zero leaves unbounded lists unbounded.
	DefaultLimit int `mapstructure:"default_limit"`
	// MaxLimit caps explicit limit arguments. Zero disables the cap.
	MaxLimit int `mapstructure:"max_limit"`
	// GraphiQLEnabled serves the GraphiQL UI on the query endpoint.
	GraphiQLEnabled bool `mapstructure:"graphiql_enabled"`
}

// PoolConfig holds connection pool parameters.
type PoolConfig struct {
	MaxOpen     int           `mapstructure:"max_open"`
	MaxIdle     int           `mapstructure:"max_idle"`
	MaxLifetime time.Duration `mapstructure:"max_lifetime"`
}

// DatabaseTLSConfig holds TLS/SSL configuration for database connections.
// Supports both server verification and client certificate authentication (mTLS).
type DatabaseTLSConfig struct {
	// Mode controls TLS behavior:
	//   - "off": No TLS (plaintext connection)
	//   - "skip-verify": TLS without server certificate verification (insecure)
	//   - "verify-ca": TLS with CA verification but no hostname check
	//   - "verify-full": TLS with full verification including hostname
	Mode string `mapstructure:"mode"`

	// CAFile is the path to the CA certificate for server verification.
	// Required for verify-ca and verify-full modes.
	CAFile string `mapstructure:"ca_file"`
	// CAFileEnv is an environment variable name containing the CA file path.
	// Useful for Kubernetes ConfigMap/Secret separation.
	CAFileEnv string `mapstructure:"ca_file_env"`

	// CertFile is the path to the client certificate for mTLS authentication.
	CertFile string `mapstructure:"cert_file"`
	// CertFileEnv is an environment variable name containing the client cert path.
	CertFileEnv string `mapstructure:"cert_file_env"`

	// KeyFile is the path to the client private key for mTLS authentication.
	KeyFile string `mapstructure:"key_file"`
	// KeyFileEnv is an environment variable name containing the client key path.
	KeyFileEnv string `mapstructure:"key_file_env"`

	// ServerName overrides the server name used for TLS verification.
	// If empty, the database host is used.
	ServerName string `mapstructure:"server_name"`
}

// DatabaseConfig holds database connection parameters.
type DatabaseConfig struct {
	// ConnectionString is a complete go-sql-driver/mysql Data Source Name.
	// Format: user:password@tcp(host:port)/database?params
	// When set, overrides Host/Port/User/Password/Database fields.
	// Configured via "dsn" in YAML or RELGRAPHQL_DATABASE_DSN env var.
	ConnectionString string `mapstructure:"dsn"`
	// ConnectionStringFile is a path to a file containing the DSN (for
	// secrets management). Supports "@-" to read from stdin.
	ConnectionStringFile string `mapstructure:"dsn_file"`

	// Discrete connection fields (used when DSN is not set)
	Host           string `mapstructure:"host"`
	Port           int    `mapstructure:"port"`
	User           string `mapstructure:"user"`
	Password       string `mapstructure:"password"`
	PasswordFile   string `mapstructure:"password_file"`
	PasswordPrompt bool   `mapstructure:"password_prompt"`
	Database       string `mapstructure:"database"`

	// TLS holds the TLS/SSL configuration for database connections.
	TLS DatabaseTLSConfig `mapstructure:"tls"`

	// Connection pool settings
	Pool PoolConfig `mapstructure:"pool"`

	// ConnectionTimeout is the max time to wait for the database on startup.
	ConnectionTimeout time.Duration `mapstructure:"connection_timeout"`
	// ConnectionRetryInterval is the initial interval between connection retries.
	ConnectionRetryInterval time.Duration `mapstructure:"connection_retry_interval"`
}

// AuthConfig holds optional OIDC endpoint authentication parameters.
type AuthConfig struct {
	OIDCEnabled       bool          `mapstructure:"oidc_enabled"`
	OIDCIssuerURL     string        `mapstructure:"oidc_issuer_url"`
	OIDCAudience      string        `mapstructure:"oidc_audience"`
	OIDCClockSkew     time.Duration `mapstructure:"oidc_clock_skew"`
	OIDCSkipTLSVerify bool          `mapstructure:"oidc_skip_tls_verify"`
}

// AdminConfig controls administrative endpoint exposure and authentication.
type AdminConfig struct {
	SchemaReloadEnabled bool   `mapstructure:"schema_reload_enabled"`
	AuthToken           string `mapstructure:"auth_token"`
	AuthTokenFile       string `mapstructure:"auth_token_file"`
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Port                 int           `mapstructure:"port"`
	Auth                 AuthConfig    `mapstructure:"auth"`
	Admin                AdminConfig   `mapstructure:"admin"`
	RateLimitEnabled     bool          `mapstructure:"rate_limit_enabled"`
	RateLimitRPS         float64       `mapstructure:"rate_limit_rps"`
	RateLimitBurst       int           `mapstructure:"rate_limit_burst"`
	CORSEnabled          bool          `mapstructure:"cors_enabled"`
	CORSAllowedOrigins   []string      `mapstructure:"cors_allowed_origins"`
	CORSAllowedMethods   []string      `mapstructure:"cors_allowed_methods"`
	CORSAllowedHeaders   []string      `mapstructure:"cors_allowed_headers"`
	CORSExposeHeaders    []string      `mapstructure:"cors_expose_headers"`
	CORSAllowCredentials bool          `mapstructure:"cors_allow_credentials"`
	CORSMaxAge           int           `mapstructure:"cors_max_age"`
	ReadTimeout          time.Duration `mapstructure:"read_timeout"`
	WriteTimeout         time.Duration `mapstructure:"write_timeout"`
	IdleTimeout          time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout      time.Duration `mapstructure:"shutdown_timeout"`
	HealthCheckTimeout   time.Duration `mapstructure:"health_check_timeout"`

	// TLS Configuration
	TLSMode        string `mapstructure:"tls_mode"`          // "off", "auto", or "file" (default: "off")
	TLSCertFile    string `mapstructure:"tls_cert_file"`     // Path to certificate file (for "file" mode)
	TLSKeyFile     string `mapstructure:"tls_key_file"`      // Path to private key file (for "file" mode)
	TLSAutoCertDir string `mapstructure:"tls_auto_cert_dir"` // Directory for auto-generated certs (default: ".tls")
}

// LoggingConfig holds logging parameters.
type LoggingConfig struct {
	Level          string `mapstructure:"level"`           // debug, info, warn, error
	Format         string `mapstructure:"format"`          // json, text, auto
	ExportsEnabled bool   `mapstructure:"exports_enabled"` // Enable OTLP log export
}

// ObservabilityConfig holds observability parameters.
type ObservabilityConfig struct {
	ServiceName         string        `mapstructure:"service_name"`
	ServiceVersion      string        `mapstructure:"service_version"`
	Environment         string        `mapstructure:"environment"`
	MetricsEnabled      bool          `mapstructure:"metrics_enabled"`
	TracingEnabled      bool          `mapstructure:"tracing_enabled"`
	TraceSampleRatio    float64       `mapstructure:"trace_sample_ratio"`
	SQLCommenterEnabled bool          `mapstructure:"sqlcommenter_enabled"` // Inject trace context into SQL queries
	Logging             LoggingConfig `mapstructure:"logging"`

	// Global OTLP settings (defaults for all signals)
	OTLP OTLPConfig `mapstructure:"otlp"`

	// Signal-specific overrides (optional)
	Traces  *OTLPConfig `mapstructure:"traces,omitempty"`
	Logs    *OTLPConfig `mapstructure:"logs,omitempty"`
	Metrics *OTLPConfig `mapstructure:"metrics,omitempty"`
}

// OTLPConfig holds OTLP exporter configuration
type OTLPConfig struct {
	Endpoint          string            `mapstructure:"endpoint"`
	Protocol          string            `mapstructure:"protocol"` // "grpc", "http/protobuf"
	Insecure          bool              `mapstructure:"insecure"`
	TLSCertFile       string            `mapstructure:"tls_cert_file"`
	TLSClientCertFile string            `mapstructure:"tls_client_cert_file"`
	TLSClientKeyFile  string            `mapstructure:"tls_client_key_file"`
	Headers           map[string]string `mapstructure:"headers"`
	Timeout           time.Duration     `mapstructure:"timeout"`
	Compression       string            `mapstructure:"compression"` // "none", "gzip"
	RetryEnabled      bool              `mapstructure:"retry_enabled"`
	RetryMaxAttempts  int               `mapstructure:"retry_max_attempts"`
}

// GetTracesConfig returns the effective OTLP config for traces
func (c *ObservabilityConfig) GetTracesConfig() OTLPConfig {
	if c.Traces != nil {
		return mergeOTLPConfigs(c.OTLP, *c.Traces)
	}
	return c.OTLP
}

// GetLogsConfig returns the effective OTLP config for logs
func (c *ObservabilityConfig) GetLogsConfig() OTLPConfig {
	if c.Logs != nil {
		return mergeOTLPConfigs(c.OTLP, *c.Logs)
	}
	return c.OTLP
}

// GetMetricsConfig returns the effective OTLP config for metrics
func (c *ObservabilityConfig) GetMetricsConfig() OTLPConfig {
	if c.Metrics != nil {
		return mergeOTLPConfigs(c.OTLP, *c.Metrics)
	}
	return c.OTLP
}

// mergeOTLPConfigs merges signal-specific config over global defaults
func mergeOTLPConfigs(base OTLPConfig, override OTLPConfig) OTLPConfig {
	result := base

	if override.Endpoint != "" {
		result.Endpoint = override.Endpoint
	}
	if override.Protocol != "" {
		result.Protocol = override.Protocol
	}
	// Insecure is a bool, so an explicit false is indistinguishable from
	// unset. When the override block exists its Insecure value wins.
	result.Insecure = override.Insecure

	if override.TLSCertFile != "" {
		result.TLSCertFile = override.TLSCertFile
	}
	if override.TLSClientCertFile != "" {
		result.TLSClientCertFile = override.TLSClientCertFile
	}
	if override.TLSClientKeyFile != "" {
		result.TLSClientKeyFile = override.TLSClientKeyFile
	}

	// Merge headers (signal-specific headers override global)
	if override.Headers != nil {
		result.Headers = make(map[string]string)
		for k, v := range base.Headers {
			result.Headers[k] = v
		}
		for k, v := range override.Headers {
			result.Headers[k] = v
		}
	}

	if override.Timeout != 0 {
		result.Timeout = override.Timeout
	}
	if override.Compression != "" {
		result.Compression = override.Compression
	}
	if override.RetryMaxAttempts != 0 {
		result.RetryEnabled = override.RetryEnabled
		result.RetryMaxAttempts = override.RetryMaxAttempts
	}

	return result
}
