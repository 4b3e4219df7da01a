package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

// Config holds all configuration for dashboard-gateway.
// Configuration comes from config.yaml with environment variable overrides.
// Secrets (DSNs, passwords, API keys) only come from environment variables.
type Config struct {
	// Server configuration
	BindAddr string `yaml:"bind_addr" env:"BIND_ADDR" env-default:"127.0.0.1"`
	Port     string `yaml:"port" env:"PORT" env-default:"8080"`
	Env      string `yaml:"env" env:"ENVIRONMENT" env-default:"local"`
	BaseURL  string `yaml:"base_url" env:"BASE_URL" env-default:""` // Auto-derived from Port if empty
	Version  string `yaml:"-"`                                      // Set at load time, not from config

	// TLS configuration (optional - if both provided, server uses HTTPS)
	TLSCertPath string `yaml:"tls_cert_path" env:"TLS_CERT_PATH" env-default:""`
	TLSKeyPath  string `yaml:"tls_key_path" env:"TLS_KEY_PATH" env-default:""`

	Warehouse WarehouseConfig `yaml:"warehouse"`
	Catalog   CatalogConfig   `yaml:"catalog"`
	Access    AccessConfig    `yaml:"access"`
	Cache     CacheConfig     `yaml:"cache"`
	Redis     RedisConfig     `yaml:"redis"`
	Database  DatabaseConfig  `yaml:"database"`
	LLM       LLMConfig       `yaml:"llm"`
	Chat      ChatConfig      `yaml:"chat"`
	Auth      AuthConfig      `yaml:"auth"`
	Share     ShareConfig     `yaml:"share"`
	CORS      CORSConfig      `yaml:"cors"`
	MCP       MCPConfig       `yaml:"mcp"`
}

// WarehouseConfig selects the analytics warehouse and bounds query execution.
type WarehouseConfig struct {
	Type            string `yaml:"type" env:"WAREHOUSE_TYPE" env-default:"bigquery"`
	Project         string `yaml:"project" env:"GCP_PROJECT_ID" env-default:""`
	Location        string `yaml:"location" env:"BIGQUERY_LOCATION" env-default:"EU"`
	CredentialsFile string `yaml:"credentials_file" env:"GOOGLE_APPLICATION_CREDENTIALS" env-default:""`
	MaxBytesBilled  int64  `yaml:"max_bytes_billed" env:"BIGQUERY_MAX_BYTES_BILLED" env-default:"0"`

	// Postgres and SQL Server warehouses.
	DSN      string `yaml:"-" env:"WAREHOUSE_DSN"` // Secret - not in YAML
	Host     string `yaml:"host" env:"WAREHOUSE_HOST" env-default:""`
	Port     int    `yaml:"port" env:"WAREHOUSE_PORT" env-default:"0"`
	User     string `yaml:"user" env:"WAREHOUSE_USER" env-default:""`
	Password string `yaml:"-" env:"WAREHOUSE_PASSWORD"` // Secret - not in YAML
	Database string `yaml:"database" env:"WAREHOUSE_DATABASE" env-default:""`
	SSLMode  string `yaml:"ssl_mode" env:"WAREHOUSE_SSL_MODE" env-default:""`
	MaxConns int32  `yaml:"max_conns" env:"WAREHOUSE_MAX_CONNS" env-default:"10"`

	QueryTimeout      time.Duration `yaml:"query_timeout" env:"WAREHOUSE_QUERY_TIMEOUT" env-default:"30s"`
	MaxRows           int           `yaml:"max_rows" env:"WAREHOUSE_MAX_ROWS" env-default:"50000"`
	CandidateRowLimit int           `yaml:"candidate_row_limit" env:"WAREHOUSE_CANDIDATE_ROW_LIMIT" env-default:"1000"`
}

// CatalogConfig points at the report catalog file. Empty uses the built-in
// catalog.
type CatalogConfig struct {
	Path string `yaml:"path" env:"CATALOG_PATH" env-default:""`
}

// AccessConfig configures the access validator for model-authored queries.
type AccessConfig struct {
	// AllowedRelations is the allow-list of fully qualified relations. Empty
	// means every table described in the catalog.
	AllowedRelations []string `yaml:"allowed_relations" env:"ACCESS_ALLOWED_RELATIONS" env-separator:","`
	// DefaultQualifier completes partially qualified names, e.g. "mydigipal".
	DefaultQualifier string `yaml:"default_qualifier" env:"ACCESS_DEFAULT_QUALIFIER" env-default:""`
	// ForbiddenKeywords extends the built-in denylist.
	ForbiddenKeywords []string `yaml:"forbidden_keywords" env:"ACCESS_FORBIDDEN_KEYWORDS" env-separator:","`
}

// CacheConfig selects the result cache backend.
type CacheConfig struct {
	Backend    string `yaml:"backend" env:"CACHE_BACKEND" env-default:"memory"` // "memory" or "redis"
	MaxEntries int    `yaml:"max_entries" env:"CACHE_MAX_ENTRIES" env-default:"1024"`
	KeyPrefix  string `yaml:"key_prefix" env:"CACHE_KEY_PREFIX" env-default:"dashboard-gateway:report:"`
}

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	Host     string `yaml:"host" env:"REDIS_HOST" env-default:""`
	Port     int    `yaml:"port" env:"REDIS_PORT" env-default:"6379"`
	Password string `yaml:"-" env:"REDIS_PASSWORD"` // Secret - not in YAML
	DB       int    `yaml:"db" env:"REDIS_DB" env-default:"0"`
}

// DatabaseConfig holds the PostgreSQL database that stores chat history.
// With no host configured, history is kept in memory.
type DatabaseConfig struct {
	Host           string `yaml:"host" env:"PGHOST" env-default:""`
	Port           int    `yaml:"port" env:"PGPORT" env-default:"5432"`
	User           string `yaml:"user" env:"PGUSER" env-default:"dashboard"`
	Password       string `yaml:"-" env:"PGPASSWORD"` // Secret - not in YAML
	Database       string `yaml:"database" env:"PGDATABASE" env-default:"dashboard_gateway"`
	MaxConnections int32  `yaml:"max_connections" env:"PGMAX_CONNECTIONS" env-default:"10"`
	SSLMode        string `yaml:"ssl_mode" env:"PGSSLMODE" env-default:"disable"`
}

// LLMConfig configures the chat model provider.
type LLMConfig struct {
	Provider    string  `yaml:"provider" env:"LLM_PROVIDER" env-default:"openai"` // "openai" or "anthropic"
	Endpoint    string  `yaml:"endpoint" env:"LLM_ENDPOINT" env-default:""`
	Model       string  `yaml:"model" env:"LLM_MODEL" env-default:"gpt-4o-mini"`
	APIKey      string  `yaml:"-" env:"LLM_API_KEY"` // Secret - not in YAML
	Temperature float64 `yaml:"temperature" env:"LLM_TEMPERATURE" env-default:"0.2"`
	MaxTokens   int     `yaml:"max_tokens" env:"LLM_MAX_TOKENS" env-default:"4096"`

	BreakerThreshold  int           `yaml:"breaker_threshold" env:"LLM_BREAKER_THRESHOLD" env-default:"5"`
	BreakerResetAfter time.Duration `yaml:"breaker_reset_after" env:"LLM_BREAKER_RESET_AFTER" env-default:"30s"`
}

// IsAvailable returns true if a chat model is configured.
func (c *LLMConfig) IsAvailable() bool {
	return c.Model != "" && (c.APIKey != "" || c.Endpoint != "")
}

// ChatConfig bounds the analytics chat loop.
type ChatConfig struct {
	MaxRejections     int `yaml:"max_rejections" env:"CHAT_MAX_REJECTIONS" env-default:"3"`
	MaxToolIterations int `yaml:"max_tool_iterations" env:"CHAT_MAX_TOOL_ITERATIONS" env-default:"10"`
	MaxResultRows     int `yaml:"max_result_rows" env:"CHAT_MAX_RESULT_ROWS" env-default:"200"`
	MaxHistory        int `yaml:"max_history" env:"CHAT_MAX_HISTORY" env-default:"20"`
}

// AuthConfig holds authentication-related configuration.
type AuthConfig struct {
	// Enabled turns the authentication middleware on.
	Enabled bool `yaml:"enabled" env:"AUTH_ENABLED" env-default:"true"`

	// EnableVerification controls whether ID token signatures are checked.
	// Set to false for local development only.
	EnableVerification bool `yaml:"enable_verification" env:"AUTH_ENABLE_VERIFICATION" env-default:"true"`

	// ClientID is the Google OAuth client id; ID tokens must carry it as audience.
	ClientID string `yaml:"client_id" env:"GOOGLE_CLIENT_ID" env-default:""`

	JWKSURL string `yaml:"jwks_url" env:"AUTH_JWKS_URL" env-default:"https://www.googleapis.com/oauth2/v3/certs"`

	// AllowedEmailsStr is a comma-separated list of emails allowed to use the API.
	AllowedEmailsStr string `yaml:"allowed_emails" env:"ALLOWED_EMAILS" env-default:""`

	// AllowedEmails is parsed from AllowedEmailsStr (not from config file).
	AllowedEmails []string `yaml:"-"`
}

// ShareConfig configures the GCS bucket shared reports are uploaded to.
type ShareConfig struct {
	Bucket          string        `yaml:"bucket" env:"SHARE_BUCKET" env-default:""`
	Prefix          string        `yaml:"prefix" env:"SHARE_PREFIX" env-default:"shared-reports/"`
	CredentialsFile string        `yaml:"credentials_file" env:"SHARE_CREDENTIALS_FILE" env-default:""`
	Expiry          time.Duration `yaml:"expiry" env:"SHARE_EXPIRY" env-default:"168h"`
}

// Enabled returns true if sharing is configured.
func (c *ShareConfig) Enabled() bool {
	return c.Bucket != ""
}

// CORSConfig lists origins allowed to call the API from a browser.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins" env:"CORS_ALLOWED_ORIGINS" env-separator:"," env-default:"*"`
}

// MCPConfig controls the MCP endpoint.
type MCPConfig struct {
	Enabled bool `yaml:"enabled" env:"MCP_ENABLED" env-default:"true"`
}

// maxShareExpiry is the longest lifetime of a V4 signed URL.
const maxShareExpiry = 7 * 24 * time.Hour

// Load reads configuration from config.yaml with environment variable overrides.
// The version parameter is injected at build time and set on the returned Config.
func Load(version string) (*Config, error) {
	return LoadFile("config.yaml", version)
}

// LoadFile is Load with an explicit path. A missing file falls back to
// environment variables and defaults.
func LoadFile(path, version string) (*Config, error) {
	cfg := &Config{
		Version: version,
	}

	if _, statErr := os.Stat(path); statErr == nil {
		if err := cleanenv.ReadConfig(path, cfg); err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", path, err)
		}
	} else {
		if err := cleanenv.ReadEnv(cfg); err != nil {
			return nil, fmt.Errorf("failed to read environment: %w", err)
		}
	}

	if err := cfg.parseComplexFields(); err != nil {
		return nil, fmt.Errorf("failed to parse config fields: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	if err := cfg.validateTLS(); err != nil {
		return nil, fmt.Errorf("invalid TLS configuration: %w", err)
	}

	// Auto-derive BaseURL from Port if not explicitly set
	if cfg.BaseURL == "" {
		scheme := "http"
		if cfg.TLSCertPath != "" {
			scheme = "https"
		}
		cfg.BaseURL = (&url.URL{
			Scheme: scheme,
			Host:   "localhost:" + cfg.Port,
		}).String()
	}

	return cfg, nil
}

// parseComplexFields handles fields that need post-processing after loading.
func (c *Config) parseComplexFields() error {
	c.Auth.AllowedEmails = parseEmailList(c.Auth.AllowedEmailsStr)
	c.Access.AllowedRelations = normalizeList(c.Access.AllowedRelations, true)
	c.Access.ForbiddenKeywords = normalizeList(c.Access.ForbiddenKeywords, false)
	c.CORS.AllowedOrigins = normalizeList(c.CORS.AllowedOrigins, false)

	docker := isRunningInDocker()
	c.Database.Host = resolveHost(c.Database.Host, docker)
	c.Redis.Host = resolveHost(c.Redis.Host, docker)
	c.Warehouse.Host = resolveHost(c.Warehouse.Host, docker)
	return nil
}

func (c *Config) validate() error {
	switch c.Warehouse.Type {
	case "bigquery":
		if c.Warehouse.Project == "" {
			return fmt.Errorf("warehouse.project is required for bigquery")
		}
	case "postgres", "sqlserver":
		if c.Warehouse.DSN == "" && c.Warehouse.Host == "" {
			return fmt.Errorf("WAREHOUSE_DSN or warehouse.host is required for %s", c.Warehouse.Type)
		}
	default:
		return fmt.Errorf("unknown warehouse.type %q", c.Warehouse.Type)
	}

	switch c.Cache.Backend {
	case "memory":
	case "redis":
		if c.Redis.Host == "" {
			return fmt.Errorf("cache.backend redis requires redis.host")
		}
	default:
		return fmt.Errorf("unknown cache.backend %q", c.Cache.Backend)
	}

	switch c.LLM.Provider {
	case "openai", "anthropic":
	default:
		return fmt.Errorf("unknown llm.provider %q", c.LLM.Provider)
	}

	if c.Auth.Enabled && c.Auth.EnableVerification && c.Auth.ClientID == "" {
		return fmt.Errorf("auth.client_id is required when token verification is enabled")
	}

	if c.Share.Expiry <= 0 || c.Share.Expiry > maxShareExpiry {
		return fmt.Errorf("share.expiry must be between 0 and %s", maxShareExpiry)
	}

	if c.Chat.MaxRejections < 1 || c.Chat.MaxToolIterations < 1 {
		return fmt.Errorf("chat.max_rejections and chat.max_tool_iterations must be positive")
	}
	return nil
}

// validateTLS ensures TLS configuration is valid if provided.
// Both cert and key must be provided together, and files must exist.
func (c *Config) validateTLS() error {
	certSet := c.TLSCertPath != ""
	keySet := c.TLSKeyPath != ""

	if certSet != keySet {
		return fmt.Errorf("both tls_cert_path and tls_key_path must be provided together")
	}

	if certSet {
		if _, err := os.Stat(c.TLSCertPath); err != nil {
			return fmt.Errorf("TLS cert file does not exist: %w", err)
		}
		if _, err := os.Stat(c.TLSKeyPath); err != nil {
			return fmt.Errorf("TLS key file does not exist: %w", err)
		}
	}

	return nil
}

// parseEmailList parses a comma-separated list into lower-cased addresses.
func parseEmailList(value string) []string {
	return normalizeList(strings.Split(value, ","), true)
}

func normalizeList(values []string, lower bool) []string {
	var out []string
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if lower {
			v = strings.ToLower(v)
		}
		out = append(out, v)
	}
	return out
}

// ConnectionString returns a PostgreSQL connection string.
func (c *DatabaseConfig) ConnectionString() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// Enabled returns true if a history database is configured.
func (c *DatabaseConfig) Enabled() bool {
	return c.Host != ""
}

var (
	isDockerOnce   sync.Once
	isDockerResult bool
)

// isRunningInDocker reports whether /.dockerenv exists. Cached after the first call.
func isRunningInDocker() bool {
	isDockerOnce.Do(func() {
		_, err := os.Stat("/.dockerenv")
		isDockerResult = err == nil
	})
	return isDockerResult
}

// resolveHost maps loopback hosts to host.docker.internal inside a container
// so a local Postgres, Redis or warehouse on the host stays reachable.
func resolveHost(host string, inDocker bool) string {
	if inDocker && (host == "localhost" || host == "127.0.0.1") {
		return "host.docker.internal"
	}
	return host
}
