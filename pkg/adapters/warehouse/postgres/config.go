package postgres

import (
	"fmt"
	"net/url"

	"github.com/ekaya-inc/dashboard-gateway/pkg/adapters/warehouse"
)

// DefaultPort returns the default PostgreSQL port.
func DefaultPort() int {
	return 5432
}

// DefaultSSLMode returns the default SSL mode.
func DefaultSSLMode() string {
	return "require"
}

// connectionString returns cfg.DSN when set, otherwise a PostgreSQL URL built
// from the discrete fields. User-provided parts are URL-escaped so passwords
// containing @, /, # or ? survive.
func connectionString(cfg *warehouse.Config) (string, error) {
	if cfg.DSN != "" {
		return cfg.DSN, nil
	}
	if cfg.Host == "" {
		return "", fmt.Errorf("host is required")
	}
	if cfg.Database == "" {
		return "", fmt.Errorf("database is required")
	}

	port := cfg.Port
	if port == 0 {
		port = DefaultPort()
	}
	sslMode := cfg.SSLMode
	if sslMode == "" {
		sslMode = DefaultSSLMode()
	}

	return fmt.Sprintf(
		"postgresql://%s:%s@%s:%d/%s?sslmode=%s",
		url.QueryEscape(cfg.User),
		url.QueryEscape(cfg.Password),
		cfg.Host,
		port,
		url.QueryEscape(cfg.Database),
		sslMode,
	), nil
}
