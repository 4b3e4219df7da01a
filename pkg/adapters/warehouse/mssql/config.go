package mssql

import (
	"fmt"
	"net/url"
	"strconv"

	"github.com/ekaya-inc/dashboard-gateway/pkg/adapters/warehouse"
)

// DefaultPort returns the default SQL Server port.
func DefaultPort() int {
	return 1433
}

// connectionString returns cfg.DSN when set, otherwise a sqlserver:// URL
// built from the discrete fields with SQL authentication.
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
	if cfg.User == "" {
		return "", fmt.Errorf("username is required for SQL authentication")
	}

	port := cfg.Port
	if port == 0 {
		port = DefaultPort()
	}

	query := url.Values{}
	query.Set("database", cfg.Database)
	query.Set("encrypt", strconv.FormatBool(cfg.Encrypt))
	if cfg.TrustServerCertificate {
		query.Set("TrustServerCertificate", "true")
	}

	u := &url.URL{
		Scheme:   "sqlserver",
		User:     url.UserPassword(cfg.User, cfg.Password),
		Host:     fmt.Sprintf("%s:%d", cfg.Host, port),
		RawQuery: query.Encode(),
	}
	return u.String(), nil
}
