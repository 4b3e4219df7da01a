package testhelpers

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.uber.org/zap"

	"github.com/ekaya-inc/dashboard-gateway/pkg/database"
)

// PostgresImage backs the chat history database in integration tests.
const PostgresImage = "postgres:16-alpine"

// HistoryDB is a migrated chat history database shared by integration tests.
type HistoryDB struct {
	Container testcontainers.Container
	DB        *database.DB
	ConnStr   string
}

var (
	sharedHistoryDB     *HistoryDB
	sharedHistoryDBOnce sync.Once
	sharedHistoryDBErr  error
)

// GetHistoryDB returns a shared PostgreSQL container with migrations applied.
// The container is created once and reused across all tests in the run.
func GetHistoryDB(t *testing.T) *HistoryDB {
	t.Helper()

	if testing.Short() {
		t.Skip("Skipping integration test in short mode (requires Docker)")
	}

	sharedHistoryDBOnce.Do(func() {
		sharedHistoryDB, sharedHistoryDBErr = setupHistoryDB()
	})

	if sharedHistoryDBErr != nil {
		t.Fatalf("Failed to setup history database: %v", sharedHistoryDBErr)
	}

	return sharedHistoryDB
}

func setupHistoryDB() (*HistoryDB, error) {
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        PostgresImage,
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_DB":       "dashboard_gateway_test",
			"POSTGRES_USER":     "gateway",
			"POSTGRES_PASSWORD": "test_password",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(60 * time.Second),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to start test container: %w", err)
	}

	host, err := container.Host(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get container host: %w", err)
	}

	port, err := container.MappedPort(ctx, "5432")
	if err != nil {
		return nil, fmt.Errorf("failed to get container port: %w", err)
	}

	connStr := fmt.Sprintf("postgres://gateway:test_password@%s:%s/dashboard_gateway_test?sslmode=disable",
		host, port.Port())

	db, err := database.NewConnection(ctx, &database.Config{
		URL:            connStr,
		MaxConnections: 5,
	}, zap.NewNop())
	if err != nil {
		return nil, fmt.Errorf("failed to connect to history database: %w", err)
	}

	if err := database.RunMigrations(db, zap.NewNop()); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &HistoryDB{
		Container: container,
		DB:        db,
		ConnStr:   connStr,
	}, nil
}
