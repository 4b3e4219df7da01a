package postgres

import (
	"context"

	"github.com/ekaya-inc/dashboard-gateway/pkg/adapters/warehouse"
	"github.com/ekaya-inc/dashboard-gateway/pkg/models"
)

func init() {
	warehouse.Register(warehouse.Registration{
		Info: warehouse.AdapterInfo{
			Type:        "postgres",
			DisplayName: "PostgreSQL",
			Dialect:     models.DialectPostgres,
		},
		Factory: func(ctx context.Context, cfg *warehouse.Config) (warehouse.Executor, error) {
			return NewExecutor(ctx, cfg)
		},
	})
}
