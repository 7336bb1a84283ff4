package storage

import (
	"context"

	"github.com/EdouardKamole/clean-city-dashboard/internal/migrations"
	"go.uber.org/zap"
)

// RunMigrations applies all pending SQL migrations and verifies the schema.
func RunMigrations(ctx context.Context, db migrations.DB, log *zap.Logger) error {
	if err := migrations.Run(ctx, db, log); err != nil {
		return &DBError{Op: "migrate", Err: err}
	}
	if err := migrations.CheckSchema(ctx, db); err != nil {
		return &DBError{Op: "check_schema", Err: err}
	}
	return nil
}
