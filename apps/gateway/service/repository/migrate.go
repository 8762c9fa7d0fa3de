package repository

import (
	"context"

	"github.com/gillverbasiglo/genie-api-sub000/apps/gateway/service/models"
)

// Migrate creates or updates the tables the gateway writes, keeping the
// columns the API service created them with. The users table
// belongs to the accounts service and is only read here.
func Migrate(ctx context.Context, pool DBPool) error {
	return pool.DB(ctx, false).AutoMigrate(
		&models.Message{},
		&models.Notification{},
		&models.DeviceToken{},
	)
}
