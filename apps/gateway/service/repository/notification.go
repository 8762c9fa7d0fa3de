package repository

import (
	"context"

	"github.com/gillverbasiglo/genie-api-sub000/apps/gateway/service/models"
	"gorm.io/gorm/clause"
)

type notificationRepository struct {
	pool DBPool
}

// NewNotificationRepository creates a notification repository over pool.
func NewNotificationRepository(pool DBPool) NotificationRepository {
	return &notificationRepository{pool: pool}
}

// CreateNotification is idempotent on the notification id so a retried
// offline push does not store a second copy.
func (nr *notificationRepository) CreateNotification(ctx context.Context, notification *models.Notification) error {
	return nr.pool.DB(ctx, false).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "id"}}, DoNothing: true}).
		Create(notification).Error
}
