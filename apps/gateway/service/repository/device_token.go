package repository

import (
	"context"

	"github.com/gillverbasiglo/genie-api-sub000/apps/gateway/service/models"
)

type deviceTokenRepository struct {
	pool DBPool
}

// NewDeviceTokenRepository creates a device token repository over pool.
func NewDeviceTokenRepository(pool DBPool) DeviceTokenRepository {
	return &deviceTokenRepository{pool: pool}
}

// ActiveTokens lists active tokens for userID; an empty platform matches all.
func (dr *deviceTokenRepository) ActiveTokens(
	ctx context.Context,
	userID, platform string,
) ([]*models.DeviceToken, error) {
	var tokens []*models.DeviceToken

	query := dr.pool.DB(ctx, true).Where("user_id = ? AND is_active = ?", userID, true)
	if platform != "" {
		query = query.Where("platform = ?", platform)
	}

	err := query.Order("updated_at DESC").Find(&tokens).Error
	return tokens, err
}

func (dr *deviceTokenRepository) DeactivateToken(ctx context.Context, token string) error {
	return dr.pool.DB(ctx, false).
		Model(&models.DeviceToken{}).
		Where("token = ?", token).
		Update("is_active", false).Error
}
