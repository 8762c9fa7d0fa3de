package repository

import (
	"context"

	"github.com/gillverbasiglo/genie-api-sub000/apps/gateway/service/models"
)

type userRepository struct {
	pool DBPool
}

// NewUserRepository creates a read-only view of the users table.
func NewUserRepository(pool DBPool) UserRepository {
	return &userRepository{pool: pool}
}

func (ur *userRepository) UserExists(ctx context.Context, id string) (bool, error) {
	if id == "" {
		return false, nil
	}

	var count int64
	err := ur.pool.DB(ctx, true).Model(&models.User{}).Where("id = ?", id).Limit(1).Count(&count).Error
	return count > 0, err
}
