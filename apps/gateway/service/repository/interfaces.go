package repository

import (
	"context"
	"errors"
	"time"

	"github.com/gillverbasiglo/genie-api-sub000/apps/gateway/service/models"
	"gorm.io/gorm"
)

var (
	ErrMessageNotFound = errors.New("message not found")
	ErrEmptyID         = errors.New("id is required")
)

// DBPool hands out gorm sessions; frame's datastore pool satisfies it.
type DBPool interface {
	DB(ctx context.Context, readOnly bool) *gorm.DB
}

// MessageRepository persists private chat messages.
type MessageRepository interface {
	CreateMessage(ctx context.Context, senderID, receiverID, content string, fromGenie bool) (*models.Message, error)
	GetMessageByID(ctx context.Context, id string) (*models.Message, error)
	UpdateMessageStatus(ctx context.Context, id string, status models.MessageStatus, updatedAt time.Time) error
}

// UserRepository answers identity questions for the websocket endpoint.
type UserRepository interface {
	UserExists(ctx context.Context, id string) (bool, error)
}

// NotificationRepository stores the in-app copy of offline pushes.
type NotificationRepository interface {
	CreateNotification(ctx context.Context, notification *models.Notification) error
}

// DeviceTokenRepository looks up and retires push tokens.
type DeviceTokenRepository interface {
	ActiveTokens(ctx context.Context, userID, platform string) ([]*models.DeviceToken, error)
	DeactivateToken(ctx context.Context, token string) error
}
