package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gillverbasiglo/genie-api-sub000/apps/gateway/service/models"
	"gorm.io/gorm"
)

type messageRepository struct {
	pool DBPool
}

// NewMessageRepository creates a private chat message repository over pool.
func NewMessageRepository(pool DBPool) MessageRepository {
	return &messageRepository{pool: pool}
}

// CreateMessage stores a new message with status sent.
func (mr *messageRepository) CreateMessage(
	ctx context.Context,
	senderID, receiverID, content string,
	fromGenie bool,
) (*models.Message, error) {
	msg := &models.Message{
		SenderID:    senderID,
		ReceiverID:  receiverID,
		Content:     content,
		Status:      models.MessageStatusSent,
		IsFromGenie: fromGenie,
	}

	if err := mr.pool.DB(ctx, false).Create(msg).Error; err != nil {
		return nil, fmt.Errorf("create message: %w", err)
	}
	return msg, nil
}

// GetMessageByID returns ErrMessageNotFound when no row matches.
func (mr *messageRepository) GetMessageByID(ctx context.Context, id string) (*models.Message, error) {
	if id == "" {
		return nil, ErrEmptyID
	}

	msg := &models.Message{}
	err := mr.pool.DB(ctx, true).First(msg, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrMessageNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get message %s: %w", id, err)
	}
	return msg, nil
}

func (mr *messageRepository) UpdateMessageStatus(
	ctx context.Context,
	id string,
	status models.MessageStatus,
	updatedAt time.Time,
) error {
	result := mr.pool.DB(ctx, false).
		Model(&models.Message{}).
		Where("id = ?", id).
		Updates(map[string]any{"status": status, "updated_at": updatedAt})
	if result.Error != nil {
		return fmt.Errorf("update message %s status: %w", id, result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrMessageNotFound
	}
	return nil
}
