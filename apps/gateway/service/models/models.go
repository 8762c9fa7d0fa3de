package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// MessageStatus is the delivery state of a private chat message.
type MessageStatus string

const (
	MessageStatusSent      MessageStatus = "sent"
	MessageStatusDelivered MessageStatus = "delivered"
	MessageStatusRead      MessageStatus = "read"
)

// IsValid reports whether s is one of the known statuses.
func (s MessageStatus) IsValid() bool {
	switch s {
	case MessageStatusSent, MessageStatusDelivered, MessageStatusRead:
		return true
	default:
		return false
	}
}

// Message is a private chat message between two users.
type Message struct {
	ID          string        `gorm:"type:varchar(36);primaryKey"                json:"id"`
	SenderID    string        `gorm:"type:varchar(36);index;not null"            json:"sender_id"`
	ReceiverID  string        `gorm:"type:varchar(36);index;not null"            json:"receiver_id"`
	Content     string        `gorm:"type:text;not null"                         json:"content"`
	Status      MessageStatus `gorm:"type:varchar(20);not null;default:'sent'"   json:"status"`
	IsFromGenie bool          `gorm:"not null;default:false"                     json:"is_from_genie"`
	CreatedAt   time.Time     `json:"created_at"`
	UpdatedAt   time.Time     `json:"updated_at"`
}

func (Message) TableName() string {
	return "private_chat_messages"
}

func (m *Message) BeforeCreate(_ *gorm.DB) error {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.Status == "" {
		m.Status = MessageStatusSent
	}
	return nil
}

// IsParticipant reports whether userID is the sender or receiver.
func (m *Message) IsParticipant(userID string) bool {
	return userID != "" && (m.SenderID == userID || m.ReceiverID == userID)
}

// User is the subset of the users table the gateway reads.
type User struct {
	ID          string `gorm:"type:varchar(36);primaryKey"`
	Username    string `gorm:"type:varchar(100)"`
	DisplayName string `gorm:"type:varchar(100)"`
	CreatedAt   time.Time
}

func (User) TableName() string {
	return "users"
}

// NotificationType classifies stored notifications. Kinds other than chat
// messages arrive through the notify endpoint as their frame type.
type NotificationType string

const NotificationPrivateChatMessage NotificationType = "PRIVATE_CHAT_MESSAGE"

// Notification is the in-app record kept for every offline push.
type Notification struct {
	ID        string           `gorm:"type:varchar(36);primaryKey"`
	UserID    string           `gorm:"type:varchar(36);index;not null"`
	Type      NotificationType `gorm:"type:varchar(50);not null"`
	Title     string           `gorm:"type:varchar(255)"`
	Message   string           `gorm:"type:text"`
	IsRead    bool             `gorm:"not null;default:false"`
	CreatedAt time.Time
}

func (Notification) TableName() string {
	return "notifications"
}

func (n *Notification) BeforeCreate(_ *gorm.DB) error {
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	return nil
}

const (
	PlatformIOS     = "ios"
	PlatformAndroid = "android"
)

// DeviceToken is a push token registered by one of a user's devices.
type DeviceToken struct {
	ID        string `gorm:"type:varchar(36);primaryKey"`
	UserID    string `gorm:"type:varchar(36);index;not null"`
	Token     string `gorm:"type:varchar(255);uniqueIndex;not null"`
	Platform  string `gorm:"type:varchar(20);not null"`
	IsActive  bool   `gorm:"not null;default:true"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (DeviceToken) TableName() string {
	return "device_tokens"
}

func (d *DeviceToken) BeforeCreate(_ *gorm.DB) error {
	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	return nil
}
