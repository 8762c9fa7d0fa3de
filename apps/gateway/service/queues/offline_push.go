package queues

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/gillverbasiglo/genie-api-sub000/apps/gateway/config"
	"github.com/gillverbasiglo/genie-api-sub000/apps/gateway/service/models"
	"github.com/gillverbasiglo/genie-api-sub000/apps/gateway/service/push"
	"github.com/gillverbasiglo/genie-api-sub000/apps/gateway/service/repository"
	"github.com/gillverbasiglo/genie-api-sub000/internal"
	"github.com/gillverbasiglo/genie-api-sub000/internal/telemetry"
	"github.com/google/uuid"
	"github.com/pitabwire/frame/queue"
	"github.com/pitabwire/util"
)

var errTokensFailed = errors.New("push failed for some device tokens")

// OfflinePush is the queued work item for a user who was not connected.
type OfflinePush struct {
	ID         string    `json:"id"`
	UserID     string    `json:"user_id"`
	Type       string    `json:"type"`
	Title      string    `json:"title"`
	Body       string    `json:"body"`
	RetryCount int       `json:"retry_count"`
	CreatedAt  time.Time `json:"created_at"`

	// Tokens narrows a retry to the devices that failed last time.
	Tokens []string `json:"tokens,omitempty"`
}

// OfflinePushNotifier queues pushes for users without a live connection.
type OfflinePushNotifier struct {
	cfg  *config.GatewayConfig
	qMan queue.Manager
}

// NewOfflinePushNotifier creates a notifier publishing to the offline push queue.
func NewOfflinePushNotifier(cfg *config.GatewayConfig, qMan queue.Manager) *OfflinePushNotifier {
	return &OfflinePushNotifier{cfg: cfg, qMan: qMan}
}

// SendOfflinePush queues a private chat message push.
func (n *OfflinePushNotifier) SendOfflinePush(ctx context.Context, userID, title, body string) error {
	return n.SendNotificationPush(ctx, userID, string(models.NotificationPrivateChatMessage), title, body)
}

// SendNotificationPush queues a push of the given notification kind.
func (n *OfflinePushNotifier) SendNotificationPush(ctx context.Context, userID, kind, title, body string) error {
	if userID == "" {
		return repository.ErrEmptyID
	}

	msg := &OfflinePush{
		ID:        uuid.NewString(),
		UserID:    userID,
		Type:      kind,
		Title:     title,
		Body:      body,
		CreatedAt: time.Now().UTC(),
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	topic, err := n.qMan.GetPublisher(n.cfg.QueueOfflinePushName)
	if err != nil {
		return fmt.Errorf("failed to get offline push publisher: %w", err)
	}

	headers := map[string]string{
		internal.HeaderUserID:   userID,
		internal.HeaderPushKind: kind,
	}
	return topic.Publish(ctx, payload, headers)
}

type offlinePushQueueHandler struct {
	cfg  *config.GatewayConfig
	qMan queue.Manager
	dlp  *DeadLetterPublisher

	notifications repository.NotificationRepository
	tokens        repository.DeviceTokenRepository
	sender        push.Sender
}

// NewOfflinePushQueueHandler creates the worker that stores and delivers queued pushes.
func NewOfflinePushQueueHandler(
	cfg *config.GatewayConfig,
	qMan queue.Manager,
	dlp *DeadLetterPublisher,
	notifications repository.NotificationRepository,
	tokens repository.DeviceTokenRepository,
	sender push.Sender,
) queue.SubscribeWorker {
	return &offlinePushQueueHandler{
		cfg:           cfg,
		qMan:          qMan,
		dlp:           dlp,
		notifications: notifications,
		tokens:        tokens,
		sender:        sender,
	}
}

//nolint:nonamedreturns // named return required for deferred tracing
func (h *offlinePushQueueHandler) Handle(ctx context.Context, headers map[string]string, payload []byte) (err error) {
	ctx, span := telemetry.PushTracer.Start(ctx, "OfflinePush")
	defer func() { telemetry.PushTracer.End(ctx, span, err) }()

	msg := &OfflinePush{}
	if err = json.Unmarshal(payload, msg); err != nil || msg.UserID == "" {
		if err == nil {
			err = repository.ErrEmptyID
		}
		util.Log(ctx).WithError(err).Error("failed to decode offline push")
		// Non-retryable: park the raw payload for diagnostics
		if h.dlp != nil {
			if dlqErr := h.dlp.Publish(ctx, payload, h.cfg.QueueOfflinePushName, err.Error(), headers); dlqErr != nil {
				util.Log(ctx).WithError(dlqErr).Error("failed to publish undecodable push to DLQ")
			}
		}
		return nil
	}

	log := util.Log(ctx).WithFields(map[string]any{
		"push_id":     msg.ID,
		"user_id":     msg.UserID,
		"type":        msg.Type,
		"retry_count": msg.RetryCount,
	})

	// Stored on every attempt; the insert is a no-op once the id exists.
	if err = h.storeNotification(ctx, msg); err != nil {
		log.WithError(err).Warn("failed to store notification")
		return RetryOrDeadLetter(ctx, h.qMan, h.dlp, h.cfg.QueueOfflinePushName, msg, headers, err)
	}

	deviceTokens, err := h.targetTokens(ctx, msg)
	if err != nil {
		log.WithError(err).Warn("failed to load device tokens")
		return RetryOrDeadLetter(ctx, h.qMan, h.dlp, h.cfg.QueueOfflinePushName, msg, headers, err)
	}
	if len(deviceTokens) == 0 {
		log.Debug("no active device tokens, push skipped")
		return nil
	}

	failed := h.pushToDevices(ctx, msg, deviceTokens)
	if len(failed) == 0 {
		return nil
	}

	telemetry.NotificationsFailed.Add(ctx, int64(len(failed)))
	msg.Tokens = failed
	return RetryOrDeadLetter(ctx, h.qMan, h.dlp, h.cfg.QueueOfflinePushName, msg, headers, errTokensFailed)
}

func (h *offlinePushQueueHandler) storeNotification(ctx context.Context, msg *OfflinePush) error {
	return h.notifications.CreateNotification(ctx, &models.Notification{
		ID:      msg.ID,
		UserID:  msg.UserID,
		Type:    models.NotificationType(msg.Type),
		Title:   msg.Title,
		Message: msg.Body,
	})
}

func (h *offlinePushQueueHandler) targetTokens(ctx context.Context, msg *OfflinePush) ([]string, error) {
	if len(msg.Tokens) > 0 {
		return msg.Tokens, nil
	}

	active, err := h.tokens.ActiveTokens(ctx, msg.UserID, models.PlatformIOS)
	if err != nil {
		return nil, err
	}

	deviceTokens := make([]string, 0, len(active))
	for _, t := range active {
		deviceTokens = append(deviceTokens, t.Token)
	}
	return deviceTokens, nil
}

// pushToDevices returns the tokens whose push failed in a retryable way.
func (h *offlinePushQueueHandler) pushToDevices(ctx context.Context, msg *OfflinePush, deviceTokens []string) []string {
	content := push.Message{Title: msg.Title, Body: msg.Body, Kind: msg.Type}

	var failed []string
	for _, deviceToken := range deviceTokens {
		res, err := h.sender.Send(ctx, deviceToken, content)
		switch {
		case err == nil && res.TokenInvalid:
			util.Log(ctx).WithField("reason", res.Reason).Info("retiring invalid device token")
			if deactivateErr := h.tokens.DeactivateToken(ctx, deviceToken); deactivateErr != nil {
				util.Log(ctx).WithError(deactivateErr).Warn("failed to deactivate device token")
			}
		case err == nil:
			telemetry.NotificationsSent.Add(ctx, 1)
		case errors.Is(err, push.ErrPushUnavailable):
			util.Log(ctx).WithError(err).WithField("user_id", msg.UserID).Warn("push failed, will retry")
			failed = append(failed, deviceToken)
		default:
			telemetry.NotificationsFailed.Add(ctx, 1)
			util.Log(ctx).WithError(err).WithField("user_id", msg.UserID).Warn("push rejected")
		}
	}
	return failed
}
