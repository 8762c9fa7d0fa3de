package queues

import (
	"context"
	"encoding/json"
	"fmt"
	"maps"
	"strconv"

	"github.com/gillverbasiglo/genie-api-sub000/apps/gateway/config"
	"github.com/gillverbasiglo/genie-api-sub000/internal"
	"github.com/gillverbasiglo/genie-api-sub000/internal/telemetry"
	"github.com/pitabwire/frame/queue"
	"github.com/pitabwire/util"
)

// DeadLetterPublisher parks pushes that could not be delivered within the
// retry budget.
type DeadLetterPublisher struct {
	cfg  *config.GatewayConfig
	qMan queue.Manager
}

// NewDeadLetterPublisher creates a publisher for the configured dead-letter queue.
func NewDeadLetterPublisher(cfg *config.GatewayConfig, qMan queue.Manager) *DeadLetterPublisher {
	return &DeadLetterPublisher{
		cfg:  cfg,
		qMan: qMan,
	}
}

// ShouldDeadLetter returns true once retryCount reaches the configured maximum.
func (dlp *DeadLetterPublisher) ShouldDeadLetter(retryCount int) bool {
	return retryCount >= dlp.cfg.MaxDeliveryRetries
}

// Publish sends payload to the dead-letter queue with the failure context
// added to a copy of headers.
func (dlp *DeadLetterPublisher) Publish(
	ctx context.Context,
	payload []byte,
	originalQueue string,
	errMsg string,
	headers map[string]string,
) error {
	topic, err := dlp.qMan.GetPublisher(dlp.cfg.QueueDeadLetterName)
	if err != nil {
		return fmt.Errorf("failed to get dead-letter publisher: %w", err)
	}

	dlqHeaders := make(map[string]string, len(headers)+2)
	maps.Copy(dlqHeaders, headers)
	dlqHeaders[internal.HeaderDLQOriginalQueue] = originalQueue
	dlqHeaders[internal.HeaderDLQErrorMessage] = errMsg

	if pubErr := topic.Publish(ctx, payload, dlqHeaders); pubErr != nil {
		util.Log(ctx).WithError(pubErr).
			WithField("original_queue", originalQueue).
			Error("failed to publish to dead-letter queue")
		return pubErr
	}

	telemetry.NotificationsDeadLettered.Add(ctx, 1)
	util.Log(ctx).
		WithField("original_queue", originalQueue).
		WithField("error", errMsg).
		Warn("push moved to dead-letter queue")

	return nil
}

// RetryOrDeadLetter bumps the retry count and republishes the push, or parks
// it once the retry budget is spent.
func RetryOrDeadLetter(
	ctx context.Context,
	qMan queue.Manager,
	dlp *DeadLetterPublisher,
	queueName string,
	push *OfflinePush,
	headers map[string]string,
	originalErr error,
) error {
	push.RetryCount++

	payload, err := json.Marshal(push)
	if err != nil {
		return err
	}

	retryHeaders := make(map[string]string, len(headers)+1)
	maps.Copy(retryHeaders, headers)
	retryHeaders[internal.HeaderRetryCount] = strconv.Itoa(push.RetryCount)

	if dlp != nil && dlp.ShouldDeadLetter(push.RetryCount) {
		return dlp.Publish(ctx, payload, queueName, originalErr.Error(), retryHeaders)
	}

	topic, err := qMan.GetPublisher(queueName)
	if err != nil {
		util.Log(ctx).WithError(err).Error("failed to get publisher for retry")
		return err
	}

	if pubErr := topic.Publish(ctx, payload, retryHeaders); pubErr != nil {
		util.Log(ctx).WithError(pubErr).Error("failed to republish for retry")
		return pubErr
	}

	telemetry.NotificationsRetried.Add(ctx, 1)
	util.Log(ctx).WithField("retry_count", push.RetryCount).
		Debug("push republished for retry")
	return nil
}
