// Package push delivers offline notifications to Apple devices.
package push

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/gillverbasiglo/genie-api-sub000/apps/gateway/config"
	"github.com/gillverbasiglo/genie-api-sub000/internal/resilience"
	"github.com/pitabwire/util"
	"github.com/sideshow/apns2"
	"github.com/sideshow/apns2/payload"
	"github.com/sideshow/apns2/token"
)

var (
	// ErrPushUnavailable marks a failure worth retrying later.
	ErrPushUnavailable = errors.New("push service unavailable")
	// ErrPushRejected marks a notification APNs will never accept as sent.
	ErrPushRejected = errors.New("push rejected")
)

// Message is the user-visible content of a push.
type Message struct {
	Title string
	Body  string
	Kind  string
}

// Result describes a push that reached APNs.
type Result struct {
	ID string
	// TokenInvalid is set when the device token should no longer be used.
	TokenInvalid bool
	Reason       string
}

// Sender pushes a message to one device token.
type Sender interface {
	Send(ctx context.Context, deviceToken string, msg Message) (*Result, error)
}

// apnsPusher is the part of apns2.Client the sender relies on.
type apnsPusher interface {
	PushWithContext(ctx apns2.Context, n *apns2.Notification) (*apns2.Response, error)
}

type apnsSender struct {
	client  apnsPusher
	topic   string
	breaker *resilience.CircuitBreaker
}

// NewSenderFromConfig returns an APNs token-auth sender, or a sender that
// skips delivery when no credentials are configured.
func NewSenderFromConfig(ctx context.Context, cfg *config.GatewayConfig) (Sender, error) {
	if !cfg.APNSConfigured() {
		util.Log(ctx).Warn("APNs credentials not configured, offline pushes will be skipped")
		return NoopSender{}, nil
	}

	authKey, err := token.AuthKeyFromFile(cfg.APNSKeyPath)
	if err != nil {
		return nil, fmt.Errorf("load apns auth key: %w", err)
	}

	client := apns2.NewTokenClient(&token.Token{
		AuthKey: authKey,
		KeyID:   cfg.APNSKeyID,
		TeamID:  cfg.APNSTeamID,
	})
	if cfg.APNSUseSandbox {
		client = client.Development()
	} else {
		client = client.Production()
	}

	breaker := resilience.NewCircuitBreaker(resilience.Settings{
		Name:         "apns",
		MaxFailures:  int64(cfg.MaxDeliveryRetries) + 1,
		ResetTimeout: resilience.DefaultSettings("apns").ResetTimeout,
		IsFailure: func(err error) bool {
			return errors.Is(err, ErrPushUnavailable)
		},
		OnStateChange: func(name string, from, to resilience.State) {
			util.Log(ctx).WithFields(map[string]any{
				"breaker": name,
				"from":    from.String(),
				"to":      to.String(),
			}).Warn("Push circuit breaker changed state")
		},
	})

	return newAPNSSender(client, cfg.APNSBundleID, breaker), nil
}

func newAPNSSender(client apnsPusher, topic string, breaker *resilience.CircuitBreaker) *apnsSender {
	if breaker == nil {
		breaker = resilience.NewCircuitBreaker(resilience.DefaultSettings("apns"))
	}
	return &apnsSender{client: client, topic: topic, breaker: breaker}
}

func (s *apnsSender) Send(ctx context.Context, deviceToken string, msg Message) (*Result, error) {
	notification := &apns2.Notification{
		DeviceToken: deviceToken,
		Topic:       s.topic,
		Priority:    apns2.PriorityHigh,
		Payload:     buildPayload(msg),
	}

	var result *Result
	err := s.breaker.ExecuteContext(ctx, func(ctx context.Context) error {
		resp, err := s.client.PushWithContext(ctx, notification)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrPushUnavailable, err)
		}

		result = &Result{ID: resp.ApnsID, Reason: resp.Reason}
		switch {
		case resp.Sent():
			return nil
		case isInvalidToken(resp):
			result.TokenInvalid = true
			return nil
		case resp.StatusCode >= http.StatusInternalServerError,
			resp.StatusCode == http.StatusTooManyRequests:
			return fmt.Errorf("%w: %d %s", ErrPushUnavailable, resp.StatusCode, resp.Reason)
		default:
			return fmt.Errorf("%w: %d %s", ErrPushRejected, resp.StatusCode, resp.Reason)
		}
	})
	if err != nil {
		if errors.Is(err, resilience.ErrCircuitOpen) {
			err = fmt.Errorf("%w: %w", ErrPushUnavailable, err)
		}
		return result, err
	}
	return result, nil
}

func buildPayload(msg Message) *payload.Payload {
	p := payload.NewPayload().
		AlertTitle(msg.Title).
		AlertBody(msg.Body).
		Sound("default")
	if msg.Kind != "" {
		p = p.Custom("type", msg.Kind)
	}
	return p
}

func isInvalidToken(resp *apns2.Response) bool {
	switch resp.Reason {
	case apns2.ReasonBadDeviceToken, apns2.ReasonUnregistered, apns2.ReasonDeviceTokenNotForTopic:
		return true
	}
	return resp.StatusCode == http.StatusGone
}

// NoopSender drops every push. Used when APNs is not configured.
type NoopSender struct{}

func (NoopSender) Send(ctx context.Context, deviceToken string, _ Message) (*Result, error) {
	util.Log(ctx).WithField("device_token_suffix", tokenSuffix(deviceToken)).
		Debug("Skipping push, APNs not configured")
	return &Result{}, nil
}

func tokenSuffix(deviceToken string) string {
	const keep = 6
	if len(deviceToken) <= keep {
		return deviceToken
	}
	return deviceToken[len(deviceToken)-keep:]
}
