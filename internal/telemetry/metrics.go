// Package telemetry provides OpenTelemetry metrics and tracing for the realtime gateway.
package telemetry

import "github.com/pitabwire/frame/telemetry"

// Connection lifecycle metrics.
//
//nolint:gochecknoglobals // OpenTelemetry metrics must be global for instrumentation
var (
	ConnectionsActive = telemetry.DimensionlessMeasure(
		"",
		"gateway.connections.active",
		"Current number of registered connections",
	)

	ConnectionsTotal = telemetry.DimensionlessMeasure(
		"",
		"gateway.connections.total",
		"Total connection attempts",
	)

	ConnectionsFailed = telemetry.DimensionlessMeasure(
		"",
		"gateway.connections.failed",
		"Connection attempts rejected before registration",
	)

	ConnectionsReplaced = telemetry.DimensionlessMeasure(
		"",
		"gateway.connections.replaced",
		"Connections superseded by a newer connection for the same user",
	)

	ConnectionsDisconnected = telemetry.DimensionlessMeasure(
		"",
		"gateway.connections.disconnected",
		"Total disconnections",
	)

	HeartbeatFailures = telemetry.DimensionlessMeasure(
		"",
		"gateway.heartbeat.failures",
		"Connections torn down by the heartbeat supervisor",
	)
)

// Message routing and delivery metrics.
//
//nolint:gochecknoglobals // OpenTelemetry metrics must be global for instrumentation
var (
	MessagesRouted = telemetry.DimensionlessMeasure(
		"",
		"gateway.messages.routed",
		"Inbound frames dispatched to a handler",
	)

	MessagesDropped = telemetry.DimensionlessMeasure(
		"",
		"gateway.messages.dropped",
		"Inbound frames dropped as unknown, malformed or rejected",
	)

	MessagesDelivered = telemetry.DimensionlessMeasure(
		"",
		"gateway.messages.delivered",
		"Frames written to a live connection",
	)

	MessagesSendFailed = telemetry.DimensionlessMeasure(
		"",
		"gateway.messages.send_failed",
		"Frame writes that failed and closed the connection",
	)

	OfflinePushQueued = telemetry.DimensionlessMeasure(
		"",
		"gateway.offline_push.queued",
		"Offline push notifications queued for users without a connection",
	)
)

// Offline push pipeline metrics.
//
//nolint:gochecknoglobals // OpenTelemetry metrics must be global for instrumentation
var (
	NotificationsSent = telemetry.DimensionlessMeasure(
		"",
		"gateway.notifications.sent",
		"Push notifications accepted by APNs",
	)

	NotificationsFailed = telemetry.DimensionlessMeasure(
		"",
		"gateway.notifications.failed",
		"Push notification attempts that failed",
	)

	NotificationsRetried = telemetry.DimensionlessMeasure(
		"",
		"gateway.notifications.retried",
		"Offline pushes republished for another attempt",
	)

	NotificationsDeadLettered = telemetry.DimensionlessMeasure(
		"",
		"gateway.notifications.dead_lettered",
		"Offline pushes moved to the dead letter queue",
	)
)

// Assistant metrics.
//
//nolint:gochecknoglobals // OpenTelemetry metrics must be global for instrumentation
var (
	GenieRequests = telemetry.DimensionlessMeasure(
		"",
		"gateway.genie.requests",
		"Genie assistant summons",
	)

	GenieFailures = telemetry.DimensionlessMeasure(
		"",
		"gateway.genie.failures",
		"Genie assistant summons that ended in an error frame",
	)

	GenieLatency = telemetry.LatencyMeasure(
		"gateway.genie",
	)
)
