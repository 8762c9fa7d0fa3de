package telemetry

import (
	"github.com/pitabwire/frame/telemetry"
)

// Tracers for the gateway components.
//
//nolint:gochecknoglobals // OpenTelemetry tracers must be global for instrumentation
var (
	ConnectionTracer = telemetry.NewTracer("gateway.connection")
	RouterTracer     = telemetry.NewTracer("gateway.router")
	PushTracer       = telemetry.NewTracer("gateway.push")
	GenieTracer      = telemetry.NewTracer("gateway.genie")
)
