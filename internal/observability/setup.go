package observability

import (
	"context"

	"github.com/openlms/auth-service/internal/infrastructure/observability"
)

// Setup wires logging, metrics and tracing in one call. The returned
// function flushes the tracer on shutdown.
func Setup(serviceName string) func(context.Context) error {
	observability.InitLogger()
	observability.InitMetrics()
	return observability.InitTracing(serviceName)
}
