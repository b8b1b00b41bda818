// Package otel provides OpenTelemetry metrics and tracing providers. Importing
// it registers them under the names "otel" and "otlp".
package otel

import (
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.37.0"

	"github.com/stiffinWanjohi/courier/internal/observability"
)

// newResource merges courier attributes into the SDK defaults. The semconv
// version must match the one the SDK builds resource.Default with.
func newResource(cfg observability.MetricsConfig) (*resource.Resource, error) {
	return resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion(cfg.ServiceVersion),
			semconv.DeploymentEnvironmentName(cfg.Environment),
			attribute.String("courier.component", "dispatcher"),
		),
	)
}
