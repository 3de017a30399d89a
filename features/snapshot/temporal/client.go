package temporal

import (
	"fmt"

	"go.temporal.io/sdk/client"
	temporalotel "go.temporal.io/sdk/contrib/opentelemetry"
	"google.golang.org/grpc"
)

// ClientOptions configures Dial.
type ClientOptions struct {
	// HostPort is the frontend address, e.g. "localhost:7233".
	HostPort string
	// Namespace is the namespace the client defaults to. Listing always
	// uses the namespace of the filter set.
	Namespace string
	// DisableTracing turns off the OpenTelemetry tracing interceptor.
	DisableTracing bool
	// DisableMetrics turns off the OpenTelemetry metrics handler.
	DisableMetrics bool
	// DialOptions are appended to the gRPC options of the frontend
	// connection.
	DialOptions []grpc.DialOption
}

// Dial returns a lazily connected Temporal client instrumented with
// OpenTelemetry tracing and metrics. Callers own the client and must Close
// it.
func Dial(opts ClientOptions) (client.Client, error) {
	copts := client.Options{
		HostPort:          opts.HostPort,
		Namespace:         opts.Namespace,
		ConnectionOptions: client.ConnectionOptions{DialOptions: opts.DialOptions},
	}
	if !opts.DisableTracing {
		tracer, err := temporalotel.NewTracingInterceptor(temporalotel.TracerOptions{})
		if err != nil {
			return nil, fmt.Errorf("temporal: configure tracing interceptor: %w", err)
		}
		copts.Interceptors = append(copts.Interceptors, tracer)
	}
	if !opts.DisableMetrics {
		copts.MetricsHandler = temporalotel.NewMetricsHandler(temporalotel.MetricsHandlerOptions{})
	}
	c, err := client.NewLazyClient(copts)
	if err != nil {
		return nil, fmt.Errorf("temporal: create client: %w", err)
	}
	return c, nil
}
