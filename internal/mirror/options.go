package mirror

import "go.opentelemetry.io/otel/trace"

// Option configures a store
type Option func(*options)

type options struct {
	tablePrefix string
	tracer      trace.Tracer
}

// WithTablePrefix prepends prefix to every mirror table name
func WithTablePrefix(prefix string) Option {
	return func(o *options) {
		o.tablePrefix = prefix
	}
}

// WithTracer sets the tracer used for store spans. Tracing is disabled when unset.
func WithTracer(tracer trace.Tracer) Option {
	return func(o *options) {
		o.tracer = tracer
	}
}

func applyOptions(opts []Option) *options {
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}
	return o
}
