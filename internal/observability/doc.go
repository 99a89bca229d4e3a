// Package observability provides logging, metrics, and tracing
// for the keyrelay services.
//
// # Logging
//
// The Logger interface wraps zap. Loggers are passed to components
// through constructor options; there is no package-level logger.
//
//	logger, err := observability.NewLogger(observability.DefaultLogConfig())
//	if err != nil {
//	    return err
//	}
//	defer func() { _ = logger.Sync() }()
//
//	logger.Info("key created", observability.Key(rec.Key))
//
// Access keys are logged through Key or MaskKey, never verbatim.
//
// # Metrics
//
// Metrics owns the registry behind /metrics. Component packages build
// their own collectors and register them with MustRegister.
//
// # Tracing
//
// NewTracer installs an OTLP-exporting provider globally; components
// create spans from otel.Tracer.
package observability
