package main

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/vyrodovalexey/keyrelay/internal/bootstrap"
	"github.com/vyrodovalexey/keyrelay/internal/circuitbreaker"
	"github.com/vyrodovalexey/keyrelay/internal/config"
	"github.com/vyrodovalexey/keyrelay/internal/coordinator"
	"github.com/vyrodovalexey/keyrelay/internal/eventlog"
	"github.com/vyrodovalexey/keyrelay/internal/keystore"
	"github.com/vyrodovalexey/keyrelay/internal/observability"
	"github.com/vyrodovalexey/keyrelay/internal/retry"
	"github.com/vyrodovalexey/keyrelay/internal/server"
)

// clientLimiterCleanup is how often idle admin clients are evicted.
const clientLimiterCleanup = time.Minute

// application holds the keyadmin components.
type application struct {
	rt          *bootstrap.Runtime
	coordinator *coordinator.Coordinator
	limiter     *server.ClientLimiter
	engine      *gin.Engine
	server      *server.Server
}

// initApplication builds the coordinator over the authoritative store and
// the guarded event publisher, and mounts the admin API.
func initApplication(rt *bootstrap.Runtime) *application {
	cfg := rt.Config
	logger := rt.Logger

	authoritative := keystore.NewRedisStore(rt.Redis, cfg.Authoritative.Prefix)
	stream := eventlog.NewRedisStream(rt.Redis, eventlog.StreamConfig{
		Stream: cfg.Events.Stream,
		MaxLen: cfg.Events.MaxLen,
	})

	coordMetrics := coordinator.NewMetrics(observability.DefaultNamespace)
	rt.Metrics.MustRegister(coordMetrics.Collectors()...)

	coord := coordinator.New(authoritative, newPublisher(stream, cfg.Events, logger),
		coordinator.WithLogger(logger),
		coordinator.WithMetrics(coordMetrics),
	)

	app := &application{rt: rt, coordinator: coord}

	if rl := cfg.Admin.RateLimit; rl.Enabled {
		app.limiter = server.NewClientLimiter(rl.RequestsPerSecond, rl.Burst,
			server.WithClientLimiterLogger(logger),
		)
	}

	app.engine = server.NewEngine(logger, rt.Metrics)
	server.AdminRoutes{
		Keys:       server.NewKeyHandler(coord, logger),
		AdminToken: cfg.Admin.Token,
		Limiter:    app.limiter,
	}.Register(app.engine)

	app.server = server.New(server.Config{
		Address:      cfg.HTTP.Address,
		ReadTimeout:  cfg.HTTP.ReadTimeout.Duration(),
		WriteTimeout: cfg.HTTP.WriteTimeout.Duration(),
		IdleTimeout:  cfg.HTTP.IdleTimeout.Duration(),
	}, app.engine, logger)

	return app
}

// newPublisher wraps the stream with retries and, when enabled, a
// circuit breaker.
func newPublisher(stream eventlog.Publisher, cfg config.EventsConfig, logger observability.Logger) eventlog.Publisher {
	opts := []eventlog.GuardedOption{
		eventlog.WithRetryPolicy(retry.Policy{
			Retries:        cfg.PublishRetries,
			InitialBackoff: cfg.RetryBackoff.Duration(),
			JitterFactor:   retry.DefaultJitterFactor,
		}),
		eventlog.WithPublisherLogger(logger),
	}

	if cb := cfg.CircuitBreaker; cb.Enabled {
		opts = append(opts, eventlog.WithBreaker(circuitbreaker.New("event-publish", circuitbreaker.Config{
			Threshold:    cb.Threshold,
			FailureRatio: cb.FailureRatio,
			Timeout:      cb.Timeout.Duration(),
		}, circuitbreaker.WithLogger(logger))))
	}

	return eventlog.NewGuardedPublisher(stream, opts...)
}

// start begins serving and registers the matching shutdown steps.
func (a *application) start(ctx context.Context) error {
	if a.limiter != nil {
		a.limiter.StartCleanup(clientLimiterCleanup)
		a.rt.OnShutdown("admin rate limiter", func(context.Context) error {
			a.limiter.Stop()
			return nil
		})
	}

	if err := a.server.Start(ctx); err != nil {
		return err
	}
	a.rt.OnShutdown("http server", a.server.Stop)

	return a.rt.StartMetricsServer(ctx)
}
