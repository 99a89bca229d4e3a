package main

import (
	"context"
	"fmt"

	"github.com/gin-gonic/gin"

	"github.com/vyrodovalexey/keyrelay/internal/bootstrap"
	"github.com/vyrodovalexey/keyrelay/internal/config"
	"github.com/vyrodovalexey/keyrelay/internal/eventlog"
	"github.com/vyrodovalexey/keyrelay/internal/guard"
	"github.com/vyrodovalexey/keyrelay/internal/health"
	"github.com/vyrodovalexey/keyrelay/internal/keystore"
	"github.com/vyrodovalexey/keyrelay/internal/observability"
	"github.com/vyrodovalexey/keyrelay/internal/projector"
	"github.com/vyrodovalexey/keyrelay/internal/ratelimit"
	ratelimitstore "github.com/vyrodovalexey/keyrelay/internal/ratelimit/store"
	"github.com/vyrodovalexey/keyrelay/internal/server"
	"github.com/vyrodovalexey/keyrelay/internal/tokeninfo"
)

// livenessPolls is how many block timeouts the projector may go without
// polling before its health check fails.
const livenessPolls = 3

// application holds the keyguard components.
type application struct {
	rt        *bootstrap.Runtime
	replica   *keystore.RedisStore
	projector *projector.Projector
	guard     *guard.Guard
	engine    *gin.Engine
	server    *server.Server
}

// initApplication builds the projector feeding the replica store and the
// guarded token API reading from it.
func initApplication(rt *bootstrap.Runtime) (*application, error) {
	cfg := rt.Config
	logger := rt.Logger

	consumerName, err := config.ResolveConsumerName(cfg.Consumer.Name)
	if err != nil {
		return nil, err
	}

	app := &application{
		rt:      rt,
		replica: keystore.NewRedisStore(rt.Redis, cfg.Replica.Prefix),
	}

	stream := eventlog.NewRedisStream(rt.Redis, eventlog.StreamConfig{
		Stream:       cfg.Events.Stream,
		Group:        cfg.Consumer.Group,
		Consumer:     consumerName,
		BatchSize:    cfg.Consumer.BatchSize,
		BlockTimeout: cfg.Consumer.BlockTimeout.Duration(),
	})

	projMetrics := projector.NewMetrics(observability.DefaultNamespace)
	rt.Metrics.MustRegister(projMetrics.Collectors()...)
	app.projector = projector.New(stream, app.replica,
		projector.WithLogger(logger),
		projector.WithMetrics(projMetrics),
		projector.WithClaimMinIdle(cfg.Consumer.ClaimMinIdle.Duration()),
		projector.WithErrorBackoff(cfg.Consumer.ErrorBackoff.Duration()),
	)
	rt.Health.AddCheck(health.NewCheck("projector",
		app.projector.LivenessCheck(livenessPolls*cfg.Consumer.BlockTimeout.Duration())))

	rlMetrics := ratelimit.NewMetrics(observability.DefaultNamespace)
	rt.Metrics.MustRegister(rlMetrics.Collectors()...)
	limiter := ratelimit.NewFixedWindowLimiter(
		ratelimitstore.NewRedisStore(rt.Redis, cfg.RateLimit.Prefix),
		ratelimit.WithWindow(cfg.RateLimit.Window.Duration()),
		ratelimit.WithLogger(logger),
		ratelimit.WithMetrics(rlMetrics),
	)

	guardMetrics := guard.NewMetrics(observability.DefaultNamespace)
	rt.Metrics.MustRegister(guardMetrics.Collectors()...)
	app.guard = guard.New(app.replica, limiter,
		guard.WithLogger(logger),
		guard.WithMetrics(guardMetrics),
	)

	tokens := tokeninfo.NewService(tokeninfo.DefaultFactory(cfg.TokenInfo.URLs),
		tokeninfo.WithCacheTTL(cfg.TokenInfo.CacheTTL.Duration()),
		tokeninfo.WithLogger(logger),
	)

	app.engine = server.NewEngine(logger, rt.Metrics)
	server.GuardRoutes{
		Guard: app.guard.Middleware(),
		Token: server.NewTokenHandler(tokens, logger),
	}.Register(app.engine)

	app.server = server.New(server.Config{
		Address:      cfg.HTTP.Address,
		ReadTimeout:  cfg.HTTP.ReadTimeout.Duration(),
		WriteTimeout: cfg.HTTP.WriteTimeout.Duration(),
		IdleTimeout:  cfg.HTTP.IdleTimeout.Duration(),
	}, app.engine, logger)

	return app, nil
}

// start runs the projector in the background and begins serving. The
// projector stops after the HTTP server on shutdown.
func (a *application) start(ctx context.Context) error {
	projCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := a.projector.Run(projCtx); err != nil {
			a.rt.Logger.Error("projector exited", observability.Error(err))
		}
	}()
	a.rt.OnShutdown("projector", func(ctx context.Context) error {
		cancel()
		select {
		case <-done:
			return nil
		case <-ctx.Done():
			return fmt.Errorf("projector did not stop: %w", ctx.Err())
		}
	})

	if err := a.server.Start(ctx); err != nil {
		return err
	}
	a.rt.OnShutdown("http server", a.server.Stop)

	return a.rt.StartMetricsServer(ctx)
}
