package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"github.com/vyrodovalexey/keyrelay/internal/circuitbreaker"
	"github.com/vyrodovalexey/keyrelay/internal/config"
	"github.com/vyrodovalexey/keyrelay/internal/eventlog"
	"github.com/vyrodovalexey/keyrelay/internal/health"
	"github.com/vyrodovalexey/keyrelay/internal/keystore"
	"github.com/vyrodovalexey/keyrelay/internal/observability"
	ratelimitstore "github.com/vyrodovalexey/keyrelay/internal/ratelimit/store"
	"github.com/vyrodovalexey/keyrelay/internal/redisclient"
)

// Runtime is the set of process-wide handles built at startup.
type Runtime struct {
	Service    string
	Version    string
	Config     *config.Config
	ConfigPath string

	Logger  observability.Logger
	Metrics *observability.Metrics
	Tracer  *observability.Tracer
	Redis   *redis.Client
	Health  *health.Handler

	metricsServer *http.Server
	metricsAddr   string
	watcher       *config.Watcher

	mu      sync.Mutex
	closers []closer
}

type closer struct {
	name string
	fn   func(ctx context.Context) error
}

// Setup loads configuration, applies flags and builds the shared
// handles. It connects to Redis, retrying with backoff.
func Setup(ctx context.Context, service, version string, flags Flags) (*Runtime, error) {
	cfg, path, err := loadConfig(flags.ConfigPath)
	if err != nil {
		return nil, err
	}
	flags.Apply(cfg)
	if err := config.Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	logger, err := observability.NewLogger(observability.LogConfig{
		Level:  cfg.Observability.Logging.Level,
		Format: cfg.Observability.Logging.Format,
		Output: cfg.Observability.Logging.Output,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	logger = logger.With(observability.String("service", service))

	logger.Info("starting "+service,
		observability.String("version", version),
		observability.String("config", path),
	)

	rt := &Runtime{
		Service:    service,
		Version:    version,
		Config:     cfg,
		ConfigPath: path,
		Logger:     logger,
	}

	serviceName := cfg.Observability.Tracing.ServiceName
	if serviceName == "" {
		serviceName = service
	}
	host, _ := os.Hostname()
	rt.Tracer, err = observability.NewTracer(observability.TracerConfig{
		ServiceName:    serviceName,
		ServiceVersion: version,
		OTLPEndpoint:   cfg.Observability.Tracing.OTLPEndpoint,
		SamplingRate:   cfg.Observability.Tracing.SamplingRate,
		Enabled:        cfg.Observability.Tracing.Enabled,
		InstanceID:     host,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize tracer: %w", err)
	}

	rt.Metrics = observability.NewMetrics(observability.DefaultNamespace)
	rt.Metrics.SetBuildInfo(service, version)
	rt.Metrics.MustRegister(keystore.Collectors()...)
	rt.Metrics.MustRegister(eventlog.Collectors()...)
	rt.Metrics.MustRegister(ratelimitstore.Collectors()...)
	rt.Metrics.MustRegister(circuitbreaker.Collectors()...)

	rt.Redis, err = redisclient.Connect(ctx, RedisClientConfig(cfg.Redis), logger)
	if err != nil {
		_ = rt.Tracer.Shutdown(ctx)
		return nil, err
	}

	healthMetrics := health.NewMetrics(observability.DefaultNamespace)
	rt.Metrics.MustRegister(healthMetrics.Collectors()...)
	rt.Health = health.NewHandler(
		health.WithVersion(version),
		health.WithLogger(logger),
		health.WithMetrics(healthMetrics),
	)
	rt.Health.AddCheck(health.NewCheck("redis", redisclient.Ping(rt.Redis)))

	return rt, nil
}

// loadConfig reads the configuration file. A missing file at the default
// path yields the built-in defaults; any other missing path is an error.
func loadConfig(path string) (*config.Config, string, error) {
	resolved, err := config.ResolveConfigPath(path)
	if err != nil {
		if path == DefaultConfigPath {
			return config.DefaultConfig(), "", nil
		}
		return nil, "", err
	}

	cfg, err := config.Load(resolved)
	if err != nil {
		return nil, "", err
	}
	return cfg, resolved, nil
}

// RedisClientConfig converts the configuration section to client settings.
func RedisClientConfig(c config.RedisConfig) *redisclient.Config {
	out := redisclient.DefaultConfig()
	out.Address = c.Address
	out.Password = c.Password
	out.DB = c.DB
	if c.PoolSize > 0 {
		out.PoolSize = c.PoolSize
	}
	if c.MinIdleConns > 0 {
		out.MinIdleConns = c.MinIdleConns
	}
	if c.MaxRetries != 0 {
		out.MaxRetries = c.MaxRetries
	}
	if d := c.DialTimeout.Duration(); d > 0 {
		out.DialTimeout = d
	}
	if d := c.ReadTimeout.Duration(); d > 0 {
		out.ReadTimeout = d
	}
	if d := c.WriteTimeout.Duration(); d > 0 {
		out.WriteTimeout = d
	}
	out.ConnectRetries = c.ConnectRetries
	if d := c.ConnectBackoff.Duration(); d > 0 {
		out.InitialBackoff = d
	}
	return out
}

// OnShutdown registers fn to run during Shutdown. Hooks run in reverse
// registration order before shared handles are closed.
func (rt *Runtime) OnShutdown(name string, fn func(ctx context.Context) error) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	rt.closers = append(rt.closers, closer{name: name, fn: fn})
}

// StartMetricsServer serves /metrics and the health probes when metrics
// are enabled.
func (rt *Runtime) StartMetricsServer(ctx context.Context) error {
	mc := rt.Config.Observability.Metrics
	if !mc.Enabled {
		return nil
	}

	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.GET(mc.Path, gin.WrapH(rt.Metrics.Handler()))
	rt.Health.RegisterRoutes(engine)

	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", mc.Address)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", mc.Address, err)
	}

	rt.metricsServer = &http.Server{
		Handler:           engine,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      10 * time.Second,
	}

	rt.metricsAddr = ln.Addr().String()

	rt.Logger.Info("starting metrics server",
		observability.String("address", rt.metricsAddr),
		observability.String("metrics_path", mc.Path),
	)

	go func() {
		if err := rt.metricsServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			rt.Logger.Error("metrics server error", observability.Error(err))
		}
	}()
	return nil
}

// MetricsAddr returns the metrics listener's bound address, or "" when
// the listener is not running.
func (rt *Runtime) MetricsAddr() string {
	return rt.metricsAddr
}

// WatchConfig reloads the configuration file on change, applies the new
// log level and passes the new configuration to onReload. Other settings
// take effect on restart.
func (rt *Runtime) WatchConfig(ctx context.Context, onReload func(*config.Config)) {
	if rt.ConfigPath == "" {
		return
	}

	watcher, err := config.NewWatcher(rt.ConfigPath, func(cfg *config.Config) {
		if setter, ok := rt.Logger.(observability.LevelSetter); ok {
			if err := setter.SetLevel(cfg.Observability.Logging.Level); err != nil {
				rt.Logger.Warn("failed to apply log level", observability.Error(err))
			}
		}
		if onReload != nil {
			onReload(cfg)
		}
	}, config.WithLogger(rt.Logger))
	if err != nil {
		rt.Logger.Warn("failed to create config watcher", observability.Error(err))
		return
	}

	if err := watcher.Start(ctx); err != nil {
		rt.Logger.Warn("failed to start config watcher", observability.Error(err))
		_ = watcher.Stop()
		return
	}
	rt.watcher = watcher
}

// Shutdown runs the registered hooks, then stops the metrics server,
// tracer and Redis client.
func (rt *Runtime) Shutdown(ctx context.Context) {
	if rt.watcher != nil {
		_ = rt.watcher.Stop()
	}

	rt.mu.Lock()
	closers := rt.closers
	rt.closers = nil
	rt.mu.Unlock()

	for i := len(closers) - 1; i >= 0; i-- {
		c := closers[i]
		if err := c.fn(ctx); err != nil {
			rt.Logger.Error("shutdown step failed",
				observability.String("step", c.name),
				observability.Error(err),
			)
		}
	}

	if rt.metricsServer != nil {
		rt.Logger.Info("stopping metrics server")
		if err := rt.metricsServer.Shutdown(ctx); err != nil {
			rt.Logger.Error("failed to stop metrics server gracefully", observability.Error(err))
		}
	}

	if err := rt.Tracer.Shutdown(ctx); err != nil {
		rt.Logger.Error("failed to shutdown tracer", observability.Error(err))
	}

	if err := rt.Redis.Close(); err != nil {
		rt.Logger.Error("failed to close redis client", observability.Error(err))
	}

	rt.Logger.Info(rt.Service + " stopped")
	_ = rt.Logger.Sync()
}

// ShutdownTimeout returns the configured drain budget.
func (rt *Runtime) ShutdownTimeout() time.Duration {
	return rt.Config.HTTP.ShutdownTimeout.Duration()
}

// SignalContext returns a context cancelled on SIGINT or SIGTERM.
func SignalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}
