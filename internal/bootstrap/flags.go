// Package bootstrap holds the process wiring shared by keyadmin and
// keyguard: flags, configuration, logger, tracer, metrics, Redis, the
// metrics/health listener, config hot reload and graceful shutdown.
package bootstrap

import (
	"flag"
	"os"
	"strings"

	"github.com/vyrodovalexey/keyrelay/internal/config"
)

// Environment variables consulted for flag defaults.
const (
	EnvConfigPath  = "KEYRELAY_CONFIG_PATH"
	EnvEnvFile     = "KEYRELAY_ENV_FILE"
	EnvLogLevel    = "KEYRELAY_LOG_LEVEL"
	EnvLogFormat   = "KEYRELAY_LOG_FORMAT"
	EnvHTTPAddr    = "KEYRELAY_HTTP_ADDR"
	EnvMetricsAddr = "KEYRELAY_METRICS_ADDR"
)

// DefaultConfigPath is used when neither -config nor KEYRELAY_CONFIG_PATH
// is given.
const DefaultConfigPath = "configs/keyrelay.yaml"

// Flags holds command line flags. Empty values leave the configuration
// file's setting in place.
type Flags struct {
	ConfigPath   string
	LogLevel     string
	LogFormat    string
	HTTPAddr     string
	MetricsAddr  string
	ConsumerName string
	ShowVersion  bool
}

// ParseFlags parses args into Flags. It first loads the .env file named
// by KEYRELAY_ENV_FILE (default ".env", skipped if missing) so its
// KEYRELAY_* values can supply flag defaults.
func ParseFlags(fs *flag.FlagSet, args []string) (Flags, error) {
	if err := config.LoadDotEnv(getEnvOrDefault(EnvEnvFile, ".env")); err != nil {
		return Flags{}, err
	}

	var f Flags
	fs.StringVar(&f.ConfigPath, "config", getEnvOrDefault(EnvConfigPath, DefaultConfigPath),
		"Path to configuration file")
	fs.StringVar(&f.LogLevel, "log-level", getEnvOrDefault(EnvLogLevel, ""),
		"Log level (debug, info, warn, error)")
	fs.StringVar(&f.LogFormat, "log-format", getEnvOrDefault(EnvLogFormat, ""),
		"Log format (json, console)")
	fs.StringVar(&f.HTTPAddr, "http-addr", getEnvOrDefault(EnvHTTPAddr, ""),
		"HTTP listen address")
	fs.StringVar(&f.MetricsAddr, "metrics-addr", getEnvOrDefault(EnvMetricsAddr, ""),
		"Metrics and health listen address")
	fs.StringVar(&f.ConsumerName, "consumer-name", getEnvOrDefault(config.EnvConsumerName, ""),
		"Consumer group member name (keyguard)")
	fs.BoolVar(&f.ShowVersion, "version", false, "Show version information")

	if err := fs.Parse(args); err != nil {
		return Flags{}, err
	}
	return f, nil
}

// Apply copies non-empty flag values over cfg.
func (f Flags) Apply(cfg *config.Config) {
	if f.LogLevel != "" {
		cfg.Observability.Logging.Level = strings.ToLower(f.LogLevel)
	}
	if f.LogFormat != "" {
		cfg.Observability.Logging.Format = strings.ToLower(f.LogFormat)
	}
	if f.HTTPAddr != "" {
		cfg.HTTP.Address = f.HTTPAddr
	}
	if f.MetricsAddr != "" {
		cfg.Observability.Metrics.Address = f.MetricsAddr
	}
	if f.ConsumerName != "" {
		cfg.Consumer.Name = f.ConsumerName
	}
}

// getEnvOrDefault returns the environment variable value or a default.
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
