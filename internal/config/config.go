// Package config resolves the client configuration once at startup from
// command line flags, PRODUCTS_* environment variables, optional .env files
// and built-in defaults, in that order of precedence.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/op/go-logging"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment variable read by Load, e.g.
// PRODUCTS_ENDPOINT or PRODUCTS_WAIT_FOR_READY.
const EnvPrefix = "products"

// Keys shared by flags, environment variables and viper lookups.
const (
	KeyEndpoint     = "endpoint"
	KeyVendor       = "vendor"
	KeyTimeout      = "timeout"
	KeyWaitForReady = "wait-for-ready"
	KeyClientName   = "client-name"
	KeyLogLevel     = "log-level"
	KeyOTelEndpoint = "otel-endpoint"
	KeyOTelService  = "otel-service"
	KeyMetrics      = "metrics"
)

// DefaultEnvFiles are read, when present, before the environment is
// consulted. Variables already set in the environment win.
var DefaultEnvFiles = []string{".env", ".env.local"}

// Config holds every setting of the products client.
type Config struct {
	// Endpoint is the host:port of the ProductService.
	Endpoint string
	// Vendor is sent in GetVendorProductTypes requests.
	Vendor string
	// Timeout is the absolute deadline of one call, measured from its start.
	Timeout time.Duration
	// WaitForReady keeps retrying the connection until Timeout instead of
	// failing as soon as the endpoint is unreachable.
	WaitForReady bool
	// ClientName prefixes the result line.
	ClientName string
	// LogLevel is one of critical, error, warning, notice, info, debug.
	LogLevel string

	// OTelEndpoint enables OTLP trace export when non-empty.
	OTelEndpoint string
	OTelService  string

	// Metrics dumps call metrics in Prometheus text format on exit.
	Metrics bool
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Endpoint:     "localhost:8080",
		Vendor:       "google",
		Timeout:      4 * time.Second,
		WaitForReady: true,
		ClientName:   "Go",
		LogLevel:     "info",
		OTelService:  "products-client",
	}
}

// BindFlags registers one flag per config key on fs, using the defaults as
// flag defaults.
func BindFlags(fs *pflag.FlagSet) {
	d := Default()
	fs.String(KeyEndpoint, d.Endpoint, "host:port of the ProductService")
	fs.String(KeyVendor, d.Vendor, "vendor to query")
	fs.Duration(KeyTimeout, d.Timeout, "deadline of a call, e.g. 4s")
	fs.Bool(KeyWaitForReady, d.WaitForReady, "wait for the endpoint to become ready instead of failing fast")
	fs.String(KeyClientName, d.ClientName, "name printed in front of the result")
	fs.String(KeyLogLevel, d.LogLevel, "log level (critical, error, warning, notice, info, debug)")
	fs.String(KeyOTelEndpoint, d.OTelEndpoint, "OTLP/gRPC collector endpoint; empty disables tracing")
	fs.String(KeyOTelService, d.OTelService, "service name reported to the collector")
	fs.Bool(KeyMetrics, d.Metrics, "print call metrics in Prometheus format to stderr on exit")
}

// Load resolves the configuration. Missing env files are ignored; a nil fs
// skips flags entirely.
func Load(fs *pflag.FlagSet, envFiles ...string) (Config, error) {
	for _, f := range envFiles {
		_ = godotenv.Load(f)
	}

	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	d := Default()
	v.SetDefault(KeyEndpoint, d.Endpoint)
	v.SetDefault(KeyVendor, d.Vendor)
	v.SetDefault(KeyTimeout, d.Timeout)
	v.SetDefault(KeyWaitForReady, d.WaitForReady)
	v.SetDefault(KeyClientName, d.ClientName)
	v.SetDefault(KeyLogLevel, d.LogLevel)
	v.SetDefault(KeyOTelEndpoint, d.OTelEndpoint)
	v.SetDefault(KeyOTelService, d.OTelService)
	v.SetDefault(KeyMetrics, d.Metrics)

	if fs != nil {
		if err := v.BindPFlags(fs); err != nil {
			return Config{}, fmt.Errorf("config: bind flags: %w", err)
		}
	}

	c := Config{
		Endpoint:     strings.TrimSpace(v.GetString(KeyEndpoint)),
		Vendor:       strings.TrimSpace(v.GetString(KeyVendor)),
		Timeout:      v.GetDuration(KeyTimeout),
		WaitForReady: v.GetBool(KeyWaitForReady),
		ClientName:   v.GetString(KeyClientName),
		LogLevel:     strings.ToLower(v.GetString(KeyLogLevel)),
		OTelEndpoint: v.GetString(KeyOTelEndpoint),
		OTelService:  v.GetString(KeyOTelService),
		Metrics:      v.GetBool(KeyMetrics),
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// Validate reports every invalid setting at once.
func (c Config) Validate() error {
	var errs []error
	if c.Endpoint == "" {
		errs = append(errs, errors.New("endpoint must not be empty"))
	}
	if c.Vendor == "" {
		errs = append(errs, errors.New("vendor must not be empty"))
	}
	if c.Timeout <= 0 {
		errs = append(errs, fmt.Errorf("timeout must be positive, got %s", c.Timeout))
	}
	if c.ClientName == "" {
		errs = append(errs, errors.New("client name must not be empty"))
	}
	if _, err := logging.LogLevel(c.LogLevel); err != nil {
		errs = append(errs, fmt.Errorf("invalid log level %q", c.LogLevel))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}
