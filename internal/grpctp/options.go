package grpctp

import (
	"time"

	"google.golang.org/grpc"
)

// Options configures the gRPC transport behavior.
//
// Defaults:
// - MaxConnsPerEndpoint: 1
// - RPCTimeout:          4s (used only if the call context has no deadline)
// - WaitForReady:        true
// - DialOptions:         insecure credentials, default connect backoff
//
// DialOptions given with WithDialOptions are applied after the defaults, so
// they can override credentials or connect parameters.
type Options struct {
	Provider EndpointProvider

	MaxConnsPerEndpoint int
	RPCTimeout          time.Duration
	WaitForReady        bool

	DialOptions []grpc.DialOption
}

// Option mutates Options
type Option func(*Options)

func defaultOptions() *Options {
	return &Options{
		MaxConnsPerEndpoint: 1,
		RPCTimeout:          4 * time.Second,
		WaitForReady:        true,
	}
}

// WithProvider sets the EndpointProvider used to resolve services.
func WithProvider(p EndpointProvider) Option { return func(o *Options) { o.Provider = p } }

// WithMaxConnsPerEndpoint bounds the connections opened to one endpoint.
func WithMaxConnsPerEndpoint(n int) Option { return func(o *Options) { o.MaxConnsPerEndpoint = n } }

// WithRPCTimeout sets the deadline of unary calls whose context has none.
func WithRPCTimeout(d time.Duration) Option { return func(o *Options) { o.RPCTimeout = d } }

// WithWaitForReady sets the wait-for-ready policy of every call.
func WithWaitForReady(v bool) Option { return func(o *Options) { o.WaitForReady = v } }

// WithDialOptions appends dial options after the defaults.
func WithDialOptions(opts ...grpc.DialOption) Option {
	return func(o *Options) { o.DialOptions = append(o.DialOptions, opts...) }
}
