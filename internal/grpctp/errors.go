package grpctp

import "errors"

var (
	// ErrNoEndpoints indicates the provider returned no endpoints for a service.
	ErrNoEndpoints = errors.New("grpctp: no endpoints available")
	// ErrClosed is returned for calls made after Close.
	ErrClosed = errors.New("grpctp: closed")
	// ErrNoProvider is returned when the transport has no EndpointProvider.
	ErrNoProvider = errors.New("grpctp: provider not configured")
)
