// Package events defines the instrumentation events published on the
// eventbus by the gRPC transport.
package events

import (
	"time"

	"google.golang.org/grpc/codes"
)

// GRPCClientStart is emitted before a gRPC client call.
type GRPCClientStart struct {
	Service string
	Method  string
	Target  string
	// Streaming is set for calls opened with NewStream.
	Streaming bool
}

// GRPCClientFinish is emitted after a gRPC client call completes.
type GRPCClientFinish struct {
	Service   string
	Method    string
	Target    string
	Streaming bool
	Code      codes.Code
	Err       error
	Duration  time.Duration
}
