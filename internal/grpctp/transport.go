package grpctp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/backoff"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/types/dynamicpb"

	"github.com/bharat-rajani/grpc-products/internal/eventbus"
	"github.com/bharat-rajani/grpc-products/internal/events"
	plog "github.com/bharat-rajani/grpc-products/internal/logging"
	"github.com/bharat-rajani/grpc-products/internal/reqid"
)

var log = plog.MustGetLogger("grpctp")

// ServiceMetadataKey is the outgoing metadata key naming the called service.
const ServiceMetadataKey = "x-products-service"

// Transport is a gRPC client transport working on runtime descriptors. It
// keeps a bounded set of connections per endpoint, propagates deadlines and
// applies the wait-for-ready policy to every call.
//
// A Transport is safe for concurrent use; concurrent calls on one connection
// are multiplexed by gRPC.
type Transport struct {
	opts        *Options
	dialOptions []grpc.DialOption

	mu     sync.RWMutex
	pools  map[string]*connPool // key: endpoint
	closed atomic.Bool
}

func New(opts ...Option) *Transport {
	o := defaultOptions()
	for _, f := range opts {
		f(o)
	}
	dialOpts := []grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithConnectParams(grpc.ConnectParams{Backoff: backoff.DefaultConfig}),
	}
	dialOpts = append(dialOpts, o.DialOptions...)
	return &Transport{
		opts:        o,
		dialOptions: dialOpts,
		pools:       make(map[string]*connPool),
	}
}

// Call executes a unary method and returns the response as a dynamic message
// of the method's output type.
func (t *Transport) Call(ctx context.Context, method protoreflect.MethodDescriptor, request protoreflect.Message) (resp protoreflect.Message, err error) {
	if method.IsStreamingClient() || method.IsStreamingServer() {
		return nil, fmt.Errorf("grpctp: %s is not a unary method", method.FullName())
	}
	if _, ok := ctx.Deadline(); !ok && t.opts.RPCTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.opts.RPCTimeout)
		defer cancel()
	}

	c, err := t.prepare(ctx, method)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	eventbus.Publish(c.ctx, events.GRPCClientStart{Service: c.service, Method: string(method.Name()), Target: c.endpoint})
	out := dynamicpb.NewMessage(method.Output())
	err = c.cc.Invoke(c.ctx, c.fullMethod, request.Interface(), out, t.callOptions()...)
	eventbus.Publish(c.ctx, events.GRPCClientFinish{
		Service:  c.service,
		Method:   string(method.Name()),
		Target:   c.endpoint,
		Code:     status.Code(err),
		Err:      err,
		Duration: time.Since(start),
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Stream executes a server-streaming method. recv is called for every
// received message, in order; a non-nil error from recv stops the stream and
// is returned unchanged. Stream returns nil when the server ends the stream.
//
// The default RPC timeout is not applied to streams; bound them with the
// context.
func (t *Transport) Stream(ctx context.Context, method protoreflect.MethodDescriptor, request protoreflect.Message, recv func(protoreflect.Message) error) (err error) {
	if method.IsStreamingClient() || !method.IsStreamingServer() {
		return fmt.Errorf("grpctp: %s is not a server-streaming method", method.FullName())
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	c, err := t.prepare(ctx, method)
	if err != nil {
		return err
	}

	start := time.Now()
	eventbus.Publish(c.ctx, events.GRPCClientStart{Service: c.service, Method: string(method.Name()), Target: c.endpoint, Streaming: true})
	defer func() {
		eventbus.Publish(c.ctx, events.GRPCClientFinish{
			Service:   c.service,
			Method:    string(method.Name()),
			Target:    c.endpoint,
			Streaming: true,
			Code:      status.Code(err),
			Err:       err,
			Duration:  time.Since(start),
		})
	}()

	desc := &grpc.StreamDesc{StreamName: string(method.Name()), ServerStreams: true}
	cs, err := c.cc.NewStream(c.ctx, desc, c.fullMethod, t.callOptions()...)
	if err != nil {
		return err
	}
	// io.EOF from SendMsg means the server already ended the stream; the
	// real status surfaces from RecvMsg below.
	if err = cs.SendMsg(request.Interface()); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	if err = cs.CloseSend(); err != nil {
		return err
	}
	for {
		msg := dynamicpb.NewMessage(method.Output())
		if err = cs.RecvMsg(msg); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		if err = recv(msg); err != nil {
			return err
		}
	}
}

// SendStream executes a client-streaming method. Every message yielded by
// requests is sent in order; once requests is exhausted the send side is
// closed and the single response is returned as a dynamic message of the
// method's output type.
//
// Sending stops early when the context is done or the server ends the call;
// the call's status is then returned. As with Stream, the default RPC timeout
// is not applied.
func (t *Transport) SendStream(ctx context.Context, method protoreflect.MethodDescriptor, requests iter.Seq[protoreflect.Message]) (resp protoreflect.Message, err error) {
	if !method.IsStreamingClient() || method.IsStreamingServer() {
		return nil, fmt.Errorf("grpctp: %s is not a client-streaming method", method.FullName())
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	c, err := t.prepare(ctx, method)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	eventbus.Publish(c.ctx, events.GRPCClientStart{Service: c.service, Method: string(method.Name()), Target: c.endpoint, Streaming: true})
	defer func() {
		eventbus.Publish(c.ctx, events.GRPCClientFinish{
			Service:   c.service,
			Method:    string(method.Name()),
			Target:    c.endpoint,
			Streaming: true,
			Code:      status.Code(err),
			Err:       err,
			Duration:  time.Since(start),
		})
	}()

	desc := &grpc.StreamDesc{StreamName: string(method.Name()), ClientStreams: true}
	cs, err := c.cc.NewStream(c.ctx, desc, c.fullMethod, t.callOptions()...)
	if err != nil {
		return nil, err
	}
	sent := 0
	for req := range requests {
		if c.ctx.Err() != nil {
			break
		}
		// io.EOF means the stream was aborted; RecvMsg reports why.
		if err = cs.SendMsg(req.Interface()); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, err
		}
		sent++
	}
	if err = cs.CloseSend(); err != nil {
		return nil, err
	}
	out := dynamicpb.NewMessage(method.Output())
	if err = cs.RecvMsg(out); err != nil {
		return nil, err
	}
	log.Debugf("%s sent %d message(s) to %s", method.Name(), sent, c.endpoint)
	return out, nil
}

// Close releases every connection held by the transport. It is safe to call
// more than once; calls made afterwards fail with ErrClosed.
func (t *Transport) Close() error {
	if t.closed.Swap(true) {
		return nil
	}
	t.mu.Lock()
	pools := t.pools
	t.pools = map[string]*connPool{}
	t.mu.Unlock()

	var errs []error
	for _, p := range pools {
		if err := p.close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Conns reports the number of open connections across all endpoints.
func (t *Transport) Conns() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	n := 0
	for _, p := range t.pools {
		n += p.count()
	}
	return n
}

// ---------------- internals ----------------

type call struct {
	ctx        context.Context
	cc         *grpc.ClientConn
	service    string
	endpoint   string
	fullMethod string
}

func (t *Transport) prepare(ctx context.Context, method protoreflect.MethodDescriptor) (*call, error) {
	if t.closed.Load() {
		return nil, ErrClosed
	}
	if t.opts.Provider == nil {
		return nil, ErrNoProvider
	}
	service := string(method.Parent().FullName())

	ctx, rid := reqid.Ensure(ctx)
	ctx = metadata.AppendToOutgoingContext(ctx, ServiceMetadataKey, service, reqid.MetadataKey, rid)

	endpoints, err := t.opts.Provider.Endpoints(ctx, service)
	if err != nil {
		return nil, err
	}
	if len(endpoints) == 0 {
		return nil, ErrNoEndpoints
	}
	endpoint := endpoints[rand.IntN(len(endpoints))]

	cc, err := t.getConn(endpoint)
	if err != nil {
		return nil, fmt.Errorf("grpctp: connect %s: %w", endpoint, err)
	}
	return &call{
		ctx:        ctx,
		cc:         cc,
		service:    service,
		endpoint:   endpoint,
		fullMethod: fmt.Sprintf("/%s/%s", service, method.Name()),
	}, nil
}

func (t *Transport) callOptions() []grpc.CallOption {
	if t.opts.WaitForReady {
		return []grpc.CallOption{grpc.WaitForReady(true)}
	}
	return nil
}

func (t *Transport) getConn(endpoint string) (*grpc.ClientConn, error) {
	t.mu.RLock()
	pool := t.pools[endpoint]
	t.mu.RUnlock()
	if pool == nil {
		t.mu.Lock()
		if t.closed.Load() {
			t.mu.Unlock()
			return nil, ErrClosed
		}
		pool = t.pools[endpoint]
		if pool == nil {
			pool = newConnPool(endpoint, t.opts.MaxConnsPerEndpoint, t.dialOptions)
			t.pools[endpoint] = pool
		}
		t.mu.Unlock()
	}
	return pool.get()
}
