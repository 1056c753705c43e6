// Package producttest runs an in-process ProductService over real TCP for
// tests, with knobs for slow, empty and malformed replies and connection
// accounting on both sides of the wire.
package producttest

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/dynamicpb"

	"github.com/bharat-rajani/grpc-products/internal/productpb"
	"github.com/bharat-rajani/grpc-products/internal/reqid"
)

// Request records one call received by the stub.
type Request struct {
	Method      string
	Vendor      string
	ProductType string
	// Product is set for SetVendorProducts uploads, one Request per message.
	Product   productpb.Product
	RequestID string
}

// DefaultProductTypes mirrors the catalogue served by the reference
// ProductService: "<vendor> <type>" entries joined with commas.
func DefaultProductTypes() map[string]string {
	return map[string]string{
		"google": "google compute,google storage",
		"aws":    "aws compute,aws storage",
		"oracle": "oracle compute,oracle storage",
	}
}

type reply int

const (
	replyOK reply = iota
	replyEmpty
	replyMalformed
)

type options struct {
	productTypes map[string]string
	products     map[[2]string][]productpb.Product
	delay        time.Duration
	reply        reply
	holdStream   bool
}

// Option configures a stub Server.
type Option func(*options)

// WithProductTypes replaces the vendor -> product type catalogue.
func WithProductTypes(m map[string]string) Option {
	return func(o *options) {
		o.productTypes = make(map[string]string, len(m))
		for k, v := range m {
			o.productTypes[k] = v
		}
	}
}

// WithProducts serves ps for GetVendorProducts(vendor, productType).
func WithProducts(vendor, productType string, ps ...productpb.Product) Option {
	return func(o *options) {
		o.products[[2]string{vendor, productType}] = append([]productpb.Product(nil), ps...)
	}
}

// WithDelay makes every unary call, and the SetVendorProducts reply, wait d
// before answering.
func WithDelay(d time.Duration) Option { return func(o *options) { o.delay = d } }

// WithEmptyReply answers GetVendorProductTypes with an empty productType.
func WithEmptyReply() Option { return func(o *options) { o.reply = replyEmpty } }

// WithMalformedReply answers GetVendorProductTypes with bytes that do not
// decode as ClientResponseType.
func WithMalformedReply() Option { return func(o *options) { o.reply = replyMalformed } }

// WithOpenStream keeps GetVendorProducts streams open after the last product
// until the client goes away, like the reference server does.
func WithOpenStream() Option { return func(o *options) { o.holdStream = true } }

// Server is a running stub.
type Server struct {
	Addr string

	svc  *productpb.Service
	srv  *grpc.Server
	lis  *countingListener
	opts options

	mu       sync.Mutex
	requests []Request
	stopOnce sync.Once
}

// Start serves the stub on a free loopback port. The server is stopped when
// the test ends.
func Start(t testing.TB, opts ...Option) *Server {
	t.Helper()
	return StartAt(t, "127.0.0.1:0", opts...)
}

// StartAt serves the stub on addr.
func StartAt(t testing.TB, addr string, opts ...Option) *Server {
	t.Helper()
	s, err := listen(addr, opts...)
	if err != nil {
		t.Fatalf("producttest: listen %s: %v", addr, err)
	}
	t.Cleanup(s.Stop)
	return s
}

// StartAfter serves the stub on addr once delay has elapsed. The returned
// channel yields the server when it is accepting connections.
func StartAfter(t testing.TB, addr string, delay time.Duration, opts ...Option) <-chan *Server {
	t.Helper()
	ch := make(chan *Server, 1)
	done := make(chan struct{})
	var started *Server
	timer := time.AfterFunc(delay, func() {
		defer close(done)
		s, err := listen(addr, opts...)
		if err != nil {
			t.Errorf("producttest: delayed listen %s: %v", addr, err)
			close(ch)
			return
		}
		started = s
		ch <- s
	})
	t.Cleanup(func() {
		if !timer.Stop() {
			<-done
		}
		if started != nil {
			started.Stop()
		}
	})
	return ch
}

// ReserveAddr returns a loopback address that nothing listens on.
func ReserveAddr(t testing.TB) string {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("producttest: reserve address: %v", err)
	}
	addr := l.Addr().String()
	if err := l.Close(); err != nil {
		t.Fatalf("producttest: reserve address: %v", err)
	}
	return addr
}

func listen(addr string, opts ...Option) (*Server, error) {
	svc, err := productpb.Load()
	if err != nil {
		return nil, err
	}
	o := options{
		productTypes: DefaultProductTypes(),
		products:     make(map[[2]string][]productpb.Product),
	}
	for _, f := range opts {
		f(&o)
	}
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	s := &Server{
		Addr: l.Addr().String(),
		svc:  svc,
		srv:  grpc.NewServer(),
		lis:  &countingListener{Listener: l},
		opts: o,
	}
	s.srv.RegisterService(s.serviceDesc(), s)
	go func() { _ = s.srv.Serve(s.lis) }()
	return s, nil
}

// Stop closes the listener and every accepted connection.
func (s *Server) Stop() {
	s.stopOnce.Do(s.srv.Stop)
}

// Requests returns the calls received so far, in arrival order.
func (s *Server) Requests() []Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Request, len(s.requests))
	copy(out, s.requests)
	return out
}

// Accepted reports how many connections the stub has accepted.
func (s *Server) Accepted() int64 { return s.lis.accepted.Load() }

// Active reports how many accepted connections are still open.
func (s *Server) Active() int64 { return s.lis.active.Load() }

func (s *Server) serviceDesc() *grpc.ServiceDesc {
	return &grpc.ServiceDesc{
		ServiceName: string(s.svc.Service.FullName()),
		HandlerType: (*any)(nil),
		Methods: []grpc.MethodDesc{{
			MethodName: string(s.svc.GetVendorProductTypes.Name()),
			Handler:    s.getVendorProductTypes,
		}},
		Streams: []grpc.StreamDesc{{
			StreamName:    string(s.svc.GetVendorProducts.Name()),
			Handler:       s.getVendorProducts,
			ServerStreams: true,
		}, {
			StreamName:    string(s.svc.SetVendorProducts.Name()),
			Handler:       s.setVendorProducts,
			ClientStreams: true,
		}},
		Metadata: productpb.FilePath,
	}
}

func (s *Server) getVendorProductTypes(_ any, ctx context.Context, dec func(any) error, _ grpc.UnaryServerInterceptor) (any, error) {
	req := dynamicpb.NewMessage(s.svc.GetVendorProductTypes.Input())
	if err := dec(req); err != nil {
		return nil, err
	}
	vendor := productpb.Vendor(req)
	s.record(ctx, string(s.svc.GetVendorProductTypes.Name()), vendor, "")

	if s.opts.delay > 0 {
		select {
		case <-time.After(s.opts.delay):
		case <-ctx.Done():
			return nil, status.FromContextError(ctx.Err()).Err()
		}
	}

	switch s.opts.reply {
	case replyEmpty:
		return s.svc.NewTypeResponse(""), nil
	case replyMalformed:
		return malformedResponse()
	}
	pt, ok := s.opts.productTypes[vendor]
	if !ok {
		return nil, status.Error(codes.InvalidArgument, "Wrong vendor, select between google, aws, oracle")
	}
	return s.svc.NewTypeResponse(pt), nil
}

func (s *Server) getVendorProducts(_ any, stream grpc.ServerStream) error {
	req := dynamicpb.NewMessage(s.svc.GetVendorProducts.Input())
	if err := stream.RecvMsg(req); err != nil {
		return err
	}
	vendor, productType := productpb.Vendor(req), productpb.ProductType(req)
	s.record(stream.Context(), string(s.svc.GetVendorProducts.Name()), vendor, productType)

	ps, ok := s.opts.products[[2]string{vendor, productType}]
	if !ok {
		return status.Errorf(codes.InvalidArgument, "no %s products for %s", productType, vendor)
	}
	for _, p := range ps {
		if err := stream.SendMsg(s.svc.NewProductsResponse(p)); err != nil {
			return err
		}
	}
	if s.opts.holdStream {
		<-stream.Context().Done()
		return status.FromContextError(stream.Context().Err()).Err()
	}
	return nil
}

func (s *Server) setVendorProducts(_ any, stream grpc.ServerStream) error {
	ctx := stream.Context()
	var count int32
	for {
		req := dynamicpb.NewMessage(s.svc.SetVendorProducts.Input())
		err := stream.RecvMsg(req)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return err
		}
		vendor := productpb.Vendor(req)
		if _, ok := s.opts.productTypes[vendor]; !ok {
			return status.Error(codes.InvalidArgument, "Wrong vendor, select between google, aws, oracle")
		}
		s.recordRequest(ctx, Request{
			Method:      string(s.svc.SetVendorProducts.Name()),
			Vendor:      vendor,
			ProductType: productpb.ProductType(req),
			Product:     productpb.ProductOf(req),
		})
		count++
	}

	if s.opts.delay > 0 {
		select {
		case <-time.After(s.opts.delay):
		case <-ctx.Done():
			return status.FromContextError(ctx.Err()).Err()
		}
	}
	return stream.SendMsg(s.svc.NewProductCount(count))
}

func (s *Server) record(ctx context.Context, method, vendor, productType string) {
	s.recordRequest(ctx, Request{Method: method, Vendor: vendor, ProductType: productType})
}

func (s *Server) recordRequest(ctx context.Context, r Request) {
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		if v := md.Get(reqid.MetadataKey); len(v) > 0 {
			r.RequestID = v[0]
		}
	}
	s.mu.Lock()
	s.requests = append(s.requests, r)
	s.mu.Unlock()
}
