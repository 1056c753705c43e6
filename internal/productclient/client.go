// Package productclient calls the products.v1.ProductService.
//
// The one-shot FetchVendorProductType opens a connection, performs a single
// GetVendorProductTypes call under an absolute deadline and releases the
// connection on every exit path. Client is the hoisted form for callers that
// issue several calls against the same endpoint.
package productclient

import (
	"context"
	"errors"
	"iter"
	"strings"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/reflect/protoreflect"

	"github.com/bharat-rajani/grpc-products/internal/grpctp"
	plog "github.com/bharat-rajani/grpc-products/internal/logging"
	"github.com/bharat-rajani/grpc-products/internal/productpb"
)

var log = plog.MustGetLogger("productclient")

// DefaultTimeout bounds a call when no WithTimeout option is given.
const DefaultTimeout = 4 * time.Second

// Product is a catalogue entry received from GetVendorProducts.
type Product = productpb.Product

type options struct {
	timeout       time.Duration
	streamTimeout time.Duration
	waitForReady  bool
	dialOptions   []grpc.DialOption
}

// Option configures a Client.
type Option func(*options)

// WithTimeout sets the absolute deadline of each unary call, measured from
// the start of the call.
func WithTimeout(d time.Duration) Option { return func(o *options) { o.timeout = d } }

// WithStreamTimeout bounds ListVendorProducts. Zero leaves streams bounded
// only by the caller's context.
func WithStreamTimeout(d time.Duration) Option { return func(o *options) { o.streamTimeout = d } }

// WithWaitForReady controls whether calls wait for the endpoint to become
// reachable (the default) or fail as soon as it is not.
func WithWaitForReady(v bool) Option { return func(o *options) { o.waitForReady = v } }

// WithDialOptions appends gRPC dial options to the transport defaults.
func WithDialOptions(opts ...grpc.DialOption) Option {
	return func(o *options) { o.dialOptions = append(o.dialOptions, opts...) }
}

// Client calls one ProductService endpoint. It is safe for concurrent use.
type Client struct {
	endpoint string
	opts     options
	svc      *productpb.Service
	tp       *grpctp.Transport

	closeOnce sync.Once
	closeErr  error
}

// New returns a client for endpoint (host:port). No connection is opened
// until the first call.
func New(endpoint string, opts ...Option) (*Client, error) {
	o := options{timeout: DefaultTimeout, waitForReady: true}
	for _, f := range opts {
		f(&o)
	}
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		return nil, invalid("new", "", "endpoint must not be empty")
	}
	if o.timeout <= 0 {
		return nil, invalid("new", "", "timeout must be positive, got %s", o.timeout)
	}
	if o.streamTimeout < 0 {
		return nil, invalid("new", "", "stream timeout must not be negative, got %s", o.streamTimeout)
	}
	svc, err := productpb.Load()
	if err != nil {
		return nil, err
	}
	tp := grpctp.New(
		grpctp.WithProvider(grpctp.SingleEndpoint(endpoint)),
		grpctp.WithRPCTimeout(o.timeout),
		grpctp.WithWaitForReady(o.waitForReady),
		grpctp.WithDialOptions(o.dialOptions...),
	)
	return &Client{endpoint: endpoint, opts: o, svc: svc, tp: tp}, nil
}

// Endpoint returns the endpoint the client was created for.
func (c *Client) Endpoint() string { return c.endpoint }

// FetchVendorProductType asks the service for the product types of vendor.
// The call waits for the endpoint to become ready and fails with ErrTimeout
// once the configured timeout has elapsed since the call started.
func (c *Client) FetchVendorProductType(ctx context.Context, vendor string) (string, error) {
	const op = "GetVendorProductTypes"
	if vendor == "" {
		return "", invalid(op, vendor, "vendor must not be empty")
	}
	ctx, cancel := context.WithTimeout(ctx, c.opts.timeout)
	defer cancel()

	log.Debugf("calling %s on %s vendor=%q", productpb.FullMethod(c.svc.GetVendorProductTypes), c.endpoint, vendor)
	resp, err := c.tp.Call(ctx, c.svc.GetVendorProductTypes, c.svc.NewTypeRequest(vendor))
	if err != nil {
		if errors.Is(err, grpctp.ErrClosed) {
			return "", invalid(op, vendor, "client is closed")
		}
		e := classify(op, vendor, err)
		log.Infof("%s on %s: %v", op, c.endpoint, e)
		return "", e
	}
	pt := productpb.ProductType(resp)
	if pt == "" {
		return "", &Error{Op: op, Vendor: vendor, Kind: ErrTransportFailure, Cause: ErrEmptyResponse}
	}
	log.Debugf("%s vendor=%q returned %q", op, vendor, pt)
	return pt, nil
}

// ListVendorProducts streams the products of vendor and productType to fn in
// the order the server sends them. A non-nil error from fn stops the stream
// and is returned unchanged. It returns nil when the server ends the stream.
func (c *Client) ListVendorProducts(ctx context.Context, vendor, productType string, fn func(Product) error) error {
	const op = "GetVendorProducts"
	if vendor == "" {
		return invalid(op, vendor, "vendor must not be empty")
	}
	if productType == "" {
		return invalid(op, vendor, "product type must not be empty")
	}
	if c.opts.streamTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.opts.streamTimeout)
		defer cancel()
	}

	var fnErr error
	err := c.tp.Stream(ctx, c.svc.GetVendorProducts, c.svc.NewProductsRequest(vendor, productType), func(msg protoreflect.Message) error {
		if err := fn(productpb.ProductOf(msg)); err != nil {
			fnErr = err
			return err
		}
		return nil
	})
	switch {
	case err == nil:
		return nil
	case fnErr != nil && errors.Is(err, fnErr):
		return fnErr
	case errors.Is(err, grpctp.ErrClosed):
		return invalid(op, vendor, "client is closed")
	}
	e := classify(op, vendor, err)
	log.Infof("%s on %s: %v", op, c.endpoint, e)
	return e
}

// SetVendorProducts uploads products under vendor and productType in a
// single client stream and returns the number of products the server
// accepted. The whole upload shares the deadline of a unary call.
func (c *Client) SetVendorProducts(ctx context.Context, vendor, productType string, products iter.Seq[Product]) (int32, error) {
	const op = "SetVendorProducts"
	if vendor == "" {
		return 0, invalid(op, vendor, "vendor must not be empty")
	}
	if productType == "" {
		return 0, invalid(op, vendor, "product type must not be empty")
	}
	ctx, cancel := context.WithTimeout(ctx, c.opts.timeout)
	defer cancel()

	requests := func(yield func(protoreflect.Message) bool) {
		for p := range products {
			if !yield(c.svc.NewAdminProductsRequest(vendor, productType, p)) {
				return
			}
		}
	}
	resp, err := c.tp.SendStream(ctx, c.svc.SetVendorProducts, requests)
	if err != nil {
		if errors.Is(err, grpctp.ErrClosed) {
			return 0, invalid(op, vendor, "client is closed")
		}
		e := classify(op, vendor, err)
		log.Infof("%s on %s: %v", op, c.endpoint, e)
		return 0, e
	}
	n := productpb.Count(resp)
	log.Debugf("%s vendor=%q productType=%q accepted %d product(s)", op, vendor, productType, n)
	return n, nil
}

// Close releases the client's connections. It is safe to call more than
// once.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		c.closeErr = c.tp.Close()
		log.Debugf("closed client for %s", c.endpoint)
	})
	return c.closeErr
}

// FetchVendorProductType performs one GetVendorProductTypes call against
// endpoint with an absolute deadline of timeout, releasing the connection
// before it returns.
func FetchVendorProductType(ctx context.Context, endpoint, vendor string, timeout time.Duration, opts ...Option) (string, error) {
	if vendor == "" {
		return "", invalid("GetVendorProductTypes", vendor, "vendor must not be empty")
	}
	c, err := New(endpoint, append(opts[:len(opts):len(opts)], WithTimeout(timeout))...)
	if err != nil {
		return "", err
	}
	defer func() {
		if err := c.Close(); err != nil {
			log.Warningf("close client for %s: %v", endpoint, err)
		}
	}()
	return c.FetchVendorProductType(ctx, vendor)
}
