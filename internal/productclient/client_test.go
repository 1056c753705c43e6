package productclient_test

import (
	"context"
	"errors"
	"slices"
	"testing"
	"time"

	"github.com/op/go-logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/bharat-rajani/grpc-products/internal/productclient"
	"github.com/bharat-rajani/grpc-products/internal/producttest"
)

func TestFetchImmediateSuccess(t *testing.T) {
	srv := producttest.Start(t, producttest.WithProductTypes(map[string]string{"google": "X"}))

	pt, err := productclient.FetchVendorProductType(context.Background(), srv.Addr, "google", 4*time.Second)
	require.NoError(t, err)
	assert.Equal(t, "X", pt)

	reqs := srv.Requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, "google", reqs[0].Vendor)
}

func TestFetchWaitsForLateServer(t *testing.T) {
	addr := producttest.ReserveAddr(t)
	started := producttest.StartAfter(t, addr, time.Second, producttest.WithProductTypes(map[string]string{"google": "late"}))

	begin := time.Now()
	pt, err := productclient.FetchVendorProductType(context.Background(), addr, "google", 4*time.Second)
	require.NoError(t, err)
	assert.Equal(t, "late", pt)
	assert.GreaterOrEqual(t, time.Since(begin), time.Second)
	assert.NotNil(t, <-started)
}

func TestFetchNeverReadyTimesOut(t *testing.T) {
	addr := producttest.ReserveAddr(t)
	timeout := 300 * time.Millisecond

	begin := time.Now()
	_, err := productclient.FetchVendorProductType(context.Background(), addr, "google", timeout)
	elapsed := time.Since(begin)

	require.Error(t, err)
	assert.ErrorIs(t, err, productclient.ErrTimeout)
	assert.NotErrorIs(t, err, productclient.ErrTransportFailure)
	assert.Equal(t, codes.DeadlineExceeded, status.Code(err))
	assert.Equal(t, productclient.ExitTimeout, productclient.ExitCode(err))
	assert.GreaterOrEqual(t, elapsed, timeout)
	assert.Less(t, elapsed, timeout+2*time.Second)
}

func TestFetchWithoutWaitForReadyFailsFast(t *testing.T) {
	addr := producttest.ReserveAddr(t)

	_, err := productclient.FetchVendorProductType(context.Background(), addr, "google", 4*time.Second,
		productclient.WithWaitForReady(false))
	require.Error(t, err)
	assert.ErrorIs(t, err, productclient.ErrTransportFailure)
	assert.Equal(t, codes.Unavailable, status.Code(err))
}

func TestFetchBadReplies(t *testing.T) {
	tests := []struct {
		name  string
		opt   producttest.Option
		cause error
	}{
		{name: "malformed", opt: producttest.WithMalformedReply()},
		{name: "empty", opt: producttest.WithEmptyReply(), cause: productclient.ErrEmptyResponse},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := producttest.Start(t, tt.opt)

			pt, err := productclient.FetchVendorProductType(context.Background(), srv.Addr, "google", 4*time.Second)
			require.Error(t, err)
			assert.Empty(t, pt)
			assert.ErrorIs(t, err, productclient.ErrTransportFailure)
			assert.Equal(t, productclient.ExitTransport, productclient.ExitCode(err))
			if tt.cause != nil {
				assert.ErrorIs(t, err, tt.cause)
			}
		})
	}
}

func TestFetchRemoteStatusIsPreserved(t *testing.T) {
	srv := producttest.Start(t)

	_, err := productclient.FetchVendorProductType(context.Background(), srv.Addr, "nobody", 4*time.Second)
	require.Error(t, err)
	assert.ErrorIs(t, err, productclient.ErrTransportFailure)
	assert.Equal(t, codes.InvalidArgument, status.Code(err))

	var e *productclient.Error
	require.ErrorAs(t, err, &e)
	assert.Equal(t, "GetVendorProductTypes", e.Op)
	assert.Equal(t, "nobody", e.Vendor)
	assert.Contains(t, err.Error(), `vendor="nobody"`)
}

func TestFetchReleasesConnectionEveryTime(t *testing.T) {
	srv := producttest.Start(t)
	d := &producttest.Dialer{}

	vendors := []string{"google", "aws", "nobody", "oracle"}
	for _, v := range vendors {
		_, _ = productclient.FetchVendorProductType(context.Background(), srv.Addr, v, 4*time.Second,
			productclient.WithDialOptions(d.DialOption()))
	}

	n := int64(len(vendors))
	assert.Equal(t, n, d.Opened())
	assert.Eventually(t, func() bool { return d.Closed() == n }, 2*time.Second, 10*time.Millisecond)
	assert.Eventually(t, func() bool { return srv.Active() == 0 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, n, srv.Accepted())
}

func TestFetchReleasesConnectionOnTimeout(t *testing.T) {
	srv := producttest.Start(t, producttest.WithDelay(time.Second))
	d := &producttest.Dialer{}

	_, err := productclient.FetchVendorProductType(context.Background(), srv.Addr, "google", 100*time.Millisecond,
		productclient.WithDialOptions(d.DialOption()))
	assert.ErrorIs(t, err, productclient.ErrTimeout)
	assert.Equal(t, int64(1), d.Opened())
	assert.Eventually(t, func() bool { return d.Closed() == 1 }, 2*time.Second, 10*time.Millisecond)
}

func TestFetchSequentialVendorsAreIndependent(t *testing.T) {
	srv := producttest.Start(t, producttest.WithProductTypes(map[string]string{
		"google": "google compute",
		"acme":   "acme anvils",
	}))

	first, err := productclient.FetchVendorProductType(context.Background(), srv.Addr, "google", 4*time.Second)
	require.NoError(t, err)
	second, err := productclient.FetchVendorProductType(context.Background(), srv.Addr, "acme", 4*time.Second)
	require.NoError(t, err)

	assert.Equal(t, "google compute", first)
	assert.Equal(t, "acme anvils", second)

	reqs := srv.Requests()
	require.Len(t, reqs, 2)
	assert.Equal(t, "google", reqs[0].Vendor)
	assert.Equal(t, "acme", reqs[1].Vendor)
	assert.NotEqual(t, reqs[0].RequestID, reqs[1].RequestID)
}

func TestFetchCanceled(t *testing.T) {
	addr := producttest.ReserveAddr(t)
	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(100*time.Millisecond, cancel)

	_, err := productclient.FetchVendorProductType(ctx, addr, "google", 4*time.Second)
	require.Error(t, err)
	assert.ErrorIs(t, err, productclient.ErrCanceled)
	assert.Equal(t, productclient.ExitCanceled, productclient.ExitCode(err))
}

func TestFetchRejectsInvalidInput(t *testing.T) {
	srv := producttest.Start(t)
	tests := []struct {
		name     string
		endpoint string
		vendor   string
		timeout  time.Duration
	}{
		{name: "empty endpoint", endpoint: " ", vendor: "google", timeout: time.Second},
		{name: "empty vendor", endpoint: srv.Addr, vendor: "", timeout: time.Second},
		{name: "zero timeout", endpoint: srv.Addr, vendor: "google", timeout: 0},
		{name: "negative timeout", endpoint: srv.Addr, vendor: "google", timeout: -time.Second},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := &producttest.Dialer{}
			_, err := productclient.FetchVendorProductType(context.Background(), tt.endpoint, tt.vendor, tt.timeout,
				productclient.WithDialOptions(d.DialOption()))
			require.Error(t, err)
			assert.ErrorIs(t, err, productclient.ErrInvalidArgument)
			assert.Equal(t, productclient.ExitUsage, productclient.ExitCode(err))
			assert.Zero(t, d.Dials())
		})
	}
	assert.Zero(t, srv.Accepted())
}

func TestClientReuseAndClose(t *testing.T) {
	srv := producttest.Start(t)
	d := &producttest.Dialer{}
	c, err := productclient.New(srv.Addr, productclient.WithDialOptions(d.DialOption()))
	require.NoError(t, err)
	assert.Equal(t, srv.Addr, c.Endpoint())

	for _, v := range []string{"google", "aws", "oracle"} {
		_, err := c.FetchVendorProductType(context.Background(), v)
		require.NoError(t, err)
	}
	assert.Equal(t, int64(1), d.Opened())

	require.NoError(t, c.Close())
	require.NoError(t, c.Close())
	assert.Eventually(t, func() bool { return d.Closed() == 1 }, 2*time.Second, 10*time.Millisecond)

	_, err = c.FetchVendorProductType(context.Background(), "google")
	assert.ErrorIs(t, err, productclient.ErrInvalidArgument)
}

func TestListVendorProducts(t *testing.T) {
	want := []productclient.Product{
		{Title: "Compute Engine", URL: "https://cloud.google.com/compute", ShortURL: "g.co/ce"},
		{Title: "Cloud Run", URL: "https://cloud.google.com/run", ShortURL: "g.co/run"},
	}
	srv := producttest.Start(t, producttest.WithProducts("google", "compute", want...))
	c, err := productclient.New(srv.Addr)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })

	var got []productclient.Product
	err = c.ListVendorProducts(context.Background(), "google", "compute", func(p productclient.Product) error {
		got = append(got, p)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, want, got)

	reqs := srv.Requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, "compute", reqs[0].ProductType)
}

func TestListVendorProductsStopsOnCallbackError(t *testing.T) {
	srv := producttest.Start(t, producttest.WithProducts("google", "compute",
		productclient.Product{Title: "a"}, productclient.Product{Title: "b"}))
	c, err := productclient.New(srv.Addr)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })

	stop := errors.New("stop")
	calls := 0
	err = c.ListVendorProducts(context.Background(), "google", "compute", func(productclient.Product) error {
		calls++
		return stop
	})
	assert.Same(t, stop, err)
	assert.Equal(t, 1, calls)
}

func TestListVendorProductsStreamTimeout(t *testing.T) {
	srv := producttest.Start(t, producttest.WithOpenStream(),
		producttest.WithProducts("google", "compute", productclient.Product{Title: "a"}))
	c, err := productclient.New(srv.Addr, productclient.WithStreamTimeout(200*time.Millisecond))
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })

	var got []string
	err = c.ListVendorProducts(context.Background(), "google", "compute", func(p productclient.Product) error {
		got = append(got, p.Title)
		return nil
	})
	assert.ErrorIs(t, err, productclient.ErrTimeout)
	assert.Equal(t, []string{"a"}, got)
}

func TestListVendorProductsRejectsInvalidInput(t *testing.T) {
	c, err := productclient.New("127.0.0.1:1")
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })

	noop := func(productclient.Product) error { return nil }
	assert.ErrorIs(t, c.ListVendorProducts(context.Background(), "", "compute", noop), productclient.ErrInvalidArgument)
	assert.ErrorIs(t, c.ListVendorProducts(context.Background(), "google", "", noop), productclient.ErrInvalidArgument)
}

func TestExitCode(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{nil, productclient.ExitOK},
		{&productclient.Error{Op: "x", Kind: productclient.ErrTimeout}, productclient.ExitTimeout},
		{&productclient.Error{Op: "x", Kind: productclient.ErrTransportFailure}, productclient.ExitTransport},
		{&productclient.Error{Op: "x", Kind: productclient.ErrCanceled}, productclient.ExitCanceled},
		{&productclient.Error{Op: "x", Kind: productclient.ErrInvalidArgument}, productclient.ExitUsage},
		{errors.New("unknown flag"), productclient.ExitUsage},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, productclient.ExitCode(tt.err), "%v", tt.err)
	}
}

func TestLibraryLoggingIsQuiet(t *testing.T) {
	for _, module := range []string{"productclient", "grpctp"} {
		l := logging.MustGetLogger(module)
		assert.False(t, l.IsEnabledFor(logging.INFO), module)
		assert.True(t, l.IsEnabledFor(logging.WARNING), module)
	}
}

func TestFetchDoesNotWriteCallerOptions(t *testing.T) {
	srv := producttest.Start(t)
	d := &producttest.Dialer{}

	opts := make([]productclient.Option, 1, 4)
	opts[0] = productclient.WithDialOptions(d.DialOption())
	spare := opts[:cap(opts)]
	_, err := productclient.FetchVendorProductType(context.Background(), srv.Addr, "google", 4*time.Second, opts...)
	require.NoError(t, err)
	assert.Len(t, opts, 1)
	assert.Nil(t, spare[1])
}

func TestSetVendorProducts(t *testing.T) {
	srv := producttest.Start(t)
	c, err := productclient.New(srv.Addr)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })

	products := []productclient.Product{
		{Title: "Block Volume", URL: "sample Url", ShortURL: "https://made-up-url.com/aaaaaa"},
		{Title: "Archive Storage", URL: "sample Url", ShortURL: "https://made-up-url.com/bbbbbb"},
	}
	n, err := c.SetVendorProducts(context.Background(), "oracle", "storage", slices.Values(products))
	require.NoError(t, err)
	assert.Equal(t, int32(2), n)

	reqs := srv.Requests()
	require.Len(t, reqs, 2)
	for i, p := range products {
		assert.Equal(t, "oracle", reqs[i].Vendor)
		assert.Equal(t, "storage", reqs[i].ProductType)
		assert.Equal(t, p, reqs[i].Product)
	}
}

func TestSetVendorProductsTimeout(t *testing.T) {
	srv := producttest.Start(t, producttest.WithDelay(time.Second))
	c, err := productclient.New(srv.Addr, productclient.WithTimeout(150*time.Millisecond))
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })

	_, err = c.SetVendorProducts(context.Background(), "google", "compute",
		slices.Values([]productclient.Product{{Title: "a"}}))
	require.Error(t, err)
	assert.ErrorIs(t, err, productclient.ErrTimeout)
	assert.Equal(t, codes.DeadlineExceeded, status.Code(err))
}

func TestSetVendorProductsCanceled(t *testing.T) {
	srv := producttest.Start(t)
	c, err := productclient.New(srv.Addr)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	products := func(yield func(productclient.Product) bool) {
		for i := 0; ; i++ {
			if i == 3 {
				cancel()
			}
			if !yield(productclient.Product{Title: "p"}) {
				return
			}
		}
	}
	_, err = c.SetVendorProducts(ctx, "aws", "compute", products)
	require.Error(t, err)
	assert.ErrorIs(t, err, productclient.ErrCanceled)
	assert.Equal(t, productclient.ExitCanceled, productclient.ExitCode(err))
}

func TestSetVendorProductsRemoteError(t *testing.T) {
	srv := producttest.Start(t)
	c, err := productclient.New(srv.Addr)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })

	_, err = c.SetVendorProducts(context.Background(), "acme", "anvils",
		slices.Values([]productclient.Product{{Title: "a"}}))
	assert.ErrorIs(t, err, productclient.ErrTransportFailure)
	assert.Equal(t, codes.InvalidArgument, status.Code(err))
}

func TestSetVendorProductsRejectsInvalidInput(t *testing.T) {
	c, err := productclient.New("127.0.0.1:1")
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })

	none := slices.Values([]productclient.Product(nil))
	_, err = c.SetVendorProducts(context.Background(), "", "compute", none)
	assert.ErrorIs(t, err, productclient.ErrInvalidArgument)
	_, err = c.SetVendorProducts(context.Background(), "google", "", none)
	assert.ErrorIs(t, err, productclient.ErrInvalidArgument)

	require.NoError(t, c.Close())
	_, err = c.SetVendorProducts(context.Background(), "google", "compute", none)
	assert.ErrorIs(t, err, productclient.ErrInvalidArgument)
}
