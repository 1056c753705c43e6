package producttest

import (
	"context"
	"net"
	"sync"
	"sync/atomic"

	"google.golang.org/grpc"
)

type countingListener struct {
	net.Listener
	accepted atomic.Int64
	active   atomic.Int64
}

func (l *countingListener) Accept() (net.Conn, error) {
	c, err := l.Listener.Accept()
	if err != nil {
		return nil, err
	}
	l.accepted.Add(1)
	l.active.Add(1)
	return &trackedConn{Conn: c, onClose: func() { l.active.Add(-1) }}, nil
}

type trackedConn struct {
	net.Conn
	once    sync.Once
	onClose func()
}

func (c *trackedConn) Close() error {
	c.once.Do(c.onClose)
	return c.Conn.Close()
}

// Dialer counts the client side connections a gRPC channel opens and closes.
// Plug it in with DialOption.
type Dialer struct {
	dials  atomic.Int64
	opened atomic.Int64
	closed atomic.Int64
}

// DialOption installs d as the channel's dialer.
func (d *Dialer) DialOption() grpc.DialOption {
	return grpc.WithContextDialer(d.dial)
}

func (d *Dialer) dial(ctx context.Context, addr string) (net.Conn, error) {
	d.dials.Add(1)
	var nd net.Dialer
	c, err := nd.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}
	d.opened.Add(1)
	return &trackedConn{Conn: c, onClose: func() { d.closed.Add(1) }}, nil
}

// Dials reports connection attempts, successful or not.
func (d *Dialer) Dials() int64 { return d.dials.Load() }

// Opened reports established connections.
func (d *Dialer) Opened() int64 { return d.opened.Load() }

// Closed reports established connections that have been closed. Each
// connection is counted at most once.
func (d *Dialer) Closed() int64 { return d.closed.Load() }
