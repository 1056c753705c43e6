package grpctp

import (
	"errors"
	"sync"

	"google.golang.org/grpc"
)

// connPool holds up to size connections to one endpoint. Connections are
// created lazily and handed out round-robin; they stay open until close.
type connPool struct {
	endpoint string
	size     int
	dialOpts []grpc.DialOption

	mu     sync.Mutex
	conns  []*grpc.ClientConn
	next   int
	closed bool
}

func newConnPool(endpoint string, size int, dialOpts []grpc.DialOption) *connPool {
	if size <= 0 {
		size = 1
	}
	return &connPool{
		endpoint: endpoint,
		size:     size,
		dialOpts: dialOpts,
	}
}

func (p *connPool) get() (*grpc.ClientConn, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil, ErrClosed
	}
	if len(p.conns) < p.size {
		cc, err := grpc.NewClient(p.endpoint, p.dialOpts...)
		if err != nil {
			return nil, err
		}
		p.conns = append(p.conns, cc)
		log.Debugf("opened connection %d/%d to %s", len(p.conns), p.size, p.endpoint)
		return cc, nil
	}
	cc := p.conns[p.next%len(p.conns)]
	p.next++
	return cc, nil
}

func (p *connPool) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.conns)
}

func (p *connPool) close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	var errs []error
	for _, cc := range p.conns {
		if err := cc.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	log.Debugf("closed %d connection(s) to %s", len(p.conns), p.endpoint)
	p.conns = nil
	return errors.Join(errs...)
}
