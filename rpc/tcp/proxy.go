package tcp

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/gotomicro/ekit/bean/option"
	"github.com/silenceper/pool"
	"typedrpc/internal/errs"
	"typedrpc/rpc"
	"typedrpc/rpc/message"
)

var _ rpc.Proxy = (*Proxy)(nil)

// Proxy sends requests over pooled tcp connections. One connection carries
// one exchange at a time.
type Proxy struct {
	address     string
	dialTimeout time.Duration
	initialCap  int
	maxIdle     int
	maxCap      int
	idleTimeout time.Duration
	connPool    pool.Pool
}

// ProxyWithPoolSize -> option
func ProxyWithPoolSize(initialCap, maxIdle, maxCap int) option.Option[Proxy] {
	return func(p *Proxy) {
		p.initialCap, p.maxIdle, p.maxCap = initialCap, maxIdle, maxCap
	}
}

// ProxyWithIdleTimeout -> option
func ProxyWithIdleTimeout(d time.Duration) option.Option[Proxy] {
	return func(p *Proxy) {
		p.idleTimeout = d
	}
}

// ProxyWithDialTimeout -> option
func ProxyWithDialTimeout(d time.Duration) option.Option[Proxy] {
	return func(p *Proxy) {
		p.dialTimeout = d
	}
}

// NewProxy dials the initial connections eagerly, so the server must be
// reachable.
func NewProxy(address string, opts ...option.Option[Proxy]) (*Proxy, error) {
	p := &Proxy{
		address:     address,
		dialTimeout: 3 * time.Second,
		initialCap:  1,
		maxIdle:     20,
		maxCap:      30,
		idleTimeout: time.Minute,
	}
	for _, opt := range opts {
		opt(p)
	}
	connPool, err := pool.NewChannelPool(&pool.Config{
		InitialCap: p.initialCap,
		MaxIdle:    p.maxIdle,
		MaxCap:     p.maxCap,
		Factory: func() (interface{}, error) {
			return net.DialTimeout("tcp", p.address, p.dialTimeout)
		},
		Close: func(i interface{}) error {
			return i.(net.Conn).Close()
		},
		IdleTimeout: p.idleTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("typedrpc: connecting to %s: %w", address, err)
	}
	p.connPool = connPool
	return p, nil
}

// Invoke -> invoke rpc service
func (p *Proxy) Invoke(ctx context.Context, req *message.Request) (*message.Response, error) {
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	var (
		resp *message.Response
		err  error
	)
	ch := make(chan struct{})
	go func() {
		resp, err = p.doInvoke(ctx, message.EncodeReq(req))
		close(ch)
	}()
	select {
	case <-ch:
		return resp, err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (p *Proxy) doInvoke(ctx context.Context, encoded []byte) (*message.Response, error) {
	val, err := p.connPool.Get()
	if err != nil {
		return nil, fmt.Errorf("typedrpc: no connection to %s: %w", p.address, err)
	}
	conn := val.(net.Conn)
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	} else {
		_ = conn.SetDeadline(time.Time{})
	}
	if _, err = conn.Write(encoded); err != nil {
		_ = p.connPool.Close(conn)
		return nil, err
	}
	data, err := ReadMsg(conn)
	if err != nil {
		// the stream position is unknown, so the connection cannot be reused
		_ = p.connPool.Close(conn)
		return nil, fmt.Errorf("%w: %w", errs.ReadRespFailError, err)
	}
	_ = p.connPool.Put(conn)
	return message.DecodeResp(data)
}

// Len reports the idle connections.
func (p *Proxy) Len() int {
	return p.connPool.Len()
}

// Close releases every pooled connection.
func (p *Proxy) Close() error {
	p.connPool.Release()
	return nil
}
