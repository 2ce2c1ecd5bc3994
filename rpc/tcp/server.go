package tcp

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"

	"github.com/gotomicro/ekit/bean/option"
	"go.uber.org/zap"
	"golang.org/x/net/netutil"
	"typedrpc/rpc/message"
)

// Invoker answers one decoded request. *rpc.Server implements it.
type Invoker interface {
	Invoke(ctx context.Context, req *message.Request) *message.Response
}

// Server -> tcp conn Server
type Server struct {
	invoker  Invoker
	logger   *zap.Logger
	maxConns int

	mu       sync.Mutex
	listener net.Listener
	conns    map[net.Conn]struct{}
	closed   bool
}

// ServerWithLogger -> option
func ServerWithLogger(l *zap.Logger) option.Option[Server] {
	return func(server *Server) {
		server.logger = l
	}
}

// ServerWithMaxConns caps the connections served at once. Further dials
// wait in the accept queue.
func ServerWithMaxConns(n int) option.Option[Server] {
	return func(server *Server) {
		server.maxConns = n
	}
}

func NewServer(invoker Invoker, opts ...option.Option[Server]) *Server {
	res := &Server{
		invoker: invoker,
		logger:  zap.NewNop(),
		conns:   make(map[net.Conn]struct{}, 8),
	}
	for _, opt := range opts {
		opt(res)
	}
	return res
}

// Start listens on address and serves until Close.
func (s *Server) Start(address string) error {
	listener, err := net.Listen("tcp", address)
	if err != nil {
		return err
	}
	return s.Serve(listener)
}

// Serve accepts connections on listener until Close. Each connection
// handles its requests in order.
func (s *Server) Serve(listener net.Listener) error {
	if s.maxConns > 0 {
		listener = netutil.LimitListener(listener, s.maxConns)
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		_ = listener.Close()
		return net.ErrClosed
	}
	s.listener = listener
	s.mu.Unlock()
	s.logger.Info("server: listening", zap.Stringer("address", listener.Addr()))
	for {
		conn, err := listener.Accept()
		if errors.Is(err, net.ErrClosed) {
			return nil
		}
		if err != nil {
			s.logger.Warn("server: accept connection got error", zap.Error(err))
			continue
		}
		if !s.track(conn) {
			_ = conn.Close()
			return nil
		}
		go s.handleConn(conn)
	}
}

// Addr is nil until Serve starts.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Close stops the listener and drops open connections.
func (s *Server) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	for conn := range s.conns {
		_ = conn.Close()
	}
	if s.listener != nil {
		return s.listener.Close()
	}
	return nil
}

func (s *Server) track(conn net.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.conns[conn] = struct{}{}
	return true
}

func (s *Server) untrack(conn net.Conn) {
	s.mu.Lock()
	delete(s.conns, conn)
	s.mu.Unlock()
	_ = conn.Close()
}

// handleConn -> handle tcp connection
func (s *Server) handleConn(conn net.Conn) {
	defer s.untrack(conn)
	for {
		bs, err := ReadMsg(conn)
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
				s.logger.Warn("server: reading request failed",
					zap.Stringer("remote", conn.RemoteAddr()), zap.Error(err))
			}
			return
		}
		req, err := message.DecodeReq(bs)
		if err != nil {
			// the frame boundary is known but nothing in it can be trusted
			s.logger.Warn("server: dropping connection",
				zap.Stringer("remote", conn.RemoteAddr()), zap.Error(err))
			return
		}
		resp := s.invoker.Invoke(context.Background(), req)
		if _, err = conn.Write(message.EncodeResp(resp)); err != nil {
			s.logger.Warn("server: sending response failed",
				zap.Uint32("message_id", req.MessageId), zap.Error(err))
			return
		}
	}
}
