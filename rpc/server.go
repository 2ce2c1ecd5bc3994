package rpc

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/gotomicro/ekit/bean/option"
	"go.uber.org/zap"
	"typedrpc/internal/errs"
	"typedrpc/rpc/codec"
	"typedrpc/rpc/compress"
	"typedrpc/rpc/message"
	"typedrpc/rpc/serialize"
	"typedrpc/rpc/serialize/typed"
	"typedrpc/rpc/types"
)

// Handler runs a procedure. args holds one value per parameter, in the
// default Go representation of its type, with defaults already filled in.
type Handler func(ctx context.Context, args []any) (any, error)

// Server dispatches requests to registered procedures.
type Server struct {
	mu       sync.RWMutex
	services map[string]map[string]*procedureStub

	// a byte has at most 256 values, so a plain table does
	serializers  []serialize.Serializer
	compressors  []compress.Compressor
	logger       *zap.Logger
	maxDepth     int
	interceptors []Interceptor
	proxy        Proxy
}

// ServerWithLogger -> option
func ServerWithLogger(l *zap.Logger) option.Option[Server] {
	return func(server *Server) {
		server.logger = l
	}
}

// ServerWithInterceptors wraps every Invoke, first one outermost.
func ServerWithInterceptors(interceptors ...Interceptor) option.Option[Server] {
	return func(server *Server) {
		server.interceptors = append(server.interceptors, interceptors...)
	}
}

// ServerWithMaxDepth bounds the nesting of registered procedure types.
func ServerWithMaxDepth(n int) option.Option[Server] {
	return func(server *Server) {
		server.maxDepth = n
	}
}

// NewServer registers the typed serializer and DoNothingCompressor; add
// more with RegisterSerializer and RegisterCompressor.
func NewServer(opts ...option.Option[Server]) *Server {
	res := &Server{
		services:    make(map[string]map[string]*procedureStub, 8),
		serializers: make([]serialize.Serializer, 256),
		compressors: make([]compress.Compressor, 256),
		logger:      zap.NewNop(),
		maxDepth:    codec.DefaultMaxDepth,
	}
	for _, opt := range opts {
		opt(res)
	}
	res.RegisterSerializer(typed.Serializer{})
	res.RegisterCompressor(compress.DoNothingCompressor{})
	res.proxy = chain(ProxyFunc(func(ctx context.Context, req *message.Request) (*message.Response, error) {
		return res.invoke(ctx, req), nil
	}), res.interceptors)
	return res
}

// RegisterSerializer -> register serializer
func (s *Server) RegisterSerializer(serializer serialize.Serializer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.serializers[serializer.Code()] = serializer
}

// RegisterCompressor -> register compressor
func (s *Server) RegisterCompressor(compressor compress.Compressor) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.compressors[compressor.Code()] = compressor
}

// RegisterProcedure makes proc callable. Registering the same service and
// name twice fails.
func (s *Server) RegisterProcedure(proc Procedure, handler Handler) error {
	if err := proc.Validate(s.maxDepth); err != nil {
		return err
	}
	if handler == nil {
		return fmt.Errorf("typedrpc: %s has no handler", proc.FullName())
	}
	for i, param := range proc.Params {
		// handlers receive []any, which has no proto.Message to decode into
		if hasMessage(param.Type) {
			return fmt.Errorf("%w: %s parameter %d (%s) carries a MESSAGE", errs.ErrSchemaMismatch, proc.FullName(), i, param.Name)
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	procedures, ok := s.services[proc.Service]
	if !ok {
		procedures = make(map[string]*procedureStub, 8)
		s.services[proc.Service] = procedures
	}
	if _, ok = procedures[proc.Name]; ok {
		return fmt.Errorf("%w: %s", errs.DuplicateProcedure, proc.FullName())
	}
	procedures[proc.Name] = &procedureStub{proc: proc, handler: handler}
	s.logger.Debug("procedure registered", zap.String("service", proc.Service), zap.String("procedure", proc.Name))
	return nil
}

// Invoke runs the procedure named by req. Failures are reported in
// Response.Error, never as a nil response.
func (s *Server) Invoke(ctx context.Context, req *message.Request) *message.Response {
	resp, err := s.proxy.Invoke(ctx, req)
	if err != nil {
		resp = s.newResponse(req)
		s.fail(resp, req, err)
	}
	return resp
}

func (s *Server) invoke(ctx context.Context, req *message.Request) *message.Response {
	resp := s.newResponse(req)
	if deadline, err := strconv.ParseInt(req.Meta[deadlineKey], 10, 64); err == nil {
		var cancel context.CancelFunc
		ctx, cancel = context.WithDeadline(ctx, time.UnixMilli(deadline))
		defer cancel()
	}

	stub, serializer, compressor, err := s.lookup(req)
	if err != nil {
		s.fail(resp, req, err)
		return resp
	}
	data, err := compressor.UnCompress(req.Data)
	if err != nil {
		s.fail(resp, req, fmt.Errorf("%w: %v", errs.ErrMalformedInput, err))
		return resp
	}
	args, err := stub.decodeArguments(serializer, data)
	if err != nil {
		s.fail(resp, req, err)
		return resp
	}
	result, err := stub.handler(ctx, args)
	if err != nil {
		s.fail(resp, req, err)
		return resp
	}
	if stub.proc.Return == nil {
		return resp
	}
	data, err = serializer.Encode(result, stub.proc.Return)
	if err != nil {
		s.fail(resp, req, fmt.Errorf("%s result: %w", stub.proc.FullName(), err))
		return resp
	}
	if resp.Data, err = compressor.Compress(data); err != nil {
		s.fail(resp, req, err)
		return resp
	}
	resp.CalculateBodyLength()
	return resp
}

func (s *Server) lookup(req *message.Request) (*procedureStub, serialize.Serializer, compress.Compressor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	procedures, ok := s.services[req.Service]
	if !ok {
		return nil, nil, nil, fmt.Errorf("%w: %q", errs.InvalidServiceName, req.Service)
	}
	stub, ok := procedures[req.Procedure]
	if !ok {
		return nil, nil, nil, errs.NotFoundServiceMethod(req.Service + "." + req.Procedure)
	}
	serializer := s.serializers[req.Serializer]
	if serializer == nil {
		return nil, nil, nil, errs.UnknownSerializer(req.Serializer)
	}
	compressor := s.compressors[req.Compressor]
	if compressor == nil {
		return nil, nil, nil, errs.UnknownCompressor(req.Compressor)
	}
	return stub, serializer, compressor, nil
}

func (s *Server) newResponse(req *message.Request) *message.Response {
	resp := &message.Response{
		MessageId:  req.MessageId,
		Version:    req.Version,
		Compressor: req.Compressor,
		Serializer: req.Serializer,
	}
	resp.CalculateHeaderLength()
	return resp
}

func (s *Server) fail(resp *message.Response, req *message.Request, err error) {
	s.logger.Warn("procedure failed",
		zap.String("service", req.Service),
		zap.String("procedure", req.Procedure),
		zap.Uint32("message_id", req.MessageId),
		zap.Error(err))
	resp.Data = nil
	resp.Error = message.EncodeError(toMessageError(err))
	resp.CalculateHeaderLength()
	resp.CalculateBodyLength()
}

func hasMessage(typ *types.Type) bool {
	if typ.Code == types.CodeMessage {
		return true
	}
	for _, child := range typ.Children {
		if hasMessage(child) {
			return true
		}
	}
	return false
}

type procedureStub struct {
	proc    Procedure
	handler Handler
}

func (p *procedureStub) decodeArguments(serializer serialize.Serializer, data []byte) ([]any, error) {
	encoded, err := message.DecodeArguments(data)
	if err != nil {
		return nil, err
	}
	params := p.proc.Params
	args := make([]any, len(params))
	seen := make([]bool, len(params))
	for _, arg := range encoded {
		pos := int(arg.Position)
		if pos >= len(params) {
			return nil, errs.TooManyArguments(p.proc.FullName(), len(params), pos+1)
		}
		var value any
		if err = serializer.Decode(arg.Value, params[pos].Type, &value); err != nil {
			return nil, fmt.Errorf("%s argument %d (%s): %w", p.proc.FullName(), pos, params[pos].Name, err)
		}
		// a repeated position overwrites the earlier value
		args[pos] = value
		seen[pos] = true
	}
	for i, param := range params {
		if seen[i] {
			continue
		}
		if !param.HasDefault {
			return nil, errs.MissingArgument(p.proc.FullName(), i, param.Name)
		}
		args[i] = param.Default
	}
	return args, nil
}

// LoopbackProxy runs requests on s in process. Requests and responses still
// go through their binary frames, so it behaves like a transport that never
// drops a connection.
func LoopbackProxy(s *Server) Proxy {
	return ProxyFunc(func(ctx context.Context, req *message.Request) (*message.Response, error) {
		decoded, err := message.DecodeReq(message.EncodeReq(req))
		if err != nil {
			return nil, err
		}
		resp := s.Invoke(ctx, decoded)
		return message.DecodeResp(message.EncodeResp(resp))
	})
}
