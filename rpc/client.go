package rpc

import (
	"context"
	"fmt"
	"strconv"
	"sync/atomic"

	"github.com/gotomicro/ekit/bean/option"
	"go.uber.org/zap"
	"typedrpc/internal/errs"
	"typedrpc/rpc/compress"
	"typedrpc/rpc/message"
	"typedrpc/rpc/serialize"
	"typedrpc/rpc/serialize/typed"
)

var _ Proxy = (*Client)(nil)

const deadlineKey = "deadline"

// Client marshals procedure calls and sends them through a Proxy. It is safe
// for concurrent use.
type Client struct {
	proxy        Proxy
	serializer   serialize.Serializer
	compressor   compress.Compressor
	logger       *zap.Logger
	interceptors []Interceptor

	messageId uint32
}

// ClientWithSerializer -> option
func ClientWithSerializer(s serialize.Serializer) option.Option[Client] {
	return func(client *Client) {
		client.serializer = s
	}
}

// ClientWithCompressor -> option
func ClientWithCompressor(c compress.Compressor) option.Option[Client] {
	return func(client *Client) {
		client.compressor = c
	}
}

// ClientWithLogger -> option
func ClientWithLogger(l *zap.Logger) option.Option[Client] {
	return func(client *Client) {
		client.logger = l
	}
}

// ClientWithInterceptors appends interceptors around the proxy, for example
// the ones from observability/metrics/prometheus and observability/opentelemetry.
func ClientWithInterceptors(interceptors ...Interceptor) option.Option[Client] {
	return func(client *Client) {
		client.interceptors = append(client.interceptors, interceptors...)
	}
}

// NewClient -> create Client
func NewClient(proxy Proxy, opts ...option.Option[Client]) (*Client, error) {
	if proxy == nil {
		return nil, errs.NilProxyError
	}
	client := &Client{
		serializer: typed.Serializer{},
		compressor: compress.DoNothingCompressor{},
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(client)
	}
	client.proxy = chain(proxy, client.interceptors)
	return client, nil
}

// Invoke sends an already built request through the interceptors.
func (c *Client) Invoke(ctx context.Context, req *message.Request) (*message.Response, error) {
	return c.proxy.Invoke(ctx, req)
}

// Call invokes proc with args and returns the result in the default Go
// representation of proc.Return, or nil when proc returns nothing. Pass
// Default, or leave trailing arguments off, to use a parameter's default.
func (c *Client) Call(ctx context.Context, proc Procedure, args ...any) (any, error) {
	var res any
	if err := c.CallInto(ctx, proc, &res, args...); err != nil {
		return nil, err
	}
	return res, nil
}

// CallInto invokes proc and decodes the result into target, a non-nil
// pointer. target is left untouched when the call fails.
func (c *Client) CallInto(ctx context.Context, proc Procedure, target any, args ...any) error {
	logger := c.logger.With(zap.String("service", proc.Service), zap.String("procedure", proc.Name))
	data, err := c.encodeArguments(proc, args)
	if err != nil {
		logger.Debug("encoding arguments failed", zap.Error(err))
		return err
	}
	req := &message.Request{
		MessageId:  atomic.AddUint32(&c.messageId, 1),
		Version:    Version,
		Compressor: c.compressor.Code(),
		Serializer: c.serializer.Code(),
		Service:    proc.Service,
		Procedure:  proc.Name,
		Data:       data,
	}
	if deadline, ok := ctx.Deadline(); ok {
		req.Meta = map[string]string{deadlineKey: strconv.FormatInt(deadline.UnixMilli(), 10)}
	}
	req.CalculateHeaderLength()
	req.CalculateBodyLength()

	resp, err := c.proxy.Invoke(ctx, req)
	if err != nil {
		logger.Warn("invoke failed", zap.Uint32("message_id", req.MessageId), zap.Error(err))
		return err
	}
	if err = c.decodeResult(proc, resp, target); err != nil {
		logger.Debug("call failed", zap.Uint32("message_id", req.MessageId), zap.Error(err))
		return err
	}
	return nil
}

func (c *Client) encodeArguments(proc Procedure, args []any) ([]byte, error) {
	if proc.Service == "" || proc.Name == "" {
		return nil, errs.InvalidProcedure
	}
	if len(args) > len(proc.Params) {
		return nil, errs.TooManyArguments(proc.FullName(), len(proc.Params), len(args))
	}
	encoded := make([]message.Argument, 0, len(args))
	for i, param := range proc.Params {
		if i >= len(args) || args[i] == Default {
			if !param.HasDefault {
				return nil, errs.MissingArgument(proc.FullName(), i, param.Name)
			}
			continue
		}
		value, err := c.serializer.Encode(args[i], param.Type)
		if err != nil {
			return nil, fmt.Errorf("typedrpc: %s argument %d (%s): %w", proc.FullName(), i, param.Name, err)
		}
		encoded = append(encoded, message.Argument{Position: uint32(i), Value: value})
	}
	return c.compressor.Compress(message.EncodeArguments(encoded))
}

func (c *Client) decodeResult(proc Procedure, resp *message.Response, target any) error {
	if len(resp.Error) > 0 {
		e, err := message.DecodeError(resp.Error)
		if err != nil {
			return fmt.Errorf("%w: %w", errs.ReadRespFailError, err)
		}
		return fromMessageError(e)
	}
	if proc.Return == nil {
		return nil
	}
	if resp.Compressor != c.compressor.Code() {
		return errs.UnknownCompressor(resp.Compressor)
	}
	if resp.Serializer != c.serializer.Code() {
		return errs.UnknownSerializer(resp.Serializer)
	}
	data, err := c.compressor.UnCompress(resp.Data)
	if err != nil {
		return fmt.Errorf("%w: %w", errs.ReadRespFailError, err)
	}
	if err = c.serializer.Decode(data, proc.Return, target); err != nil {
		return fmt.Errorf("typedrpc: %s result: %w", proc.FullName(), err)
	}
	return nil
}
