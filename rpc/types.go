package rpc

import (
	"context"
	"errors"
	"fmt"

	"typedrpc/internal/errs"
	"typedrpc/rpc/message"
	"typedrpc/rpc/types"
)

// Version is written into every request header.
const Version uint8 = 1

//go:generate mockgen -source=types.go -destination=mock_proxy_test.go -package=rpc

// Proxy carries a request to wherever the procedure runs and returns its
// response. Transports implement it; Server does too, through LoopbackProxy.
type Proxy interface {
	Invoke(ctx context.Context, request *message.Request) (*message.Response, error)
}

// ProxyFunc adapts a function to Proxy.
type ProxyFunc func(ctx context.Context, request *message.Request) (*message.Response, error)

func (f ProxyFunc) Invoke(ctx context.Context, request *message.Request) (*message.Response, error) {
	return f(ctx, request)
}

// Interceptor wraps a Proxy. Client and Server apply interceptors in the
// order given, the first one being outermost.
type Interceptor func(next Proxy) Proxy

func chain(p Proxy, interceptors []Interceptor) Proxy {
	for i := len(interceptors) - 1; i >= 0; i-- {
		p = interceptors[i](p)
	}
	return p
}

// Procedure describes a remote procedure: where it lives and the type of
// every parameter and of the return value. A nil Return means the procedure
// returns nothing.
type Procedure struct {
	Service string
	Name    string
	Params  []Param
	Return  *types.Type
}

// Param is one procedure parameter. When HasDefault is set the caller may
// pass Default in its place, or leave it off the end of the argument list,
// and the server substitutes Default.
type Param struct {
	Name       string
	Type       *types.Type
	Default    any
	HasDefault bool
}

// FullName -> Service.Name
func (p Procedure) FullName() string {
	return p.Service + "." + p.Name
}

// Validate checks the names and every type descriptor of p.
func (p Procedure) Validate(maxDepth int) error {
	if p.Service == "" || p.Name == "" {
		return errs.InvalidProcedure
	}
	for i, param := range p.Params {
		if param.Type == nil {
			return fmt.Errorf("%w: %s parameter %d (%s) has no type", errs.ErrSchemaMismatch, p.FullName(), i, param.Name)
		}
		if err := param.Type.Validate(maxDepth); err != nil {
			return fmt.Errorf("%s parameter %d (%s): %w", p.FullName(), i, param.Name, err)
		}
	}
	if p.Return != nil {
		if err := p.Return.Validate(maxDepth); err != nil {
			return fmt.Errorf("%s return: %w", p.FullName(), err)
		}
	}
	return nil
}

type defaultArgument struct{}

// Default stands for "use the parameter's default value" in an argument list.
var Default = defaultArgument{}

// RemoteError is a failure reported by the server. Name is the class of the
// error; failures of the call machinery itself use the names below so that
// errors.Is matches the corresponding sentinel from internal/errs.
type RemoteError struct {
	Service     string
	Name        string
	Description string
}

func (e *RemoteError) Error() string {
	if e.Name == "" {
		return "typedrpc: remote: " + e.Description
	}
	if e.Service == "" {
		return fmt.Sprintf("typedrpc: remote %s: %s", e.Name, e.Description)
	}
	return fmt.Sprintf("typedrpc: remote %s.%s: %s", e.Service, e.Name, e.Description)
}

func (e *RemoteError) Is(target error) bool {
	for _, k := range errorNames {
		if k.err == target {
			return e.Name == k.name
		}
	}
	return false
}

var errorNames = []struct {
	err  error
	name string
}{
	{err: errs.ErrMalformedInput, name: "MalformedInput"},
	{err: errs.ErrSchemaMismatch, name: "SchemaMismatch"},
	{err: errs.ErrOverflow, name: "Overflow"},
	{err: errs.InvalidServiceName, name: "InvalidService"},
	{err: errs.ProcedureNotFoundError, name: "ProcedureNotFound"},
	{err: errs.MissingArgumentError, name: "MissingArgument"},
	{err: errs.TooManyArgumentsError, name: "TooManyArguments"},
	{err: errs.UnknownSerializerError, name: "UnknownSerializer"},
	{err: errs.UnknownCompressorError, name: "UnknownCompressor"},
}

// toMessageError turns a server side failure into its wire form.
func toMessageError(err error) message.Error {
	var re *RemoteError
	if errors.As(err, &re) {
		return message.Error{Service: re.Service, Name: re.Name, Description: re.Description}
	}
	res := message.Error{Description: err.Error()}
	for _, k := range errorNames {
		if errors.Is(err, k.err) {
			res.Name = k.name
			break
		}
	}
	return res
}

func fromMessageError(e message.Error) *RemoteError {
	return &RemoteError{Service: e.Service, Name: e.Name, Description: e.Description}
}
