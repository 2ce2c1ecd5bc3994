package prometheus

import (
	"context"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"typedrpc/rpc"
	"typedrpc/rpc/message"
	"typedrpc/rpc/types"
)

func TestInterceptorBuilder(t *testing.T) {
	b := &InterceptorBuilder{
		Namespace:  "typedrpc",
		Subsystem:  "test",
		Name:       "calls",
		Help:       "procedure calls",
		Kind:       "server",
		Registerer: prometheus.NewRegistry(),
	}
	interceptor := b.Build()

	testCases := []struct {
		name       string
		next       rpc.ProxyFunc
		wantStatus string
		wantErr    bool
	}{
		{
			name: "ok",
			next: func(ctx context.Context, req *message.Request) (*message.Response, error) {
				return &message.Response{}, nil
			},
			wantStatus: "OK",
		},
		{
			name: "remote error",
			next: func(ctx context.Context, req *message.Request) (*message.Response, error) {
				return &message.Response{Error: message.EncodeError(message.Error{Name: "SchemaMismatch"})}, nil
			},
			wantStatus: "SchemaMismatch",
		},
		{
			name: "unnamed remote error",
			next: func(ctx context.Context, req *message.Request) (*message.Response, error) {
				return &message.Response{Error: message.EncodeError(message.Error{Description: "boom"})}, nil
			},
			wantStatus: "RemoteError",
		},
		{
			name: "transport error",
			next: func(ctx context.Context, req *message.Request) (*message.Response, error) {
				return nil, errors.New("connection reset")
			},
			wantStatus: "TransportError",
			wantErr:    true,
		},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			req := &message.Request{Service: "Calculator", Procedure: tc.name}
			_, err := interceptor(tc.next).Invoke(context.Background(), req)
			assert.Equal(t, tc.wantErr, err != nil)

			errCnt := testutil.ToFloat64(b.errCntVec.WithLabelValues("Calculator", tc.name, tc.wantStatus))
			if tc.wantStatus == statusOK {
				assert.Equal(t, float64(0), errCnt)
			} else {
				assert.Equal(t, float64(1), errCnt)
			}
			assert.Equal(t, float64(0), testutil.ToFloat64(b.activeVec.WithLabelValues("Calculator", tc.name)))
		})
	}
}

func TestInterceptorBuilder_ActiveCalls(t *testing.T) {
	b := &InterceptorBuilder{Name: "active", Kind: "client", Registerer: prometheus.NewRegistry()}
	interceptor := b.Build()
	var during float64
	next := rpc.ProxyFunc(func(ctx context.Context, req *message.Request) (*message.Response, error) {
		during = testutil.ToFloat64(b.activeVec.WithLabelValues("KRPC", "GetStatus"))
		return &message.Response{}, nil
	})
	_, err := interceptor(next).Invoke(context.Background(), &message.Request{Service: "KRPC", Procedure: "GetStatus"})
	require.NoError(t, err)
	assert.Equal(t, float64(1), during)
	assert.Equal(t, float64(0), testutil.ToFloat64(b.activeVec.WithLabelValues("KRPC", "GetStatus")))
}

func TestInterceptorBuilder_WithServer(t *testing.T) {
	reg := prometheus.NewRegistry()
	b := &InterceptorBuilder{Name: "server", Kind: "server", Address: "127.0.0.1:50000", Registerer: reg}
	s := rpc.NewServer(rpc.ServerWithInterceptors(b.Build()))
	proc := rpc.Procedure{
		Service: "KRPC",
		Name:    "Echo",
		Params:  []rpc.Param{{Name: "s", Type: types.Create(types.CodeString)}},
		Return:  types.Create(types.CodeString),
	}
	require.NoError(t, s.RegisterProcedure(proc, func(ctx context.Context, args []any) (any, error) {
		return args[0], nil
	}))
	client, err := rpc.NewClient(rpc.LoopbackProxy(s))
	require.NoError(t, err)

	res, err := client.Call(context.Background(), proc, "hi")
	require.NoError(t, err)
	assert.Equal(t, "hi", res)
	_, err = client.Call(context.Background(), proc, 1)
	assert.Error(t, err)
	_, err = client.Call(context.Background(), rpc.Procedure{Service: "KRPC", Name: "Missing"})
	assert.Error(t, err)

	assert.Equal(t, float64(1), testutil.ToFloat64(b.errCntVec.WithLabelValues("KRPC", "Missing", "ProcedureNotFound")))
	families, err := reg.Gather()
	require.NoError(t, err)
	assert.Len(t, families, 3)
}
