package rpc

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
	"typedrpc/internal/errs"
	"typedrpc/rpc/compress/snappy"
	"typedrpc/rpc/message"
	"typedrpc/rpc/types"
)

var addProcedure = Procedure{
	Service: "Calculator",
	Name:    "Add",
	Params: []Param{
		{Name: "a", Type: types.Create(types.CodeSint32)},
		{Name: "b", Type: types.Create(types.CodeSint32), Default: int32(10), HasDefault: true},
	},
	Return: types.Create(types.CodeSint32),
}

func newRequest(id uint32, proc Procedure, data []byte) *message.Request {
	req := &message.Request{
		MessageId:  id,
		Version:    Version,
		Serializer: 1,
		Service:    proc.Service,
		Procedure:  proc.Name,
		Data:       data,
	}
	req.CalculateHeaderLength()
	req.CalculateBodyLength()
	return req
}

func newResponse(data []byte, remote *message.Error) *message.Response {
	resp := &message.Response{Serializer: 1, Data: data}
	if remote != nil {
		resp.Error = message.EncodeError(*remote)
	}
	resp.CalculateHeaderLength()
	resp.CalculateBodyLength()
	return resp
}

func TestClient_Call(t *testing.T) {
	testCases := []struct {
		name string
		mock func(ctrl *gomock.Controller) Proxy
		proc Procedure
		args []any

		wantRes any
		wantErr error
	}{
		{
			name: "two arguments",
			mock: func(ctrl *gomock.Controller) Proxy {
				p := NewMockProxy(ctrl)
				// a = 1 (zig-zag 02) at position 0, b = 2 (zig-zag 04) at position 1
				p.EXPECT().Invoke(gomock.Any(), newRequest(1, addProcedure,
					[]byte{0x0a, 0x03, 0x12, 0x01, 0x02, 0x0a, 0x05, 0x08, 0x01, 0x12, 0x01, 0x04})).
					Return(newResponse([]byte{0x06}, nil), nil)
				return p
			},
			proc:    addProcedure,
			args:    []any{int32(1), 2},
			wantRes: int32(3),
		},
		{
			name: "explicit default",
			mock: func(ctrl *gomock.Controller) Proxy {
				p := NewMockProxy(ctrl)
				p.EXPECT().Invoke(gomock.Any(), newRequest(1, addProcedure, []byte{0x0a, 0x03, 0x12, 0x01, 0x02})).
					Return(newResponse([]byte{0x16}, nil), nil)
				return p
			},
			proc:    addProcedure,
			args:    []any{int32(1), Default},
			wantRes: int32(11),
		},
		{
			name: "trailing default left off",
			mock: func(ctrl *gomock.Controller) Proxy {
				p := NewMockProxy(ctrl)
				p.EXPECT().Invoke(gomock.Any(), newRequest(1, addProcedure, []byte{0x0a, 0x03, 0x12, 0x01, 0x02})).
					Return(newResponse([]byte{0x16}, nil), nil)
				return p
			},
			proc:    addProcedure,
			args:    []any{int32(1)},
			wantRes: int32(11),
		},
		{
			name: "no return value",
			mock: func(ctrl *gomock.Controller) Proxy {
				p := NewMockProxy(ctrl)
				p.EXPECT().Invoke(gomock.Any(), gomock.Any()).Return(newResponse(nil, nil), nil)
				return p
			},
			proc: Procedure{Service: "KRPC", Name: "Ping"},
		},
		{
			name: "missing argument",
			mock: func(ctrl *gomock.Controller) Proxy {
				return NewMockProxy(ctrl)
			},
			proc:    addProcedure,
			wantErr: errs.MissingArgumentError,
		},
		{
			name: "default without a default value",
			mock: func(ctrl *gomock.Controller) Proxy {
				return NewMockProxy(ctrl)
			},
			proc:    addProcedure,
			args:    []any{Default},
			wantErr: errs.MissingArgumentError,
		},
		{
			name: "too many arguments",
			mock: func(ctrl *gomock.Controller) Proxy {
				return NewMockProxy(ctrl)
			},
			proc:    addProcedure,
			args:    []any{1, 2, 3},
			wantErr: errs.TooManyArgumentsError,
		},
		{
			name: "argument of the wrong type",
			mock: func(ctrl *gomock.Controller) Proxy {
				return NewMockProxy(ctrl)
			},
			proc:    addProcedure,
			args:    []any{"one"},
			wantErr: errs.ErrSchemaMismatch,
		},
		{
			name: "argument out of range",
			mock: func(ctrl *gomock.Controller) Proxy {
				return NewMockProxy(ctrl)
			},
			proc:    addProcedure,
			args:    []any{int64(1) << 40},
			wantErr: errs.ErrSchemaMismatch,
		},
		{
			name: "invalid procedure",
			mock: func(ctrl *gomock.Controller) Proxy {
				return NewMockProxy(ctrl)
			},
			proc:    Procedure{Name: "Add"},
			wantErr: errs.InvalidProcedure,
		},
		{
			name: "proxy error",
			mock: func(ctrl *gomock.Controller) Proxy {
				p := NewMockProxy(ctrl)
				p.EXPECT().Invoke(gomock.Any(), gomock.Any()).Return(nil, errs.ReadRespFailError)
				return p
			},
			proc:    addProcedure,
			args:    []any{1, 2},
			wantErr: errs.ReadRespFailError,
		},
		{
			name: "remote error",
			mock: func(ctrl *gomock.Controller) Proxy {
				p := NewMockProxy(ctrl)
				p.EXPECT().Invoke(gomock.Any(), gomock.Any()).
					Return(newResponse(nil, &message.Error{Name: "Overflow", Description: "too big"}), nil)
				return p
			},
			proc:    addProcedure,
			args:    []any{1, 2},
			wantErr: errs.ErrOverflow,
		},
		{
			name: "malformed result",
			mock: func(ctrl *gomock.Controller) Proxy {
				p := NewMockProxy(ctrl)
				p.EXPECT().Invoke(gomock.Any(), gomock.Any()).Return(newResponse([]byte{0x80}, nil), nil)
				return p
			},
			proc:    addProcedure,
			args:    []any{1, 2},
			wantErr: errs.ErrMalformedInput,
		},
		{
			name: "response from another serializer",
			mock: func(ctrl *gomock.Controller) Proxy {
				p := NewMockProxy(ctrl)
				resp := newResponse([]byte{0x06}, nil)
				resp.Serializer = 2
				p.EXPECT().Invoke(gomock.Any(), gomock.Any()).Return(resp, nil)
				return p
			},
			proc:    addProcedure,
			args:    []any{1, 2},
			wantErr: errs.UnknownSerializerError,
		},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			ctrl := gomock.NewController(t)
			defer ctrl.Finish()
			client, err := NewClient(tc.mock(ctrl))
			require.NoError(t, err)
			res, err := client.Call(context.Background(), tc.proc, tc.args...)
			assert.ErrorIs(t, err, tc.wantErr)
			if err != nil {
				return
			}
			assert.Equal(t, tc.wantRes, res)
		})
	}
}

func TestClient_RemoteError(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()
	p := NewMockProxy(ctrl)
	p.EXPECT().Invoke(gomock.Any(), gomock.Any()).Return(newResponse(nil, &message.Error{
		Service:     "SpaceCenter",
		Name:        "InvalidOperation",
		Description: "no active vessel",
	}), nil)
	client, err := NewClient(p)
	require.NoError(t, err)

	_, err = client.Call(context.Background(), Procedure{Service: "SpaceCenter", Name: "get_ActiveVessel"})
	var re *RemoteError
	require.True(t, errors.As(err, &re))
	assert.Equal(t, &RemoteError{Service: "SpaceCenter", Name: "InvalidOperation", Description: "no active vessel"}, re)
	assert.Equal(t, "typedrpc: remote SpaceCenter.InvalidOperation: no active vessel", err.Error())
	assert.False(t, errors.Is(err, errs.ErrSchemaMismatch))
}

func TestClient_CallInto(t *testing.T) {
	proc := Procedure{
		Service: "SpaceCenter",
		Name:    "Vessel_get_Parts",
		Return:  types.CreateList(types.Create(types.CodeUint32)),
	}
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()
	p := NewMockProxy(ctrl)
	p.EXPECT().Invoke(gomock.Any(), gomock.Any()).
		Return(newResponse([]byte{0x0a, 0x01, 0x01, 0x0a, 0x01, 0x02}, nil), nil)
	p.EXPECT().Invoke(gomock.Any(), gomock.Any()).Return(nil, errs.ReadRespFailError)
	client, err := NewClient(p)
	require.NoError(t, err)

	var parts []uint16
	require.NoError(t, client.CallInto(context.Background(), proc, &parts))
	assert.Equal(t, []uint16{1, 2}, parts)

	err = client.CallInto(context.Background(), proc, &parts)
	assert.ErrorIs(t, err, errs.ReadRespFailError)
	assert.Equal(t, []uint16{1, 2}, parts)
}

func TestClient_RequestHeader(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()
	p := NewMockProxy(ctrl)

	var got []*message.Request
	p.EXPECT().Invoke(gomock.Any(), gomock.Any()).
		DoAndReturn(func(ctx context.Context, req *message.Request) (*message.Response, error) {
			got = append(got, req)
			resp := newResponse(nil, nil)
			resp.Compressor = req.Compressor
			return resp, nil
		}).Times(2)
	client, err := NewClient(p, ClientWithCompressor(snappy.Compressor{}))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	proc := Procedure{Service: "KRPC", Name: "Ping"}
	_, err = client.Call(ctx, proc)
	require.NoError(t, err)
	_, err = client.Call(context.Background(), proc)
	require.NoError(t, err)

	require.Len(t, got, 2)
	assert.Equal(t, uint32(1), got[0].MessageId)
	assert.Equal(t, uint32(2), got[1].MessageId)
	assert.Equal(t, snappy.Compressor{}.Code(), got[0].Compressor)
	assert.Contains(t, got[0].Meta, deadlineKey)
	assert.NotContains(t, got[1].Meta, deadlineKey)
}

func TestNewClient_NilProxy(t *testing.T) {
	_, err := NewClient(nil)
	assert.Equal(t, errs.NilProxyError, err)
}
