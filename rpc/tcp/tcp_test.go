package tcp

import (
	"bytes"
	"context"
	"encoding/binary"
	"io"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/gotomicro/ekit/bean/option"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
	"typedrpc/internal/errs"
	"typedrpc/rpc"
	"typedrpc/rpc/message"
	"typedrpc/rpc/types"
)

func TestReadMsg(t *testing.T) {
	req := &message.Request{MessageId: 3, Service: "KRPC", Procedure: "GetStatus", Data: []byte{1, 2}}
	req.CalculateHeaderLength()
	req.CalculateBodyLength()
	frame := message.EncodeReq(req)

	tooShort := make([]byte, lenBytes)
	binary.BigEndian.PutUint32(tooShort, 4)
	noMeta := make([]byte, 16)
	binary.BigEndian.PutUint32(noMeta, 10)
	binary.BigEndian.PutUint32(noMeta[4:], 6)
	tooLong := make([]byte, lenBytes)
	binary.BigEndian.PutUint32(tooLong, 16)
	binary.BigEndian.PutUint32(tooLong[4:], maxFrameLength)

	testCases := []struct {
		name    string
		input   []byte
		want    []byte
		wantErr error
	}{
		{name: "frame", input: frame, want: frame},
		{name: "frame followed by more", input: append(append([]byte{}, frame...), 9, 9), want: frame},
		{name: "empty", input: nil, wantErr: io.EOF},
		{name: "short prefix", input: frame[:5], wantErr: io.ErrUnexpectedEOF},
		{name: "short body", input: frame[:len(frame)-1], wantErr: io.ErrUnexpectedEOF},
		{name: "head shorter than prefix", input: tooShort, wantErr: errs.ErrMalformedInput},
		{name: "head shorter than fixed fields", input: noMeta, wantErr: errs.ErrMalformedInput},
		{name: "too long", input: tooLong, wantErr: errs.ErrMalformedInput},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			bs, err := ReadMsg(bytes.NewReader(tc.input))
			if tc.wantErr != nil {
				assert.ErrorIs(t, err, tc.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, bs)
		})
	}
}

var concatProcedure = rpc.Procedure{
	Service: "Strings",
	Name:    "Concat",
	Params: []rpc.Param{
		{Name: "parts", Type: types.CreateList(types.Create(types.CodeString))},
		{Name: "sep", Type: types.Create(types.CodeString), Default: ",", HasDefault: true},
	},
	Return: types.Create(types.CodeString),
}

func startServer(t *testing.T, opts ...option.Option[Server]) (*Server, string) {
	s := rpc.NewServer()
	require.NoError(t, s.RegisterProcedure(concatProcedure, func(ctx context.Context, args []any) (any, error) {
		parts := make([]string, 0, len(args[0].([]any)))
		for _, p := range args[0].([]any) {
			parts = append(parts, p.(string))
		}
		return strings.Join(parts, args[1].(string)), nil
	}))
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	server := NewServer(s, opts...)
	done := make(chan error, 1)
	go func() {
		done <- server.Serve(listener)
	}()
	t.Cleanup(func() {
		assert.NoError(t, server.Close())
		assert.NoError(t, <-done)
	})
	return server, listener.Addr().String()
}

func TestProxy_Call(t *testing.T) {
	_, address := startServer(t)
	proxy, err := NewProxy(address)
	require.NoError(t, err)
	defer func() {
		assert.NoError(t, proxy.Close())
	}()
	client, err := rpc.NewClient(proxy)
	require.NoError(t, err)

	res, err := client.Call(context.Background(), concatProcedure, []any{"a", "b", "c"})
	require.NoError(t, err)
	assert.Equal(t, "a,b,c", res)

	res, err = client.Call(context.Background(), concatProcedure, []string{"x", "y"}, "-")
	require.NoError(t, err)
	assert.Equal(t, "x-y", res)

	_, err = client.Call(context.Background(), rpc.Procedure{Service: "Strings", Name: "Reverse"})
	assert.ErrorIs(t, err, errs.ProcedureNotFoundError)
	assert.Equal(t, 1, proxy.Len())
}

func TestProxy_Concurrent(t *testing.T) {
	_, address := startServer(t)
	proxy, err := NewProxy(address, ProxyWithPoolSize(2, 4, 32))
	require.NoError(t, err)
	defer func() {
		assert.NoError(t, proxy.Close())
	}()
	client, err := rpc.NewClient(proxy)
	require.NoError(t, err)

	var eg errgroup.Group
	for i := 0; i < 32; i++ {
		word := strings.Repeat("w", i)
		eg.Go(func() error {
			res, err := client.Call(context.Background(), concatProcedure, []string{word, word}, "|")
			if err != nil {
				return err
			}
			assert.Equal(t, word+"|"+word, res)
			return nil
		})
	}
	require.NoError(t, eg.Wait())
}

func TestServer_MaxConns(t *testing.T) {
	_, address := startServer(t, ServerWithMaxConns(1))
	proxy, err := NewProxy(address, ProxyWithPoolSize(1, 1, 1))
	require.NoError(t, err)
	defer func() {
		assert.NoError(t, proxy.Close())
	}()
	client, err := rpc.NewClient(proxy)
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		res, err := client.Call(context.Background(), concatProcedure, []string{"a"})
		require.NoError(t, err)
		assert.Equal(t, "a", res)
	}
}

func TestProxy_ContextDone(t *testing.T) {
	_, address := startServer(t)
	proxy, err := NewProxy(address)
	require.NoError(t, err)
	defer func() {
		assert.NoError(t, proxy.Close())
	}()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = proxy.Invoke(ctx, &message.Request{Service: "Strings", Procedure: "Concat"})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNewProxy_Unreachable(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	address := listener.Addr().String()
	require.NoError(t, listener.Close())
	_, err = NewProxy(address, ProxyWithDialTimeout(time.Second))
	assert.Error(t, err)
}

func TestServer_DropsMalformedFrame(t *testing.T) {
	_, address := startServer(t)
	conn, err := net.Dial("tcp", address)
	require.NoError(t, err)
	defer conn.Close()

	// a consistent prefix around a header with no service terminator
	frame := make([]byte, 20)
	binary.BigEndian.PutUint32(frame, 20)
	_, err = conn.Write(frame)
	require.NoError(t, err)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, err = conn.Read(make([]byte, 1))
	assert.ErrorIs(t, err, io.EOF)
}

func TestServer_CloseBeforeServe(t *testing.T) {
	server := NewServer(rpc.NewServer())
	assert.Nil(t, server.Addr())
	require.NoError(t, server.Close())
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	assert.ErrorIs(t, server.Serve(listener), net.ErrClosed)
}
