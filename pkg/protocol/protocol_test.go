package protocol_test

import (
	"context"
	"net"
	"testing"

	"blockfs/pkg/protocol"
	"blockfs/pkg/shared"
	"blockfs/pkg/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/encoding"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
)

// echoWorker answers ReadBlock with the request id it saw.
type echoWorker struct {
	protocol.WorkerServer
}

func (echoWorker) ReadBlock(ctx context.Context, req *protocol.ReadBlockRequest) (*protocol.ReadBlockResponse, error) {
	if req.BlockID == "missing" {
		return nil, status.Errorf(codes.NotFound, "block %s not found", req.BlockID)
	}
	return &protocol.ReadBlockResponse{
		Data:     []byte{0, 1, 2, 0xff},
		Checksum: protocol.RequestIDFromContext(ctx),
	}, nil
}

func dialWorker(t *testing.T) *protocol.WorkerClient {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	srv := grpc.NewServer(shared.ServerOptions(protocol.LoggingUnaryInterceptor(zaptest.NewLogger(t)))...)
	protocol.RegisterWorkerServer(srv, echoWorker{})
	go srv.Serve(lis)
	t.Cleanup(srv.Stop)

	opts := append(shared.DialOptions(), grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
		return lis.DialContext(ctx)
	}))
	conn, err := grpc.DialContext(context.Background(), "worker:9001", opts...)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return protocol.NewWorkerClient(conn)
}

func TestCodecRegistered(t *testing.T) {
	codec := encoding.GetCodec(protocol.CodecName)
	require.NotNil(t, codec)
	assert.Equal(t, "json", codec.Name())

	in := &protocol.HeartbeatRequest{Host: "10.0.0.1", Port: 9001, Usage: &types.UsageReport{CapacityBytes: 1 << 30, UsedBytes: 512}}
	data, err := codec.Marshal(in)
	require.NoError(t, err)

	out := &protocol.HeartbeatRequest{}
	require.NoError(t, codec.Unmarshal(data, out))
	assert.Equal(t, in, out)
}

func TestUnaryCall(t *testing.T) {
	client := dialWorker(t)
	ctx := context.Background()

	t.Run("binary payload survives", func(t *testing.T) {
		resp, err := client.ReadBlock(ctx, &protocol.ReadBlockRequest{BlockID: "b"})
		require.NoError(t, err)
		assert.Equal(t, []byte{0, 1, 2, 0xff}, resp.Data)
		assert.NotEmpty(t, resp.Checksum, "client interceptor attaches a request id")
	})

	t.Run("caller request id is kept", func(t *testing.T) {
		ctx := metadata.AppendToOutgoingContext(ctx, protocol.RequestIDKey, "req-42")
		resp, err := client.ReadBlock(ctx, &protocol.ReadBlockRequest{BlockID: "b"})
		require.NoError(t, err)
		assert.Equal(t, "req-42", resp.Checksum)
	})

	t.Run("status codes pass through", func(t *testing.T) {
		_, err := client.ReadBlock(ctx, &protocol.ReadBlockRequest{BlockID: "missing"})
		assert.Equal(t, codes.NotFound, status.Code(err))
	})
}
