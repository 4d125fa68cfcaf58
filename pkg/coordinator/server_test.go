package coordinator

import (
	"context"
	"net"
	"testing"
	"time"

	"blockfs/pkg/protocol"
	"blockfs/pkg/shared"
	"blockfs/pkg/types"
	"blockfs/pkg/utils"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
)

// serve exposes the harness coordinator over an in-memory listener.
func (h *harness) serve(t *testing.T) *protocol.NameNodeClient {
	t.Helper()

	lis := bufconn.Listen(1 << 20)
	srv := grpc.NewServer(shared.ServerOptions(protocol.LoggingUnaryInterceptor(zaptest.NewLogger(t)))...)
	protocol.RegisterNameNodeServer(srv, NewServer(h.coord))
	go srv.Serve(lis)
	t.Cleanup(srv.Stop)

	opts := append(shared.DialOptions(), grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
		return lis.DialContext(ctx)
	}))
	conn, err := grpc.DialContext(context.Background(), "bufnet", opts...)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	return protocol.NewNameNodeClient(conn)
}

func TestServerFileOperations(t *testing.T) {
	h := newHarness(t, nil)
	client := h.serve(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	for _, port := range []int{9001, 9002} {
		resp, err := client.RegisterWorker(ctx, &protocol.RegisterWorkerRequest{Host: "10.0.0.1", Port: port, CapacityBytes: 10 * utils.GiB})
		require.NoError(t, err)
		assert.Equal(t, types.MakeWorkerID("10.0.0.1", port), resp.WorkerID)
		assert.Equal(t, int64(64*utils.MiB), resp.BlockSize)
	}

	_, err := client.CreateDirectory(ctx, &protocol.CreateDirectoryRequest{Path: "/data", Owner: "alice"})
	require.NoError(t, err)

	created, err := client.CreateFile(ctx, &protocol.CreateFileRequest{Path: "/data/a.bin", Owner: "alice", Size: 70 * utils.MiB})
	require.NoError(t, err)
	require.Len(t, created.Layout.Blocks, 2)

	var state types.FileState
	for _, b := range created.Layout.Blocks {
		resp, err := client.ConfirmBlockWrite(ctx, &protocol.ConfirmBlockWriteRequest{
			BlockID:  b.ID,
			WorkerID: b.Leader(),
			Checksum: "abc",
		})
		require.NoError(t, err)
		state = resp.FileState
	}
	assert.Equal(t, types.FileCompleted, state)

	layout, err := client.GetBlockLayout(ctx, &protocol.GetBlockLayoutRequest{Path: "/data/a.bin"})
	require.NoError(t, err)
	assert.Equal(t, created.Layout.File.BlockIDs, layout.Layout.File.BlockIDs)

	list, err := client.ListDirectory(ctx, &protocol.ListDirectoryRequest{Path: "/data"})
	require.NoError(t, err)
	require.Len(t, list.Entries, 1)
	assert.Equal(t, int64(70*utils.MiB), list.Entries[0].Size)

	search, err := client.SearchFiles(ctx, &protocol.SearchFilesRequest{Owner: "alice"})
	require.NoError(t, err)
	require.Len(t, search.Files, 1)

	_, err = client.MoveFile(ctx, &protocol.MoveFileRequest{Source: "/data/a.bin", Destination: "/a.bin", Requester: "alice"})
	require.NoError(t, err)

	stat, err := client.Stat(ctx, &protocol.StatRequest{Path: "/a.bin"})
	require.NoError(t, err)
	assert.Equal(t, types.FileCompleted, stat.Entry.State)

	stats, err := client.GetStats(ctx, &protocol.GetStatsRequest{})
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Stats.Files)
	assert.Equal(t, 2, stats.Stats.ActiveWorkers)

	_, err = client.DeleteFile(ctx, &protocol.DeleteFileRequest{Path: "/a.bin", Requester: "alice"})
	require.NoError(t, err)
	_, err = client.DeleteDirectory(ctx, &protocol.DeleteDirectoryRequest{Path: "/data", Requester: "alice"})
	require.NoError(t, err)
}

func TestServerErrorMapping(t *testing.T) {
	h := newHarness(t, nil)
	client := h.serve(t)
	ctx := context.Background()

	_, err := client.CreateDirectory(ctx, &protocol.CreateDirectoryRequest{Path: "/taken", Owner: "alice"})
	require.NoError(t, err)

	tests := []struct {
		name string
		call func() error
		code codes.Code
		want error
	}{
		{
			name: "missing path",
			call: func() error {
				_, err := client.Stat(ctx, &protocol.StatRequest{Path: "/missing"})
				return err
			},
			code: codes.NotFound,
			want: ErrNotFound,
		},
		{
			name: "unknown block",
			call: func() error {
				_, err := client.ConfirmBlockWrite(ctx, &protocol.ConfirmBlockWriteRequest{BlockID: "x", WorkerID: "w:1"})
				return err
			},
			code: codes.NotFound,
			want: ErrBlockNotFound,
		},
		{
			name: "duplicate",
			call: func() error {
				_, err := client.CreateDirectory(ctx, &protocol.CreateDirectoryRequest{Path: "/taken", Owner: "alice"})
				return err
			},
			code: codes.AlreadyExists,
			want: ErrAlreadyExists,
		},
		{
			name: "no workers",
			call: func() error {
				_, err := client.CreateFile(ctx, &protocol.CreateFileRequest{Path: "/f", Owner: "alice", Size: 1})
				return err
			},
			code: codes.ResourceExhausted,
			want: ErrInsufficientWorkers,
		},
		{
			name: "permission",
			call: func() error {
				_, err := client.DeleteDirectory(ctx, &protocol.DeleteDirectoryRequest{Path: "/taken", Requester: "bob"})
				return err
			},
			code: codes.PermissionDenied,
			want: ErrPermissionDenied,
		},
		{
			name: "bad prune age",
			call: func() error {
				_, err := client.PruneWorkers(ctx, &protocol.PruneWorkersRequest{})
				return err
			},
			code: codes.InvalidArgument,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.call()
			require.Error(t, err)
			assert.Equal(t, tt.code, status.Code(err))
			if tt.want != nil {
				assert.ErrorIs(t, ErrorFromStatus(err), tt.want)
			}
		})
	}
}

func TestErrorFromStatusUsesDetails(t *testing.T) {
	h := newHarness(t, nil)
	client := h.serve(t)
	ctx := context.Background()

	t.Run("message naming another kind", func(t *testing.T) {
		_, err := client.CreateDirectory(ctx, &protocol.CreateDirectoryRequest{Path: "/parent directory missing", Owner: "alice"})
		require.NoError(t, err)
		_, err = client.CreateDirectory(ctx, &protocol.CreateDirectoryRequest{Path: "/parent directory missing/child", Owner: "alice"})
		require.NoError(t, err)

		_, err = client.DeleteDirectory(ctx, &protocol.DeleteDirectoryRequest{Path: "/parent directory missing", Requester: "alice"})
		require.Error(t, err)
		assert.Equal(t, codes.FailedPrecondition, status.Code(err))

		mapped := ErrorFromStatus(err)
		assert.ErrorIs(t, mapped, ErrNotEmpty)
		assert.NotErrorIs(t, mapped, ErrParentMissing)
		assert.Contains(t, mapped.Error(), "/parent directory missing")
	})

	t.Run("status without details", func(t *testing.T) {
		err := status.Error(codes.FailedPrecondition, "x already exists")
		mapped := ErrorFromStatus(err)
		assert.Equal(t, err, mapped)
		assert.NotErrorIs(t, mapped, ErrAlreadyExists)
	})

	t.Run("space exhausted", func(t *testing.T) {
		h.addWorkers(t, 2, utils.GiB)
		_, err := client.CreateFile(ctx, &protocol.CreateFileRequest{Path: "/huge", Owner: "alice", Size: 1 << 40})
		require.Error(t, err)
		assert.Equal(t, codes.ResourceExhausted, status.Code(err))
		assert.ErrorIs(t, ErrorFromStatus(err), ErrInsufficientSpace)
	})
}

func TestServerWorkerLifecycle(t *testing.T) {
	h := newHarness(t, nil)
	client := h.serve(t)
	ctx := context.Background()

	hb, err := client.Heartbeat(ctx, &protocol.HeartbeatRequest{
		Host:  "10.0.0.5",
		Port:  9001,
		Usage: &types.UsageReport{CapacityBytes: utils.GiB, UsedBytes: 10},
	})
	require.NoError(t, err)
	assert.Equal(t, types.WorkerActive, hb.State)

	h.clock.Advance(2 * time.Hour)
	h.coord.SweepInactive(time.Minute)

	workers, err := client.ListWorkers(ctx, &protocol.ListWorkersRequest{})
	require.NoError(t, err)
	require.Len(t, workers.Workers, 1)
	assert.Equal(t, types.WorkerInactive, workers.Workers[0].State)
	assert.Equal(t, int64(10), workers.Workers[0].UsedBytes)

	pruned, err := client.PruneWorkers(ctx, &protocol.PruneWorkersRequest{MaxAge: time.Hour})
	require.NoError(t, err)
	assert.Equal(t, []types.WorkerID{hb.WorkerID}, pruned.Removed)
}

func TestStopDrainsServerBeforeSnapshot(t *testing.T) {
	cfg := testConfig()
	cfg.DataDir = t.TempDir()
	h := newHarness(t, cfg)
	h.coord.StartBackground()

	lis := bufconn.Listen(1 << 20)
	served := make(chan error, 1)
	go func() { served <- h.coord.Serve(lis) }()

	opts := append(shared.DialOptions(), grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
		return lis.DialContext(ctx)
	}))
	conn, err := grpc.DialContext(context.Background(), "bufnet", opts...)
	require.NoError(t, err)
	defer conn.Close()
	client := protocol.NewNameNodeClient(conn)

	_, err = client.CreateDirectory(context.Background(), &protocol.CreateDirectoryRequest{Path: "/kept", Owner: "alice"})
	require.NoError(t, err)

	h.coord.Stop()
	select {
	case err := <-served:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after Stop")
	}

	restored := New(cfg, zaptest.NewLogger(t), WithRegisterer(prometheus.NewRegistry()))
	require.NoError(t, restored.LoadSnapshot())
	entry, err := restored.Stat("/kept")
	require.NoError(t, err)
	assert.True(t, entry.IsDir)

	t.Run("second stop is a no-op", func(t *testing.T) {
		h.coord.Stop()
	})

	t.Run("serve after stop returns at once", func(t *testing.T) {
		late := bufconn.Listen(1 << 10)
		done := make(chan error, 1)
		go func() { done <- h.coord.Serve(late) }()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Fatal("Serve blocked on a stopped coordinator")
		}
	})
}
