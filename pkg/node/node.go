package node

import (
	"context"
	"errors"
	"fmt"
	"net"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"blockfs/pkg/config"
	"blockfs/pkg/protocol"
	"blockfs/pkg/shared"
	"blockfs/pkg/storage"
	"blockfs/pkg/types"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Node is a storage worker. It keeps blocks on local disk and reports to
// the coordinator.
type Node struct {
	config *config.WorkerConfig
	logger *zap.Logger
	store  *storage.BlockStore
	pool   *shared.ConnectionPool

	// Coordinator connection
	coordinatorConn *grpc.ClientConn
	coordinator     *protocol.NameNodeClient

	idMu      sync.RWMutex
	workerID  types.WorkerID
	blockSize int64

	server   *grpc.Server
	listener net.Listener

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

type Option func(*Node)

// WithCoordinatorClient skips dialing the configured coordinator address.
func WithCoordinatorClient(client *protocol.NameNodeClient) Option {
	return func(n *Node) { n.coordinator = client }
}

// WithConnectionPool sets the pool used to reach other workers.
func WithConnectionPool(pool *shared.ConnectionPool) Option {
	return func(n *Node) { n.pool = pool }
}

// New opens the block store under cfg.DataDir/blocks.
func New(cfg *config.WorkerConfig, logger *zap.Logger, opts ...Option) (*Node, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	store, err := storage.OpenBlockStore(filepath.Join(cfg.DataDir, "blocks"), cfg.Capacity)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	n := &Node{
		config: cfg,
		logger: logger,
		store:  store,
		ctx:    ctx,
		cancel: cancel,
	}
	for _, opt := range opts {
		opt(n)
	}
	if n.pool == nil {
		n.pool = shared.NewConnectionPool()
	}

	usage := store.Usage()
	logger.Info("Loaded existing blocks",
		zap.Int("block_count", len(store.Blocks())),
		zap.Int64("used_bytes", usage.UsedBytes),
		zap.Int64("capacity_bytes", usage.CapacityBytes))
	return n, nil
}

// Start binds the configured port, registers with the coordinator and serves
// until Stop.
func (n *Node) Start() error {
	bindAddr := ":" + strconv.Itoa(n.config.Port)
	lis, err := net.Listen("tcp", bindAddr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", bindAddr, err)
	}
	return n.Serve(lis)
}

// Serve runs the worker on an existing listener.
func (n *Node) Serve(lis net.Listener) error {
	n.listener = lis
	n.server = grpc.NewServer(shared.ServerOptions(protocol.LoggingUnaryInterceptor(n.logger))...)
	protocol.RegisterWorkerServer(n.server, n)

	if n.coordinator == nil {
		if err := n.connectToCoordinator(); err != nil {
			return err
		}
	}
	if err := n.register(); err != nil {
		return fmt.Errorf("failed to register with coordinator: %w", err)
	}

	n.logger.Info("Worker starting",
		zap.String("worker_id", string(n.WorkerID())),
		zap.String("listen", lis.Addr().String()),
		zap.String("coordinator", n.config.CoordinatorAddress))

	n.wg.Add(1)
	go n.heartbeatLoop()

	return n.server.Serve(lis)
}

func (n *Node) Stop() {
	n.cancel()
	if n.server != nil {
		n.server.GracefulStop()
	}
	n.wg.Wait()

	if n.coordinatorConn != nil {
		n.coordinatorConn.Close()
	}
	n.pool.CloseAll()
}

func (n *Node) connectToCoordinator() error {
	conn, err := shared.ConnectWithRetry(n.config.CoordinatorAddress, 3, time.Second)
	if err != nil {
		return fmt.Errorf("failed to connect to coordinator: %w", err)
	}
	n.coordinatorConn = conn
	n.coordinator = protocol.NewNameNodeClient(conn)
	return nil
}

func (n *Node) register() error {
	ctx, cancel := context.WithTimeout(n.ctx, 10*time.Second)
	defer cancel()

	usage := n.store.Usage()
	resp, err := n.coordinator.RegisterWorker(ctx, &protocol.RegisterWorkerRequest{
		Host:          n.config.Host,
		Port:          n.config.Port,
		CapacityBytes: usage.CapacityBytes,
	})
	if err != nil {
		return err
	}

	n.idMu.Lock()
	n.workerID = resp.WorkerID
	n.blockSize = resp.BlockSize
	n.idMu.Unlock()

	n.logger.Info("Registered with coordinator",
		zap.String("worker_id", string(resp.WorkerID)),
		zap.Int64("block_size", resp.BlockSize))
	return nil
}

// WorkerID is the identity assigned by the coordinator, empty before registration.
func (n *Node) WorkerID() types.WorkerID {
	n.idMu.RLock()
	defer n.idMu.RUnlock()
	return n.workerID
}

func (n *Node) Store() *storage.BlockStore {
	return n.store
}

func (n *Node) confirm(ctx context.Context, id types.BlockID, checksum string) error {
	_, err := n.coordinator.ConfirmBlockWrite(ctx, &protocol.ConfirmBlockWriteRequest{
		BlockID:  id,
		WorkerID: n.WorkerID(),
		Checksum: checksum,
	})
	return err
}

func storeError(id types.BlockID, err error) error {
	if errors.Is(err, storage.ErrCapacityExceeded) {
		return status.Error(codes.ResourceExhausted, err.Error())
	}
	return status.Errorf(codes.Internal, "store %s: %v", id, err)
}

// StoreBlock writes the block locally, confirms it with the coordinator and
// forwards it down the follower chain.
func (n *Node) StoreBlock(ctx context.Context, req *protocol.StoreBlockRequest) (*protocol.StoreBlockResponse, error) {
	if !storage.VerifyChecksum(req.Data, req.Checksum) {
		return nil, status.Errorf(codes.DataLoss, "%v: %s", storage.ErrCorruptBlock, req.BlockID)
	}

	sum, err := n.store.Put(req.BlockID, req.Data)
	if err != nil {
		return nil, storeError(req.BlockID, err)
	}
	if err := n.confirm(ctx, req.BlockID, sum); err != nil {
		return nil, err
	}

	n.logger.Debug("Stored block",
		zap.String("block_id", string(req.BlockID)),
		zap.Int("size", len(req.Data)),
		zap.Int("followers", len(req.Followers)))

	if len(req.Followers) > 0 {
		next := req.Followers[0]
		client, err := n.pool.Worker(string(next))
		if err != nil {
			return nil, status.Errorf(codes.Unavailable, "forward %s to %s: %v", req.BlockID, next, err)
		}
		if _, err := client.StoreBlock(ctx, &protocol.StoreBlockRequest{
			BlockID:   req.BlockID,
			Data:      req.Data,
			Checksum:  sum,
			Followers: req.Followers[1:],
		}); err != nil {
			n.logger.Warn("Follower write failed",
				zap.String("block_id", string(req.BlockID)),
				zap.String("follower", string(next)),
				zap.Error(err))
			return nil, status.Errorf(status.Code(err), "forward %s to %s: %v", req.BlockID, next, err)
		}
	}

	return &protocol.StoreBlockResponse{Checksum: sum}, nil
}

func (n *Node) ReadBlock(ctx context.Context, req *protocol.ReadBlockRequest) (*protocol.ReadBlockResponse, error) {
	data, err := n.store.Get(req.BlockID)
	if errors.Is(err, storage.ErrBlockMissing) {
		return nil, status.Error(codes.NotFound, err.Error())
	}
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return &protocol.ReadBlockResponse{Data: data, Checksum: storage.Checksum(data)}, nil
}

func (n *Node) DeleteBlocks(ctx context.Context, req *protocol.DeleteBlocksRequest) (*protocol.DeleteBlocksResponse, error) {
	deleted := 0
	for _, id := range req.BlockIDs {
		ok, err := n.store.Delete(id)
		if err != nil {
			n.logger.Warn("Failed to delete block", zap.String("block_id", string(id)), zap.Error(err))
			continue
		}
		if ok {
			deleted++
		}
	}
	return &protocol.DeleteBlocksResponse{Deleted: deleted}, nil
}

// ReplicateBlock accepts a copy instruction and pulls the block from the
// source in the background. The coordinator learns the outcome through
// ConfirmBlockWrite.
func (n *Node) ReplicateBlock(ctx context.Context, req *protocol.ReplicateBlockRequest) (*protocol.ReplicateBlockResponse, error) {
	if req.BlockID == "" || req.Source == "" {
		return nil, status.Error(codes.InvalidArgument, "block_id and source are required")
	}
	if req.Source == n.WorkerID() {
		return nil, status.Error(codes.InvalidArgument, "cannot replicate from self")
	}

	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		if err := n.pullBlock(req.BlockID, req.Source); err != nil {
			n.logger.Warn("Replica copy failed",
				zap.String("block_id", string(req.BlockID)),
				zap.String("source", string(req.Source)),
				zap.Error(err))
		}
	}()
	return &protocol.ReplicateBlockResponse{Accepted: true}, nil
}

func (n *Node) pullBlock(id types.BlockID, source types.WorkerID) error {
	ctx, cancel := context.WithTimeout(n.ctx, shared.DefaultGRPCTimeout)
	defer cancel()

	client, err := n.pool.Worker(string(source))
	if err != nil {
		return err
	}
	resp, err := client.ReadBlock(ctx, &protocol.ReadBlockRequest{BlockID: id})
	if err != nil {
		return fmt.Errorf("read from source: %w", err)
	}
	if !storage.VerifyChecksum(resp.Data, resp.Checksum) {
		return fmt.Errorf("%w: %s from %s", storage.ErrCorruptBlock, id, source)
	}

	sum, err := n.store.Put(id, resp.Data)
	if err != nil {
		return err
	}
	if err := n.confirm(ctx, id, sum); err != nil {
		return fmt.Errorf("confirm: %w", err)
	}

	n.logger.Info("Replica copied",
		zap.String("block_id", string(id)),
		zap.String("source", string(source)),
		zap.Int("size", len(resp.Data)))
	return nil
}
