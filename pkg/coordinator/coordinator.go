package coordinator

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"blockfs/pkg/config"
	"blockfs/pkg/protocol"
	"blockfs/pkg/shared"
	"blockfs/pkg/types"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"google.golang.org/grpc"
)

// CopyInstruction asks Target to pull BlockID from Source.
type CopyInstruction struct {
	BlockID types.BlockID
	Source  types.WorkerID
	Target  types.WorkerID
}

// ReplicaCopier delivers copy instructions to workers. A nil error means the
// target accepted the instruction; the write itself is reported later through
// ConfirmBlockWrite.
type ReplicaCopier interface {
	CopyReplica(ctx context.Context, inst CopyInstruction) error
}

// BlockDeleter tells a worker to drop blocks the namespace no longer references.
type BlockDeleter interface {
	DeleteBlocks(ctx context.Context, worker types.WorkerID, ids []types.BlockID) error
}

// Coordinator owns the namespace, the block table and the worker table. A
// single RWMutex guards all three.
type Coordinator struct {
	config  *config.CoordinatorConfig
	logger  *zap.Logger
	metrics *Metrics
	copier  ReplicaCopier
	deleter BlockDeleter
	now     func() time.Time

	mu        sync.RWMutex
	dirs      map[string]*types.Directory
	files     map[string]*types.File
	blocks    map[types.BlockID]*types.Block
	workers   map[types.WorkerID]*types.Worker
	workerSeq uint64

	serverMu   sync.Mutex
	closing    bool
	server     *grpc.Server
	httpServer *http.Server

	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	stopOnce sync.Once
	stopped  chan struct{}
}

type Option func(*Coordinator)

// WithReplicaCopier sets the transport used by Repair.
func WithReplicaCopier(copier ReplicaCopier) Option {
	return func(c *Coordinator) { c.copier = copier }
}

// WithBlockDeleter sets the transport used to purge released blocks from workers.
func WithBlockDeleter(deleter BlockDeleter) Option {
	return func(c *Coordinator) { c.deleter = deleter }
}

// WithClock replaces time.Now, mainly for liveness tests.
func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) { c.now = now }
}

// WithRegisterer registers metrics somewhere other than the default registry.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(c *Coordinator) { c.metrics = NewMetrics(reg) }
}

func New(cfg *config.CoordinatorConfig, logger *zap.Logger, opts ...Option) *Coordinator {
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())

	c := &Coordinator{
		config:  cfg,
		logger:  logger,
		now:     time.Now,
		dirs:    make(map[string]*types.Directory),
		files:   make(map[string]*types.File),
		blocks:  make(map[types.BlockID]*types.Block),
		workers: make(map[types.WorkerID]*types.Worker),
		ctx:     ctx,
		cancel:  cancel,
		stopped: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.metrics == nil {
		c.metrics = NewMetrics(prometheus.NewRegistry())
	}
	if c.copier == nil {
		c.copier = unavailableCopier{}
	}

	c.initializeRootDirectory()
	return c
}

func (c *Coordinator) initializeRootDirectory() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.dirs["/"]; !ok {
		c.dirs["/"] = types.NewDirectory("/", c.config.RootOwner, c.now())
	}
}

// Config returns the settings the coordinator runs with.
func (c *Coordinator) Config() config.CoordinatorConfig {
	return *c.config
}

// Start restores the last snapshot, starts the background loops and the
// metrics server, then serves gRPC on the configured address until Stop.
func (c *Coordinator) Start() error {
	if err := c.LoadSnapshot(); err != nil {
		return err
	}

	lis, err := net.Listen("tcp", c.config.Address)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", c.config.Address, err)
	}

	if c.config.MetricsAddress != "" {
		srv := StartMetricsServer(c.config.MetricsAddress, c, c.logger)
		c.serverMu.Lock()
		c.httpServer = srv
		c.serverMu.Unlock()
	}

	c.StartBackground()
	c.logger.Info("Coordinator started",
		zap.String("address", lis.Addr().String()),
		zap.Int64("block_size", c.config.BlockSize),
		zap.Int("replication_factor", c.config.ReplicationFactor))

	if err := c.Serve(lis); err != nil {
		return err
	}
	// Serve only returns cleanly once Stop began; wait for the final snapshot.
	<-c.stopped
	return nil
}

// Serve answers gRPC requests on lis.
func (c *Coordinator) Serve(lis net.Listener) error {
	srv := grpc.NewServer(shared.ServerOptions(protocol.LoggingUnaryInterceptor(c.logger))...)
	protocol.RegisterNameNodeServer(srv, NewServer(c))

	c.serverMu.Lock()
	if c.closing {
		c.serverMu.Unlock()
		return lis.Close()
	}
	c.server = srv
	c.serverMu.Unlock()

	if err := srv.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		return err
	}
	return nil
}

// StartBackground launches the maintenance and snapshot loops.
func (c *Coordinator) StartBackground() {
	c.wg.Add(1)
	go c.maintenanceLoop()

	if c.config.SnapshotPath() != "" && c.config.SnapshotInterval > 0 {
		c.wg.Add(1)
		go c.snapshotLoop()
	}
}

// Stop drains the gRPC and HTTP servers, stops the background loops and
// writes a final snapshot. Later calls do nothing.
func (c *Coordinator) Stop() {
	c.stopOnce.Do(func() {
		defer close(c.stopped)

		c.serverMu.Lock()
		c.closing = true
		server, httpServer := c.server, c.httpServer
		c.serverMu.Unlock()

		if server != nil {
			server.GracefulStop()
		}
		if httpServer != nil {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			httpServer.Shutdown(ctx)
			cancel()
		}

		c.cancel()
		c.wg.Wait()

		if err := c.SaveSnapshot(); err != nil {
			c.logger.Error("Final snapshot failed", zap.Error(err))
		}
	})
}

func (c *Coordinator) maintenanceLoop() {
	defer c.wg.Done()

	ticker := time.NewTicker(c.config.AuditInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
			c.RunMaintenance(c.ctx)
		}
	}
}

func (c *Coordinator) snapshotLoop() {
	defer c.wg.Done()

	ticker := time.NewTicker(c.config.SnapshotInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
			if err := c.SaveSnapshot(); err != nil {
				c.logger.Error("Snapshot failed", zap.Error(err))
			}
		}
	}
}

type unavailableCopier struct{}

func (unavailableCopier) CopyReplica(ctx context.Context, inst CopyInstruction) error {
	return fmt.Errorf("no replica transport configured")
}
