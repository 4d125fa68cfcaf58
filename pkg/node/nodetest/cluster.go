// Package nodetest runs a coordinator and a set of storage workers over
// in-memory gRPC listeners.
package nodetest

import (
	"context"
	"fmt"
	"net"
	"sync"
	"testing"
	"time"

	"blockfs/pkg/config"
	"blockfs/pkg/coordinator"
	"blockfs/pkg/node"
	"blockfs/pkg/protocol"
	"blockfs/pkg/shared"
	"blockfs/pkg/storage"
	"blockfs/pkg/types"
	"blockfs/pkg/utils"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
	"google.golang.org/grpc"
	"google.golang.org/grpc/test/bufconn"
)

const CoordinatorAddress = "coordinator:9000"

// Clock is a manually advanced time source for the coordinator.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// Cluster wires one coordinator to n workers. Workers never heartbeat on
// their own; liveness is driven through Clock and Heartbeat.
type Cluster struct {
	Coordinator *coordinator.Coordinator
	Clock       *Clock
	Workers     []*node.Node

	t         testing.TB
	logger    *zap.Logger
	mu        sync.Mutex
	listeners map[string]*bufconn.Listener
	nameNode  *protocol.NameNodeClient
}

// DefaultConfig uses 1 KiB blocks so multi-block files stay small.
func DefaultConfig() *config.CoordinatorConfig {
	cfg := config.DefaultCoordinatorConfig()
	cfg.DataDir = ""
	cfg.BlockSize = utils.KiB
	cfg.ReplicationFactor = 2
	cfg.RepairTimeout = 5 * time.Second
	return &cfg
}

func New(t testing.TB, cfg *config.CoordinatorConfig, workers int) *Cluster {
	t.Helper()
	if cfg == nil {
		cfg = DefaultConfig()
	}

	c := &Cluster{
		Clock:     &Clock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)},
		t:         t,
		logger:    zaptest.NewLogger(t),
		listeners: make(map[string]*bufconn.Listener),
	}

	transfer := storage.NewTransfer(c.Pool(), c.logger.Named("transfer"))
	c.Coordinator = coordinator.New(cfg, c.logger.Named("coordinator"),
		coordinator.WithClock(c.Clock.Now),
		coordinator.WithReplicaCopier(transfer),
		coordinator.WithBlockDeleter(transfer),
		coordinator.WithRegisterer(prometheus.NewRegistry()))
	t.Cleanup(c.Coordinator.Stop)

	srv := grpc.NewServer(shared.ServerOptions(protocol.LoggingUnaryInterceptor(c.logger))...)
	protocol.RegisterNameNodeServer(srv, coordinator.NewServer(c.Coordinator))
	go srv.Serve(c.listen(CoordinatorAddress))
	t.Cleanup(srv.Stop)

	conn, err := c.Dial(CoordinatorAddress)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	c.nameNode = protocol.NewNameNodeClient(conn)

	for i := 0; i < workers; i++ {
		c.AddWorker()
	}
	return c
}

func (c *Cluster) listen(address string) *bufconn.Listener {
	lis := bufconn.Listen(1 << 20)
	c.mu.Lock()
	c.listeners[address] = lis
	c.mu.Unlock()
	return lis
}

// Dial connects to a coordinator or worker address inside the cluster.
func (c *Cluster) Dial(address string) (*grpc.ClientConn, error) {
	c.mu.Lock()
	lis, ok := c.listeners[address]
	c.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("no listener at %s", address)
	}

	opts := append(shared.DialOptions(), grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
		return lis.DialContext(ctx)
	}))
	return grpc.DialContext(context.Background(), address, opts...)
}

// Pool returns a fresh connection pool that dials inside the cluster.
func (c *Cluster) Pool() *shared.ConnectionPool {
	pool := shared.NewConnectionPoolWithDialer(c.Dial)
	c.t.Cleanup(pool.CloseAll)
	return pool
}

// NameNode is a client for the coordinator.
func (c *Cluster) NameNode() *protocol.NameNodeClient {
	return c.nameNode
}

// AddWorker starts another worker and waits for it to register.
func (c *Cluster) AddWorker() *node.Node {
	c.t.Helper()

	cfg := &config.WorkerConfig{
		Host:               fmt.Sprintf("worker-%d", len(c.Workers)+1),
		Port:               9001,
		CoordinatorAddress: CoordinatorAddress,
		DataDir:            c.t.TempDir(),
		Capacity:           utils.GiB,
		HeartbeatInterval:  time.Hour,
	}
	n, err := node.New(cfg, c.logger.Named(cfg.Host),
		node.WithCoordinatorClient(c.nameNode),
		node.WithConnectionPool(c.Pool()))
	require.NoError(c.t, err)

	lis := c.listen(cfg.Address())
	go n.Serve(lis)
	require.Eventually(c.t, func() bool { return n.WorkerID() != "" }, 5*time.Second, 10*time.Millisecond)
	c.t.Cleanup(n.Stop)

	c.Workers = append(c.Workers, n)
	return n
}

// Worker finds the node registered as id.
func (c *Cluster) Worker(id types.WorkerID) *node.Node {
	for _, n := range c.Workers {
		if n.WorkerID() == id {
			return n
		}
	}
	c.t.Fatalf("no worker %s in cluster", id)
	return nil
}

// Heartbeat refreshes the listed workers at the current cluster time.
func (c *Cluster) Heartbeat(ids ...types.WorkerID) {
	c.t.Helper()
	for _, id := range ids {
		host, port, err := types.SplitWorkerID(id)
		require.NoError(c.t, err)
		_, err = c.Coordinator.Heartbeat(host, port, nil)
		require.NoError(c.t, err)
	}
}
