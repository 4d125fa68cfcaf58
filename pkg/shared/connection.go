package shared

import (
	"context"
	"fmt"
	"sync"
	"time"

	"blockfs/pkg/protocol"

	"google.golang.org/grpc"
	"google.golang.org/grpc/connectivity"
	"google.golang.org/grpc/credentials/insecure"
)

const (
	// DefaultGRPCTimeout is the default timeout for gRPC operations
	DefaultGRPCTimeout = 30 * time.Second
)

// DialOptions are the options every blockfs connection is created with.
func DialOptions() []grpc.DialOption {
	return []grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(
			grpc.CallContentSubtype(protocol.CodecName),
			grpc.MaxCallRecvMsgSize(protocol.MaxMessageSize),
			grpc.MaxCallSendMsgSize(protocol.MaxMessageSize),
		),
		grpc.WithUnaryInterceptor(protocol.RequestIDClientInterceptor()),
	}
}

// ServerOptions mirror DialOptions on the listening side.
func ServerOptions(interceptors ...grpc.UnaryServerInterceptor) []grpc.ServerOption {
	return []grpc.ServerOption{
		grpc.MaxRecvMsgSize(protocol.MaxMessageSize),
		grpc.MaxSendMsgSize(protocol.MaxMessageSize),
		grpc.ChainUnaryInterceptor(interceptors...),
	}
}

// Connect dials a coordinator or worker address.
func Connect(address string) (*grpc.ClientConn, error) {
	return ConnectWithTimeout(address, DefaultGRPCTimeout)
}

// ConnectWithTimeout dials address, giving up after timeout.
func ConnectWithTimeout(address string, timeout time.Duration) (*grpc.ClientConn, error) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	conn, err := grpc.DialContext(ctx, address, DialOptions()...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", address, err)
	}
	return conn, nil
}

// ConnectWithRetry creates a connection with retry logic
func ConnectWithRetry(address string, maxRetries int, retryInterval time.Duration) (*grpc.ClientConn, error) {
	var lastErr error

	for attempt := 0; attempt < maxRetries; attempt++ {
		conn, err := Connect(address)
		if err == nil {
			return conn, nil
		}

		lastErr = err
		if attempt < maxRetries-1 {
			time.Sleep(retryInterval)
		}
	}

	return nil, fmt.Errorf("failed to connect after %d attempts: %w", maxRetries, lastErr)
}

// ConnectionPool keeps one client connection per address.
type ConnectionPool struct {
	connections map[string]*grpc.ClientConn
	mutex       sync.RWMutex
	dial        func(address string) (*grpc.ClientConn, error)
}

func NewConnectionPool() *ConnectionPool {
	return NewConnectionPoolWithDialer(Connect)
}

// NewConnectionPoolWithDialer lets tests route connections through an in-memory listener.
func NewConnectionPoolWithDialer(dial func(address string) (*grpc.ClientConn, error)) *ConnectionPool {
	return &ConnectionPool{
		connections: make(map[string]*grpc.ClientConn),
		dial:        dial,
	}
}

// Get returns a pooled connection or creates a new one
func (p *ConnectionPool) Get(address string) (*grpc.ClientConn, error) {
	p.mutex.RLock()
	conn, exists := p.connections[address]
	p.mutex.RUnlock()

	if exists && conn.GetState() != connectivity.Shutdown {
		return conn, nil
	}

	p.mutex.Lock()
	defer p.mutex.Unlock()

	// Double-check after acquiring write lock
	conn, exists = p.connections[address]
	if exists && conn.GetState() != connectivity.Shutdown {
		return conn, nil
	}

	newConn, err := p.dial(address)
	if err != nil {
		return nil, err
	}

	p.connections[address] = newConn
	return newConn, nil
}

// Worker returns a worker client for address.
func (p *ConnectionPool) Worker(address string) (*protocol.WorkerClient, error) {
	conn, err := p.Get(address)
	if err != nil {
		return nil, err
	}
	return protocol.NewWorkerClient(conn), nil
}

// CloseAll closes all connections in the pool
func (p *ConnectionPool) CloseAll() {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	for _, conn := range p.connections {
		conn.Close()
	}
	p.connections = make(map[string]*grpc.ClientConn)
}
