package client

import (
	"context"
	"errors"
	"fmt"
	"time"

	"blockfs/pkg/config"
	"blockfs/pkg/coordinator"
	"blockfs/pkg/protocol"
	"blockfs/pkg/shared"
	"blockfs/pkg/types"

	"go.uber.org/zap"
	"google.golang.org/grpc"
)

var (
	ErrIncompleteFile = errors.New("file is still being written")
	ErrNoReplica      = errors.New("no replica could serve the block")
)

// Client talks to the coordinator for metadata and to workers for block data.
type Client struct {
	conn    *grpc.ClientConn
	nn      *protocol.NameNodeClient
	pool    *shared.ConnectionPool
	user    string
	timeout time.Duration
	logger  *zap.Logger
	quiet   bool
}

type Option func(*Client)

// WithQuiet disables progress bars.
func WithQuiet(quiet bool) Option {
	return func(c *Client) { c.quiet = quiet }
}

// WithConnectionPool sets the pool used to reach workers.
func WithConnectionPool(pool *shared.ConnectionPool) Option {
	return func(c *Client) { c.pool = pool }
}

// Dial connects to the coordinator named in cfg.
func Dial(cfg *config.ClientConfig, logger *zap.Logger, opts ...Option) (*Client, error) {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = shared.DefaultGRPCTimeout
	}
	conn, err := shared.ConnectWithTimeout(cfg.CoordinatorAddress, timeout)
	if err != nil {
		return nil, err
	}
	c := NewWithConn(conn, cfg.User, timeout, logger, opts...)
	c.conn = conn
	return c, nil
}

// NewWithConn builds a client over an existing coordinator connection.
func NewWithConn(cc grpc.ClientConnInterface, user string, timeout time.Duration, logger *zap.Logger, opts ...Option) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Client{
		nn:      protocol.NewNameNodeClient(cc),
		user:    user,
		timeout: timeout,
		logger:  logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.pool == nil {
		c.pool = shared.NewConnectionPool()
	}
	return c
}

func (c *Client) Close() error {
	c.pool.CloseAll()
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

func (c *Client) User() string {
	return c.user
}

func (c *Client) callCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, c.timeout)
}

// remote turns coordinator status errors back into coordinator sentinels.
func remote(err error) error {
	if err == nil {
		return nil
	}
	return coordinator.ErrorFromStatus(err)
}

func (c *Client) Mkdir(ctx context.Context, path string) (types.Entry, error) {
	ctx, cancel := c.callCtx(ctx)
	defer cancel()
	resp, err := c.nn.CreateDirectory(ctx, &protocol.CreateDirectoryRequest{Path: path, Owner: c.user})
	if err != nil {
		return types.Entry{}, remote(err)
	}
	return resp.Entry, nil
}

// Remove deletes a file, or a directory when path names one.
func (c *Client) Remove(ctx context.Context, path string, recursive bool) error {
	entry, err := c.Stat(ctx, path)
	if err != nil {
		return err
	}

	ctx, cancel := c.callCtx(ctx)
	defer cancel()
	if entry.IsDir {
		_, err = c.nn.DeleteDirectory(ctx, &protocol.DeleteDirectoryRequest{Path: path, Requester: c.user, Recursive: recursive})
	} else {
		_, err = c.nn.DeleteFile(ctx, &protocol.DeleteFileRequest{Path: path, Requester: c.user})
	}
	return remote(err)
}

func (c *Client) Move(ctx context.Context, src, dst string) error {
	ctx, cancel := c.callCtx(ctx)
	defer cancel()
	_, err := c.nn.MoveFile(ctx, &protocol.MoveFileRequest{Source: src, Destination: dst, Requester: c.user})
	return remote(err)
}

// List returns the entries of a directory. A non-empty owner keeps only
// that owner's entries.
func (c *Client) List(ctx context.Context, path, owner string) ([]types.Entry, error) {
	ctx, cancel := c.callCtx(ctx)
	defer cancel()
	resp, err := c.nn.ListDirectory(ctx, &protocol.ListDirectoryRequest{Path: path, Owner: owner})
	if err != nil {
		return nil, remote(err)
	}
	return resp.Entries, nil
}

func (c *Client) Stat(ctx context.Context, path string) (types.Entry, error) {
	ctx, cancel := c.callCtx(ctx)
	defer cancel()
	resp, err := c.nn.Stat(ctx, &protocol.StatRequest{Path: path})
	if err != nil {
		return types.Entry{}, remote(err)
	}
	return resp.Entry, nil
}

func (c *Client) Layout(ctx context.Context, path string) (*types.FileLayout, error) {
	ctx, cancel := c.callCtx(ctx)
	defer cancel()
	resp, err := c.nn.GetBlockLayout(ctx, &protocol.GetBlockLayoutRequest{Path: path})
	if err != nil {
		return nil, remote(err)
	}
	return &resp.Layout, nil
}

func (c *Client) Search(ctx context.Context, owner string) ([]types.File, error) {
	ctx, cancel := c.callCtx(ctx)
	defer cancel()
	resp, err := c.nn.SearchFiles(ctx, &protocol.SearchFilesRequest{Owner: owner})
	if err != nil {
		return nil, remote(err)
	}
	return resp.Files, nil
}

func (c *Client) Stats(ctx context.Context) (types.Stats, error) {
	ctx, cancel := c.callCtx(ctx)
	defer cancel()
	resp, err := c.nn.GetStats(ctx, &protocol.GetStatsRequest{})
	if err != nil {
		return types.Stats{}, remote(err)
	}
	return resp.Stats, nil
}

func (c *Client) Workers(ctx context.Context) ([]types.Worker, error) {
	ctx, cancel := c.callCtx(ctx)
	defer cancel()
	resp, err := c.nn.ListWorkers(ctx, &protocol.ListWorkersRequest{})
	if err != nil {
		return nil, remote(err)
	}
	return resp.Workers, nil
}

func (c *Client) PruneWorkers(ctx context.Context, maxAge time.Duration) ([]types.WorkerID, error) {
	ctx, cancel := c.callCtx(ctx)
	defer cancel()
	resp, err := c.nn.PruneWorkers(ctx, &protocol.PruneWorkersRequest{MaxAge: maxAge})
	if err != nil {
		return nil, remote(err)
	}
	return resp.Removed, nil
}

func (c *Client) createFile(ctx context.Context, path string, size int64) (*types.FileLayout, error) {
	ctx, cancel := c.callCtx(ctx)
	defer cancel()
	resp, err := c.nn.CreateFile(ctx, &protocol.CreateFileRequest{Path: path, Owner: c.user, Size: size})
	if err != nil {
		return nil, remote(err)
	}
	return &resp.Layout, nil
}

func (c *Client) deleteFile(ctx context.Context, path string) error {
	ctx, cancel := c.callCtx(ctx)
	defer cancel()
	_, err := c.nn.DeleteFile(ctx, &protocol.DeleteFileRequest{Path: path, Requester: c.user})
	return remote(err)
}

func blockErr(b types.Block, err error) error {
	return fmt.Errorf("block %d (%s): %w", b.Index, b.ID, err)
}
