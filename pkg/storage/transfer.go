package storage

import (
	"context"
	"fmt"

	"blockfs/pkg/coordinator"
	"blockfs/pkg/protocol"
	"blockfs/pkg/shared"
	"blockfs/pkg/types"

	"go.uber.org/zap"
)

// Transfer carries coordinator instructions to workers over gRPC.
type Transfer struct {
	pool   *shared.ConnectionPool
	logger *zap.Logger
}

var (
	_ coordinator.ReplicaCopier = (*Transfer)(nil)
	_ coordinator.BlockDeleter  = (*Transfer)(nil)
)

func NewTransfer(pool *shared.ConnectionPool, logger *zap.Logger) *Transfer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Transfer{pool: pool, logger: logger}
}

// CopyReplica asks the target worker to pull the block from the source.
func (t *Transfer) CopyReplica(ctx context.Context, inst coordinator.CopyInstruction) error {
	client, err := t.pool.Worker(string(inst.Target))
	if err != nil {
		return fmt.Errorf("failed to connect to target worker %s: %w", inst.Target, err)
	}

	if _, err := client.ReplicateBlock(ctx, &protocol.ReplicateBlockRequest{
		BlockID: inst.BlockID,
		Source:  inst.Source,
	}); err != nil {
		return fmt.Errorf("replicate %s on %s: %w", inst.BlockID, inst.Target, err)
	}

	t.logger.Debug("Replication instruction accepted",
		zap.String("block_id", string(inst.BlockID)),
		zap.String("source", string(inst.Source)),
		zap.String("target", string(inst.Target)))
	return nil
}

func (t *Transfer) DeleteBlocks(ctx context.Context, worker types.WorkerID, ids []types.BlockID) error {
	client, err := t.pool.Worker(string(worker))
	if err != nil {
		return fmt.Errorf("failed to connect to worker %s: %w", worker, err)
	}

	resp, err := client.DeleteBlocks(ctx, &protocol.DeleteBlocksRequest{BlockIDs: ids})
	if err != nil {
		return fmt.Errorf("delete blocks on %s: %w", worker, err)
	}

	t.logger.Debug("Blocks purged",
		zap.String("worker_id", string(worker)),
		zap.Int("requested", len(ids)),
		zap.Int("deleted", resp.Deleted))
	return nil
}
