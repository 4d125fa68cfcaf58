package coordinator

import (
	"fmt"

	"blockfs/pkg/types"

	"go.uber.org/zap"
)

// ConfirmBlockWrite records that workerID durably stored blockID. The first
// reported checksum becomes the block's checksum; later confirmations must
// agree with it. The checksum is taken on trust, it is never recomputed here.
// A pending repair target that confirms joins the replica list.
// Returns the owning file's state after the confirmation.
func (c *Coordinator) ConfirmBlockWrite(blockID types.BlockID, workerID types.WorkerID, checksum string) (types.FileState, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	b, ok := c.blocks[blockID]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrBlockNotFound, blockID)
	}
	repaired := b.IsPending(workerID)
	if !repaired && !b.HasReplica(workerID) {
		return "", fmt.Errorf("%w: %s is not a replica of %s", ErrUnauthorizedWorker, workerID, blockID)
	}
	if b.Checksum != "" && checksum != "" && checksum != b.Checksum {
		return "", fmt.Errorf("%w: block %s has %s, worker %s reported %s",
			ErrChecksumMismatch, blockID, b.Checksum, workerID, checksum)
	}

	if repaired {
		b.Pending = removePending(b.Pending, workerID)
		b.Replicas = append(b.Replicas, workerID)
		c.metrics.RepairsSucceeded.Inc()
		c.logger.Info("Replica copy confirmed",
			zap.String("block_id", string(blockID)),
			zap.String("worker_id", string(workerID)))
	}
	if b.Checksum == "" {
		b.Checksum = checksum
	}
	if !containsWorkerID(b.Confirmations, workerID) {
		b.Confirmations = append(b.Confirmations, workerID)
	}
	b.State = types.BlockConfirmed
	c.metrics.Confirmations.Inc()

	c.logger.Debug("Block write confirmed",
		zap.String("block_id", string(blockID)),
		zap.String("worker_id", string(workerID)))

	file, ok := c.files[b.FilePath]
	if !ok {
		return "", nil
	}
	c.completeFileLocked(file)
	return file.State, nil
}

// completeFileLocked promotes file to Completed once every block is
// Confirmed. Calling it on a Completed file does nothing.
func (c *Coordinator) completeFileLocked(file *types.File) {
	if file.State == types.FileCompleted {
		return
	}
	for _, id := range file.BlockIDs {
		b, ok := c.blocks[id]
		if !ok || b.State != types.BlockConfirmed {
			return
		}
	}
	file.State = types.FileCompleted
	file.ModifiedAt = c.now()
	c.logger.Info("File completed",
		zap.String("path", file.Path),
		zap.Int("blocks", len(file.BlockIDs)))
}

func containsWorkerID(ids []types.WorkerID, id types.WorkerID) bool {
	for _, existing := range ids {
		if existing == id {
			return true
		}
	}
	return false
}
