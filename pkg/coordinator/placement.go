package coordinator

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math"
	"sort"
	"time"

	"blockfs/pkg/types"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const purgeTimeout = 10 * time.Second

// BlockCount is ceil(size/blockSize).
func BlockCount(size, blockSize int64) int {
	if size <= 0 {
		return 0
	}
	n := size / blockSize
	if size%blockSize != 0 {
		n++
	}
	return int(n)
}

// GenerateBlockID derives a block id from a digest of the file path, the
// generation and the sequence index. Ids double as file names on workers, so
// they stay short and never start with a dot whatever the path looks like.
// The generation keeps ids unique when a path is deleted and reused.
func GenerateBlockID(path string, index int, generation string) types.BlockID {
	sum := sha256.Sum256([]byte(path))
	return types.BlockID(fmt.Sprintf("blk-%s-%s-%d", hex.EncodeToString(sum[:6]), generation, index))
}

// placeableBytesLocked is how much file data the Active workers could still
// take at the replication factor.
func (c *Coordinator) placeableBytesLocked() int64 {
	rf := int64(c.config.ReplicationFactor)
	if rf <= 0 {
		rf = 1
	}
	var free int64
	for _, w := range c.workers {
		f := w.FreeBytes()
		if !w.IsActive() || f <= 0 {
			continue
		}
		if free > math.MaxInt64-f {
			return math.MaxInt64 / rf
		}
		free += f
	}
	return free / rf
}

// planBlocks carves file into blocks and assigns each a replica set. On
// failure every reservation made so far is rolled back.
func (c *Coordinator) planBlocks(file *types.File) ([]*types.Block, error) {
	blockSize := c.config.BlockSize
	n := BlockCount(file.Size, blockSize)
	if n == 0 {
		return nil, nil
	}

	if _, err := c.selectWorkers(c.config.ReplicationFactor, nil); err != nil {
		return nil, fmt.Errorf("block 0 of %s: %w", file.Path, err)
	}
	if placeable := c.placeableBytesLocked(); file.Size > placeable {
		return nil, fmt.Errorf("%w: %s needs %d bytes per replica, cluster can take %d",
			ErrInsufficientSpace, file.Path, file.Size, placeable)
	}

	generation := uuid.NewString()[:8]
	var blocks []*types.Block
	var ids []types.BlockID
	for i := 0; i < n; i++ {
		size := blockSize
		if i == n-1 {
			size = file.Size - int64(n-1)*blockSize
		}

		workers, err := c.selectWorkers(c.config.ReplicationFactor, nil)
		if err != nil {
			c.releaseBlocks(ids)
			return nil, fmt.Errorf("block %d of %s: %w", i, file.Path, err)
		}

		block := &types.Block{
			ID:       GenerateBlockID(file.Path, i, generation),
			FilePath: file.Path,
			Index:    i,
			Size:     size,
			Replicas: make([]types.WorkerID, 0, len(workers)),
			State:    types.BlockPending,
		}
		for _, w := range workers {
			c.reserve(w, block)
			block.Replicas = append(block.Replicas, w.ID)
		}
		c.blocks[block.ID] = block
		blocks = append(blocks, block)
		ids = append(ids, block.ID)
	}

	file.BlockIDs = ids
	c.metrics.Placements.Add(float64(n))
	return blocks, nil
}

// selectWorkers returns count Active workers outside exclude with more than a
// block of free space, most free space first. Ties go to the earliest
// registered worker.
func (c *Coordinator) selectWorkers(count int, exclude map[types.WorkerID]struct{}) ([]*types.Worker, error) {
	candidates := make([]*types.Worker, 0, len(c.workers))
	for id, w := range c.workers {
		if !w.IsActive() {
			continue
		}
		if _, skip := exclude[id]; skip {
			continue
		}
		if w.FreeBytes() <= c.config.BlockSize {
			continue
		}
		candidates = append(candidates, w)
	}

	if len(candidates) < count {
		return nil, fmt.Errorf("%w: need %d, have %d", ErrInsufficientWorkers, count, len(candidates))
	}

	sort.Slice(candidates, func(i, j int) bool {
		fi, fj := candidates[i].FreeBytes(), candidates[j].FreeBytes()
		if fi != fj {
			return fi > fj
		}
		return candidates[i].Seq < candidates[j].Seq
	})
	return candidates[:count], nil
}

// reserve books block's size on w before any byte has been transferred.
func (c *Coordinator) reserve(w *types.Worker, b *types.Block) {
	w.UsedBytes += b.Size
	w.Blocks[b.ID] = struct{}{}
}

func (c *Coordinator) unreserve(w *types.Worker, b *types.Block) {
	if _, held := w.Blocks[b.ID]; !held {
		return
	}
	delete(w.Blocks, b.ID)
	w.UsedBytes -= b.Size
	if w.UsedBytes < 0 {
		w.UsedBytes = 0
	}
}

// releaseBlocks returns every replica's reservation and forgets the blocks.
// Unknown ids are ignored, so releasing twice is harmless. The result lists
// what each worker should purge from disk.
func (c *Coordinator) releaseBlocks(ids []types.BlockID) map[types.WorkerID][]types.BlockID {
	purge := make(map[types.WorkerID][]types.BlockID)
	for _, id := range ids {
		b, ok := c.blocks[id]
		if !ok {
			continue
		}
		for _, wid := range b.Replicas {
			if w, ok := c.workers[wid]; ok {
				c.unreserve(w, b)
			}
			purge[wid] = append(purge[wid], id)
		}
		for _, p := range b.Pending {
			if w, ok := c.workers[p.Worker]; ok {
				c.unreserve(w, b)
			}
			purge[p.Worker] = append(purge[p.Worker], id)
		}
		delete(c.blocks, id)
	}
	return purge
}

// dispatchDeletes asks workers to drop released blocks. Failures only leave
// orphaned bytes on disk, so they are logged and otherwise ignored.
func (c *Coordinator) dispatchDeletes(purge map[types.WorkerID][]types.BlockID) {
	if c.deleter == nil || len(purge) == 0 || c.ctx.Err() != nil {
		return
	}
	for worker, ids := range purge {
		worker, ids := worker, ids
		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			ctx, cancel := context.WithTimeout(c.ctx, purgeTimeout)
			defer cancel()
			if err := c.deleter.DeleteBlocks(ctx, worker, ids); err != nil {
				c.logger.Warn("Failed to purge blocks from worker",
					zap.String("worker_id", string(worker)),
					zap.Int("blocks", len(ids)),
					zap.Error(err))
			}
		}()
	}
}
