package coordinator

import (
	"fmt"
	"sort"
	"time"

	"blockfs/pkg/types"

	"go.uber.org/zap"
)

func validateWorkerAddress(host string, port int) error {
	if host == "" {
		return fmt.Errorf("%w: worker host is required", ErrInvalidOperation)
	}
	if port <= 0 || port > 65535 {
		return fmt.Errorf("%w: invalid worker port %d", ErrInvalidOperation, port)
	}
	return nil
}

// Register adds a worker, or refreshes it if host:port is already known.
// A zero capacity means the configured default.
func (c *Coordinator) Register(host string, port int, capacity int64) (*types.Worker, error) {
	if err := validateWorkerAddress(host, port); err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	w := c.registerLocked(host, port, capacity)
	return w.Clone(), nil
}

func (c *Coordinator) registerLocked(host string, port int, capacity int64) *types.Worker {
	now := c.now()
	id := types.MakeWorkerID(host, port)

	if w, ok := c.workers[id]; ok {
		w.LastHeartbeat = now
		if capacity > 0 {
			w.CapacityBytes = capacity
		}
		c.activateLocked(w)
		return w
	}

	if capacity <= 0 {
		capacity = c.config.DefaultWorkerCapacity
	}
	w := types.NewWorker(host, port, capacity, now)
	c.workerSeq++
	w.Seq = c.workerSeq
	c.workers[id] = w

	c.logger.Info("Worker registered",
		zap.String("worker_id", string(id)),
		zap.Int64("capacity", capacity))
	return w
}

func (c *Coordinator) activateLocked(w *types.Worker) {
	if w.State == types.WorkerActive {
		return
	}
	w.State = types.WorkerActive
	c.logger.Info("Worker reactivated", zap.String("worker_id", string(w.ID)))
}

// Heartbeat refreshes a worker's liveness, registering it if unknown. A usage
// report is the worker's ground truth and replaces the reservation estimate.
func (c *Coordinator) Heartbeat(host string, port int, usage *types.UsageReport) (*types.Worker, error) {
	if err := validateWorkerAddress(host, port); err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	id := types.MakeWorkerID(host, port)
	w, ok := c.workers[id]
	if !ok {
		var capacity int64
		if usage != nil {
			capacity = usage.CapacityBytes
		}
		w = c.registerLocked(host, port, capacity)
	} else {
		w.LastHeartbeat = c.now()
		c.activateLocked(w)
	}

	if usage != nil {
		w.UsedBytes = usage.UsedBytes
		if usage.CapacityBytes > 0 {
			w.CapacityBytes = usage.CapacityBytes
		}
	}

	c.logger.Debug("Heartbeat received",
		zap.String("worker_id", string(id)),
		zap.Int64("used", w.UsedBytes),
		zap.Int64("capacity", w.CapacityBytes))
	return w.Clone(), nil
}

// SweepInactive demotes every Active worker silent for longer than timeout
// and returns the ids it demoted.
func (c *Coordinator) SweepInactive(timeout time.Duration) []types.WorkerID {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	var demoted []types.WorkerID
	for id, w := range c.workers {
		if w.State != types.WorkerActive {
			continue
		}
		if silence := now.Sub(w.LastHeartbeat); silence > timeout {
			w.State = types.WorkerInactive
			demoted = append(demoted, id)
			c.logger.Warn("Worker marked inactive",
				zap.String("worker_id", string(id)),
				zap.Duration("silence", silence))
		}
	}

	sort.Slice(demoted, func(i, j int) bool { return demoted[i] < demoted[j] })
	c.metrics.WorkersDemoted.Add(float64(len(demoted)))
	return demoted
}

// Workers lists known workers in registration order.
func (c *Coordinator) Workers() []*types.Worker {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]*types.Worker, 0, len(c.workers))
	for _, w := range c.workers {
		out = append(out, w.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out
}

func (c *Coordinator) Worker(id types.WorkerID) (*types.Worker, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	w, ok := c.workers[id]
	if !ok {
		return nil, fmt.Errorf("%w: worker %s", ErrNotFound, id)
	}
	return w.Clone(), nil
}

// PruneWorkers forgets Inactive workers that have been silent for longer than
// maxAge. They are removed from every replica list they still appear in, so
// the auditor sees the true replica count. Nothing calls this automatically.
func (c *Coordinator) PruneWorkers(maxAge time.Duration) []types.WorkerID {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	var removed []types.WorkerID
	for id, w := range c.workers {
		if w.State != types.WorkerInactive || now.Sub(w.LastHeartbeat) <= maxAge {
			continue
		}
		for blockID := range w.Blocks {
			if b, ok := c.blocks[blockID]; ok {
				b.Replicas = removeWorkerID(b.Replicas, id)
				b.Confirmations = removeWorkerID(b.Confirmations, id)
				b.Pending = removePending(b.Pending, id)
				if len(b.Replicas) == 0 {
					c.logger.Error("Block lost its last replica",
						zap.String("block_id", string(blockID)),
						zap.String("file", b.FilePath))
				}
			}
		}
		delete(c.workers, id)
		removed = append(removed, id)
		c.logger.Info("Worker pruned", zap.String("worker_id", string(id)))
	}

	sort.Slice(removed, func(i, j int) bool { return removed[i] < removed[j] })
	return removed
}

func removeWorkerID(ids []types.WorkerID, id types.WorkerID) []types.WorkerID {
	for i, existing := range ids {
		if existing == id {
			return append(ids[:i], ids[i+1:]...)
		}
	}
	return ids
}
