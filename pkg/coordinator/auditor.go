package coordinator

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"blockfs/pkg/types"

	"go.uber.org/zap"
)

// MaintenanceReport summarizes one sweep and audit pass.
type MaintenanceReport struct {
	Demoted         []types.WorkerID
	UnderReplicated []types.BlockID
	Repaired        []types.BlockID
	Deferred        []types.BlockID
	// InFlight blocks already have enough copies under way.
	InFlight []types.BlockID
	// Expired blocks had a copy that was never confirmed in time.
	Expired []types.BlockID
}

func (c *Coordinator) activeReplicasLocked(b *types.Block) []types.WorkerID {
	active := make([]types.WorkerID, 0, len(b.Replicas))
	for _, id := range b.Replicas {
		if w, ok := c.workers[id]; ok && w.IsActive() {
			active = append(active, id)
		}
	}
	return active
}

func (c *Coordinator) underReplicatedLocked(b *types.Block) bool {
	return b.State == types.BlockConfirmed &&
		len(c.activeReplicasLocked(b)) < c.config.ReplicationFactor
}

// Audit lists Confirmed blocks with fewer Active replicas than the
// replication factor. It does not change any state.
func (c *Coordinator) Audit() []types.BlockID {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.auditLocked()
}

func (c *Coordinator) auditLocked() []types.BlockID {
	var out []types.BlockID
	for id, b := range c.blocks {
		if c.underReplicatedLocked(b) {
			out = append(out, id)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// inFlightLocked reports whether the copies already issued for b would cover
// its deficit once confirmed.
func (c *Coordinator) inFlightLocked(b *types.Block) bool {
	return len(b.Pending) > 0 &&
		len(c.activeReplicasLocked(b))+len(b.Pending) >= c.config.ReplicationFactor
}

// Repair brings blockID back to the replication factor by copying it from a
// healthy replica onto newly selected workers. The lock is held across the
// copy calls, each bounded by the repair timeout, so no confirmation for the
// same block can interleave. An accepted instruction only makes the target
// pending; it joins the replica list when it confirms the block.
func (c *Coordinator) Repair(ctx context.Context, blockID types.BlockID) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	b, ok := c.blocks[blockID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrBlockNotFound, blockID)
	}

	active := c.activeReplicasLocked(b)
	deficit := c.config.ReplicationFactor - len(active) - len(b.Pending)
	if deficit <= 0 {
		return nil
	}
	if len(active) == 0 {
		return fmt.Errorf("%w: block %s has no active replica to copy from", ErrInsufficientWorkers, blockID)
	}

	exclude := make(map[types.WorkerID]struct{}, len(b.Replicas)+len(b.Pending))
	for _, id := range b.Replicas {
		exclude[id] = struct{}{}
	}
	for _, p := range b.Pending {
		exclude[p.Worker] = struct{}{}
	}
	targets, err := c.selectWorkers(deficit, exclude)
	if err != nil {
		return fmt.Errorf("repair %s: %w", blockID, err)
	}

	source := active[0]
	var errs []error
	for _, target := range targets {
		c.metrics.RepairsAttempted.Inc()
		c.reserve(target, b)

		copyCtx, cancel := context.WithTimeout(ctx, c.repairTimeout())
		err := c.copier.CopyReplica(copyCtx, CopyInstruction{
			BlockID: blockID,
			Source:  source,
			Target:  target.ID,
		})
		cancel()

		if err != nil {
			c.unreserve(target, b)
			c.metrics.RepairsFailed.Inc()
			errs = append(errs, fmt.Errorf("copy %s from %s to %s: %w", blockID, source, target.ID, err))
			continue
		}

		b.Pending = append(b.Pending, types.PendingCopy{
			Worker:   target.ID,
			Deadline: c.now().Add(c.pendingCopyTimeout()),
		})
		c.logger.Info("Replica copy issued",
			zap.String("block_id", string(blockID)),
			zap.String("source", string(source)),
			zap.String("target", string(target.ID)))
	}
	return errors.Join(errs...)
}

func (c *Coordinator) repairInFlight(id types.BlockID) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	b, ok := c.blocks[id]
	return ok && c.inFlightLocked(b)
}

func (c *Coordinator) repairTimeout() time.Duration {
	if c.config.RepairTimeout > 0 {
		return c.config.RepairTimeout
	}
	return 10 * time.Second
}

// pendingCopyTimeout is how long an accepted copy may take to be confirmed.
// It spans at least one audit interval so a slow copy is not expired by the
// very next pass.
func (c *Coordinator) pendingCopyTimeout() time.Duration {
	if c.config.AuditInterval > c.repairTimeout() {
		return c.config.AuditInterval
	}
	return c.repairTimeout()
}

// expirePendingCopies drops repair targets whose confirmation is overdue,
// returning their reservations and asking them to discard whatever they
// stored. The block shows up under-replicated again and is retried.
func (c *Coordinator) expirePendingCopies() []types.BlockID {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	purge := make(map[types.WorkerID][]types.BlockID)
	var expired []types.BlockID
	for id, b := range c.blocks {
		if len(b.Pending) == 0 {
			continue
		}
		var kept []types.PendingCopy
		for _, p := range b.Pending {
			if now.Before(p.Deadline) {
				kept = append(kept, p)
				continue
			}
			if w, ok := c.workers[p.Worker]; ok {
				c.unreserve(w, b)
			}
			purge[p.Worker] = append(purge[p.Worker], id)
			c.metrics.RepairsFailed.Inc()
			c.logger.Warn("Replica copy was never confirmed",
				zap.String("block_id", string(id)),
				zap.String("target", string(p.Worker)))
		}
		if len(kept) < len(b.Pending) {
			expired = append(expired, id)
		}
		b.Pending = kept
	}

	c.dispatchDeletes(purge)
	sort.Slice(expired, func(i, j int) bool { return expired[i] < expired[j] })
	return expired
}

func removePending(pending []types.PendingCopy, id types.WorkerID) []types.PendingCopy {
	for i, p := range pending {
		if p.Worker == id {
			return append(pending[:i], pending[i+1:]...)
		}
	}
	return pending
}

// RunMaintenance sweeps stale workers, audits every block and attempts to
// repair what it finds. Repair failures are logged and left for the next run.
func (c *Coordinator) RunMaintenance(ctx context.Context) MaintenanceReport {
	start := time.Now()
	defer func() {
		c.metrics.MaintenanceDuration.Observe(time.Since(start).Seconds())
		c.refreshGauges()
	}()

	report := MaintenanceReport{
		Demoted: c.SweepInactive(c.config.HeartbeatTimeout),
		Expired: c.expirePendingCopies(),
	}
	report.UnderReplicated = c.Audit()

	// An expired target is still being told to drop the block; retrying in
	// the same pass could pick it again and race that delete.
	expired := make(map[types.BlockID]struct{}, len(report.Expired))
	for _, id := range report.Expired {
		expired[id] = struct{}{}
	}

	for _, id := range report.UnderReplicated {
		if ctx.Err() != nil {
			break
		}
		if _, ok := expired[id]; ok {
			continue
		}
		if c.repairInFlight(id) {
			report.InFlight = append(report.InFlight, id)
			continue
		}
		if err := c.Repair(ctx, id); err != nil {
			report.Deferred = append(report.Deferred, id)
			level := c.logger.Warn
			if errors.Is(err, ErrInsufficientWorkers) {
				level = c.logger.Info
			}
			level("Repair deferred", zap.String("block_id", string(id)), zap.Error(err))
			continue
		}
		report.Repaired = append(report.Repaired, id)
	}

	if len(report.Demoted) > 0 || len(report.UnderReplicated) > 0 || len(report.Expired) > 0 {
		c.logger.Info("Maintenance pass finished",
			zap.Int("demoted", len(report.Demoted)),
			zap.Int("under_replicated", len(report.UnderReplicated)),
			zap.Int("repaired", len(report.Repaired)),
			zap.Int("deferred", len(report.Deferred)),
			zap.Int("in_flight", len(report.InFlight)),
			zap.Int("expired", len(report.Expired)))
	}
	return report
}
