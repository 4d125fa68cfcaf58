package coordinator

import "blockfs/pkg/types"

// Stats summarizes the namespace, blocks and workers.
func (c *Coordinator) Stats() types.Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	stats := types.Stats{
		Files:             len(c.files),
		Directories:       len(c.dirs),
		Blocks:            len(c.blocks),
		Workers:           len(c.workers),
		ReplicationFactor: c.config.ReplicationFactor,
		BlockSize:         c.config.BlockSize,
	}
	for _, w := range c.workers {
		if w.IsActive() {
			stats.ActiveWorkers++
		}
		stats.CapacityBytes += w.CapacityBytes
		stats.UsedBytes += w.UsedBytes
	}
	for _, b := range c.blocks {
		if c.underReplicatedLocked(b) {
			stats.UnderReplicated++
		}
	}
	return stats
}
