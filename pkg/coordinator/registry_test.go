package coordinator

import (
	"testing"
	"time"

	"blockfs/pkg/types"
	"blockfs/pkg/utils"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegister(t *testing.T) {
	h := newHarness(t, nil)

	w, err := h.coord.Register("storage-1", 9001, 0)
	require.NoError(t, err)
	assert.Equal(t, types.WorkerID("storage-1:9001"), w.ID)
	assert.Equal(t, int64(10*utils.GiB), w.CapacityBytes, "zero capacity falls back to the default")
	assert.Equal(t, types.WorkerActive, w.State)
	assert.Equal(t, uint64(1), w.Seq)

	t.Run("idempotent by address", func(t *testing.T) {
		h.clock.Advance(time.Second)
		again, err := h.coord.Register("storage-1", 9001, 20*utils.GiB)
		require.NoError(t, err)
		assert.Equal(t, w.ID, again.ID)
		assert.Equal(t, uint64(1), again.Seq)
		assert.Equal(t, int64(20*utils.GiB), again.CapacityBytes)
		assert.Equal(t, h.clock.Now(), again.LastHeartbeat)
		assert.Len(t, h.coord.Workers(), 1)
	})

	t.Run("invalid address", func(t *testing.T) {
		_, err := h.coord.Register("", 9001, 0)
		assert.ErrorIs(t, err, ErrInvalidOperation)
		_, err = h.coord.Register("host", 70000, 0)
		assert.ErrorIs(t, err, ErrInvalidOperation)
	})

	t.Run("registration order", func(t *testing.T) {
		_, err := h.coord.Register("storage-2", 9001, 0)
		require.NoError(t, err)
		workers := h.coord.Workers()
		require.Len(t, workers, 2)
		assert.Equal(t, types.WorkerID("storage-1:9001"), workers[0].ID)
		assert.Equal(t, types.WorkerID("storage-2:9001"), workers[1].ID)
	})
}

func TestHeartbeat(t *testing.T) {
	h := newHarness(t, nil)

	t.Run("unknown worker is registered", func(t *testing.T) {
		w, err := h.coord.Heartbeat("storage-1", 9001, &types.UsageReport{CapacityBytes: 5 * utils.GiB, UsedBytes: utils.GiB})
		require.NoError(t, err)
		assert.Equal(t, int64(5*utils.GiB), w.CapacityBytes)
		assert.Equal(t, int64(utils.GiB), w.UsedBytes)
	})

	t.Run("usage report replaces reservation estimate", func(t *testing.T) {
		w, err := h.coord.Heartbeat("storage-1", 9001, &types.UsageReport{UsedBytes: 42})
		require.NoError(t, err)
		assert.Equal(t, int64(42), w.UsedBytes)
		assert.Equal(t, int64(5*utils.GiB), w.CapacityBytes, "zero capacity in a report keeps the known value")
	})

	t.Run("invalid port", func(t *testing.T) {
		_, err := h.coord.Heartbeat("storage-1", 0, nil)
		assert.ErrorIs(t, err, ErrInvalidOperation)
	})
}

func TestSweepInactive(t *testing.T) {
	h := newHarness(t, nil)
	ids := h.addWorkers(t, 2, 10*utils.GiB)
	timeout := time.Minute

	h.clock.Advance(timeout)
	assert.Empty(t, h.coord.SweepInactive(timeout), "silence equal to the timeout is still alive")

	host, port, err := types.SplitWorkerID(ids[1])
	require.NoError(t, err)
	_, err = h.coord.Heartbeat(host, port, nil)
	require.NoError(t, err)

	h.clock.Advance(time.Second)
	assert.Equal(t, []types.WorkerID{ids[0]}, h.coord.SweepInactive(timeout))
	assert.Empty(t, h.coord.SweepInactive(timeout), "already inactive workers are not reported again")

	w, err := h.coord.Worker(ids[0])
	require.NoError(t, err)
	assert.Equal(t, types.WorkerInactive, w.State)

	t.Run("heartbeat reactivates", func(t *testing.T) {
		host, port, err := types.SplitWorkerID(ids[0])
		require.NoError(t, err)
		w, err := h.coord.Heartbeat(host, port, nil)
		require.NoError(t, err)
		assert.Equal(t, types.WorkerActive, w.State)
	})
}

func TestInactiveWorkerGetsNoPlacements(t *testing.T) {
	h := newHarness(t, nil)
	ids := h.addWorkers(t, 3, 10*utils.GiB)

	h.clock.Advance(2 * time.Minute)
	for _, id := range ids[1:] {
		host, port, err := types.SplitWorkerID(id)
		require.NoError(t, err)
		_, err = h.coord.Heartbeat(host, port, nil)
		require.NoError(t, err)
	}
	h.coord.SweepInactive(time.Minute)

	layout, err := h.coord.CreateFile("/f", "alice", 200*utils.MiB)
	require.NoError(t, err)
	for _, b := range layout.Blocks {
		assert.NotContains(t, b.Replicas, ids[0])
	}
}

func TestPruneWorkers(t *testing.T) {
	h := newHarness(t, nil)
	ids := h.addWorkers(t, 3, 10*utils.GiB)

	layout, err := h.coord.CreateFile("/f", "alice", 10*utils.MiB)
	require.NoError(t, err)
	h.confirmAll(t, layout)
	stale := layout.Blocks[0].Replicas[0]

	// Keep every other worker alive while stale goes silent.
	h.clock.Advance(2 * time.Minute)
	for _, id := range ids {
		if id == stale {
			continue
		}
		host, port, err := types.SplitWorkerID(id)
		require.NoError(t, err)
		_, err = h.coord.Heartbeat(host, port, nil)
		require.NoError(t, err)
	}
	require.Equal(t, []types.WorkerID{stale}, h.coord.SweepInactive(time.Minute))

	assert.Empty(t, h.coord.PruneWorkers(time.Hour), "not silent long enough")

	h.clock.Advance(2 * time.Hour)
	assert.Equal(t, []types.WorkerID{stale}, h.coord.PruneWorkers(time.Hour))

	_, err = h.coord.Worker(stale)
	assert.ErrorIs(t, err, ErrNotFound)

	after, err := h.coord.FileLayout("/f")
	require.NoError(t, err)
	assert.NotContains(t, after.Blocks[0].Replicas, stale)
	assert.NotContains(t, after.Blocks[0].Confirmations, stale)
	assert.Len(t, after.Blocks[0].Replicas, 1)
}
