package coordinator

import (
	"fmt"
	"math"
	"regexp"
	"strings"
	"testing"
	"time"

	"blockfs/pkg/types"
	"blockfs/pkg/utils"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestBlockCount(t *testing.T) {
	tests := []struct {
		size, blockSize int64
		want            int
	}{
		{0, 64, 0},
		{-5, 64, 0},
		{1, 64, 1},
		{64, 64, 1},
		{65, 64, 2},
		{150 * utils.MiB, 64 * utils.MiB, 3},
		{math.MaxInt64, 64 * utils.MiB, 137438953472},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%d/%d", tt.size, tt.blockSize), func(t *testing.T) {
			assert.Equal(t, tt.want, BlockCount(tt.size, tt.blockSize))
		})
	}
}

func TestGenerateBlockID(t *testing.T) {
	id := GenerateBlockID("/docs/a/report.pdf", 2, "abcd1234")
	assert.Equal(t, types.BlockID("blk-c8118ae41be8-abcd1234-2"), id)

	t.Run("same path, other generation", func(t *testing.T) {
		assert.NotEqual(t, id, GenerateBlockID("/docs/a/report.pdf", 2, "ffff0000"))
	})

	t.Run("awkward paths stay file name safe", func(t *testing.T) {
		paths := []string{
			"/.bashrc",
			"/..",
			"/a/../../etc/passwd",
			"/" + strings.Repeat("deep/", 200) + "file",
			"/" + strings.Repeat("x", 300),
		}
		for _, p := range paths {
			id := string(GenerateBlockID(p, 12345, "abcd1234"))
			assert.False(t, strings.HasPrefix(id, "."), p)
			assert.NotContains(t, id, "/", p)
			assert.Less(t, len(id), 255, p)
		}
	})
}

func TestPlacementSplitsFile(t *testing.T) {
	h := newHarness(t, nil)
	h.addWorkers(t, 3, 10*utils.GiB)

	layout, err := h.coord.CreateFile("/video.mp4", "alice", 150*utils.MiB)
	require.NoError(t, err)
	require.Len(t, layout.Blocks, 3)

	wantSizes := []int64{64 * utils.MiB, 64 * utils.MiB, 22 * utils.MiB}
	idPattern := regexp.MustCompile(`^blk-[0-9a-f]{12}-[0-9a-f]{8}-\d$`)

	var total int64
	for i, b := range layout.Blocks {
		assert.Equal(t, i, b.Index)
		assert.Equal(t, wantSizes[i], b.Size)
		assert.Equal(t, "/video.mp4", b.FilePath)
		assert.Equal(t, types.BlockPending, b.State)
		assert.Regexp(t, idPattern, string(b.ID))
		require.Len(t, b.Replicas, 2)
		assert.NotEqual(t, b.Replicas[0], b.Replicas[1], "replicas must be distinct")
		assert.Equal(t, b.Replicas[0], b.Leader())
		total += b.Size
	}
	assert.Equal(t, int64(150*utils.MiB), total)
	assert.Equal(t, layout.File.BlockIDs, []types.BlockID{layout.Blocks[0].ID, layout.Blocks[1].ID, layout.Blocks[2].ID})

	// Every block is reserved on both replicas.
	stats := h.coord.Stats()
	assert.Equal(t, int64(2*150*utils.MiB), stats.UsedBytes)
}

func TestCreateFileRejectsOversizedFiles(t *testing.T) {
	tests := []struct {
		name    string
		workers int
		size    int64
		want    error
	}{
		{"max size", 3, math.MaxInt64, ErrInsufficientSpace},
		{"far beyond capacity", 3, 1 << 60, ErrInsufficientSpace},
		{"just beyond capacity", 3, 15*utils.GiB + 1, ErrInsufficientSpace},
		{"no workers", 0, math.MaxInt64, ErrInsufficientWorkers},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, nil)
			h.addWorkers(t, tt.workers, 10*utils.GiB)

			_, err := h.coord.CreateFile("/huge", "alice", tt.size)
			require.ErrorIs(t, err, tt.want)

			_, err = h.coord.Stat("/huge")
			assert.ErrorIs(t, err, ErrNotFound)
			stats := h.coord.Stats()
			assert.Equal(t, 0, stats.Blocks)
			assert.Equal(t, int64(0), stats.UsedBytes)
		})
	}

	t.Run("within capacity", func(t *testing.T) {
		cfg := testConfig()
		cfg.BlockSize = utils.GiB
		h := newHarness(t, cfg)
		h.addWorkers(t, 4, 10*utils.GiB)

		layout, err := h.coord.CreateFile("/fits", "alice", 8*utils.GiB)
		require.NoError(t, err)
		assert.Len(t, layout.Blocks, 8)
	})
}

func TestPlacementSpreadsByFreeSpace(t *testing.T) {
	h := newHarness(t, nil)
	ids := h.addWorkers(t, 3, 1*utils.GiB)

	// With equal capacity the earliest registered workers win the first
	// block, then reservations push later blocks onto the emptiest worker.
	layout, err := h.coord.CreateFile("/f", "alice", 128*utils.MiB)
	require.NoError(t, err)
	require.Len(t, layout.Blocks, 2)
	assert.Equal(t, []types.WorkerID{ids[0], ids[1]}, layout.Blocks[0].Replicas)
	assert.Equal(t, ids[2], layout.Blocks[1].Replicas[0])
}

func TestSelectWorkers(t *testing.T) {
	h := newHarness(t, nil)
	big, err := h.coord.Register("10.0.0.1", 9001, 10*utils.GiB)
	require.NoError(t, err)
	small, err := h.coord.Register("10.0.0.2", 9001, 1*utils.GiB)
	require.NoError(t, err)
	full, err := h.coord.Register("10.0.0.3", 9001, 64*utils.MiB)
	require.NoError(t, err)
	dead, err := h.coord.Register("10.0.0.4", 9001, 20*utils.GiB)
	require.NoError(t, err)

	h.clock.Advance(2 * time.Minute)
	for _, id := range []types.WorkerID{big.ID, small.ID, full.ID} {
		host, port, err := types.SplitWorkerID(id)
		require.NoError(t, err)
		_, err = h.coord.Heartbeat(host, port, nil)
		require.NoError(t, err)
	}
	require.Equal(t, []types.WorkerID{dead.ID}, h.coord.SweepInactive(time.Minute))

	h.coord.mu.Lock()
	defer h.coord.mu.Unlock()

	t.Run("orders by free space and skips ineligible", func(t *testing.T) {
		got, err := h.coord.selectWorkers(2, nil)
		require.NoError(t, err)
		require.Len(t, got, 2)
		assert.Equal(t, big.ID, got[0].ID)
		assert.Equal(t, small.ID, got[1].ID)
	})

	t.Run("exclusion", func(t *testing.T) {
		got, err := h.coord.selectWorkers(1, map[types.WorkerID]struct{}{big.ID: {}})
		require.NoError(t, err)
		assert.Equal(t, small.ID, got[0].ID)
	})

	t.Run("not enough", func(t *testing.T) {
		_, err := h.coord.selectWorkers(3, nil)
		assert.ErrorIs(t, err, ErrInsufficientWorkers)
		assert.Contains(t, err.Error(), "need 3, have 2")
	})
}

func TestReleaseBlocksIsIdempotent(t *testing.T) {
	h := newHarness(t, nil)
	h.addWorkers(t, 2, 10*utils.GiB)

	layout, err := h.coord.CreateFile("/f", "alice", 100*utils.MiB)
	require.NoError(t, err)

	ids := layout.File.BlockIDs
	h.coord.mu.Lock()
	first := h.coord.releaseBlocks(ids)
	second := h.coord.releaseBlocks(ids)
	h.coord.mu.Unlock()

	assert.Len(t, first, 2)
	assert.Empty(t, second)
	assert.Equal(t, int64(0), h.coord.Stats().UsedBytes)
}

func BenchmarkCreateFile(b *testing.B) {
	cfg := testConfig()
	coord := New(cfg, zap.NewNop())
	for i := 0; i < 50; i++ {
		if _, err := coord.Register("10.0.1.1", 9001+i, 1<<50); err != nil {
			b.Fatal(err)
		}
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := coord.CreateFile(fmt.Sprintf("/bench-%d", i), "bench", 1*utils.GiB); err != nil {
			b.Fatal(err)
		}
	}
}
