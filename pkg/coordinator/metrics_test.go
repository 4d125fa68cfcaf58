package coordinator

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"blockfs/pkg/utils"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func newTestMux(t *testing.T, h *harness) *http.ServeMux {
	mux := http.NewServeMux()
	NewHealthEndpoint(h.coord, zaptest.NewLogger(t)).RegisterHandlers(mux)
	return mux
}

func get(mux *http.ServeMux, path string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func healthStatus(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Status string `json:"status"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body.Status
}

func TestHealthEndpoint(t *testing.T) {
	h := newHarness(t, nil)
	mux := newTestMux(t, h)

	t.Run("no workers", func(t *testing.T) {
		rec := get(mux, "/health")
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
		assert.Equal(t, "unhealthy", healthStatus(t, rec))

		assert.Equal(t, http.StatusOK, get(mux, "/health/live").Code)
		assert.Equal(t, http.StatusServiceUnavailable, get(mux, "/health/ready").Code)
	})

	ids := h.addWorkers(t, 2, 10*utils.GiB)

	t.Run("enough workers", func(t *testing.T) {
		rec := get(mux, "/health")
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "healthy", healthStatus(t, rec))
		assert.Equal(t, "READY", get(mux, "/health/ready").Body.String())
	})

	t.Run("degraded below replication factor", func(t *testing.T) {
		h.clock.Advance(2 * time.Minute)
		h.silence(t, ids[0])
		h.coord.SweepInactive(time.Minute)

		rec := get(mux, "/health")
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "degraded", healthStatus(t, rec))
		assert.Equal(t, http.StatusServiceUnavailable, get(mux, "/health/ready").Code)
	})
}

func TestMaintenanceRefreshesGauges(t *testing.T) {
	h := newHarness(t, nil)
	ids := h.addWorkers(t, 3, 10*utils.GiB)

	layout, err := h.coord.CreateFile("/f", "alice", 10*utils.MiB)
	require.NoError(t, err)
	h.confirmAll(t, layout)

	h.copier.fail[otherWorker(ids, layout.Blocks[0])] = assert.AnError
	h.silence(t, layout.Blocks[0].Replicas[0], otherWorker(ids, layout.Blocks[0]))
	h.coord.RunMaintenance(context.Background())

	m := h.coord.metrics
	assert.Equal(t, float64(3), testutil.ToFloat64(m.Workers))
	assert.Equal(t, float64(2), testutil.ToFloat64(m.ActiveWorkers))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.Files))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.Blocks))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.UnderReplicated))
	assert.Equal(t, float64(30*utils.GiB), testutil.ToFloat64(m.CapacityBytes))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.RepairsAttempted))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.Placements))

	t.Run("exposed on /metrics", func(t *testing.T) {
		rec := get(newTestMux(t, h), "/metrics")
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.True(t, strings.Contains(rec.Body.String(), "blockfs_blocks_under_replicated 1"))
	})
}
