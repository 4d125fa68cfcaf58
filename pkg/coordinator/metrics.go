package coordinator

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Metrics tracks coordinator state for Prometheus.
type Metrics struct {
	// Cluster gauges
	Workers         prometheus.Gauge
	ActiveWorkers   prometheus.Gauge
	Files           prometheus.Gauge
	Blocks          prometheus.Gauge
	UnderReplicated prometheus.Gauge
	CapacityBytes   prometheus.Gauge
	UsedBytes       prometheus.Gauge

	// Placement and tracking
	Placements        prometheus.Counter
	PlacementFailures prometheus.Counter
	Confirmations     prometheus.Counter

	// Liveness and repair
	WorkersDemoted      prometheus.Counter
	RepairsAttempted    prometheus.Counter
	RepairsSucceeded    prometheus.Counter
	RepairsFailed       prometheus.Counter
	MaintenanceDuration prometheus.Histogram

	registry prometheus.Gatherer
}

// NewMetrics creates and registers the coordinator metrics on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	m := &Metrics{
		Workers: factory.NewGauge(prometheus.GaugeOpts{
			Name: "blockfs_workers",
			Help: "Number of known storage workers",
		}),
		ActiveWorkers: factory.NewGauge(prometheus.GaugeOpts{
			Name: "blockfs_workers_active",
			Help: "Number of storage workers currently active",
		}),
		Files: factory.NewGauge(prometheus.GaugeOpts{
			Name: "blockfs_files",
			Help: "Number of files in the namespace",
		}),
		Blocks: factory.NewGauge(prometheus.GaugeOpts{
			Name: "blockfs_blocks",
			Help: "Number of tracked blocks",
		}),
		UnderReplicated: factory.NewGauge(prometheus.GaugeOpts{
			Name: "blockfs_blocks_under_replicated",
			Help: "Confirmed blocks with fewer active replicas than the replication factor",
		}),
		CapacityBytes: factory.NewGauge(prometheus.GaugeOpts{
			Name: "blockfs_capacity_bytes",
			Help: "Total capacity reported by workers",
		}),
		UsedBytes: factory.NewGauge(prometheus.GaugeOpts{
			Name: "blockfs_used_bytes",
			Help: "Bytes used or reserved on workers",
		}),
		Placements: factory.NewCounter(prometheus.CounterOpts{
			Name: "blockfs_block_placements_total",
			Help: "Blocks assigned a replica set",
		}),
		PlacementFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "blockfs_placement_failures_total",
			Help: "File creations rejected for lack of workers",
		}),
		Confirmations: factory.NewCounter(prometheus.CounterOpts{
			Name: "blockfs_block_confirmations_total",
			Help: "Block write confirmations accepted",
		}),
		WorkersDemoted: factory.NewCounter(prometheus.CounterOpts{
			Name: "blockfs_workers_demoted_total",
			Help: "Workers marked inactive by the liveness sweep",
		}),
		RepairsAttempted: factory.NewCounter(prometheus.CounterOpts{
			Name: "blockfs_repairs_attempted_total",
			Help: "Replica copy instructions issued",
		}),
		RepairsSucceeded: factory.NewCounter(prometheus.CounterOpts{
			Name: "blockfs_repairs_succeeded_total",
			Help: "Replica copies confirmed by their target",
		}),
		RepairsFailed: factory.NewCounter(prometheus.CounterOpts{
			Name: "blockfs_repairs_failed_total",
			Help: "Replica copies rejected by their target or never confirmed",
		}),
		MaintenanceDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "blockfs_maintenance_duration_seconds",
			Help:    "Duration of sweep, audit and repair passes",
			Buckets: prometheus.DefBuckets,
		}),
	}

	if g, ok := reg.(prometheus.Gatherer); ok {
		m.registry = g
	}
	return m
}

// refreshGauges copies current cluster totals into the gauges.
func (c *Coordinator) refreshGauges() {
	stats := c.Stats()
	c.metrics.Workers.Set(float64(stats.Workers))
	c.metrics.ActiveWorkers.Set(float64(stats.ActiveWorkers))
	c.metrics.Files.Set(float64(stats.Files))
	c.metrics.Blocks.Set(float64(stats.Blocks))
	c.metrics.UnderReplicated.Set(float64(stats.UnderReplicated))
	c.metrics.CapacityBytes.Set(float64(stats.CapacityBytes))
	c.metrics.UsedBytes.Set(float64(stats.UsedBytes))
}

// HealthEndpoint serves liveness, readiness and metrics over HTTP.
type HealthEndpoint struct {
	coord  *Coordinator
	logger *zap.Logger
}

func NewHealthEndpoint(coord *Coordinator, logger *zap.Logger) *HealthEndpoint {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HealthEndpoint{coord: coord, logger: logger}
}

// RegisterHandlers registers HTTP handlers
func (he *HealthEndpoint) RegisterHandlers(mux *http.ServeMux) {
	mux.HandleFunc("/health", he.handleHealth)
	mux.HandleFunc("/health/live", he.handleLiveness)
	mux.HandleFunc("/health/ready", he.handleReadiness)

	if he.coord.metrics.registry != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(he.coord.metrics.registry, promhttp.HandlerOpts{}))
	} else {
		mux.Handle("/metrics", promhttp.Handler())
	}
}

// handleHealth reports cluster totals. Under-replicated blocks degrade the
// status; having no active worker makes it unhealthy.
func (he *HealthEndpoint) handleHealth(w http.ResponseWriter, r *http.Request) {
	stats := he.coord.Stats()

	status := "healthy"
	statusCode := http.StatusOK
	switch {
	case stats.ActiveWorkers == 0:
		status = "unhealthy"
		statusCode = http.StatusServiceUnavailable
	case stats.UnderReplicated > 0 || stats.ActiveWorkers < stats.ReplicationFactor:
		status = "degraded"
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status":    status,
		"stats":     stats,
		"timestamp": time.Now().Format(time.RFC3339),
	})
}

func (he *HealthEndpoint) handleLiveness(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

// handleReadiness is ready once enough workers are active to place a block.
func (he *HealthEndpoint) handleReadiness(w http.ResponseWriter, r *http.Request) {
	stats := he.coord.Stats()
	if stats.ActiveWorkers >= stats.ReplicationFactor {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("READY"))
		return
	}
	w.WriteHeader(http.StatusServiceUnavailable)
	w.Write([]byte("NOT READY"))
}

// StartMetricsServer serves the health endpoints on address in the background.
func StartMetricsServer(address string, coord *Coordinator, logger *zap.Logger) *http.Server {
	mux := http.NewServeMux()
	NewHealthEndpoint(coord, logger).RegisterHandlers(mux)

	server := &http.Server{
		Addr:    address,
		Handler: mux,
	}

	go func() {
		logger.Info("Starting metrics server", zap.String("address", address))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Metrics server failed", zap.Error(err))
		}
	}()

	return server
}
