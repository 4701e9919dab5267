package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"outline-manager/internal/domain"
	"time"
)

// Module provides the metrics collector
var Module = fx.Options(
	fx.Provide(NewRegistry),
	fx.Provide(func(r *prometheus.Registry) prometheus.Registerer { return r }),
	fx.Provide(NewCollector),
	fx.Provide(func(c *Collector) domain.MetricsCollector { return c }),
	fx.Invoke(registerServer),
)

func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

type Collector struct {
	logger           *zap.Logger
	servers          prometheus.Gauge
	repositoryOps    *prometheus.CounterVec
	statusChanges    *prometheus.CounterVec
	connectsTotal    *prometheus.CounterVec
	connectDuration  *prometheus.HistogramVec
	serverReachable  *prometheus.GaugeVec
	reachabilityRuns *prometheus.CounterVec
}

func NewCollector(reg prometheus.Registerer, logger *zap.Logger) *Collector {
	factory := promauto.With(reg)
	return &Collector{
		logger: logger,
		servers: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "outline_servers",
				Help: "Number of servers currently tracked by the repository",
			},
		),
		repositoryOps: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "outline_repository_operations_total",
				Help: "Total number of repository mutations",
			},
			[]string{"operation"},
		),
		statusChanges: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "outline_tunnel_status_changes_total",
				Help: "Total number of tunnel status notifications",
			},
			[]string{"server_id", "status"},
		),
		connectsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "outline_connects_total",
				Help: "Total number of connect attempts",
			},
			[]string{"server_id", "result"},
		),
		connectDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "outline_connect_duration_seconds",
				Help:    "Duration of connect attempts",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"server_id"},
		),
		serverReachable: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "outline_server_reachable",
				Help: "Latest reachability probe result (1 for reachable, 0 otherwise)",
			},
			[]string{"server_id"},
		),
		reachabilityRuns: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "outline_reachability_probes_total",
				Help: "Total number of reachability probes",
			},
			[]string{"server_id", "result"},
		),
	}
}

func (c *Collector) RecordRepositoryOperation(op string) {
	c.repositoryOps.WithLabelValues(op).Inc()
}

func (c *Collector) SetServerCount(n int) {
	c.servers.Set(float64(n))
}

func (c *Collector) RecordStatusChange(serverID, status string) {
	c.statusChanges.WithLabelValues(serverID, status).Inc()
}

func (c *Collector) RecordConnect(serverID string, duration time.Duration, err error) {
	result := "success"
	if err != nil {
		result = "error"
	}
	c.connectsTotal.WithLabelValues(serverID, result).Inc()
	c.connectDuration.WithLabelValues(serverID).Observe(duration.Seconds())
}

func (c *Collector) RecordReachability(serverID string, reachable bool) {
	status := 0.0
	result := "unreachable"
	if reachable {
		status = 1.0
		result = "reachable"
	}
	c.serverReachable.WithLabelValues(serverID).Set(status)
	c.reachabilityRuns.WithLabelValues(serverID, result).Inc()
}

// Forget drops the per-server series of a removed server.
func (c *Collector) Forget(serverID string) {
	c.serverReachable.DeleteLabelValues(serverID)
	c.connectDuration.DeleteLabelValues(serverID)
}
