package cmd

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ftpmount/ftpmount/fs"
	"github.com/ftpmount/ftpmount/vfs"
)

// serveMetrics exports the queue and pool statistics as Prometheus
// gauges on addr
func serveMetrics(addr string, v *vfs.VFS) {
	reg := prometheus.NewRegistry()
	gauge := func(name, help string, value func() float64) {
		reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "ftpmount",
			Name:      name,
			Help:      help,
		}, value))
	}
	gauge("queue_pending", "Operations waiting to run", func() float64 {
		return float64(v.QueueStats().Pending)
	})
	gauge("queue_active", "Operations currently running", func() float64 {
		return float64(v.QueueStats().Active)
	})
	gauge("queue_completed_total", "Operations completed without error", func() float64 {
		return float64(v.QueueStats().Completed)
	})
	gauge("queue_failed_total", "Operations that returned an error", func() float64 {
		return float64(v.QueueStats().Failed)
	})
	gauge("queue_avg_processing_seconds", "Mean run time of finished operations", func() float64 {
		return v.QueueStats().AvgProcessingTime.Seconds()
	})
	gauge("pool_total", "Open FTP connections", func() float64 {
		return float64(v.PoolStats().Total)
	})
	gauge("pool_active", "FTP connections on loan", func() float64 {
		return float64(v.PoolStats().Active)
	})
	gauge("pool_idle", "FTP connections idle in the pool", func() float64 {
		return float64(v.PoolStats().Idle)
	})
	gauge("pool_failed_total", "Connection dials and health checks that failed", func() float64 {
		return float64(v.PoolStats().Failed)
	})

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	fs.Infof(nil, "serving metrics on %q", addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		fs.Errorf(nil, "metrics server: %v", err)
	}
}
