// Package metrics exports prometheus gauges over the live contents of
// the Shared Status Area (spec §3 host-record counters), refreshed on a
// timer rather than per-mutation so instrumentation never competes with
// the byte-range locks that protect the mapped counters themselves.
package metrics

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/afd-core/afd/internal/ssa"
)

// Collector periodically snapshots every host slot in an Area into a set
// of per-host gauges.
type Collector struct {
	area *ssa.Area

	totalFileCounter *prometheus.GaugeVec
	totalFileSize    *prometheus.GaugeVec
	errorCounter     *prometheus.GaugeVec
	bytesSend        *prometheus.GaugeVec
	fileCounterDone  *prometheus.GaugeVec
	connections      *prometheus.GaugeVec
	hostStatus       *prometheus.GaugeVec
}

// NewCollector registers the gauge vectors against reg (pass
// prometheus.DefaultRegisterer for the global registry, or a dedicated
// registry in tests).
func NewCollector(area *ssa.Area, reg prometheus.Registerer) *Collector {
	factory := promauto.With(reg)
	labels := []string{"host_alias"}
	return &Collector{
		area: area,
		totalFileCounter: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "afd",
			Subsystem: "fsa",
			Name:      "total_file_counter",
			Help:      "Number of files still queued for a host.",
		}, labels),
		totalFileSize: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "afd",
			Subsystem: "fsa",
			Name:      "total_file_size_bytes",
			Help:      "Total size of files still queued for a host.",
		}, labels),
		errorCounter: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "afd",
			Subsystem: "fsa",
			Name:      "error_counter",
			Help:      "Consecutive transfer errors for a host.",
		}, labels),
		bytesSend: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "afd",
			Subsystem: "fsa",
			Name:      "bytes_send_total",
			Help:      "Cumulative bytes sent to a host.",
		}, labels),
		fileCounterDone: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "afd",
			Subsystem: "fsa",
			Name:      "file_counter_done",
			Help:      "Cumulative files successfully sent to a host.",
		}, labels),
		connections: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "afd",
			Subsystem: "fsa",
			Name:      "connections",
			Help:      "Open connections to a host.",
		}, labels),
		hostStatus: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "afd",
			Subsystem: "fsa",
			Name:      "host_status_bits",
			Help:      "Raw host_status bitset value.",
		}, labels),
	}
}

// Collect snapshots every host slot once.
func (c *Collector) Collect() error {
	n := c.area.NumHosts()
	for i := 0; i < n; i++ {
		h, err := c.area.Host(i)
		if err != nil {
			return err
		}
		c.totalFileCounter.WithLabelValues(h.Alias).Set(float64(h.TotalFileCounter))
		c.totalFileSize.WithLabelValues(h.Alias).Set(float64(h.TotalFileSize))
		c.errorCounter.WithLabelValues(h.Alias).Set(float64(h.ErrorCounter))
		c.bytesSend.WithLabelValues(h.Alias).Set(float64(h.BytesSend))
		c.fileCounterDone.WithLabelValues(h.Alias).Set(float64(h.FileCounterDone))
		c.connections.WithLabelValues(h.Alias).Set(float64(h.Connections))
		c.hostStatus.WithLabelValues(h.Alias).Set(float64(h.HostStatus))
	}
	return nil
}

// Run calls Collect every interval until ctx is canceled.
func (c *Collector) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_ = c.Collect()
		}
	}
}
