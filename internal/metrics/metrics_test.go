package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/require"

	"github.com/afd-core/afd/internal/ssa"
)

func TestCollectPopulatesGaugesFromArea(t *testing.T) {
	dir := t.TempDir()
	area, err := ssa.Bootstrap(dir, []ssa.Host{
		{Alias: "h1", AllowedTransfers: 1, TotalFileCounter: 3, TotalFileSize: 4096, Jobs: make([]ssa.JobStatus, 1)},
	}, nil)
	require.NoError(t, err)
	defer area.Close()

	reg := prometheus.NewRegistry()
	c := NewCollector(area, reg)
	require.NoError(t, c.Collect())

	gauge := c.totalFileCounter.WithLabelValues("h1")
	m := &dto.Metric{}
	require.NoError(t, gauge.Write(m))
	require.Equal(t, float64(3), m.GetGauge().GetValue())

	sizeGauge := c.totalFileSize.WithLabelValues("h1")
	m2 := &dto.Metric{}
	require.NoError(t, sizeGauge.Write(m2))
	require.Equal(t, float64(4096), m2.GetGauge().GetValue())
}
