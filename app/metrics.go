package app

import (
	"github.com/fiffu/listingwatch/lib/monitor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

func NewMetricsRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

func NewMonitorMetrics(reg *prometheus.Registry) *monitor.Metrics {
	return monitor.NewMetrics(reg)
}
