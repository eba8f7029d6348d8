package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/procfs"
)

// SelfHealthCollector reports this process's own resource usage alongside
// the GPIO metrics, the same shape as exporter.TCPInfoCollector: Describe
// advertises fixed descriptors, Collect queries live kernel state on every
// scrape rather than caching it.
type SelfHealthCollector struct {
	proc   procfs.Proc
	logger func(error)

	openFDs *prometheus.Desc
	rss     *prometheus.Desc
}

// NewSelfHealthCollector opens /proc/self for the lifetime of the
// collector. errorLoggingCallback is invoked (never panics) when a scrape
// fails to read procfs, mirroring exporter.go's errorLoggingCallback.
func NewSelfHealthCollector(errorLoggingCallback func(error)) (*SelfHealthCollector, error) {
	proc, err := procfs.Self()
	if err != nil {
		return nil, err
	}
	return &SelfHealthCollector{
		proc:   proc,
		logger: errorLoggingCallback,
		openFDs: prometheus.NewDesc(
			"cpc_gpio_bridge_process_open_fds",
			"Number of open file descriptors held by the bridge process.",
			nil, nil,
		),
		rss: prometheus.NewDesc(
			"cpc_gpio_bridge_process_resident_memory_bytes",
			"Resident memory size of the bridge process, in bytes.",
			nil, nil,
		),
	}, nil
}

func (c *SelfHealthCollector) Describe(descs chan<- *prometheus.Desc) {
	descs <- c.openFDs
	descs <- c.rss
}

func (c *SelfHealthCollector) Collect(metrics chan<- prometheus.Metric) {
	if n, err := c.proc.FileDescriptorsLen(); err != nil {
		c.logger(err)
	} else {
		metrics <- prometheus.MustNewConstMetric(c.openFDs, prometheus.GaugeValue, float64(n))
	}

	stat, err := c.proc.Stat()
	if err != nil {
		c.logger(err)
		return
	}
	metrics <- prometheus.MustNewConstMetric(c.rss, prometheus.GaugeValue, float64(stat.ResidentMemory()))
}
