package metricsstore

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Source is anything that can report current metrics.
type Source interface {
	Metrics() Metrics
}

// Collector exports a Source's totals as Prometheus gauges.
type Collector struct {
	source    Source
	blobCount *prometheus.Desc
	totalSize *prometheus.Desc
}

// NewCollector returns a collector labelled with the store name.
func NewCollector(name string, source Source) *Collector {
	labels := prometheus.Labels{"store": name}
	return &Collector{
		source: source,
		blobCount: prometheus.NewDesc(
			prometheus.BuildFQName("blobstore", "", "blob_count"),
			"Number of live blobs in the store.",
			nil, labels,
		),
		totalSize: prometheus.NewDesc(
			prometheus.BuildFQName("blobstore", "", "total_size_bytes"),
			"Total content size of live blobs in bytes.",
			nil, labels,
		),
	}
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.blobCount
	ch <- c.totalSize
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	m := c.source.Metrics()
	ch <- prometheus.MustNewConstMetric(c.blobCount, prometheus.GaugeValue, float64(m.BlobCount))
	ch <- prometheus.MustNewConstMetric(c.totalSize, prometheus.GaugeValue, float64(m.TotalSize))
}
