// Package xmetrics defines the prometheus series exported on the debug/admin
// API's /metrics route (§4.L), grounded on the client_golang usage pattern
// common across the pack (register once at package init, hand the registry's
// collectors to promhttp.Handler at the route).
package xmetrics

import "github.com/prometheus/client_golang/prometheus"

var (
	// ProxyRequestsTotal counts progressive-proxy requests by outcome:
	// "cache_hit", "fetch", "error".
	ProxyRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "proxy_requests_total",
		Help: "Progressive proxy requests by outcome.",
	}, []string{"outcome"})

	// ProxyBytesTeedTotal counts bytes written into the file cache during
	// origin fetches (the tee loop in §4.E).
	ProxyBytesTeedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "proxy_bytes_teed_total",
		Help: "Bytes copied from origin into the file cache.",
	})

	// HLSSegmentsTotal counts prefetched HLS segments by outcome:
	// "downloaded", "failed".
	HLSSegmentsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "hls_segments_total",
		Help: "HLS segments processed by outcome.",
	}, []string{"outcome"})

	// HLSActiveTasks reports the number of in-flight HLS prefetch tasks.
	HLSActiveTasks = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "hls_active_tasks",
		Help: "Number of HLS prefetch tasks currently downloading.",
	})

	// CacheFilesTotal reports the number of FileCache entries held open by
	// the Cache Registry.
	CacheFilesTotal = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "cache_files_total",
		Help: "Number of progressive cache files currently tracked.",
	})
)

func init() {
	prometheus.MustRegister(ProxyRequestsTotal, ProxyBytesTeedTotal, HLSSegmentsTotal, HLSActiveTasks, CacheFilesTotal)
}
