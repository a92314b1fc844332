// Package metrics holds the prometheus collectors of the streaming engine.
// Gauges are updated with deltas so that several tilesets can share them.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	DecodeDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "tile_decode_duration_seconds",
		Help:    "Tile content decode duration in seconds by format",
		Buckets: prometheus.ExponentialBuckets(0.0001, 2, 14), // 0.1ms to ~800ms
	}, []string{"format"})

	DecodeErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tile_decode_errors_total",
		Help: "Total tile content decode failures by format",
	}, []string{"format"})

	CacheBytes = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "tile_cache_bytes",
		Help: "Decoded content bytes resident in the tile caches",
	})

	CacheEntries = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "tile_cache_entries",
		Help: "Number of entries resident in the tile caches",
	})

	CacheEvictions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tile_cache_evictions_total",
		Help: "Total cache entries evicted under budget pressure",
	})

	CacheLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tile_cache_lookups_total",
		Help: "Total cache acquire calls by result",
	}, []string{"result"}) // "hit" or "miss"

	RequestsInFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "tile_requests_in_flight",
		Help: "Number of content requests currently fetching or decoding",
	})

	RequestsQueued = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "tile_requests_queued",
		Help: "Number of content requests waiting for a fetch slot",
	})

	RequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tile_requests_total",
		Help: "Total content requests by outcome",
	}, []string{"outcome"}) // "ready", "failed", "cancelled"

	FetchedBytes = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tile_fetched_bytes_total",
		Help: "Total bytes fetched for tile contents and tileset documents",
	})
)
