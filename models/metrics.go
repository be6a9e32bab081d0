package models

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	reasonLabel = "reason"
)

var (
	tileCacheSize = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "tile_cache_size",
		Help: "The number of tiles held in tile caches.",
	})

	tileCacheEvictions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tile_cache_evictions_total",
		Help: "The total number of tiles evicted from tile caches.",
	}, []string{reasonLabel})
)

func instrumentTileCreated() {
	tileCacheSize.Inc()
}

func instrumentTileEvicted(reason string) {
	tileCacheSize.Dec()
	tileCacheEvictions.
		With(prometheus.Labels{reasonLabel: reason}).
		Inc()
}
