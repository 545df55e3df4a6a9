package frame

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	frameDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "frame_duration_seconds",
		Help:    "The time spent running a frame.",
		Buckets: prometheus.ExponentialBuckets(0.0005, 2, 12),
	})

	frameDrawnTiles = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "frame_drawn_tiles",
		Help: "The number of tiles drawn by the last frame.",
	})

	frameRequests = promauto.NewCounter(prometheus.CounterOpts{
		Name: "frame_requests",
		Help: "The number of tile loads requested by frames.",
	})
)

func instrumentFrame(s Stats) {
	frameDuration.Observe(s.Duration.Seconds())
	frameDrawnTiles.Set(float64(s.Drawn))
	frameRequests.Add(float64(s.Requested))
}
