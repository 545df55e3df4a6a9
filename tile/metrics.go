package tile

import (
	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	errTypeLabel = "error_type"
)

var (
	tileResidentBytes = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "tile_resident_bytes",
		Help: "The number of tile payload bytes held in memory.",
	})

	tileCommits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tile_commits",
		Help: "The number of tile payloads committed.",
	})

	tileEvictions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tile_evictions",
		Help: "The number of stale tile payloads evicted.",
	})

	tileFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tile_load_errors",
		Help: "The errors that occured while loading a tile.",
	}, []string{
		errTypeLabel,
	})
)

func instrumentResidentBytes(delta int64) {
	tileResidentBytes.Add(float64(delta))
}

func instrumentCommit() {
	tileCommits.Inc()
}

func instrumentEviction() {
	tileEvictions.Inc()
}

func instrumentFailure(err error) {
	tileFailures.
		With(prometheus.Labels{
			errTypeLabel: errors.Type(err),
		}).
		Inc()
}
