package streaming

import (
	"time"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	resultLabel    = "result"
	errTypeLabel   = "error_type"
	statusLabel    = "status"
	resultSuccess  = "success"
	resultFailure  = "failure"
	resultCommit   = "committed"
	resultFailed   = "failed"
	resultDiscard  = "discarded"
	resultDropped  = "dropped"
	resultCanceled = "cancelled"
)

var (
	streamingQueueLength = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "streaming_queue_length",
		Help: "The number of tile loads waiting for a worker.",
	})

	streamingInFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "streaming_in_flight",
		Help: "The number of tile loads being read by workers.",
	})

	streamingLoadDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "streaming_load_duration_seconds",
		Help:    "The time spent reading a tile.",
		Buckets: prometheus.ExponentialBuckets(0.001, 2, 14),
	}, []string{
		resultLabel,
	})

	streamingLoadErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "streaming_load_errors",
		Help: "The errors that occured while reading a tile.",
	}, []string{
		errTypeLabel,
	})

	streamingResults = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "streaming_results",
		Help: "The outcome of tile load requests.",
	}, []string{
		resultLabel,
	})

	streamingTrees = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "streaming_trees",
		Help: "The number of trees registered to a streaming manager.",
	})

	streamingPumps = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "streaming_pumps",
		Help: "The number of request pumps by returned status.",
	}, []string{
		statusLabel,
	})
)

func instrumentLoad(d time.Duration, err error) {
	result := resultSuccess
	if err != nil {
		result = resultFailure

		streamingLoadErrors.
			With(prometheus.Labels{
				errTypeLabel: errors.Type(err),
			}).
			Inc()
	}

	streamingLoadDuration.
		With(prometheus.Labels{
			resultLabel: result,
		}).
		Observe(d.Seconds())
}

func instrumentResult(result string) {
	streamingResults.
		With(prometheus.Labels{
			resultLabel: result,
		}).
		Inc()
}

func instrumentQueue(queuedDelta, inFlightDelta int) {
	streamingQueueLength.Add(float64(queuedDelta))
	streamingInFlight.Add(float64(inFlightDelta))
}

func instrumentTrees(delta int) {
	streamingTrees.Add(float64(delta))
}

func instrumentPump(s Status) {
	streamingPumps.
		With(prometheus.Labels{
			statusLabel: s.String(),
		}).
		Inc()
}
