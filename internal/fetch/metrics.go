package fetch

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	fetchesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "meshfetch_fetches_total",
		Help: "Total fetches by outcome (ok or the failure kind).",
	}, []string{"outcome"})

	fetchStageDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "meshfetch_fetch_stage_duration_seconds",
		Help:    "Duration of each fetch stage in seconds.",
		Buckets: []float64{.005, .01, .05, .1, .25, .5, 1, 2.5, 5, 10, 20},
	}, []string{"stage"})

	linksOpen = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "meshfetch_links_open",
		Help: "Links currently held by in-flight fetches.",
	})
)

// Stage labels.
const (
	stagePath     = "path"
	stageLink     = "link"
	stageExchange = "exchange"
	stageParse    = "parse"
)

func observeStage(stage string, start time.Time) {
	fetchStageDuration.WithLabelValues(stage).Observe(time.Since(start).Seconds())
}

func recordOutcome(err error) {
	if err == nil {
		fetchesTotal.WithLabelValues("ok").Inc()
		return
	}
	fetchesTotal.WithLabelValues(KindOf(err).String()).Inc()
}
