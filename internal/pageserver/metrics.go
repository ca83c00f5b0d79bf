package pageserver

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	pagesServedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "meshfetch_pages_served_total",
		Help: "Total page requests answered by status code.",
	}, []string{"status"})

	pageRateLimitedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "meshfetch_page_rate_limited_total",
		Help: "Total page requests rejected by the per-peer rate limit.",
	})
)

func recordServed(status int) {
	pagesServedTotal.WithLabelValues(strconv.Itoa(status)).Inc()
}
