package metrics

import (
	"net/http"
	"strconv"

	"github.com/agux/roscrape/internal/logging"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var log = logging.Logger

var (
	FetchAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "roscrape_fetch_attempts_total",
		Help: "Fetch attempts by classified outcome",
	}, []string{"outcome"})

	Tasks = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "roscrape_tasks_total",
		Help: "Finished fetch tasks by result",
	}, []string{"result"})

	ProxiesRemoved = promauto.NewCounter(prometheus.CounterOpts{
		Name: "roscrape_proxies_removed_total",
		Help: "Proxies removed from the pool after a failure",
	})

	PoolSize = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "roscrape_pool_size",
		Help: "Number of proxies currently in the pool",
	})

	TaskDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "roscrape_task_duration_seconds",
		Help:    "Wall time of a fetch task",
		Buckets: prometheus.ExponentialBuckets(0.25, 2, 10),
	})
)

// Serve exposes /metrics on the given port in the background. A non-positive port disables it.
func Serve(port int) {
	if port <= 0 {
		return
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	addr := ":" + strconv.Itoa(port)
	go func() {
		if err := http.ListenAndServe(addr, mux); err != nil {
			log.Errorf("metrics server on %s stopped: %+v", addr, err)
		}
	}()
	log.Infof("metrics available at %s/metrics", addr)
}
