package stats

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func MilisecondsElapsed(from time.Time) float64 {
	return float64(time.Since(from)) / float64(time.Millisecond)
}

var (
	prometheusMetricsFactory promauto.Factory              = promauto.With(prometheus.DefaultRegisterer)
	counters                 map[string]prometheus.Counter = map[string]prometheus.Counter{
		"appendedEntries": prometheusMetricsFactory.NewCounter(prometheus.CounterOpts{
			Name: "netlog_appended_entries_total",
			Help: "The number of entries appended to the store.",
		}),
	}
	counterVecs map[string]*prometheus.CounterVec = map[string]*prometheus.CounterVec{
		"queryFailures": prometheusMetricsFactory.NewCounterVec(prometheus.CounterOpts{
			Name: "netlog_query_failures_total",
			Help: "The number of failed requests, by failure message.",
		}, []string{"route", "message"}),
		"collectedMessages": prometheusMetricsFactory.NewCounterVec(prometheus.CounterOpts{
			Name: "netlog_collected_messages_total",
			Help: "The number of messages received by collectors.",
		}, []string{"collector", "result"}),
	}
	histogramVecs map[string]*prometheus.HistogramVec = map[string]*prometheus.HistogramVec{
		"requestHandling": prometheusMetricsFactory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "netlog_request_handling_time_milliseconds",
			Help:    "The time elapsed serving HTTP requests.",
			Buckets: []float64{0.5, 1, 5, 50, 100, 500},
		}, []string{"route", "status"}),
		"rangeResultSize": prometheusMetricsFactory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "netlog_range_result_entries",
			Help:    "The number of entries returned by range queries.",
			Buckets: prometheus.ExponentialBuckets(1, 4, 8),
		}, []string{"encoding"}),
	}
)

func Counter(name string) prometheus.Counter {
	return counters[name]
}

func CounterVec(name string) *prometheus.CounterVec {
	return counterVecs[name]
}

func HistogramVec(name string) *prometheus.HistogramVec {
	return histogramVecs[name]
}

// ListenAndServe serves the Prometheus registry on /metrics until ctx is done.
func ListenAndServe(ctx context.Context, port int) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: fmt.Sprintf("0.0.0.0:%d", port), Handler: mux}
	go func() {
		<-ctx.Done()
		srv.Close()
	}()
	err := srv.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}
