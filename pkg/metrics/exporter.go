package metrics

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/downfa11-org/go-dispatcher/util"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func init() {
	prometheus.MustRegister(FragmentsConsumed, FragmentsOffered, BytesOffered, BackpressureTotal)
	prometheus.MustRegister(PartitionRollovers, PartitionsCleaned, HandlerPanics)
	prometheus.MustRegister(PublisherPosition, PublisherLimit, SubscriptionPosition, DeliveryLatency)
}

// StartMetricsServer serves /metrics on the given port in the background.
func StartMetricsServer(port int) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux}

	go func() {
		util.Info("[METRICS] Prometheus exporter listening on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			util.Error("[METRICS] Failed to start metrics server: %v", err)
		}
	}()
	return srv
}

// PushOffer records one successful publish of length payload bytes.
func PushOffer(dispatcher string, length int) {
	FragmentsOffered.WithLabelValues(dispatcher).Inc()
	BytesOffered.WithLabelValues(dispatcher).Add(float64(length))
}

// PushDelivery records the publish to consume latency of one fragment.
func PushDelivery(dispatcher string, elapsedSeconds float64) {
	if elapsedSeconds >= 0 {
		DeliveryLatency.WithLabelValues(dispatcher).Observe(elapsedSeconds)
	}
}
