package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	FragmentsConsumed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dispatcher_fragments_consumed_total",
			Help: "Total number of fragments consumed per subscription",
		},
		[]string{"dispatcher", "subscription"},
	)

	FragmentsOffered = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dispatcher_fragments_offered_total",
			Help: "Total number of frames appended or claimed by publishers",
		},
		[]string{"dispatcher"},
	)

	BytesOffered = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dispatcher_bytes_offered_total",
			Help: "Total payload bytes appended or claimed by publishers",
		},
		[]string{"dispatcher"},
	)

	BackpressureTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dispatcher_backpressure_total",
			Help: "Total number of publish attempts rejected by the publisher limit",
		},
		[]string{"dispatcher"},
	)

	PartitionRollovers = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dispatcher_partition_rollovers_total",
			Help: "Total number of active partition switches",
		},
		[]string{"dispatcher"},
	)

	PartitionsCleaned = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dispatcher_partitions_cleaned_total",
			Help: "Total number of partitions reset for reuse",
		},
		[]string{"dispatcher"},
	)

	HandlerPanics = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dispatcher_handler_panics_total",
			Help: "Total number of recovered fragment handler panics",
		},
		[]string{"dispatcher", "subscription"},
	)

	PublisherPosition = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "dispatcher_publisher_position",
			Help: "Current publisher position",
		},
		[]string{"dispatcher"},
	)

	PublisherLimit = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "dispatcher_publisher_limit",
			Help: "Current publisher limit",
		},
		[]string{"dispatcher"},
	)

	SubscriptionPosition = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "dispatcher_subscription_position",
			Help: "Current position per subscription",
		},
		[]string{"dispatcher", "subscription"},
	)

	DeliveryLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "dispatcher_delivery_latency_seconds",
			Help:    "Histogram of publish to consume latency",
			Buckets: prometheus.ExponentialBuckets(1e-6, 4, 12),
		},
		[]string{"dispatcher"},
	)
)

// ForgetSubscription drops the per-subscription series of a closed
// subscription.
func ForgetSubscription(dispatcher, subscription string) {
	FragmentsConsumed.DeleteLabelValues(dispatcher, subscription)
	HandlerPanics.DeleteLabelValues(dispatcher, subscription)
	SubscriptionPosition.DeleteLabelValues(dispatcher, subscription)
}
