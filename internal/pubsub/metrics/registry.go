package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry encapsulates all metrics and provides a clean interface
// for recording metrics without global state
type Registry struct {
	registry *prometheus.Registry

	// Dispatcher metrics
	publishTotal     *prometheus.CounterVec
	publishDuration  *prometheus.HistogramVec
	publishFanout    *prometheus.HistogramVec
	deliveryTotal    *prometheus.CounterVec
	deliveryDuration *prometheus.HistogramVec
	deliveriesActive prometheus.Gauge

	// Registry metrics
	subscriptions *prometheus.GaugeVec

	// Processor metrics
	processTotal   *prometheus.CounterVec
	flushBatchSize *prometheus.HistogramVec

	// Persister metrics
	databaseOperationTotal    *prometheus.CounterVec
	databaseOperationDuration *prometheus.HistogramVec

	// System health metrics
	systemInfo *prometheus.GaugeVec
	startTime  prometheus.Gauge
}

// NewRegistry creates a new metrics registry with all metrics initialized
func NewRegistry() *Registry {
	registry := prometheus.NewRegistry()

	r := &Registry{
		registry: registry,

		publishTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "etcwatch_publish_total",
				Help: "Total number of publish calls",
			},
			[]string{"event_type", "status"}, // status: dispatched, dropped, error
		),

		publishDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "etcwatch_publish_duration_seconds",
				Help:    "Time spent scheduling handlers for a publish call",
				Buckets: []float64{0.00001, 0.00005, 0.0001, 0.0005, 0.001, 0.005, 0.01},
			},
			[]string{"event_type"},
		),

		publishFanout: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "etcwatch_publish_fanout",
				Help:    "Number of handlers scheduled per publish call",
				Buckets: []float64{0, 1, 2, 4, 8, 16, 32, 64},
			},
			[]string{"event_type"},
		),

		deliveryTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "etcwatch_delivery_total",
				Help: "Total number of handler invocations by outcome",
			},
			[]string{"event_type", "subscriber", "status"}, // status: success, failed, panic, timeout, cancelled
		),

		deliveryDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "etcwatch_delivery_duration_seconds",
				Help:    "Time spent in handlers",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"event_type", "subscriber"},
		),

		deliveriesActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "etcwatch_deliveries_in_flight",
				Help: "Number of handler invocations not yet finished",
			},
		),

		subscriptions: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "etcwatch_subscriptions",
				Help: "Current number of subscriptions per event type",
			},
			[]string{"event_type"},
		),

		processTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "etcwatch_processor_events_total",
				Help: "Total number of events handed to a processor",
			},
			[]string{"processor", "status"}, // status: success, error
		),

		flushBatchSize: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "etcwatch_persist_batch_size",
				Help:    "Number of events per persist call",
				Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000},
			},
			[]string{"persister"},
		),

		databaseOperationTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "etcwatch_database_operation_total",
				Help: "Total number of database operations",
			},
			[]string{"operation", "status"}, // operation: persist, count, load
		),

		databaseOperationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "etcwatch_database_operation_duration_seconds",
				Help:    "Time spent on database operations",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
			},
			[]string{"operation"},
		),

		systemInfo: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "etcwatch_system_info",
				Help: "System information (value is always 1, labels contain info)",
			},
			[]string{"version", "processor", "persister"},
		),

		startTime: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "etcwatch_start_time_seconds",
				Help: "Unix timestamp when the application started",
			},
		),
	}

	// add default Go metrics (memory, GC, goroutines, etc.)
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	registry.MustRegister(
		r.publishTotal,
		r.publishDuration,
		r.publishFanout,
		r.deliveryTotal,
		r.deliveryDuration,
		r.deliveriesActive,
		r.subscriptions,
		r.processTotal,
		r.flushBatchSize,
		r.databaseOperationTotal,
		r.databaseOperationDuration,
		r.systemInfo,
		r.startTime,
	)

	r.startTime.SetToCurrentTime()

	return r
}

// Handler returns an HTTP handler for the Prometheus metrics endpoint
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
		Registry:          r.registry,
	})
}

// Gatherer exposes the underlying registry, mainly for tests.
func (r *Registry) Gatherer() prometheus.Gatherer {
	return r.registry
}

// RecordPublish records one publish call and the number of handlers it scheduled.
func (r *Registry) RecordPublish(eventType string, fanout int, duration time.Duration, err error) {
	status := "dispatched"
	switch {
	case err != nil:
		status = "error"
	case fanout == 0:
		status = "dropped"
	}

	r.publishTotal.WithLabelValues(eventType, status).Inc()
	if err != nil {
		return
	}
	r.publishDuration.WithLabelValues(eventType).Observe(duration.Seconds())
	r.publishFanout.WithLabelValues(eventType).Observe(float64(fanout))
}

// RecordDelivery records the outcome of one handler invocation. status is
// "success" or a handler error kind.
func (r *Registry) RecordDelivery(eventType, subscriber, status string, duration time.Duration) {
	r.deliveryTotal.WithLabelValues(eventType, subscriber, status).Inc()
	r.deliveryDuration.WithLabelValues(eventType, subscriber).Observe(duration.Seconds())
}

// AddDeliveriesInFlight adjusts the in-flight handler gauge by delta.
func (r *Registry) AddDeliveriesInFlight(delta int) {
	r.deliveriesActive.Add(float64(delta))
}

// SetSubscriptions sets the subscription count of an event type.
func (r *Registry) SetSubscriptions(eventType string, count int) {
	r.subscriptions.WithLabelValues(eventType).Set(float64(count))
}

// RecordProcess records one event handed to a processor.
func (r *Registry) RecordProcess(processor string, err error) {
	r.processTotal.WithLabelValues(processor, statusOf(err)).Inc()
}

// RecordPersistBatch records the size of one persist call.
func (r *Registry) RecordPersistBatch(persister string, size int) {
	r.flushBatchSize.WithLabelValues(persister).Observe(float64(size))
}

// RecordDatabaseOperation records a database operation
func (r *Registry) RecordDatabaseOperation(operation string, duration time.Duration, err error) {
	r.databaseOperationTotal.WithLabelValues(operation, statusOf(err)).Inc()
	r.databaseOperationDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// SetSystemInfo sets system information metrics
func (r *Registry) SetSystemInfo(version, processor, persister string) {
	r.systemInfo.WithLabelValues(version, processor, persister).Set(1)
}

func statusOf(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}
