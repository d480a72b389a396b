package metrics

import (
	"errors"
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

	// Publisher metrics
	eventsTotal       *prometheus.CounterVec
	eventDuration     *prometheus.HistogramVec
	eventFanout       *prometheus.HistogramVec
	deliveredTotal    *prometheus.CounterVec
	evictedTotal      *prometheus.CounterVec
	subscriptionTotal *prometheus.CounterVec

	// Directory metrics
	lookupTotal    *prometheus.CounterVec
	lookupDuration *prometheus.HistogramVec

	// Messaging metrics
	messageSendTotal *prometheus.CounterVec

	// System health metrics
	systemInfo *prometheus.GaugeVec
	startTime  prometheus.Gauge
}

// NewRegistry creates a new metrics registry with all metrics initialized
func NewRegistry() *Registry {
	registry := prometheus.NewRegistry()

	r := &Registry{
		registry: registry,

		eventsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ssebot_publisher_events_total",
				Help: "Total number of events handed to publishers",
			},
			[]string{"publisher", "event_type", "status"}, // status: success, error
		),

		eventDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "ssebot_publisher_event_duration_seconds",
				Help:    "Time spent fanning out a single event",
				Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
			},
			[]string{"publisher", "event_type"},
		),

		eventFanout: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "ssebot_publisher_event_fanout",
				Help:    "Number of subscribers matched per event",
				Buckets: []float64{0, 1, 2, 5, 10, 25, 50, 100, 250},
			},
			[]string{"publisher", "event_type"},
		),

		deliveredTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ssebot_publisher_delivered_total",
				Help: "Total number of events accepted by subscriber sinks",
			},
			[]string{"publisher", "event_type"},
		),

		evictedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ssebot_publisher_evicted_total",
				Help: "Total number of subscribers evicted because their sink was full or closed",
			},
			[]string{"publisher"},
		),

		subscriptionTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ssebot_publisher_subscription_total",
				Help: "Total number of subscribe and unsubscribe operations",
			},
			[]string{"publisher", "operation", "status"}, // operation: subscribe, unsubscribe
		),

		lookupTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ssebot_directory_lookup_total",
				Help: "Total number of user directory lookups",
			},
			[]string{"tier", "status"}, // tier: local, authoritative; status: hit, miss, error
		),

		lookupDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "ssebot_directory_lookup_duration_seconds",
				Help:    "Time spent resolving users",
				Buckets: []float64{0.0001, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
			},
			[]string{"tier"},
		),

		messageSendTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ssebot_messages_sent_total",
				Help: "Total number of bot messages sent to streams",
			},
			[]string{"status"},
		),

		systemInfo: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "ssebot_system_info",
				Help: "System information (value is always 1, labels contain info)",
			},
			[]string{"version", "build_time"},
		),

		startTime: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "ssebot_start_time_seconds",
				Help: "Unix timestamp when the application started",
			},
		),
	}

	// add default Go metrics (memory, GC, goroutines, etc.)
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	registry.MustRegister(
		r.eventsTotal,
		r.eventDuration,
		r.eventFanout,
		r.deliveredTotal,
		r.evictedTotal,
		r.subscriptionTotal,
		r.lookupTotal,
		r.lookupDuration,
		r.messageSendTotal,
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

// Gatherer exposes the underlying registry for scraping and tests.
func (r *Registry) Gatherer() prometheus.Gatherer {
	return r.registry
}

// RecordEvent records the fan-out of one event.
func (r *Registry) RecordEvent(publisher, eventType string, matched, delivered, evicted int, duration time.Duration, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}

	r.eventsTotal.WithLabelValues(publisher, eventType, status).Inc()
	r.eventDuration.WithLabelValues(publisher, eventType).Observe(duration.Seconds())
	if err != nil {
		return
	}

	r.eventFanout.WithLabelValues(publisher, eventType).Observe(float64(matched))
	if delivered > 0 {
		r.deliveredTotal.WithLabelValues(publisher, eventType).Add(float64(delivered))
	}
	if evicted > 0 {
		r.evictedTotal.WithLabelValues(publisher).Add(float64(evicted))
	}
}

// RecordSubscription records a subscribe or unsubscribe call.
func (r *Registry) RecordSubscription(publisher, operation string, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}

	r.subscriptionTotal.WithLabelValues(publisher, operation, status).Inc()
}

// RegisterActiveSubscribers exposes the number of registered subscribers of
// publisher, read from fn at scrape time. Registering a publisher twice keeps
// the first fn.
func (r *Registry) RegisterActiveSubscribers(publisher string, fn func() int) {
	err := r.registry.Register(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name:        "ssebot_publisher_active_subscribers",
			Help:        "Current number of registered subscribers",
			ConstLabels: prometheus.Labels{"publisher": publisher},
		},
		func() float64 { return float64(fn()) },
	))
	if err != nil && !errors.As(err, &prometheus.AlreadyRegisteredError{}) {
		panic(err)
	}
}

// RecordLookup records a user directory lookup against one tier.
func (r *Registry) RecordLookup(tier, status string, duration time.Duration) {
	r.lookupTotal.WithLabelValues(tier, status).Inc()
	r.lookupDuration.WithLabelValues(tier).Observe(duration.Seconds())
}

// RecordMessageSend records a message sent by the bot.
func (r *Registry) RecordMessageSend(err error) {
	status := "success"
	if err != nil {
		status = "error"
	}

	r.messageSendTotal.WithLabelValues(status).Inc()
}

// RegisterPresenceSessions exposes the number of running presence sessions,
// read from fn at scrape time.
func (r *Registry) RegisterPresenceSessions(fn func() int) {
	r.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "ssebot_presence_sessions_active",
			Help: "Current number of active presence sessions",
		},
		func() float64 { return float64(fn()) },
	))
}

// SetSystemInfo sets system information metrics
func (r *Registry) SetSystemInfo(version, buildTime string) {
	r.systemInfo.WithLabelValues(version, buildTime).Set(1)
}
