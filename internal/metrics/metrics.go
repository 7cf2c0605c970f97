// README: Prometheus collector for the journey core. A nil *Collector is valid and records nothing.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Collector struct {
	reg *prometheus.Registry

	ETALookups     *prometheus.CounterVec // result label: hit|miss|error
	ETADuration    prometheus.Histogram
	ETACacheSize   prometheus.Gauge
	ETAEvictions   prometheus.Counter
	LocationWrites prometheus.Counter
	LocationErrors prometheus.Counter
	MirrorErrors   *prometheus.CounterVec // mirror label: broadcast|snapshot

	GeofenceArrivals   *prometheus.CounterVec // stop kind label
	JourneyTransitions *prometheus.CounterVec // to label
	Reroutes           prometheus.Counter

	NotificationsSent   *prometheus.CounterVec // type label
	NotificationsFailed *prometheus.CounterVec // type label

	EnrollmentDecisions *prometheus.CounterVec // outcome label: accepted|rejected|capacity_exceeded
	HTTPRequests        *prometheus.CounterVec
	HTTPDuration        *prometheus.HistogramVec
}

func NewCollector() *Collector {
	reg := prometheus.NewRegistry()

	c := &Collector{
		reg: reg,
		ETALookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "schoolrun_eta_lookups_total",
			Help: "ETA cache lookups by result.",
		}, []string{"result"}),
		ETADuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "schoolrun_eta_provider_duration_seconds",
			Help:    "Latency of external ETA computations.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 10),
		}),
		ETACacheSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "schoolrun_eta_cache_entries",
			Help: "Entries currently held by the ETA cache.",
		}),
		ETAEvictions: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "schoolrun_eta_cache_evictions_total",
			Help: "Stale ETA entries removed by the sweeper.",
		}),
		LocationWrites: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "schoolrun_location_updates_total",
			Help: "Driver location samples stored.",
		}),
		LocationErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "schoolrun_location_update_errors_total",
			Help: "Driver location samples that failed to store.",
		}),
		MirrorErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "schoolrun_location_mirror_errors_total",
			Help: "Failures mirroring samples to the broadcast or snapshot sinks.",
		}, []string{"mirror"}),
		GeofenceArrivals: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "schoolrun_geofence_arrivals_total",
			Help: "Stops completed through geofence detection.",
		}, []string{"kind"}),
		JourneyTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "schoolrun_journey_transitions_total",
			Help: "Journey status transitions.",
		}, []string{"to"}),
		Reroutes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "schoolrun_journey_reroutes_total",
			Help: "Routes regenerated after an absence change.",
		}),
		NotificationsSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "schoolrun_notifications_sent_total",
			Help: "Notifications handed to the dispatcher.",
		}, []string{"type"}),
		NotificationsFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "schoolrun_notifications_failed_total",
			Help: "Notifications the dispatcher rejected.",
		}, []string{"type"}),
		EnrollmentDecisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "schoolrun_enrollment_decisions_total",
			Help: "Enrollment request resolutions by outcome.",
		}, []string{"outcome"}),
		HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "schoolrun_http_requests_total",
			Help: "HTTP requests handled.",
		}, []string{"method", "path", "status"}),
		HTTPDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "schoolrun_http_request_duration_seconds",
			Help:    "HTTP request latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "path"}),
	}

	reg.MustRegister(
		c.ETALookups, c.ETADuration, c.ETACacheSize, c.ETAEvictions,
		c.LocationWrites, c.LocationErrors, c.MirrorErrors,
		c.GeofenceArrivals, c.JourneyTransitions, c.Reroutes,
		c.NotificationsSent, c.NotificationsFailed,
		c.EnrollmentDecisions, c.HTTPRequests, c.HTTPDuration,
	)
	return c
}

func (c *Collector) Handler() http.Handler {
	if c == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(c.reg, promhttp.HandlerOpts{})
}

func (c *Collector) ETALookup(result string) {
	if c == nil {
		return
	}
	c.ETALookups.WithLabelValues(result).Inc()
}

func (c *Collector) ETAObserve(d time.Duration) {
	if c == nil {
		return
	}
	c.ETADuration.Observe(d.Seconds())
}

func (c *Collector) ETACacheEntries(n int, evicted int) {
	if c == nil {
		return
	}
	c.ETACacheSize.Set(float64(n))
	c.ETAEvictions.Add(float64(evicted))
}

func (c *Collector) LocationStored(err error) {
	if c == nil {
		return
	}
	if err != nil {
		c.LocationErrors.Inc()
		return
	}
	c.LocationWrites.Inc()
}

func (c *Collector) MirrorFailed(mirror string) {
	if c == nil {
		return
	}
	c.MirrorErrors.WithLabelValues(mirror).Inc()
}

func (c *Collector) Arrival(kind string) {
	if c == nil {
		return
	}
	c.GeofenceArrivals.WithLabelValues(kind).Inc()
}

func (c *Collector) Transition(to string) {
	if c == nil {
		return
	}
	c.JourneyTransitions.WithLabelValues(to).Inc()
}

func (c *Collector) Reroute() {
	if c == nil {
		return
	}
	c.Reroutes.Inc()
}

func (c *Collector) Notification(kind string, err error) {
	if c == nil {
		return
	}
	if err != nil {
		c.NotificationsFailed.WithLabelValues(kind).Inc()
		return
	}
	c.NotificationsSent.WithLabelValues(kind).Inc()
}

func (c *Collector) Enrollment(outcome string) {
	if c == nil {
		return
	}
	c.EnrollmentDecisions.WithLabelValues(outcome).Inc()
}

func (c *Collector) HTTPObserve(method, path, status string, d time.Duration) {
	if c == nil {
		return
	}
	c.HTTPRequests.WithLabelValues(method, path, status).Inc()
	c.HTTPDuration.WithLabelValues(method, path).Observe(d.Seconds())
}
