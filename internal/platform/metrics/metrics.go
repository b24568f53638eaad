// Package metrics provides Prometheus metrics for the clinical engine.
//
// All recording methods are safe on a nil *Metrics so services and tests can
// run without a registry.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all application metrics.
type Metrics struct {
	registry *prometheus.Registry

	HTTPRequests *prometheus.CounterVec
	HTTPDuration *prometheus.HistogramVec

	DrugsDispensed      prometheus.Counter
	DispenseRetries     prometheus.Counter
	DispenseConflicts   prometheus.Counter
	StockLevelChecks    *prometheus.CounterVec
	DrugsExpired        prometheus.Counter
	DosesConsumed       prometheus.Counter
	Administrations     *prometheus.CounterVec
	ValidationFailures  *prometheus.CounterVec
	BedAssignments      *prometheus.CounterVec
	AppointmentsBooked  prometheus.Counter
	SlotConflicts       prometheus.Counter
	SurgeriesScheduled  prometheus.Counter
	OutboxPending       prometheus.Gauge
	OutboxPublished     prometheus.Counter
	OutboxFailed        prometheus.Counter
	CircuitBreakerState *prometheus.GaugeVec
	WebsocketClients    prometheus.Gauge
}

// New creates a dedicated registry and registers all metrics on it.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hms_http_requests_total",
			Help: "HTTP requests by method, route and status",
		}, []string{"method", "route", "status"}),
		HTTPDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "hms_http_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		}, []string{"method", "route"}),
		DrugsDispensed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "hms_drugs_dispensed_total",
			Help: "Successful stock decrements",
		}),
		DispenseRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "hms_dispense_retries_total",
			Help: "Compare-and-set retries after a concurrent stock change",
		}),
		DispenseConflicts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "hms_dispense_conflicts_total",
			Help: "Dispenses abandoned after exhausting retries",
		}),
		StockLevelChecks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hms_stock_level_checks_total",
			Help: "Stock level checks by resulting level",
		}, []string{"level"}),
		DrugsExpired: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "hms_drugs_expired_total",
			Help: "Drugs moved to EXPIRED by the sweep",
		}),
		DosesConsumed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "hms_doses_consumed_total",
			Help: "Prescription units consumed by administrations",
		}),
		Administrations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hms_administrations_total",
			Help: "Administration records by status",
		}, []string{"status"}),
		ValidationFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hms_administration_validation_errors_total",
			Help: "Administration validation errors by code",
		}, []string{"code"}),
		BedAssignments: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hms_bed_assignments_total",
			Help: "Bed assignment attempts by result",
		}, []string{"result"}),
		AppointmentsBooked: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "hms_appointments_booked_total",
			Help: "Appointments booked",
		}),
		SlotConflicts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "hms_appointment_slot_conflicts_total",
			Help: "Bookings rejected because the doctor slot was taken",
		}),
		SurgeriesScheduled: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "hms_surgeries_scheduled_total",
			Help: "Surgeries scheduled",
		}),
		OutboxPending: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "hms_outbox_pending_entries",
			Help: "Pending outbox entries",
		}),
		OutboxPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "hms_outbox_published_total",
			Help: "Outbox entries published",
		}),
		OutboxFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "hms_outbox_failed_total",
			Help: "Outbox publish failures",
		}),
		CircuitBreakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "hms_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=open, 2=half-open)",
		}, []string{"name"}),
		WebsocketClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "hms_websocket_clients",
			Help: "Connected websocket clients",
		}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.HTTPRequests,
		m.HTTPDuration,
		m.DrugsDispensed,
		m.DispenseRetries,
		m.DispenseConflicts,
		m.StockLevelChecks,
		m.DrugsExpired,
		m.DosesConsumed,
		m.Administrations,
		m.ValidationFailures,
		m.BedAssignments,
		m.AppointmentsBooked,
		m.SlotConflicts,
		m.SurgeriesScheduled,
		m.OutboxPending,
		m.OutboxPublished,
		m.OutboxFailed,
		m.CircuitBreakerState,
		m.WebsocketClients,
	)

	return m
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns the Prometheus HTTP handler for this registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) ObserveHTTP(method, route string, status int, d time.Duration) {
	if m == nil {
		return
	}
	m.HTTPRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.HTTPDuration.WithLabelValues(method, route).Observe(d.Seconds())
}

// ObserveDispense records one dispense attempt that needed retries extra
// compare-and-set rounds.
func (m *Metrics) ObserveDispense(retries int, ok bool) {
	if m == nil {
		return
	}
	m.DispenseRetries.Add(float64(retries))
	if ok {
		m.DrugsDispensed.Inc()
	} else {
		m.DispenseConflicts.Inc()
	}
}

func (m *Metrics) ObserveStockLevel(level string) {
	if m == nil {
		return
	}
	m.StockLevelChecks.WithLabelValues(level).Inc()
}

func (m *Metrics) ObserveExpired(n int) {
	if m == nil {
		return
	}
	m.DrugsExpired.Add(float64(n))
}

func (m *Metrics) ObserveAdministration(status string, consumed bool) {
	if m == nil {
		return
	}
	m.Administrations.WithLabelValues(status).Inc()
	if consumed {
		m.DosesConsumed.Inc()
	}
}

func (m *Metrics) ObserveValidationErrors(codes []string) {
	if m == nil {
		return
	}
	for _, c := range codes {
		m.ValidationFailures.WithLabelValues(c).Inc()
	}
}

func (m *Metrics) ObserveBedAssignment(result string) {
	if m == nil {
		return
	}
	m.BedAssignments.WithLabelValues(result).Inc()
}

func (m *Metrics) ObserveBooking(ok bool) {
	if m == nil {
		return
	}
	if ok {
		m.AppointmentsBooked.Inc()
	} else {
		m.SlotConflicts.Inc()
	}
}

func (m *Metrics) ObserveSurgeryScheduled() {
	if m == nil {
		return
	}
	m.SurgeriesScheduled.Inc()
}

func (m *Metrics) SetOutboxPending(n int64) {
	if m == nil {
		return
	}
	m.OutboxPending.Set(float64(n))
}

func (m *Metrics) ObserveOutboxPublish(ok bool) {
	if m == nil {
		return
	}
	if ok {
		m.OutboxPublished.Inc()
	} else {
		m.OutboxFailed.Inc()
	}
}

func (m *Metrics) SetBreakerState(name string, state int) {
	if m == nil {
		return
	}
	m.CircuitBreakerState.WithLabelValues(name).Set(float64(state))
}

func (m *Metrics) SetWebsocketClients(n int) {
	if m == nil {
		return
	}
	m.WebsocketClients.Set(float64(n))
}
