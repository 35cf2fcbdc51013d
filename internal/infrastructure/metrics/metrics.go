package metrics

import (
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nerrad567/experiment-core/internal/component"
)

// Activation results used as the "result" label.
const (
	ResultSuccess  = "success"
	ResultDisabled = "disabled"
	ResultRejected = "rejected"
	ResultFailed   = "failed"
)

// Metrics holds the Prometheus collectors for the component container.
// It implements component.Observer.
type Metrics struct {
	registry *prometheus.Registry

	activations *prometheus.CounterVec
	duration    *prometheus.HistogramVec
	slotActive  *prometheus.GaugeVec
}

// New creates the collectors on a private registry, together with the Go
// runtime and process collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		activations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "experiment_activations_total",
				Help: "Slot activation attempts by contract and result",
			},
			[]string{"contract", "result"},
		),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "experiment_activation_duration_seconds",
				Help:    "Time spent disposing and constructing slot instances",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"contract"},
		),
		slotActive: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "experiment_slot_active",
				Help: "1 when the slot has an active instance, 0 when disabled",
			},
			[]string{"contract", "slot"},
		),
	}

	m.registry.MustRegister(
		m.activations,
		m.duration,
		m.slotActive,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry returns the registry the collectors are registered on.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns the HTTP handler serving the exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// ActivationFinished records one activation attempt.
func (m *Metrics) ActivationFinished(ref component.SlotRef, implementation string, elapsed time.Duration, err error) {
	contract := ref.Contract.Key()
	m.activations.WithLabelValues(contract, resultOf(implementation, err)).Inc()
	m.duration.WithLabelValues(contract).Observe(elapsed.Seconds())
}

// resultOf classifies an activation outcome. Rejected attempts never touched
// the slot; failed ones left it disabled.
func resultOf(implementation string, err error) string {
	switch {
	case err == nil && implementation == "":
		return ResultDisabled
	case err == nil:
		return ResultSuccess
	case errors.Is(err, component.ErrActivationFailed):
		return ResultFailed
	default:
		return ResultRejected
	}
}

// Track installs m as the container's observer and keeps the slot gauge in
// step with container changes. The returned function stops the gauge
// updates.
func (m *Metrics) Track(c *component.Container) func() {
	c.SetObserver(m)
	for _, s := range c.Slots() {
		m.setActive(s.Ref, s.Active != "")
	}
	return c.OnChange(func(ch component.Change) {
		m.setActive(ch.Slot, ch.Component != nil)
	})
}

func (m *Metrics) setActive(ref component.SlotRef, active bool) {
	v := 0.0
	if active {
		v = 1
	}
	m.slotActive.WithLabelValues(ref.Contract.Key(), ref.ID).Set(v)
}
