// Package metrics exposes Prometheus metrics for the component container.
//
// Collectors:
//   - experiment_activations_total{contract,result}
//   - experiment_activation_duration_seconds{contract}
//   - experiment_slot_active{contract,slot}
//
// Usage:
//
//	m := metrics.New()
//	stop := m.Track(container)
//	defer stop()
//	router.Handle("/metrics", m.Handler())
package metrics
