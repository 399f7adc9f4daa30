// Package metrics renders a shared record snapshot in the Prometheus text
// exposition format, suitable for a node_exporter textfile collector.
package metrics

import (
	"fmt"
	"io"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"

	"github.com/majorcontext/ringwrap/internal/shm"
)

const namespace = "ringwrap"

// NewRegistry returns a registry whose collectors read from rec.
func NewRegistry(rec shm.Record) *prometheus.Registry {
	reg := prometheus.NewRegistry()
	labels := prometheus.Labels{"record": rec.Name}

	counter := func(name, help string, v uint64) {
		reg.MustRegister(prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        name,
			Help:        help,
			ConstLabels: labels,
		}, func() float64 { return float64(v) }))
	}
	gauge := func(name, help string, v float64) {
		reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace:   namespace,
			Name:        name,
			Help:        help,
			ConstLabels: labels,
		}, func() float64 { return v }))
	}

	tracing := 0.0
	if rec.Tracing {
		tracing = 1
	}
	gauge("tracing", "Whether wrapping is switched on (1) or off (0).", tracing)
	gauge("ring_capacity", "Output directories the ring retains before evicting.", float64(rec.Capacity()))
	gauge("retained_dirs", "Output directories currently referenced by the ring.", float64(len(rec.Ring)))
	counter("wrapped_executions_total", "Successful executions run under the wrapper.", rec.WrappedExecutions)
	counter("unwrapped_executions_total", "Successful executions run bare.", rec.UnwrappedExecutions)
	counter("begins_total", "Times tracing was switched on.", rec.Begins)
	counter("ends_total", "Times tracing was switched off.", rec.Ends)

	return reg
}

// Write gathers rec's metrics and writes them to w in text format.
func Write(w io.Writer, rec shm.Record) error {
	families, err := NewRegistry(rec).Gather()
	if err != nil {
		return fmt.Errorf("gathering metrics: %w", err)
	}
	for _, mf := range families {
		if _, err := expfmt.MetricFamilyToText(w, mf); err != nil {
			return fmt.Errorf("writing metric %s: %w", mf.GetName(), err)
		}
	}
	return nil
}
