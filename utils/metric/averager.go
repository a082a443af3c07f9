// Package utilmetric provides small helpers layered on top of
// github.com/luxfi/metric for the running-average style gauges used
// across the node (delay-function timings, lottery latencies, ...).
package utilmetric

import (
	"errors"

	metric "github.com/luxfi/metric"

	"github.com/tempusnet/tempus/utils/wrappers"
)

var ErrFailedRegistering = errors.New("failed registering metric")

// Averager tracks a running count and sum so the node can report a mean
// without retaining every sample.
type Averager interface {
	Observe(float64)
}

type averager struct {
	count metric.Counter
	sum   metric.Gauge
}

func NewAverager(name, desc string, registry metric.Registry) (Averager, error) {
	errs := wrappers.Errs{}
	a := NewAveragerWithErrs(name, desc, registry, &errs)
	return a, errs.Err
}

func NewAveragerWithErrs(name, desc string, registry metric.Registry, errs *wrappers.Errs) Averager {
	metricsInstance := metric.NewWithRegistry("", registry)

	a := averager{
		count: metricsInstance.NewCounter(
			AppendNamespace(name, "count"),
			"Total # of observations of "+desc,
		),
		sum: metricsInstance.NewGauge(
			AppendNamespace(name, "sum"),
			"Sum of "+desc,
		),
	}

	return &a
}

func (a *averager) Observe(v float64) {
	a.count.Inc()
	a.sum.Add(v)
}

// AppendNamespace joins a metric namespace and name with an underscore,
// skipping the separator when namespace is empty.
func AppendNamespace(namespace, name string) string {
	if namespace == "" {
		return name
	}
	return namespace + "_" + name
}
