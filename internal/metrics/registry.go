package metrics

import (
	"errors"
	"net/http"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// jobCollectors lists the client's own metrics.
func jobCollectors() []prometheus.Collector {
	return []prometheus.Collector{
		submissionsTotal,
		pollsTotal,
		jobOutcomesTotal,
		pollLatency,
		activePolls,
		uploadsTotal,
	}
}

// Register adds the job collectors to reg. Collectors reg already holds are
// skipped, so registering twice is harmless.
func Register(reg prometheus.Registerer) error {
	for _, c := range jobCollectors() {
		if err := reg.Register(c); err != nil {
			var dup prometheus.AlreadyRegisteredError
			if errors.As(err, &dup) {
				continue
			}
			return err
		}
	}
	return nil
}

// NewRegistry returns a registry with the job collectors plus Go runtime and
// process metrics.
func NewRegistry() (*prometheus.Registry, error) {
	reg := prometheus.NewRegistry()
	if err := reg.Register(collectors.NewGoCollector()); err != nil {
		return nil, err
	}
	if err := reg.Register(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{})); err != nil {
		return nil, err
	}
	if err := Register(reg); err != nil {
		return nil, err
	}
	return reg, nil
}

// Handler serves the registry in the Prometheus exposition format.
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})
}

func norm(s string) string { return strings.ToLower(strings.TrimSpace(s)) }
