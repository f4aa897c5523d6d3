package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics captures broker-side counters.
type Metrics interface {
	IncRequest(action string)
	IncRequestFailed(action, kind string)
	IncPromptShown()
	IncPromptResolved(choice string)
}

// Noop implements Metrics without emitting anything.
type Noop struct{}

func (Noop) IncRequest(string)               {}
func (Noop) IncRequestFailed(string, string) {}
func (Noop) IncPromptShown()                 {}
func (Noop) IncPromptResolved(string)        {}

// Prom implements Metrics backed by Prometheus counters. Each instance
// owns its registry, so constructing more than one never collides.
type Prom struct {
	registry       *prometheus.Registry
	requests       *prometheus.CounterVec
	requestsFailed *prometheus.CounterVec
	promptsShown   prometheus.Counter
	promptsResolve *prometheus.CounterVec
}

func NewProm(namespace string) *Prom {
	p := &Prom{
		registry: prometheus.NewRegistry(),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "Broker requests by action",
		}, []string{"action"}),
		requestsFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_failed_total",
			Help:      "Failed broker requests by action and error kind",
		}, []string{"action", "kind"}),
		promptsShown: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "permission_prompts_total",
			Help:      "Permission prompts raised",
		}),
		promptsResolve: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "permission_prompts_resolved_total",
			Help:      "Permission prompts resolved by choice",
		}, []string{"choice"}),
	}
	p.registry.MustRegister(p.requests, p.requestsFailed, p.promptsShown, p.promptsResolve)
	return p
}

func (p *Prom) IncRequest(action string) {
	p.requests.WithLabelValues(action).Inc()
}

func (p *Prom) IncRequestFailed(action, kind string) {
	p.requestsFailed.WithLabelValues(action, kind).Inc()
}

func (p *Prom) IncPromptShown() {
	p.promptsShown.Inc()
}

func (p *Prom) IncPromptResolved(choice string) {
	if choice == "" {
		choice = "dismissed"
	}
	p.promptsResolve.WithLabelValues(choice).Inc()
}

// Handler serves this instance's registry at /metrics.
func (p *Prom) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}
