package flowgate

import "github.com/prometheus/client_golang/prometheus"

// gateMetrics counts admission and rotation activity. The counters are
// not self-registering; callers that want them exported register
// Collectors with their own registry.
type gateMetrics struct {
	admitted        prometheus.Counter
	exempted        prometheus.Counter
	rotations       prometheus.Counter
	promotions      prometheus.Counter
	demotions       prometheus.Counter
	ghostsDiscarded prometheus.Counter
}

func newGateMetrics() *gateMetrics {
	counter := func(name, help string) prometheus.Counter {
		return prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "flowgate",
			Name:      name,
			Help:      help,
		})
	}
	return &gateMetrics{
		admitted:        counter("flows_admitted_total", "Flows registered for scheduling at accept time."),
		exempted:        counter("flows_exempted_total", "Flows passed through unscheduled (first-of-process control channel)."),
		rotations:       counter("rotation_passes_total", "Rotation passes executed."),
		promotions:      counter("promotions_total", "Flows moved from paused to active."),
		demotions:       counter("demotions_total", "Flows moved from active to paused."),
		ghostsDiscarded: counter("ghosts_discarded_total", "Queue entries dropped because their flow closed before rotation."),
	}
}

// Collectors returns the gate's metric collectors for registration.
func (g *Gate) Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		g.m.admitted,
		g.m.exempted,
		g.m.rotations,
		g.m.promotions,
		g.m.demotions,
		g.m.ghostsDiscarded,
	}
}
