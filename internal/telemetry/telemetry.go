// Package telemetry exposes registry and queue state as Prometheus
// metrics, grounded on the teacher's promhttp wiring in internal/app/http.go
// but, unlike the teacher (which only ever serves the global default
// registry), registers its own metric set so the debug surface doesn't leak
// process-wide collectors it doesn't own.
package telemetry

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/lagopus-go/dpqueue/registry"
)

// Telemetry owns a private Prometheus registry plus the gauges/counters
// the sweep and the drain loops update.
type Telemetry struct {
	Registry *prometheus.Registry

	BridgesRegistered prometheus.Gauge
	QueueDepth        *prometheus.GaugeVec
	QueueRemaining    *prometheus.GaugeVec
	ElementsDrained   prometheus.Counter
	RegistrationFails prometheus.Counter
	SweepAnomalies    prometheus.Counter
}

// New constructs a Telemetry with all collectors registered.
func New() *Telemetry {
	t := &Telemetry{Registry: prometheus.NewRegistry()}

	t.BridgesRegistered = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "dpqueue",
		Name:      "bridges_registered",
		Help:      "Number of bridges registered as of the last maintenance sweep.",
	})
	t.QueueDepth = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "dpqueue",
		Name:      "queue_depth",
		Help:      "Current element count per bridge queue.",
	}, []string{"dpid", "role"})
	t.QueueRemaining = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "dpqueue",
		Name:      "queue_remaining_capacity",
		Help:      "Remaining capacity per bridge queue.",
	}, []string{"dpid", "role"})
	t.ElementsDrained = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "dpqueue",
		Name:      "elements_drained_total",
		Help:      "Number of event/packet records drained across all bridges by the agent and dataplane loops.",
	})
	t.RegistrationFails = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "dpqueue",
		Name:      "registration_failures_total",
		Help:      "Number of Register calls that returned an error.",
	})
	t.SweepAnomalies = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "dpqueue",
		Name:      "sweep_anomalies_total",
		Help:      "Number of saturation anomalies (a full queue) the maintenance sweep has logged.",
	})

	t.Registry.MustRegister(
		t.BridgesRegistered,
		t.QueueDepth,
		t.QueueRemaining,
		t.ElementsDrained,
		t.RegistrationFails,
		t.SweepAnomalies,
	)
	return t
}

// SampleEntry updates the depth/remaining gauges for one bridge's three
// queues from a registry.Stats snapshot.
func (t *Telemetry) SampleEntry(st registry.Stats) {
	dpid := dpidLabel(st.DPID)
	t.QueueDepth.WithLabelValues(dpid, "up").Set(float64(st.UpSize))
	t.QueueDepth.WithLabelValues(dpid, "data").Set(float64(st.DataSize))
	t.QueueDepth.WithLabelValues(dpid, "down").Set(float64(st.DownSize))
	t.QueueRemaining.WithLabelValues(dpid, "up").Set(float64(st.UpRemaining))
	t.QueueRemaining.WithLabelValues(dpid, "data").Set(float64(st.DataRemaining))
	t.QueueRemaining.WithLabelValues(dpid, "down").Set(float64(st.DownRemaining))
}

// DropEntry removes a bridge's series after it's been unregistered, so
// stale dpid labels don't accumulate forever.
func (t *Telemetry) DropEntry(dpid uint64) {
	label := dpidLabel(dpid)
	for _, role := range []string{"up", "data", "down"} {
		t.QueueDepth.DeleteLabelValues(label, role)
		t.QueueRemaining.DeleteLabelValues(label, role)
	}
}

func dpidLabel(dpid uint64) string {
	return "0x" + strconv.FormatUint(dpid, 16)
}
