package exchange

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics counts correlator events. A nil *Metrics records nothing.
type Metrics struct {
	started          prometheus.Counter
	suspended        prometheus.Counter
	completed        prometheus.Counter
	logged           prometheus.Counter
	abandoned        prometheus.Counter
	violations       *prometheus.CounterVec
	strategyFailures *prometheus.CounterVec
	sinkFailures     prometheus.Counter
	inFlight         prometheus.Gauge
}

// NewMetrics creates the correlator metrics and registers them with reg.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		started: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "trafficlog",
			Name:      "exchanges_started_total",
			Help:      "Exchanges seen on their first dispatch.",
		}),
		suspended: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "trafficlog",
			Name:      "exchange_suspensions_total",
			Help:      "Dispatches that ended with the handler deferring completion.",
		}),
		completed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "trafficlog",
			Name:      "exchanges_completed_total",
			Help:      "Exchanges that reached completion.",
		}),
		logged: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "trafficlog",
			Name:      "exchanges_logged_total",
			Help:      "Records written by the sink.",
		}),
		abandoned: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "trafficlog",
			Name:      "exchanges_abandoned_total",
			Help:      "Exchanges dropped without completion.",
		}),
		violations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "trafficlog",
			Name:      "dispatch_violations_total",
			Help:      "Dispatches that did not fit the exchange lifecycle.",
		}, []string{"reason"}),
		strategyFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "trafficlog",
			Name:      "strategy_failures_total",
			Help:      "Strategy failures by direction.",
		}, []string{"direction"}),
		sinkFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "trafficlog",
			Name:      "sink_failures_total",
			Help:      "Sink writes that failed.",
		}),
		inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "trafficlog",
			Name:      "exchanges_in_flight",
			Help:      "Exchanges started and not yet completed or abandoned.",
		}),
	}
	for _, c := range []prometheus.Collector{
		m.started, m.suspended, m.completed, m.logged, m.abandoned,
		m.violations, m.strategyFailures, m.sinkFailures, m.inFlight,
	} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Metrics) start() {
	if m == nil {
		return
	}
	m.started.Inc()
	m.inFlight.Inc()
}

func (m *Metrics) suspend() {
	if m != nil {
		m.suspended.Inc()
	}
}

func (m *Metrics) complete() {
	if m == nil {
		return
	}
	m.completed.Inc()
	m.inFlight.Dec()
}

func (m *Metrics) log() {
	if m != nil {
		m.logged.Inc()
	}
}

func (m *Metrics) abandon() {
	if m == nil {
		return
	}
	m.abandoned.Inc()
	m.inFlight.Dec()
}

func (m *Metrics) violation(reason string) {
	if m != nil {
		m.violations.WithLabelValues(reason).Inc()
	}
}

func (m *Metrics) strategyFailure(direction string) {
	if m != nil {
		m.strategyFailures.WithLabelValues(direction).Inc()
	}
}

func (m *Metrics) sinkFailure() {
	if m != nil {
		m.sinkFailures.Inc()
	}
}
