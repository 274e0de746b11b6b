// monitor/monitor.go
package monitor

import (
	"expvar"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	OnlinePlayers    prometheus.Gauge
	ActiveRooms      prometheus.Gauge
	FrozenRooms      prometheus.Gauge
	MessagesReceived prometheus.Counter
	ActionsAccepted  *prometheus.CounterVec
	ActionsRejected  *prometheus.CounterVec
	BroadcastDrops   prometheus.Counter
	PersistDrops     prometheus.Counter
	ApplyLatency     prometheus.Histogram
}

func NewMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		OnlinePlayers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "online_players",
			Help:      "Number of open player connections",
		}),
		ActiveRooms: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_rooms",
			Help:      "Number of open rooms",
		}),
		FrozenRooms: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "frozen_rooms",
			Help:      "Rooms frozen after an internal inconsistency",
		}),
		MessagesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_received_total",
			Help:      "Total number of packets received",
		}),
		ActionsAccepted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "actions_accepted_total",
			Help:      "Committed actions by kind",
		}, []string{"kind"}),
		ActionsRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "actions_rejected_total",
			Help:      "Rejected actions by reason",
		}, []string{"reason"}),
		BroadcastDrops: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "broadcast_drops_total",
			Help:      "Subscribers disconnected for a full send queue",
		}),
		PersistDrops: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "persist_drops_total",
			Help:      "Persistence writes discarded for a full queue",
		}),
		ApplyLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "apply_latency_seconds",
			Help:      "Time from action submit to commit",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 2, 14),
		}),
	}

	reg.MustRegister(
		m.OnlinePlayers,
		m.ActiveRooms,
		m.FrozenRooms,
		m.MessagesReceived,
		m.ActionsAccepted,
		m.ActionsRejected,
		m.BroadcastDrops,
		m.PersistDrops,
		m.ApplyLatency,
	)

	return m
}

// Monitor owns a private registry so several can coexist in one process
// (tests). All methods are safe on a nil *Monitor.
type Monitor struct {
	metrics      *Metrics
	registry     *prometheus.Registry
	startTime    time.Time
	requestCount int64
	mutex        sync.Mutex
}

func NewMonitor(namespace string) *Monitor {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return &Monitor{
		metrics:   NewMetrics(namespace, reg),
		registry:  reg,
		startTime: time.Now(),
	}
}

func (m *Monitor) Registry() *prometheus.Registry {
	return m.registry
}

var publishOnce sync.Once

// Handler serves /metrics and /debug/vars.
func (m *Monitor) Handler() http.Handler {
	// 添加expvar指标
	publishOnce.Do(func() {
		expvar.Publish("uptime", expvar.Func(func() interface{} {
			return time.Since(m.startTime).Seconds()
		}))

		expvar.Publish("requests", expvar.Func(func() interface{} {
			m.mutex.Lock()
			defer m.mutex.Unlock()
			return m.requestCount
		}))
	})

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))
	mux.Handle("/debug/vars", expvar.Handler())
	return mux
}

// StartServer serves the metrics handler on addr in the background. The
// returned server is shut down by the caller.
func (m *Monitor) StartServer(addr string) *http.Server {
	srv := &http.Server{Addr: addr, Handler: m.Handler(), ReadHeaderTimeout: 5 * time.Second}
	go srv.ListenAndServe()
	return srv
}

func (m *Monitor) IncOnlinePlayers() {
	if m == nil {
		return
	}
	m.metrics.OnlinePlayers.Inc()
}

func (m *Monitor) DecOnlinePlayers() {
	if m == nil {
		return
	}
	m.metrics.OnlinePlayers.Dec()
}

func (m *Monitor) SetActiveRooms(count int) {
	if m == nil {
		return
	}
	m.metrics.ActiveRooms.Set(float64(count))
}

func (m *Monitor) SetFrozenRooms(count int) {
	if m == nil {
		return
	}
	m.metrics.FrozenRooms.Set(float64(count))
}

func (m *Monitor) IncMessagesReceived() {
	if m == nil {
		return
	}
	m.metrics.MessagesReceived.Inc()
	m.mutex.Lock()
	m.requestCount++
	m.mutex.Unlock()
}

func (m *Monitor) ActionAccepted(kind string) {
	if m == nil {
		return
	}
	m.metrics.ActionsAccepted.WithLabelValues(kind).Inc()
}

func (m *Monitor) ActionRejected(reason string) {
	if m == nil {
		return
	}
	m.metrics.ActionsRejected.WithLabelValues(reason).Inc()
}

func (m *Monitor) IncBroadcastDrops() {
	if m == nil {
		return
	}
	m.metrics.BroadcastDrops.Inc()
}

func (m *Monitor) IncPersistDrops() {
	if m == nil {
		return
	}
	m.metrics.PersistDrops.Inc()
}

func (m *Monitor) ObserveApplyLatency(duration time.Duration) {
	if m == nil {
		return
	}
	m.metrics.ApplyLatency.Observe(duration.Seconds())
}
