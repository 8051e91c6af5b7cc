package dstc

import "github.com/prometheus/client_golang/prometheus"

// Metrics is the engine's optional prometheus exposition, following
// rockstar-0000-aistore's pattern of handing collectors a
// caller-supplied *prometheus.Registry at construction rather than
// registering against the global default registry.
type Metrics struct {
	queueDepth      prometheus.Gauge
	busyTotal       prometheus.Counter
	announceTotal   prometheus.Counter
	advertiseTotal  prometheus.Counter
	peerCount       prometheus.Gauge
}

// NewMetrics registers the engine's collectors against reg and
// returns the handle SetupFull expects.
func NewMetrics(reg *prometheus.Registry) *Metrics {
	m := &Metrics{
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "dstc",
			Name:      "payload_buffer_in_use_bytes",
			Help:      "Bytes currently held in the Payload Buffer awaiting flush.",
		}),
		busyTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "dstc",
			Name:      "queue_busy_total",
			Help:      "Number of times an enqueue or flush attempt observed back-pressure.",
		}),
		announceTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "dstc",
			Name:      "announce_ticks_total",
			Help:      "Number of idle event-loop passes that ran transport timeout processing (announce ticks included).",
		}),
		advertiseTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "dstc",
			Name:      "advertisements_received_total",
			Help:      "Number of inbound control-message advertisements processed.",
		}),
		peerCount: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "dstc",
			Name:      "known_peers",
			Help:      "Number of distinct peers with at least one live function advertisement.",
		}),
	}
	reg.MustRegister(m.queueDepth, m.busyTotal, m.announceTotal, m.advertiseTotal, m.peerCount)
	return m
}

func (m *Metrics) setQueueDepth(n int) { m.queueDepth.Set(float64(n)) }
func (m *Metrics) observeBusy()        { m.busyTotal.Inc() }
func (m *Metrics) observeAnnounceTick() { m.announceTotal.Inc() }
func (m *Metrics) observeAdvertisement() { m.advertiseTotal.Inc() }
func (m *Metrics) setPeerCount(n int)  { m.peerCount.Set(float64(n)) }
