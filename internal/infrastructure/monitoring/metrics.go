package monitoring

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics is the relay's Prometheus surface.
type Metrics struct {
	roomsActive      prometheus.Gauge
	clientsConnected prometheus.Gauge
	connectionsTotal prometheus.Counter
	messagesRelayed  prometheus.Counter
	messageSizeBytes prometheus.Histogram
	messagesDropped  *prometheus.CounterVec
}

// NewMetrics registers the relay metrics on the given registerer. Pass
// prometheus.DefaultRegisterer in production; tests use a fresh registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		roomsActive: factory.NewGauge(prometheus.GaugeOpts{
			Name: "campuscall_relay_rooms_active",
			Help: "Number of call rooms with at least one connected client",
		}),

		clientsConnected: factory.NewGauge(prometheus.GaugeOpts{
			Name: "campuscall_relay_clients_connected",
			Help: "Number of currently connected chat clients",
		}),

		connectionsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "campuscall_relay_connections_total",
			Help: "Total number of chat client connections accepted",
		}),

		messagesRelayed: factory.NewCounter(prometheus.CounterOpts{
			Name: "campuscall_relay_messages_total",
			Help: "Total number of chat messages fanned out",
		}),

		messageSizeBytes: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "campuscall_relay_message_size_bytes",
			Help:    "Size of relayed chat messages",
			Buckets: prometheus.ExponentialBuckets(64, 4, 6),
		}),

		messagesDropped: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "campuscall_relay_messages_dropped_total",
			Help: "Messages dropped before fan-out",
		}, []string{"reason"}),
	}
}

func (m *Metrics) RoomOpened()      { m.roomsActive.Inc() }
func (m *Metrics) RoomClosed()      { m.roomsActive.Dec() }
func (m *Metrics) ClientConnected() { m.clientsConnected.Inc(); m.connectionsTotal.Inc() }
func (m *Metrics) ClientGone()      { m.clientsConnected.Dec() }

func (m *Metrics) MessageRelayed(sizeBytes int) {
	m.messagesRelayed.Inc()
	m.messageSizeBytes.Observe(float64(sizeBytes))
}

func (m *Metrics) MessageDropped(reason string) { m.messagesDropped.WithLabelValues(reason).Inc() }
