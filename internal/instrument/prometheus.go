// Package instrument exposes relay metrics to Prometheus.
package instrument

import (
	"context"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

var (
	admittedConns = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "murmur_admitted_connections_total",
			Help: "Number of client connections admitted to a slot",
		},
	)
	evictedConns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "murmur_evicted_connections_total",
			Help: "Number of client connections evicted, by reason",
		},
		[]string{"reason"},
	)
	rejectedConns = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "murmur_rejected_connections_total",
			Help: "Number of accept attempts that did not produce a slot",
		},
	)
	connectedClients = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "murmur_connected_clients",
			Help: "Number of occupied slots",
		},
	)
	messagesRelayed = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "murmur_relayed_messages_total",
			Help: "Number of messages broadcast to the other clients",
		},
	)
	deliveries = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "murmur_deliveries_total",
			Help: "Number of successful per-client deliveries",
		},
	)
	messagesDropped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "murmur_dropped_messages_total",
			Help: "Number of received messages that were not relayed, by reason",
		},
		[]string{"reason"},
	)
)

func init() {
	prometheus.MustRegister(admittedConns)
	prometheus.MustRegister(evictedConns)
	prometheus.MustRegister(rejectedConns)
	prometheus.MustRegister(connectedClients)
	prometheus.MustRegister(messagesRelayed)
	prometheus.MustRegister(deliveries)
	prometheus.MustRegister(messagesDropped)
}

// Admitted increments the counter for admitted connections
func Admitted() {
	admittedConns.Inc()
}

// Evicted increments the eviction counter for reason
func Evicted(reason string) {
	evictedConns.With(prometheus.Labels{"reason": reason}).Inc()
}

// Rejected increments the counter for failed accepts
func Rejected() {
	rejectedConns.Inc()
}

// Connected sets the occupied slot gauge
func Connected(count int) {
	connectedClients.Set(float64(count))
}

// Relayed records one broadcast reaching recipients clients
func Relayed(recipients int) {
	messagesRelayed.Inc()
	deliveries.Add(float64(recipients))
}

// Dropped increments the dropped message counter for reason
func Dropped(reason string) {
	messagesDropped.With(prometheus.Labels{"reason": reason}).Inc()
}

// Handler returns the HTTP handler serving registered metrics.
func Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	return mux
}

// Listener serves /metrics until Shutdown is called.
type Listener struct {
	server   *http.Server
	listener net.Listener
	done     chan struct{}
}

// Listen starts serving metrics on addr. A port of 0 picks a free port.
func Listen(addr string) (*Listener, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}

	l := &Listener{
		server: &http.Server{
			Handler:           Handler(),
			ReadHeaderTimeout: 5 * time.Second,
		},
		listener: ln,
		done:     make(chan struct{}),
	}

	go func() {
		defer close(l.done)
		if err := l.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			logrus.WithFields(logrus.Fields{
				"function": "instrument.Listen",
				"address":  ln.Addr().String(),
				"error":    err.Error(),
			}).Error("Metrics listener failed")
		}
	}()

	logrus.WithFields(logrus.Fields{
		"function": "instrument.Listen",
		"address":  ln.Addr().String(),
	}).Info("Serving metrics")

	return l, nil
}

// Addr returns the bound address.
func (l *Listener) Addr() net.Addr {
	return l.listener.Addr()
}

// URL returns the metrics endpoint URL.
func (l *Listener) URL() string {
	tcp, ok := l.listener.Addr().(*net.TCPAddr)
	if !ok {
		return "http://" + l.listener.Addr().String() + "/metrics"
	}
	host := tcp.IP.String()
	if tcp.IP.IsUnspecified() {
		host = "127.0.0.1"
	}
	return "http://" + net.JoinHostPort(host, strconv.Itoa(tcp.Port)) + "/metrics"
}

// Shutdown stops the listener and waits for it to exit.
func (l *Listener) Shutdown(ctx context.Context) error {
	err := l.server.Shutdown(ctx)
	<-l.done
	return err
}
