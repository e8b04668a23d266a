// Package metrics collects and exposes Prometheus metrics.
package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector implements presence.Metrics and records HTTP response codes.
type Collector struct {
	online     prometheus.Gauge
	sent       prometheus.Counter
	delivered  prometheus.Counter
	sendFailed prometheus.Counter
	dropped    prometheus.Counter
	httpStatus *prometheus.CounterVec
}

// NewCollector creates a Collector and registers it on reg.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		online: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "duochat_online_users",
			Help: "Users with a live connection",
		}),
		sent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "duochat_messages_sent_total",
			Help: "Messages accepted over the socket",
		}),
		delivered: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "duochat_messages_delivered_total",
			Help: "Messages pushed live to a bound recipient",
		}),
		sendFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "duochat_send_failures_total",
			Help: "Sends rejected by validation or storage",
		}),
		dropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "duochat_push_dropped_total",
			Help: "Events that could not be queued for a connection",
		}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "duochat_http_responses_total",
			Help: "HTTP responses by status code",
		}, []string{"status_code"}),
	}

	reg.MustRegister(
		c.online,
		c.sent,
		c.delivered,
		c.sendFailed,
		c.dropped,
		c.httpStatus,
	)
	return c
}

func (c *Collector) SetOnline(n int)   { c.online.Set(float64(n)) }
func (c *Collector) MessageSent()      { c.sent.Inc() }
func (c *Collector) MessageDelivered() { c.delivered.Inc() }
func (c *Collector) SendFailed()       { c.sendFailed.Inc() }
func (c *Collector) PushDropped()      { c.dropped.Inc() }

// RecordHTTPStatus counts one response with the given status code.
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// Handler serves the exposition format for gatherer.
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
