package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics 进程级指标集合
type Metrics struct {
	EventsDispatched   *prometheus.CounterVec
	EventsDropped      *prometheus.CounterVec
	PipelineErrors     *prometheus.CounterVec
	PacketsReceived    *prometheus.CounterVec
	ChannelsActive     prometheus.Gauge
	EnvelopesPublished prometheus.Counter
	EnvelopesReceived  prometheus.Counter
}

// New 注册并返回指标集合
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		EventsDispatched: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sync",
			Name:      "events_dispatched_total",
			Help:      "Events delivered to local channels, by event kind.",
		}, []string{"kind"}),
		EventsDropped: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sync",
			Name:      "events_dropped_total",
			Help:      "Events that could not be delivered to a channel, by event kind.",
		}, []string{"kind"}),
		PipelineErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sync",
			Name:      "pipeline_errors_total",
			Help:      "Pipeline operation failures, by error class.",
		}, []string{"class"}),
		PacketsReceived: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sync",
			Name:      "packets_received_total",
			Help:      "Client packets received, by packet kind.",
		}, []string{"kind"}),
		ChannelsActive: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "sync",
			Name:      "channels_active",
			Help:      "Currently registered client channels.",
		}),
		EnvelopesPublished: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "sync",
			Name:      "envelopes_published_total",
			Help:      "Event envelopes published to the broadcast subject.",
		}),
		EnvelopesReceived: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "sync",
			Name:      "envelopes_received_total",
			Help:      "Event envelopes received from other nodes.",
		}),
	}
}

// Default 在全局注册表上注册指标
func Default() *Metrics {
	return New(prometheus.DefaultRegisterer)
}

// Handler 指标抓取端点
func Handler() http.Handler {
	return promhttp.Handler()
}
