package monitoring

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "deadswitch"

// Metrics 监控指标，每个实例使用独立的注册表
type Metrics struct {
	registry *prometheus.Registry

	// HTTP 请求指标
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// 调度指标
	TicksTotal      prometheus.Counter
	TicksSkipped    prometheus.Counter
	TickDuration    prometheus.Histogram
	MessagesDue     prometheus.Gauge
	CommandsQueued  *prometheus.CounterVec
	CommandsDropped prometheus.Counter

	// 投递指标
	PingsTotal            *prometheus.CounterVec
	ReleasesTotal         prometheus.Counter
	RecipientNoticesTotal *prometheus.CounterVec

	// 错误指标
	ErrorsTotal *prometheus.CounterVec
	PanicsTotal prometheus.Counter
}

// NewMetrics 创建监控指标
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,

		HTTPRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "endpoint", "status_code"},
		),

		HTTPRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "endpoint"},
		),

		TicksTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "ticks_total",
				Help:      "Total number of completed scheduler ticks",
			},
		),

		TicksSkipped: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "ticks_skipped_total",
				Help:      "Ticks skipped because another tick held the lock",
			},
		),

		TickDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "tick_duration_seconds",
				Help:      "Time spent planning and enqueueing one tick",
				Buckets:   prometheus.ExponentialBuckets(0.001, 4, 8),
			},
		),

		MessagesDue: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "messages_due",
				Help:      "Messages past their verification deadline at the last tick",
			},
		),

		CommandsQueued: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "commands_queued_total",
				Help:      "Scheduler commands handed to workers",
			},
			[]string{"kind"},
		),

		CommandsDropped: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "commands_dropped_total",
				Help:      "Scheduler commands dropped because the queue was full",
			},
		),

		PingsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "pings_total",
				Help:      "Owner ping deliveries by outcome",
			},
			[]string{"outcome"},
		),

		ReleasesTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "releases_total",
				Help:      "Messages released to their recipient",
			},
		),

		RecipientNoticesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "recipient_notices_total",
				Help:      "Recipient release notifications by outcome",
			},
			[]string{"outcome"},
		),

		ErrorsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_total",
				Help:      "Total number of errors",
			},
			[]string{"type", "component"},
		),

		PanicsTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "panics_total",
				Help:      "Total number of recovered panics",
			},
		),
	}
}

func outcome(delivered bool) string {
	if delivered {
		return "delivered"
	}
	return "failed"
}

// RecordHTTPRequest 记录 HTTP 请求
func (m *Metrics) RecordHTTPRequest(method, endpoint, statusCode string, duration time.Duration) {
	m.HTTPRequestsTotal.WithLabelValues(method, endpoint, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}

// RecordTick 记录一次 tick
func (m *Metrics) RecordTick(duration time.Duration, due, checks, retries, reminders, dropped int) {
	m.TicksTotal.Inc()
	m.TickDuration.Observe(duration.Seconds())
	m.MessagesDue.Set(float64(due))
	m.CommandsQueued.WithLabelValues("check").Add(float64(checks))
	m.CommandsQueued.WithLabelValues("retry_ping").Add(float64(retries))
	m.CommandsQueued.WithLabelValues("notify_recipient").Add(float64(reminders))
	m.CommandsDropped.Add(float64(dropped))
}

// RecordTickSkipped 记录被锁跳过的 tick
func (m *Metrics) RecordTickSkipped() {
	m.TicksSkipped.Inc()
}

// RecordPing 记录 ping 投递结果
func (m *Metrics) RecordPing(delivered bool) {
	m.PingsTotal.WithLabelValues(outcome(delivered)).Inc()
}

// RecordRelease 记录消息释放
func (m *Metrics) RecordRelease() {
	m.ReleasesTotal.Inc()
}

// RecordRecipientNotice 记录接收人通知结果
func (m *Metrics) RecordRecipientNotice(delivered bool) {
	m.RecipientNoticesTotal.WithLabelValues(outcome(delivered)).Inc()
}

// RecordError 记录错误
func (m *Metrics) RecordError(errorType, component string) {
	m.ErrorsTotal.WithLabelValues(errorType, component).Inc()
}

// RecordPanic 记录 panic
func (m *Metrics) RecordPanic() {
	m.PanicsTotal.Inc()
}

// RegisterQueueDepth 注册 worker 队列长度指标
func (m *Metrics) RegisterQueueDepth(pending func() int) {
	promauto.With(m.registry).NewGaugeFunc(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "worker_queue_depth",
			Help:      "Commands waiting for a worker",
		},
		func() float64 { return float64(pending()) },
	)
}

// Registry 返回指标注册表
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// HTTPHandler 返回 Prometheus HTTP 处理器
func (m *Metrics) HTTPHandler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
