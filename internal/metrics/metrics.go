package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewRegistry 创建自定义 Prometheus Registry，并注册常用采集器
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// Handler 返回 Prometheus 指标 HTTP 处理器
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})
}

// AppMetrics 自定义业务指标
type AppMetrics struct {
	PushTotal      *prometheus.CounterVec // labels: protocol_type, result=ok|error
	ProcessTotal   *prometheus.CounterVec // labels: protocol_type, status=success|error
	ProcessErrors  *prometheus.CounterVec // labels: protocol_type, error_type
	QueueOpTotal   *prometheus.CounterVec // labels: queue_name, operation=send|error
	CardCacheTotal *prometheus.CounterVec // labels: tier=local|redis|fallback, result=hit|miss
	RateLimited    prometheus.Counter     // 被限流拒绝的推送数
}

// NewAppMetrics 注册并返回业务指标
func NewAppMetrics(reg *prometheus.Registry) *AppMetrics {
	m := &AppMetrics{
		PushTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "push_requests_total",
			Help: "Inbound device push requests by protocol and result.",
		}, []string{"protocol_type", "result"}),
		ProcessTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "protocol_message_process_total",
			Help: "Protocol message processing attempts.",
		}, []string{"protocol_type", "status"}),
		ProcessErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "protocol_message_error_total",
			Help: "Protocol message processing errors by type.",
		}, []string{"protocol_type", "error_type"}),
		QueueOpTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "protocol_queue_operation_total",
			Help: "Queue operations by topic.",
		}, []string{"queue_name", "operation"}),
		CardCacheTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "card_lookup_total",
			Help: "Card to user lookups by cache tier.",
		}, []string{"tier", "result"}),
		RateLimited: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "push_rate_limited_total",
			Help: "Push requests rejected by the rate limiter.",
		}),
	}
	reg.MustRegister(m.PushTotal, m.ProcessTotal, m.ProcessErrors, m.QueueOpTotal, m.CardCacheTotal, m.RateLimited)
	return m
}
