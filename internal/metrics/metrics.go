package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "flashsale"

// 结果标签取值
const (
	ResultSuccess = "success"
	ResultFailure = "failure"
	ResultSkipped = "skipped"
)

// Metrics 业务指标集合
// 方法允许 nil 接收者，未启用指标时直接传 nil。
type Metrics struct {
	registry *prometheus.Registry

	couponIssueTotal      *prometheus.CounterVec
	sagaStageTotal        *prometheus.CounterVec
	sagaStageDuration     *prometheus.HistogramVec
	compensationTotal     *prometheus.CounterVec
	compensationFailTotal *prometheus.CounterVec
	taskProcessedTotal    *prometheus.CounterVec
	httpRequestTotal      *prometheus.CounterVec
	httpRequestDuration   *prometheus.HistogramVec
}

// New 创建并注册指标
func New() *Metrics {
	registry := prometheus.NewRegistry()
	m := &Metrics{
		registry: registry,
		couponIssueTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "coupon",
			Name:      "issue_total",
			Help:      "Coupon issue attempts by result",
		}, []string{"result"}),
		sagaStageTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "saga",
			Name:      "stage_total",
			Help:      "Order saga stage executions by stage and result",
		}, []string{"stage", "result"}),
		sagaStageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "saga",
			Name:      "stage_duration_seconds",
			Help:      "Order saga stage duration in seconds",
			Buckets:   []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 10},
		}, []string{"stage"}),
		compensationTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "compensation",
			Name:      "executed_total",
			Help:      "Compensation executions by trigger and result",
		}, []string{"trigger", "result"}),
		compensationFailTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "compensation",
			Name:      "failure_total",
			Help:      "Compensation failures waiting for manual reprocessing",
		}, []string{"resource"}),
		taskProcessedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "worker",
			Name:      "task_processed_total",
			Help:      "Async tasks processed by type and result",
		}, []string{"task_type", "result"}),
		httpRequestTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests by route, method and status",
		}, []string{"route", "method", "status"}),
		httpRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route", "method"}),
	}
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.couponIssueTotal,
		m.sagaStageTotal,
		m.sagaStageDuration,
		m.compensationTotal,
		m.compensationFailTotal,
		m.taskProcessedTotal,
		m.httpRequestTotal,
		m.httpRequestDuration,
	)
	return m
}

// Registry 返回底层注册表
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler 返回 /metrics 处理器
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// CouponIssue 记录领券结果
func (m *Metrics) CouponIssue(result string) {
	if m == nil {
		return
	}
	m.couponIssueTotal.WithLabelValues(result).Inc()
}

// SagaStage 记录 saga 阶段执行结果与耗时
func (m *Metrics) SagaStage(stage, result string, startedAt time.Time) {
	if m == nil {
		return
	}
	m.sagaStageTotal.WithLabelValues(stage, result).Inc()
	m.sagaStageDuration.WithLabelValues(stage).Observe(time.Since(startedAt).Seconds())
}

// Compensation 记录补偿执行结果
func (m *Metrics) Compensation(trigger, result string) {
	if m == nil {
		return
	}
	m.compensationTotal.WithLabelValues(trigger, result).Inc()
}

// CompensationFailure 记录补偿失败
func (m *Metrics) CompensationFailure(resource string) {
	if m == nil {
		return
	}
	m.compensationFailTotal.WithLabelValues(resource).Inc()
}

// TaskProcessed 记录异步任务处理结果
func (m *Metrics) TaskProcessed(taskType, result string) {
	if m == nil {
		return
	}
	m.taskProcessedTotal.WithLabelValues(taskType, result).Inc()
}

// HTTPRequest 记录接口请求，route 使用路由模板避免高基数
func (m *Metrics) HTTPRequest(route, method string, status int, latency time.Duration) {
	if m == nil {
		return
	}
	m.httpRequestTotal.WithLabelValues(route, method, strconv.Itoa(status)).Inc()
	m.httpRequestDuration.WithLabelValues(route, method).Observe(latency.Seconds())
}
