// Package metrics 提供 nimo-ecn 服务的 Prometheus 监控指标
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "nimo_ecn"

// HTTP 指标
var (
	// HTTPRequestsTotal HTTP 请求总数
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP 请求总数",
		},
		[]string{"method", "path", "status"},
	)

	// HTTPRequestDuration HTTP 请求耗时
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP 请求耗时(秒)",
			Buckets:   []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		},
		[]string{"method", "path"},
	)
)

// ECN 流程指标
var (
	// TransitionsTotal 状态迁移次数
	TransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transitions_total",
			Help:      "ECN 状态迁移次数",
		},
		[]string{"action", "result"}, // result: success, rejected, conflict, error
	)

	// ApprovalsCreatedTotal 审批记录创建数
	ApprovalsCreatedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "approvals_created_total",
			Help:      "审批矩阵生成的审批记录数",
		},
		[]string{"source"}, // source: matrix, default, manual
	)

	// BOMAnalysisDuration BOM 影响分析耗时
	BOMAnalysisDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "bom_analysis_duration_seconds",
			Help:      "BOM 影响分析耗时(秒)",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10},
		},
	)
)

// 逾期扫描指标
var (
	// SweepFindingsTotal 逾期发现数
	SweepFindingsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sweep_findings_total",
			Help:      "逾期扫描发现的逾期项",
		},
		[]string{"kind"}, // kind: evaluation, approval, task
	)

	// SweepDuration 逾期扫描耗时
	SweepDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "sweep_duration_seconds",
			Help:      "逾期扫描耗时(秒)",
			Buckets:   []float64{0.1, 0.5, 1, 5, 10, 30, 60},
		},
	)

	// JobExecutionsTotal 定时任务执行数
	JobExecutionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "job_executions_total",
			Help:      "定时任务执行总数",
		},
		[]string{"job_name", "status"}, // status: success, failed, skipped, timeout
	)

	// JobDuration 定时任务耗时
	JobDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "job_duration_seconds",
			Help:      "定时任务耗时(秒)",
			Buckets:   []float64{0.1, 0.5, 1, 5, 10, 30, 60, 120, 300},
		},
		[]string{"job_name"},
	)
)

// 通知指标
var (
	// NotificationsTotal 通知发送数
	NotificationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_total",
			Help:      "通知发送总数",
		},
		[]string{"channel", "status"}, // status: success, failed
	)

	// EventsPublishedTotal 领域事件发布数
	EventsPublishedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_published_total",
			Help:      "领域事件发布总数",
		},
		[]string{"type", "status"},
	)
)

// RecordHTTPRequest 记录 HTTP 请求指标
func RecordHTTPRequest(method, path, status string, durationSeconds float64) {
	HTTPRequestsTotal.WithLabelValues(method, path, status).Inc()
	HTTPRequestDuration.WithLabelValues(method, path).Observe(durationSeconds)
}

// RecordTransition 记录状态迁移
func RecordTransition(action, result string) {
	TransitionsTotal.WithLabelValues(action, result).Inc()
}

// RecordSweep 记录一次逾期扫描
func RecordSweep(findings map[string]int, durationSeconds float64) {
	for kind, n := range findings {
		SweepFindingsTotal.WithLabelValues(kind).Add(float64(n))
	}
	SweepDuration.Observe(durationSeconds)
}

// RecordJobExecution 记录任务执行
func RecordJobExecution(jobName, status string, durationSeconds float64) {
	JobExecutionsTotal.WithLabelValues(jobName, status).Inc()
	JobDuration.WithLabelValues(jobName).Observe(durationSeconds)
}

// RecordNotification 记录通知发送
func RecordNotification(channel string, err error) {
	status := "success"
	if err != nil {
		status = "failed"
	}
	NotificationsTotal.WithLabelValues(channel, status).Inc()
}
