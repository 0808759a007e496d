// internal/metrics/metrics.go
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "order_service"

var (
	// SagaRuns 按终态和错误分类统计 Saga 执行次数
	SagaRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "saga",
		Name:      "runs_total",
		Help:      "Order creation saga runs by terminal state and error kind.",
	}, []string{"state", "kind"})

	SagaDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "saga",
		Name:      "duration_seconds",
		Help:      "Order creation saga duration by terminal state.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"state"})

	StepDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "saga",
		Name:      "step_duration_seconds",
		Help:      "Duration of individual saga steps.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"step"})

	// Compensations 统计回滚消息，result 为 published 或 failed
	Compensations = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "saga",
		Name:      "compensations_total",
		Help:      "Stock rollback messages emitted by the saga.",
	}, []string{"result"})

	PublishFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "messaging",
		Name:      "publish_failures_total",
		Help:      "Failed message publications by channel.",
	}, []string{"channel"})

	HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "HTTP requests by route and status code.",
	}, []string{"route", "code"})
)

const (
	ChannelCompensation = "compensation"
	ChannelNotification = "notification"
)
