package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"time"
)

type Statistic interface {
	Collect() []prometheus.Collector
	EvaluateDuration(method string, start time.Time)
}

type RequestMetrics struct {
	RequestDuration *prometheus.HistogramVec
}

// NewRequestMetrics initializes request metrics
func NewRequestMetrics() *RequestMetrics {
	rm := &RequestMetrics{}

	rm.RequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "vmdkops_request_duration_seconds",
		Help:    "Duration of volume requests by command",
		Buckets: prometheus.ExponentialBuckets(0.001, 1.5, 25),
	}, []string{"method"})

	return rm
}

func (rm *RequestMetrics) Collect() []prometheus.Collector {
	return []prometheus.Collector{rm.RequestDuration}
}

func (rm *RequestMetrics) EvaluateDuration(method string, start time.Time) {
	duration := time.Since(start)
	rm.RequestDuration.With(prometheus.Labels{
		"method": method,
	}).Observe(duration.Seconds())
}

type ToolMetrics struct {
	ToolDuration *prometheus.HistogramVec
}

// NewToolMetrics initializes disk tool metrics
func NewToolMetrics() *ToolMetrics {
	tm := &ToolMetrics{}

	tm.ToolDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "vmdkops_tool_duration_seconds",
		Help:    "Duration of disk tool invocations by tool",
		Buckets: prometheus.ExponentialBuckets(0.001, 1.5, 25),
	}, []string{"method"})

	return tm
}

func (tm *ToolMetrics) Collect() []prometheus.Collector {
	return []prometheus.Collector{tm.ToolDuration}
}

func (tm *ToolMetrics) EvaluateDuration(method string, start time.Time) {
	duration := time.Since(start)
	tm.ToolDuration.With(prometheus.Labels{
		"method": method,
	}).Observe(duration.Seconds())
}
