package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Agent run metrics
	activeRuns = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "music_tutor_active_runs",
		Help: "Number of agent runs in flight",
	})

	runsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "music_tutor_runs_total",
		Help: "Total number of agent runs by outcome",
	}, []string{"outcome"})

	runDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "music_tutor_run_duration_seconds",
		Help:    "Duration of agent runs in seconds",
		Buckets: []float64{1, 2, 5, 10, 30, 60, 120, 300},
	})

	runTurns = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "music_tutor_run_tool_turns",
		Help:    "Tool-dispatch iterations per run",
		Buckets: []float64{0, 1, 2, 3, 4, 6, 8, 12, 16},
	})

	// Tool metrics
	toolCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "music_tutor_tool_calls_total",
		Help: "Total number of tool calls by tool and outcome",
	}, []string{"tool", "outcome"})

	toolLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "music_tutor_tool_latency_seconds",
		Help:    "Tool call latency in seconds",
		Buckets: []float64{0.25, 0.5, 1, 2, 5, 10, 30, 60, 120},
	}, []string{"tool"})

	// Job metrics
	jobPolls = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "music_tutor_job_polls_total",
		Help: "Total number of job status polls",
	}, []string{"service"})

	jobDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "music_tutor_job_duration_seconds",
		Help:    "Time from job submission to terminal status",
		Buckets: []float64{1, 2, 5, 10, 30, 60, 120, 300},
	}, []string{"service", "status"})

	// Proxy metrics
	proxyRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "music_tutor_proxy_requests_total",
		Help: "Total number of forwarded requests by outcome",
	}, []string{"outcome"})

	// Error metrics
	errorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "music_tutor_errors_total",
		Help: "Total number of errors",
	}, []string{"type", "component"})
)

// RunMetrics tracks metrics for a single agent run
type RunMetrics struct {
	startTime time.Time
}

// StartRun records the start of a run
func StartRun() *RunMetrics {
	activeRuns.Inc()
	return &RunMetrics{startTime: time.Now()}
}

// End records the end of a run
func (m *RunMetrics) End(outcome string, turns int) {
	activeRuns.Dec()
	runsTotal.WithLabelValues(outcome).Inc()
	runDuration.Observe(time.Since(m.startTime).Seconds())
	runTurns.Observe(float64(turns))
}

// RecordToolCall records one dispatched tool call
func RecordToolCall(tool, outcome string, latency time.Duration) {
	toolCalls.WithLabelValues(tool, outcome).Inc()
	toolLatency.WithLabelValues(tool).Observe(latency.Seconds())
}

// RecordJobPoll records one status poll
func RecordJobPoll(service string) {
	jobPolls.WithLabelValues(service).Inc()
}

// RecordJobDone records a job reaching a terminal status
func RecordJobDone(service, status string, elapsed time.Duration) {
	jobDuration.WithLabelValues(service, status).Observe(elapsed.Seconds())
}

// RecordProxyRequest records one intermediary request
func RecordProxyRequest(outcome string) {
	proxyRequests.WithLabelValues(outcome).Inc()
}

// RecordError records an error by category and component
func RecordError(errorType, component string) {
	errorsTotal.WithLabelValues(errorType, component).Inc()
}
