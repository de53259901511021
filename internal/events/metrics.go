package events

import (
	"context"
	"fmt"

	"github.com/vietddude/artline/internal/metrics"
)

// MetricsSink turns events into Prometheus observations.
type MetricsSink struct{}

func NewMetricsSink() *MetricsSink {
	return &MetricsSink{}
}

func (MetricsSink) Emit(_ context.Context, evt Event) {
	switch evt.Name {
	case JobSubmitted:
		metrics.JobsSubmitted.WithLabelValues("submitted").Inc()
	case JobSubmitFailed:
		metrics.JobsSubmitted.WithLabelValues("failed").Inc()
	case JobSubmitRetry:
		metrics.SubmitRetries.WithLabelValues(stringField(evt, "class")).Inc()
	case JobPollError:
		metrics.PollErrors.WithLabelValues(stringField(evt, "class")).Inc()
	case JobCompleted:
		observeTerminal(evt, "completed")
	case JobFailed:
		observeTerminal(evt, "failed")
	case JobTimedOut:
		observeTerminal(evt, "timed_out")
	case JobCancelled:
		observeTerminal(evt, "cancelled")
	case JobSlow:
		metrics.SlowJobs.Inc()
	case HandoffDelivered:
		metrics.Handoffs.WithLabelValues(stringField(evt, "from"), stringField(evt, "to"), "delivered").Inc()
	case HandoffUnvalidated:
		metrics.Handoffs.WithLabelValues(stringField(evt, "from"), stringField(evt, "to"), "unvalidated").Inc()
	case HandoffRejected:
		from, to := stringField(evt, "from"), stringField(evt, "to")
		metrics.Handoffs.WithLabelValues(from, to, "rejected").Inc()
		metrics.ContractViolations.WithLabelValues(from, to, stringField(evt, "code")).Inc()
	case RunRegenerating:
		metrics.Regenerations.Inc()
	case RunDelivered:
		metrics.Runs.WithLabelValues("delivered").Inc()
	case RunFailed:
		metrics.Runs.WithLabelValues("error").Inc()
	}
}

func observeTerminal(evt Event, status string) {
	metrics.JobOutcomes.WithLabelValues(status).Inc()
	if evt.Attempt > 0 {
		metrics.PollAttempts.Observe(float64(evt.Attempt))
	}
	metrics.JobDuration.WithLabelValues(status).Observe(evt.Elapsed.Seconds())
}

func stringField(evt Event, key string) string {
	v := evt.Field(key)
	if v == nil {
		return "unknown"
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}
