package core

import "context"

const (
	MetricSubmissionsTotal   = "formrelay.submissions.total"
	MetricChannelTotal       = "formrelay.channel.total"
	MetricChannelDurationMS  = "formrelay.channel.duration_ms"
	MetricDispatchTotal      = "formrelay.dispatch.total"
	MetricDispatchDurationMS = "formrelay.dispatch.duration_ms"
	MetricHandoffTotal       = "formrelay.handoff.total"
	MetricSinkFailuresTotal  = "formrelay.sink.failures.total"
)

type NopMetricsRecorder struct{}

func (NopMetricsRecorder) IncCounter(context.Context, string, int64, map[string]string) {}

func (NopMetricsRecorder) ObserveHistogram(context.Context, string, float64, map[string]string) {}

func cloneTags(tags map[string]string) map[string]string {
	if len(tags) == 0 {
		return map[string]string{}
	}
	copied := make(map[string]string, len(tags))
	for key, value := range tags {
		copied[key] = value
	}
	return copied
}

var _ MetricsRecorder = NopMetricsRecorder{}
