package core

import "context"

const (
	MetricRecordsScanned   = "identity_transfer.records.scanned"
	MetricRecordOutcome    = "identity_transfer.records.outcome"
	MetricProviderAttempts = "identity_transfer.provider.attempts"
	MetricRunDurationMS    = "identity_transfer.run.duration_ms"
)

type NopMetricsRecorder struct{}

func (NopMetricsRecorder) IncCounter(context.Context, string, int64, map[string]string) {}

func (NopMetricsRecorder) ObserveHistogram(context.Context, string, float64, map[string]string) {}

func phaseTags(phase Phase, extra ...string) map[string]string {
	tags := map[string]string{"phase": string(phase)}
	for i := 0; i+1 < len(extra); i += 2 {
		tags[extra[i]] = extra[i+1]
	}
	return tags
}
