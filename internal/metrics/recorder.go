// Package metrics defines observability hooks for publish runs.
package metrics

import "time"

// ResultLabel enumerates stage result categories for counters.
type ResultLabel string

const (
	ResultSuccess  ResultLabel = "success"
	ResultWarning  ResultLabel = "warning"
	ResultFatal    ResultLabel = "fatal"
	ResultCanceled ResultLabel = "canceled"
)

// Recorder defines observability hooks for publish and stage metrics.
// All methods must be safe on the NoopRecorder so injection stays optional.
type Recorder interface {
	ObserveStageDuration(stage string, d time.Duration)
	ObserveBuildDuration(outcome string, d time.Duration)
	IncStageResult(stage string, result ResultLabel)
	IncBuildOutcome(trigger, outcome string) // outcome: success|warning|failed|canceled|skipped
	SetQueueDepth(n int)
	AddBrokenLinks(n int)
	IncPushRetry()
}

// NoopRecorder is a Recorder that does nothing (default when metrics not configured).
type NoopRecorder struct{}

func (NoopRecorder) ObserveStageDuration(string, time.Duration)         {}
func (NoopRecorder) ObserveBuildDuration(string, time.Duration)         {}
func (NoopRecorder) IncStageResult(string, ResultLabel)                 {}
func (NoopRecorder) IncBuildOutcome(string, string)                     {}
func (NoopRecorder) SetQueueDepth(int)                                  {}
func (NoopRecorder) AddBrokenLinks(int)                                 {}
func (NoopRecorder) IncPushRetry()                                      {}
