package models

import "time"

// BuildObserver receives lifecycle callbacks during a publish run. Used by the
// daemon to feed the event bus without coupling stages to it.
type BuildObserver interface {
	OnStageStart(stage StageName)
	OnStageComplete(stage StageName, d time.Duration, result StageResult)
	OnBuildComplete(report *BuildReport)
}

// NoopObserver is the default observer doing nothing.
type NoopObserver struct{}

func (NoopObserver) OnStageStart(StageName)                            {}
func (NoopObserver) OnStageComplete(StageName, time.Duration, StageResult) {}
func (NoopObserver) OnBuildComplete(*BuildReport)                      {}
