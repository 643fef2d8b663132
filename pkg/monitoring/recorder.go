package monitoring

import "time"

// SetBuildPhase sets the info-style gauge for a build attempt.
// Old phase labels are automatically cleaned up via DeletePartialMatch.
func SetBuildPhase(job, tenant, handler, phase string) {
	buildInfo.DeletePartialMatch(map[string]string{
		"job":     job,
		"tenant":  tenant,
		"handler": handler,
	})
	buildInfo.WithLabelValues(job, tenant, handler, phase).Set(1)
}

// ClearBuild removes the info-style gauge series for a build attempt.
// Used when the attempt record is pruned.
func ClearBuild(job, tenant, handler string) {
	buildInfo.DeletePartialMatch(map[string]string{
		"job":     job,
		"tenant":  tenant,
		"handler": handler,
	})
}

// RecordBuildStarted counts an accepted build attempt and marks it in flight.
func RecordBuildStarted(tenant string) {
	buildsStartedTotal.WithLabelValues(tenant).Inc()
	buildsInFlight.Inc()
}

// RecordBuildCompleted counts a build Job observed reaching Complete=True.
// The attempt stays in flight until its materialization finishes.
func RecordBuildCompleted(tenant string) {
	buildsCompletedTotal.WithLabelValues(tenant).Inc()
}

// RecordBuildAdopted counts an attempt reconstructed from a completion
// event and marks it in flight. Its acceptance was counted by the process
// that submitted the Job.
func RecordBuildAdopted(tenant string) {
	buildsAdoptedTotal.WithLabelValues(tenant).Inc()
	buildsInFlight.Inc()
}

// RecordBuildFailed counts a build attempt aborted at the given stage and
// takes it out of flight.
func RecordBuildFailed(tenant, stage string) {
	buildsFailedTotal.WithLabelValues(tenant, stage).Inc()
	buildsInFlight.Dec()
}

// RecordBuildDone takes a fully materialized build attempt out of flight.
func RecordBuildDone(tenant string) {
	buildsInFlight.Dec()
}

// ObserveStage records the duration of one pipeline stage.
func ObserveStage(stage string, duration time.Duration) {
	stageDurationSeconds.WithLabelValues(stage).Observe(duration.Seconds())
}

// RecordMaterialization records a Service/Trigger apply sequence's result and
// duration.
func RecordMaterialization(tenant string, err error, duration time.Duration) {
	result := "success"
	if err != nil {
		result = "error"
	}
	materializationTotal.WithLabelValues(tenant, result).Inc()
	materializationDuration.WithLabelValues(tenant).Observe(duration.Seconds())
}
