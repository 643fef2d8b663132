// Package monitoring provides Prometheus metrics, recording helpers, and
// OpenTelemetry tracing for the lambda manager. It exposes build-lifecycle
// counters and gauges that are served from controller-runtime's default
// Prometheus registry.
//
// All metrics follow the naming convention lambda_manager_<metric>_<unit>
// and are registered on import.
//
// Usage in the build pipeline:
//
//	monitoring.RecordBuildStarted(req.ThirdPartyID)
//	monitoring.ObserveStage(monitoring.StageFetch, elapsed)
//	monitoring.RecordBuildFailed(req.ThirdPartyID, monitoring.StageSubmit)
//
// Usage in the completion path:
//
//	monitoring.RecordBuildCompleted(req.ThirdPartyID)
//	monitoring.RecordMaterialization(req.ThirdPartyID, err, elapsed)
package monitoring
