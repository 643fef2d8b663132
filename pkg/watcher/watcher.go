package watcher

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"
	"sigs.k8s.io/controller-runtime/pkg/log"

	"github.com/notifi-network/lambda-manager/pkg/build"
	"github.com/notifi-network/lambda-manager/pkg/monitoring"
	"github.com/notifi-network/lambda-manager/pkg/tracker"
)

// materializeTimeout bounds the deploy sequence for one completed build. Two
// apply cycles fit comfortably; anything slower means the cluster is not
// accepting writes.
const materializeTimeout = 5 * time.Minute

// Deployer materializes a completed build as a running handler.
type Deployer interface {
	Deploy(ctx context.Context, req build.Request, image string) error
}

// Watcher correlates resource-status events with tracked build attempts and
// drives materialization of completed builds.
type Watcher struct {
	Tracker  *tracker.Tracker
	Deployer Deployer

	// Registry rebuilds the image reference for attempts adopted from event
	// payloads, where the submitting process (and its recorded image) is
	// gone.
	Registry build.ImageProvisioner

	wg sync.WaitGroup
}

// HandleUpdate routes one resource update. Updates that do not correspond
// to a tracked build are logged and dropped: status events are
// observations, not commands, and redelivering them cannot improve the
// outcome.
func (w *Watcher) HandleUpdate(ctx context.Context, u ResourceUpdate) {
	switch {
	case IsJobComplete(u):
		w.handleCompletion(ctx, u)
	case IsJobFailed(u):
		w.handleFailure(ctx, u)
	default:
		log.FromContext(ctx).V(1).Info("ignoring resource update",
			"kind", u.Kind, "name", u.ObjectName())
	}
}

// Drain blocks until in-flight materializations finish.
func (w *Watcher) Drain() {
	w.wg.Wait()
}

func (w *Watcher) handleCompletion(ctx context.Context, u ResourceUpdate) {
	jobName := u.ObjectName()
	logger := log.FromContext(ctx).WithValues("job", jobName)

	att, transitioned := w.Tracker.MarkCompleted(jobName)
	adopted := false
	if !transitioned {
		if att.JobName != "" {
			logger.V(1).Info("ignoring duplicate completion event", "phase", att.Phase)
			return
		}
		var ok bool
		att, ok = w.adopt(ctx, u, jobName)
		if !ok {
			logger.Info("completion for untracked build job, dropping")
			return
		}
		adopted = true
	}

	monitoring.RecordBuildCompleted(att.Request.ThirdPartyID)
	if !adopted {
		// An adopted attempt's submission time is unknown, so its build
		// duration cannot be observed.
		monitoring.ObserveStage(monitoring.StageBuild, time.Since(att.StartedAt))
	}
	logger.Info("build job completed",
		"tenant", att.Request.ThirdPartyID, "handler", att.Request.ParserID)

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		w.materialize(u, att)
	}()
}

// adopt reconstructs an attempt from the event's attached build request.
// Without a payload there is no safe correlation; guessing (say, the most
// recent attempt for some handler) could deploy the wrong tenant's image.
func (w *Watcher) adopt(ctx context.Context, u ResourceUpdate, jobName string) (tracker.BuildAttempt, bool) {
	if len(u.BuildEvent) == 0 {
		return tracker.BuildAttempt{}, false
	}
	req, err := build.ParseRequest(u.BuildEvent)
	if err != nil {
		log.FromContext(ctx).Error(err, "completion carried an unusable build event", "job", jobName)
		return tracker.BuildAttempt{}, false
	}

	att := w.Tracker.Adopt(req, jobName)
	monitoring.RecordBuildAdopted(req.ThirdPartyID)
	log.FromContext(ctx).Info("adopted untracked build from event payload",
		"job", jobName, "tenant", req.ThirdPartyID, "handler", req.ParserID)
	return att, true
}

func (w *Watcher) handleFailure(ctx context.Context, u ResourceUpdate) {
	jobName := u.ObjectName()
	logger := log.FromContext(ctx).WithValues("job", jobName)

	att, ok := w.Tracker.ByJob(jobName)
	if !ok {
		logger.Info("failure for untracked build job, dropping")
		return
	}
	if att.Phase.Terminal() {
		logger.V(1).Info("ignoring duplicate failure event")
		return
	}

	w.Tracker.FailJob(jobName, errors.New(failureMessage(u)))
	monitoring.RecordBuildFailed(att.Request.ThirdPartyID, monitoring.StageBuild)
	logger.Info("build job failed",
		"tenant", att.Request.ThirdPartyID, "handler", att.Request.ParserID)
}

// materialize runs on its own goroutine with a fresh bounded context; the
// event delivery context is gone by the time the deploy sequence finishes.
// The Job's trace annotations, when present and fresh, stitch the deploy
// span onto the originating build trace.
func (w *Watcher) materialize(u ResourceUpdate, att tracker.BuildAttempt) {
	ctx := context.Background()
	if traced, ok := monitoring.ExtractTraceContext(u.Annotations()); ok {
		ctx = traced
	}
	ctx, cancel := context.WithTimeout(ctx, materializeTimeout)
	defer cancel()

	ctx, span := monitoring.StartBuildSpan(ctx, "Watcher.Materialize",
		att.Request.ThirdPartyID, att.Request.ParserID)
	defer span.End()

	logger := log.FromContext(ctx).WithValues(
		"job", att.JobName,
		"tenant", att.Request.ThirdPartyID,
		"handler", att.Request.ParserID,
	)
	ctx = log.IntoContext(ctx, logger)

	image := att.Image
	if image == "" {
		img, err := w.Registry.Ensure(ctx, att.Request.ThirdPartyID, att.Request.ParserID)
		if err != nil {
			w.fail(ctx, span, att, fmt.Errorf("resolving image for adopted build: %w", err))
			return
		}
		image = img
	}

	w.Tracker.MarkMaterializing(att.JobName)

	start := time.Now()
	err := w.Deployer.Deploy(ctx, att.Request, image)
	duration := time.Since(start)
	monitoring.RecordMaterialization(att.Request.ThirdPartyID, err, duration)
	monitoring.ObserveStage(monitoring.StageMaterialize, duration)
	if err != nil {
		w.fail(ctx, span, att, err)
		return
	}

	w.Tracker.MarkDone(att.JobName)
	monitoring.RecordBuildDone(att.Request.ThirdPartyID)
	logger.Info("handler deployed", "image", image)
}

func (w *Watcher) fail(ctx context.Context, span trace.Span, att tracker.BuildAttempt, err error) {
	monitoring.RecordSpanError(span, err)
	w.Tracker.FailJob(att.JobName, err)
	monitoring.RecordBuildFailed(att.Request.ThirdPartyID, monitoring.StageMaterialize)
	log.FromContext(ctx).Error(err, "materialization failed")
}
