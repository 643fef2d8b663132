package build

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"sigs.k8s.io/controller-runtime/pkg/log"

	"github.com/notifi-network/lambda-manager/pkg/config"
	"github.com/notifi-network/lambda-manager/pkg/monitoring"
)

// pipelineTimeout bounds one attempt's pre-submission work. A build that
// cannot fetch, assemble and submit within this window is stuck, not slow.
const pipelineTimeout = 10 * time.Minute

// S3UploadAPI is the subset of the s3 manager uploader the pipeline uses.
type S3UploadAPI interface {
	Upload(ctx context.Context, input *s3.PutObjectInput, opts ...func(*manager.Uploader)) (*manager.UploadOutput, error)
}

// StatusSink receives attempt state transitions from the pipeline.
type StatusSink interface {
	MarkSubmitted(requestID, jobName, image string)
	MarkFailed(requestID string, err error)
}

// ImageProvisioner guarantees the push target exists and names the image a
// build pushes.
type ImageProvisioner interface {
	Ensure(ctx context.Context, thirdPartyID, parserID string) (string, error)
}

// JobSubmitter submits the build Job for an attempt and returns its name.
type JobSubmitter interface {
	Launch(ctx context.Context, req Request, image string) (string, error)
}

// Pipeline runs one build attempt end to end: fetch the handler source,
// assemble and upload the build context, ensure the image repository, submit
// the build Job. The Job's completion is observed elsewhere; a successful
// Run only means the build is running.
type Pipeline struct {
	Fetcher  *SourceFetcher
	Context  *ContextBuilder
	Uploader S3UploadAPI
	Registry ImageProvisioner
	Launcher JobSubmitter
	Status   StatusSink
	Config   config.Options
}

// ContextKeyFor returns the bucket key a handler's context archive uploads
// to. The job template embeds the same shape, so the builder pod and the
// pipeline always agree on the location.
func ContextKeyFor(req Request) string {
	return fmt.Sprintf("builds/%s/%s.tar.gz", req.ThirdPartyID, req.ParserID)
}

// Run executes the attempt. Failures are recorded against the status sink
// and metrics before returning; the returned error is for the caller's log
// line only.
func (p *Pipeline) Run(ctx context.Context, req Request) error {
	ctx, cancel := context.WithTimeout(ctx, pipelineTimeout)
	defer cancel()

	ctx, span := monitoring.StartBuildSpan(ctx, "Pipeline.Build", req.ThirdPartyID, req.ParserID)
	defer span.End()

	logger := log.FromContext(ctx).WithValues(
		"request", req.ID,
		"tenant", req.ThirdPartyID,
		"handler", req.ParserID,
	)
	ctx = log.IntoContext(ctx, logger)

	jobName, image, err := p.run(ctx, req)
	if err != nil {
		monitoring.RecordSpanError(span, err)
		p.Status.MarkFailed(req.ID, err)
		logger.Error(err, "build attempt failed")
		return err
	}

	p.Status.MarkSubmitted(req.ID, jobName, image)
	logger.Info("build job submitted", "job", jobName, "image", image)
	return nil
}

func (p *Pipeline) run(ctx context.Context, req Request) (string, string, error) {
	var dir string
	err := p.stage(ctx, req, monitoring.StageFetch, "FetchSource", func(ctx context.Context) error {
		d, err := os.MkdirTemp("", "build-context-*")
		if err != nil {
			return fmt.Errorf("creating build workdir: %w", err)
		}
		dir = d
		_, err = p.Fetcher.Fetch(ctx, req, dir)
		return err
	})
	if dir != "" {
		// Workdir cleanup is best effort; the archive is what matters.
		defer func() {
			if rmErr := os.RemoveAll(dir); rmErr != nil {
				log.FromContext(ctx).Error(rmErr, "cleaning up build workdir", "dir", dir)
			}
		}()
	}
	if err != nil {
		return "", "", err
	}

	err = p.stage(ctx, req, monitoring.StageContext, "AssembleContext", func(ctx context.Context) error {
		if err := p.Context.Populate(req, dir); err != nil {
			return err
		}
		archive, err := Archive(dir)
		if err != nil {
			return err
		}
		return p.upload(ctx, req, archive)
	})
	if err != nil {
		return "", "", err
	}

	var image string
	err = p.stage(ctx, req, monitoring.StageRegistry, "EnsureRepository", func(ctx context.Context) error {
		img, err := p.Registry.Ensure(ctx, req.ThirdPartyID, req.ParserID)
		image = img
		return err
	})
	if err != nil {
		return "", "", err
	}

	var jobName string
	err = p.stage(ctx, req, monitoring.StageSubmit, "SubmitJob", func(ctx context.Context) error {
		name, err := p.Launcher.Launch(ctx, req, image)
		jobName = name
		return err
	})
	if err != nil {
		return "", "", err
	}

	return jobName, image, nil
}

// stage wraps one pipeline step with a child span, a duration observation
// and, on failure, the per-stage failure counter. Stages fail at most once
// per attempt since the first failure aborts the run.
func (p *Pipeline) stage(ctx context.Context, req Request, stage, spanName string, fn func(context.Context) error) error {
	ctx, span := monitoring.StartChildSpan(ctx, spanName)
	defer span.End()

	start := time.Now()
	err := fn(ctx)
	monitoring.ObserveStage(stage, time.Since(start))
	if err != nil {
		monitoring.RecordSpanError(span, err)
		monitoring.RecordBuildFailed(req.ThirdPartyID, stage)
	}
	return err
}

// upload pushes the context archive where the builder Job will fetch it. An
// upload failure aborts the attempt: a Job submitted without its context is
// doomed to fail on fetch, and aborting here keeps the attempt's terminal
// state accurate instead of deferring the failure to the cluster.
func (p *Pipeline) upload(ctx context.Context, req Request, archive []byte) error {
	bucket := p.Config.ContextBucketFor(req.ThirdPartyID)
	key := ContextKeyFor(req)

	_, err := p.Uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(archive),
	})
	if err != nil {
		return fmt.Errorf("uploading build context s3://%s/%s: %w", bucket, key, err)
	}

	log.FromContext(ctx).V(1).Info("build context uploaded",
		"bucket", bucket, "key", key, "bytes", len(archive))
	return nil
}
