// Package launcher renders the build Job manifest for one build attempt and
// submits it to the cluster.
package launcher

import (
	"bytes"
	"context"
	"fmt"
	"text/template"

	batchv1 "k8s.io/api/batch/v1"
	corev1 "k8s.io/api/core/v1"
	"k8s.io/utils/ptr"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/log"
	"sigs.k8s.io/yaml"

	"github.com/notifi-network/lambda-manager/pkg/build"
	"github.com/notifi-network/lambda-manager/pkg/config"
	"github.com/notifi-network/lambda-manager/pkg/gateway"
	"github.com/notifi-network/lambda-manager/pkg/monitoring"
	"github.com/notifi-network/lambda-manager/pkg/util/metadata"
	"github.com/notifi-network/lambda-manager/pkg/util/name"
)

// defaultJobTTLSeconds is how long finished build Jobs linger before the
// cluster garbage-collects them, when the template does not say otherwise.
const defaultJobTTLSeconds = 3600

// jobParams is the data a job template is rendered with. Field names are a
// template contract; operators referencing them in custom templates rely on
// these exact spellings.
type jobParams struct {
	Name         string
	Dockerfile   string
	BucketName   string
	ThirdPartyId string
	ParserId     string
	ImageTag     string
	Region       string
}

// Launcher submits build Jobs rendered from the configured job template.
type Launcher struct {
	Gateway  *gateway.Gateway
	Template *template.Template
	Config   config.Options

	// Region is stamped into the rendered Job so the builder pod can reach
	// the right S3 and ECR endpoints.
	Region string
}

// LoadTemplate parses the job template at path. It runs at startup so a
// broken template fails the process before any build is accepted.
func LoadTemplate(path string) (*template.Template, error) {
	tpl, err := template.ParseFiles(path)
	if err != nil {
		return nil, fmt.Errorf("parsing job template %s: %w", path, err)
	}
	return tpl, nil
}

// Launch renders, defaults and submits the build Job for one attempt and
// returns the submitted Job's name. The name carries a random suffix so
// concurrent attempts for the same tenant/handler pair never collide.
//
// Submission is a plain create: if an object with the same name already
// exists the attempt fails with an error satisfying gateway.IsAlreadyExists
// rather than replacing someone else's Job.
func (l *Launcher) Launch(ctx context.Context, req build.Request, image string) (string, error) {
	jobName := name.JoinWithSuffix(name.JobConstraints, "build", req.ThirdPartyID, req.ParserID)

	job, err := l.render(jobName, req, image)
	if err != nil {
		return "", err
	}
	l.applyDefaults(job, jobName)
	l.decorate(ctx, job, req)

	l.preflight(ctx, job.Namespace)

	if err := l.Gateway.Create(ctx, job); err != nil {
		return "", err
	}
	return job.Name, nil
}

func (l *Launcher) render(jobName string, req build.Request, image string) (*batchv1.Job, error) {
	params := jobParams{
		Name:         jobName,
		Dockerfile:   "Dockerfile",
		BucketName:   l.Config.ContextBucketFor(req.ThirdPartyID),
		ThirdPartyId: req.ThirdPartyID,
		ParserId:     req.ParserID,
		ImageTag:     image,
		Region:       l.Region,
	}

	var buf bytes.Buffer
	if err := l.Template.Execute(&buf, params); err != nil {
		return nil, fmt.Errorf("rendering job template: %w", err)
	}

	job := &batchv1.Job{}
	if err := yaml.Unmarshal(buf.Bytes(), job); err != nil {
		return nil, fmt.Errorf("decoding rendered job manifest: %w", err)
	}
	return job, nil
}

// applyDefaults fills in anything the template left unset and forces the
// fields builds must not override. A build attempt is one shot: retries are
// driven by new build events, never by the Job controller, so restarts and
// backoff stay off no matter what the template says.
func (l *Launcher) applyDefaults(job *batchv1.Job, jobName string) {
	if job.Name == "" {
		job.Name = jobName
	}
	if job.Namespace == "" {
		job.Namespace = l.Config.BuildNamespace
	}
	if job.Spec.Template.Spec.ServiceAccountName == "" {
		job.Spec.Template.Spec.ServiceAccountName = l.Config.BuilderServiceAccount
	}
	if job.Spec.TTLSecondsAfterFinished == nil {
		job.Spec.TTLSecondsAfterFinished = ptr.To(int32(defaultJobTTLSeconds))
	}
	if job.Spec.BackoffLimit == nil {
		job.Spec.BackoffLimit = ptr.To(int32(0))
	}
	job.Spec.Template.Spec.RestartPolicy = corev1.RestartPolicyNever
}

// decorate stamps identity labels and the caller's trace context onto the
// Job so completion events can be tied back to this attempt.
func (l *Launcher) decorate(ctx context.Context, job *batchv1.Job, req build.Request) {
	labels := metadata.BuildStandardLabels(job.Name, metadata.ComponentBuild)
	labels = metadata.AddTenantLabel(labels, req.ThirdPartyID)
	labels = metadata.AddHandlerLabel(labels, req.ParserID)
	labels = metadata.AddBuildLabel(labels, job.Name)

	job.Labels = metadata.MergeLabels(labels, job.Labels)
	job.Spec.Template.Labels = metadata.MergeLabels(labels, job.Spec.Template.Labels)

	if job.Annotations == nil {
		job.Annotations = map[string]string{}
	}
	monitoring.InjectTraceContext(ctx, job.Annotations)
}

// preflight checks that the build namespace exists and that Jobs in it are
// listable. Failures are logged and otherwise ignored; submission itself is
// the authoritative check and produces the real error.
func (l *Launcher) preflight(ctx context.Context, namespace string) {
	logger := log.FromContext(ctx).WithValues("namespace", namespace)

	var ns corev1.Namespace
	if err := l.Gateway.Get(ctx, client.ObjectKey{Name: namespace}, &ns); err != nil {
		logger.Error(err, "build namespace precheck failed, submitting anyway")
	}

	var jobs batchv1.JobList
	if err := l.Gateway.List(ctx, &jobs, client.InNamespace(namespace)); err != nil {
		logger.Error(err, "job list precheck failed, submitting anyway")
	}
}
