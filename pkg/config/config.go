// Package config resolves the manager's domain configuration from the
// environment.
package config

import "os"

// Environment variable names understood by FromEnv.
const (
	EnvBaseRegistry          = "ECR_BASE_REGISTRY"
	EnvSourceBucket          = "S3_SOURCE_BUCKET"
	EnvContextBucket         = "S3_CONTEXT_BUCKET"
	EnvJobTemplatePath       = "JOB_TEMPLATE_PATH"
	EnvServiceTemplatePath   = "SERVICE_TEMPLATE_PATH"
	EnvTriggerTemplatePath   = "TRIGGER_TEMPLATE_PATH"
	EnvTemplatesDir          = "TEMPLATES_DIR"
	EnvBuildNamespace        = "BUILD_NAMESPACE"
	EnvBuilderServiceAccount = "BUILDER_SERVICE_ACCOUNT"
)

// Defaults applied by FromEnv when the corresponding variable is unset.
const (
	DefaultJobTemplatePath       = "templates/job.yaml"
	DefaultServiceTemplatePath   = "templates/service.yaml"
	DefaultTriggerTemplatePath   = "templates/trigger.yaml"
	DefaultTemplatesDir          = "templates"
	DefaultBuildNamespace        = "default"
	DefaultBuilderServiceAccount = "lambda-builder"
)

// Options carries the domain configuration for a manager instance. The zero
// value is not usable; obtain one from FromEnv or fill every field in tests.
type Options struct {
	// BaseRegistry overrides the registry host used in image references.
	// Empty means the host is resolved from the caller's AWS account and
	// region at startup.
	BaseRegistry string

	// SourceBucket is the bucket holding tenant handler sources. Empty means
	// each tenant's sources live in a bucket named after the tenant id.
	SourceBucket string

	// ContextBucket is the bucket receiving build-context archives. Empty
	// means the source bucket resolution applies.
	ContextBucket string

	// JobTemplatePath, ServiceTemplatePath and TriggerTemplatePath locate the
	// manifest templates rendered for each build attempt.
	JobTemplatePath     string
	ServiceTemplatePath string
	TriggerTemplatePath string

	// TemplatesDir is the directory holding the build-context template set
	// and the static assets copied verbatim into every build context.
	TemplatesDir string

	// BuildNamespace is the namespace build Jobs are submitted into.
	BuildNamespace string

	// BuilderServiceAccount is the service account bound to build Jobs. It
	// must carry the IAM identity the image builder needs to pull the context
	// archive and push the result.
	BuilderServiceAccount string
}

// FromEnv builds Options from the process environment, applying defaults for
// anything unset. Template validity is checked where the templates are
// loaded, so a bad path fails at startup rather than mid-build.
func FromEnv() Options {
	return Options{
		BaseRegistry:          os.Getenv(EnvBaseRegistry),
		SourceBucket:          os.Getenv(EnvSourceBucket),
		ContextBucket:         os.Getenv(EnvContextBucket),
		JobTemplatePath:       envOr(EnvJobTemplatePath, DefaultJobTemplatePath),
		ServiceTemplatePath:   envOr(EnvServiceTemplatePath, DefaultServiceTemplatePath),
		TriggerTemplatePath:   envOr(EnvTriggerTemplatePath, DefaultTriggerTemplatePath),
		TemplatesDir:          envOr(EnvTemplatesDir, DefaultTemplatesDir),
		BuildNamespace:        envOr(EnvBuildNamespace, DefaultBuildNamespace),
		BuilderServiceAccount: envOr(EnvBuilderServiceAccount, DefaultBuilderServiceAccount),
	}
}

// SourceBucketFor returns the bucket holding the given tenant's handler
// sources.
func (o Options) SourceBucketFor(thirdPartyID string) string {
	if o.SourceBucket != "" {
		return o.SourceBucket
	}
	return thirdPartyID
}

// ContextBucketFor returns the bucket receiving the given tenant's
// build-context archives, falling back to the source bucket resolution.
func (o Options) ContextBucketFor(thirdPartyID string) string {
	if o.ContextBucket != "" {
		return o.ContextBucket
	}
	return o.SourceBucketFor(thirdPartyID)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
