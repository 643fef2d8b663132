// Package registry provisions ECR image repositories and resolves the
// image coordinates handler builds push to.
package registry

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ecr"
	"github.com/aws/aws-sdk-go-v2/service/ecr/types"
	"github.com/aws/aws-sdk-go-v2/service/sts"
	"sigs.k8s.io/controller-runtime/pkg/log"
)

// repositoryPrefix scopes every handler image under one ECR namespace.
const repositoryPrefix = "knative-lambdas"

// awsCallTimeout bounds individual AWS API calls.
const awsCallTimeout = 30 * time.Second

// ECRClient is the subset of the ECR API the provisioner uses.
type ECRClient interface {
	DescribeRepositories(ctx context.Context, params *ecr.DescribeRepositoriesInput, optFns ...func(*ecr.Options)) (*ecr.DescribeRepositoriesOutput, error)
	CreateRepository(ctx context.Context, params *ecr.CreateRepositoryInput, optFns ...func(*ecr.Options)) (*ecr.CreateRepositoryOutput, error)
}

// STSClient is the subset of the STS API used to discover the account ID.
type STSClient interface {
	GetCallerIdentity(ctx context.Context, params *sts.GetCallerIdentityInput, optFns ...func(*sts.Options)) (*sts.GetCallerIdentityOutput, error)
}

// Provisioner ensures the ECR repository for a tenant exists and resolves
// the fully qualified image reference a handler build pushes.
type Provisioner struct {
	ECR    ECRClient
	STS    STSClient
	Region string

	// BaseRegistry overrides registry host discovery when non-empty,
	// e.g. for a local registry in development.
	BaseRegistry string

	mu       sync.Mutex
	registry string // cached discovered registry host
}

// RepositoryFor returns the ECR repository name for a tenant.
func RepositoryFor(thirdPartyID string) string {
	return repositoryPrefix + "/" + thirdPartyID
}

// Ensure makes sure the tenant's repository exists and returns the image
// reference for the handler build. It must succeed before the build Job is
// submitted so that the push target exists.
func (p *Provisioner) Ensure(ctx context.Context, thirdPartyID, parserID string) (string, error) {
	repo := RepositoryFor(thirdPartyID)
	if err := p.ensureRepository(ctx, repo); err != nil {
		return "", err
	}
	host, err := p.registryHost(ctx)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s/%s:%s", host, repo, parserID), nil
}

func (p *Provisioner) ensureRepository(ctx context.Context, repo string) error {
	ctx, cancel := context.WithTimeout(ctx, awsCallTimeout)
	defer cancel()

	_, err := p.ECR.DescribeRepositories(ctx, &ecr.DescribeRepositoriesInput{
		RepositoryNames: []string{repo},
	})
	if err == nil {
		return nil
	}

	var notFound *types.RepositoryNotFoundException
	if !errors.As(err, &notFound) {
		return fmt.Errorf("describing repository %q: %w", repo, err)
	}

	log.FromContext(ctx).Info("creating image repository", "repository", repo)
	_, err = p.ECR.CreateRepository(ctx, &ecr.CreateRepositoryInput{
		RepositoryName: aws.String(repo),
		ImageScanningConfiguration: &types.ImageScanningConfiguration{
			ScanOnPush: true,
		},
	})
	if err != nil {
		// Concurrent builds for the same tenant can race the create.
		var exists *types.RepositoryAlreadyExistsException
		if errors.As(err, &exists) {
			return nil
		}
		return fmt.Errorf("creating repository %q: %w", repo, err)
	}
	return nil
}

// registryHost resolves the registry hostname, discovering the AWS account
// through STS on first use. Discovery failures are not cached, so a later
// build retries.
func (p *Provisioner) registryHost(ctx context.Context) (string, error) {
	if p.BaseRegistry != "" {
		return p.BaseRegistry, nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.registry != "" {
		return p.registry, nil
	}

	ctx, cancel := context.WithTimeout(ctx, awsCallTimeout)
	defer cancel()

	out, err := p.STS.GetCallerIdentity(ctx, &sts.GetCallerIdentityInput{})
	if err != nil {
		return "", fmt.Errorf("resolving AWS account for registry host: %w", err)
	}
	p.registry = fmt.Sprintf("%s.dkr.ecr.%s.amazonaws.com", aws.ToString(out.Account), p.Region)
	return p.registry, nil
}
