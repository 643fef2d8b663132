package build

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/notifi-network/lambda-manager/pkg/config"
)

// S3GetObjectAPI is the subset of the S3 API the fetcher uses.
type S3GetObjectAPI interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// SourceFetcher downloads a tenant's handler source from S3 into the build
// workdir.
type SourceFetcher struct {
	S3     S3GetObjectAPI
	Config config.Options
}

// Fetch downloads {parserId}.js from the tenant's source bucket into dir,
// keeping the object's file name so the rendered wrapper can require it, and
// returns the written path. A missing or zero-byte object fails the attempt;
// there is nothing to build.
func (f *SourceFetcher) Fetch(ctx context.Context, req Request, dir string) (string, error) {
	bucket := f.Config.SourceBucketFor(req.ThirdPartyID)
	key := req.ParserID + ".js"

	out, err := f.S3.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return "", fmt.Errorf("fetching handler source s3://%s/%s: %w", bucket, key, err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return "", fmt.Errorf("reading handler source s3://%s/%s: %w", bucket, key, err)
	}
	if len(data) == 0 {
		return "", fmt.Errorf("handler source s3://%s/%s is empty", bucket, key)
	}

	path := filepath.Join(dir, key)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("writing handler source: %w", err)
	}
	return path, nil
}
