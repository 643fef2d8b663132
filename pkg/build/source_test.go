package build

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/notifi-network/lambda-manager/pkg/config"
)

// fakeS3 serves objects keyed "bucket/key". Shared with the pipeline tests.
type fakeS3 struct {
	objects map[string][]byte
	err     error
	calls   []string
}

func (f *fakeS3) GetObject(_ context.Context, params *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	key := aws.ToString(params.Bucket) + "/" + aws.ToString(params.Key)
	f.calls = append(f.calls, key)
	if f.err != nil {
		return nil, f.err
	}
	data, ok := f.objects[key]
	if !ok {
		return nil, &s3types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
}

func TestFetchWritesSource(t *testing.T) {
	t.Parallel()

	source := []byte("module.exports.parse = event => event;\n")
	s3Client := &fakeS3{objects: map[string][]byte{"acme/parser-1.js": source}}
	f := &SourceFetcher{S3: s3Client, Config: config.Options{}}

	dir := t.TempDir()
	path, err := f.Fetch(context.Background(), Request{ThirdPartyID: "acme", ParserID: "parser-1"}, dir)
	if err != nil {
		t.Fatalf("Fetch() unexpected error: %v", err)
	}

	if want := filepath.Join(dir, "parser-1.js"); path != want {
		t.Errorf("Fetch() path = %q, want %q", path, want)
	}
	got, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading fetched source: %v", err)
	}
	if !bytes.Equal(got, source) {
		t.Errorf("fetched source = %q, want %q", got, source)
	}
	if len(s3Client.calls) != 1 || s3Client.calls[0] != "acme/parser-1.js" {
		t.Errorf("GetObject calls = %v, want [acme/parser-1.js]", s3Client.calls)
	}
}

func TestFetchSourceBucketOverride(t *testing.T) {
	t.Parallel()

	s3Client := &fakeS3{objects: map[string][]byte{"all-sources/parser-1.js": []byte("x")}}
	f := &SourceFetcher{S3: s3Client, Config: config.Options{SourceBucket: "all-sources"}}

	if _, err := f.Fetch(context.Background(), Request{ThirdPartyID: "acme", ParserID: "parser-1"}, t.TempDir()); err != nil {
		t.Fatalf("Fetch() unexpected error: %v", err)
	}
	if len(s3Client.calls) != 1 || s3Client.calls[0] != "all-sources/parser-1.js" {
		t.Errorf("GetObject calls = %v, want [all-sources/parser-1.js]", s3Client.calls)
	}
}

func TestFetchErrors(t *testing.T) {
	t.Parallel()

	tests := map[string]struct {
		s3      *fakeS3
		wantErr string
	}{
		"object missing": {
			s3:      &fakeS3{},
			wantErr: "fetching handler source s3://acme/parser-1.js",
		},
		"transport failure": {
			s3:      &fakeS3{err: errors.New("connection reset")},
			wantErr: "fetching handler source",
		},
		"zero-byte source": {
			s3:      &fakeS3{objects: map[string][]byte{"acme/parser-1.js": {}}},
			wantErr: "is empty",
		},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			f := &SourceFetcher{S3: tc.s3, Config: config.Options{}}
			_, err := f.Fetch(context.Background(), Request{ThirdPartyID: "acme", ParserID: "parser-1"}, t.TempDir())
			if err == nil {
				t.Fatalf("Fetch() error = nil, want containing %q", tc.wantErr)
			}
			if !strings.Contains(err.Error(), tc.wantErr) {
				t.Errorf("Fetch() error = %q, want containing %q", err, tc.wantErr)
			}
		})
	}
}
