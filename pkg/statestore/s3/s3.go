// Package s3 implements an S3-compatible state backend.
package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	stackerrors "github.com/stackforge/stackctl/pkg/errors"
	"github.com/stackforge/stackctl/pkg/statestore"
)

func init() {
	statestore.Register("s3", NewStore)
}

// Store implements the state store interface for S3-compatible storage.
// Object ETags serve as version tokens; conditional writes use the If-Match
// and If-None-Match preconditions so compare-and-swap happens server-side.
type Store struct {
	client *s3.Client
	bucket string
	prefix string
	region string
}

// NewStore creates a new S3 backend.
func NewStore(cfg map[string]string) (statestore.Store, error) {
	bucket, ok := cfg["bucket"]
	if !ok || bucket == "" {
		return nil, fmt.Errorf("s3 backend requires 'bucket' configuration")
	}

	region := cfg["region"]
	if region == "" {
		region = "us-east-1"
	}

	var opts []func(*config.LoadOptions) error
	opts = append(opts, config.WithRegion(region))

	// Support explicit credentials
	if accessKey := cfg["access_key"]; accessKey != "" {
		secretKey := cfg["secret_key"]
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(accessKey, secretKey, ""),
		))
	}

	awsCfg, err := config.LoadDefaultConfig(context.Background(), opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = cfg["force_path_style"] == "true"
		// Support custom endpoint (for MinIO, R2, etc.)
		if endpoint := cfg["endpoint"]; endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
	})

	return &Store{
		client: client,
		bucket: bucket,
		prefix: cfg["key"],
		region: region,
	}, nil
}

func (s *Store) Type() string {
	return "s3"
}

func (s *Store) Get(ctx context.Context, key string) (*statestore.Record, error) {
	objectKey := s.fullPath(key)

	output, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: &s.bucket,
		Key:    &objectKey,
	})
	if err != nil {
		var nsk *types.NoSuchKey
		if errors.As(err, &nsk) {
			return nil, statestore.ErrNotFound
		}
		return nil, fmt.Errorf("failed to read state from s3://%s/%s: %w", s.bucket, objectKey, err)
	}
	defer output.Body.Close()

	value, err := io.ReadAll(output.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read state body: %w", err)
	}

	return &statestore.Record{Value: value, Version: aws.ToString(output.ETag)}, nil
}

func (s *Store) Put(ctx context.Context, key string, value []byte, expectedVersion string) (string, error) {
	objectKey := s.fullPath(key)

	input := &s3.PutObjectInput{
		Bucket:      &s.bucket,
		Key:         &objectKey,
		Body:        bytes.NewReader(value),
		ContentType: aws.String("application/json"),
	}

	switch expectedVersion {
	case statestore.AnyVersion:
	case statestore.NoVersion:
		input.IfNoneMatch = aws.String("*")
	default:
		input.IfMatch = aws.String(expectedVersion)
	}

	output, err := s.client.PutObject(ctx, input)
	if err != nil {
		if isPreconditionFailure(err) {
			return "", stackerrors.VersionConflictError(key, expectedVersion)
		}
		return "", fmt.Errorf("failed to write state to s3://%s/%s: %w", s.bucket, objectKey, err)
	}

	return aws.ToString(output.ETag), nil
}

func (s *Store) Delete(ctx context.Context, key string, expectedVersion string) error {
	objectKey := s.fullPath(key)

	input := &s3.DeleteObjectInput{
		Bucket: &s.bucket,
		Key:    &objectKey,
	}
	if expectedVersion != statestore.AnyVersion && expectedVersion != statestore.NoVersion {
		input.IfMatch = aws.String(expectedVersion)
	}

	_, err := s.client.DeleteObject(ctx, input)
	if err != nil {
		var nsk *types.NoSuchKey
		if errors.As(err, &nsk) {
			return nil // Idempotent
		}
		if isPreconditionFailure(err) {
			return stackerrors.VersionConflictError(key, expectedVersion)
		}
		return fmt.Errorf("failed to delete state from s3://%s/%s: %w", s.bucket, objectKey, err)
	}

	return nil
}

func (s *Store) List(ctx context.Context, prefix string) ([]string, error) {
	fullPrefix := s.fullPath(prefix)

	var keys []string
	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: &s.bucket,
		Prefix: &fullPrefix,
	})

	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list objects: %w", err)
		}

		for _, obj := range page.Contents {
			relKey := strings.TrimPrefix(aws.ToString(obj.Key), s.prefix+"/")
			keys = append(keys, relKey)
		}
	}

	return keys, nil
}

func (s *Store) fullPath(key string) string {
	if s.prefix == "" {
		return key
	}
	return path.Join(s.prefix, key)
}

// isPreconditionFailure detects a lost conditional write (HTTP 412, or 409
// when S3 aborts one of two concurrent conditional writers).
func isPreconditionFailure(err error) bool {
	var apiErr smithy.APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	switch apiErr.ErrorCode() {
	case "PreconditionFailed", "ConditionalRequestConflict":
		return true
	}
	return false
}
