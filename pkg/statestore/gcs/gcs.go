// Package gcs implements a Google Cloud Storage state backend.
package gcs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strconv"
	"strings"

	"cloud.google.com/go/storage"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	stackerrors "github.com/stackforge/stackctl/pkg/errors"
	"github.com/stackforge/stackctl/pkg/statestore"
)

func init() {
	statestore.Register("gcs", NewStore)
}

// Store implements the state store interface for Google Cloud Storage.
// Object generations serve as version tokens; conditional writes use
// generation preconditions so compare-and-swap happens server-side.
type Store struct {
	client *storage.Client
	bucket string
	prefix string
}

// NewStore creates a new GCS backend.
func NewStore(cfg map[string]string) (statestore.Store, error) {
	bucketName, ok := cfg["bucket"]
	if !ok || bucketName == "" {
		return nil, fmt.Errorf("gcs backend requires 'bucket' configuration")
	}

	ctx := context.Background()
	var opts []option.ClientOption

	// Support explicit credentials file
	if credentialsFile := cfg["credentials"]; credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}

	// Support credentials JSON
	if credentialsJSON := cfg["credentials_json"]; credentialsJSON != "" {
		opts = append(opts, option.WithCredentialsJSON([]byte(credentialsJSON)))
	}

	// Support custom endpoint (for emulator)
	if endpoint := cfg["endpoint"]; endpoint != "" {
		opts = append(opts, option.WithEndpoint(endpoint))
		opts = append(opts, option.WithoutAuthentication())
	}

	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCS client: %w", err)
	}

	return &Store{
		client: client,
		bucket: bucketName,
		prefix: cfg["prefix"],
	}, nil
}

func (s *Store) Type() string {
	return "gcs"
}

func (s *Store) Get(ctx context.Context, key string) (*statestore.Record, error) {
	objectPath := s.fullPath(key)
	obj := s.client.Bucket(s.bucket).Object(objectPath)

	reader, err := obj.NewReader(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return nil, statestore.ErrNotFound
		}
		return nil, fmt.Errorf("failed to read state from gs://%s/%s: %w", s.bucket, objectPath, err)
	}
	defer reader.Close()

	value, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("failed to read state body: %w", err)
	}

	return &statestore.Record{
		Value:   value,
		Version: strconv.FormatInt(reader.Attrs.Generation, 10),
	}, nil
}

func (s *Store) Put(ctx context.Context, key string, value []byte, expectedVersion string) (string, error) {
	objectPath := s.fullPath(key)
	obj := s.client.Bucket(s.bucket).Object(objectPath)

	switch expectedVersion {
	case statestore.AnyVersion:
	case statestore.NoVersion:
		obj = obj.If(storage.Conditions{DoesNotExist: true})
	default:
		generation, err := strconv.ParseInt(expectedVersion, 10, 64)
		if err != nil {
			return "", fmt.Errorf("invalid gcs version %q: %w", expectedVersion, err)
		}
		obj = obj.If(storage.Conditions{GenerationMatch: generation})
	}

	writer := obj.NewWriter(ctx)
	writer.ContentType = "application/json"

	if _, err := writer.Write(value); err != nil {
		writer.Close()
		return "", fmt.Errorf("failed to write state to gs://%s/%s: %w", s.bucket, objectPath, err)
	}

	if err := writer.Close(); err != nil {
		if isPreconditionFailure(err) {
			return "", stackerrors.VersionConflictError(key, expectedVersion)
		}
		return "", fmt.Errorf("failed to write state to gs://%s/%s: %w", s.bucket, objectPath, err)
	}

	return strconv.FormatInt(writer.Attrs().Generation, 10), nil
}

func (s *Store) Delete(ctx context.Context, key string, expectedVersion string) error {
	objectPath := s.fullPath(key)
	obj := s.client.Bucket(s.bucket).Object(objectPath)

	if expectedVersion != statestore.AnyVersion && expectedVersion != statestore.NoVersion {
		generation, err := strconv.ParseInt(expectedVersion, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid gcs version %q: %w", expectedVersion, err)
		}
		obj = obj.If(storage.Conditions{GenerationMatch: generation})
	}

	if err := obj.Delete(ctx); err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return nil // Idempotent
		}
		if isPreconditionFailure(err) {
			return stackerrors.VersionConflictError(key, expectedVersion)
		}
		return fmt.Errorf("failed to delete state from gs://%s/%s: %w", s.bucket, objectPath, err)
	}

	return nil
}

func (s *Store) List(ctx context.Context, prefix string) ([]string, error) {
	fullPrefix := s.fullPath(prefix)

	var keys []string
	it := s.client.Bucket(s.bucket).Objects(ctx, &storage.Query{Prefix: fullPrefix})
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to list objects: %w", err)
		}
		keys = append(keys, strings.TrimPrefix(attrs.Name, s.prefix+"/"))
	}

	return keys, nil
}

func (s *Store) fullPath(key string) string {
	if s.prefix == "" {
		return key
	}
	return path.Join(s.prefix, key)
}

func isPreconditionFailure(err error) bool {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		return apiErr.Code == 412
	}
	return false
}
