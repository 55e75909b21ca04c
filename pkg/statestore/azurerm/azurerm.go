// Package azurerm implements an Azure Blob Storage state backend.
package azurerm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/blob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/bloberror"

	stackerrors "github.com/stackforge/stackctl/pkg/errors"
	"github.com/stackforge/stackctl/pkg/statestore"
)

func init() {
	statestore.Register("azurerm", NewStore)
}

// Store implements the state store interface for Azure Blob Storage.
// Blob ETags serve as version tokens; conditional writes use If-Match and
// If-None-Match access conditions so compare-and-swap happens server-side.
type Store struct {
	client        *azblob.Client
	containerName string
	prefix        string
}

// NewStore creates a new Azure Blob Storage backend.
func NewStore(cfg map[string]string) (statestore.Store, error) {
	storageAccount, ok := cfg["storage_account_name"]
	if !ok || storageAccount == "" {
		return nil, fmt.Errorf("azurerm backend requires 'storage_account_name' configuration")
	}

	containerName, ok := cfg["container_name"]
	if !ok || containerName == "" {
		return nil, fmt.Errorf("azurerm backend requires 'container_name' configuration")
	}

	var client *azblob.Client
	var err error

	serviceURL := fmt.Sprintf("https://%s.blob.core.windows.net/", storageAccount)

	// Support custom endpoint (for Azurite emulator)
	if endpoint := cfg["endpoint"]; endpoint != "" {
		serviceURL = endpoint
	}

	if accessKey := cfg["access_key"]; accessKey != "" {
		cred, err := azblob.NewSharedKeyCredential(storageAccount, accessKey)
		if err != nil {
			return nil, fmt.Errorf("failed to create shared key credential: %w", err)
		}
		client, err = azblob.NewClientWithSharedKeyCredential(serviceURL, cred, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to create Azure client with shared key: %w", err)
		}
	} else if sasToken := cfg["sas_token"]; sasToken != "" {
		serviceURLWithSAS := serviceURL + "?" + strings.TrimPrefix(sasToken, "?")
		client, err = azblob.NewClientWithNoCredential(serviceURLWithSAS, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to create Azure client with SAS token: %w", err)
		}
	} else if connectionString := cfg["connection_string"]; connectionString != "" {
		client, err = azblob.NewClientFromConnectionString(connectionString, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to create Azure client from connection string: %w", err)
		}
	} else {
		cred, err := azidentity.NewDefaultAzureCredential(nil)
		if err != nil {
			return nil, fmt.Errorf("failed to create default Azure credential: %w", err)
		}
		client, err = azblob.NewClient(serviceURL, cred, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to create Azure client: %w", err)
		}
	}

	return &Store{
		client:        client,
		containerName: containerName,
		prefix:        cfg["prefix"],
	}, nil
}

func (s *Store) Type() string {
	return "azurerm"
}

func (s *Store) Get(ctx context.Context, key string) (*statestore.Record, error) {
	blobName := s.fullPath(key)

	resp, err := s.client.DownloadStream(ctx, s.containerName, blobName, nil)
	if err != nil {
		if bloberror.HasCode(err, bloberror.BlobNotFound) {
			return nil, statestore.ErrNotFound
		}
		return nil, fmt.Errorf("failed to read state from %s/%s: %w", s.containerName, blobName, err)
	}
	defer resp.Body.Close()

	value, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read state body: %w", err)
	}

	version := ""
	if resp.ETag != nil {
		version = string(*resp.ETag)
	}

	return &statestore.Record{Value: value, Version: version}, nil
}

func (s *Store) Put(ctx context.Context, key string, value []byte, expectedVersion string) (string, error) {
	blobName := s.fullPath(key)

	opts := &azblob.UploadBufferOptions{}
	switch expectedVersion {
	case statestore.AnyVersion:
	case statestore.NoVersion:
		noneMatch := azcore.ETag("*")
		opts.AccessConditions = &blob.AccessConditions{
			ModifiedAccessConditions: &blob.ModifiedAccessConditions{IfNoneMatch: &noneMatch},
		}
	default:
		match := azcore.ETag(expectedVersion)
		opts.AccessConditions = &blob.AccessConditions{
			ModifiedAccessConditions: &blob.ModifiedAccessConditions{IfMatch: &match},
		}
	}

	resp, err := s.client.UploadBuffer(ctx, s.containerName, blobName, value, opts)
	if err != nil {
		if isPreconditionFailure(err) {
			return "", stackerrors.VersionConflictError(key, expectedVersion)
		}
		return "", fmt.Errorf("failed to write state to %s/%s: %w", s.containerName, blobName, err)
	}

	version := ""
	if resp.ETag != nil {
		version = string(*resp.ETag)
	}
	return version, nil
}

func (s *Store) Delete(ctx context.Context, key string, expectedVersion string) error {
	blobName := s.fullPath(key)

	opts := &azblob.DeleteBlobOptions{}
	if expectedVersion != statestore.AnyVersion && expectedVersion != statestore.NoVersion {
		match := azcore.ETag(expectedVersion)
		opts.AccessConditions = &blob.AccessConditions{
			ModifiedAccessConditions: &blob.ModifiedAccessConditions{IfMatch: &match},
		}
	}

	_, err := s.client.DeleteBlob(ctx, s.containerName, blobName, opts)
	if err != nil {
		if bloberror.HasCode(err, bloberror.BlobNotFound) {
			return nil // Idempotent
		}
		if isPreconditionFailure(err) {
			return stackerrors.VersionConflictError(key, expectedVersion)
		}
		return fmt.Errorf("failed to delete state from %s/%s: %w", s.containerName, blobName, err)
	}

	return nil
}

func (s *Store) List(ctx context.Context, prefix string) ([]string, error) {
	fullPrefix := s.fullPath(prefix)

	var keys []string
	pager := s.client.NewListBlobsFlatPager(s.containerName, &azblob.ListBlobsFlatOptions{
		Prefix: &fullPrefix,
	})

	for pager.More() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list blobs: %w", err)
		}
		for _, item := range page.Segment.BlobItems {
			if item.Name != nil {
				keys = append(keys, strings.TrimPrefix(*item.Name, s.prefix+"/"))
			}
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

func isPreconditionFailure(err error) bool {
	var respErr *azcore.ResponseError
	if errors.As(err, &respErr) {
		return respErr.StatusCode == 412 || respErr.StatusCode == 409
	}
	return false
}
