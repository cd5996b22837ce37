package blobstore

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/blob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/bloberror"
	"github.com/phrazzld/imagelab-api/internal/platform/logger"
	"github.com/phrazzld/imagelab-api/internal/store"
)

// AzureStore keeps blobs in one Azure Blob Storage container.
type AzureStore struct {
	client    *azblob.Client
	container string
	logger    *slog.Logger
	now       func() time.Time
}

var _ store.BlobStore = (*AzureStore)(nil)

// NewAzureStore connects with a storage account connection string.
func NewAzureStore(connectionString, container string, log *slog.Logger) (*AzureStore, error) {
	client, err := azblob.NewClientFromConnectionString(connectionString, nil)
	if err != nil {
		return nil, fmt.Errorf("create azure blob client: %w", err)
	}
	if log == nil {
		log = slog.Default()
	}
	return &AzureStore{
		client:    client,
		container: container,
		logger:    log.With(slog.String("component", "azure_blob_store"), slog.String("container", container)),
		now:       time.Now,
	}, nil
}

// Locate returns the azblob:// path an object under key would have.
func (s *AzureStore) Locate(key string) string {
	return fmt.Sprintf("azblob://%s/%s", s.container, key)
}

func uploadOptions(data []byte, ifNoneMatch bool) *azblob.UploadBufferOptions {
	contentType := http.DetectContentType(data)
	opts := &azblob.UploadBufferOptions{
		HTTPHeaders: &blob.HTTPHeaders{BlobContentType: &contentType},
	}
	if ifNoneMatch {
		etag := azcore.ETagAny
		opts.AccessConditions = &blob.AccessConditions{
			ModifiedAccessConditions: &blob.ModifiedAccessConditions{IfNoneMatch: &etag},
		}
	}
	return opts
}

// Save uploads data under a fresh key, refusing to replace an existing blob.
func (s *AzureStore) Save(ctx context.Context, data []byte, suggestedName string) (string, string, error) {
	log := logger.FromContextOrDefault(ctx, s.logger)
	now := s.now()

	for attempt := 0; attempt < maxKeyAttempts; attempt++ {
		key := store.NewBlobKey(now, suggestedName, attempt)

		exists, err := s.Exists(ctx, key)
		if err != nil {
			return "", "", err
		}
		if exists {
			continue
		}

		_, err = s.client.UploadBuffer(ctx, s.container, key, data, uploadOptions(data, true))
		if bloberror.HasCode(err, bloberror.BlobAlreadyExists, bloberror.ConditionNotMet) {
			continue
		}
		if err != nil {
			log.Error("failed to upload blob", slog.String("key", key), slog.String("error", err.Error()))
			return "", "", fmt.Errorf("upload %s: %w", key, err)
		}

		log.Debug("blob saved", slog.String("key", key), slog.Int("size", len(data)))
		return s.Locate(key), key, nil
	}
	return "", "", ErrKeySpaceExhausted
}

// Put uploads data under key, replacing any existing blob.
func (s *AzureStore) Put(ctx context.Context, key string, data []byte) (string, error) {
	if err := store.ValidateKey(key); err != nil {
		return "", err
	}
	if _, err := s.client.UploadBuffer(ctx, s.container, key, data, uploadOptions(data, false)); err != nil {
		return "", fmt.Errorf("upload %s: %w", key, err)
	}
	return s.Locate(key), nil
}

// Exists reports whether a blob is stored under key.
func (s *AzureStore) Exists(ctx context.Context, key string) (bool, error) {
	if err := store.ValidateKey(key); err != nil {
		return false, err
	}
	blobClient := s.client.ServiceClient().NewContainerClient(s.container).NewBlobClient(key)
	_, err := blobClient.GetProperties(ctx, nil)
	if bloberror.HasCode(err, bloberror.BlobNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("get properties of %s: %w", key, err)
	}
	return true, nil
}

// Delete removes the blob stored under key.
func (s *AzureStore) Delete(ctx context.Context, key string) error {
	if err := store.ValidateKey(key); err != nil {
		return err
	}
	_, err := s.client.DeleteBlob(ctx, s.container, key, nil)
	if err != nil && !bloberror.HasCode(err, bloberror.BlobNotFound) {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	return nil
}

// Open streams the blob stored under key.
func (s *AzureStore) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	if err := store.ValidateKey(key); err != nil {
		return nil, err
	}
	resp, err := s.client.DownloadStream(ctx, s.container, key, nil)
	if bloberror.HasCode(err, bloberror.BlobNotFound) {
		return nil, fmt.Errorf("%w: %s", store.ErrBlobNotFound, key)
	}
	if err != nil {
		return nil, fmt.Errorf("download %s: %w", key, err)
	}
	return resp.Body, nil
}
