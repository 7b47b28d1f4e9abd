package replication

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"path"
	"strings"

	"github.com/Azure/azure-storage-blob-go/azblob"
)

// AzureStore mirrors artifacts to an Azure Blob Storage container.
type AzureStore struct {
	container azblob.ContainerURL
	account   string
	name      string
	prefix    string
}

// NewAzureStore creates an Azure-backed object store authenticated with a
// shared account key.
func NewAzureStore(accountName, accountKey, container, prefix string) (*AzureStore, error) {
	if accountName == "" || accountKey == "" {
		return nil, fmt.Errorf("azure account name and key are required")
	}
	if container == "" {
		return nil, fmt.Errorf("azure container is required")
	}

	credential, err := azblob.NewSharedKeyCredential(accountName, accountKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create Azure credentials: %w", err)
	}
	pipeline := azblob.NewPipeline(credential, azblob.PipelineOptions{})

	serviceURL, err := url.Parse(fmt.Sprintf("https://%s.blob.core.windows.net", accountName))
	if err != nil {
		return nil, fmt.Errorf("failed to parse Azure service URL: %w", err)
	}

	return &AzureStore{
		container: azblob.NewServiceURL(*serviceURL, pipeline).NewContainerURL(container),
		account:   accountName,
		name:      container,
		prefix:    strings.Trim(prefix, "/"),
	}, nil
}

// Name identifies the destination.
func (a *AzureStore) Name() string {
	return fmt.Sprintf("azure://%s/%s", a.account, a.name)
}

func (a *AzureStore) blobName(key string) string {
	if a.prefix == "" {
		return key
	}
	return path.Join(a.prefix, key)
}

// Upload stores the content of r under key.
func (a *AzureStore) Upload(ctx context.Context, key string, r io.Reader, size int64) error {
	blob := a.container.NewBlockBlobURL(a.blobName(key))
	_, err := azblob.UploadStreamToBlockBlob(ctx, r, blob, azblob.UploadStreamToBlockBlobOptions{
		BlobHTTPHeaders: azblob.BlobHTTPHeaders{ContentType: "application/gzip"},
	})
	return err
}

// Exists reports whether a blob with the key is already stored.
func (a *AzureStore) Exists(ctx context.Context, key string) (bool, error) {
	blob := a.container.NewBlockBlobURL(a.blobName(key))
	_, err := blob.GetProperties(ctx, azblob.BlobAccessConditions{}, azblob.ClientProvidedKeyOptions{})
	if err != nil {
		if stgErr, ok := err.(azblob.StorageError); ok && stgErr.ServiceCode() == azblob.ServiceCodeBlobNotFound {
			return false, nil
		}
		return false, err
	}
	return true, nil
}
