package objectstore

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/bloberror"

	"github.com/cloudlog-io/archiver/internal/retrychain"
)

// AzureConfig configures the Azure Blob Storage backend. StorageAccountKey
// empty selects azidentity's default credential chain (managed identity,
// workload identity, environment) instead of a shared key.
type AzureConfig struct {
	StorageAccountName string `yaml:"storage_account_name"`
	StorageAccountKey  string `yaml:"storage_account_key,omitempty"`
	ContainerName      string `yaml:"container_name"`
}

// azureStore wraps an azblob.Client scoped to one container.
type azureStore struct {
	cfg    AzureConfig
	client *azblob.Client
}

// NewAzure returns an ObjectStore backed by an Azure Blob Storage
// container. When pool is non-nil, the client issues requests through
// its hedged, breaker-guarded transport: azcore's pipeline applies auth
// as a policy stage ahead of the transport rather than baking it into
// the *http.Client the way the GCS client does, so a custom Transporter
// here doesn't touch credentials.
func NewAzure(cfg AzureConfig, pool *retrychain.Pool) (ObjectStore, error) {
	serviceURL := fmt.Sprintf("https://%s.blob.core.windows.net/", cfg.StorageAccountName)

	var opts *azblob.ClientOptions
	if pool != nil {
		opts = &azblob.ClientOptions{
			ClientOptions: azcore.ClientOptions{
				Transport: pool.HTTPClient(),
			},
		}
	}

	var client *azblob.Client
	var err error
	if cfg.StorageAccountKey != "" {
		var cred *azblob.SharedKeyCredential
		cred, err = azblob.NewSharedKeyCredential(cfg.StorageAccountName, cfg.StorageAccountKey)
		if err == nil {
			client, err = azblob.NewClientWithSharedKeyCredential(serviceURL, cred, opts)
		}
	} else {
		var cred azcore.TokenCredential
		cred, err = azidentity.NewDefaultAzureCredential(nil)
		if err == nil {
			client, err = azblob.NewClient(serviceURL, cred, opts)
		}
	}
	if err != nil {
		return nil, err
	}
	return &azureStore{cfg: cfg, client: client}, nil
}

func (a *azureStore) Put(ctx context.Context, key string, data []byte) error {
	_, err := a.client.UploadBuffer(ctx, a.cfg.ContainerName, key, data, nil)
	return err
}

func (a *azureStore) PutStream(ctx context.Context, key string, r io.Reader, _ int64) error {
	_, err := a.client.UploadStream(ctx, a.cfg.ContainerName, key, r, nil)
	return err
}

func (a *azureStore) Get(ctx context.Context, key string) ([]byte, error) {
	resp, err := a.client.DownloadStream(ctx, a.cfg.ContainerName, key, nil)
	if err != nil {
		return nil, translateAzureErr(err)
	}
	defer resp.Body.Close()
	buf := new(bytes.Buffer)
	if _, err := buf.ReadFrom(resp.Body); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (a *azureStore) GetRange(ctx context.Context, key string, offset, length int64) ([]byte, error) {
	resp, err := a.client.DownloadStream(ctx, a.cfg.ContainerName, key, &azblob.DownloadStreamOptions{
		Range: azblob.HTTPRange{Offset: offset, Count: length},
	})
	if err != nil {
		return nil, translateAzureErr(err)
	}
	defer resp.Body.Close()
	buf := new(bytes.Buffer)
	if _, err := buf.ReadFrom(resp.Body); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (a *azureStore) List(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	pager := a.client.NewListBlobsFlatPager(a.cfg.ContainerName, &azblob.ListBlobsFlatOptions{Prefix: &prefix})
	for pager.More() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return keys, err
		}
		for _, item := range page.Segment.BlobItems {
			keys = append(keys, *item.Name)
		}
	}
	return keys, nil
}

func (a *azureStore) Delete(ctx context.Context, key string) error {
	_, err := a.client.DeleteBlob(ctx, a.cfg.ContainerName, key, nil)
	if bloberror.HasCode(err, bloberror.BlobNotFound) {
		return nil
	}
	return err
}

func translateAzureErr(err error) error {
	if bloberror.HasCode(err, bloberror.BlobNotFound) {
		return ErrNotFound
	}
	return err
}
