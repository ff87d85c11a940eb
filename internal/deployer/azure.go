package deployer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/blob"

	"github.com/quillcms/quilld/internal/content"
)

// DefaultAzureConnectionStringEnv names the environment variable holding
// the storage account connection string when the site config does not name
// its own.
const DefaultAzureConnectionStringEnv = "QUILLD_AZURE_CONNECTION_STRING"

// AzureTarget deploys to an Azure Blob container.
type AzureTarget struct {
	client    *azblob.Client
	container string
	prefix    string
}

// NewAzureTarget builds an AzureTarget from the site's deploy config.
func NewAzureTarget(cfg content.AzureDeployConfig) (*AzureTarget, error) {
	if cfg.Container == "" {
		return nil, fmt.Errorf("azure deployment requires a container")
	}
	connEnv := cfg.ConnectionStringEnv
	if connEnv == "" {
		connEnv = DefaultAzureConnectionStringEnv
	}
	conn := os.Getenv(connEnv)
	if conn == "" {
		return nil, fmt.Errorf("azure credentials missing; set %s", connEnv)
	}
	client, err := azblob.NewClientFromConnectionString(conn, nil)
	if err != nil {
		return nil, fmt.Errorf("azure client: %w", err)
	}
	return &AzureTarget{client: client, container: cfg.Container, prefix: cfg.Prefix}, nil
}

func (t *AzureTarget) Fetch(ctx context.Context, key string) ([]byte, bool, error) {
	resp, err := t.client.DownloadStream(ctx, t.container, joinPrefix(t.prefix, key), nil)
	if err != nil {
		if isAzureNotFound(err) {
			return nil, false, nil
		}
		return nil, false, err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, false, err
	}
	return data, true, nil
}

func (t *AzureTarget) Put(ctx context.Context, key string, data []byte) error {
	contentType := contentTypeFor(key)
	_, err := t.client.UploadBuffer(ctx, t.container, joinPrefix(t.prefix, key), data,
		&azblob.UploadBufferOptions{
			HTTPHeaders: &blob.HTTPHeaders{BlobContentType: &contentType},
		})
	return err
}

func (t *AzureTarget) Delete(ctx context.Context, key string) error {
	_, err := t.client.DeleteBlob(ctx, t.container, joinPrefix(t.prefix, key), nil)
	if err != nil && !isAzureNotFound(err) {
		return err
	}
	return nil
}

func (t *AzureTarget) Description() string {
	return "azure:" + t.container
}

func isAzureNotFound(err error) bool {
	var respErr *azcore.ResponseError
	if !errors.As(err, &respErr) {
		return false
	}
	return respErr.StatusCode == http.StatusNotFound
}
