package framestore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
)

// EnvAzureConnectionString names the variable holding the storage account
// connection string.
const EnvAzureConnectionString = "AZURE_STORAGE_CONNECTION_STRING"

// AzureStore uploads frames as block blobs into one container.
type AzureStore struct {
	client    *azblob.Client
	container string
	prefix    string
}

func NewAzureStore(container, prefix string) (*AzureStore, error) {
	conn := os.Getenv(EnvAzureConnectionString)
	if conn == "" {
		return nil, errors.New(EnvAzureConnectionString + " is not set")
	}
	client, err := azblob.NewClientFromConnectionString(conn, nil)
	if err != nil {
		return nil, fmt.Errorf("create azure blob client: %w", err)
	}
	return &AzureStore{client: client, container: container, prefix: prefix}, nil
}

func (s *AzureStore) Put(ctx context.Context, key string, r io.Reader, _ string) error {
	name, err := objectKey(s.prefix, key)
	if err != nil {
		return err
	}
	if _, err := s.client.UploadStream(ctx, s.container, name, r, nil); err != nil {
		return fmt.Errorf("upload azblob://%s/%s: %w", s.container, name, err)
	}
	return nil
}

func (s *AzureStore) Close() error {
	return nil
}
