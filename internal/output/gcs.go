package output

import (
	"context"
	"fmt"

	"cloud.google.com/go/storage"
	"go.uber.org/zap"
)

// GCSWriter uploads crawl exports to a Google Cloud Storage bucket.
type GCSWriter struct {
	client *storage.Client
	bucket string
	logger *zap.Logger
}

// NewGCSWriter initializes a GCS client and verifies the bucket exists.
// Authentication is handled through Application Default Credentials.
func NewGCSWriter(ctx context.Context, bucketName string, logger *zap.Logger) (*GCSWriter, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("create GCS client: %w", err)
	}

	bkt := client.Bucket(bucketName)
	if _, err := bkt.Attrs(ctx); err != nil {
		if closeErr := client.Close(); closeErr != nil {
			logger.Warn("failed to close GCS client after bucket check failure", zap.Error(closeErr))
		}
		return nil, fmt.Errorf("get GCS bucket %q attributes: %w", bucketName, err)
	}

	return &GCSWriter{
		client: client,
		bucket: bucketName,
		logger: logger,
	}, nil
}

// Save uploads data to an object in the bucket.
func (g *GCSWriter) Save(ctx context.Context, objectName string, data []byte) (string, error) {
	wc := g.client.Bucket(g.bucket).Object(objectName).NewWriter(ctx)
	if _, err := wc.Write(data); err != nil {
		if closeErr := wc.Close(); closeErr != nil {
			g.logger.Warn("failed to close GCS writer after write failure", zap.Error(closeErr))
		}
		return "", fmt.Errorf("write GCS object %s: %w", objectName, err)
	}
	// Close finalizes the upload and flushes buffered data.
	if err := wc.Close(); err != nil {
		return "", fmt.Errorf("close GCS writer for object %s: %w", objectName, err)
	}
	return fmt.Sprintf("gs://%s/%s", g.bucket, objectName), nil
}

// Close releases the underlying client.
func (g *GCSWriter) Close() error {
	return g.client.Close()
}
