package receipt

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"time"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// MinioConfig holds the connection settings for the MinIO gateway.
type MinioConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool

	// URLExpiry bounds the lifetime of issued upload and download URLs.
	URLExpiry time.Duration
}

// MinioGateway implements the Gateway interface against a MinIO or
// S3-compatible object store using presigned URLs.
type MinioGateway struct {
	client    *minio.Client
	bucket    string
	urlExpiry time.Duration
}

// NewMinioGateway connects to the object store and ensures the bucket
// exists.
func NewMinioGateway(ctx context.Context, cfg MinioConfig) (*MinioGateway, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("creating minio client: %w", err)
	}

	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("checking bucket: %w", err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("creating bucket: %w", err)
		}
	}

	expiry := cfg.URLExpiry
	if expiry == 0 {
		expiry = 15 * time.Minute
	}

	return &MinioGateway{
		client:    client,
		bucket:    cfg.Bucket,
		urlExpiry: expiry,
	}, nil
}

// GenerateUploadURL issues a presigned PUT target for a fresh blob
// identifier.
func (g *MinioGateway) GenerateUploadURL(ctx context.Context) (*UploadTarget, error) {
	fileID := uuid.NewString()

	u, err := g.client.PresignedPutObject(ctx, g.bucket, fileID, g.urlExpiry)
	if err != nil {
		return nil, fmt.Errorf("presigning upload url: %w", err)
	}

	return &UploadTarget{
		URL:    u.String(),
		FileID: fileID,
	}, nil
}

// DownloadURL resolves a presigned GET URL for a stored blob.
func (g *MinioGateway) DownloadURL(ctx context.Context, fileID string) (string, error) {
	u, err := g.client.PresignedGetObject(ctx, g.bucket, fileID, g.urlExpiry, url.Values{})
	if err != nil {
		return "", fmt.Errorf("presigning download url: %w", err)
	}
	return u.String(), nil
}

// Get retrieves a blob's bytes and content type.
func (g *MinioGateway) Get(ctx context.Context, fileID string) ([]byte, string, error) {
	obj, err := g.client.GetObject(ctx, g.bucket, fileID, minio.GetObjectOptions{})
	if err != nil {
		return nil, "", fmt.Errorf("getting object: %w", err)
	}
	defer obj.Close()

	stat, err := obj.Stat()
	if err != nil {
		return nil, "", fmt.Errorf("statting object: %w", err)
	}

	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, "", fmt.Errorf("reading object: %w", err)
	}

	return data, stat.ContentType, nil
}

// Delete removes a blob.
func (g *MinioGateway) Delete(ctx context.Context, fileID string) error {
	if err := g.client.RemoveObject(ctx, g.bucket, fileID, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("removing object: %w", err)
	}
	return nil
}
