package attachments

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	minio "github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// MinioPresigner signs uploads against an S3-compatible bucket.
type MinioPresigner struct {
	client *minio.Client
	bucket string
}

// MinioPresignerConfig carries the object storage connection settings.
type MinioPresignerConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

// NewMinioPresigner constructs a presigner for the configured bucket. The
// constructor does not dial the endpoint; signing is a local operation.
func NewMinioPresigner(cfg MinioPresignerConfig) (*MinioPresigner, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("attachments.presigner.new.client_failed: %w", err)
	}
	return &MinioPresigner{client: client, bucket: cfg.Bucket}, nil
}

// PresignPut signs a PUT for the given key. The content type is bound into
// the signature so the upload cannot smuggle a different media type.
func (p *MinioPresigner) PresignPut(ctx context.Context, key, contentType string, expiry time.Duration) (string, error) {
	header := http.Header{}
	header.Set("Content-Type", contentType)

	signed, err := p.client.PresignHeader(ctx, http.MethodPut, p.bucket, key, expiry, url.Values{}, header)
	if err != nil {
		return "", err
	}
	return signed.String(), nil
}
