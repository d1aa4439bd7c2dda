package artifacts

import (
	"context"
	"fmt"
	"path"
	"path/filepath"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// MirrorConfig configures the S3 compatible bundle mirror.
type MirrorConfig struct {
	Endpoint  string
	Bucket    string
	Region    string
	AccessKey string
	SecretKey string
	UseSSL    bool
	Prefix    string
}

// MinioMirror uploads bundles to an S3 compatible bucket.
type MinioMirror struct {
	client *minio.Client
	bucket string
	prefix string
}

// NewMinioMirror connects to the object store and creates the bucket if needed.
func NewMinioMirror(ctx context.Context, cfg MirrorConfig) (*MinioMirror, error) {
	cli, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create object store client: %w", err)
	}

	exists, err := cli.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("failed to check bucket %s: %w", cfg.Bucket, err)
	}
	if !exists {
		if err := cli.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{Region: cfg.Region}); err != nil {
			return nil, fmt.Errorf("failed to create bucket %s: %w", cfg.Bucket, err)
		}
	}

	return &MinioMirror{client: cli, bucket: cfg.Bucket, prefix: cfg.Prefix}, nil
}

// UploadBundle puts every bundle file under <prefix>/<bundle name>/.
func (m *MinioMirror) UploadBundle(ctx context.Context, b *Bundle) ([]string, error) {
	keys := make([]string, 0, len(BundleFiles))
	for _, file := range BundleFiles {
		key := objectKey(m.prefix, b.Name, file)
		_, err := m.client.FPutObject(ctx, m.bucket, key, b.Path(file), minio.PutObjectOptions{
			ContentType: contentType(file),
		})
		if err != nil {
			return keys, fmt.Errorf("failed to upload %s: %w", key, err)
		}
		keys = append(keys, key)
	}
	return keys, nil
}

func objectKey(prefix, bundle, file string) string {
	return path.Join(prefix, bundle, file)
}

func contentType(file string) string {
	switch filepath.Ext(file) {
	case ".json":
		return "application/json"
	case ".jpg", ".jpeg":
		return "image/jpeg"
	default:
		return "application/octet-stream"
	}
}
