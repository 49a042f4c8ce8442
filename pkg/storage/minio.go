package stores

import (
	"context"
	"io"
	"sync"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

type MinioStore struct {
	bucket string
	cli    *minio.Client

	once      sync.Once
	bucketErr error
}

func NewMinioStore(cfg Config) (*MinioStore, error) {
	cli, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: "us-east-1",
	})
	if err != nil {
		return nil, err
	}
	return &MinioStore{bucket: cfg.Bucket, cli: cli}, nil
}

// ensureBucket 首次写入时建桶，只做一次
func (m *MinioStore) ensureBucket(ctx context.Context) error {
	m.once.Do(func() {
		exists, err := m.cli.BucketExists(ctx, m.bucket)
		if err != nil {
			m.bucketErr = err
			return
		}
		if !exists {
			m.bucketErr = m.cli.MakeBucket(ctx, m.bucket, minio.MakeBucketOptions{})
		}
	})
	return m.bucketErr
}

func (m *MinioStore) Write(ctx context.Context, key string, r io.Reader, size int64, contentType string) error {
	if err := m.ensureBucket(ctx); err != nil {
		return err
	}
	_, err := m.cli.PutObject(ctx, m.bucket, key, r, size, minio.PutObjectOptions{ContentType: contentType})
	return err
}

func (m *MinioStore) Exists(ctx context.Context, key string) (bool, error) {
	_, err := m.cli.StatObject(ctx, m.bucket, key, minio.StatObjectOptions{})
	if err != nil {
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return false, nil
		}
		return false, err
	}
	return true, nil
}
