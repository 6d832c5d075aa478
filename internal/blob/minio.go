package blob

import (
	"bytes"
	"context"
	"io"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// MinioConfig addresses an S3-compatible bucket.
type MinioConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	Region    string
	UseSSL    bool
}

// MinioStore keeps objects in an S3-compatible bucket.
type MinioStore struct {
	client *minio.Client
	bucket string
}

// NewMinio builds a client. It does not contact the server.
func NewMinio(cfg MinioConfig) (*MinioStore, error) {
	if cfg.Bucket == "" {
		return nil, eris.New("blob: bucket is required")
	}
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, eris.Wrap(err, "blob: minio client")
	}
	return &MinioStore{client: client, bucket: cfg.Bucket}, nil
}

// EnsureBucket creates the bucket when it does not exist yet.
func (s *MinioStore) EnsureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return eris.Wrapf(err, "blob: check bucket %s", s.bucket)
	}
	if exists {
		return nil
	}
	if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{}); err != nil {
		return eris.Wrapf(err, "blob: create bucket %s", s.bucket)
	}
	zap.L().Info("blob: bucket created", zap.String("bucket", s.bucket))
	return nil
}

// Put uploads data under key.
func (s *MinioStore) Put(ctx context.Context, key string, data []byte, contentType string) error {
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	_, err := s.client.PutObject(ctx, s.bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return eris.Wrapf(err, "blob: put %s/%s", s.bucket, key)
	}
	return nil
}

// Get streams the object under key. A missing key surfaces as ErrNotFound.
func (s *MinioStore) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	if _, err := s.client.StatObject(ctx, s.bucket, key, minio.StatObjectOptions{}); err != nil {
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return nil, eris.Wrapf(ErrNotFound, "blob: get %s/%s", s.bucket, key)
		}
		return nil, eris.Wrapf(err, "blob: stat %s/%s", s.bucket, key)
	}
	obj, err := s.client.GetObject(ctx, s.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, eris.Wrapf(err, "blob: get %s/%s", s.bucket, key)
	}
	return obj, nil
}
