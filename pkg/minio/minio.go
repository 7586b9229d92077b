package minio

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"time"

	"flowmarket/pkg/config"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("minio",
	fx.Provide(
		registerClient,
		NewStorage,
	),
)

// Storage is the object store used for uploaded workflow files.
type Storage interface {
	Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error
	Remove(ctx context.Context, key string) error
	PresignedGet(ctx context.Context, key, downloadName string, expiry time.Duration) (string, error)
}

func registerClient(c *config.Config) (*minio.Client, error) {
	client, err := minio.New(c.Minio.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(c.Minio.AccessKey, c.Minio.SecretKey, ""),
		Secure: c.Minio.Secure,
	})
	if err != nil {
		zap.L().Error("failed to create MinIO client", zap.Error(err))
		return nil, err
	}
	return client, nil
}

type bucketStorage struct {
	client *minio.Client
	bucket string
}

type storageParams struct {
	fx.In
	Lifecycle fx.Lifecycle
	Config    *config.Config
	Client    *minio.Client
}

func NewStorage(p storageParams) Storage {
	s := &bucketStorage{client: p.Client, bucket: p.Config.Minio.BucketName}

	p.Lifecycle.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			return s.ensureBucket(ctx)
		},
	})

	return s
}

func (s *bucketStorage) ensureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		zap.L().Error("failed to check if bucket exists", zap.String("bucket", s.bucket), zap.Error(err))
		return err
	}
	if !exists {
		if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{}); err != nil {
			return fmt.Errorf("create bucket %s: %w", s.bucket, err)
		}
	}
	zap.L().Info("MinIO storage ready", zap.String("endpoint", s.client.EndpointURL().Host), zap.String("bucket", s.bucket))
	return nil
}

func (s *bucketStorage) Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error {
	_, err := s.client.PutObject(ctx, s.bucket, key, r, size, minio.PutObjectOptions{ContentType: contentType})
	return err
}

func (s *bucketStorage) Remove(ctx context.Context, key string) error {
	return s.client.RemoveObject(ctx, s.bucket, key, minio.RemoveObjectOptions{})
}

func (s *bucketStorage) PresignedGet(ctx context.Context, key, downloadName string, expiry time.Duration) (string, error) {
	params := url.Values{}
	if downloadName != "" {
		params.Set("response-content-disposition", fmt.Sprintf("attachment; filename=%q", downloadName))
	}
	u, err := s.client.PresignedGetObject(ctx, s.bucket, key, expiry, params)
	if err != nil {
		return "", err
	}
	return u.String(), nil
}
