// Package objectstore はS3互換オブジェクトストアへの録画保存を担当します
// MinIOクライアントを使用するため、任意のS3互換ストレージで動作します
package objectstore

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/SchoolLive/SchoolLive_Meet/backend/meet-core/internal/config"
)

type Store struct {
	client    *minio.Client
	bucket    string
	publicURL string
}

func New(cfg config.ObjectStore) (*Store, error) {
	if !cfg.Enabled() {
		return nil, fmt.Errorf("object store configuration not enabled")
	}

	creds := credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, "")
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  creds,
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("create object store client: %w", err)
	}

	return &Store{client: client, bucket: cfg.Bucket, publicURL: cfg.PublicURL}, nil
}

// Put はオブジェクトを保存し、公開設定がある場合は直接アクセスURLを返します
func (s *Store) Put(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	_, err := s.client.PutObject(ctx, s.bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return "", fmt.Errorf("put object %s: %w", key, err)
	}
	if s.publicURL == "" {
		return "", nil
	}
	return fmt.Sprintf("%s/%s/%s", s.publicURL, s.bucket, key), nil
}

// PresignGet は短命の署名付きダウンロードURLを発行します
// 再生のたびに発行し直す前提で、長期保存はしないでください
func (s *Store) PresignGet(ctx context.Context, key string, ttl time.Duration) (string, error) {
	u, err := s.client.PresignedGetObject(ctx, s.bucket, key, ttl, url.Values{})
	if err != nil {
		return "", fmt.Errorf("presign object %s: %w", key, err)
	}
	return u.String(), nil
}
