package storage

import (
	"context"
	"fmt"
	"path"
	"path/filepath"
	"strings"
	"time"

	"PaceShift/config"
	"PaceShift/logger"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// Archiver 把完成的输出文件归档到对象存储
type Archiver interface {
	Archive(ctx context.Context, jobID, localPath string) (string, error)
}

// MinioArchiver implements Archiver on a MinIO bucket.
type MinioArchiver struct {
	client *minio.Client
	bucket string
}

// NewMinioArchiver 连接 MinIO 并确保存储桶存在。Endpoint 为空时返回 nil, nil
func NewMinioArchiver(ctx context.Context, cfg *config.Config) (*MinioArchiver, error) {
	if cfg.MinioEndpoint == "" {
		return nil, nil
	}

	logger.Info("正在连接 MinIO 服务器...",
		logger.String("endpoint", cfg.MinioEndpoint),
		logger.String("bucket", cfg.MinioBucket))

	client, err := minio.New(cfg.MinioEndpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.MinioAccessKey, cfg.MinioSecretKey, ""),
		Secure: cfg.MinioUseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	exists, err := client.BucketExists(ctx, cfg.MinioBucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket %s: %w", cfg.MinioBucket, err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.MinioBucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("create bucket %s: %w", cfg.MinioBucket, err)
		}
		logger.Info("成功创建存储桶", logger.String("bucket", cfg.MinioBucket))
	}

	return &MinioArchiver{client: client, bucket: cfg.MinioBucket}, nil
}

// Archive uploads localPath and returns the object key it was stored under.
func (a *MinioArchiver) Archive(ctx context.Context, jobID, localPath string) (string, error) {
	key := ObjectKey(jobID, localPath)
	_, err := a.client.FPutObject(ctx, a.bucket, key, localPath, minio.PutObjectOptions{
		ContentType: ContentType(localPath),
	})
	if err != nil {
		return "", fmt.Errorf("upload %s to bucket %s: %w", key, a.bucket, err)
	}
	return key, nil
}

// ObjectKey 归档对象路径: outputs/<jobId>/<filename>
func ObjectKey(jobID, localPath string) string {
	return path.Join("outputs", jobID, filepath.Base(localPath))
}

// ContentType guesses an audio MIME type from the file extension.
func ContentType(name string) string {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".mp3":
		return "audio/mpeg"
	case ".m4a", ".mp4", ".aac":
		return "audio/mp4"
	case ".wav":
		return "audio/wav"
	case ".flac":
		return "audio/flac"
	case ".ogg", ".oga", ".opus":
		return "audio/ogg"
	default:
		return "application/octet-stream"
	}
}
