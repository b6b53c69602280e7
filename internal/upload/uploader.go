package upload

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/url"
	"time"

	"github.com/minio/minio-go/v7"
)

// Uploader stores a named byte buffer and returns a stable hosted reference.
type Uploader interface {
	Upload(ctx context.Context, name string, data []byte) (string, error)
}

// Client is the subset of the minio API the uploader needs.
type Client interface {
	PutObject(
		ctx context.Context,
		bucketName string,
		objectName string,
		reader io.Reader,
		objectSize int64,
		opts minio.PutObjectOptions,
	) (info minio.UploadInfo, err error)
	PresignedGetObject(
		ctx context.Context,
		bucketName string,
		objectName string,
		expires time.Duration,
		reqParams url.Values,
	) (u *url.URL, err error)
}

// MinioUploader stores artifacts in a minio bucket.
type MinioUploader struct {
	mc      Client
	bucket  string
	expires time.Duration
}

// NewMinioUploader constructs a MinioUploader.
func NewMinioUploader(mc Client, bucket string, expires time.Duration) *MinioUploader {
	return &MinioUploader{
		mc:      mc,
		bucket:  bucket,
		expires: expires,
	}
}

// Upload writes the buffer to the bucket and returns a presigned URL for it.
func (u *MinioUploader) Upload(ctx context.Context, name string, data []byte) (string, error) {
	const op = "upload.minio.Upload"

	_, err := u.mc.PutObject(
		ctx,
		u.bucket,
		name,
		bytes.NewReader(data),
		int64(len(data)),
		minio.PutObjectOptions{ContentType: "application/octet-stream"},
	)
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}

	hosted, err := u.mc.PresignedGetObject(ctx, u.bucket, name, u.expires, nil)
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}

	return hosted.String(), nil
}
