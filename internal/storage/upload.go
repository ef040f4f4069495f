package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/rs/zerolog/log"
)

var ErrUploadDisabled = errors.New("object storage not configured")

// Uploader publishes a finished artifact and returns its public URL.
type Uploader interface {
	Publish(ctx context.Context, localPath, roomKey string) (string, error)
}

type MinioUploader struct {
	client     *minio.Client
	bucket     string
	publicBase string
}

func NewMinioUploader(endpoint, accessKey, secretKey, bucket, publicBase string, secure bool) (*MinioUploader, error) {
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: secure,
	})
	if err != nil {
		return nil, fmt.Errorf("minio client: %w", err)
	}
	if publicBase == "" {
		scheme := "http"
		if secure {
			scheme = "https"
		}
		publicBase = fmt.Sprintf("%s://%s", scheme, endpoint)
	}
	return &MinioUploader{client: client, bucket: bucket, publicBase: publicBase}, nil
}

// Publish uploads the artifact with a collision-resistant object name,
// retrying transient failures with exponential backoff.
func (u *MinioUploader) Publish(ctx context.Context, localPath, roomKey string) (string, error) {
	objectName := fmt.Sprintf("room_%s_recording_%s.mp3", roomKey, uuid.NewString())

	operation := func() (string, error) {
		_, err := u.client.FPutObject(ctx, u.bucket, objectName, localPath, minio.PutObjectOptions{
			ContentType:  "audio/mpeg",
			CacheControl: "max-age=3600",
		})
		if err != nil {
			log.Warn().Err(err).Str("module", "storage.upload").Str("object", objectName).Msg("upload attempt failed")
			return "", err
		}
		return objectName, nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.MaxInterval = 10 * time.Second

	name, err := backoff.Retry(ctx, operation, backoff.WithBackOff(bo), backoff.WithMaxTries(3))
	if err != nil {
		return "", fmt.Errorf("publish %s: %w", localPath, err)
	}

	url := fmt.Sprintf("%s/%s/%s", u.publicBase, u.bucket, name)
	log.Info().Str("module", "storage.upload").Str("url", url).Msg("artifact published")
	return url, nil
}

// NopUploader fails every publish so callers fall back to serving the local
// artifact.
type NopUploader struct{}

func (NopUploader) Publish(context.Context, string, string) (string, error) {
	return "", ErrUploadDisabled
}
