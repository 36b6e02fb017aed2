// Package storage abstracts where uploaded dataset files live.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"

	"github.com/astronomiahub/hub/internal/config"
)

// ErrObjectNotFound is returned when a key has no stored object.
var ErrObjectNotFound = errors.New("object not found")

// ErrInvalidKey is returned for keys that escape the storage root.
var ErrInvalidKey = errors.New("invalid object key")

// Provider defines the behavior for any storage backend.
type Provider interface {
	List(ctx context.Context, prefix string) ([]string, error)
	Get(ctx context.Context, key string) (*Object, error)
	Put(ctx context.Context, key string, body io.ReadSeeker, contentType string) error
	Delete(ctx context.Context, key string) error
	DeletePrefix(ctx context.Context, prefix string) error
	Exists(ctx context.Context, key string) (bool, error)
}

// Object is the provider-agnostic representation of a stored file.
type Object struct {
	Body          io.ReadCloser
	ContentLength int64
	ContentType   string
	LastModified  time.Time
}

// New builds the provider selected by cfg.StorageProvider.
func New(cfg *config.Config) (Provider, error) {
	switch cfg.StorageProvider {
	case "", "local":
		return NewLocalProvider(cfg.WorkingDir)
	case "s3":
		if cfg.S3Bucket == "" {
			return nil, errors.New("S3_BUCKET is required for the s3 storage provider")
		}
		awsCfg := &aws.Config{
			Region:           aws.String(cfg.S3Region),
			S3ForcePathStyle: aws.Bool(true),
		}
		if cfg.S3AccessKeyID != "" {
			awsCfg.Credentials = credentials.NewStaticCredentials(cfg.S3AccessKeyID, cfg.S3SecretAccessKey, "")
		}
		if cfg.S3Endpoint != "" {
			awsCfg.Endpoint = aws.String(cfg.S3Endpoint)
		}
		sess, err := session.NewSession(awsCfg)
		if err != nil {
			return nil, fmt.Errorf("creating aws session: %w", err)
		}
		return NewS3Provider(sess, cfg.S3Bucket), nil
	default:
		return nil, fmt.Errorf("unknown storage provider %q", cfg.StorageProvider)
	}
}

// UploadKey is the object key of a hubfile.
func UploadKey(userID, datasetID int64, name string) string {
	return fmt.Sprintf("%s/%s", DatasetPrefix(userID, datasetID), name)
}

// DatasetPrefix is the key prefix shared by every file of a dataset.
func DatasetPrefix(userID, datasetID int64) string {
	return fmt.Sprintf("uploads/user_%d/dataset_%d", userID, datasetID)
}

func cleanKey(key string) (string, error) {
	if key == "" || strings.ContainsRune(key, '\\') {
		return "", fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	cleaned := path.Clean("/" + key)[1:]
	if cleaned == "" || cleaned != strings.TrimPrefix(key, "/") {
		return "", fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	return cleaned, nil
}
