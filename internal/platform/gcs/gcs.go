package gcs

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"studymate/internal/platform/logger"
)

// ClientOptionsFromEnv reads credentials from GOOGLE_APPLICATION_CREDENTIALS_JSON
// (inline JSON) or GOOGLE_APPLICATION_CREDENTIALS (file path). With neither set the
// client falls back to application default credentials.
func ClientOptionsFromEnv() []option.ClientOption {
	creds := strings.TrimSpace(os.Getenv("GOOGLE_APPLICATION_CREDENTIALS_JSON"))
	if creds == "" {
		creds = strings.TrimSpace(os.Getenv("GOOGLE_APPLICATION_CREDENTIALS"))
	}
	if creds == "" {
		return nil
	}
	if strings.HasPrefix(creds, "{") {
		return []option.ClientOption{option.WithCredentialsJSON([]byte(creds))}
	}
	return []option.ClientOption{option.WithCredentialsFile(creds)}
}

// Bucket is a single GCS bucket addressed by object key.
type Bucket struct {
	log    *logger.Logger
	client *storage.Client
	name   string
}

func New(ctx context.Context, log *logger.Logger, bucketName string) (*Bucket, error) {
	if strings.TrimSpace(bucketName) == "" {
		return nil, fmt.Errorf("gcs bucket name is empty")
	}
	opts := append(ClientOptionsFromEnv(), option.WithScopes(storage.ScopeReadWrite))
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create storage client failed: %w", err)
	}
	return &Bucket{
		log:    log.With("service", "gcs.Bucket", "bucket", bucketName),
		client: client,
		name:   bucketName,
	}, nil
}

func (b *Bucket) Close() error {
	return b.client.Close()
}

// Exists lists by prefix and reports whether an object with exactly this key is present.
func (b *Bucket) Exists(ctx context.Context, key string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	it := b.client.Bucket(b.name).Objects(ctx, &storage.Query{Prefix: key})
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			return false, nil
		}
		if err != nil {
			return false, fmt.Errorf("list objects with prefix %q failed: %w", key, err)
		}
		if attrs.Name == key {
			return true, nil
		}
	}
}

func (b *Bucket) Upload(ctx context.Context, key string, data []byte, contentType string) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()

	w := b.client.Bucket(b.name).Object(key).NewWriter(ctx)
	w.ContentType = contentType
	if _, err := io.Copy(w, bytes.NewReader(data)); err != nil {
		_ = w.Close()
		return fmt.Errorf("write object %q failed: %w", key, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("close object writer %q failed: %w", key, err)
	}
	b.log.Debug("object uploaded", "key", key, "bytes", len(data))
	return nil
}

func (b *Bucket) SignedURL(_ context.Context, key string, ttl time.Duration) (string, error) {
	url, err := b.client.Bucket(b.name).SignedURL(key, &storage.SignedURLOptions{
		Scheme:  storage.SigningSchemeV4,
		Method:  http.MethodGet,
		Expires: time.Now().Add(ttl),
	})
	if err != nil {
		return "", fmt.Errorf("sign url for %q failed: %w", key, err)
	}
	return url, nil
}
