package share

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"path"
	"time"

	"cloud.google.com/go/storage"
	"go.uber.org/zap"
	"google.golang.org/api/option"
)

// GCSConfig configures the Cloud Storage sink.
type GCSConfig struct {
	Bucket          string
	Prefix          string
	CredentialsFile string
	Expiry          time.Duration
}

// objectStore is the part of Cloud Storage the sink uses.
type objectStore interface {
	upload(ctx context.Context, name string, content []byte) error
	signedURL(name string, expires time.Time) (string, error)
	close() error
}

// GCSSink uploads reports to a bucket and returns V4 signed GET URLs.
type GCSSink struct {
	store  objectStore
	prefix string
	expiry time.Duration
	now    func() time.Time
	logger *zap.Logger
}

var _ Sink = (*GCSSink)(nil)

// NewGCSSink connects to Cloud Storage. Signing needs a service account:
// either the credentials file or the ambient workload identity.
func NewGCSSink(ctx context.Context, cfg GCSConfig, logger *zap.Logger) (*GCSSink, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("share bucket is required")
	}
	if cfg.Expiry <= 0 || cfg.Expiry > MaxExpiry {
		return nil, fmt.Errorf("share expiry must be between 0 and %s, got %s", MaxExpiry, cfg.Expiry)
	}

	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage client: %w", err)
	}

	return newGCSSink(&gcsStore{bucket: client.Bucket(cfg.Bucket), client: client}, cfg, logger), nil
}

func newGCSSink(store objectStore, cfg GCSConfig, logger *zap.Logger) *GCSSink {
	return &GCSSink{
		store:  store,
		prefix: cfg.Prefix,
		expiry: cfg.Expiry,
		now:    time.Now,
		logger: logger.Named("share"),
	}
}

func (s *GCSSink) Publish(ctx context.Context, name string, html []byte) (*Link, error) {
	objectName := path.Join(s.prefix, name)

	if err := s.store.upload(ctx, objectName, html); err != nil {
		return nil, fmt.Errorf("failed to upload report: %w", err)
	}

	expiresAt := s.now().Add(s.expiry).UTC()
	url, err := s.store.signedURL(objectName, expiresAt)
	if err != nil {
		return nil, fmt.Errorf("failed to sign report URL: %w", err)
	}

	s.logger.Info("Report shared",
		zap.String("object", objectName),
		zap.Int("bytes", len(html)),
		zap.Time("expires_at", expiresAt))

	return &Link{URL: url, ObjectName: objectName, ExpiresAt: expiresAt}, nil
}

// Close releases the storage client.
func (s *GCSSink) Close() error {
	return s.store.close()
}

type gcsStore struct {
	bucket *storage.BucketHandle
	client *storage.Client
}

func (g *gcsStore) upload(ctx context.Context, name string, content []byte) error {
	w := g.bucket.Object(name).NewWriter(ctx)
	w.ContentType = "text/html; charset=utf-8"
	w.CacheControl = "private, max-age=0"
	if _, err := w.Write(content); err != nil {
		_ = w.Close()
		return err
	}
	return w.Close()
}

func (g *gcsStore) signedURL(name string, expires time.Time) (string, error) {
	return g.bucket.SignedURL(name, &storage.SignedURLOptions{
		Scheme:  storage.SigningSchemeV4,
		Method:  http.MethodGet,
		Expires: expires,
	})
}

func (g *gcsStore) close() error {
	return g.client.Close()
}
