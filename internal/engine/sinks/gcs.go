package sinks

import (
	"context"
	"fmt"
	"io"
	"path"
	"strings"

	"cloud.google.com/go/storage"
	"github.com/fsexport/fsexport/internal/engine"
	"google.golang.org/api/option"
)

// GCSWriterFactory opens a writer for one object. The write is committed when
// the writer is closed.
type GCSWriterFactory interface {
	NewWriter(ctx context.Context, bucket, object, contentType string) io.WriteCloser
}

// GCSConfig contains configuration for the Google Cloud Storage sink.
type GCSConfig struct {
	Bucket string
	Prefix string
	// CredentialsFile is a service account key file. Application Default
	// Credentials are used when empty.
	CredentialsFile string
}

// GCSSink uploads exports to a Google Cloud Storage bucket.
type GCSSink struct {
	bucket  string
	prefix  string
	writers GCSWriterFactory
	closer  io.Closer
}

type storageWriters struct {
	client *storage.Client
}

func (s storageWriters) NewWriter(ctx context.Context, bucket, object, contentType string) io.WriteCloser {
	w := s.client.Bucket(bucket).Object(object).NewWriter(ctx)
	w.ContentType = contentType
	return w
}

func NewGCSSink(ctx context.Context, cfg GCSConfig) (engine.Sink, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("gcs bucket is required")
	}

	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}

	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage client: %w", err)
	}

	return &GCSSink{
		bucket:  cfg.Bucket,
		prefix:  strings.Trim(cfg.Prefix, "/"),
		writers: storageWriters{client: client},
		closer:  client,
	}, nil
}

// NewGCSSinkWithWriters creates a GCS sink around an existing writer factory.
func NewGCSSinkWithWriters(bucket, prefix string, writers GCSWriterFactory) engine.Sink {
	return &GCSSink{
		bucket:  bucket,
		prefix:  strings.Trim(prefix, "/"),
		writers: writers,
	}
}

func (s *GCSSink) Name() string {
	if s.prefix != "" {
		return fmt.Sprintf("gcs(%s/%s)", s.bucket, s.prefix)
	}
	return fmt.Sprintf("gcs(%s)", s.bucket)
}

func (s *GCSSink) Kind() string {
	return "gcs"
}

func (s *GCSSink) Write(ctx context.Context, objectPath string, data io.Reader) error {
	object := objectPath
	if s.prefix != "" {
		object = path.Join(s.prefix, objectPath)
	}

	w := s.writers.NewWriter(ctx, s.bucket, object, contentTypeFromPath(objectPath))
	if _, err := io.Copy(w, data); err != nil {
		_ = w.Close()
		return fmt.Errorf("failed to upload to gs://%s/%s: %w", s.bucket, object, err)
	}

	// Close commits the object
	if err := w.Close(); err != nil {
		return fmt.Errorf("failed to finalize gs://%s/%s: %w", s.bucket, object, err)
	}

	return nil
}

func (s *GCSSink) Close(ctx context.Context) error {
	if s.closer == nil {
		return nil
	}
	err := s.closer.Close()
	s.closer = nil
	return err
}
