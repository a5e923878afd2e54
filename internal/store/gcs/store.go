// Package gcs provides an artifact store backed by Google Cloud Storage.
package gcs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	gstorage "cloud.google.com/go/storage"
	"go.uber.org/zap"
	"google.golang.org/api/iterator"

	"github.com/sshtomar/llm-txt/internal/generator"
	"github.com/sshtomar/llm-txt/internal/store"
)

// Config captures the parameters required to connect to the bucket.
type Config struct {
	Bucket string
	Prefix string
}

// Store writes job state under <prefix>/jobs/<job_id>/ in the configured
// bucket. Writes are the source of truth; reads always consult the bucket.
type Store struct {
	client *gstorage.Client
	bucket string
	prefix string
	logger *zap.Logger
}

// New creates a GCS-backed artifact store.
func New(client *gstorage.Client, cfg Config, logger *zap.Logger) (*Store, error) {
	if client == nil {
		return nil, fmt.Errorf("storage client is required")
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("bucket name is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		client: client,
		bucket: cfg.Bucket,
		prefix: cfg.Prefix,
		logger: logger,
	}, nil
}

// PutStatus rewrites status.json for the job.
func (s *Store) PutStatus(ctx context.Context, jobID string, status []byte) error {
	_, err := s.write(ctx, store.ObjectKey(s.prefix, jobID, generator.ArtifactStatusJSON),
		store.ContentTypeFor(generator.ArtifactStatusJSON), status)
	return err
}

// GetStatus reads status.json for the job.
func (s *Store) GetStatus(ctx context.Context, jobID string) ([]byte, error) {
	return s.read(ctx, store.ObjectKey(s.prefix, jobID, generator.ArtifactStatusJSON))
}

// PutArtifact writes an output blob and returns its gs:// URI.
func (s *Store) PutArtifact(ctx context.Context, jobID string, kind generator.ArtifactKind, data []byte) (string, error) {
	return s.write(ctx, store.ObjectKey(s.prefix, jobID, kind), store.ContentTypeFor(kind), data)
}

// GetArtifact reads an output blob.
func (s *Store) GetArtifact(ctx context.Context, jobID string, kind generator.ArtifactKind) ([]byte, error) {
	return s.read(ctx, store.ObjectKey(s.prefix, jobID, kind))
}

func (s *Store) write(ctx context.Context, key, contentType string, data []byte) (string, error) {
	writer := s.client.Bucket(s.bucket).Object(key).NewWriter(ctx)
	writer.ContentType = contentType
	if _, err := writer.Write(data); err != nil {
		if closeErr := writer.Close(); closeErr != nil {
			return "", fmt.Errorf("write object %s: %w (close: %v)", key, err, closeErr)
		}
		return "", fmt.Errorf("write object %s: %w", key, err)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("close writer for %s: %w", key, err)
	}
	return fmt.Sprintf("gs://%s/%s", s.bucket, key), nil
}

func (s *Store) read(ctx context.Context, key string) ([]byte, error) {
	reader, err := s.client.Bucket(s.bucket).Object(key).NewReader(ctx)
	if err != nil {
		if errors.Is(err, gstorage.ErrObjectNotExist) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("open object %s: %w", key, err)
	}
	defer func() {
		if cerr := reader.Close(); cerr != nil {
			s.logger.Debug("close object reader", zap.String("key", key), zap.Error(cerr))
		}
	}()
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("read object %s: %w", key, err)
	}
	return data, nil
}

// SweepExpired deletes job objects older than ttl. It is intended to run
// periodically from the server process; a zero ttl disables the sweep.
func (s *Store) SweepExpired(ctx context.Context, ttl time.Duration, now time.Time) (int, error) {
	if ttl <= 0 {
		return 0, nil
	}
	cutoff := now.Add(-ttl)
	prefix := store.ObjectKey(s.prefix, "", "")

	it := s.client.Bucket(s.bucket).Objects(ctx, &gstorage.Query{Prefix: prefix})
	deleted := 0
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return deleted, fmt.Errorf("list objects: %w", err)
		}
		if attrs.Updated.After(cutoff) {
			continue
		}
		if err := s.client.Bucket(s.bucket).Object(attrs.Name).Delete(ctx); err != nil {
			s.logger.Warn("delete expired object failed",
				zap.String("key", attrs.Name), zap.Error(err))
			continue
		}
		deleted++
	}
	if deleted > 0 {
		s.logger.Info("swept expired job objects", zap.Int("deleted", deleted))
	}
	return deleted, nil
}
