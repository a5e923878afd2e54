// Package local implements a filesystem artifact store for single-machine
// deployments (storage backend "local" of the serve command).
package local

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/sshtomar/llm-txt/internal/generator"
	"github.com/sshtomar/llm-txt/internal/store"
)

// Config captures the parameters for the filesystem store.
type Config struct {
	// BaseDir is the root directory where job files are stored.
	BaseDir string `mapstructure:"base_dir"`
}

// Store writes job state under <base>/jobs/<job_id>/.
type Store struct {
	baseDir string
}

// New creates a filesystem-backed store, verifying the directory is usable.
func New(cfg Config) (*Store, error) {
	if strings.TrimSpace(cfg.BaseDir) == "" {
		return nil, fmt.Errorf("base directory is required")
	}
	info, err := os.Stat(cfg.BaseDir)
	switch {
	case err == nil:
		if !info.IsDir() {
			return nil, fmt.Errorf("base directory path is not a directory")
		}
	case os.IsNotExist(err):
		if mkErr := os.MkdirAll(cfg.BaseDir, 0o750); mkErr != nil {
			return nil, fmt.Errorf("create base directory: %w", mkErr)
		}
	default:
		return nil, fmt.Errorf("stat base directory: %w", err)
	}
	return &Store{baseDir: cfg.BaseDir}, nil
}

// PutStatus writes status.json for the job.
func (s *Store) PutStatus(_ context.Context, jobID string, status []byte) error {
	_, err := s.write(jobID, generator.ArtifactStatusJSON, status)
	return err
}

// GetStatus reads status.json for the job.
func (s *Store) GetStatus(_ context.Context, jobID string) ([]byte, error) {
	return s.read(jobID, generator.ArtifactStatusJSON)
}

// PutArtifact writes an output blob and returns its file path.
func (s *Store) PutArtifact(_ context.Context, jobID string, kind generator.ArtifactKind, data []byte) (string, error) {
	return s.write(jobID, kind, data)
}

// GetArtifact reads an output blob.
func (s *Store) GetArtifact(_ context.Context, jobID string, kind generator.ArtifactKind) ([]byte, error) {
	return s.read(jobID, kind)
}

func (s *Store) write(jobID string, kind generator.ArtifactKind, data []byte) (string, error) {
	full := filepath.Join(s.baseDir, filepath.FromSlash(store.ObjectKey("", jobID, kind)))
	if err := os.MkdirAll(filepath.Dir(full), 0o750); err != nil {
		return "", fmt.Errorf("create job directory: %w", err)
	}
	if err := os.WriteFile(full, data, 0o640); err != nil {
		return "", fmt.Errorf("write %s: %w", full, err)
	}
	return full, nil
}

func (s *Store) read(jobID string, kind generator.ArtifactKind) ([]byte, error) {
	full := filepath.Join(s.baseDir, filepath.FromSlash(store.ObjectKey("", jobID, kind)))
	data, err := os.ReadFile(full)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("read %s: %w", full, err)
	}
	return data, nil
}
