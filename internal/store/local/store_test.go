package local

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/sshtomar/llm-txt/internal/generator"
	"github.com/sshtomar/llm-txt/internal/store"
)

func TestWriteReadRoundTrip(t *testing.T) {
	t.Parallel()
	s, err := New(Config{BaseDir: t.TempDir()})
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	path, err := s.PutArtifact(ctx, "job-1", generator.ArtifactLLMTxt, []byte("# docs"))
	if err != nil {
		t.Fatal(err)
	}
	if filepath.Base(path) != "llm.txt" {
		t.Errorf("path = %s", path)
	}

	got, err := s.GetArtifact(ctx, "job-1", generator.ArtifactLLMTxt)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "# docs" {
		t.Errorf("content = %q", got)
	}
}

func TestMissingFileIsNotFound(t *testing.T) {
	t.Parallel()
	s, err := New(Config{BaseDir: t.TempDir()})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.GetArtifact(context.Background(), "absent", generator.ArtifactLLMSFull); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestNewCreatesBaseDir(t *testing.T) {
	t.Parallel()
	dir := filepath.Join(t.TempDir(), "nested", "out")
	if _, err := New(Config{BaseDir: dir}); err != nil {
		t.Fatal(err)
	}
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		t.Fatalf("base dir not created: %v", err)
	}
}

func TestNewRejectsEmptyDir(t *testing.T) {
	t.Parallel()
	if _, err := New(Config{}); err == nil {
		t.Fatal("expected error for empty base dir")
	}
}
