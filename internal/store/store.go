// Package store persists job status and output blobs keyed by job id.
// Backends share one key scheme: jobs/<job_id>/{status.json,llm.txt,llms-full.txt}.
package store

import (
	"errors"
	"path"

	"github.com/sshtomar/llm-txt/internal/generator"
)

// Sentinel errors shared by all backends.
var (
	ErrNotFound = errors.New("object not found")
)

// ObjectKey builds the storage key for one job file.
func ObjectKey(prefix, jobID string, kind generator.ArtifactKind) string {
	return path.Join(prefix, "jobs", jobID, string(kind))
}

// ContentTypeFor returns the MIME type written with each artifact kind.
func ContentTypeFor(kind generator.ArtifactKind) string {
	if kind == generator.ArtifactStatusJSON {
		return "application/json"
	}
	return "text/plain; charset=utf-8"
}
