package generator

import (
	"context"
	"time"
)

// Fetcher fetches a URL and returns the body plus metadata.
type Fetcher interface {
	Fetch(ctx context.Context, rawURL string) (FetchResult, error)
}

// Renderer executes a page with JavaScript enabled and returns the DOM
// snapshot. Implementations enforce their own wall-clock budget.
type Renderer interface {
	Render(ctx context.Context, rawURL string) ([]byte, error)
}

// Summarizer condenses a markdown section to approximately TargetKB.
type Summarizer interface {
	Summarize(ctx context.Context, req SummarizeRequest) (SummarizeResult, error)
}

// ArtifactStore persists job status and output blobs keyed by job id.
// Implementations must be safe for concurrent use across jobs; writes for a
// single job id are serialized by the job manager.
type ArtifactStore interface {
	PutStatus(ctx context.Context, jobID string, status []byte) error
	GetStatus(ctx context.Context, jobID string) ([]byte, error)
	PutArtifact(ctx context.Context, jobID string, kind ArtifactKind, data []byte) (string, error)
	GetArtifact(ctx context.Context, jobID string, kind ArtifactKind) ([]byte, error)
}

// Publisher pushes lifecycle events to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, event Event) error
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces job IDs (UUIDs).
type IDGenerator interface {
	NewID() (string, error)
}
