// Package generator defines core types shared across subsystems.
package generator

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

// JobState represents the lifecycle state of a generation job.
type JobState string

// Job states persisted in the artifact store.
const (
	JobStatePending   JobState = "pending"
	JobStateRunning   JobState = "running"
	JobStateCompleted JobState = "completed"
	JobStateFailed    JobState = "failed"
	JobStateCancelled JobState = "cancelled"
)

// Terminal reports whether the state is absorbing.
func (s JobState) Terminal() bool {
	switch s {
	case JobStateCompleted, JobStateFailed, JobStateCancelled:
		return true
	default:
		return false
	}
}

// Phase tags the pipeline stage a running job is in.
type Phase string

// Pipeline phases in execution order.
const (
	PhaseInitializing Phase = "initializing"
	PhaseCrawling     Phase = "crawling"
	PhaseExtracting   Phase = "extracting"
	PhaseComposing    Phase = "composing"
)

// ExtractionStatus records the outcome of fetching and extracting one page.
type ExtractionStatus string

// Per-page outcomes surfaced in processing logs.
const (
	ExtractOK            ExtractionStatus = "ok"
	ExtractEmpty         ExtractionStatus = "empty"
	ExtractRendered      ExtractionStatus = "rendered_fallback"
	ExtractSkippedRobots ExtractionStatus = "skipped_by_robots"
	ExtractFetchError    ExtractionStatus = "fetch_error"
)

// ArtifactKind names a finished output file.
type ArtifactKind string

// Supported artifact kinds.
const (
	ArtifactLLMTxt     ArtifactKind = "llm.txt"
	ArtifactLLMSFull   ArtifactKind = "llms-full.txt"
	ArtifactStatusJSON ArtifactKind = "status.json"
)

// ParseArtifactKind validates a download file name from the API surface.
func ParseArtifactKind(name string) (ArtifactKind, error) {
	switch name {
	case string(ArtifactLLMTxt):
		return ArtifactLLMTxt, nil
	case string(ArtifactLLMSFull):
		return ArtifactLLMSFull, nil
	default:
		return "", fmt.Errorf("invalid artifact kind %q", name)
	}
}

// Limits on request knobs enforced at job creation.
const (
	MinPages = 1
	MaxPages = 1000
	MinDepth = 1
	MaxDepth = 10

	DefaultMaxPages = 100
	DefaultMaxDepth = 3
	DefaultMaxKB    = 500
)

// JobRequest captures per-job configuration knobs requested by the client.
type JobRequest struct {
	URL           string  `json:"url" mapstructure:"url"`
	MaxPages      int     `json:"max_pages" mapstructure:"max_pages"`
	MaxDepth      int     `json:"max_depth" mapstructure:"max_depth"`
	MaxKB         int     `json:"max_kb" mapstructure:"max_kb"`
	FullVersion   bool    `json:"full_version" mapstructure:"full_version"`
	RespectRobots bool    `json:"respect_robots" mapstructure:"respect_robots"`
	Language      string  `json:"language,omitempty" mapstructure:"language"`
	UserAgent     string  `json:"user_agent,omitempty" mapstructure:"user_agent"`
	RequestDelay  float64 `json:"request_delay,omitempty" mapstructure:"request_delay"`
}

// Validate enforces the request invariants before a job is admitted.
func (r JobRequest) Validate() error {
	parsed, err := url.Parse(r.URL)
	if err != nil {
		return fmt.Errorf("invalid url: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("url scheme must be http or https, got %q", parsed.Scheme)
	}
	if parsed.Host == "" {
		return errors.New("url host is required")
	}
	if r.MaxPages < MinPages || r.MaxPages > MaxPages {
		return fmt.Errorf("max_pages must be between %d and %d", MinPages, MaxPages)
	}
	if r.MaxDepth < MinDepth || r.MaxDepth > MaxDepth {
		return fmt.Errorf("max_depth must be between %d and %d", MinDepth, MaxDepth)
	}
	if r.MaxKB <= 0 {
		return errors.New("max_kb must be > 0")
	}
	if r.RequestDelay < 0 {
		return errors.New("request_delay must be >= 0")
	}
	return nil
}

// Progress is the observable state of a running job. Fraction is clamped to
// be monotonically non-decreasing by the job manager.
type Progress struct {
	Fraction        float64 `json:"progress"`
	Phase           Phase   `json:"current_phase"`
	CurrentPageURL  string  `json:"current_page_url,omitempty"`
	PagesDiscovered int     `json:"pages_discovered"`
	PagesProcessed  int     `json:"pages_processed"`
	PagesCrawled    int     `json:"pages_crawled"`
	Message         string  `json:"message"`
}

// Job is the unit of work tracked by the job manager.
type Job struct {
	ID             string     `json:"job_id"`
	Request        JobRequest `json:"request"`
	State          JobState   `json:"status"`
	Progress       Progress   `json:"progress"`
	ProcessingLogs []string   `json:"processing_logs"`
	CreatedAt      float64    `json:"created_at"`
	CompletedAt    *float64   `json:"completed_at,omitempty"`
	LLMTxtURL      string     `json:"llm_txt_url,omitempty"`
	LLMSFullTxtURL string     `json:"llms_full_txt_url,omitempty"`
	TotalSizeKB    float64    `json:"total_size_kb,omitempty"`
	ErrorCode      string     `json:"error_code,omitempty"`
}

// CodeBlock is a fenced code region preserved through extraction.
type CodeBlock struct {
	Language string `json:"language,omitempty"`
	Code     string `json:"code"`
}

// Heading is one entry of a page's outline.
type Heading struct {
	Level int    `json:"level"`
	Text  string `json:"text"`
}

// Page is the intermediate record produced during crawl and extraction.
type Page struct {
	URL         string
	Depth       int
	Body        []byte
	ContentType string
	Title       string
	Markdown    string
	CodeBlocks  []CodeBlock
	Headings    []Heading
	Links       []string
	Status      ExtractionStatus
	Score       float64
	FromSitemap bool
	Lang        string
}

// Artifact is a finished output file.
type Artifact struct {
	Kind       ArtifactKind
	Content    []byte
	Size       int
	ProducedAt time.Time
	JobID      string
}

// FetchResult is returned by a Fetcher implementation.
type FetchResult struct {
	URL        string
	FinalURL   string
	StatusCode int
	Headers    http.Header
	Body       []byte
	Elapsed    time.Duration
	Rendered   bool
}

// SummarizeRequest is one unit of summarization work.
type SummarizeRequest struct {
	Title    string
	Content  string
	TargetKB int
}

// SummarizeResult carries the condensed markdown. Unsummarized is set when
// the backend failed persistently and the content was truncated instead.
type SummarizeResult struct {
	Markdown     string
	Unsummarized bool
}

// Event is published on job lifecycle transitions.
type Event struct {
	JobID    string   `json:"job_id"`
	State    JobState `json:"status"`
	URL      string   `json:"url"`
	SizeKB   float64  `json:"total_size_kb,omitempty"`
	Pages    int      `json:"pages_processed"`
	Occurred int64    `json:"occurred_at"`
}
