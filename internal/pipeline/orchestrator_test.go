package pipeline

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sshtomar/llm-txt/internal/events"
	"github.com/sshtomar/llm-txt/internal/generator"
	"github.com/sshtomar/llm-txt/internal/jobs"
	storememory "github.com/sshtomar/llm-txt/internal/store/memory"
	"github.com/sshtomar/llm-txt/internal/summarize"
)

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

type seqIDs struct{ n atomic.Int32 }

func (s *seqIDs) NewID() (string, error) {
	return fmt.Sprintf("job-%d", s.n.Add(1)), nil
}

type harness struct {
	manager   *jobs.Manager
	store     *storememory.Store
	publisher *events.Memory
	orch      *Orchestrator
}

func newHarness(t *testing.T, cfg Config) *harness {
	t.Helper()
	st := storememory.New()
	clock := fixedClock{t: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
	manager := jobs.NewManager(st, clock, &seqIDs{}, 200, zap.NewNop())
	publisher := events.NewMemory()
	orch := New(manager, st, summarize.NoopSummarizer{}, publisher, clock, nil, cfg, zap.NewNop())
	return &harness{manager: manager, store: st, publisher: publisher, orch: orch}
}

func docBody(title, extra string) string {
	return fmt.Sprintf(`<html lang="en"><head><title>%s</title></head>
<body><main><h1>%s</h1><p>%s %s</p></main></body></html>`,
		title, title, strings.Repeat("Documentation prose for testing purposes. ", 30), extra)
}

// fixtureSite is a 4-page docs site: seed -> a, b and a blog page.
func fixtureSite(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	mux.HandleFunc("/docs", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprintf(w, `<html lang="en"><head><title>Example Docs</title></head><body><main>
<h1>Example Docs</h1><p>%s</p>
<a href="/docs/a">Guide A</a> <a href="/docs/b">Guide B</a> <a href="/blog/x">Blog</a>
</main></body></html>`, strings.Repeat("Welcome to the documentation. ", 30))
	})
	mux.HandleFunc("/docs/a", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, docBody("Guide A", ""))
	})
	mux.HandleFunc("/docs/b", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, docBody("Guide B", ""))
	})
	mux.HandleFunc("/blog/x", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, docBody("Blog Post", ""))
	})
	return srv
}

func request(url string) generator.JobRequest {
	return generator.JobRequest{
		URL:           url,
		MaxPages:      10,
		MaxDepth:      3,
		MaxKB:         50,
		RespectRobots: true,
		UserAgent:     "llm-txt-test/1.0",
	}
}

func runJob(t *testing.T, h *harness, req generator.JobRequest) jobs.View {
	t.Helper()
	job, err := h.manager.Create(context.Background(), req)
	require.NoError(t, err)
	h.orch.Run(context.Background(), job)
	view, err := h.manager.Get(context.Background(), job.ID)
	require.NoError(t, err)
	return view
}

func TestRunCompletesJob(t *testing.T) {
	srv := fixtureSite(t)
	h := newHarness(t, Config{Concurrency: 4})

	view := runJob(t, h, request(srv.URL+"/docs"))

	require.Equal(t, generator.JobStateCompleted, view.Status)
	require.Equal(t, 1.0, view.Progress)
	require.Equal(t, 4, view.PagesProcessed)
	require.LessOrEqual(t, view.PagesProcessed, view.PagesDiscovered)
	require.NotNil(t, view.CompletedAt)
	require.NotNil(t, view.LLMTxtURL)
	require.Nil(t, view.LLMSFullTxtURL)

	// Store consistency: completed status implies readable blob.
	data, err := h.store.GetArtifact(context.Background(), view.JobID, generator.ArtifactLLMTxt)
	require.NoError(t, err)
	require.NotEmpty(t, data)
	require.Contains(t, string(data), "# Example Docs")
	require.Contains(t, string(data), "## Index")

	var sawOK bool
	for _, line := range view.ProcessingLogs {
		if strings.HasPrefix(line, "ok ") {
			sawOK = true
		}
	}
	require.True(t, sawOK, "processing logs should record page outcomes: %v", view.ProcessingLogs)

	evts := h.publisher.Events()
	require.Len(t, evts, 1)
	require.Equal(t, generator.JobStateCompleted, evts[0].State)
}

func TestRunRespectsRobots(t *testing.T) {
	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	mux.HandleFunc("/robots.txt", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, "User-agent: *\nDisallow: /docs/internal/\n")
	})
	mux.HandleFunc("/docs", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprintf(w, `<html><head><title>Docs</title></head><body><main><p>%s</p>
<a href="/docs/public">Public</a> <a href="/docs/internal/secret">Secret</a>
</main></body></html>`, strings.Repeat("intro text ", 40))
	})
	mux.HandleFunc("/docs/public", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, docBody("Public", ""))
	})
	mux.HandleFunc("/docs/internal/secret", func(w http.ResponseWriter, _ *http.Request) {
		t.Error("disallowed URL was fetched")
	})

	h := newHarness(t, Config{Concurrency: 2})
	view := runJob(t, h, request(srv.URL+"/docs"))

	require.Equal(t, generator.JobStateCompleted, view.Status)
	require.Equal(t, 2, view.PagesProcessed)

	var sawSkip bool
	for _, line := range view.ProcessingLogs {
		if strings.Contains(line, string(generator.ExtractSkippedRobots)) &&
			strings.Contains(line, "/docs/internal/secret") {
			sawSkip = true
		}
	}
	require.True(t, sawSkip, "skipped_by_robots missing from logs: %v", view.ProcessingLogs)
}

func TestRunSeedBlockedByRobots(t *testing.T) {
	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	mux.HandleFunc("/robots.txt", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, "User-agent: *\nDisallow: /docs\n")
	})

	h := newHarness(t, Config{Concurrency: 2})
	view := runJob(t, h, request(srv.URL+"/docs"))

	require.Equal(t, generator.JobStateFailed, view.Status)
	require.Equal(t, jobs.CodeBlockedByRobots, view.ErrorCode)
	_, err := h.store.GetArtifact(context.Background(), view.JobID, generator.ArtifactLLMTxt)
	require.Error(t, err)
}

func TestRunSeed4xxFailsNoUsableContent(t *testing.T) {
	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	mux.HandleFunc("/docs", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	h := newHarness(t, Config{Concurrency: 2})
	view := runJob(t, h, request(srv.URL+"/docs"))

	require.Equal(t, generator.JobStateFailed, view.Status)
	require.Equal(t, jobs.CodeNoUsableContent, view.ErrorCode)
}

func TestRunFlakyPageRetriesAndCompletes(t *testing.T) {
	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	var flakyCalls atomic.Int32
	mux.HandleFunc("/docs", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprintf(w, `<html><head><title>Docs</title></head><body><main><p>%s</p>
<a href="/docs/flaky">Flaky</a></main></body></html>`, strings.Repeat("seed text ", 40))
	})
	mux.HandleFunc("/docs/flaky", func(w http.ResponseWriter, _ *http.Request) {
		if flakyCalls.Add(1) <= 2 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		fmt.Fprint(w, docBody("Flaky Page", ""))
	})

	h := newHarness(t, Config{Concurrency: 2, JobBudget: 60 * time.Second})
	view := runJob(t, h, request(srv.URL+"/docs"))

	require.Equal(t, generator.JobStateCompleted, view.Status)
	require.Equal(t, 2, view.PagesProcessed)
	require.Equal(t, int32(3), flakyCalls.Load())
}

func TestRunCancellation(t *testing.T) {
	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	release := make(chan struct{})
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/robots.txt" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		select {
		case <-release:
		case <-time.After(10 * time.Second):
		}
		fmt.Fprint(w, docBody("Slow", ""))
	})

	h := newHarness(t, Config{Concurrency: 2, JobBudget: 30 * time.Second})
	job, err := h.manager.Create(context.Background(), request(srv.URL+"/docs"))
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		h.orch.Run(context.Background(), job)
		close(done)
	}()

	time.Sleep(150 * time.Millisecond)
	require.NoError(t, h.manager.Cancel(context.Background(), job.ID))
	close(release)

	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("orchestrator did not observe cancellation")
	}

	view, err := h.manager.Get(context.Background(), job.ID)
	require.NoError(t, err)
	require.Equal(t, generator.JobStateCancelled, view.Status)

	// Partial artifacts must not be published.
	_, err = h.store.GetArtifact(context.Background(), job.ID, generator.ArtifactLLMTxt)
	require.Error(t, err)
}

func TestRunTimeout(t *testing.T) {
	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/robots.txt" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		time.Sleep(400 * time.Millisecond)
		fmt.Fprint(w, docBody("Slow", ""))
	})

	h := newHarness(t, Config{Concurrency: 1, JobBudget: 200 * time.Millisecond})
	view := runJob(t, h, request(srv.URL+"/docs"))

	require.Equal(t, generator.JobStateFailed, view.Status)
	require.Equal(t, jobs.CodeTimeout, view.ErrorCode)
}

func TestRunFullVersion(t *testing.T) {
	srv := fixtureSite(t)
	h := newHarness(t, Config{Concurrency: 4})

	req := request(srv.URL + "/docs")
	req.FullVersion = true
	view := runJob(t, h, req)

	require.Equal(t, generator.JobStateCompleted, view.Status)
	require.NotNil(t, view.LLMSFullTxtURL)

	full, err := h.store.GetArtifact(context.Background(), view.JobID, generator.ArtifactLLMSFull)
	require.NoError(t, err)
	require.Contains(t, string(full), "Documentation prose for testing purposes.")
}

func TestRunDeterministicArtifacts(t *testing.T) {
	srv := fixtureSite(t)
	h := newHarness(t, Config{Concurrency: 4})

	first := runJob(t, h, request(srv.URL+"/docs"))
	second := runJob(t, h, request(srv.URL+"/docs"))

	a, err := h.store.GetArtifact(context.Background(), first.JobID, generator.ArtifactLLMTxt)
	require.NoError(t, err)
	b, err := h.store.GetArtifact(context.Background(), second.JobID, generator.ArtifactLLMTxt)
	require.NoError(t, err)
	require.True(t, bytes.Equal(a, b), "identical fixture runs must produce identical artifacts")
}

func TestRunHonorsPageCap(t *testing.T) {
	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/robots.txt" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		var links strings.Builder
		for i := 0; i < 20; i++ {
			fmt.Fprintf(&links, `<a href="/docs/p%d">Page %d</a> `, i, i)
		}
		fmt.Fprintf(w, `<html><head><title>Hub</title></head><body><main><p>%s</p>%s</main></body></html>`,
			strings.Repeat("hub text ", 40), links.String())
	})

	h := newHarness(t, Config{Concurrency: 4})
	req := request(srv.URL + "/docs")
	req.MaxPages = 3
	view := runJob(t, h, req)

	require.Equal(t, generator.JobStateCompleted, view.Status)
	require.LessOrEqual(t, view.PagesProcessed, 3)
	require.LessOrEqual(t, view.PagesDiscovered, 3)
}
