package summarize

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/sshtomar/llm-txt/internal/generator"
)

type fakeCompleter struct {
	calls  atomic.Int32
	result string
	errs   []error
}

func (f *fakeCompleter) Complete(_ context.Context, _, _ string, _ int) (string, error) {
	n := int(f.calls.Add(1)) - 1
	if n < len(f.errs) && f.errs[n] != nil {
		return "", f.errs[n]
	}
	return f.result, nil
}

func newSummarizer(c Completer) *LLMSummarizer {
	return New(c, Config{RPS: 1000, Burst: 1000, BaseDelay: time.Millisecond}, zap.NewNop())
}

func TestSummarizeShortContentSkipsBackend(t *testing.T) {
	fake := &fakeCompleter{result: "should not be used"}
	s := newSummarizer(fake)

	res, err := s.Summarize(context.Background(), generator.SummarizeRequest{
		Content:  "short content",
		TargetKB: 10,
	})
	if err != nil {
		t.Fatal(err)
	}
	if res.Markdown != "short content" {
		t.Errorf("markdown = %q", res.Markdown)
	}
	if fake.calls.Load() != 0 {
		t.Error("backend must not be called for content under target")
	}
}

func TestSummarizeCallsBackend(t *testing.T) {
	fake := &fakeCompleter{result: "## Condensed\n- point"}
	s := newSummarizer(fake)

	long := strings.Repeat("prose ", 2000)
	res, err := s.Summarize(context.Background(), generator.SummarizeRequest{
		Title: "Guide", Content: long, TargetKB: 1,
	})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(res.Markdown, "## Condensed") {
		t.Errorf("markdown = %q", res.Markdown)
	}
	if res.Unsummarized {
		t.Error("successful summary must not be marked unsummarized")
	}
}

func TestSummarizeRetriesTransientThenSucceeds(t *testing.T) {
	fake := &fakeCompleter{
		result: "ok",
		errs:   []error{&APIError{StatusCode: 429}, &APIError{StatusCode: 500}},
	}
	s := newSummarizer(fake)

	res, err := s.Summarize(context.Background(), generator.SummarizeRequest{
		Content: strings.Repeat("x", 4096), TargetKB: 1,
	})
	if err != nil {
		t.Fatal(err)
	}
	if res.Markdown != "ok\n" {
		t.Errorf("markdown = %q", res.Markdown)
	}
	if fake.calls.Load() != 3 {
		t.Errorf("calls = %d, want 3", fake.calls.Load())
	}
}

func TestSummarizePersistentFailureTruncates(t *testing.T) {
	fake := &fakeCompleter{
		errs: []error{
			&APIError{StatusCode: 500},
			&APIError{StatusCode: 500},
			&APIError{StatusCode: 500},
		},
	}
	s := newSummarizer(fake)

	content := strings.Repeat("line of text\n", 500)
	res, err := s.Summarize(context.Background(), generator.SummarizeRequest{Content: content, TargetKB: 1})
	if err != nil {
		t.Fatal(err)
	}
	if !res.Unsummarized {
		t.Error("fallback must be marked unsummarized")
	}
	if len(res.Markdown) > 1024 {
		t.Errorf("fallback size = %d, want <= 1024", len(res.Markdown))
	}
	if !strings.Contains(res.Markdown, "truncated") {
		t.Error("fallback should carry the truncation marker")
	}
}

func TestSummarizeNonTransientErrorNoRetry(t *testing.T) {
	fake := &fakeCompleter{errs: []error{&APIError{StatusCode: 401}}}
	s := newSummarizer(fake)

	res, err := s.Summarize(context.Background(), generator.SummarizeRequest{
		Content: strings.Repeat("x", 4096), TargetKB: 1,
	})
	if err != nil {
		t.Fatal(err)
	}
	if !res.Unsummarized {
		t.Error("auth failure should fall back to truncation")
	}
	if fake.calls.Load() != 1 {
		t.Errorf("calls = %d, want 1", fake.calls.Load())
	}
}

func TestTruncateNeverSplitsLines(t *testing.T) {
	content := strings.Repeat("a complete sentence on its own line\n", 100)
	out := Truncate(content, 512)
	if len(out) > 512 {
		t.Fatalf("len = %d", len(out))
	}
	for _, line := range strings.Split(strings.TrimSpace(out), "\n") {
		if line == "" || strings.Contains(line, "truncated") {
			continue
		}
		if line != "a complete sentence on its own line" {
			t.Fatalf("split line %q", line)
		}
	}
}

func TestTruncateUnderLimitUnchanged(t *testing.T) {
	if got := Truncate("tiny", 1024); got != "tiny" {
		t.Errorf("got %q", got)
	}
}

func TestAnthropicClientRequestShape(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/messages" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if r.Header.Get("x-api-key") != "sk-test" {
			t.Error("api key header missing")
		}
		if r.Header.Get("anthropic-version") == "" {
			t.Error("version header missing")
		}
		fmt.Fprint(w, `{"content":[{"type":"text","text":"summary text"}]}`)
	}))
	defer srv.Close()

	client := NewAnthropicClient("sk-test", "test-model", srv.URL)
	out, err := client.Complete(context.Background(), "sys", "prompt", 100)
	if err != nil {
		t.Fatal(err)
	}
	if out != "summary text" {
		t.Errorf("out = %q", out)
	}
}

func TestAnthropicClientAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Retry-After", "3")
		w.WriteHeader(http.StatusTooManyRequests)
		fmt.Fprint(w, `{"error":{"type":"rate_limit_error"}}`)
	}))
	defer srv.Close()

	client := NewAnthropicClient("sk-test", "test-model", srv.URL)
	_, err := client.Complete(context.Background(), "sys", "prompt", 100)
	apiErr, ok := err.(*APIError)
	if !ok {
		t.Fatalf("err = %T", err)
	}
	if !apiErr.Transient() {
		t.Error("429 should be transient")
	}
	if apiErr.RetryAfter != 3*time.Second {
		t.Errorf("retry after = %v", apiErr.RetryAfter)
	}
}
