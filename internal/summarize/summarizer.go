// Package summarize condenses page markdown through an LLM backend with
// deterministic settings, falling back to truncation when the backend fails.
package summarize

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sshtomar/llm-txt/internal/generator"
)

// The fixed system prompt. Changing it changes output bytes, so treat it as
// part of the wire format.
const systemPrompt = `You are a senior technical writer condensing documentation for an llms.txt file.
Preserve headings and their hierarchy. Keep code blocks verbatim. Compress prose
into terse bullets. Omit marketing copy, navigation text, and legal boilerplate.
Keep API signatures, CLI commands, configuration keys, and version constraints
exactly as written. Output only Markdown with no preamble.`

// Completer is the LLM backend contract.
type Completer interface {
	Complete(ctx context.Context, system, prompt string, maxTokens int) (string, error)
}

// Config tunes the summarizer.
type Config struct {
	RPS        float64
	Burst      int
	MaxTokens  int
	MaxRetries int
	BaseDelay  time.Duration
}

func (c *Config) applyDefaults() {
	if c.RPS <= 0 {
		c.RPS = 1
	}
	if c.Burst <= 0 {
		c.Burst = 1
	}
	if c.MaxTokens <= 0 {
		c.MaxTokens = 4000
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 2
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = time.Second
	}
}

// LLMSummarizer is a stateless Summarizer over a Completer, rate limited by
// a token bucket shared across the process.
type LLMSummarizer struct {
	client  Completer
	limiter *rate.Limiter
	cfg     Config
	logger  *zap.Logger
}

// New constructs an LLMSummarizer.
func New(client Completer, cfg Config, logger *zap.Logger) *LLMSummarizer {
	cfg.applyDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LLMSummarizer{
		client:  client,
		limiter: rate.NewLimiter(rate.Limit(cfg.RPS), cfg.Burst),
		cfg:     cfg,
		logger:  logger,
	}
}

// Summarize condenses req.Content to approximately req.TargetKB. Content
// already under target is returned unchanged (no backend call). Transient
// backend errors retry with backoff honoring Retry-After; persistent failure
// falls back to deterministic truncation with Unsummarized set.
func (s *LLMSummarizer) Summarize(ctx context.Context, req generator.SummarizeRequest) (generator.SummarizeResult, error) {
	targetBytes := req.TargetKB * 1024
	if targetBytes <= 0 {
		return generator.SummarizeResult{}, errors.New("target_kb must be > 0")
	}
	if len(req.Content) <= targetBytes {
		return generator.SummarizeResult{Markdown: req.Content}, nil
	}

	prompt := buildPrompt(req)
	var lastErr error
	for attempt := 0; attempt <= s.cfg.MaxRetries; attempt++ {
		if err := s.limiter.Wait(ctx); err != nil {
			return generator.SummarizeResult{}, err
		}
		out, err := s.client.Complete(ctx, systemPrompt, prompt, s.cfg.MaxTokens)
		if err == nil {
			return generator.SummarizeResult{Markdown: strings.TrimSpace(out) + "\n"}, nil
		}
		lastErr = err

		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.Transient() && attempt < s.cfg.MaxRetries {
			wait := s.cfg.BaseDelay << attempt
			if apiErr.RetryAfter > wait {
				wait = apiErr.RetryAfter
			}
			s.logger.Warn("summarizer transient failure; retrying",
				zap.Int("attempt", attempt+1), zap.Duration("wait", wait), zap.Error(err))
			timer := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				timer.Stop()
				return generator.SummarizeResult{}, ctx.Err()
			case <-timer.C:
			}
			continue
		}
		break
	}

	if ctx.Err() != nil {
		return generator.SummarizeResult{}, ctx.Err()
	}
	s.logger.Warn("summarizer failed; falling back to truncation", zap.Error(lastErr))
	return generator.SummarizeResult{
		Markdown:     Truncate(req.Content, targetBytes),
		Unsummarized: true,
	}, nil
}

func buildPrompt(req generator.SummarizeRequest) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Condense the following documentation section to roughly %d KB of Markdown.\n", req.TargetKB)
	if req.Title != "" {
		fmt.Fprintf(&sb, "Section: %s\n", req.Title)
	}
	sb.WriteString("\n---\n\n")
	// Bound the prompt so a pathological page cannot blow the request.
	content := req.Content
	if len(content) > 200_000 {
		content = content[:200_000]
	}
	sb.WriteString(content)
	return sb.String()
}

const truncationMarker = "\n\n[... content truncated due to size limits ...]\n"

// Truncate cuts markdown at a line boundary so the result plus marker fits
// within maxBytes. It never splits a line mid-way.
func Truncate(content string, maxBytes int) string {
	if len(content) <= maxBytes {
		return content
	}
	budget := maxBytes - len(truncationMarker)
	if budget <= 0 {
		return truncationMarker[:maxBytes]
	}
	var sb strings.Builder
	for _, line := range strings.Split(content, "\n") {
		if sb.Len()+len(line)+1 > budget {
			break
		}
		sb.WriteString(line)
		sb.WriteString("\n")
	}
	return sb.String() + strings.TrimPrefix(truncationMarker, "\n")
}

// NoopSummarizer truncates without calling any backend. It backs the CLI
// when no API key is configured, and tests.
type NoopSummarizer struct{}

// Summarize truncates content to the target size.
func (NoopSummarizer) Summarize(_ context.Context, req generator.SummarizeRequest) (generator.SummarizeResult, error) {
	targetBytes := req.TargetKB * 1024
	if targetBytes <= 0 {
		return generator.SummarizeResult{}, errors.New("target_kb must be > 0")
	}
	return generator.SummarizeResult{Markdown: Truncate(req.Content, targetBytes)}, nil
}
