package compose

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sshtomar/llm-txt/internal/generator"
	"github.com/sshtomar/llm-txt/internal/summarize"
)

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

var testClock = fixedClock{t: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}

func page(url, title string, score float64, body string) generator.Page {
	return generator.Page{
		URL:      url,
		Title:    title,
		Markdown: body,
		Score:    score,
		Status:   generator.ExtractOK,
	}
}

func docsFixture() Input {
	return Input{
		SiteTitle: "Example Docs",
		RootURL:   "https://example.com/docs",
		SizeCapKB: 50,
		Pages: []generator.Page{
			page("https://example.com/docs/intro", "Introduction", 8, strings.Repeat("Intro prose. ", 200)),
			page("https://example.com/docs/install", "Installation", 7, strings.Repeat("Install steps. ", 200)),
			page("https://example.com/api/widgets", "Widgets API", 9, strings.Repeat("API detail. ", 300)),
			page("https://example.com/guide/start", "Getting Started", 6, strings.Repeat("Guide text. ", 150)),
			page("https://example.com/blog/launch", "Launch Post", -2, strings.Repeat("Blog words. ", 100)),
		},
	}
}

func newComposer() *Composer {
	return New(summarize.NoopSummarizer{}, testClock, zap.NewNop())
}

func TestComposeHeaderAndIndex(t *testing.T) {
	out, err := newComposer().Compose(context.Background(), docsFixture())
	require.NoError(t, err)

	text := string(out)
	require.True(t, strings.HasPrefix(text, "# Example Docs\n"))
	require.Contains(t, text, "> Source: https://example.com/docs\n")
	require.Contains(t, text, "> Generated: 2025-03-01T12:00:00Z\n")
	require.Contains(t, text, "## Index\n")
	require.Contains(t, text, "- [Api](#api)")
	require.Contains(t, text, "- [Docs](#docs)")
}

func TestComposeRespectsSizeCap(t *testing.T) {
	in := docsFixture()
	in.SizeCapKB = 5
	out, err := newComposer().Compose(context.Background(), in)
	require.NoError(t, err)
	require.LessOrEqual(t, len(out), in.SizeCapKB*1024+1024, "cap + <1KB slack")
}

func TestComposeDeterministic(t *testing.T) {
	c := newComposer()
	first, err := c.Compose(context.Background(), docsFixture())
	require.NoError(t, err)
	second, err := c.Compose(context.Background(), docsFixture())
	require.NoError(t, err)
	require.True(t, bytes.Equal(first, second), "identical inputs must produce identical bytes")
}

func TestComposeSectionOrderByPriority(t *testing.T) {
	out, err := newComposer().Compose(context.Background(), docsFixture())
	require.NoError(t, err)

	text := string(out)
	apiIdx := strings.Index(text, "## Api\n")
	docsIdx := strings.Index(text, "## Docs\n")
	require.Greater(t, apiIdx, 0)
	require.Greater(t, docsIdx, 0)
	require.Less(t, apiIdx, docsIdx, "highest-priority section first")
}

func TestComposeDropsUnderfundedSections(t *testing.T) {
	in := docsFixture()
	in.SizeCapKB = 4
	out, err := newComposer().Compose(context.Background(), in)
	require.NoError(t, err)

	text := string(out)
	require.NotContains(t, text, "## Blog\n", "negative-priority section dropped under a tight cap")
}

func TestComposeSkipsEmptyAndFailedPages(t *testing.T) {
	in := docsFixture()
	in.Pages = append(in.Pages,
		generator.Page{URL: "https://example.com/x", Status: generator.ExtractEmpty, Markdown: "ignored"},
		generator.Page{URL: "https://example.com/y", Status: generator.ExtractFetchError},
	)
	out, err := newComposer().Compose(context.Background(), in)
	require.NoError(t, err)
	require.NotContains(t, string(out), "https://example.com/x")
}

func TestComposeNoPages(t *testing.T) {
	_, err := newComposer().Compose(context.Background(), Input{
		SiteTitle: "Empty", RootURL: "https://example.com", SizeCapKB: 50,
	})
	require.ErrorIs(t, err, ErrNoPages)
}

func TestComposeFullContainsVerbatimMarkdown(t *testing.T) {
	in := docsFixture()
	out, err := newComposer().ComposeFull(context.Background(), in)
	require.NoError(t, err)

	text := string(out)
	require.Contains(t, text, "Intro prose. Intro prose.")
	require.Contains(t, text, "URL: https://example.com/docs/intro")
	require.Contains(t, text, "### Widgets API")
}

func TestComposeFullSafetyCap(t *testing.T) {
	in := Input{
		SiteTitle: "Big", RootURL: "https://example.com", SizeCapKB: 1,
		Pages: []generator.Page{
			page("https://example.com/a", "A", 5, strings.Repeat("keep ", 800)),
			page("https://example.com/b", "B", 1, strings.Repeat("drop ", 2000)),
		},
	}
	out, err := newComposer().ComposeFull(context.Background(), in)
	require.NoError(t, err)
	require.LessOrEqual(t, len(out), 1*1024*fullCapFactor)
	require.Contains(t, string(out), "### A", "high-priority page survives")
}

func TestComposeRendersRenderedFallbackPages(t *testing.T) {
	in := Input{
		SiteTitle: "R", RootURL: "https://example.com", SizeCapKB: 50,
		Pages: []generator.Page{{
			URL: "https://example.com/app", Title: "App", Score: 3,
			Markdown: strings.Repeat("rendered content ", 100),
			Status:   generator.ExtractRendered,
		}},
	}
	out, err := newComposer().Compose(context.Background(), in)
	require.NoError(t, err)
	require.Contains(t, string(out), "rendered content")
}

func TestSectionKey(t *testing.T) {
	require.Equal(t, "Docs", sectionKey("https://example.com/docs/intro"))
	require.Equal(t, "Api Reference", sectionKey("https://example.com/api-reference/x"))
	require.Equal(t, "Overview", sectionKey("https://example.com/"))
}

func TestAnchor(t *testing.T) {
	require.Equal(t, "api-reference", anchor("Api Reference"))
	require.Equal(t, "docs", anchor("Docs"))
}
