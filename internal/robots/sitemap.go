package robots

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/antchfx/xmlquery"
	"go.uber.org/zap"

	"github.com/sshtomar/llm-txt/internal/generator"
)

const maxSitemapBytes = 10 << 20

// Sitemap locations probed after the robots.txt declarations.
var wellKnownSitemapPaths = []string{
	"/sitemap.xml",
	"/sitemap_index.xml",
	"/sitemaps.xml",
	"/sitemap/sitemap.xml",
}

// SitemapFetcher enumerates page URLs declared in a site's sitemaps.
type SitemapFetcher struct {
	client    *http.Client
	userAgent string
	logger    *zap.Logger
}

// NewSitemapFetcher constructs a SitemapFetcher.
func NewSitemapFetcher(userAgent string, logger *zap.Logger) *SitemapFetcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SitemapFetcher{
		client:    &http.Client{Timeout: 30 * time.Second},
		userAgent: userAgent,
		logger:    logger,
	}
}

// Discover resolves sitemap locations for seed (robots declarations first,
// then well-known paths) and returns the page URLs they list, filtered to
// the seed's registrable domain. Index files are expanded one level.
func (s *SitemapFetcher) Discover(ctx context.Context, seed string, declared []string) []string {
	seedURL, err := url.Parse(seed)
	if err != nil {
		return nil
	}

	candidates := make([]string, 0, len(declared)+len(wellKnownSitemapPaths))
	candidates = append(candidates, declared...)
	for _, p := range wellKnownSitemapPaths {
		candidates = append(candidates, (&url.URL{Scheme: seedURL.Scheme, Host: seedURL.Host, Path: p}).String())
	}

	seen := make(map[string]struct{})
	var pages []string
	for _, sitemapURL := range candidates {
		if _, dup := seen[sitemapURL]; dup {
			continue
		}
		seen[sitemapURL] = struct{}{}

		urls, index, err := s.parseOne(ctx, sitemapURL)
		if err != nil {
			s.logger.Debug("sitemap fetch failed",
				zap.String("sitemap", sitemapURL), zap.Error(err))
			continue
		}
		// One level of index expansion only.
		for _, child := range index {
			if _, dup := seen[child]; dup {
				continue
			}
			seen[child] = struct{}{}
			childURLs, _, childErr := s.parseOne(ctx, child)
			if childErr != nil {
				s.logger.Debug("child sitemap fetch failed",
					zap.String("sitemap", child), zap.Error(childErr))
				continue
			}
			urls = append(urls, childURLs...)
		}
		if len(urls) > 0 {
			s.logger.Info("sitemap discovered",
				zap.String("sitemap", sitemapURL), zap.Int("urls", len(urls)))
		}
		pages = append(pages, urls...)
	}

	return filterSameSite(seed, pages)
}

// parseOne fetches and parses a single sitemap document. It returns page
// URLs for a urlset and child sitemap URLs for a sitemapindex.
func (s *SitemapFetcher) parseOne(ctx context.Context, sitemapURL string) (pages, index []string, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, sitemapURL, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("new sitemap request: %w", err)
	}
	req.Header.Set("User-Agent", s.userAgent)
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, nil, fmt.Errorf("fetch sitemap: %w", err)
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil {
			s.logger.Debug("close sitemap body", zap.Error(cerr))
		}
	}()
	if resp.StatusCode != http.StatusOK {
		return nil, nil, fmt.Errorf("sitemap status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxSitemapBytes))
	if err != nil {
		return nil, nil, fmt.Errorf("read sitemap: %w", err)
	}
	trimmed := strings.TrimSpace(string(body))
	if strings.HasPrefix(trimmed, "<!DOCTYPE") || strings.HasPrefix(trimmed, "<html") {
		return nil, nil, fmt.Errorf("sitemap returned HTML")
	}

	doc, err := xmlquery.Parse(strings.NewReader(trimmed))
	if err != nil {
		return nil, nil, fmt.Errorf("parse sitemap xml: %w", err)
	}

	for _, node := range xmlquery.Find(doc, "//*[local-name()='sitemap']/*[local-name()='loc']") {
		if loc := strings.TrimSpace(node.InnerText()); loc != "" {
			index = append(index, loc)
		}
	}
	for _, node := range xmlquery.Find(doc, "//*[local-name()='url']/*[local-name()='loc']") {
		if loc := strings.TrimSpace(node.InnerText()); loc != "" {
			pages = append(pages, loc)
		}
	}
	return pages, index, nil
}

func filterSameSite(seed string, urls []string) []string {
	out := urls[:0]
	for _, u := range urls {
		if generator.SameSite(seed, u) {
			out = append(out, u)
		}
	}
	return out
}
