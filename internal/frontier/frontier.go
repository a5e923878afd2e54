// Package frontier implements the bounded, scored BFS queue of URLs
// pending fetch. The queue is keyed by canonical URL; every URL is admitted
// at most once per job.
package frontier

import (
	"container/heap"
	"net/url"
	"strings"

	"github.com/sshtomar/llm-txt/internal/generator"
)

// Path tokens that mark documentation-like content for pop ordering.
var boostTokens = []string{
	"doc", "docs", "guide", "reference", "api", "tutorial",
	"getting-started", "quickstart",
}

// Path tokens that mark low-value content.
var penaltyTokens = []string{
	"blog", "changelog", "news", "release-notes", "archive",
}

const (
	tokenBoost   = 2.0
	tokenPenalty = 5.0
	sitemapBoost = 3.0
)

// Score ranks a URL for pop order and later composition priority. Shallower
// pages and documentation-flavored paths win; blog/changelog paths lose.
func Score(rawURL string, depth, maxDepth int, fromSitemap bool) float64 {
	score := float64(maxDepth - depth)

	var pathLower string
	if u, err := url.Parse(rawURL); err == nil {
		pathLower = strings.ToLower(u.Path)
	}
	for _, tok := range boostTokens {
		if containsToken(pathLower, tok) {
			score += tokenBoost
		}
	}
	for _, tok := range penaltyTokens {
		if containsToken(pathLower, tok) {
			score -= tokenPenalty
		}
	}
	if fromSitemap {
		score += sitemapBoost
	}
	return score
}

// containsToken matches tok against path segments, so "/api/" matches but
// "/rapid/" does not. Hyphenated tokens (release-notes) compare against the
// whole "/"-separated segment; single-word tokens also match hyphen and
// underscore subsegments (api-reference matches "api").
func containsToken(path, tok string) bool {
	hyphenated := strings.ContainsAny(tok, "-_")
	for _, seg := range strings.Split(path, "/") {
		if seg == tok {
			return true
		}
		if hyphenated {
			continue
		}
		for _, sub := range strings.FieldsFunc(seg, func(r rune) bool {
			return r == '-' || r == '_' || r == '.'
		}) {
			if sub == tok {
				return true
			}
		}
	}
	return false
}

// Item is one frontier entry.
type Item struct {
	URL         string
	Depth       int
	FromSitemap bool
	Score       float64

	seq int
}

// Frontier is owned by a single orchestrator goroutine; it is not safe for
// concurrent use.
type Frontier struct {
	seed     string
	maxDepth int
	maxPages int

	// Allow, when set, vetoes URLs at enqueue time (robots checks).
	Allow func(rawURL string) bool

	seen    map[string]struct{}
	queue   itemHeap
	nextSeq int
}

// New builds a Frontier rooted at seed (already canonical).
func New(seed string, maxDepth, maxPages int) *Frontier {
	return &Frontier{
		seed:     seed,
		maxDepth: maxDepth,
		maxPages: maxPages,
		seen:     make(map[string]struct{}),
	}
}

// Enqueue canonicalizes rawURL and admits it unless it was seen, is too
// deep, is off-site, is a non-HTML asset, would exceed the page cap, or is
// vetoed by Allow. It returns
// the canonical form and whether the URL was admitted.
func (f *Frontier) Enqueue(rawURL string, depth int, fromSitemap bool) (string, bool) {
	canonical, err := generator.CanonicalURL(rawURL)
	if err != nil {
		return "", false
	}
	if depth > f.maxDepth {
		return canonical, false
	}
	if !generator.SameSite(f.seed, canonical) {
		return canonical, false
	}
	if !generator.LikelyHTML(canonical) {
		return canonical, false
	}
	if _, dup := f.seen[canonical]; dup {
		return canonical, false
	}
	if len(f.seen) >= f.maxPages {
		return canonical, false
	}
	if f.Allow != nil && !f.Allow(canonical) {
		return canonical, false
	}

	f.seen[canonical] = struct{}{}
	item := Item{
		URL:         canonical,
		Depth:       depth,
		FromSitemap: fromSitemap,
		Score:       Score(canonical, depth, f.maxDepth, fromSitemap),
		seq:         f.nextSeq,
	}
	f.nextSeq++
	heap.Push(&f.queue, item)
	return canonical, true
}

// Pop removes and returns the highest-scored item.
func (f *Frontier) Pop() (Item, bool) {
	if f.queue.Len() == 0 {
		return Item{}, false
	}
	return heap.Pop(&f.queue).(Item), true
}

// Len returns the number of queued (not yet popped) URLs.
func (f *Frontier) Len() int { return f.queue.Len() }

// Discovered returns the number of URLs admitted over the job's lifetime.
func (f *Frontier) Discovered() int { return len(f.seen) }

type itemHeap []Item

func (h itemHeap) Len() int { return len(h) }

func (h itemHeap) Less(i, j int) bool {
	if h[i].Score != h[j].Score {
		return h[i].Score > h[j].Score
	}
	return h[i].seq < h[j].seq
}

func (h itemHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *itemHeap) Push(x any) { *h = append(*h, x.(Item)) }

func (h *itemHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}
