// Package compose assembles the llms.txt and llms-full.txt artifacts from
// extracted pages under a strict size budget. Given identical inputs and
// summarizer outputs the emitted bytes are identical.
package compose

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/sshtomar/llm-txt/internal/generator"
	"github.com/sshtomar/llm-txt/internal/summarize"
)

const (
	headerReservePct = 5
	sectionFloorKB   = 1
	pageFloorBytes   = 256
	fullCapFactor    = 10
)

// ErrNoPages signals composition with zero admissible pages.
var ErrNoPages = errors.New("no admissible pages to compose")

// Input is everything composition needs for one job.
type Input struct {
	SiteTitle string
	RootURL   string
	Pages     []generator.Page
	SizeCapKB int
}

// Composer builds artifacts. The summarizer is only consulted for the
// budgeted variant; the full variant uses cleaned markdown verbatim.
type Composer struct {
	summarizer generator.Summarizer
	clock      generator.Clock
	logger     *zap.Logger
}

// New constructs a Composer.
func New(summarizer generator.Summarizer, clock generator.Clock, logger *zap.Logger) *Composer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Composer{summarizer: summarizer, clock: clock, logger: logger}
}

// section groups pages sharing a top-level URL path prefix.
type section struct {
	name     string
	pages    []generator.Page
	avgScore float64
	totalLen int
}

// Compose builds the size-capped llms.txt artifact.
func (c *Composer) Compose(ctx context.Context, in Input) ([]byte, error) {
	pages := admissible(in.Pages)
	if len(pages) == 0 {
		return nil, ErrNoPages
	}
	capBytes := in.SizeCapKB * 1024
	if capBytes <= 0 {
		return nil, errors.New("size cap must be > 0")
	}

	sections := groupSections(pages)
	reserve := capBytes * headerReservePct / 100
	budget := capBytes - reserve

	admitted, trimmed := allocateSections(sections, budget)
	if len(admitted) == 0 {
		// Degenerate cap: keep the single best section at the whole budget.
		admitted = []sectionAlloc{{section: sections[0], bytes: budget}}
		trimmed = sectionNames(sections[1:])
	}

	header := renderHeader(in, c.clock.Now(), admittedSections(admitted))

	var body strings.Builder
	for _, alloc := range admitted {
		text, err := c.renderSection(ctx, alloc)
		if err != nil {
			return nil, err
		}
		body.WriteString(text)
	}

	out := header + body.String()
	out = appendTrimmedReport(out, trimmed, capBytes)

	if len(out) > capBytes {
		out = c.dropToCap(ctx, admitted, header, trimmed, capBytes)
	}
	return []byte(out), nil
}

// ComposeFull builds the uncompressed companion artifact. Only the safety
// cap applies; pages are dropped whole when it is exceeded.
func (c *Composer) ComposeFull(_ context.Context, in Input) ([]byte, error) {
	pages := admissible(in.Pages)
	if len(pages) == 0 {
		return nil, ErrNoPages
	}
	sections := groupSections(pages)
	header := renderHeader(in, c.clock.Now(), sections)

	safetyCap := in.SizeCapKB * 1024 * fullCapFactor

	type fullPage struct {
		sectionIdx int
		page       generator.Page
	}
	var ordered []fullPage
	for i, sec := range sections {
		for _, p := range sec.pages {
			ordered = append(ordered, fullPage{sectionIdx: i, page: p})
		}
	}

	// Drop lowest-priority pages until the rendered size fits.
	included := make([]bool, len(ordered))
	for i := range included {
		included[i] = true
	}
	for {
		var body strings.Builder
		lastSection := -1
		for i, fp := range ordered {
			if !included[i] {
				continue
			}
			if fp.sectionIdx != lastSection {
				body.WriteString("## " + sections[fp.sectionIdx].name + "\n\n")
				lastSection = fp.sectionIdx
			}
			body.WriteString(renderFullPage(fp.page))
		}
		out := header + body.String()
		if len(out) <= safetyCap {
			return []byte(out), nil
		}
		victim := lowestPriority(ordered, included, func(fp fullPage) float64 { return fp.page.Score })
		if victim < 0 {
			return []byte(out[:safetyCap]), nil
		}
		included[victim] = false
		c.logger.Debug("full artifact over safety cap; dropping page",
			zap.String("url", ordered[victim].page.URL))
	}
}

// lowestPriority returns the index of the lowest-scored still-included item,
// or -1 when none remain.
func lowestPriority[T any](items []T, included []bool, score func(T) float64) int {
	victim := -1
	for i := range items {
		if !included[i] {
			continue
		}
		if victim < 0 || score(items[i]) < score(items[victim]) {
			victim = i
		}
	}
	return victim
}

func admissible(pages []generator.Page) []generator.Page {
	var out []generator.Page
	for _, p := range pages {
		if p.Status == generator.ExtractOK || p.Status == generator.ExtractRendered {
			if strings.TrimSpace(p.Markdown) != "" {
				out = append(out, p)
			}
		}
	}
	return out
}

// groupSections buckets pages by top-level path segment and orders both the
// sections and the pages within them deterministically.
func groupSections(pages []generator.Page) []section {
	buckets := make(map[string][]generator.Page)
	for _, p := range pages {
		buckets[sectionKey(p.URL)] = append(buckets[sectionKey(p.URL)], p)
	}

	sections := make([]section, 0, len(buckets))
	for name, ps := range buckets {
		sort.Slice(ps, func(i, j int) bool {
			if ps[i].Score != ps[j].Score {
				return ps[i].Score > ps[j].Score
			}
			return ps[i].URL < ps[j].URL
		})
		var sum float64
		var total int
		for _, p := range ps {
			sum += p.Score
			total += len(p.Markdown)
		}
		sections = append(sections, section{
			name:     name,
			pages:    ps,
			avgScore: sum / float64(len(ps)),
			totalLen: total,
		})
	}
	sort.Slice(sections, func(i, j int) bool {
		if sections[i].avgScore != sections[j].avgScore {
			return sections[i].avgScore > sections[j].avgScore
		}
		if sections[i].totalLen != sections[j].totalLen {
			return sections[i].totalLen > sections[j].totalLen
		}
		return sections[i].name < sections[j].name
	})
	return sections
}

// sectionKey derives the display name of a page's section from its URL.
func sectionKey(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "Overview"
	}
	segs := strings.FieldsFunc(u.Path, func(r rune) bool { return r == '/' })
	if len(segs) == 0 {
		return "Overview"
	}
	name := strings.ReplaceAll(segs[0], "-", " ")
	name = strings.ReplaceAll(name, "_", " ")
	return titleCase(name)
}

func titleCase(s string) string {
	words := strings.Fields(s)
	for i, w := range words {
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}

type sectionAlloc struct {
	section section
	bytes   int
}

// allocateSections distributes budget proportionally to section weights with
// a 1 KB floor, dropping the lowest-priority underfunded section until every
// admitted section meets the floor.
func allocateSections(sections []section, budget int) (admitted []sectionAlloc, trimmed []string) {
	floor := sectionFloorKB * 1024
	remaining := append([]section(nil), sections...)

	for len(remaining) > 0 {
		weights := make([]float64, len(remaining))
		var total float64
		for i, sec := range remaining {
			w := sec.avgScore
			if w < 0.1 {
				w = 0.1
			}
			weights[i] = w
			total += w
		}

		allocs := make([]sectionAlloc, len(remaining))
		underfunded := -1
		for i, sec := range remaining {
			b := int(float64(budget) * weights[i] / total)
			allocs[i] = sectionAlloc{section: sec, bytes: b}
			if b < floor {
				underfunded = i
			}
		}
		if underfunded < 0 {
			return allocs, trimmed
		}
		// Sections are already priority-ordered; the last underfunded index
		// is the lowest-priority one.
		trimmed = append(trimmed, remaining[underfunded].name)
		remaining = append(remaining[:underfunded], remaining[underfunded+1:]...)
	}
	return nil, trimmed
}

func sectionNames(sections []section) []string {
	names := make([]string, len(sections))
	for i, s := range sections {
		names[i] = s.name
	}
	return names
}

func admittedSections(allocs []sectionAlloc) []section {
	out := make([]section, len(allocs))
	for i, a := range allocs {
		out[i] = a.section
	}
	return out
}

// renderSection summarizes each page to its share of the section budget and
// emits the section block.
func (c *Composer) renderSection(ctx context.Context, alloc sectionAlloc) (string, error) {
	var sb strings.Builder
	sb.WriteString("## " + alloc.section.name + "\n\n")

	pages := alloc.section.pages
	weights := make([]float64, len(pages))
	var total float64
	for i, p := range pages {
		w := p.Score
		if w < 0.1 {
			w = 0.1
		}
		weights[i] = w
		total += w
	}

	for i, p := range pages {
		pageBudget := int(float64(alloc.bytes) * weights[i] / total)
		if pageBudget < pageFloorBytes {
			continue
		}
		targetKB := pageBudget / 1024
		if targetKB < 1 {
			targetKB = 1
		}
		if err := ctx.Err(); err != nil {
			return "", err
		}
		res, err := c.summarizer.Summarize(ctx, generator.SummarizeRequest{
			Title:    p.Title,
			Content:  p.Markdown,
			TargetKB: targetKB,
		})
		if err != nil {
			return "", fmt.Errorf("summarize %s: %w", p.URL, err)
		}
		md := res.Markdown
		if len(md) > pageBudget {
			md = summarize.Truncate(md, pageBudget)
		}
		sb.WriteString("### " + pageTitle(p) + "\n\n")
		if res.Unsummarized {
			sb.WriteString("<!-- unsummarized -->\n")
		}
		sb.WriteString(strings.TrimSpace(md) + "\n\n")
	}
	return sb.String(), nil
}

func renderFullPage(p generator.Page) string {
	var sb strings.Builder
	sb.WriteString("### " + pageTitle(p) + "\n\n")
	sb.WriteString("URL: " + p.URL + "\n\n")
	sb.WriteString(strings.TrimSpace(p.Markdown) + "\n\n")
	return sb.String()
}

func pageTitle(p generator.Page) string {
	if t := strings.TrimSpace(p.Title); t != "" {
		return t
	}
	return p.URL
}

func renderHeader(in Input, now time.Time, sections []section) string {
	var sb strings.Builder
	title := strings.TrimSpace(in.SiteTitle)
	if title == "" {
		title = "Documentation"
	}
	sb.WriteString("# " + title + "\n")
	sb.WriteString("> Source: " + in.RootURL + "\n")
	sb.WriteString("> Generated: " + now.UTC().Format(time.RFC3339) + "\n\n")
	sb.WriteString("## Index\n")
	for _, sec := range sections {
		sb.WriteString(fmt.Sprintf("- [%s](#%s)\n", sec.name, anchor(sec.name)))
	}
	sb.WriteString("\n")
	return sb.String()
}

// anchor builds a GitHub-style fragment for a section heading.
func anchor(name string) string {
	s := strings.ToLower(name)
	s = strings.ReplaceAll(s, " ", "-")
	var sb strings.Builder
	for _, r := range s {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '-' {
			sb.WriteRune(r)
		}
	}
	return sb.String()
}

func appendTrimmedReport(out string, trimmed []string, capBytes int) string {
	if len(trimmed) == 0 {
		return out
	}
	sort.Strings(trimmed)
	report := "<!-- trimmed: " + strings.Join(trimmed, ", ") + " -->\n"
	if len(out)+len(report) <= capBytes {
		return out + report
	}
	return out
}

// dropToCap re-renders after removing the lowest-priority pages until the
// artifact fits. Pages are dropped whole, never split.
func (c *Composer) dropToCap(ctx context.Context, admitted []sectionAlloc, header string, trimmed []string, capBytes int) string {
	type capPage struct {
		alloc *sectionAlloc
		idx   int
		score float64
	}
	var all []capPage
	for i := range admitted {
		for j, p := range admitted[i].section.pages {
			all = append(all, capPage{alloc: &admitted[i], idx: j, score: p.Score})
		}
	}
	dropped := make(map[*sectionAlloc]map[int]bool)

	for attempt := 0; attempt < len(all); attempt++ {
		// Drop the globally lowest-scored remaining page.
		victim := -1
		for i, cp := range all {
			if dropped[cp.alloc] != nil && dropped[cp.alloc][cp.idx] {
				continue
			}
			if victim < 0 || cp.score < all[victim].score {
				victim = i
			}
		}
		if victim < 0 {
			break
		}
		v := all[victim]
		if dropped[v.alloc] == nil {
			dropped[v.alloc] = make(map[int]bool)
		}
		dropped[v.alloc][v.idx] = true
		c.logger.Debug("artifact over cap; dropping page",
			zap.String("url", v.alloc.section.pages[v.idx].URL))

		var body strings.Builder
		for i := range admitted {
			filtered := admitted[i]
			var keep []generator.Page
			for j, p := range filtered.section.pages {
				if dropped[&admitted[i]] != nil && dropped[&admitted[i]][j] {
					continue
				}
				keep = append(keep, p)
			}
			if len(keep) == 0 {
				continue
			}
			filtered.section.pages = keep
			text, err := c.renderSection(ctx, filtered)
			if err != nil {
				continue
			}
			body.WriteString(text)
		}
		out := appendTrimmedReport(header+body.String(), trimmed, capBytes)
		if len(out) <= capBytes {
			return out
		}
	}
	// Everything dropped and still over: return the bare header.
	return header
}
