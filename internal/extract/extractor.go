// Package extract turns fetched HTML into cleaned Markdown, preserving
// headings and code while stripping navigation and boilerplate.
package extract

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html/charset"

	"github.com/sshtomar/llm-txt/internal/generator"
)

// MinBodyChars is the cleaned-text threshold below which a page counts as
// empty.
const MinBodyChars = 200

// Document is the extraction result for one page.
type Document struct {
	Title      string
	Markdown   string
	Headings   []generator.Heading
	CodeBlocks []generator.CodeBlock
	Links      []string
	Lang       string
	Status     generator.ExtractionStatus
}

// Extractor converts HTML bytes into a Document.
type Extractor struct {
	minBodyChars int
}

// New constructs an Extractor with the default empty-page threshold.
func New() *Extractor {
	return &Extractor{minBodyChars: MinBodyChars}
}

// Extract decodes body using the declared charset (UTF-8 fallback), parses
// the DOM, strips chrome, selects the main content region, and renders it as
// Markdown. Links are harvested from the full document before cleanup so
// navigation still feeds the crawl.
func (e *Extractor) Extract(body []byte, contentType, pageURL string) (Document, error) {
	decoded, err := decode(body, contentType)
	if err != nil {
		return Document{Status: generator.ExtractEmpty}, fmt.Errorf("decode body: %w", err)
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(decoded))
	if err != nil {
		return Document{Status: generator.ExtractEmpty}, fmt.Errorf("parse html: %w", err)
	}

	out := Document{
		Title: strings.TrimSpace(doc.Find("title").First().Text()),
		Links: harvestLinks(doc, pageURL),
	}
	if lang, ok := doc.Find("html").Attr("lang"); ok {
		out.Lang = normalizeLang(lang)
	}

	stripChrome(doc)
	main := selectMain(doc)

	renderer := newMarkdownRenderer(pageURL)
	for _, node := range main.Nodes {
		renderer.renderBlock(node)
	}
	out.Markdown = renderer.result()
	out.Headings = renderer.headings
	out.CodeBlocks = renderer.codeBlocks

	if out.Title == "" && len(out.Headings) > 0 {
		out.Title = out.Headings[0].Text
	}

	if len(strings.TrimSpace(out.Markdown)) < e.minBodyChars {
		out.Status = generator.ExtractEmpty
	} else {
		out.Status = generator.ExtractOK
	}
	return out, nil
}

// decode converts body to UTF-8 using the declared charset when present.
func decode(body []byte, contentType string) ([]byte, error) {
	reader, err := charset.NewReader(bytes.NewReader(body), contentType)
	if err != nil {
		// Undeclared or unknown charset: assume the bytes are UTF-8 already.
		return body, nil
	}
	decoded, err := io.ReadAll(reader)
	if err != nil {
		return nil, err
	}
	return decoded, nil
}

func harvestLinks(doc *goquery.Document, pageURL string) []string {
	seen := make(map[string]struct{})
	var links []string
	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		abs := generator.ResolveRef(pageURL, href)
		if abs == "" {
			return
		}
		if _, dup := seen[abs]; dup {
			return
		}
		seen[abs] = struct{}{}
		links = append(links, abs)
	})
	return links
}

func normalizeLang(lang string) string {
	lang = strings.ToLower(strings.TrimSpace(lang))
	if i := strings.IndexAny(lang, "-_"); i > 0 {
		lang = lang[:i]
	}
	return lang
}

// LangMatches reports whether a page language satisfies the requested
// filter. Pages without a declared language always match; the filter prefers
// rather than excludes, so the caller applies a score penalty, not a drop.
func LangMatches(pageLang, want string) bool {
	if want == "" || pageLang == "" {
		return true
	}
	return normalizeLang(pageLang) == normalizeLang(want)
}
