package fetch

import (
	"bytes"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Inline script bytes above which a page counts as script-heavy.
const defaultMinScriptBytes = 2048

// RenderDetector decides whether the rendering fallback is warranted for a
// statically fetched page: too little meaningful text AND substantial inline
// script, the signature of a client-rendered app shell.
type RenderDetector struct {
	minTextChars   int
	minScriptBytes int
}

// NewRenderDetector constructs a detector. minTextChars <= 0 falls back to
// the 200-character extraction threshold.
func NewRenderDetector(minTextChars int) *RenderDetector {
	if minTextChars <= 0 {
		minTextChars = 200
	}
	return &RenderDetector{
		minTextChars:   minTextChars,
		minScriptBytes: defaultMinScriptBytes,
	}
}

// NeedsRender inspects the static HTML for fallback signals.
func (d *RenderDetector) NeedsRender(body []byte) bool {
	if d == nil || len(body) == 0 {
		return false
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return false
	}

	scriptBytes := 0
	doc.Find("script").Each(func(_ int, s *goquery.Selection) {
		scriptBytes += len(s.Text())
	})
	doc.Find("script, style, noscript").Remove()

	text := strings.Join(strings.Fields(doc.Find("body").Text()), " ")
	return len(text) < d.minTextChars && scriptBytes >= d.minScriptBytes
}
