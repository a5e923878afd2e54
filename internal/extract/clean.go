package extract

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Class/id substrings that mark page chrome rather than content.
var chromePatterns = []string{
	"navigation", "navbar", "menu", "sidebar", "breadcrumb",
	"cookie", "consent", "banner", "footer", "header",
}

// Link-density pruning thresholds for sidebar-like containers.
const (
	linkDensityLimit    = 0.5
	linkDensityMinLinks = 5
)

// stripChrome removes scripts, styles, navigation landmarks, cookie banners,
// and link-dense sidebars from the document in place.
func stripChrome(doc *goquery.Document) {
	doc.Find("script, style, noscript, iframe, svg, form").Remove()
	doc.Find("nav, footer, aside").Remove()

	// A header is chrome when it sits at the top level or wraps navigation;
	// an <header> inside an article is usually content.
	doc.Find("header").Each(func(_ int, s *goquery.Selection) {
		parent := goquery.NodeName(s.Parent())
		if parent == "body" || parent == "html" || s.Find("nav").Length() > 0 {
			s.Remove()
		}
	})

	doc.Find("[class], [id]").Each(func(_ int, s *goquery.Selection) {
		class, _ := s.Attr("class")
		id, _ := s.Attr("id")
		marker := strings.ToLower(class + " " + id)
		for _, pattern := range chromePatterns {
			if strings.Contains(marker, pattern) {
				s.Remove()
				return
			}
		}
	})

	doc.Find("div, section, ul").Each(func(_ int, s *goquery.Selection) {
		if isLinkDense(s) {
			s.Remove()
		}
	})
}

// isLinkDense reports whether most of a container's text lives in links,
// the signature of a navigation sidebar that escaped the class filters.
func isLinkDense(s *goquery.Selection) bool {
	links := s.Find("a")
	if links.Length() < linkDensityMinLinks {
		return false
	}
	total := len(strings.Join(strings.Fields(s.Text()), " "))
	if total == 0 {
		return false
	}
	linkChars := 0
	links.Each(func(_ int, a *goquery.Selection) {
		linkChars += len(strings.Join(strings.Fields(a.Text()), " "))
	})
	return float64(linkChars)/float64(total) > linkDensityLimit
}

// Content container selectors probed before falling back to the densest div.
var mainSelectors = []string{
	"main",
	"article",
	`[role="main"]`,
	".main-content",
	".page-content",
	".post-content",
	".entry-content",
	".article-content",
	".docs-content",
	".documentation",
	".content",
}

// selectMain picks the content region: explicit landmarks first, then common
// content classes, then the densest <div> by readable characters, then body.
func selectMain(doc *goquery.Document) *goquery.Selection {
	for _, sel := range mainSelectors {
		if s := doc.Find(sel).First(); s.Length() > 0 {
			return s
		}
	}

	var densest *goquery.Selection
	densestLen := 0
	doc.Find("div").Each(func(_ int, s *goquery.Selection) {
		n := len(strings.Join(strings.Fields(s.Text()), " "))
		if n > densestLen {
			densest = s
			densestLen = n
		}
	})
	if densest != nil && densestLen > 0 {
		return densest
	}

	if body := doc.Find("body").First(); body.Length() > 0 {
		return body
	}
	return doc.Selection
}
